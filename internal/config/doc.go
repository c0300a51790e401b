// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and validates the petwell configuration.
//
// TOML is the primary format with JSON as a fallback.
//
// # Configuration Precedence
//
//   - Environment variables (PETWELL_*)
//   - ~/.petwell/config.toml
//   - ~/.petwell/config.json
//   - Built-in defaults
//
// PETWELL_HOME moves the configuration directory.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	lc := session.New(clock.Real(), store, client, cfg.Session.Settings())
package config

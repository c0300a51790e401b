// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline switches the client between online and offline operation.
//
// In offline mode every outbound call to a non-loopback host is refused, so
// the session can still run against a local development server while remote
// refresh, heartbeat, push and email are blocked. Offline mode does not end a
// session by itself: refresh failures caused by it follow the normal retry
// and forced-logout path.
//
// # Usage
//
//	offline.SetOfflineMode(cfg.API.Offline)
//
//	if err := offline.ValidateURL(baseURL); err != nil {
//		return err
//	}
package offline

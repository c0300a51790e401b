// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists health alerts in SQLite.
//
// AlertStore implements alerts.BackendStore. The engine writes every
// create, update, acknowledgement and resolution through SaveAlert and
// rebuilds its active set from LoadActive at startup.
//
// # Usage
//
//	store, err := storage.Open("~/.petwell/alerts.db")
//	if err != nil { ... }
//	defer store.Close()
//
//	engine := alerts.New(alerts.DefaultRegistry(), alerts.WithStore(store))
//	active, _ := store.LoadActive(ctx)
//	engine.Restore(active)
package storage

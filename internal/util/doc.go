// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds the small helpers shared by the petwell packages:
// crash-safe file writes for credential and lockout state, rune-aware
// truncation, and masking of identifiers and secrets before they reach a log.
package util

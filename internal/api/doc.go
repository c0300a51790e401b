// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the HTTP+JSON client for the Petwell backend.
//
// Client implements session.RemoteAuthService (login, refresh, heartbeat,
// logout) and the monitor's health data source (pet snapshots). Every call
// passes the offline gate and a circuit breaker; state-changing requests
// carry the CSRF token fetched from GET /auth/csrf.
//
// Status mapping:
//
//	401 -> ErrUnauthorized
//	429 -> ErrRateLimited
//	other non-2xx -> *APIError
package api

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package guard throttles login attempts.
//
// Lockout counts consecutive failed logins per identifier and locks the
// identifier for a fixed duration once the limit is reached. Its state is
// written as HMAC-signed JSON so a restart does not reset an active lockout.
// RateLimiter keeps one token bucket per identifier. Guard combines both and
// satisfies session.LoginGuard.
package guard

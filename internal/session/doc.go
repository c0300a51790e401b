// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session manages the authenticated session of a petwell client.
//
// A Lifecycle keeps the access token fresh, detects inactivity and enforces
// a hard session ceiling. Every timer runs on an injected clock.Clock, so
// tests drive it with clock.Manual instead of wall time.
//
// # States
//
//	Anonymous -> Active          login or resume with a valid token
//	Active -> WarningShown       inactivity or ceiling warning
//	WarningShown -> Active       Extend (or activity, for inactivity warnings)
//	any -> Expired               timeout, exhausted refresh, credential removed
//	Expired -> Anonymous         forced logout complete
//
// # Usage
//
//	lc := session.New(clock.Real(), store, apiClient, session.DefaultSettings())
//	defer lc.Close()
//	lc.Subscribe(func(t session.Transition) { ... })
//	if err := lc.Resume(ctx); errors.Is(err, session.ErrNoSession) {
//		err = lc.Login(ctx, user, pass)
//	}
//
// Processes sharing one token.Store share one session: removing the access
// token in one expires the session in all others.
package session

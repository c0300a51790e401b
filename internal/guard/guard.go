// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package guard

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/petwell/internal/logging"
	"github.com/jeranaias/petwell/internal/util"
)

// Guard checks a login against the lockout and the rate limiter.
type Guard struct {
	lockout *Lockout
	limiter *RateLimiter
	log     logrus.FieldLogger
}

// New combines a lockout and a limiter. Either may be nil.
func New(lockout *Lockout, limiter *RateLimiter, log logrus.FieldLogger) *Guard {
	if log == nil {
		log = logging.Std()
	}
	return &Guard{lockout: lockout, limiter: limiter, log: log}
}

func normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Check returns ErrLocked or ErrRateLimited when identifier may not attempt
// a login now.
func (g *Guard) Check(identifier string) error {
	id := normalize(identifier)
	if g.lockout != nil {
		if st := g.lockout.Status(id); st.Locked {
			return fmt.Errorf("%w: try again in %s", ErrLocked, st.Remaining.Round(time.Second))
		}
	}
	if g.limiter != nil && !g.limiter.Allow(id) {
		logging.Event(g.log, "AUTH_RATE_LIMITED").WithField("identifier", util.MaskIdentifier(id)).Warn("login rate limited")
		return ErrRateLimited
	}
	return nil
}

// RecordAttempt records the outcome of a login.
func (g *Guard) RecordAttempt(identifier string, success bool) {
	if g.lockout == nil {
		return
	}
	_ = g.lockout.RecordAttempt(normalize(identifier), success)
}

// Lockout returns the underlying lockout, or nil.
func (g *Guard) Lockout() *Lockout { return g.lockout }

// Status reports identifier's lockout state. The zero Status is returned
// when no lockout is configured.
func (g *Guard) Status(identifier string) Status {
	if g.lockout == nil {
		return Status{}
	}
	return g.lockout.Status(normalize(identifier))
}

// Unlock clears a lockout ahead of its expiry.
func (g *Guard) Unlock(identifier string) error {
	if g.lockout == nil {
		return ErrNotLocked
	}
	return g.lockout.Unlock(normalize(identifier))
}

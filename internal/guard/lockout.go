// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package guard

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/petwell/internal/clock"
	"github.com/jeranaias/petwell/internal/logging"
	"github.com/jeranaias/petwell/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultMaxAttempts is the number of consecutive failures before lockout.
	DefaultMaxAttempts = 5

	// DefaultLockoutDuration is how long a lockout lasts.
	DefaultLockoutDuration = 15 * time.Minute

	stateVersion = "1"
	sigSize      = sha256.Size
)

var (
	// ErrLocked is returned while an identifier is locked out.
	ErrLocked = errors.New("too many failed login attempts")

	// ErrNotLocked is returned by Unlock for an identifier that is not locked.
	ErrNotLocked = errors.New("identifier not locked")

	// ErrStateTampered is returned when the state file signature does not match.
	ErrStateTampered = errors.New("lockout state signature mismatch")
)

// =============================================================================
// ATTEMPT RECORD
// =============================================================================

// Record tracks consecutive failures for one identifier.
type Record struct {
	Count        int       `json:"count"`
	FirstFailure time.Time `json:"first_failure,omitempty"`
	LastAttempt  time.Time `json:"last_attempt"`
	LockedUntil  time.Time `json:"locked_until,omitempty"`
	LockoutCount int       `json:"lockout_count,omitempty"`
}

// Locked reports whether the record is locked at now.
func (r Record) Locked(now time.Time) bool {
	return !r.LockedUntil.IsZero() && now.Before(r.LockedUntil)
}

// Remaining returns how long the lockout still lasts at now.
func (r Record) Remaining(now time.Time) time.Duration {
	if !r.Locked(now) {
		return 0
	}
	return r.LockedUntil.Sub(now)
}

// Status is a snapshot of one identifier's lockout state.
type Status struct {
	Failures     int
	MaxAttempts  int
	Locked       bool
	LockedUntil  time.Time
	Remaining    time.Duration
	LockoutCount int
}

// =============================================================================
// LOCKOUT
// =============================================================================

// Lockout locks identifiers after repeated failed logins.
type Lockout struct {
	mu       sync.Mutex
	records  map[string]*Record
	max      int
	duration time.Duration
	path     string
	key      []byte
	clk      clock.Clock
	log      logrus.FieldLogger
}

// LockoutOption configures a Lockout.
type LockoutOption func(*Lockout)

// WithMaxAttempts sets the failure limit. Values below one are ignored.
func WithMaxAttempts(n int) LockoutOption {
	return func(l *Lockout) {
		if n > 0 {
			l.max = n
		}
	}
}

// WithLockoutDuration sets how long a lockout lasts.
func WithLockoutDuration(d time.Duration) LockoutOption {
	return func(l *Lockout) {
		if d > 0 {
			l.duration = d
		}
	}
}

// WithStatePath persists state to path. The signing key lives at path+".key".
func WithStatePath(path string) LockoutOption {
	return func(l *Lockout) { l.path = path }
}

// WithLockoutClock sets the time source.
func WithLockoutClock(c clock.Clock) LockoutOption {
	return func(l *Lockout) {
		if c != nil {
			l.clk = c
		}
	}
}

// WithLockoutLogger sets the logger.
func WithLockoutLogger(lg logrus.FieldLogger) LockoutOption {
	return func(l *Lockout) { l.log = lg }
}

// NewLockout creates a Lockout and loads any persisted state. A state file
// that fails its signature check is discarded and the error is returned
// alongside a usable, empty Lockout.
func NewLockout(opts ...LockoutOption) (*Lockout, error) {
	l := &Lockout{
		records:  make(map[string]*Record),
		max:      DefaultMaxAttempts,
		duration: DefaultLockoutDuration,
		clk:      clock.Real(),
		log:      logging.Std(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.path == "" {
		return l, nil
	}
	if err := l.initKey(); err != nil {
		return l, err
	}
	return l, l.load()
}

// RecordAttempt records a login attempt. Success clears the failure count; a
// failure increments it and locks the identifier at the limit. Attempts while
// locked return ErrLocked and are not counted.
func (l *Lockout) RecordAttempt(identifier string, success bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clk.Now()
	masked := util.MaskIdentifier(identifier)
	rec, ok := l.records[identifier]
	if !ok {
		rec = &Record{}
		l.records[identifier] = rec
	}

	if rec.Locked(now) {
		logging.Event(l.log, "AUTH_ATTEMPT_BLOCKED").WithFields(logrus.Fields{
			"identifier": masked,
			"remaining":  rec.Remaining(now).String(),
		}).Warn("login attempt while locked")
		return ErrLocked
	}
	if !rec.LockedUntil.IsZero() {
		// Lockout expired.
		rec.LockedUntil = time.Time{}
		rec.Count = 0
		rec.FirstFailure = time.Time{}
	}

	rec.LastAttempt = now
	if success {
		rec.Count = 0
		rec.FirstFailure = time.Time{}
		logging.Event(l.log, "AUTH_ATTEMPT").WithField("identifier", masked).WithField("success", true).Debug("login succeeded")
	} else {
		if rec.FirstFailure.IsZero() {
			rec.FirstFailure = now
		}
		rec.Count++
		logging.Event(l.log, "AUTH_ATTEMPT").WithFields(logrus.Fields{
			"identifier": masked,
			"success":    false,
			"attempts":   fmt.Sprintf("%d/%d", rec.Count, l.max),
		}).Info("login failed")

		if rec.Count >= l.max {
			rec.LockedUntil = now.Add(l.duration)
			rec.LockoutCount++
			logging.Event(l.log, "AUTH_LOCKOUT").WithFields(logrus.Fields{
				"identifier": masked,
				"until":      rec.LockedUntil.Format(time.RFC3339),
				"lockouts":   rec.LockoutCount,
			}).Warn("identifier locked out")
		}
	}

	l.saveLocked()
	return nil
}

// IsLocked reports whether identifier is locked now.
func (l *Lockout) IsLocked(identifier string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[identifier]
	return ok && rec.Locked(l.clk.Now())
}

// Unlock lifts an active lockout.
func (l *Lockout) Unlock(identifier string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[identifier]
	if !ok || !rec.Locked(l.clk.Now()) {
		return fmt.Errorf("%w: %s", ErrNotLocked, util.MaskIdentifier(identifier))
	}
	rec.LockedUntil = time.Time{}
	rec.Count = 0
	rec.FirstFailure = time.Time{}

	logging.Event(l.log, "AUTH_UNLOCK").WithField("identifier", util.MaskIdentifier(identifier)).Info("lockout lifted")
	l.saveLocked()
	return nil
}

// Reset forgets everything about identifier.
func (l *Lockout) Reset(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, identifier)
	logging.Event(l.log, "AUTH_RESET").WithField("identifier", util.MaskIdentifier(identifier)).Debug("lockout state reset")
	l.saveLocked()
}

// Status returns identifier's current state.
func (l *Lockout) Status(identifier string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clk.Now()
	st := Status{MaxAttempts: l.max}
	rec, ok := l.records[identifier]
	if !ok {
		return st
	}
	st.LockoutCount = rec.LockoutCount
	if rec.Locked(now) {
		st.Failures = rec.Count
		st.Locked = true
		st.LockedUntil = rec.LockedUntil
		st.Remaining = rec.Remaining(now)
	} else if rec.LockedUntil.IsZero() {
		st.Failures = rec.Count
	}
	return st
}

// Cleanup drops records with no failures and no active lockout and returns
// how many were removed.
func (l *Lockout) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clk.Now()
	n := 0
	for id, rec := range l.records {
		if rec.Locked(now) {
			continue
		}
		if rec.Count == 0 || !rec.LockedUntil.IsZero() {
			delete(l.records, id)
			n++
		}
	}
	if n > 0 {
		l.saveLocked()
	}
	return n
}

// =============================================================================
// PERSISTENCE
// =============================================================================

type persistentState struct {
	Records map[string]*Record `json:"records"`
	SavedAt time.Time          `json:"saved_at"`
	Version string             `json:"version"`
}

// initKey loads the signing key or creates one.
func (l *Lockout) initKey() error {
	keyPath := l.path + ".key"
	if data, err := os.ReadFile(keyPath); err == nil && len(data) == 32 {
		l.key = data
		return nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generate lockout key: %w", err)
	}
	l.key = key
	if err := util.AtomicWriteFile(keyPath, key, 0600); err != nil {
		return fmt.Errorf("save lockout key: %w", err)
	}
	return nil
}

func (l *Lockout) sign(data []byte) []byte {
	mac := hmac.New(sha256.New, l.key)
	mac.Write(data)
	return mac.Sum(nil)
}

func (l *Lockout) load() error {
	payload, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read lockout state: %w", err)
	}
	if len(payload) < sigSize {
		return l.discard("state file too short")
	}
	data, sig := payload[:len(payload)-sigSize], payload[len(payload)-sigSize:]
	if !hmac.Equal(sig, l.sign(data)) {
		return l.discard("signature mismatch")
	}

	var st persistentState
	if err := json.Unmarshal(data, &st); err != nil {
		return l.discard("invalid json")
	}
	if st.Records != nil {
		l.records = st.Records
	}
	logging.Event(l.log, "LOCKOUT_STATE_LOADED").WithField("records", len(l.records)).Debug("lockout state loaded")
	return nil
}

func (l *Lockout) discard(reason string) error {
	logging.Event(l.log, "LOCKOUT_STATE_TAMPERED").WithField("reason", reason).Warn("discarding lockout state")
	return fmt.Errorf("%w: %s", ErrStateTampered, reason)
}

// saveLocked writes state; failures are logged. Caller holds mu.
func (l *Lockout) saveLocked() {
	if l.path == "" {
		return
	}
	data, err := json.Marshal(persistentState{
		Records: l.records,
		SavedAt: l.clk.Now(),
		Version: stateVersion,
	})
	if err != nil {
		l.log.WithError(err).Warn("encode lockout state")
		return
	}
	payload := append(data, l.sign(data)...)
	if err := util.AtomicWriteFile(l.path, payload, 0600); err != nil {
		l.log.WithError(err).Warn("write lockout state")
	}
}

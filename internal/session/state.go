// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"time"
)

// State is the position of a session in its lifecycle.
type State int

const (
	// Anonymous means no credentials are held.
	Anonymous State = iota
	// Active means the session is authenticated and timers are armed.
	Active
	// WarningShown means a timeout is close and the user should extend.
	WarningShown
	// Expired means the session was terminated and is being logged out.
	Expired
)

// String returns a string representation of the State.
func (s State) String() string {
	switch s {
	case Anonymous:
		return "ANONYMOUS"
	case Active:
		return "ACTIVE"
	case WarningShown:
		return "WARNING"
	case Expired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// IsActive returns true if the state allows authenticated activity.
func (s State) IsActive() bool {
	return s == Active || s == WarningShown
}

// Reason explains a transition.
type Reason string

const (
	ReasonLogin             Reason = "login"
	ReasonResume            Reason = "resume"
	ReasonLogout            Reason = "logout"
	ReasonExtended          Reason = "extended"
	ReasonActivity          Reason = "activity"
	ReasonInactivityWarning Reason = "inactivity_warning"
	ReasonSessionWarning    Reason = "session_warning"
	ReasonInactivityTimeout Reason = "inactivity_timeout"
	ReasonSessionTimeout    Reason = "session_timeout"
	ReasonRefreshFailed     Reason = "refresh_failed"
	ReasonCredentialRemoved Reason = "credential_removed"
	ReasonLoggedOut         Reason = "logged_out"
)

// Transition is delivered to subscribers on every state change.
type Transition struct {
	From   State
	To     State
	Reason Reason
	At     time.Time
}

// Info is a point-in-time view of the session.
type Info struct {
	State                      State
	IsActive                   bool
	SessionStart               time.Time
	LastActivity               time.Time
	TimeUntilHardTimeout       time.Duration
	TimeUntilInactivityTimeout time.Duration
	TokenExpiresAt             time.Time
	RefreshAttempts            int
}

// Settings are the lifecycle timings.
type Settings struct {
	// RefreshThreshold is how long before token expiry a refresh fires.
	RefreshThreshold time.Duration

	// RefreshBaseDelay is multiplied by the attempt count between retries.
	RefreshBaseDelay time.Duration

	// MaxRefreshAttempts consecutive failures force the session to Expired.
	MaxRefreshAttempts int

	InactivityTimeout time.Duration
	MaxSession        time.Duration

	// WarningBefore is how long before either timeout the warning fires.
	WarningBefore time.Duration

	// RequestTimeout bounds heartbeat and best-effort logout calls.
	RequestTimeout time.Duration
}

// DefaultSettings returns the standard timings.
func DefaultSettings() Settings {
	return Settings{
		RefreshThreshold:   5 * time.Minute,
		RefreshBaseDelay:   5 * time.Second,
		MaxRefreshAttempts: 3,
		InactivityTimeout:  30 * time.Minute,
		MaxSession:         8 * time.Hour,
		WarningBefore:      2 * time.Minute,
		RequestTimeout:     10 * time.Second,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.RefreshThreshold <= 0 {
		s.RefreshThreshold = d.RefreshThreshold
	}
	if s.RefreshBaseDelay <= 0 {
		s.RefreshBaseDelay = d.RefreshBaseDelay
	}
	if s.MaxRefreshAttempts <= 0 {
		s.MaxRefreshAttempts = d.MaxRefreshAttempts
	}
	if s.InactivityTimeout <= 0 {
		s.InactivityTimeout = d.InactivityTimeout
	}
	if s.MaxSession <= 0 {
		s.MaxSession = d.MaxSession
	}
	if s.WarningBefore < 0 {
		s.WarningBefore = 0
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = d.RequestTimeout
	}
	return s
}

var (
	// ErrNoSession is returned when an operation needs an active session.
	ErrNoSession = errors.New("no active session")

	// ErrNoRefreshToken is returned when a refresh is needed but only an
	// access token is stored.
	ErrNoRefreshToken = errors.New("no refresh token stored")

	// ErrInvalidCredentials is wrapped by RemoteAuthService implementations
	// when the server rejects a username/password pair. Only these failures
	// count toward login lockout.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

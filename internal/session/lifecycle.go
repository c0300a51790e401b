// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/petwell/internal/clock"
	"github.com/jeranaias/petwell/internal/logging"
	"github.com/jeranaias/petwell/internal/token"
	"github.com/jeranaias/petwell/internal/util"
)

// RemoteAuthService issues, refreshes and revokes tokens.
type RemoteAuthService interface {
	Login(ctx context.Context, username, password string) (token.Credentials, *token.User, error)
	Refresh(ctx context.Context, refreshToken string) (token.Credentials, error)
	Heartbeat(ctx context.Context, accessToken string) error
	Logout(ctx context.Context, accessToken string) error
}

// LoginGuard throttles login attempts per identifier.
type LoginGuard interface {
	Check(identifier string) error
	RecordAttempt(identifier string, success bool)
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithLogger sets the logger for session events.
func WithLogger(l logrus.FieldLogger) Option {
	return func(lc *Lifecycle) { lc.log = l }
}

// WithGuard enables lockout and rate limiting in Login.
func WithGuard(g LoginGuard) Option {
	return func(lc *Lifecycle) { lc.guard = g }
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Lifecycle keeps an authentication token fresh, watches for inactivity and
// enforces a hard session ceiling. All timers run on the injected clock.
type Lifecycle struct {
	clk      clock.Clock
	store    token.Store
	remote   RemoteAuthService
	guard    LoginGuard
	settings Settings
	log      logrus.FieldLogger

	mu sync.Mutex

	state State
	// epoch changes on every login, logout and expiry. Timer callbacks and
	// refresh results carry the epoch they were started under and are
	// dropped when it no longer matches.
	epoch uint64

	access       token.Token
	user         *token.User
	sessionStart time.Time
	lastActivity time.Time

	// warningCause is the timeout that put the session in WarningShown.
	warningCause Reason

	refreshAttempts int
	refreshing      bool

	refreshTimer clock.Timer
	hardTimer    clock.Timer
	idleTimer    clock.Timer

	subMu   sync.Mutex
	subNext int
	subs    map[int]func(Transition)

	// storeMu orders this lifecycle's own writes against its own clears.
	storeMu sync.Mutex

	unsubscribeStore func()
}

// New creates a lifecycle in the Anonymous state. Call Resume to pick up a
// stored session or Login to start a new one.
func New(clk clock.Clock, store token.Store, remote RemoteAuthService, settings Settings, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		clk:      clk,
		store:    store,
		remote:   remote,
		settings: settings.withDefaults(),
		log:      logging.Std(),
		subs:     make(map[int]func(Transition)),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.unsubscribeStore = store.Subscribe(l.handleStoreChange)
	return l
}

// Subscribe registers fn for state transitions and returns a function that
// removes it. fn is called without internal locks held.
func (l *Lifecycle) Subscribe(fn func(Transition)) func() {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	id := l.subNext
	l.subNext++
	l.subs[id] = fn
	return func() {
		l.subMu.Lock()
		defer l.subMu.Unlock()
		delete(l.subs, id)
	}
}

// Close cancels timers and detaches from the token store. It does not log
// out; stored credentials survive for the next Resume.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	l.epoch++
	l.stopTimersLocked()
	l.mu.Unlock()
	if l.unsubscribeStore != nil {
		l.unsubscribeStore()
	}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// User returns the signed-in user, if known.
func (l *Lifecycle) User() *token.User {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.user
}

// AccessToken returns the access token while the session is active and the
// token unexpired, otherwise "".
func (l *Lifecycle) AccessToken() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.state.IsActive() || !l.access.Valid(l.clk.Now()) {
		return ""
	}
	return l.access.Raw
}

// Info returns a snapshot of the session timings.
func (l *Lifecycle) Info() Info {
	l.mu.Lock()
	defer l.mu.Unlock()

	info := Info{
		State:           l.state,
		IsActive:        l.state.IsActive(),
		SessionStart:    l.sessionStart,
		LastActivity:    l.lastActivity,
		TokenExpiresAt:  l.access.ExpiresAt,
		RefreshAttempts: l.refreshAttempts,
	}
	if info.IsActive {
		now := l.clk.Now()
		info.TimeUntilHardTimeout = nonNegative(l.sessionStart.Add(l.settings.MaxSession).Sub(now))
		info.TimeUntilInactivityTimeout = nonNegative(l.lastActivity.Add(l.settings.InactivityTimeout).Sub(now))
	}
	return info
}

// =============================================================================
// LOGIN / RESUME / LOGOUT
// =============================================================================

// Login authenticates against the remote service, persists the credentials
// and starts the session.
func (l *Lifecycle) Login(ctx context.Context, username, password string) error {
	if l.guard != nil {
		if err := l.guard.Check(username); err != nil {
			return err
		}
	}

	creds, user, err := l.remote.Login(ctx, username, password)
	if l.guard != nil {
		switch {
		case err == nil:
			l.guard.RecordAttempt(username, true)
		case errors.Is(err, ErrInvalidCredentials):
			l.guard.RecordAttempt(username, false)
		}
	}
	if err != nil {
		logging.Event(l.log, "SESSION_LOGIN_FAILED").
			WithField("user", util.MaskIdentifier(username)).
			WithError(err).Warn("login failed")
		return fmt.Errorf("login failed: %w", err)
	}

	tok, err := creds.Access()
	if err != nil {
		return fmt.Errorf("server returned unusable access token: %w", err)
	}

	l.storeMu.Lock()
	err = token.SaveCredentials(ctx, l.store, creds, user)
	l.storeMu.Unlock()
	if err != nil {
		return err
	}

	l.begin(tok, user, ReasonLogin)
	return nil
}

// OnLogin starts the session from the credentials already in the store.
func (l *Lifecycle) OnLogin(ctx context.Context) error {
	creds, err := token.LoadCredentials(ctx, l.store)
	if err != nil {
		return err
	}
	tok, err := creds.Access()
	if err != nil {
		return fmt.Errorf("stored access token unusable: %w", err)
	}
	user, err := token.LoadUser(ctx, l.store)
	if err != nil {
		return err
	}
	l.begin(tok, user, ReasonLogin)
	return nil
}

// Resume restores a session from the store. A valid access token resumes
// directly; an expired one is refreshed first when a refresh token exists.
// Returns ErrNoSession when nothing usable is stored.
func (l *Lifecycle) Resume(ctx context.Context) error {
	creds, err := token.LoadCredentials(ctx, l.store)
	if err != nil {
		return err
	}
	if creds.AccessToken == "" && creds.RefreshToken == "" {
		return ErrNoSession
	}
	user, err := token.LoadUser(ctx, l.store)
	if err != nil {
		return err
	}

	if tok, err := creds.Access(); err == nil && tok.Valid(l.clk.Now()) {
		l.begin(tok, user, ReasonResume)
		return nil
	}

	if creds.RefreshToken == "" {
		return ErrNoSession
	}
	fresh, err := l.remote.Refresh(ctx, creds.RefreshToken)
	if err != nil {
		return fmt.Errorf("%w: refresh on resume failed: %v", ErrNoSession, err)
	}
	tok, err := fresh.Access()
	if err != nil {
		return fmt.Errorf("server returned unusable access token: %w", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = creds.RefreshToken
	}

	l.storeMu.Lock()
	err = token.SaveCredentials(ctx, l.store, fresh, nil)
	l.storeMu.Unlock()
	if err != nil {
		return err
	}

	l.begin(tok, user, ReasonResume)
	return nil
}

func (l *Lifecycle) begin(tok token.Token, user *token.User, reason Reason) {
	l.mu.Lock()
	from := l.state
	now := l.clk.Now()

	l.epoch++
	l.stopTimersLocked()
	l.state = Active
	l.access = tok
	l.user = user
	l.sessionStart = now
	l.lastActivity = now
	l.warningCause = ""
	l.refreshAttempts = 0
	l.refreshing = false

	l.armHardLocked(l.epoch)
	l.armIdleLocked(l.epoch)
	l.armRefreshLocked(l.epoch, tok.ExpiresAt.Add(-l.settings.RefreshThreshold).Sub(now))
	l.mu.Unlock()

	logging.Event(l.log, "SESSION_STARTED").WithFields(logrus.Fields{
		"reason":     reason,
		"expires_at": tok.ExpiresAt,
	}).Info("session started")

	if from != Active {
		l.emit(Transition{From: from, To: Active, Reason: reason, At: now})
	}
}

// OnLogout cancels every pending timer and returns to Anonymous without any
// I/O. Idempotent.
func (l *Lifecycle) OnLogout() {
	l.mu.Lock()
	from := l.state
	l.epoch++
	l.stopTimersLocked()
	l.state = Anonymous
	l.access = token.Token{}
	l.user = nil
	l.warningCause = ""
	l.refreshing = false
	now := l.clk.Now()
	l.mu.Unlock()

	if from != Anonymous {
		l.emit(Transition{From: from, To: Anonymous, Reason: ReasonLogout, At: now})
	}
}

// Logout revokes the token remotely (best effort), clears the store and
// returns to Anonymous.
func (l *Lifecycle) Logout(ctx context.Context) error {
	l.mu.Lock()
	var raw string
	if l.access.Valid(l.clk.Now()) {
		raw = l.access.Raw
	}
	l.mu.Unlock()

	l.OnLogout()

	l.storeMu.Lock()
	err := l.store.Clear(ctx)
	l.storeMu.Unlock()

	if raw != "" {
		if rerr := l.remote.Logout(ctx, raw); rerr != nil {
			logging.Event(l.log, "SESSION_REMOTE_LOGOUT_FAILED").WithError(rerr).Warn("remote logout failed")
		}
	}
	logging.Event(l.log, "SESSION_LOGOUT").Info("logged out")

	if err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

// =============================================================================
// ACTIVITY / EXTEND
// =============================================================================

// RecordActivity notes user input. It performs no I/O and only touches
// timers when it clears an inactivity warning.
func (l *Lifecycle) RecordActivity() {
	l.mu.Lock()
	if !l.state.IsActive() {
		l.mu.Unlock()
		return
	}
	now := l.clk.Now()
	l.lastActivity = now

	cleared := l.state == WarningShown && l.warningCause == ReasonInactivityWarning
	if cleared {
		l.state = Active
		l.warningCause = ""
		stopTimer(&l.idleTimer)
		l.armIdleLocked(l.epoch)
	}
	l.mu.Unlock()

	if cleared {
		l.emit(Transition{From: WarningShown, To: Active, Reason: ReasonActivity, At: now})
	}
}

// Extend restarts both session timeouts from now, clears any warning and
// sends a heartbeat. Heartbeat failures are logged, never fatal.
func (l *Lifecycle) Extend(ctx context.Context) error {
	l.mu.Lock()
	if !l.state.IsActive() {
		l.mu.Unlock()
		return ErrNoSession
	}
	from := l.state
	now := l.clk.Now()
	l.sessionStart = now
	l.lastActivity = now
	l.state = Active
	l.warningCause = ""
	stopTimer(&l.hardTimer)
	stopTimer(&l.idleTimer)
	l.armHardLocked(l.epoch)
	l.armIdleLocked(l.epoch)
	valid := l.access.Valid(now)
	raw := l.access.Raw
	l.mu.Unlock()

	if from != Active {
		l.emit(Transition{From: from, To: Active, Reason: ReasonExtended, At: now})
	}

	if !valid {
		logging.Event(l.log, "SESSION_HEARTBEAT_SKIPPED").Debug("access token expired, heartbeat not sent")
		return nil
	}
	hctx, cancel := context.WithTimeout(ctx, l.settings.RequestTimeout)
	defer cancel()
	if err := l.remote.Heartbeat(hctx, raw); err != nil {
		logging.Event(l.log, "SESSION_HEARTBEAT_FAILED").WithError(err).Warn("heartbeat failed")
	}
	return nil
}

// =============================================================================
// REFRESH
// =============================================================================

// ScheduleRefresh arms the refresh timer for expiry minus the refresh
// threshold. A fire time already in the past is scheduled with zero delay.
func (l *Lifecycle) ScheduleRefresh() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.state.IsActive() {
		return
	}
	stopTimer(&l.refreshTimer)
	l.armRefreshLocked(l.epoch, l.access.ExpiresAt.Add(-l.settings.RefreshThreshold).Sub(l.clk.Now()))
}

// RefreshIfNeeded refreshes the access token when it is within the refresh
// threshold of expiry. Only one refresh runs at a time; concurrent callers
// return immediately. Failures are retried with linear backoff until
// MaxRefreshAttempts, after which the session is forced to Expired.
func (l *Lifecycle) RefreshIfNeeded(ctx context.Context) error {
	l.mu.Lock()
	if !l.state.IsActive() {
		l.mu.Unlock()
		return ErrNoSession
	}
	if l.refreshing {
		l.mu.Unlock()
		return nil
	}
	now := l.clk.Now()
	if l.access.Remaining(now) > l.settings.RefreshThreshold {
		// Not due yet, typically because another process refreshed while a
		// retry was pending. Schedule from the current token.
		l.refreshAttempts = 0
		stopTimer(&l.refreshTimer)
		l.armRefreshLocked(l.epoch, l.access.ExpiresAt.Add(-l.settings.RefreshThreshold).Sub(now))
		l.mu.Unlock()
		return nil
	}
	l.refreshing = true
	epoch := l.epoch
	startExpiry := l.access.ExpiresAt
	l.mu.Unlock()

	creds, tok, err := l.fetchRefresh(ctx)

	if err == nil {
		// Hold storeMu across the epoch check and the write so a concurrent
		// logout either clears after this write or makes it stale.
		l.storeMu.Lock()
		l.mu.Lock()
		stale := l.epoch != epoch
		l.mu.Unlock()
		if !stale {
			err = token.SaveCredentials(ctx, l.store, creds, nil)
		}
		l.storeMu.Unlock()
		if stale {
			logging.Event(l.log, "SESSION_REFRESH_DISCARDED").Debug("refresh completed after session ended")
			return ErrNoSession
		}
	}

	l.mu.Lock()
	if l.epoch != epoch {
		l.mu.Unlock()
		return ErrNoSession
	}
	l.refreshing = false

	if err == nil {
		l.refreshAttempts = 0
		l.access = tok
		stopTimer(&l.refreshTimer)
		l.armRefreshLocked(epoch, tok.ExpiresAt.Add(-l.settings.RefreshThreshold).Sub(l.clk.Now()))
		l.mu.Unlock()
		logging.Event(l.log, "SESSION_REFRESHED").WithField("expires_at", tok.ExpiresAt).Info("access token refreshed")
		return nil
	}

	if l.access.ExpiresAt.After(startExpiry) {
		// A token adopted from another process while this call was in
		// flight supersedes the failure.
		l.refreshAttempts = 0
		stopTimer(&l.refreshTimer)
		l.armRefreshLocked(epoch, l.access.ExpiresAt.Add(-l.settings.RefreshThreshold).Sub(l.clk.Now()))
		l.mu.Unlock()
		logging.Event(l.log, "SESSION_REFRESH_SUPERSEDED").WithError(err).Debug("refresh failed after a newer token was adopted")
		return nil
	}

	l.refreshAttempts++
	attempts := l.refreshAttempts
	exhausted := attempts >= l.settings.MaxRefreshAttempts
	if !exhausted {
		stopTimer(&l.refreshTimer)
		l.armRefreshLocked(epoch, l.settings.RefreshBaseDelay*time.Duration(attempts))
	}
	l.mu.Unlock()

	logging.Event(l.log, "SESSION_REFRESH_FAILED").WithFields(logrus.Fields{
		"attempt":      attempts,
		"max_attempts": l.settings.MaxRefreshAttempts,
	}).WithError(err).Warn("token refresh failed")

	if exhausted {
		l.expire(epoch, ReasonRefreshFailed)
	}
	return fmt.Errorf("refresh attempt %d failed: %w", attempts, err)
}

func (l *Lifecycle) fetchRefresh(ctx context.Context) (token.Credentials, token.Token, error) {
	refresh, err := l.store.Get(ctx, token.KeyRefresh)
	if err != nil {
		return token.Credentials{}, token.Token{}, err
	}
	if refresh == "" {
		return token.Credentials{}, token.Token{}, ErrNoRefreshToken
	}
	creds, err := l.remote.Refresh(ctx, refresh)
	if err != nil {
		return token.Credentials{}, token.Token{}, err
	}
	tok, err := creds.Access()
	if err != nil {
		return token.Credentials{}, token.Token{}, err
	}
	if creds.RefreshToken == "" {
		creds.RefreshToken = refresh
	}
	return creds, tok, nil
}

// =============================================================================
// TIMERS
// =============================================================================

func (l *Lifecycle) armRefreshLocked(epoch uint64, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	l.refreshTimer = l.clk.AfterFunc(delay, func() {
		l.mu.Lock()
		current := l.epoch == epoch
		l.mu.Unlock()
		if current {
			l.RefreshIfNeeded(context.Background())
		}
	})
}

// armHardLocked schedules the next hard-ceiling check: the warning instant
// if it is still ahead, otherwise the ceiling itself.
func (l *Lifecycle) armHardLocked(epoch uint64) {
	next := l.nextCheck(l.sessionStart.Add(l.settings.MaxSession))
	l.hardTimer = l.clk.AfterFunc(next, func() { l.checkHard(epoch) })
}

func (l *Lifecycle) armIdleLocked(epoch uint64) {
	next := l.nextCheck(l.lastActivity.Add(l.settings.InactivityTimeout))
	l.idleTimer = l.clk.AfterFunc(next, func() { l.checkIdle(epoch) })
}

func (l *Lifecycle) nextCheck(deadline time.Time) time.Duration {
	now := l.clk.Now()
	if warn := deadline.Add(-l.settings.WarningBefore); warn.After(now) {
		return warn.Sub(now)
	}
	return nonNegative(deadline.Sub(now))
}

func (l *Lifecycle) checkHard(epoch uint64) {
	l.mu.Lock()
	if l.epoch != epoch || !l.state.IsActive() {
		l.mu.Unlock()
		return
	}
	now := l.clk.Now()
	elapsed := now.Sub(l.sessionStart)

	if elapsed >= l.settings.MaxSession {
		l.mu.Unlock()
		l.expire(epoch, ReasonSessionTimeout)
		return
	}

	var tr *Transition
	if elapsed >= l.settings.MaxSession-l.settings.WarningBefore {
		if l.state == Active {
			tr = &Transition{From: Active, To: WarningShown, Reason: ReasonSessionWarning, At: now}
			l.state = WarningShown
		}
		// Only Extend clears a hard-ceiling warning.
		l.warningCause = ReasonSessionWarning
	}
	l.armHardLocked(epoch)
	l.mu.Unlock()

	if tr != nil {
		logging.Event(l.log, "SESSION_WARNING").
			WithField("remaining", l.settings.MaxSession-elapsed).Info("session ceiling approaching")
		l.emit(*tr)
	}
}

func (l *Lifecycle) checkIdle(epoch uint64) {
	l.mu.Lock()
	if l.epoch != epoch || !l.state.IsActive() {
		l.mu.Unlock()
		return
	}
	now := l.clk.Now()
	idle := now.Sub(l.lastActivity)

	if idle >= l.settings.InactivityTimeout {
		l.mu.Unlock()
		l.expire(epoch, ReasonInactivityTimeout)
		return
	}

	var tr *Transition
	if idle >= l.settings.InactivityTimeout-l.settings.WarningBefore && l.state == Active {
		tr = &Transition{From: Active, To: WarningShown, Reason: ReasonInactivityWarning, At: now}
		l.state = WarningShown
		l.warningCause = ReasonInactivityWarning
	}
	l.armIdleLocked(epoch)
	l.mu.Unlock()

	if tr != nil {
		logging.Event(l.log, "SESSION_WARNING").
			WithField("idle", idle).Info("inactivity timeout approaching")
		l.emit(*tr)
	}
}

func (l *Lifecycle) stopTimersLocked() {
	stopTimer(&l.refreshTimer)
	stopTimer(&l.hardTimer)
	stopTimer(&l.idleTimer)
}

func stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// =============================================================================
// FORCED LOGOUT
// =============================================================================

// expire forces the session started under epoch to Expired and then logs
// out. It runs at most once per session: the epoch advances on entry, so a
// second caller for the same session finds a mismatch.
func (l *Lifecycle) expire(epoch uint64, reason Reason) {
	l.mu.Lock()
	if l.epoch != epoch || !l.state.IsActive() {
		l.mu.Unlock()
		return
	}
	from := l.state
	l.epoch++
	expiredEpoch := l.epoch
	l.stopTimersLocked()
	l.state = Expired
	l.refreshing = false
	now := l.clk.Now()
	var raw string
	if l.access.Valid(now) {
		raw = l.access.Raw
	}
	l.access = token.Token{}
	l.mu.Unlock()

	logging.Event(l.log, "SESSION_EXPIRED").WithField("reason", reason).Warn("session expired")
	l.emit(Transition{From: from, To: Expired, Reason: reason, At: now})

	// Another process already removed the credential; it owns the cleanup.
	if reason != ReasonCredentialRemoved {
		ctx, cancel := context.WithTimeout(context.Background(), l.settings.RequestTimeout)
		l.storeMu.Lock()
		if err := l.store.Clear(ctx); err != nil {
			logging.Event(l.log, "SESSION_CLEAR_FAILED").WithError(err).Error("could not clear credentials")
		}
		l.storeMu.Unlock()
		if raw != "" {
			if err := l.remote.Logout(ctx, raw); err != nil {
				logging.Event(l.log, "SESSION_REMOTE_LOGOUT_FAILED").WithError(err).Debug("remote logout failed")
			}
		}
		cancel()
	}

	l.mu.Lock()
	done := l.epoch == expiredEpoch && l.state == Expired
	if done {
		l.state = Anonymous
		l.user = nil
	}
	now = l.clk.Now()
	l.mu.Unlock()

	if done {
		l.emit(Transition{From: Expired, To: Anonymous, Reason: ReasonLoggedOut, At: now})
	}
}

// =============================================================================
// CROSS-PROCESS
// =============================================================================

// handleStoreChange reacts to writes made by other holders of the same
// credential store.
func (l *Lifecycle) handleStoreChange(c token.Change) {
	if c.Key != token.KeyAccess {
		return
	}

	l.mu.Lock()
	if !l.state.IsActive() {
		l.mu.Unlock()
		return
	}
	epoch := l.epoch

	if c.Removed {
		l.mu.Unlock()
		l.expire(epoch, ReasonCredentialRemoved)
		return
	}

	// Another process refreshed; adopt its token instead of refreshing again.
	tok, err := token.Parse(c.Value)
	if err == nil && tok.ExpiresAt.After(l.access.ExpiresAt) {
		l.access = tok
		l.refreshAttempts = 0
		stopTimer(&l.refreshTimer)
		l.armRefreshLocked(epoch, tok.ExpiresAt.Add(-l.settings.RefreshThreshold).Sub(l.clk.Now()))
	}
	l.mu.Unlock()
}

func (l *Lifecycle) emit(t Transition) {
	l.subMu.Lock()
	fns := make([]func(Transition), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.subMu.Unlock()

	for _, fn := range fns {
		fn(t)
	}
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package alerts evaluates health-alert rules against pet snapshots and
// keeps a deduplicated set of active alerts: at most one per (pet, rule).
package alerts

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/petwell/internal/clock"
	"github.com/jeranaias/petwell/internal/health"
	"github.com/jeranaias/petwell/internal/logging"
)

// DefaultHistoryLimit bounds the resolved-alert history.
const DefaultHistoryLimit = 100

// NotificationType is the Type of every notification the engine sends.
const NotificationType = "health_alert"

type alertKey struct {
	petID  string
	ruleID string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for alert timestamps and trailing windows.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clk = c }
}

// WithSink sets where notifications for new alerts go.
func WithSink(s NotificationSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithStore sets the optional alert persistence.
func WithStore(s BackendStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

// WithHistoryLimit bounds the history list.
func WithHistoryLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historyLimit = n
		}
	}
}

// WithSpeciesTable sets the species range table.
func WithSpeciesTable(t *health.SpeciesTable) Option {
	return func(e *Engine) { e.species = t }
}

// WithNotificationSettings sets the initial channel/severity settings.
func WithNotificationSettings(s NotificationSettings) Option {
	return func(e *Engine) { e.settings = s.clone() }
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine turns snapshots into a stable set of active alerts.
type Engine struct {
	registry *Registry
	clk      clock.Clock
	species  *health.SpeciesTable
	sink     NotificationSink
	store    BackendStore
	log      logrus.FieldLogger

	mu           sync.Mutex
	active       map[alertKey]*Alert
	byID         map[string]*Alert
	history      []Alert
	historyLimit int
	settings     NotificationSettings

	subMu   sync.Mutex
	subNext int
	subs    map[int]func(Event)
}

// New creates an engine over registry.
func New(registry *Registry, opts ...Option) *Engine {
	e := &Engine{
		registry:     registry,
		clk:          clock.Real(),
		log:          logging.Std(),
		active:       make(map[alertKey]*Alert),
		byID:         make(map[string]*Alert),
		historyLimit: DefaultHistoryLimit,
		settings:     DefaultNotificationSettings(),
		subs:         make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.species == nil {
		e.species, _ = health.NewSpeciesTable("dog")
	}
	return e
}

// Registry returns the engine's rule registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Subscribe registers fn for alert events and returns a function that
// removes it.
func (e *Engine) Subscribe(fn func(Event)) func() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.subNext
	e.subNext++
	e.subs[id] = fn
	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		delete(e.subs, id)
	}
}

// NotificationSettings returns a copy of the current settings.
func (e *Engine) NotificationSettings() NotificationSettings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings.clone()
}

// SetNotificationSettings replaces the settings used for future alerts.
func (e *Engine) SetNotificationSettings(s NotificationSettings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = s.clone()
}

// =============================================================================
// EVALUATE
// =============================================================================

type ruleResult struct {
	rule Rule
	hit  bool
	data map[string]any
	msg  string
	err  error
}

// outbox collects side effects to run after the engine lock is released.
type outbox struct {
	events        []Event
	notifications []Notification
	persist       []Alert
}

// Evaluate runs every enabled rule against the snapshot in registration
// order and reconciles the active set. It returns only the alerts created by
// this call. A rule that errors or panics is logged and skipped; alerts it
// already owns are left untouched.
func (e *Engine) Evaluate(ctx context.Context, pet health.Pet, snap health.Snapshot) ([]Alert, error) {
	if pet.ID == "" {
		return nil, errors.New("pet id is required")
	}

	now := e.clk.Now()
	in := Input{Pet: pet, Snapshot: snap, Ref: snap.Reference(now)}
	in.Profile, in.HasProfile = e.species.Lookup(pet.Species)

	rules := e.registry.Enabled()
	results := make([]ruleResult, 0, len(rules))
	for _, rule := range rules {
		r := e.runRule(rule, in)
		if r.err != nil {
			logging.Event(e.log, "ALERT_RULE_FAILED").WithFields(logrus.Fields{
				"rule": rule.ID,
				"pet":  pet.ID,
			}).WithError(r.err).Warn("rule evaluation failed")
		}
		results = append(results, r)
	}

	var out outbox
	var created []Alert

	e.mu.Lock()
	settings := e.settings
	for _, r := range results {
		if r.err != nil {
			continue
		}
		key := alertKey{petID: pet.ID, ruleID: r.rule.ID}
		existing := e.active[key]

		switch {
		case r.hit && existing == nil:
			a := &Alert{
				ID:              uuid.New().String(),
				PetID:           pet.ID,
				PetName:         pet.DisplayName(),
				RuleID:          r.rule.ID,
				RuleName:        r.rule.Name,
				Category:        r.rule.Category,
				Severity:        r.rule.Severity,
				Message:         r.msg,
				Recommendations: append([]string(nil), r.rule.Recommendations...),
				Data:            r.data,
				CreatedAt:       now,
				UpdatedAt:       now,
				Status:          StatusActive,
			}
			e.active[key] = a
			e.byID[a.ID] = a

			snapshot := a.clone()
			created = append(created, snapshot)
			out.events = append(out.events, Event{Kind: EventCreated, Alert: snapshot})
			out.persist = append(out.persist, snapshot)
			if settings.ShouldNotify(a.Severity) {
				out.notifications = append(out.notifications, e.notification(a, settings, now))
			}

		case r.hit && existing != nil:
			if existing.Data == nil {
				existing.Data = make(map[string]any, len(r.data))
			}
			for k, v := range r.data {
				existing.Data[k] = v
			}
			existing.Message = r.msg
			existing.UpdatedAt = now

			snapshot := existing.clone()
			out.events = append(out.events, Event{Kind: EventUpdated, Alert: snapshot})
			out.persist = append(out.persist, snapshot)

		case !r.hit && existing != nil:
			resolved := e.resolveLocked(existing, ReasonConditionResolved, now)
			out.events = append(out.events, Event{Kind: EventResolved, Alert: resolved})
			out.persist = append(out.persist, resolved)
		}
	}
	e.mu.Unlock()

	e.flush(ctx, out)

	if len(created) > 0 {
		logging.Event(e.log, "ALERT_EVALUATED").WithFields(logrus.Fields{
			"pet":     pet.ID,
			"created": len(created),
		}).Info("new health alerts")
	}
	return created, nil
}

// runRule evaluates one rule, converting a panic into an error.
func (e *Engine) runRule(rule Rule, in Input) (res ruleResult) {
	res.rule = rule
	defer func() {
		if p := recover(); p != nil {
			res = ruleResult{rule: rule, err: fmt.Errorf("panic: %v\n%s", p, debug.Stack())}
		}
	}()

	hit, err := rule.Condition(in)
	if err != nil {
		return ruleResult{rule: rule, err: err}
	}
	if !hit {
		return res
	}
	res.hit = true
	if rule.Extract != nil {
		res.data = rule.Extract(in)
	}
	if res.data == nil {
		res.data = make(map[string]any)
	}
	res.msg = rule.Message(in, res.data)
	return res
}

func (e *Engine) notification(a *Alert, s NotificationSettings, now time.Time) Notification {
	return Notification{
		Type:     NotificationType,
		Title:    fmt.Sprintf("%s: %s", a.PetName, a.RuleName),
		Message:  a.Message,
		Severity: a.Severity,
		Actions: []Action{
			{ID: "view", Label: "View details"},
			{ID: "acknowledge", Label: "Acknowledge"},
		},
		AlertID:  a.ID,
		PetID:    a.PetID,
		Channels: s.EnabledChannels(),
		At:       now,
	}
}

// resolveLocked moves an active alert to history and returns its final copy.
func (e *Engine) resolveLocked(a *Alert, reason ResolutionReason, now time.Time) Alert {
	delete(e.active, alertKey{petID: a.PetID, ruleID: a.RuleID})
	delete(e.byID, a.ID)

	a.Status = StatusResolved
	a.ResolvedAt = &now
	a.ResolutionReason = reason
	a.UpdatedAt = now

	final := a.clone()
	e.appendHistoryLocked(final)
	return final
}

func (e *Engine) appendHistoryLocked(a Alert) {
	e.history = append(e.history, a)
	if over := len(e.history) - e.historyLimit; over > 0 {
		e.history = append([]Alert(nil), e.history[over:]...)
	}
}

// flush runs side effects outside the lock. Every failure here is logged
// and swallowed.
func (e *Engine) flush(ctx context.Context, out outbox) {
	for _, ev := range out.events {
		e.emit(ev)
	}
	if e.sink != nil {
		for _, n := range out.notifications {
			if err := e.sink.Notify(ctx, n); err != nil {
				logging.Event(e.log, "ALERT_NOTIFY_FAILED").
					WithField("alert", n.AlertID).WithError(err).Warn("notification delivery failed")
			}
		}
	}
	if e.store != nil {
		for _, a := range out.persist {
			if err := e.store.SaveAlert(ctx, a); err != nil {
				logging.Event(e.log, "ALERT_PERSIST_FAILED").
					WithField("alert", a.ID).WithError(err).Warn("alert persistence failed")
			}
		}
	}
}

func (e *Engine) emit(ev Event) {
	e.subMu.Lock()
	fns := make([]func(Event), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// =============================================================================
// QUERIES AND ACTIONS
// =============================================================================

// ActiveAlerts returns every active alert: severity descending, then newest
// first, then by id.
func (e *Engine) ActiveAlerts() []Alert {
	return e.activeWhere(func(*Alert) bool { return true })
}

// ActiveAlertsForPet returns the active alerts of one pet, sorted like
// ActiveAlerts.
func (e *Engine) ActiveAlertsForPet(petID string) []Alert {
	return e.activeWhere(func(a *Alert) bool { return a.PetID == petID })
}

func (e *Engine) activeWhere(keep func(*Alert) bool) []Alert {
	e.mu.Lock()
	out := make([]Alert, 0, len(e.active))
	for _, a := range e.active {
		if keep(a) {
			out = append(out, a.clone())
		}
	}
	e.mu.Unlock()

	SortAlerts(out)
	return out
}

// SortAlerts orders alerts by severity descending, creation descending and
// id ascending.
func SortAlerts(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Alert returns the active alert with the given id.
func (e *Engine) Alert(id string) (Alert, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.byID[id]
	if !ok {
		return Alert{}, false
	}
	return a.clone(), true
}

// AcknowledgeAlert marks an active alert as seen. The alert stays active.
func (e *Engine) AcknowledgeAlert(ctx context.Context, id string) error {
	e.mu.Lock()
	a, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	now := e.clk.Now()
	a.Acknowledged = true
	a.AcknowledgedAt = &now
	a.UpdatedAt = now
	snapshot := a.clone()
	e.mu.Unlock()

	e.flush(ctx, outbox{
		events:  []Event{{Kind: EventAcknowledged, Alert: snapshot}},
		persist: []Alert{snapshot},
	})
	return nil
}

// ResolveAlert resolves an active alert regardless of its condition. An
// empty reason means ReasonManual. It returns false when the alert is not
// active, including when it was already resolved.
func (e *Engine) ResolveAlert(ctx context.Context, id string, reason ResolutionReason) bool {
	if reason == "" {
		reason = ReasonManual
	}

	e.mu.Lock()
	a, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	resolved := e.resolveLocked(a, reason, e.clk.Now())
	e.mu.Unlock()

	logging.Event(e.log, "ALERT_RESOLVED").WithFields(logrus.Fields{
		"alert":  id,
		"reason": reason,
	}).Info("alert resolved")

	e.flush(ctx, outbox{
		events:  []Event{{Kind: EventResolved, Alert: resolved}},
		persist: []Alert{resolved},
	})
	return true
}

// History returns resolved alerts, most recently resolved first.
func (e *Engine) History() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Alert, len(e.history))
	for i, a := range e.history {
		out[len(out)-1-i] = a.clone()
	}
	return out
}

// Summary counts active alerts.
type Summary struct {
	Total          int              `json:"total"`
	Unacknowledged int              `json:"unacknowledged"`
	BySeverity     map[Severity]int `json:"by_severity"`
	ByCategory     map[Category]int `json:"by_category"`
	Highest        Severity         `json:"highest,omitempty"`
}

// Summary returns counts over the active set.
func (e *Engine) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Summary{
		BySeverity: make(map[Severity]int),
		ByCategory: make(map[Category]int),
	}
	for _, a := range e.active {
		s.Total++
		if !a.Acknowledged {
			s.Unacknowledged++
		}
		s.BySeverity[a.Severity]++
		s.ByCategory[a.Category]++
		if a.Severity > s.Highest {
			s.Highest = a.Severity
		}
	}
	return s
}

// Restore rebuilds state from persisted alerts, typically at startup.
// Active alerts rejoin the active set, oldest first; a later duplicate for
// the same (pet, rule) is dropped so uniqueness holds. Resolved alerts go
// to history. It returns how many alerts became active.
func (e *Engine) Restore(alerts []Alert) int {
	sorted := append([]Alert(nil), alerts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	e.mu.Lock()
	defer e.mu.Unlock()

	restored := 0
	var resolved []Alert
	for i := range sorted {
		a := sorted[i].clone()
		if a.Status != StatusActive {
			resolved = append(resolved, a)
			continue
		}
		key := alertKey{petID: a.PetID, ruleID: a.RuleID}
		if _, exists := e.active[key]; exists {
			continue
		}
		if _, exists := e.byID[a.ID]; exists {
			continue
		}
		e.active[key] = &a
		e.byID[a.ID] = &a
		restored++
	}

	sort.SliceStable(resolved, func(i, j int) bool {
		return resolvedAt(resolved[i]).Before(resolvedAt(resolved[j]))
	})
	for _, a := range resolved {
		e.appendHistoryLocked(a)
	}
	return restored
}

func resolvedAt(a Alert) time.Time {
	if a.ResolvedAt != nil {
		return *a.ResolvedAt
	}
	return a.UpdatedAt
}

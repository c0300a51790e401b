// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrAlertNotFound is returned when no active alert has the given id.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrRuleNotFound is returned for an unknown rule id.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrDuplicateRule is returned when registering an id twice.
	ErrDuplicateRule = errors.New("rule already registered")
)

// =============================================================================
// ENUMS
// =============================================================================

// Category groups rules by the health data they consult.
type Category string

const (
	CategoryWeight     Category = "weight"
	CategoryVitals     Category = "vitals"
	CategoryMedication Category = "medication"
	CategoryActivity   Category = "activity"
	CategoryPreventive Category = "preventive"
)

// Severity is totally ordered: Low < Medium < High < Critical.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// Severities lists every severity in ascending order.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// String returns a string representation of the Severity.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity converts a name to a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	}
	return 0, fmt.Errorf("unknown severity %q", s)
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Status of an alert.
type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
)

// ResolutionReason records why an alert left the active set.
type ResolutionReason string

const (
	ReasonConditionResolved ResolutionReason = "condition_resolved"
	ReasonManual            ResolutionReason = "manual"
	ReasonOther             ResolutionReason = "other"
)

// =============================================================================
// ALERT
// =============================================================================

// Alert is one rule firing for one pet.
type Alert struct {
	ID              string         `json:"id"`
	PetID           string         `json:"pet_id"`
	PetName         string         `json:"pet_name"`
	RuleID          string         `json:"rule_id"`
	RuleName        string         `json:"rule_name"`
	Category        Category       `json:"category"`
	Severity        Severity       `json:"severity"`
	Message         string         `json:"message"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Status          Status         `json:"status"`

	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`

	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
	ResolutionReason ResolutionReason `json:"resolution_reason,omitempty"`
}

// clone returns a copy that shares nothing mutable with a.
func (a *Alert) clone() Alert {
	c := *a
	c.Recommendations = append([]string(nil), a.Recommendations...)
	if a.Data != nil {
		c.Data = make(map[string]any, len(a.Data))
		for k, v := range a.Data {
			c.Data[k] = v
		}
	}
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		c.AcknowledgedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	return c
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// EventKind names an alert lifecycle event.
type EventKind string

const (
	EventCreated      EventKind = "created"
	EventUpdated      EventKind = "updated"
	EventResolved     EventKind = "resolved"
	EventAcknowledged EventKind = "acknowledged"
)

// Event is delivered to subscribers after each change.
type Event struct {
	Kind  EventKind
	Alert Alert
}

// Action is a button offered with a notification.
type Action struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Notification is what the engine hands to a NotificationSink.
type Notification struct {
	Type     string    `json:"type"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
	Actions  []Action  `json:"actions,omitempty"`
	AlertID  string    `json:"alert_id"`
	PetID    string    `json:"pet_id"`
	Channels []Channel `json:"channels"`
	At       time.Time `json:"at"`
}

// NotificationSink delivers notifications. The engine does not retry.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}

// BackendStore persists alerts. Write failures are logged and ignored.
type BackendStore interface {
	SaveAlert(ctx context.Context, a Alert) error
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package alerts

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeranaias/petwell/internal/health"
)

// Input is what a rule sees: the pet, its snapshot and the species profile.
type Input struct {
	Pet      health.Pet
	Snapshot health.Snapshot

	// Profile is meaningful only when HasProfile is true. It is false for
	// an unrecognized species when no fallback species is configured.
	Profile    health.SpeciesProfile
	HasProfile bool

	// Ref is the instant trailing windows are measured back from.
	Ref time.Time
}

// Rule is a declarative alert definition.
type Rule struct {
	ID          string
	Name        string
	Description string
	Category    Category
	Severity    Severity

	// Condition must be pure.
	Condition func(in Input) (bool, error)

	// Extract builds the alert data payload. Optional.
	Extract func(in Input) map[string]any

	// Message renders the alert text from the pet and extracted data.
	Message func(in Input, data map[string]any) string

	Recommendations []string
	Enabled         bool
}

func (r Rule) validate() error {
	switch {
	case r.ID == "":
		return errors.New("rule id is required")
	case r.Condition == nil:
		return fmt.Errorf("rule %s: condition is required", r.ID)
	case r.Message == nil:
		return fmt.Errorf("rule %s: message is required", r.ID)
	case r.Severity < SeverityLow || r.Severity > SeverityCritical:
		return fmt.Errorf("rule %s: invalid severity %d", r.ID, r.Severity)
	}
	return nil
}

// Registry holds rules in registration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	rules map[string]Rule
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]Rule)}
}

// DefaultRegistry creates a registry holding the built-in rules.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, rule := range DefaultRules() {
		if err := r.Register(rule); err != nil {
			panic(err)
		}
	}
	return r
}

// Register appends a rule. Ids must be unique.
func (r *Registry) Register(rule Rule) error {
	if err := rule.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rules[rule.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.ID)
	}
	rule.Recommendations = append([]string(nil), rule.Recommendations...)
	r.rules[rule.ID] = rule
	r.order = append(r.order, rule.ID)
	return nil
}

// SetEnabled turns a rule on or off.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	rule.Enabled = enabled
	r.rules[id] = rule
	return nil
}

// Get returns the rule with the given id.
func (r *Registry) Get(id string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	return rule, ok
}

// Rules returns every rule in registration order.
func (r *Registry) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.rules[id])
	}
	return out
}

// Enabled returns the enabled rules in registration order.
func (r *Registry) Enabled() []Rule {
	all := r.Rules()
	out := all[:0]
	for _, rule := range all {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	return out
}

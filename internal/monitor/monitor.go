// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package monitor periodically pulls pet health snapshots and feeds them to
// the alert engine.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/petwell/internal/alerts"
	"github.com/jeranaias/petwell/internal/health"
	"github.com/jeranaias/petwell/internal/logging"
)

// DefaultInterval is the poll period.
const DefaultInterval = 15 * time.Minute

// ErrNoPets is returned by Run when there is nothing to watch.
var ErrNoPets = errors.New("no pets to monitor")

// ErrPetMismatch is reported when a snapshot belongs to a different pet than
// the one requested.
var ErrPetMismatch = errors.New("snapshot is for a different pet")

// HealthDataSource supplies snapshots.
type HealthDataSource interface {
	FetchSnapshot(ctx context.Context, petID string) (health.PetHealth, error)
}

// Evaluator is the part of the alert engine the monitor drives.
type Evaluator interface {
	Evaluate(ctx context.Context, pet health.Pet, snap health.Snapshot) ([]alerts.Alert, error)
}

// Result is the outcome of one pet in one poll.
type Result struct {
	PetID string
	// Created holds the alerts this poll raised.
	Created []alerts.Alert
	Err     error
}

// Monitor polls a fixed set of pets.
type Monitor struct {
	source   HealthDataSource
	engine   Evaluator
	pets     []string
	interval time.Duration
	table    *health.SpeciesTable
	onResult func(Result)
	log      logrus.FieldLogger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the poll period.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithSpeciesTable enables species plausibility checks during validation.
func WithSpeciesTable(t *health.SpeciesTable) Option {
	return func(m *Monitor) { m.table = t }
}

// WithResultHook is called after every pet evaluation.
func WithResultHook(fn func(Result)) Option {
	return func(m *Monitor) { m.onResult = fn }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Monitor) { m.log = l }
}

// New creates a monitor for petIDs.
func New(source HealthDataSource, engine Evaluator, petIDs []string, opts ...Option) *Monitor {
	m := &Monitor{
		source:   source,
		engine:   engine,
		pets:     append([]string(nil), petIDs...),
		interval: DefaultInterval,
		log:      logging.Std(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run polls immediately and then on every interval until ctx is done. A
// failing pet is logged and does not stop the loop.
func (m *Monitor) Run(ctx context.Context) error {
	if len(m.pets) == 0 {
		return ErrNoPets
	}
	m.log.WithFields(logrus.Fields{
		"pets":     len(m.pets),
		"interval": m.interval.String(),
	}).Info("health monitor started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.PollOnce(ctx)
		select {
		case <-ctx.Done():
			m.log.Info("health monitor stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce evaluates every pet once.
func (m *Monitor) PollOnce(ctx context.Context) []Result {
	results := make([]Result, 0, len(m.pets))
	for _, id := range m.pets {
		if ctx.Err() != nil {
			break
		}
		res := m.pollPet(ctx, id)
		if res.Err != nil {
			logging.Event(m.log, "MONITOR_PET_FAILED").WithField("pet_id", id).WithError(res.Err).Warn("health check failed")
		}
		if m.onResult != nil {
			m.onResult(res)
		}
		results = append(results, res)
	}
	return results
}

func (m *Monitor) pollPet(ctx context.Context, petID string) Result {
	res := Result{PetID: petID}

	ph, err := m.source.FetchSnapshot(ctx, petID)
	if err != nil {
		res.Err = fmt.Errorf("fetch snapshot: %w", err)
		return res
	}
	switch ph.Pet.ID {
	case "":
		ph.Pet.ID = petID
	case petID:
	default:
		res.Err = fmt.Errorf("%w: requested %s, got %s", ErrPetMismatch, petID, ph.Pet.ID)
		return res
	}
	if err := health.Validate(ph, m.table); err != nil {
		res.Err = fmt.Errorf("invalid snapshot: %w", err)
		return res
	}

	created, err := m.engine.Evaluate(ctx, ph.Pet, ph.Snapshot)
	if err != nil {
		res.Err = fmt.Errorf("evaluate: %w", err)
		return res
	}
	res.Created = created
	return res
}

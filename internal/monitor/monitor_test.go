// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/petwell/internal/alerts"
	"github.com/jeranaias/petwell/internal/clock"
	"github.com/jeranaias/petwell/internal/health"
	"github.com/jeranaias/petwell/internal/logging"
)

var asOf = time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu    sync.Mutex
	pets  map[string]health.PetHealth
	fail  map[string]error
	calls atomic.Int32
}

func (f *fakeSource) FetchSnapshot(_ context.Context, petID string) (health.PetHealth, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[petID]; err != nil {
		return health.PetHealth{}, err
	}
	return f.pets[petID], nil
}

func losingWeight() health.PetHealth {
	return health.PetHealth{
		Pet: health.Pet{Name: "rex", Species: "dog"},
		Snapshot: health.Snapshot{
			AsOf: asOf,
			Weights: []health.WeightEntry{
				{Date: asOf.Add(-14 * 24 * time.Hour), WeightKg: 10.0},
				{Date: asOf, WeightKg: 8.9},
			},
		},
	}
}

func newEngine(t *testing.T) *alerts.Engine {
	t.Helper()
	return alerts.New(alerts.DefaultRegistry(),
		alerts.WithClock(clock.NewManual(asOf)),
		alerts.WithLogger(logging.Discard()),
	)
}

func TestPollOnce_IsolatesFailingPets(t *testing.T) {
	invalid := losingWeight()
	invalid.Snapshot.Weights[0].WeightKg = -3

	src := &fakeSource{
		pets: map[string]health.PetHealth{
			"rex":  losingWeight(),
			"fido": invalid,
		},
		fail: map[string]error{"ghost": errors.New("404")},
	}
	engine := newEngine(t)
	var hooked []string
	m := New(src, engine, []string{"ghost", "fido", "rex"},
		WithLogger(logging.Discard()),
		WithResultHook(func(r Result) { hooked = append(hooked, r.PetID) }),
	)

	results := m.PollOnce(context.Background())
	require.Len(t, results, 3)
	assert.Equal(t, []string{"ghost", "fido", "rex"}, hooked)

	assert.ErrorContains(t, results[0].Err, "fetch snapshot")
	var verrs health.ValidationErrors
	assert.ErrorAs(t, results[1].Err, &verrs)

	require.NoError(t, results[2].Err)
	require.Len(t, results[2].Created, 1)
	assert.Equal(t, "weight_loss_rapid", results[2].Created[0].RuleID)
	assert.Equal(t, "rex", results[2].Created[0].PetID)

	// A second poll finds the same condition and creates nothing new.
	again := m.PollOnce(context.Background())
	assert.Empty(t, again[2].Created)
	assert.Len(t, engine.ActiveAlerts(), 1)
}

func TestPollOnce_PlausibilityWithSpeciesTable(t *testing.T) {
	ph := losingWeight()
	ph.Snapshot.Weights[1].WeightKg = 150

	table, err := health.NewSpeciesTable("dog")
	require.NoError(t, err)
	src := &fakeSource{pets: map[string]health.PetHealth{"rex": ph}}
	m := New(src, newEngine(t), []string{"rex"},
		WithLogger(logging.Discard()),
		WithSpeciesTable(table),
	)

	results := m.PollOnce(context.Background())
	assert.ErrorContains(t, results[0].Err, "invalid snapshot")
}

func TestPollOnce_RejectsSnapshotForOtherPet(t *testing.T) {
	other := losingWeight()
	other.Pet.ID = "fido"

	src := &fakeSource{pets: map[string]health.PetHealth{"rex": other}}
	engine := newEngine(t)
	m := New(src, engine, []string{"rex"}, WithLogger(logging.Discard()))

	results := m.PollOnce(context.Background())
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrPetMismatch)
	assert.Empty(t, engine.ActiveAlerts())
}

func TestRun_PollsUntilCancelled(t *testing.T) {
	src := &fakeSource{pets: map[string]health.PetHealth{"rex": losingWeight()}}
	m := New(src, newEngine(t), []string{"rex"},
		WithLogger(logging.Discard()),
		WithInterval(5*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return src.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_NoPets(t *testing.T) {
	m := New(&fakeSource{}, newEngine(t), nil, WithLogger(logging.Discard()))
	assert.ErrorIs(t, m.Run(context.Background()), ErrNoPets)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/petwell/internal/alerts"
	"github.com/jeranaias/petwell/internal/clock"
	"github.com/jeranaias/petwell/internal/health"
	"github.com/jeranaias/petwell/internal/logging"
)

var created = time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)

func openTemp(t *testing.T) *AlertStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sample(id string) alerts.Alert {
	return alerts.Alert{
		ID:              id,
		PetID:           "pet-1",
		PetName:         "Rex",
		RuleID:          "temperature_abnormal",
		RuleName:        "Abnormal temperature",
		Category:        alerts.CategoryVitals,
		Severity:        alerts.SeverityCritical,
		Message:         "Rex's temperature is high",
		Recommendations: []string{"Call the vet"},
		Data:            map[string]any{"value": 40.1, "unit": "°C"},
		CreatedAt:       created,
		UpdatedAt:       created,
		Status:          alerts.StatusActive,
	}
}

func TestSaveAndGet(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAlert(ctx, sample("a1")))

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, sample("a1"), got)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveAlert_UpdatesInPlace(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	a := sample("a1")
	require.NoError(t, s.SaveAlert(ctx, a))

	ackAt := created.Add(time.Minute)
	a.Acknowledged = true
	a.AcknowledgedAt = &ackAt
	a.UpdatedAt = ackAt
	require.NoError(t, s.SaveAlert(ctx, a))

	active, err := s.LoadActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].Acknowledged)
	assert.True(t, active[0].AcknowledgedAt.Equal(ackAt))

	resolvedAt := created.Add(time.Hour)
	a.Status = alerts.StatusResolved
	a.ResolvedAt = &resolvedAt
	a.ResolutionReason = alerts.ReasonManual
	require.NoError(t, s.SaveAlert(ctx, a))

	active, err = s.LoadActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	hist, err := s.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, alerts.ReasonManual, hist[0].ResolutionReason)
}

func TestSaveAlert_ActivePairStaysUnique(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAlert(ctx, sample("old")))
	newer := sample("new")
	newer.CreatedAt = created.Add(time.Hour)
	require.NoError(t, s.SaveAlert(ctx, newer))

	active, err := s.LoadActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "new", active[0].ID)

	old, err := s.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, alerts.StatusResolved, old.Status)
	assert.Equal(t, alerts.ReasonOther, old.ResolutionReason)
}

func TestLoadActiveForPet(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	other := sample("b1")
	other.PetID = "pet-2"
	require.NoError(t, s.SaveAlert(ctx, sample("a1")))
	require.NoError(t, s.SaveAlert(ctx, other))

	got, err := s.LoadActiveForPet(ctx, "pet-2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b1", got[0].ID)
}

func TestPrune(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	for i, id := range []string{"r1", "r2"} {
		a := sample(id)
		a.RuleID = id
		at := created.Add(time.Duration(i) * 24 * time.Hour)
		a.Status = alerts.StatusResolved
		a.ResolvedAt = &at
		require.NoError(t, s.SaveAlert(ctx, a))
	}

	n, err := s.Prune(ctx, created.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	hist, err := s.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "r2", hist[0].ID)
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(MemoryPath)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.SaveAlert(context.Background(), sample("m1")))
}

// The engine persists through the store and restores from it after restart.
func TestEngineRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "alerts.db")
	pet := health.Pet{ID: "pet-1", Name: "rex", Species: "dog"}
	snap := health.Snapshot{AsOf: created, Vitals: []health.VitalsEntry{{Date: created, TemperatureC: 40.5}}}

	s1, err := Open(path)
	require.NoError(t, err)
	e1 := alerts.New(alerts.DefaultRegistry(),
		alerts.WithStore(s1), alerts.WithClock(clock.NewManual(created)), alerts.WithLogger(logging.Discard()))
	first, err := e1.Evaluate(ctx, pet, snap)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	e2 := alerts.New(alerts.DefaultRegistry(),
		alerts.WithStore(s2), alerts.WithClock(clock.NewManual(created.Add(time.Hour))), alerts.WithLogger(logging.Discard()))

	active, err := s2.LoadActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, e2.Restore(active))

	again, err := e2.Evaluate(ctx, pet, snap)
	require.NoError(t, err)
	assert.Empty(t, again, "restored alert is updated, not duplicated")

	restored := e2.ActiveAlerts()
	require.Len(t, restored, 1)
	assert.Equal(t, first[0].ID, restored[0].ID)
	assert.Equal(t, 40.5, restored[0].Data["value"])
}

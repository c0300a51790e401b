// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/petwell/internal/health"
)

const day = 24 * time.Hour

func weights(asOf time.Time, pairs ...any) health.Snapshot {
	s := health.Snapshot{AsOf: asOf}
	for i := 0; i < len(pairs); i += 2 {
		s.Weights = append(s.Weights, health.WeightEntry{
			Date:     start.Add(time.Duration(pairs[i].(int)) * day),
			WeightKg: pairs[i+1].(float64),
		})
	}
	return s
}

func evaluateDefaults(t *testing.T, pet health.Pet, snap health.Snapshot, opts ...Option) []Alert {
	t.Helper()
	e, _ := newEngine(t, DefaultRegistry(), opts...)
	created, err := e.Evaluate(context.Background(), pet, snap)
	require.NoError(t, err)
	return created
}

func TestDefaultRules_Order(t *testing.T) {
	reg := DefaultRegistry()
	assert.Equal(t, []string{
		"weight_loss_rapid",
		"weight_gain_rapid",
		"body_condition_abnormal",
		"temperature_abnormal",
		"heart_rate_abnormal",
		"respiratory_rate_abnormal",
		"medication_adherence_low",
		"activity_drop",
		"vaccination_overdue",
		"senior_checkup_overdue",
	}, func() []string {
		var out []string
		for _, r := range reg.Rules() {
			out = append(out, r.ID)
		}
		return out
	}())

	err := reg.Register(Rule{ID: "weight_loss_rapid", Severity: SeverityLow,
		Condition: func(Input) (bool, error) { return false, nil },
		Message:   func(Input, map[string]any) string { return "" }})
	assert.ErrorIs(t, err, ErrDuplicateRule)
	assert.ErrorIs(t, reg.SetEnabled("nope", true), ErrRuleNotFound)
}

func TestWeightLossRule(t *testing.T) {
	asOf := start.Add(14 * day)

	created := evaluateDefaults(t, rex, weights(asOf, 0, 10.0, 14, 8.9))
	require.Equal(t, []string{"weight_loss_rapid"}, ids(created))
	a := created[0]
	assert.Equal(t, SeverityHigh, a.Severity)
	assert.Equal(t, -11.0, a.Data["percent_change"])
	assert.Equal(t, "Rex has lost 11.0% of body weight in 14 days (10.0 kg to 8.9 kg).", a.Message)

	assert.Empty(t, evaluateDefaults(t, rex, weights(asOf, 0, 10.0, 14, 9.1)))
}

func TestWeightGainRule(t *testing.T) {
	asOf := start.Add(28 * day)

	created := evaluateDefaults(t, rex, weights(asOf, 0, 10.0, 28, 11.6))
	require.Equal(t, []string{"weight_gain_rapid"}, ids(created))
	assert.Equal(t, SeverityMedium, created[0].Severity)

	assert.Empty(t, evaluateDefaults(t, rex, weights(asOf, 0, 10.0, 28, 11.4)))
}

func TestBodyConditionRule(t *testing.T) {
	snap := health.Snapshot{AsOf: start, Weights: []health.WeightEntry{
		{Date: start.Add(-30 * day), WeightKg: 20, BodyConditionScore: 5},
		{Date: start, WeightKg: 20, BodyConditionScore: 7},
	}}
	created := evaluateDefaults(t, rex, snap)
	require.Equal(t, []string{"body_condition_abnormal"}, ids(created))
	assert.Equal(t, "Rex's body condition score of 7/9 is above the ideal range (4-5).", created[0].Message)
}

func TestVitalRules(t *testing.T) {
	snap := health.Snapshot{AsOf: start, Vitals: []health.VitalsEntry{
		{Date: start, TemperatureC: 40.1, HeartRate: 50, RespiratoryRate: 20},
	}}
	created := evaluateDefaults(t, rex, snap)
	require.ElementsMatch(t, []string{"temperature_abnormal", "heart_rate_abnormal"}, ids(created))

	byRule := map[string]Alert{}
	for _, a := range created {
		byRule[a.RuleID] = a
	}
	assert.Equal(t, SeverityCritical, byRule["temperature_abnormal"].Severity)
	assert.Equal(t, "Rex's temperature of 40.1 °C is above the normal range (37.5-39.2 °C).",
		byRule["temperature_abnormal"].Message)
	assert.Equal(t, "Rex's heart rate of 50 bpm is below the normal range (60-140 bpm).",
		byRule["heart_rate_abnormal"].Message)
}

func TestVitalRules_SpeciesFallback(t *testing.T) {
	ferret := health.Pet{ID: "f1", Name: "slinky", Species: "ferret"}
	snap := health.Snapshot{AsOf: start, Vitals: []health.VitalsEntry{{Date: start, TemperatureC: 41}}}

	assert.Equal(t, []string{"temperature_abnormal"}, ids(evaluateDefaults(t, ferret, snap)))

	strict, err := health.NewSpeciesTable("")
	require.NoError(t, err)
	assert.Empty(t, evaluateDefaults(t, ferret, snap, WithSpeciesTable(strict)))
}

func TestMedicationRule(t *testing.T) {
	snap := health.Snapshot{AsOf: start, Medications: []health.Medication{
		{Name: "Apoquel", Status: health.MedicationActive, AdherencePercent: 65},
		{Name: "Galliprant", Status: health.MedicationActive, AdherencePercent: 72.5},
		{Name: "Heartgard", Status: health.MedicationActive, AdherencePercent: 100},
	}}
	created := evaluateDefaults(t, rex, snap)
	require.Equal(t, []string{"medication_adherence_low"}, ids(created))
	assert.Equal(t, []string{"Apoquel", "Galliprant"}, created[0].Data["medications"])
	assert.Equal(t, "Rex is missing doses of Apoquel, Galliprant (adherence as low as 65%).", created[0].Message)
}

func TestActivityRule(t *testing.T) {
	build := func(recent float64) health.Snapshot {
		s := health.Snapshot{AsOf: start}
		for d := 0; d < 7; d++ {
			s.Activity = append(s.Activity, health.ActivityEntry{Date: start.Add(-time.Duration(d) * day), Minutes: recent})
		}
		for d := 14; d <= 56; d++ {
			s.Activity = append(s.Activity, health.ActivityEntry{Date: start.Add(-time.Duration(d) * day), Minutes: 60})
		}
		return s
	}

	assert.Equal(t, []string{"activity_drop"}, ids(evaluateDefaults(t, rex, build(36))), "exactly 40% fires")
	assert.Empty(t, evaluateDefaults(t, rex, build(37)))
}

func TestPreventiveRules(t *testing.T) {
	senior := health.Pet{ID: "p9", Name: "old boy", Species: "dog", BirthDate: start.AddDate(-9, 0, 0)}
	snap := health.Snapshot{AsOf: start, Records: []health.HealthRecord{
		{Date: start.Add(-400 * day), Type: health.RecordVaccination},
		{Date: start.Add(-200 * day), Type: health.RecordVetVisit},
	}}

	created := evaluateDefaults(t, senior, snap)
	require.ElementsMatch(t, []string{"vaccination_overdue", "senior_checkup_overdue"}, ids(created))
	for _, a := range created {
		if a.RuleID == "vaccination_overdue" {
			assert.Equal(t, 35, a.Data["days_overdue"])
			assert.Equal(t, "Old Boy's vaccinations are 35 days overdue.", a.Message)
		}
	}

	young := senior
	young.BirthDate = start.AddDate(-2, 0, 0)
	assert.Equal(t, []string{"vaccination_overdue"}, ids(evaluateDefaults(t, young, snap)))

	// No vaccination on record at all does not fire.
	assert.Empty(t, evaluateDefaults(t, young, health.Snapshot{AsOf: start}))
}

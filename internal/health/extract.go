// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package health

import (
	"math"
	"sort"
	"time"
)

const day = 24 * time.Hour

// =============================================================================
// WEIGHT
// =============================================================================

// WeightChange compares the earliest and latest weigh-ins in a window.
type WeightChange struct {
	Earliest      WeightEntry
	Latest        WeightEntry
	PercentChange float64
	Days          float64
}

// WeightChangeWithin measures the change across the weigh-ins dated within
// window before ref (bounds inclusive). It needs at least two entries.
func WeightChangeWithin(s Snapshot, ref time.Time, window time.Duration) (WeightChange, bool) {
	start := ref.Add(-window)
	var in []WeightEntry
	for _, w := range s.Weights {
		if w.WeightKg <= 0 || w.Date.Before(start) || w.Date.After(ref) {
			continue
		}
		in = append(in, w)
	}
	if len(in) < 2 {
		return WeightChange{}, false
	}
	sort.SliceStable(in, func(i, j int) bool { return in[i].Date.Before(in[j].Date) })

	first, last := in[0], in[len(in)-1]
	return WeightChange{
		Earliest:      first,
		Latest:        last,
		PercentChange: (last.WeightKg - first.WeightKg) / first.WeightKg * 100,
		Days:          last.Date.Sub(first.Date).Hours() / 24,
	}, true
}

// LatestWeight returns the most recent weigh-in.
func LatestWeight(s Snapshot) (WeightEntry, bool) {
	var latest WeightEntry
	found := false
	for _, w := range s.Weights {
		if !found || w.Date.After(latest.Date) {
			latest, found = w, true
		}
	}
	return latest, found
}

// LatestBCS returns the most recent recorded body condition score.
func LatestBCS(s Snapshot) (WeightEntry, bool) {
	var latest WeightEntry
	found := false
	for _, w := range s.Weights {
		if w.BodyConditionScore == 0 {
			continue
		}
		if !found || w.Date.After(latest.Date) {
			latest, found = w, true
		}
	}
	return latest, found
}

// =============================================================================
// VITALS
// =============================================================================

// Vital names one measured sign.
type Vital string

const (
	VitalTemperature     Vital = "temperature"
	VitalHeartRate       Vital = "heart_rate"
	VitalRespiratoryRate Vital = "respiratory_rate"
)

// Unit returns the display unit for the vital.
func (v Vital) Unit() string {
	switch v {
	case VitalTemperature:
		return "°C"
	case VitalHeartRate:
		return "bpm"
	case VitalRespiratoryRate:
		return "breaths/min"
	}
	return ""
}

// VitalReading is one vital compared with its species range.
type VitalReading struct {
	Vital  Vital
	Value  float64
	Normal Range
	Date   time.Time
}

// Low reports whether the reading is below range.
func (r VitalReading) Low() bool {
	return r.Value < r.Normal.Min
}

// LatestVitals returns the most recent vitals entry.
func LatestVitals(s Snapshot) (VitalsEntry, bool) {
	var latest VitalsEntry
	found := false
	for _, v := range s.Vitals {
		if !found || v.Date.After(latest.Date) {
			latest, found = v, true
		}
	}
	return latest, found
}

// OutOfRange checks one vital of the latest entry against the profile. It
// returns false when the vital is in range or was not measured.
func OutOfRange(s Snapshot, p SpeciesProfile, vital Vital) (VitalReading, bool) {
	entry, ok := LatestVitals(s)
	if !ok {
		return VitalReading{}, false
	}

	r := VitalReading{Vital: vital, Date: entry.Date}
	switch vital {
	case VitalTemperature:
		r.Value, r.Normal = entry.TemperatureC, p.TemperatureC
	case VitalHeartRate:
		r.Value, r.Normal = float64(entry.HeartRate), p.HeartRate
	case VitalRespiratoryRate:
		r.Value, r.Normal = float64(entry.RespiratoryRate), p.RespiratoryRate
	default:
		return VitalReading{}, false
	}
	if r.Value == 0 || r.Normal.Contains(r.Value) {
		return VitalReading{}, false
	}
	return r, true
}

// =============================================================================
// MEDICATION
// =============================================================================

// LowAdherence returns the active medications whose adherence is below
// threshold percent.
func LowAdherence(s Snapshot, threshold float64) []Medication {
	var out []Medication
	for _, m := range s.Medications {
		if m.Status == MedicationActive && m.AdherencePercent < threshold {
			out = append(out, m)
		}
	}
	return out
}

// =============================================================================
// ACTIVITY
// =============================================================================

// ActivityTrend compares the last week with an earlier baseline.
type ActivityTrend struct {
	RecentAverage   float64
	BaselineAverage float64
	DropPercent     float64
	RecentDays      int
	BaselineDays    int
}

// Activity windows: the trailing 7 days against the span 2 to 8 weeks back.
const (
	RecentActivityWindow = 7 * day
	BaselineWindowStart  = 56 * day
	BaselineWindowEnd    = 14 * day
)

// ActivityChange averages daily minutes in the recent and baseline windows.
// It needs entries in both and a non-zero baseline.
func ActivityChange(s Snapshot, ref time.Time) (ActivityTrend, bool) {
	recentStart := ref.Add(-RecentActivityWindow)
	baseStart, baseEnd := ref.Add(-BaselineWindowStart), ref.Add(-BaselineWindowEnd)

	var t ActivityTrend
	var recentSum, baseSum float64
	for _, a := range s.Activity {
		switch {
		case a.Date.After(recentStart) && !a.Date.After(ref):
			recentSum += a.Minutes
			t.RecentDays++
		case !a.Date.Before(baseStart) && !a.Date.After(baseEnd):
			baseSum += a.Minutes
			t.BaselineDays++
		}
	}
	if t.RecentDays == 0 || t.BaselineDays == 0 {
		return ActivityTrend{}, false
	}
	t.RecentAverage = recentSum / float64(t.RecentDays)
	t.BaselineAverage = baseSum / float64(t.BaselineDays)
	if t.BaselineAverage == 0 {
		return ActivityTrend{}, false
	}
	t.DropPercent = (t.BaselineAverage - t.RecentAverage) / t.BaselineAverage * 100
	return t, true
}

// =============================================================================
// PREVENTIVE
// =============================================================================

// DaysSince returns whole days between ref and the most recent record of the
// given type.
func DaysSince(s Snapshot, kind RecordType, ref time.Time) (int, bool) {
	var last time.Time
	for _, r := range s.Records {
		if r.Type == kind && r.Date.After(last) {
			last = r.Date
		}
	}
	if last.IsZero() {
		return 0, false
	}
	return int(math.Floor(ref.Sub(last).Hours() / 24)), true
}

// Round1 rounds to one decimal place for display and alert data.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

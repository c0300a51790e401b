// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package alerts

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/petwell/internal/health"
)

// Default rule thresholds.
const (
	WeightLossWindow        = 14 * 24 * time.Hour
	WeightLossPercent       = 10.0
	WeightGainWindow        = 28 * 24 * time.Hour
	WeightGainPercent       = 15.0
	AdherenceThreshold      = 80.0
	ActivityDropPercent     = 40.0
	VaccinationIntervalDays = 365
	SeniorCheckupDays       = 180
)

// DefaultRules returns the built-in rules, all enabled, in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "weight_loss_rapid",
			Name:        "Rapid weight loss",
			Description: "More than 10% of body weight lost within 14 days",
			Category:    CategoryWeight,
			Severity:    SeverityHigh,
			Condition: func(in Input) (bool, error) {
				c, ok := health.WeightChangeWithin(in.Snapshot, in.Ref, WeightLossWindow)
				return ok && c.PercentChange < -WeightLossPercent, nil
			},
			Extract: func(in Input) map[string]any {
				c, _ := health.WeightChangeWithin(in.Snapshot, in.Ref, WeightLossWindow)
				return weightData(c)
			},
			Message: func(in Input, d map[string]any) string {
				return fmt.Sprintf("%s has lost %.1f%% of body weight in %.0f days (%.1f kg to %.1f kg).",
					in.Pet.DisplayName(), -num(d, "percent_change"), num(d, "days"),
					num(d, "earliest_weight_kg"), num(d, "latest_weight_kg"))
			},
			Recommendations: []string{
				"Schedule a veterinary examination",
				"Review recent food intake and appetite",
				"Check for vomiting, diarrhea or other symptoms",
			},
			Enabled: true,
		},
		{
			ID:          "weight_gain_rapid",
			Name:        "Rapid weight gain",
			Description: "More than 15% body weight gained within 28 days",
			Category:    CategoryWeight,
			Severity:    SeverityMedium,
			Condition: func(in Input) (bool, error) {
				c, ok := health.WeightChangeWithin(in.Snapshot, in.Ref, WeightGainWindow)
				return ok && c.PercentChange > WeightGainPercent, nil
			},
			Extract: func(in Input) map[string]any {
				c, _ := health.WeightChangeWithin(in.Snapshot, in.Ref, WeightGainWindow)
				return weightData(c)
			},
			Message: func(in Input, d map[string]any) string {
				return fmt.Sprintf("%s has gained %.1f%% body weight in %.0f days (%.1f kg to %.1f kg).",
					in.Pet.DisplayName(), num(d, "percent_change"), num(d, "days"),
					num(d, "earliest_weight_kg"), num(d, "latest_weight_kg"))
			},
			Recommendations: []string{
				"Review daily portions and treats",
				"Increase daily exercise gradually",
				"Discuss a weight management plan with your veterinarian",
			},
			Enabled: true,
		},
		{
			ID:          "body_condition_abnormal",
			Name:        "Body condition outside ideal range",
			Description: "Latest body condition score outside the species ideal range",
			Category:    CategoryWeight,
			Severity:    SeverityLow,
			Condition: func(in Input) (bool, error) {
				if !in.HasProfile {
					return false, nil
				}
				w, ok := health.LatestBCS(in.Snapshot)
				return ok && !in.Profile.IdealBCS.Contains(float64(w.BodyConditionScore)), nil
			},
			Extract: func(in Input) map[string]any {
				w, _ := health.LatestBCS(in.Snapshot)
				direction := "over"
				if float64(w.BodyConditionScore) < in.Profile.IdealBCS.Min {
					direction = "under"
				}
				return map[string]any{
					"body_condition_score": w.BodyConditionScore,
					"ideal_min":            in.Profile.IdealBCS.Min,
					"ideal_max":            in.Profile.IdealBCS.Max,
					"direction":            direction,
					"measured_at":          w.Date,
				}
			},
			Message: func(in Input, d map[string]any) string {
				word := "above"
				if d["direction"] == "under" {
					word = "below"
				}
				return fmt.Sprintf("%s's body condition score of %.0f/9 is %s the ideal range (%.0f-%.0f).",
					in.Pet.DisplayName(), num(d, "body_condition_score"), word,
					num(d, "ideal_min"), num(d, "ideal_max"))
			},
			Recommendations: []string{
				"Adjust portions toward the ideal body condition",
				"Recheck body condition in four weeks",
			},
			Enabled: true,
		},
		vitalRule("temperature_abnormal", "Abnormal temperature", health.VitalTemperature, SeverityCritical,
			"Contact your veterinarian immediately",
			"Keep your pet calm and hydrated",
			"Recheck temperature within the hour"),
		vitalRule("heart_rate_abnormal", "Abnormal heart rate", health.VitalHeartRate, SeverityHigh,
			"Recheck heart rate while your pet is at rest",
			"Contact your veterinarian if it stays outside the normal range"),
		vitalRule("respiratory_rate_abnormal", "Abnormal breathing rate", health.VitalRespiratoryRate, SeverityMedium,
			"Count breaths while your pet is asleep",
			"Seek care if breathing is labored or noisy"),
		{
			ID:          "medication_adherence_low",
			Name:        "Low medication adherence",
			Description: "An active medication is below 80% adherence",
			Category:    CategoryMedication,
			Severity:    SeverityMedium,
			Condition: func(in Input) (bool, error) {
				return len(health.LowAdherence(in.Snapshot, AdherenceThreshold)) > 0, nil
			},
			Extract: func(in Input) map[string]any {
				low := health.LowAdherence(in.Snapshot, AdherenceThreshold)
				names := make([]string, len(low))
				lowest := 100.0
				for i, m := range low {
					names[i] = m.Name
					if m.AdherencePercent < lowest {
						lowest = m.AdherencePercent
					}
				}
				return map[string]any{
					"medications":              names,
					"lowest_adherence_percent": health.Round1(lowest),
					"threshold_percent":        AdherenceThreshold,
				}
			},
			Message: func(in Input, d map[string]any) string {
				names, _ := d["medications"].([]string)
				return fmt.Sprintf("%s is missing doses of %s (adherence as low as %.0f%%).",
					in.Pet.DisplayName(), strings.Join(names, ", "), num(d, "lowest_adherence_percent"))
			},
			Recommendations: []string{
				"Set a daily medication reminder",
				"Ask your veterinarian about easier dosing options",
			},
			Enabled: true,
		},
		{
			ID:          "activity_drop",
			Name:        "Significant activity decrease",
			Description: "Last week's activity is 40% or more below the 2-8 week baseline",
			Category:    CategoryActivity,
			Severity:    SeverityMedium,
			Condition: func(in Input) (bool, error) {
				t, ok := health.ActivityChange(in.Snapshot, in.Ref)
				return ok && t.DropPercent >= ActivityDropPercent, nil
			},
			Extract: func(in Input) map[string]any {
				t, _ := health.ActivityChange(in.Snapshot, in.Ref)
				return map[string]any{
					"recent_average_minutes":   health.Round1(t.RecentAverage),
					"baseline_average_minutes": health.Round1(t.BaselineAverage),
					"drop_percent":             health.Round1(t.DropPercent),
				}
			},
			Message: func(in Input, d map[string]any) string {
				return fmt.Sprintf("%s's activity dropped %.0f%% this week (%.0f vs %.0f minutes a day).",
					in.Pet.DisplayName(), num(d, "drop_percent"),
					num(d, "recent_average_minutes"), num(d, "baseline_average_minutes"))
			},
			Recommendations: []string{
				"Watch for limping, stiffness or signs of pain",
				"Contact your veterinarian if lethargy continues",
			},
			Enabled: true,
		},
		{
			ID:          "vaccination_overdue",
			Name:        "Vaccination overdue",
			Description: "Last vaccination more than 365 days ago",
			Category:    CategoryPreventive,
			Severity:    SeverityMedium,
			Condition: func(in Input) (bool, error) {
				days, ok := health.DaysSince(in.Snapshot, health.RecordVaccination, in.Ref)
				return ok && days > VaccinationIntervalDays, nil
			},
			Extract: func(in Input) map[string]any {
				days, _ := health.DaysSince(in.Snapshot, health.RecordVaccination, in.Ref)
				return overdueData(days, VaccinationIntervalDays)
			},
			Message: func(in Input, d map[string]any) string {
				return fmt.Sprintf("%s's vaccinations are %.0f days overdue.", in.Pet.DisplayName(), num(d, "days_overdue"))
			},
			Recommendations: []string{"Book a vaccination appointment"},
			Enabled:         true,
		},
		{
			ID:          "senior_checkup_overdue",
			Name:        "Senior checkup overdue",
			Description: "Senior pet without a vet visit in 180 days",
			Category:    CategoryPreventive,
			Severity:    SeverityLow,
			Condition: func(in Input) (bool, error) {
				if !in.HasProfile || in.Pet.AgeYears(in.Ref) < in.Profile.SeniorAgeYears {
					return false, nil
				}
				days, ok := health.DaysSince(in.Snapshot, health.RecordVetVisit, in.Ref)
				return ok && days > SeniorCheckupDays, nil
			},
			Extract: func(in Input) map[string]any {
				days, _ := health.DaysSince(in.Snapshot, health.RecordVetVisit, in.Ref)
				d := overdueData(days, SeniorCheckupDays)
				d["age_years"] = health.Round1(in.Pet.AgeYears(in.Ref))
				return d
			},
			Message: func(in Input, d map[string]any) string {
				return fmt.Sprintf("%s is a senior pet and has not seen a veterinarian in %.0f days.",
					in.Pet.DisplayName(), num(d, "days_since"))
			},
			Recommendations: []string{
				"Schedule a senior wellness exam",
				"Ask about bloodwork and dental screening",
			},
			Enabled: true,
		},
	}
}

func vitalRule(id, name string, vital health.Vital, sev Severity, recs ...string) Rule {
	return Rule{
		ID:          id,
		Name:        name,
		Description: fmt.Sprintf("Latest %s outside the species normal range", strings.ReplaceAll(string(vital), "_", " ")),
		Category:    CategoryVitals,
		Severity:    sev,
		Condition: func(in Input) (bool, error) {
			if !in.HasProfile {
				return false, nil
			}
			_, out := health.OutOfRange(in.Snapshot, in.Profile, vital)
			return out, nil
		},
		Extract: func(in Input) map[string]any {
			r, _ := health.OutOfRange(in.Snapshot, in.Profile, vital)
			return map[string]any{
				"vital":       string(r.Vital),
				"value":       r.Value,
				"unit":        vital.Unit(),
				"normal_min":  r.Normal.Min,
				"normal_max":  r.Normal.Max,
				"measured_at": r.Date,
			}
		},
		Message: func(in Input, d map[string]any) string {
			dir := "above"
			if num(d, "value") < num(d, "normal_min") {
				dir = "below"
			}
			unit := vital.Unit()
			return fmt.Sprintf("%s's %s of %g %s is %s the normal range (%g-%g %s).",
				in.Pet.DisplayName(), strings.ReplaceAll(string(vital), "_", " "), num(d, "value"), unit, dir,
				num(d, "normal_min"), num(d, "normal_max"), unit)
		},
		Recommendations: recs,
		Enabled:         true,
	}
}

func weightData(c health.WeightChange) map[string]any {
	return map[string]any{
		"earliest_weight_kg": c.Earliest.WeightKg,
		"latest_weight_kg":   c.Latest.WeightKg,
		"percent_change":     health.Round1(c.PercentChange),
		"days":               health.Round1(c.Days),
		"from":               c.Earliest.Date,
		"to":                 c.Latest.Date,
	}
}

func overdueData(days, interval int) map[string]any {
	return map[string]any{
		"days_since":    days,
		"interval_days": interval,
		"days_overdue":  days - interval,
	}
}

// num reads a numeric data field regardless of its concrete type, which
// differs between freshly extracted and JSON-restored payloads.
func num(d map[string]any, key string) float64 {
	switch v := d[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

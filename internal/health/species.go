// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package health

import (
	"fmt"
	"sort"
	"strings"
)

// Range is an inclusive numeric interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies within the range, bounds included.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

func (r Range) String() string {
	return fmt.Sprintf("%g-%g", r.Min, r.Max)
}

// SpeciesProfile holds the normal ranges for one species.
type SpeciesProfile struct {
	Name            string
	TemperatureC    Range
	HeartRate       Range
	RespiratoryRate Range
	WeightKg        Range
	// IdealBCS is on the 9-point body condition scale.
	IdealBCS       Range
	SeniorAgeYears float64
}

var profiles = map[string]SpeciesProfile{
	"dog": {
		Name:            "dog",
		TemperatureC:    Range{37.5, 39.2},
		HeartRate:       Range{60, 140},
		RespiratoryRate: Range{10, 35},
		WeightKg:        Range{1, 90},
		IdealBCS:        Range{4, 5},
		SeniorAgeYears:  7,
	},
	"cat": {
		Name:            "cat",
		TemperatureC:    Range{38.1, 39.2},
		HeartRate:       Range{140, 220},
		RespiratoryRate: Range{20, 30},
		WeightKg:        Range{2, 11},
		IdealBCS:        Range{4, 5},
		SeniorAgeYears:  10,
	},
	"rabbit": {
		Name:            "rabbit",
		TemperatureC:    Range{38.5, 40.0},
		HeartRate:       Range{130, 325},
		RespiratoryRate: Range{30, 60},
		WeightKg:        Range{0.5, 10},
		IdealBCS:        Range{4, 5},
		SeniorAgeYears:  6,
	},
}

// SpeciesTable resolves a pet's species to its profile. Unrecognized species
// resolve to the fallback profile, or to nothing when no fallback is set.
type SpeciesTable struct {
	fallback string
}

// NewSpeciesTable creates a table. fallback must be a known species or "".
func NewSpeciesTable(fallback string) (*SpeciesTable, error) {
	fallback = normalizeSpecies(fallback)
	if fallback != "" {
		if _, ok := profiles[fallback]; !ok {
			return nil, fmt.Errorf("unknown fallback species %q (known: %s)", fallback, strings.Join(KnownSpecies(), ", "))
		}
	}
	return &SpeciesTable{fallback: fallback}, nil
}

// Fallback returns the configured fallback species, "" if none.
func (t *SpeciesTable) Fallback() string {
	return t.fallback
}

// Lookup returns the profile for species. The second result is false when
// the species is unknown and no fallback is configured.
func (t *SpeciesTable) Lookup(species string) (SpeciesProfile, bool) {
	if p, ok := profiles[normalizeSpecies(species)]; ok {
		return p, true
	}
	if t.fallback == "" {
		return SpeciesProfile{}, false
	}
	return profiles[t.fallback], true
}

// KnownSpecies lists the species with profiles, sorted.
func KnownSpecies() []string {
	out := make([]string, 0, len(profiles))
	for name := range profiles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normalizeSpecies(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package health holds the pet health-data model consumed by the alert
// engine: pets, snapshots, the species range table, per-category
// extraction helpers and snapshot validation.
package health

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Pet identifies the animal a snapshot belongs to.
type Pet struct {
	ID        string    `json:"id" validate:"required"`
	Name      string    `json:"name"`
	Species   string    `json:"species"`
	Breed     string    `json:"breed,omitempty"`
	BirthDate time.Time `json:"birth_date,omitempty"`
}

var titleCaser = cases.Title(language.English)

// DisplayName is the name used in alert messages.
func (p Pet) DisplayName() string {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return "Your pet"
	}
	return titleCaser.String(name)
}

// AgeYears returns the pet's age at now, or 0 when the birth date is unknown.
func (p Pet) AgeYears(now time.Time) float64 {
	if p.BirthDate.IsZero() || now.Before(p.BirthDate) {
		return 0
	}
	return now.Sub(p.BirthDate).Hours() / (24 * 365.25)
}

// WeightEntry is one weigh-in.
type WeightEntry struct {
	Date               time.Time `json:"date" validate:"required"`
	WeightKg           float64   `json:"weight_kg" validate:"gt=0,lte=200"`
	BodyConditionScore int       `json:"body_condition_score,omitempty" validate:"omitempty,min=1,max=9"`
}

// VitalsEntry is one set of vital signs. Zero fields were not measured.
type VitalsEntry struct {
	Date            time.Time `json:"date" validate:"required"`
	TemperatureC    float64   `json:"temperature_c,omitempty" validate:"omitempty,gte=25,lte=45"`
	HeartRate       int       `json:"heart_rate,omitempty" validate:"omitempty,gt=0,lte=400"`
	RespiratoryRate int       `json:"respiratory_rate,omitempty" validate:"omitempty,gt=0,lte=200"`
}

// Medication status values.
const (
	MedicationActive       = "active"
	MedicationCompleted    = "completed"
	MedicationDiscontinued = "discontinued"
	MedicationPaused       = "paused"
)

// Medication is a prescribed treatment with its adherence percentage.
type Medication struct {
	Name             string    `json:"name" validate:"required"`
	Dosage           string    `json:"dosage,omitempty"`
	Status           string    `json:"status" validate:"required,oneof=active completed discontinued paused"`
	AdherencePercent float64   `json:"adherence_percent" validate:"gte=0,lte=100"`
	StartDate        time.Time `json:"start_date,omitempty"`
}

// ActivityEntry is one day of recorded activity.
type ActivityEntry struct {
	Date    time.Time `json:"date" validate:"required"`
	Minutes float64   `json:"minutes" validate:"gte=0,lte=1440"`
	Steps   int       `json:"steps,omitempty" validate:"gte=0"`
}

// RecordType classifies health records.
type RecordType string

const (
	RecordVaccination RecordType = "vaccination"
	RecordVetVisit    RecordType = "vet_visit"
	RecordLab         RecordType = "lab_result"
	RecordProcedure   RecordType = "procedure"
	RecordOther       RecordType = "other"
)

// HealthRecord is a dated entry in the medical history.
type HealthRecord struct {
	Date  time.Time  `json:"date" validate:"required"`
	Type  RecordType `json:"type" validate:"required,oneof=vaccination vet_visit lab_result procedure other"`
	Title string     `json:"title,omitempty"`
	Notes string     `json:"notes,omitempty"`
}

// Snapshot is a point-in-time bundle of a pet's health data.
type Snapshot struct {
	// AsOf anchors every trailing window. Zero means "evaluation time".
	AsOf time.Time `json:"as_of,omitempty"`

	Weights     []WeightEntry   `json:"weights,omitempty" validate:"dive"`
	Vitals      []VitalsEntry   `json:"vitals,omitempty" validate:"dive"`
	Medications []Medication    `json:"medications,omitempty" validate:"dive"`
	Activity    []ActivityEntry `json:"activity,omitempty" validate:"dive"`
	Records     []HealthRecord  `json:"records,omitempty" validate:"dive"`
}

// Reference returns the instant trailing windows are measured back from.
func (s Snapshot) Reference(now time.Time) time.Time {
	if s.AsOf.IsZero() {
		return now
	}
	return s.AsOf
}

// PetHealth pairs a pet with its snapshot. It is the unit a HealthDataSource
// returns and the file format accepted by "petwell evaluate".
type PetHealth struct {
	Pet      Pet      `json:"pet"`
	Snapshot Snapshot `json:"snapshot"`
}

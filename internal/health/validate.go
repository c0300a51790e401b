// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package health

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
}

// FieldError is one problem with a snapshot, addressed by its JSON path.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found in a snapshot.
type ValidationErrors []FieldError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fe.Error()
	}
	return "invalid health data: " + strings.Join(msgs, "; ")
}

var messages = map[string]string{
	"required": "is required",
	"gt":       "must be greater than %s",
	"gte":      "must be greater than or equal to %s",
	"lt":       "must be less than %s",
	"lte":      "must be less than or equal to %s",
	"min":      "must be at least %s",
	"max":      "must be at most %s",
	"oneof":    "must be one of [%s]",
}

func friendly(e validator.FieldError) string {
	if msg, ok := messages[e.Tag()]; ok {
		if strings.Contains(msg, "%s") {
			return fmt.Sprintf(msg, e.Param())
		}
		return msg
	}
	return "is invalid: " + e.Tag()
}

// fieldPath drops the root type name validator puts at the front.
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// Validate checks struct constraints on the pet and snapshot, then species
// plausibility when the species is known to table. It returns
// ValidationErrors or nil.
func Validate(ph PetHealth, table *SpeciesTable) error {
	var errs ValidationErrors

	collect := func(prefix string, v any) {
		err := validate.Struct(v)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, e := range verrs {
				errs = append(errs, FieldError{Field: prefix + fieldPath(e), Message: friendly(e)})
			}
		}
	}
	collect("pet.", ph.Pet)
	collect("snapshot.", ph.Snapshot)

	if table != nil {
		if profile, ok := table.Lookup(ph.Pet.Species); ok {
			errs = append(errs, plausibility(ph.Snapshot, profile)...)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// plausibility rejects weights far outside anything the species can weigh.
// The normal range is widened by half on each side; the alert rules handle
// merely abnormal values.
func plausibility(s Snapshot, p SpeciesProfile) ValidationErrors {
	var errs ValidationErrors
	limit := Range{Min: p.WeightKg.Min / 2, Max: p.WeightKg.Max * 1.5}
	for i, w := range s.Weights {
		if w.WeightKg > 0 && !limit.Contains(w.WeightKg) {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("snapshot.weights[%d].weight_kg", i),
				Message: fmt.Sprintf("%.1f kg is not plausible for a %s", w.WeightKg, p.Name),
			})
		}
	}
	return errs
}

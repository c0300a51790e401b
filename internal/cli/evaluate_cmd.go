// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/petwell/internal/health"
)

// ErrNoPetID is returned when a snapshot file does not name its pet.
var ErrNoPetID = errors.New("snapshot has no pet id")

func newEvaluateCommand(g *globalOptions) *cobra.Command {
	var (
		snapshotPath string
		skipValidate bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate alert rules against a pet health snapshot",
		Long: `Reads a JSON document {"pet": {...}, "snapshot": {...}}, validates it,
runs every enabled rule and stores the resulting alerts. Use "-" to read
from standard input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ph, err := readPetHealth(snapshotPath, g.in)
			if err != nil {
				return err
			}

			app, err := g.open()
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			if !skipValidate {
				table, err := app.SpeciesTable()
				if err != nil {
					return err
				}
				if err := health.Validate(ph, table); err != nil {
					return err
				}
			}

			engine, err := app.Engine(ctx)
			if err != nil {
				return err
			}
			created, err := engine.Evaluate(ctx, ph.Pet, ph.Snapshot)
			if err != nil {
				return err
			}
			active := engine.ActiveAlertsForPet(ph.Pet.ID)

			data := EvaluateData{PetID: ph.Pet.ID, Created: created, Active: active}
			return app.emit("evaluate", data, func(w io.Writer) {
				fmt.Fprintln(w, TitleStyle.Render("Health check: "+ph.Pet.DisplayName()))
				if len(created) > 0 {
					fmt.Fprintln(w, SectionStyle.Render(fmt.Sprintf("New alerts (%d)", len(created))))
					printAlerts(w, created)
				}
				fmt.Fprintln(w, SectionStyle.Render(fmt.Sprintf("Active alerts (%d)", len(active))))
				if len(active) == 0 {
					fmt.Fprintln(w, SuccessStyle.Render("No active alerts"))
					return
				}
				printAlerts(w, active)
			})
		},
	}

	cmd.Flags().StringVarP(&snapshotPath, "snapshot", "s", "", "snapshot JSON file, or - for stdin")
	cmd.Flags().BoolVar(&skipValidate, "no-validate", false, "skip health data validation")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

// readPetHealth decodes a snapshot document from path or, for "-", stdin.
func readPetHealth(path string, stdin io.Reader) (health.PetHealth, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return health.PetHealth{}, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var ph health.PetHealth
	if err := json.Unmarshal(raw, &ph); err != nil {
		return health.PetHealth{}, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if ph.Pet.ID == "" {
		return health.PetHealth{}, ErrNoPetID
	}
	return ph, nil
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/jeranaias/petwell/internal/alerts"
)

func newAlertsCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List and manage health alerts",
	}
	cmd.AddCommand(
		newAlertsListCommand(g),
		newAlertsAckCommand(g),
		newAlertsResolveCommand(g),
		newAlertsPruneCommand(g),
	)
	return cmd
}

func newAlertsListCommand(g *globalOptions) *cobra.Command {
	var (
		history bool
		petID   string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active alerts, or resolved ones with --history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := g.open()
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			data := AlertListData{History: history}

			if history {
				db, err := app.AlertStore()
				if err != nil {
					return err
				}
				resolved, err := db.History(ctx, 0)
				if err != nil {
					return err
				}
				data.Alerts = filterPet(resolved, petID, limit)
			} else {
				engine, err := app.Engine(ctx)
				if err != nil {
					return err
				}
				if petID != "" {
					data.Alerts = engine.ActiveAlertsForPet(petID)
				} else {
					data.Alerts = engine.ActiveAlerts()
					summary := engine.Summary()
					data.Summary = &summary
				}
			}
			if data.Alerts == nil {
				data.Alerts = []alerts.Alert{}
			}

			return app.emit("alerts list", data, func(w io.Writer) {
				title := "Active alerts"
				if history {
					title = "Alert history"
				}
				fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("%s (%d)", title, len(data.Alerts))))
				if len(data.Alerts) == 0 {
					fmt.Fprintln(w, DimStyle.Render("Nothing to show"))
					return
				}
				printAlerts(w, data.Alerts)
				if data.Summary != nil && data.Summary.Unacknowledged > 0 {
					fmt.Fprintln(w, WarningStyle.Render(fmt.Sprintf("%d unacknowledged", data.Summary.Unacknowledged)))
				}
			})
		},
	}

	cmd.Flags().BoolVar(&history, "history", false, "show resolved alerts")
	cmd.Flags().StringVar(&petID, "pet", "", "only alerts for this pet")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum history entries (0 = all)")
	return cmd
}

func newAlertsAckCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ack ID",
		Short: "Acknowledge an active alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := g.open()
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			engine, err := app.Engine(ctx)
			if err != nil {
				return err
			}
			if err := engine.AcknowledgeAlert(ctx, args[0]); err != nil {
				return err
			}
			a, _ := engine.Alert(args[0])
			return app.emit("alerts ack", a, func(w io.Writer) {
				fmt.Fprintln(w, SuccessStyle.Render("Acknowledged"), a.ID, DimStyle.Render(a.RuleName))
			})
		},
	}
}

func newAlertsResolveCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve ID",
		Short: "Resolve an active alert manually",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := g.open()
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			engine, err := app.Engine(ctx)
			if err != nil {
				return err
			}
			if !engine.ResolveAlert(ctx, args[0], alerts.ReasonManual) {
				return fmt.Errorf("%w: %s", alerts.ErrAlertNotFound, args[0])
			}
			return app.emit("alerts resolve", map[string]string{"id": args[0]}, func(w io.Writer) {
				fmt.Fprintln(w, SuccessStyle.Render("Resolved"), args[0])
			})
		},
	}
}

func newAlertsPruneCommand(g *globalOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete resolved alerts older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := g.open()
			if err != nil {
				return err
			}
			defer app.Close()

			db, err := app.AlertStore()
			if err != nil {
				return err
			}
			n, err := db.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			return app.emit("alerts prune", map[string]int64{"deleted": n}, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted %d resolved alert(s)\n", n)
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "age of the resolution cutoff")
	return cmd
}

// printAlerts renders one alert per block, in the order given.
func printAlerts(w io.Writer, list []alerts.Alert) {
	width := GetTerminalWidth() - 2
	for _, a := range list {
		ack := ""
		if a.Acknowledged {
			ack = DimStyle.Render(" (acknowledged)")
		}
		fmt.Fprintf(w, "%s %s%s\n", RenderSeverity(a.Severity), a.RuleName, ack)
		fmt.Fprintf(w, "  %s\n", runewidth.Truncate(a.Message, width, "..."))
		meta := fmt.Sprintf("  id=%s pet=%s created=%s", a.ID, a.PetID, a.CreatedAt.Local().Format(time.DateTime))
		if a.ResolvedAt != nil {
			meta += fmt.Sprintf(" resolved=%s (%s)", a.ResolvedAt.Local().Format(time.DateTime), a.ResolutionReason)
		}
		fmt.Fprintln(w, DimStyle.Render(meta))
		for _, rec := range a.Recommendations {
			fmt.Fprintf(w, "  - %s\n", rec)
		}
	}
}

// filterPet keeps alerts for petID (all when empty), at most limit of them.
func filterPet(list []alerts.Alert, petID string, limit int) []alerts.Alert {
	out := make([]alerts.Alert, 0, len(list))
	for _, a := range list {
		if petID != "" && a.PetID != petID {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

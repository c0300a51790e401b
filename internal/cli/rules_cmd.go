// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/petwell/internal/alerts"
)

func newRulesCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the alert rule registry",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered alert rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := g.open()
			if err != nil {
				return err
			}
			defer app.Close()

			rules := ruleData(alerts.DefaultRegistry())
			return app.emit("rules list", rules, func(w io.Writer) {
				fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("Alert rules (%d)", len(rules))))
				for _, r := range rules {
					state := ""
					if !r.Enabled {
						state = DimStyle.Render(" (disabled)")
					}
					fmt.Fprintf(w, "%s %-26s %s%s\n", RenderSeverity(r.Severity), r.ID, r.Name, state)
					if r.Description != "" {
						fmt.Fprintln(w, DimStyle.Render("  "+string(r.Category)+": "+r.Description))
					}
				}
			})
		},
	})
	return cmd
}

func ruleData(reg *alerts.Registry) []RuleData {
	rules := reg.Rules()
	out := make([]RuleData, 0, len(rules))
	for _, r := range rules {
		out = append(out, RuleData{
			ID:          r.ID,
			Name:        r.Name,
			Category:    r.Category,
			Severity:    r.Severity,
			Enabled:     r.Enabled,
			Description: r.Description,
		})
	}
	return out
}

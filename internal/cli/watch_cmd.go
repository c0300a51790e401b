// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/petwell/internal/monitor"
	"github.com/jeranaias/petwell/internal/offline"
	"github.com/jeranaias/petwell/internal/session"
)

// ErrSessionEnded is returned by watch when the session expires or another
// process logs out.
var ErrSessionEnded = errors.New("session ended")

func newWatchCommand(g *globalOptions) *cobra.Command {
	var (
		pets      []string
		interval  time.Duration
		once      bool
		keepAlive bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll pet health snapshots and raise alerts until interrupted",
		Long: `Resumes the stored session, then fetches each pet's health snapshot on an
interval and evaluates it. Polling is not user activity: the session's
inactivity timeout ends an unattended watch unless --keep-alive is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := g.open()
			if err != nil {
				return err
			}
			defer app.Close()

			if len(pets) == 0 {
				pets = app.Config.Monitor.Pets
			}
			if len(pets) == 0 {
				return fmt.Errorf("%w: pass --pet or set monitor.pets", monitor.ErrNoPets)
			}
			if interval <= 0 {
				interval = app.Config.Monitor.Interval()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancelCause(ctx)
			defer cancel(nil)

			lc, err := app.Session(ctx, true)
			if err != nil {
				return err
			}
			if err := lc.Resume(ctx); err != nil {
				if errors.Is(err, session.ErrNoSession) {
					return fmt.Errorf("%w: run \"petwell login\" first", err)
				}
				return err
			}
			unsubscribe := lc.Subscribe(func(t session.Transition) {
				if t.To == session.Expired || t.To == session.Anonymous {
					cancel(fmt.Errorf("%w: %s", ErrSessionEnded, t.Reason))
				}
			})
			defer unsubscribe()

			engine, err := app.Engine(ctx)
			if err != nil {
				return err
			}
			table, err := app.SpeciesTable()
			if err != nil {
				return err
			}
			client, err := app.APIClient()
			if err != nil {
				return err
			}

			out := app.out
			m := monitor.New(client, engine, pets,
				monitor.WithInterval(interval),
				monitor.WithSpeciesTable(table),
				monitor.WithLogger(app.Log),
				monitor.WithResultHook(func(r monitor.Result) {
					if keepAlive && r.Err == nil {
						lc.RecordActivity()
					}
					if !app.json {
						printResult(out, r)
					}
				}),
			)

			if once {
				results := m.PollOnce(ctx)
				return app.emit("watch", pollData(results), func(io.Writer) {})
			}

			if !app.json {
				fmt.Fprintln(out, TitleStyle.Render(fmt.Sprintf("Watching %d pet(s) every %s %s", len(pets), interval, offlineBadge())))
			}
			err = m.Run(ctx)
			if cause := context.Cause(ctx); errors.Is(cause, ErrSessionEnded) {
				return cause
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringSliceVarP(&pets, "pet", "p", nil, "pet id to watch (repeatable; default monitor.pets)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll period (default monitor.interval_secs)")
	cmd.Flags().BoolVar(&once, "once", false, "poll a single time and exit")
	cmd.Flags().BoolVar(&keepAlive, "keep-alive", false, "treat each successful poll as session activity")
	return cmd
}

func printResult(w io.Writer, r monitor.Result) {
	stamp := DimStyle.Render(time.Now().Format(time.TimeOnly))
	switch {
	case r.Err != nil:
		fmt.Fprintf(w, "%s %s %s: %v\n", stamp, ErrorStyle.Render("[FAIL]"), r.PetID, r.Err)
	case len(r.Created) == 0:
		fmt.Fprintf(w, "%s %s %s\n", stamp, SuccessStyle.Render("[OK]"), r.PetID)
	default:
		fmt.Fprintf(w, "%s %s %s: %d new alert(s)\n", stamp, WarningStyle.Render("[ALERT]"), r.PetID, len(r.Created))
		printAlerts(w, r.Created)
	}
}

func offlineBadge() string {
	if b := offline.StatusBadge(); b != "" {
		return WarningStyle.Render(b)
	}
	return ""
}

func pollData(results []monitor.Result) []PollData {
	out := make([]PollData, 0, len(results))
	for _, r := range results {
		d := PollData{PetID: r.PetID, Created: r.Created}
		if r.Err != nil {
			d.Error = r.Err.Error()
		}
		out = append(out, d)
	}
	return out
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/petwell/internal/guard"
	"github.com/jeranaias/petwell/internal/offline"
	"github.com/jeranaias/petwell/internal/session"
)

func newLoginCommand(g *globalOptions) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewReader(g.in)
			prompts := cmd.ErrOrStderr()

			var err error
			if email == "" {
				if email, err = promptLine(in, prompts, "Email: "); err != nil {
					return fmt.Errorf("email is required: %w", err)
				}
			}
			password, err := promptPassword(g.in, in, prompts, "Password: ")
			if err != nil {
				return fmt.Errorf("password is required: %w", err)
			}

			app, err := g.open()
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			lc, err := app.Session(ctx, false)
			if err != nil {
				return err
			}
			if err := lc.Login(ctx, email, password); err != nil {
				return err
			}

			data := sessionData(app, lc)
			return app.emit("login", data, func(w io.Writer) {
				fmt.Fprintln(w, SuccessStyle.Render("Signed in"), data.User)
				printSession(w, data)
			})
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email (prompted when empty)")
	return cmd
}

func newLogoutCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and clear stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := g.open()
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			lc, err := app.Session(ctx, false)
			if err != nil {
				return err
			}
			// Resuming loads the access token so the backend can revoke it.
			if err := lc.Resume(ctx); err != nil && !errors.Is(err, session.ErrNoSession) {
				return err
			}
			if err := lc.Logout(ctx); err != nil {
				return err
			}
			return app.emit("logout", map[string]bool{"logged_out": true}, func(w io.Writer) {
				fmt.Fprintln(w, SuccessStyle.Render("Signed out"))
			})
		},
	}
}

func newSessionCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect the stored session",
	}
	cmd.AddCommand(newSessionStatusCommand(g), newSessionUnlockCommand(g))
	return cmd
}

func newSessionStatusCommand(g *globalOptions) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the session state, timeouts and lockout status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := g.open()
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			lc, err := app.Session(ctx, false)
			if err != nil {
				return err
			}
			if err := lc.Resume(ctx); err != nil && !errors.Is(err, session.ErrNoSession) {
				return err
			}

			data := sessionData(app, lc)
			if email == "" {
				email = data.User
			}
			if email != "" {
				gd, err := app.Guard()
				if err != nil {
					return err
				}
				st := gd.Status(email)
				data.FailedLoginAttempts = st.Failures
				if st.Locked {
					data.LockedOutFor = st.Remaining.Round(time.Second).String()
				}
			}

			return app.emit("session status", data, func(w io.Writer) {
				fmt.Fprintln(w, TitleStyle.Render("Session"))
				printSession(w, data)
			})
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account to report lockout status for")
	return cmd
}

func newSessionUnlockCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock EMAIL",
		Short: "Lift a login lockout on this machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := g.open()
			if err != nil {
				return err
			}
			defer app.Close()

			gd, err := app.Guard()
			if err != nil {
				return err
			}
			if err := gd.Unlock(args[0]); err != nil {
				if errors.Is(err, guard.ErrNotLocked) {
					return fmt.Errorf("%s is not locked out", args[0])
				}
				return err
			}
			return app.emit("session unlock", map[string]string{"unlocked": args[0]}, func(w io.Writer) {
				fmt.Fprintln(w, SuccessStyle.Render("Unlocked"), args[0])
			})
		},
	}
}

func sessionData(app *App, lc *session.Lifecycle) SessionData {
	info := lc.Info()
	data := SessionData{
		State:      info.State.String(),
		TokenStore: app.Config.TokenStore.Backend,
		Offline:    offline.IsOfflineMode(),
	}
	if u := lc.User(); u != nil {
		data.User = u.Email
	}
	if !info.IsActive {
		return data
	}
	data.SessionStart = info.SessionStart.Format(time.RFC3339)
	if !info.TokenExpiresAt.IsZero() {
		data.TokenExpiresAt = info.TokenExpiresAt.Format(time.RFC3339)
	}
	data.HardTimeoutIn = info.TimeUntilHardTimeout.Round(time.Second).String()
	data.InactivityTimeoutIn = info.TimeUntilInactivityTimeout.Round(time.Second).String()
	return data
}

func printSession(w io.Writer, d SessionData) {
	row := func(label, value string) {
		if value != "" {
			fmt.Fprintln(w, RenderLabel(label)+ValueStyle.Render(value))
		}
	}
	fmt.Fprintln(w, RenderLabel("State")+RenderStatus(d.State)+" "+d.State)
	row("User", d.User)
	row("Started", d.SessionStart)
	row("Token expires", d.TokenExpiresAt)
	row("Hard timeout in", d.HardTimeoutIn)
	row("Idle timeout in", d.InactivityTimeoutIn)
	row("Token store", d.TokenStore)
	if d.Offline {
		row("Network", offline.StatusBadge())
	}
	if d.FailedLoginAttempts > 0 {
		row("Failed logins", fmt.Sprint(d.FailedLoginAttempts))
	}
	if d.LockedOutFor != "" {
		fmt.Fprintln(w, RenderLabel("Locked out for")+ErrorStyle.Render(d.LockedOutFor))
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jeranaias/petwell/internal/config"
)

func newConfigCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show, validate and edit the configuration",
	}
	cmd.AddCommand(
		newConfigShowCommand(g),
		newConfigValidateCommand(g),
		newConfigInitCommand(g),
		newConfigGetCommand(g),
		newConfigSetCommand(g),
	)
	return cmd
}

// configFile returns --config or the default TOML location.
func (g *globalOptions) configFile() (string, error) {
	if g.configPath != "" {
		return g.configPath, nil
	}
	return config.ConfigPathTOML()
}

// output is a minimal App for config commands, which must work even when
// the file on disk does not validate.
func (g *globalOptions) output() *App {
	return &App{out: g.out, json: g.jsonOutput}
}

func newConfigShowCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := g.open()
			if err != nil {
				return err
			}
			defer app.Close()

			data := map[string]interface{}{"path": app.ConfigPath, "config": app.Config.Masked()}
			return app.emit("config show", data, func(w io.Writer) {
				fmt.Fprintln(w, DimStyle.Render("# "+app.ConfigPath))
				fmt.Fprint(w, app.Config.String())
			})
		},
	}
}

func newConfigValidateCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file for errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := g.configFile()
			if err != nil {
				return err
			}
			cfg, err := config.Read(path)
			if err != nil {
				return err
			}

			data := ValidateData{Path: path, Valid: true}
			verr := cfg.Validate()
			var verrs config.ValidateErrors
			if errors.As(verr, &verrs) {
				data.Valid = false
				for _, e := range verrs {
					data.Errors = append(data.Errors, e.Error())
				}
			} else if verr != nil {
				return verr
			}

			if err := g.output().emit("config validate", data, func(w io.Writer) {
				if data.Valid {
					fmt.Fprintln(w, RenderStatus("ok"), path)
					return
				}
				fmt.Fprintln(w, RenderStatus("fail"), path)
				for _, e := range data.Errors {
					fmt.Fprintln(w, "  "+ErrorStyle.Render("-"), e)
				}
			}); err != nil {
				return err
			}
			if !data.Valid {
				return fmt.Errorf("%d configuration error(s)", len(data.Errors))
			}
			return nil
		},
	}
}

func newConfigInitCommand(g *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := g.configFile()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := save(config.Default(), path); err != nil {
				return err
			}
			return g.output().emit("config init", map[string]string{"path": path}, func(w io.Writer) {
				fmt.Fprintln(w, SuccessStyle.Render("Wrote"), path)
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func newConfigGetCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print one value, e.g. session.max_session_secs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := g.configFile()
			if err != nil {
				return err
			}
			cfg, err := config.Read(path)
			if err != nil {
				return err
			}
			v, err := cfg.Masked().Get(args[0])
			if err != nil {
				return err
			}
			return g.output().emit("config get", map[string]interface{}{args[0]: v}, func(w io.Writer) {
				fmt.Fprintln(w, v)
			})
		},
	}
}

func newConfigSetCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Change one value and save the file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := g.configFile()
			if err != nil {
				return err
			}
			cfg, err := config.Read(path)
			if err != nil {
				return err
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("refusing to save: %w", err)
			}
			if err := save(cfg, path); err != nil {
				return err
			}
			return g.output().emit("config set", map[string]string{args[0]: args[1]}, func(w io.Writer) {
				fmt.Fprintln(w, SuccessStyle.Render("Set"), args[0], "in", path)
			})
		},
	}
}

// save writes JSON for a .json path and TOML otherwise.
func save(cfg *config.Config, path string) error {
	if filepath.Ext(path) == ".json" {
		return config.SaveJSON(cfg, path)
	}
	return config.SaveTOML(cfg, path)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the petwell command tree.
//
// Usage:
//
//	petwell evaluate --snapshot rex.json
//	petwell alerts list [--history] [--pet ID]
//	petwell alerts ack|resolve ID
//	petwell rules list
//	petwell login | logout | session status
//	petwell watch --pet ID...
//	petwell config show|validate|init|get|set
//
// Every command accepts --json for machine-readable output.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	jsonOutput bool
	offline    bool
	logLevel   string

	in  io.Reader
	out io.Writer
}

// open builds an App for a command, writing to the command's output.
func (g *globalOptions) open() (*App, error) {
	return openApp(g, g.out)
}

// NewRootCommand builds the petwell command tree.
func NewRootCommand(version string) *cobra.Command {
	return newRootCommand(&globalOptions{in: os.Stdin, out: os.Stdout}, version)
}

func newRootCommand(g *globalOptions, version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "petwell",
		Short:         "Pet health alerts and session management",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			g.in = cmd.InOrStdin()
			g.out = cmd.OutOrStdout()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&g.configPath, "config", "c", "", "config file path (default ~/.petwell/config.toml)")
	flags.BoolVar(&g.jsonOutput, "json", false, "print machine-readable JSON")
	flags.BoolVar(&g.offline, "offline", false, "refuse all non-localhost network access")
	flags.StringVar(&g.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newEvaluateCommand(g),
		newAlertsCommand(g),
		newRulesCommand(g),
		newLoginCommand(g),
		newLogoutCommand(g),
		newSessionCommand(g),
		newWatchCommand(g),
		newConfigCommand(g),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(version string) int {
	return run(NewRootCommand(version), os.Args[1:], os.Stdout, os.Stderr)
}

func run(root *cobra.Command, args []string, stdout, stderr io.Writer) int {
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	cmd, err := root.ExecuteC()
	if err == nil {
		return 0
	}

	if jsonMode, _ := root.PersistentFlags().GetBool("json"); jsonMode {
		name := strings.TrimPrefix(cmd.CommandPath(), root.Name()+" ")
		_ = NewJSONErrorResponse(name, err).Write(stdout)
	} else {
		fmt.Fprintln(stderr, ErrorStyle.Render("Error:"), err)
	}
	return 1
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared lipgloss styles for petwell commands.
//
// Colors are disabled for non-TTY output and when NO_COLOR is set;
// FORCE_COLOR overrides detection.

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/petwell/internal/alerts"
)

func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for command titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")). // Cyan
			MarginBottom(1)

	// SectionStyle is used for section headers within a command.
	SectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")).
			MarginTop(1)

	// LabelStyle is used for field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(22)

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")). // Green
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // Orange

	// DimStyle is used for secondary information and hints.
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	SeparatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// =============================================================================
// SEVERITY STYLES
// =============================================================================

var severityStyles = map[alerts.Severity]lipgloss.Style{
	alerts.SeverityLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("75")),
	alerts.SeverityMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	alerts.SeverityHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color("202")).Bold(true),
	alerts.SeverityCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).Reverse(true),
}

// RenderSeverity renders a fixed-width severity badge.
func RenderSeverity(sev alerts.Severity) string {
	badge := "[" + strings.ToUpper(sev.String()) + "]"
	style, ok := severityStyles[sev]
	if !ok {
		return DimStyle.Render(badge)
	}
	return style.Render(badge)
}

// =============================================================================
// HELPERS
// =============================================================================

// RenderSeparator renders a horizontal rule, 70 columns unless given.
func RenderSeparator(width ...int) string {
	w := 70
	if len(width) > 0 && width[0] > 0 {
		w = width[0]
	}
	return SeparatorStyle.Render(strings.Repeat("=", w))
}

// RenderStatus renders an [OK]/[FAIL]/[WARN] marker.
func RenderStatus(status string) string {
	switch strings.ToLower(status) {
	case "ok", "success", "active", "valid":
		return SuccessStyle.Render("[OK]")
	case "error", "fail", "failed", "expired", "invalid":
		return ErrorStyle.Render("[FAIL]")
	case "warning", "warn", "pending", "warning_shown":
		return WarningStyle.Render("[WARN]")
	default:
		return DimStyle.Render("[" + strings.ToUpper(status) + "]")
	}
}

// RenderLabel renders a label padded to the label column.
func RenderLabel(label string) string {
	return LabelStyle.Render(label)
}

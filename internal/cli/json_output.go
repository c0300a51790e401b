// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// json_output.go - Machine-readable output for every command.
package cli

import (
	"encoding/json"
	"io"
	"time"

	"github.com/jeranaias/petwell/internal/alerts"
)

// JSONResponse is the envelope printed by --json.
type JSONResponse struct {
	Success bool `json:"success"`

	// Data is the command-specific payload.
	Data interface{} `json:"data"`

	// Error is the error message if Success is false, null otherwise.
	Error *string `json:"error"`

	Timestamp string `json:"timestamp"`
	Command   string `json:"command,omitempty"`
}

// NewJSONResponse creates a successful response.
func NewJSONResponse(command string, data interface{}) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates an error response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	msg := err.Error()
	return &JSONResponse{
		Success:   false,
		Error:     &msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Write encodes the response, indented, to w.
func (r *JSONResponse) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// =============================================================================
// COMMAND PAYLOADS
// =============================================================================

// EvaluateData is the payload of "evaluate".
type EvaluateData struct {
	PetID   string         `json:"pet_id"`
	Created []alerts.Alert `json:"created"`
	Active  []alerts.Alert `json:"active"`
}

// PollData is one pet's outcome in "watch --once".
type PollData struct {
	PetID   string         `json:"pet_id"`
	Created []alerts.Alert `json:"created"`
	Error   string         `json:"error,omitempty"`
}

// AlertListData is the payload of "alerts list".
type AlertListData struct {
	History bool            `json:"history"`
	Alerts  []alerts.Alert  `json:"alerts"`
	Summary *alerts.Summary `json:"summary,omitempty"`
}

// RuleData describes one registered rule.
type RuleData struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Category    alerts.Category `json:"category"`
	Severity    alerts.Severity `json:"severity"`
	Enabled     bool            `json:"enabled"`
	Description string          `json:"description,omitempty"`
}

// SessionData is the payload of "session status" and "login".
type SessionData struct {
	State               string `json:"state"`
	User                string `json:"user,omitempty"`
	SessionStart        string `json:"session_start,omitempty"`
	TokenExpiresAt      string `json:"token_expires_at,omitempty"`
	HardTimeoutIn       string `json:"hard_timeout_in,omitempty"`
	InactivityTimeoutIn string `json:"inactivity_timeout_in,omitempty"`
	TokenStore          string `json:"token_store"`
	Offline             bool   `json:"offline"`
	FailedLoginAttempts int    `json:"failed_login_attempts,omitempty"`
	LockedOutFor        string `json:"locked_out_for,omitempty"`
}

// ValidateData is the payload of "config validate".
type ValidateData struct {
	Path   string   `json:"path"`
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

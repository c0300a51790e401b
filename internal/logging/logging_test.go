// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_InvalidLevel(t *testing.T) {
	_, err := Init(Config{Level: "chatty"})
	require.Error(t, err)
}

func TestInit_FileOutputRequiresPath(t *testing.T) {
	_, err := Init(Config{Level: "info", Output: "file"})
	require.Error(t, err)
}

func TestInit_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "petwell.log")
	cleanup, err := Init(Config{Level: "debug", Format: "json", Output: "file", File: path})
	require.NoError(t, err)

	Event(Std(), "TEST_EVENT").Info("hello")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &line))
	assert.Equal(t, "TEST_EVENT", line["event"])
	assert.Equal(t, "hello", line["msg"])

	// restore defaults for other tests in the package
	_, err = Init(DefaultConfig())
	require.NoError(t, err)
}

func TestEvent_NilLoggerFallsBackToStd(t *testing.T) {
	entry := Event(nil, "X")
	assert.Equal(t, "X", entry.Data["event"])
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Info("dropped")
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}

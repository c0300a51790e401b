// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/petwell/internal/guard"
	"github.com/jeranaias/petwell/internal/offline"
)

// =============================================================================
// HARNESS
// =============================================================================

// home points PETWELL_HOME at a fresh directory and writes config.toml.
func home(t *testing.T, toml string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PETWELL_HOME", dir)
	t.Cleanup(func() { offline.SetOfflineMode(false) })
	cfg := "[logging]\nlevel = \"error\"\n" + toml
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(cfg), 0600))
	return dir
}

type result struct {
	stdout string
	stderr string
	code   int
}

func execute(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	root := newRootCommand(&globalOptions{}, "test")
	root.SetIn(strings.NewReader(stdin))
	var out, errb bytes.Buffer
	code := run(root, args, &out, &errb)
	return result{stdout: out.String(), stderr: errb.String(), code: code}
}

// decode parses a --json envelope and unmarshals its data into v.
func decode(t *testing.T, r result, v interface{}) JSONResponse {
	t.Helper()
	var env struct {
		JSONResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &env), r.stdout)
	if v != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, v))
	}
	return env.JSONResponse
}

func writeSnapshot(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

const feverSnapshot = `{
  "pet": {"id": "rex", "name": "rex", "species": "dog"},
  "snapshot": {
    "as_of": "2025-06-01T09:00:00Z",
    "vitals": [{"date": "2025-06-01T08:00:00Z", "temperature_c": 41.0}]
  }
}`

func mint(t *testing.T, ttl time.Duration) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(ttl).Unix(),
		"iat": time.Now().Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)
	return raw
}

type backend struct {
	srv     *httptest.Server
	logouts atomic.Int32
	reject  atomic.Bool
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{}
	access := mint(t, time.Hour)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/csrf", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"csrf_token": "csrf"})
	})
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, _ *http.Request) {
		if b.reject.Load() {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "bad credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  access,
			"refresh_token": "refresh-1",
			"user":          map[string]string{"id": "u1", "email": "owner@example.com"},
		})
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, _ *http.Request) {
		b.logouts.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /pets/{id}/health-snapshot", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+access {
			writeJSON(w, http.StatusUnauthorized, nil)
			return
		}
		if r.PathValue("id") != "rex" {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "no such pet"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, feverSnapshot)
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// =============================================================================
// RULES / EVALUATE / ALERTS
// =============================================================================

func TestRulesList(t *testing.T) {
	home(t, "")

	r := execute(t, "", "--json", "rules", "list")
	require.Equal(t, 0, r.code, r.stderr)
	var rules []RuleData
	env := decode(t, r, &rules)
	assert.True(t, env.Success)
	assert.Equal(t, "rules list", env.Command)
	assert.Len(t, rules, 10)

	r = execute(t, "", "rules", "list")
	require.Equal(t, 0, r.code)
	assert.Contains(t, r.stdout, "temperature_abnormal")
	assert.Contains(t, r.stdout, "[CRITICAL]")
}

func TestEvaluate_PersistsAndDeduplicates(t *testing.T) {
	dir := home(t, "")
	snap := writeSnapshot(t, dir, feverSnapshot)

	r := execute(t, "", "--json", "evaluate", "--snapshot", snap)
	require.Equal(t, 0, r.code, r.stdout+r.stderr)
	var data EvaluateData
	decode(t, r, &data)
	require.Len(t, data.Created, 1)
	assert.Equal(t, "temperature_abnormal", data.Created[0].RuleID)
	assert.Equal(t, "rex", data.Created[0].PetID)
	assert.Contains(t, data.Created[0].Message, "Rex")

	// A second run in a new process restores state from the database.
	r = execute(t, "", "--json", "evaluate", "--snapshot", snap)
	require.Equal(t, 0, r.code)
	decode(t, r, &data)
	assert.Empty(t, data.Created)
	require.Len(t, data.Active, 1)

	assert.FileExists(t, filepath.Join(dir, "alerts.db"))
}

func TestEvaluate_FromStdin(t *testing.T) {
	home(t, "")
	r := execute(t, feverSnapshot, "evaluate", "-s", "-")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Health check: Rex")
	assert.Contains(t, r.stdout, "Abnormal temperature")
}

func TestEvaluate_RejectsInvalidData(t *testing.T) {
	dir := home(t, "")
	snap := writeSnapshot(t, dir, `{"pet":{"id":"rex","species":"dog"},
		"snapshot":{"weights":[{"date":"2025-06-01T00:00:00Z","weight_kg":-3}]}}`)

	r := execute(t, "", "evaluate", "--snapshot", snap)
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "invalid health data")

	snap = writeSnapshot(t, dir, `{"pet":{"name":"rex"},"snapshot":{}}`)
	r = execute(t, "", "--json", "evaluate", "--snapshot", snap)
	assert.Equal(t, 1, r.code)
	env := decode(t, r, nil)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Contains(t, *env.Error, ErrNoPetID.Error())
	assert.Equal(t, "evaluate", env.Command)
}

func TestAlerts_AckResolveHistory(t *testing.T) {
	dir := home(t, "")
	snap := writeSnapshot(t, dir, feverSnapshot)
	require.Equal(t, 0, execute(t, "", "evaluate", "--snapshot", snap).code)

	var list AlertListData
	r := execute(t, "", "--json", "alerts", "list")
	require.Equal(t, 0, r.code)
	decode(t, r, &list)
	require.Len(t, list.Alerts, 1)
	require.NotNil(t, list.Summary)
	assert.Equal(t, 1, list.Summary.Unacknowledged)
	id := list.Alerts[0].ID

	require.Equal(t, 0, execute(t, "", "alerts", "ack", id).code)
	r = execute(t, "", "--json", "alerts", "list", "--pet", "rex")
	decode(t, r, &list)
	require.Len(t, list.Alerts, 1)
	assert.True(t, list.Alerts[0].Acknowledged)

	r = execute(t, "", "alerts", "resolve", id)
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Resolved")

	r = execute(t, "", "--json", "alerts", "list")
	decode(t, r, &list)
	assert.Empty(t, list.Alerts)

	r = execute(t, "", "--json", "alerts", "list", "--history")
	decode(t, r, &list)
	require.Len(t, list.Alerts, 1)
	assert.Equal(t, id, list.Alerts[0].ID)
	assert.EqualValues(t, "manual", list.Alerts[0].ResolutionReason)

	r = execute(t, "", "--json", "alerts", "prune", "--older-than", "0s")
	require.Equal(t, 0, r.code)
	var pruned map[string]int64
	decode(t, r, &pruned)
	assert.Equal(t, int64(1), pruned["deleted"])
}

func TestAlerts_UnknownID(t *testing.T) {
	home(t, "")
	r := execute(t, "", "alerts", "ack", "nope")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "alert not found")

	r = execute(t, "", "alerts", "resolve", "nope")
	assert.Equal(t, 1, r.code)
}

// =============================================================================
// SESSION
// =============================================================================

func TestLoginStatusLogout(t *testing.T) {
	b := newBackend(t)
	dir := home(t, fmt.Sprintf("[api]\nbase_url = %q\n", b.srv.URL))

	r := execute(t, "s3cret\n", "login", "--email", "owner@example.com")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Signed in")
	assert.FileExists(t, filepath.Join(dir, "credentials.json"))

	var st SessionData
	r = execute(t, "", "--json", "session", "status")
	require.Equal(t, 0, r.code, r.stderr)
	decode(t, r, &st)
	assert.Equal(t, "ACTIVE", st.State)
	assert.Equal(t, "owner@example.com", st.User)
	assert.Equal(t, "file", st.TokenStore)
	assert.NotEmpty(t, st.TokenExpiresAt)

	r = execute(t, "", "logout")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, int32(1), b.logouts.Load())

	r = execute(t, "", "--json", "session", "status")
	decode(t, r, &st)
	assert.Equal(t, "ANONYMOUS", st.State)
}

func TestLogin_PromptsForEmail(t *testing.T) {
	b := newBackend(t)
	home(t, fmt.Sprintf("[api]\nbase_url = %q\n", b.srv.URL))

	r := execute(t, "owner@example.com\ns3cret\n", "login")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stderr, "Email: ")
	assert.Contains(t, r.stderr, "Password: ")

	r = execute(t, "", "login", "--email", "owner@example.com")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "password is required")
}

func TestLogin_LockoutAfterFailures(t *testing.T) {
	b := newBackend(t)
	b.reject.Store(true)
	home(t, fmt.Sprintf("[api]\nbase_url = %q\n[guard]\nmax_login_attempts = 2\n", b.srv.URL))

	for i := 0; i < 2; i++ {
		r := execute(t, "wrong\n", "login", "-e", "owner@example.com")
		require.Equal(t, 1, r.code)
		assert.Contains(t, r.stderr, "invalid credentials")
	}

	b.reject.Store(false)
	r := execute(t, "right\n", "login", "-e", "Owner@Example.com")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, guard.ErrLocked.Error())

	var st SessionData
	r = execute(t, "", "--json", "session", "status", "-e", "owner@example.com")
	decode(t, r, &st)
	assert.NotEmpty(t, st.LockedOutFor)

	require.Equal(t, 0, execute(t, "", "session", "unlock", "owner@example.com").code)
	r = execute(t, "right\n", "login", "-e", "owner@example.com")
	assert.Equal(t, 0, r.code, r.stderr)

	r = execute(t, "", "session", "unlock", "owner@example.com")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "not locked out")
}

func TestOfflineFlagBlocksRemoteBackend(t *testing.T) {
	home(t, "[api]\nbase_url = \"https://api.petwell.app/v1\"\n")

	r := execute(t, "s3cret\n", "--offline", "--json", "login", "-e", "owner@example.com")
	assert.Equal(t, 1, r.code)
	env := decode(t, r, nil)
	assert.False(t, env.Success)
}

// =============================================================================
// WATCH
// =============================================================================

func TestWatchOnce(t *testing.T) {
	b := newBackend(t)
	home(t, fmt.Sprintf("[api]\nbase_url = %q\n", b.srv.URL))
	require.Equal(t, 0, execute(t, "s3cret\n", "login", "-e", "owner@example.com").code)

	r := execute(t, "", "--json", "watch", "--once", "--pet", "rex", "--pet", "ghost")
	require.Equal(t, 0, r.code, r.stderr)
	var polls []PollData
	decode(t, r, &polls)
	require.Len(t, polls, 2)
	assert.Equal(t, "rex", polls[0].PetID)
	require.Len(t, polls[0].Created, 1)
	assert.Equal(t, "temperature_abnormal", polls[0].Created[0].RuleID)
	assert.Empty(t, polls[0].Error)
	assert.Equal(t, "ghost", polls[1].PetID)
	assert.Contains(t, polls[1].Error, "no such pet")

	// The alert raised by the watch is visible to later commands.
	var list AlertListData
	decode(t, execute(t, "", "--json", "alerts", "list", "--pet", "rex"), &list)
	assert.Len(t, list.Alerts, 1)
}

func TestWatch_RequiresSession(t *testing.T) {
	b := newBackend(t)
	home(t, fmt.Sprintf("[api]\nbase_url = %q\n", b.srv.URL))

	r := execute(t, "", "watch", "--once", "--pet", "rex")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "petwell login")

	r = execute(t, "", "watch", "--once")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "no pets")
}

// =============================================================================
// CONFIG
// =============================================================================

func TestConfig_InitSetGetValidate(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PETWELL_HOME", dir)
	path := filepath.Join(dir, "config.toml")

	r := execute(t, "", "config", "init")
	require.Equal(t, 0, r.code, r.stderr)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	assert.Equal(t, 1, execute(t, "", "config", "init").code)
	assert.Equal(t, 0, execute(t, "", "config", "init", "--force").code)

	require.Equal(t, 0, execute(t, "", "config", "set", "session.max_session_secs", "3600").code)
	r = execute(t, "", "config", "get", "session.max_session_secs")
	require.Equal(t, 0, r.code)
	assert.Equal(t, "3600\n", r.stdout)

	r = execute(t, "", "config", "set", "token_store.backend", "floppy")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "refusing to save")

	r = execute(t, "", "--json", "config", "validate")
	require.Equal(t, 0, r.code)
	var v ValidateData
	decode(t, r, &v)
	assert.True(t, v.Valid)
	assert.Equal(t, path, v.Path)
}

func TestConfig_ValidateReportsErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "petwell.toml")
	require.NoError(t, os.WriteFile(path, []byte("[token_store]\nbackend = \"floppy\"\n[guard]\nmax_login_attempts = -1\n"), 0600))

	r := execute(t, "", "--config", path, "config", "validate")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stdout, "token_store.backend")

	// Commands that need a working configuration refuse to start.
	r = execute(t, "", "--config", path, "rules", "list")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "invalid config")
}

func TestConfig_ShowMasksSecrets(t *testing.T) {
	home(t, "[notifications]\nsendgrid_key = \"SG.abcdefghijklmnopqrstuvwxyz\"\n")

	r := execute(t, "", "config", "show")
	require.Equal(t, 0, r.code, r.stderr)
	assert.NotContains(t, r.stdout, "abcdefghijklmnopqrstuvwxyz")
	assert.Contains(t, r.stdout, "SG.a...wxyz")

	r = execute(t, "", "--json", "config", "show")
	assert.NotContains(t, r.stdout, "abcdefghijklmnopqrstuvwxyz")
}

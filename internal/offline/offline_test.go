// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withMode sets offline mode for one test and restores it afterwards.
func withMode(t *testing.T, enabled bool) {
	t.Helper()
	original := IsOfflineMode()
	SetOfflineMode(enabled)
	t.Cleanup(func() { SetOfflineMode(original) })
}

// =============================================================================
// MODE MANAGEMENT TESTS
// =============================================================================

func TestSetOfflineMode(t *testing.T) {
	withMode(t, true)
	assert.True(t, IsOfflineMode())
	assert.Equal(t, "[OFFLINE]", StatusBadge())

	SetOfflineMode(false)
	assert.False(t, IsOfflineMode())
	assert.Empty(t, StatusBadge())
}

func TestIsOfflineMode_ThreadSafe(t *testing.T) {
	withMode(t, false)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				SetOfflineMode(j%2 == 0)
				_ = IsOfflineMode()
			}
		}()
	}
	wg.Wait()
}

// =============================================================================
// LOCALHOST DETECTION TESTS
// =============================================================================

func TestIsLocalhost(t *testing.T) {
	tests := []struct {
		host   string
		expect bool
	}{
		{"localhost", true},
		{"LOCALHOST", true},
		{"127.0.0.1", true},
		{"127.0.0.1:8080", true},
		{"127.1.2.3", true},
		{"::1", true},
		{"[::1]", true},
		{"[::1]:8080", true},

		{"api.petwell.app", false},
		{"192.168.1.1", false},
		{"0.0.0.0", false},
		{"", false},
		{"localhost.localdomain", false},
	}

	for _, tc := range tests {
		t.Run(tc.host, func(t *testing.T) {
			assert.Equal(t, tc.expect, IsLocalhost(tc.host))
		})
	}
}

// =============================================================================
// URL VALIDATION TESTS
// =============================================================================

func TestValidateURL_Scheme(t *testing.T) {
	withMode(t, false)

	for _, u := range []string{
		"file:///etc/passwd",
		"javascript:alert(1)",
		"data:text/html,<b>x</b>",
		"ftp://ftp.example.com",
		"",
	} {
		assert.ErrorIs(t, ValidateURL(u), ErrInvalidURLScheme, u)
	}
}

func TestValidateURL_Online(t *testing.T) {
	withMode(t, false)

	require.NoError(t, ValidateURL("https://api.petwell.app/v1"))
	require.NoError(t, ValidateURL("http://127.0.0.1:8080"))
	require.NoError(t, ValidateURL("http://localhost:3000/api"))

	assert.ErrorIs(t, ValidateURL("http://api.petwell.app"), ErrInsecureScheme)
	assert.ErrorIs(t, ValidateURL("https://"), ErrMissingHost)
}

func TestValidateURL_Offline(t *testing.T) {
	withMode(t, true)

	require.NoError(t, ValidateURL("http://127.0.0.1:8080"))
	require.NoError(t, ValidateURL("https://[::1]:8443"))
	assert.ErrorIs(t, ValidateURL("https://api.petwell.app"), ErrNonLocalhost)
}

func TestValidateURL_Adversarial(t *testing.T) {
	withMode(t, true)

	for _, u := range []string{
		"https://localhost.evil.com",
		"https://127.0.0.1.evil.com",
		"https://evil.com#localhost",
		"https://evil.com?host=localhost",
		"https://localhost@evil.com",
	} {
		assert.Error(t, ValidateURL(u), u)
	}
}

// =============================================================================
// FEATURE GUARD TESTS
// =============================================================================

func TestCheckNetworkAllowed(t *testing.T) {
	withMode(t, false)
	require.NoError(t, CheckNetworkAllowed())
	require.NoError(t, CheckHostAllowed("api.petwell.app"))

	SetOfflineMode(true)
	assert.ErrorIs(t, CheckNetworkAllowed(), ErrNetworkBlocked)
	assert.ErrorIs(t, CheckHostAllowed("api.petwell.app"), ErrNetworkBlocked)
	assert.NoError(t, CheckHostAllowed("127.0.0.1:9000"))
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package token

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

// =============================================================================
// PARSE
// =============================================================================

func TestParse(t *testing.T) {
	exp := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	iat := exp.Add(-time.Hour)
	raw := signed(t, jwt.MapClaims{"sub": "u1", "exp": exp.Unix(), "iat": iat.Unix()})

	tok, err := Parse(raw)
	require.NoError(t, err)
	assert.True(t, tok.ExpiresAt.Equal(exp))
	assert.True(t, tok.IssuedAt.Equal(iat))
	assert.Equal(t, raw, tok.Raw)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Parse("not-a-jwt")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Parse(signed(t, jwt.MapClaims{"sub": "u1"}))
	assert.ErrorIs(t, err, ErrNoExpiry)
}

func TestToken_Valid(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tok := Token{Raw: "x", ExpiresAt: now}

	assert.False(t, tok.Valid(now), "expiry at now counts as expired")
	assert.True(t, tok.Valid(now.Add(-time.Second)))
	assert.Equal(t, time.Duration(0), tok.Remaining(now.Add(time.Minute)))
	assert.Equal(t, time.Minute, tok.Remaining(now.Add(-time.Minute)))
	assert.False(t, Token{}.Valid(now.Add(-time.Hour)))
}

func TestCredentials_Access(t *testing.T) {
	exp := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	explicit := exp.Add(-10 * time.Minute)

	t.Run("claim", func(t *testing.T) {
		tok, err := Credentials{AccessToken: signed(t, jwt.MapClaims{"exp": exp.Unix()})}.Access()
		require.NoError(t, err)
		assert.True(t, tok.ExpiresAt.Equal(exp))
	})

	t.Run("explicit wins", func(t *testing.T) {
		tok, err := Credentials{
			AccessToken: signed(t, jwt.MapClaims{"exp": exp.Unix()}),
			ExpiresAt:   explicit,
		}.Access()
		require.NoError(t, err)
		assert.True(t, tok.ExpiresAt.Equal(explicit))
	})

	t.Run("opaque token", func(t *testing.T) {
		tok, err := Credentials{AccessToken: "opaque", ExpiresAt: explicit}.Access()
		require.NoError(t, err)
		assert.Equal(t, "opaque", tok.Raw)
	})

	t.Run("opaque without expiry", func(t *testing.T) {
		_, err := Credentials{AccessToken: "opaque"}.Access()
		assert.Error(t, err)
	})
}

// =============================================================================
// MEMORY STORE
// =============================================================================

type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) add(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) all() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

func TestMemoryStore_PeersSeeChanges(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	a, b := backend.Open(), backend.Open()

	var seenA, seenB recorder
	a.Subscribe(seenA.add)
	b.Subscribe(seenB.add)

	require.NoError(t, a.Set(ctx, KeyAccess, "tok"))
	v, err := b.Get(ctx, KeyAccess)
	require.NoError(t, err)
	assert.Equal(t, "tok", v)

	assert.Empty(t, seenA.all(), "a handle never hears its own writes")
	assert.Equal(t, []Change{{Key: KeyAccess, Value: "tok"}}, seenB.all())

	require.NoError(t, a.Clear(ctx))
	assert.Equal(t, Change{Key: KeyAccess, Removed: true}, seenB.all()[1])
}

func TestMemoryStore_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	a, b := backend.Open(), backend.Open()

	var seen recorder
	unsub := b.Subscribe(seen.add)
	unsub()

	require.NoError(t, a.Set(ctx, KeyRefresh, "r"))
	assert.Empty(t, seen.all())
}

func TestSaveLoadCredentials(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	user := &User{ID: "u1", Email: "owner@example.com", Name: "Sam"}
	require.NoError(t, SaveCredentials(ctx, s, Credentials{AccessToken: "a", RefreshToken: "r"}, user))

	creds, err := LoadCredentials(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, "a", creds.AccessToken)
	assert.Equal(t, "r", creds.RefreshToken)

	got, err := LoadUser(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, user, got)

	require.NoError(t, s.Clear(ctx))
	got, err = LoadUser(ctx, s)
	require.NoError(t, err)
	assert.Nil(t, got)
}

// =============================================================================
// FILE STORE
// =============================================================================

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.json")

	s, err := NewFileStore(path, WithoutWatch())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(ctx, KeyAccess, "tok"))
	require.NoError(t, s.Set(ctx, KeyRefresh, "ref"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	reopened, err := NewFileStore(path, WithoutWatch())
	require.NoError(t, err)
	v, err := reopened.Get(ctx, KeyRefresh)
	require.NoError(t, err)
	assert.Equal(t, "ref", v)

	require.NoError(t, s.Clear(ctx))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	v, err = reopened.Get(ctx, KeyAccess)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestFileStore_Encrypted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.json")
	key, err := ParseKey(hex.EncodeToString(make([]byte, 32)))
	require.NoError(t, err)

	s, err := NewFileStore(path, WithEncryptionKey(key), WithoutWatch())
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, KeyAccess, "secret-token"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret-token")
	assert.Equal(t, "PWE1", string(data[:4]))

	v, err := s.Get(ctx, KeyAccess)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", v)

	_, err = NewFileStore(path, WithoutWatch())
	assert.ErrorIs(t, err, ErrSealed)

	other := make([]byte, 32)
	other[0] = 1
	_, err = NewFileStore(path, WithEncryptionKey(other), WithoutWatch())
	assert.ErrorIs(t, err, ErrSealed)
}

func TestParseKey(t *testing.T) {
	_, err := ParseKey("zz")
	assert.Error(t, err)
	_, err = ParseKey("abcd")
	assert.Error(t, err)
}

func TestFileStore_ExternalRemoval(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.json")

	writer, err := NewFileStore(path, WithoutWatch())
	require.NoError(t, err)
	require.NoError(t, writer.Set(ctx, KeyAccess, "tok"))

	watcher, err := NewFileStore(path)
	require.NoError(t, err)
	defer watcher.Close()

	var seen recorder
	watcher.Subscribe(seen.add)

	require.NoError(t, writer.Clear(ctx))

	require.Eventually(t, func() bool {
		for _, c := range seen.all() {
			if c.Key == KeyAccess && c.Removed {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileStore_OwnWritesSilent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.json")

	s, err := NewFileStore(path)
	require.NoError(t, err)
	defer s.Close()

	var seen recorder
	s.Subscribe(seen.add)

	require.NoError(t, s.Set(ctx, KeyAccess, "tok"))
	require.NoError(t, s.Clear(ctx))

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, seen.all())
}

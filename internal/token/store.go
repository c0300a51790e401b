// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package token

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Key names one of the three credential slots.
type Key string

const (
	KeyAccess  Key = "access_token"
	KeyRefresh Key = "refresh_token"
	KeyUser    Key = "user"
)

// Keys lists every slot in a fixed order.
var Keys = []Key{KeyAccess, KeyRefresh, KeyUser}

// Change describes a slot modification made through another handle on the
// same underlying storage (another process, another client instance). A
// store never reports its own writes to its own subscribers.
type Change struct {
	Key     Key
	Value   string
	Removed bool
}

// Store is durable key-value persistence for the credential slots.
//
// Implementations must make Clear atomic: observers never see a state where
// the access token is gone but the refresh token is still present.
type Store interface {
	Get(ctx context.Context, key Key) (string, error)
	Set(ctx context.Context, key Key, value string) error
	Clear(ctx context.Context) error

	// Subscribe registers fn for external changes and returns a function that
	// removes the subscription.
	Subscribe(fn func(Change)) (unsubscribe func())

	Close() error
}

// SaveCredentials writes the token pair and, when non-nil, the user profile.
func SaveCredentials(ctx context.Context, s Store, creds Credentials, user *User) error {
	if err := s.Set(ctx, KeyAccess, creds.AccessToken); err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}
	if creds.RefreshToken != "" {
		if err := s.Set(ctx, KeyRefresh, creds.RefreshToken); err != nil {
			return fmt.Errorf("failed to store refresh token: %w", err)
		}
	}
	if user != nil {
		data, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("failed to encode user: %w", err)
		}
		if err := s.Set(ctx, KeyUser, string(data)); err != nil {
			return fmt.Errorf("failed to store user: %w", err)
		}
	}
	return nil
}

// LoadCredentials reads the token pair. Missing slots come back empty.
func LoadCredentials(ctx context.Context, s Store) (Credentials, error) {
	access, err := s.Get(ctx, KeyAccess)
	if err != nil {
		return Credentials{}, err
	}
	refresh, err := s.Get(ctx, KeyRefresh)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{AccessToken: access, RefreshToken: refresh}, nil
}

// LoadUser decodes the stored user profile, or returns nil if none is stored.
func LoadUser(ctx context.Context, s Store) (*User, error) {
	raw, err := s.Get(ctx, KeyUser)
	if err != nil || raw == "" {
		return nil, err
	}
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("failed to decode stored user: %w", err)
	}
	return &u, nil
}

// subscribers is the fan-out shared by the store implementations.
type subscribers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Change)
}

func (s *subscribers) add(fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(Change))
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

func (s *subscribers) publish(changes ...Change) {
	s.mu.Lock()
	fns := make([]func(Change), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}

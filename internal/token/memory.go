// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package token

import (
	"context"
	"sync"
)

// MemoryBackend is in-process shared storage. Each handle returned by Open
// behaves like one browser tab over the same profile storage: a write through
// one handle is announced to the subscribers of every other handle.
type MemoryBackend struct {
	mu      sync.Mutex
	values  map[Key]string
	handles map[*MemoryStore]struct{}
}

// NewMemoryBackend creates empty shared storage.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		values:  make(map[Key]string),
		handles: make(map[*MemoryStore]struct{}),
	}
}

// Open returns a new handle on the backend.
func (b *MemoryBackend) Open() *MemoryStore {
	s := &MemoryStore{backend: b}
	b.mu.Lock()
	b.handles[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// MemoryStore is a Store handle on a MemoryBackend.
type MemoryStore struct {
	backend *MemoryBackend
	subs    subscribers
}

// NewMemoryStore returns a handle on its own private backend.
func NewMemoryStore() *MemoryStore {
	return NewMemoryBackend().Open()
}

func (s *MemoryStore) Get(_ context.Context, key Key) (string, error) {
	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.values[key], nil
}

func (s *MemoryStore) Set(_ context.Context, key Key, value string) error {
	b := s.backend
	b.mu.Lock()
	if value == "" {
		delete(b.values, key)
	} else {
		b.values[key] = value
	}
	peers := b.peersLocked(s)
	b.mu.Unlock()

	c := Change{Key: key, Value: value, Removed: value == ""}
	for _, p := range peers {
		p.subs.publish(c)
	}
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	b := s.backend
	b.mu.Lock()
	var changes []Change
	for _, k := range Keys {
		if _, ok := b.values[k]; ok {
			changes = append(changes, Change{Key: k, Removed: true})
		}
	}
	b.values = make(map[Key]string)
	peers := b.peersLocked(s)
	b.mu.Unlock()

	for _, p := range peers {
		p.subs.publish(changes...)
	}
	return nil
}

func (s *MemoryStore) Subscribe(fn func(Change)) func() {
	return s.subs.add(fn)
}

// Close detaches the handle from its backend.
func (s *MemoryStore) Close() error {
	b := s.backend
	b.mu.Lock()
	delete(b.handles, s)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) peersLocked(self *MemoryStore) []*MemoryStore {
	peers := make([]*MemoryStore, 0, len(b.handles))
	for h := range b.handles {
		if h != self {
			peers = append(peers, h)
		}
	}
	return peers
}

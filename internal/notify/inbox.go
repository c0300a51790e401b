// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	"context"
	"sync"

	"github.com/jeranaias/petwell/internal/alerts"
)

// DefaultInboxCapacity bounds the in-app inbox.
const DefaultInboxCapacity = 50

// Item is one inbox entry.
type Item struct {
	Notification alerts.Notification
	Read         bool
}

// Inbox is the in-app channel. It keeps the newest notifications up to its
// capacity and drops the oldest beyond that.
type Inbox struct {
	mu       sync.Mutex
	items    []Item
	capacity int
}

// NewInbox creates an inbox holding at most capacity items.
func NewInbox(capacity int) *Inbox {
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}
	return &Inbox{capacity: capacity}
}

// Notify stores n as unread.
func (b *Inbox) Notify(_ context.Context, n alerts.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, Item{Notification: n})
	if over := len(b.items) - b.capacity; over > 0 {
		b.items = append([]Item(nil), b.items[over:]...)
	}
	return nil
}

// Items returns the inbox newest first.
func (b *Inbox) Items() []Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Item, len(b.items))
	for i, it := range b.items {
		out[len(b.items)-1-i] = it
	}
	return out
}

// Unread counts unread items.
func (b *Inbox) Unread() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, it := range b.items {
		if !it.Read {
			n++
		}
	}
	return n
}

// MarkRead marks every item for alertID read and reports whether any matched.
func (b *Inbox) MarkRead(alertID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	found := false
	for i := range b.items {
		if b.items[i].Notification.AlertID == alertID {
			b.items[i].Read = true
			found = true
		}
	}
	return found
}

// MarkAllRead marks everything read.
func (b *Inbox) MarkAllRead() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		b.items[i].Read = true
	}
}

// Len returns the number of stored items.
func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

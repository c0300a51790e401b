// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func TestManual_FiresInDueOrder(t *testing.T) {
	c := NewManual(epoch)
	var fired []string

	c.AfterFunc(3*time.Minute, func() { fired = append(fired, "c") })
	c.AfterFunc(1*time.Minute, func() { fired = append(fired, "a") })
	c.AfterFunc(2*time.Minute, func() { fired = append(fired, "b") })

	c.Advance(90 * time.Second)
	assert.Equal(t, []string{"a"}, fired)

	c.Advance(2 * time.Minute)
	assert.Equal(t, []string{"a", "b", "c"}, fired)
	assert.Equal(t, epoch.Add(210*time.Second), c.Now())
	assert.Zero(t, c.Pending())
}

func TestManual_CallbackSeesDueTime(t *testing.T) {
	c := NewManual(epoch)
	var seen time.Time
	c.AfterFunc(time.Minute, func() { seen = c.Now() })

	c.Advance(time.Hour)
	assert.Equal(t, epoch.Add(time.Minute), seen)
	assert.Equal(t, epoch.Add(time.Hour), c.Now())
}

func TestManual_StopCancels(t *testing.T) {
	c := NewManual(epoch)
	fired := false
	timer := c.AfterFunc(time.Minute, func() { fired = true })

	require.True(t, timer.Stop())
	require.False(t, timer.Stop())

	c.Advance(time.Hour)
	assert.False(t, fired)
}

func TestManual_NestedSchedulingWithinAdvance(t *testing.T) {
	c := NewManual(epoch)
	count := 0
	var tick func()
	tick = func() {
		count++
		c.AfterFunc(10*time.Second, tick)
	}
	c.AfterFunc(10*time.Second, tick)

	c.Advance(time.Minute)
	assert.Equal(t, 6, count)
	assert.Equal(t, 1, c.Pending())
}

func TestManual_ZeroDelayFiresOnAdvanceZero(t *testing.T) {
	c := NewManual(epoch)
	fired := false
	c.AfterFunc(0, func() { fired = true })

	c.Advance(0)
	assert.True(t, fired)
}

func TestManual_NextDue(t *testing.T) {
	c := NewManual(epoch)
	_, ok := c.NextDue()
	assert.False(t, ok)

	c.AfterFunc(5*time.Minute, func() {})
	c.AfterFunc(2*time.Minute, func() {})
	due, ok := c.NextDue()
	require.True(t, ok)
	assert.Equal(t, epoch.Add(2*time.Minute), due)
}

func TestReal_AfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real().AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("real timer did not fire")
	}
}

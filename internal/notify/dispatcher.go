// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/petwell/internal/alerts"
	"github.com/jeranaias/petwell/internal/logging"
)

// ErrNoSink is returned for a channel that has no sink attached.
var ErrNoSink = errors.New("no sink for channel")

// ChannelError records one failed channel.
type ChannelError struct {
	Channel alerts.Channel
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s: %v", e.Channel, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// Dispatcher routes notifications to per-channel sinks.
type Dispatcher struct {
	mu     sync.RWMutex
	sinks  map[alerts.Channel]alerts.NotificationSink
	always []alerts.NotificationSink
	log    logrus.FieldLogger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithChannel attaches sink to channel c.
func WithChannel(c alerts.Channel, sink alerts.NotificationSink) DispatcherOption {
	return func(d *Dispatcher) {
		if sink != nil {
			d.sinks[c] = sink
		}
	}
}

// WithAlways attaches a sink that sees every notification regardless of
// channel, such as a LogSink.
func WithAlways(sink alerts.NotificationSink) DispatcherOption {
	return func(d *Dispatcher) {
		if sink != nil {
			d.always = append(d.always, sink)
		}
	}
}

// WithDispatcherLogger sets the logger for delivery failures.
func WithDispatcherLogger(l logrus.FieldLogger) DispatcherOption {
	return func(d *Dispatcher) { d.log = l }
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sinks: make(map[alerts.Channel]alerts.NotificationSink),
		log:   logging.Std(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Attach replaces the sink for channel c. A nil sink detaches it.
func (d *Dispatcher) Attach(c alerts.Channel, sink alerts.NotificationSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sink == nil {
		delete(d.sinks, c)
		return
	}
	d.sinks[c] = sink
}

// Channels returns the channels that currently have a sink, in fixed order.
func (d *Dispatcher) Channels() []alerts.Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []alerts.Channel
	for _, c := range alerts.Channels {
		if _, ok := d.sinks[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Notify delivers n to every channel it names. All channels are attempted;
// the returned error joins one ChannelError per failure.
func (d *Dispatcher) Notify(ctx context.Context, n alerts.Notification) error {
	d.mu.RLock()
	always := append([]alerts.NotificationSink(nil), d.always...)
	targets := make([]alerts.NotificationSink, len(n.Channels))
	for i, c := range n.Channels {
		targets[i] = d.sinks[c]
	}
	d.mu.RUnlock()

	for _, s := range always {
		if err := s.Notify(ctx, n); err != nil {
			d.log.WithError(err).Debug("notification observer failed")
		}
	}

	var errs []error
	for i, c := range n.Channels {
		sink := targets[i]
		if sink == nil {
			errs = append(errs, &ChannelError{Channel: c, Err: ErrNoSink})
			continue
		}
		if err := sink.Notify(ctx, n); err != nil {
			logging.Event(d.log, "NOTIFY_FAILED").WithFields(logrus.Fields{
				"channel":  c,
				"alert_id": n.AlertID,
			}).WithError(err).Warn("notification delivery failed")
			errs = append(errs, &ChannelError{Channel: c, Err: err})
		}
	}
	return errors.Join(errs...)
}

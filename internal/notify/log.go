// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/petwell/internal/alerts"
	"github.com/jeranaias/petwell/internal/logging"
)

// LogSink writes each notification as a structured log line.
type LogSink struct {
	log logrus.FieldLogger
}

// NewLogSink creates a LogSink. A nil logger uses the process logger.
func NewLogSink(l logrus.FieldLogger) *LogSink {
	if l == nil {
		l = logging.Std()
	}
	return &LogSink{log: l}
}

// Notify never fails.
func (s *LogSink) Notify(_ context.Context, n alerts.Notification) error {
	logging.Event(s.log, "NOTIFICATION").WithFields(logrus.Fields{
		"alert_id": n.AlertID,
		"pet_id":   n.PetID,
		"severity": n.Severity.String(),
		"channels": n.Channels,
	}).Info(n.Title)
	return nil
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/petwell/internal/alerts"
	"github.com/jeranaias/petwell/internal/logging"
)

func sample(id string, channels ...alerts.Channel) alerts.Notification {
	return alerts.Notification{
		Type:     "health_alert",
		Title:    "Significant weight loss",
		Message:  "Rex has lost 11.0% of body weight in 14 days (10.0 kg to 8.9 kg).",
		Severity: alerts.SeverityHigh,
		AlertID:  id,
		PetID:    "pet-1",
		Channels: channels,
		At:       time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

type fakeSink struct {
	mu   sync.Mutex
	got  []alerts.Notification
	fail error
}

func (f *fakeSink) Notify(_ context.Context, n alerts.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, n)
	return f.fail
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

// =============================================================================
// DISPATCHER
// =============================================================================

func TestDispatcher_RoutesByChannel(t *testing.T) {
	inbox := NewInbox(10)
	push := &fakeSink{}
	email := &fakeSink{}
	d := NewDispatcher(
		WithChannel(alerts.ChannelInApp, inbox),
		WithChannel(alerts.ChannelPush, push),
		WithChannel(alerts.ChannelEmail, email),
		WithDispatcherLogger(logging.Discard()),
	)

	require.NoError(t, d.Notify(context.Background(), sample("a1", alerts.ChannelInApp, alerts.ChannelPush)))

	assert.Equal(t, 1, inbox.Len())
	assert.Equal(t, 1, push.count())
	assert.Zero(t, email.count())
	assert.Equal(t, []alerts.Channel{alerts.ChannelInApp, alerts.ChannelPush, alerts.ChannelEmail}, d.Channels())
}

func TestDispatcher_FailingChannelDoesNotStopOthers(t *testing.T) {
	inbox := NewInbox(10)
	boom := errors.New("webhook down")
	push := &fakeSink{fail: boom}
	email := &fakeSink{}
	d := NewDispatcher(
		WithChannel(alerts.ChannelPush, push),
		WithChannel(alerts.ChannelInApp, inbox),
		WithChannel(alerts.ChannelEmail, email),
		WithDispatcherLogger(logging.Discard()),
	)

	err := d.Notify(context.Background(), sample("a1", alerts.ChannelPush, alerts.ChannelInApp, alerts.ChannelEmail))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var ce *ChannelError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, alerts.ChannelPush, ce.Channel)

	assert.Equal(t, 1, inbox.Len())
	assert.Equal(t, 1, email.count())
}

func TestDispatcher_MissingSink(t *testing.T) {
	d := NewDispatcher(WithDispatcherLogger(logging.Discard()))
	err := d.Notify(context.Background(), sample("a1", alerts.ChannelEmail))
	assert.ErrorIs(t, err, ErrNoSink)

	assert.NoError(t, d.Notify(context.Background(), sample("a2")))
}

func TestDispatcher_AttachDetach(t *testing.T) {
	d := NewDispatcher(WithDispatcherLogger(logging.Discard()))
	sink := &fakeSink{}
	d.Attach(alerts.ChannelPush, sink)
	require.NoError(t, d.Notify(context.Background(), sample("a1", alerts.ChannelPush)))
	assert.Equal(t, 1, sink.count())

	d.Attach(alerts.ChannelPush, nil)
	assert.Empty(t, d.Channels())
}

func TestDispatcher_AlwaysSinkSeesEverything(t *testing.T) {
	logger, hook := test.NewNullLogger()
	d := NewDispatcher(
		WithAlways(NewLogSink(logger)),
		WithChannel(alerts.ChannelInApp, NewInbox(5)),
		WithDispatcherLogger(logging.Discard()),
	)

	require.NoError(t, d.Notify(context.Background(), sample("a1", alerts.ChannelInApp)))

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "NOTIFICATION", entry.Data["event"])
	assert.Equal(t, "a1", entry.Data["alert_id"])
	assert.Equal(t, "high", entry.Data["severity"])
}

// =============================================================================
// INBOX
// =============================================================================

func TestInbox_BoundedNewestFirst(t *testing.T) {
	inbox := NewInbox(3)
	for _, id := range []string{"a1", "a2", "a3", "a4"} {
		require.NoError(t, inbox.Notify(context.Background(), sample(id)))
	}

	items := inbox.Items()
	require.Len(t, items, 3)
	assert.Equal(t, "a4", items[0].Notification.AlertID)
	assert.Equal(t, "a2", items[2].Notification.AlertID)
	assert.Equal(t, 3, inbox.Unread())
}

func TestInbox_MarkRead(t *testing.T) {
	inbox := NewInbox(0)
	require.NoError(t, inbox.Notify(context.Background(), sample("a1")))
	require.NoError(t, inbox.Notify(context.Background(), sample("a2")))

	assert.True(t, inbox.MarkRead("a1"))
	assert.False(t, inbox.MarkRead("missing"))
	assert.Equal(t, 1, inbox.Unread())

	inbox.MarkAllRead()
	assert.Zero(t, inbox.Unread())
}

// =============================================================================
// EMAIL
// =============================================================================

func TestEmailSender_PostsToSendGrid(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s, err := NewEmailSender("sg-key", "alerts@petwell.app", "owner@example.com", WithEmailHost(srv.URL))
	require.NoError(t, err)
	require.NoError(t, s.Notify(context.Background(), sample("a1", alerts.ChannelEmail)))

	assert.Equal(t, "/v3/mail/send", gotPath)
	assert.Equal(t, "Bearer sg-key", gotAuth)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "[high] Significant weight loss", payload["subject"])
	assert.True(t, bytes.Contains(gotBody, []byte("owner@example.com")))
}

func TestEmailSender_RejectsNonAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s, err := NewEmailSender("k", "a@petwell.app", "b@example.com", WithEmailHost(srv.URL))
	require.NoError(t, err)
	err = s.Notify(context.Background(), sample("a1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestEmailSender_RequiresConfig(t *testing.T) {
	_, err := NewEmailSender("", "a@petwell.app", "b@example.com")
	assert.ErrorIs(t, err, ErrEmailNotConfigured)
}

func TestEmailTemplateEscapesHTML(t *testing.T) {
	n := sample("a1")
	n.Title = "<b>Rex</b>"
	_, plain, body := renderEmail(n)
	assert.Equal(t, n.Message, plain)
	assert.True(t, strings.Contains(body, "&lt;b&gt;Rex&lt;/b&gt;"))
}

func TestEmailSubjectTruncated(t *testing.T) {
	n := sample("a1")
	n.Title = strings.Repeat("ü", 200)
	subject, _, _ := renderEmail(n)
	assert.Equal(t, maxSubjectRunes, len([]rune(subject)))
	assert.True(t, strings.HasSuffix(subject, "..."))
}

// =============================================================================
// PUSH
// =============================================================================

func TestPushSender_PostsJSON(t *testing.T) {
	var got alerts.Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p, err := NewPushSender(srv.URL, WithPushClient(srv.Client()))
	require.NoError(t, err)
	require.NoError(t, p.Notify(context.Background(), sample("a1", alerts.ChannelPush)))

	assert.Equal(t, "a1", got.AlertID)
	assert.Equal(t, alerts.SeverityHigh, got.Severity)
	assert.Equal(t, []alerts.Channel{alerts.ChannelPush}, got.Channels)
}

func TestPushSender_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewPushSender(srv.URL)
	require.NoError(t, err)
	assert.ErrorIs(t, p.Notify(context.Background(), sample("a1")), ErrPushRejected)
}

func TestPushSender_InvalidURL(t *testing.T) {
	_, err := NewPushSender("ftp://push.example.com")
	assert.Error(t, err)
}

// =============================================================================
// ENGINE INTEGRATION
// =============================================================================

func TestDispatcherAsEngineSink(t *testing.T) {
	inbox := NewInbox(10)
	d := NewDispatcher(
		WithChannel(alerts.ChannelInApp, inbox),
		WithDispatcherLogger(logging.Discard()),
	)
	var _ alerts.NotificationSink = d

	n := sample("a1", alerts.ChannelInApp)
	require.NoError(t, d.Notify(context.Background(), n))
	items := inbox.Items()
	require.Len(t, items, 1)
	assert.Equal(t, n, items[0].Notification)
	assert.False(t, items[0].Read)
}

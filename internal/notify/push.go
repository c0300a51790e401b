// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"time"

	"github.com/jeranaias/petwell/internal/alerts"
	"github.com/jeranaias/petwell/internal/offline"
)

// ErrPushRejected is returned when the webhook answers outside 2xx.
var ErrPushRejected = errors.New("push webhook rejected notification")

// PushSender posts notifications as JSON to a webhook.
type PushSender struct {
	url    string
	host   string
	client *http.Client
}

// PushOption configures a PushSender.
type PushOption func(*PushSender)

// WithPushClient sets the HTTP client.
func WithPushClient(c *http.Client) PushOption {
	return func(p *PushSender) {
		if c != nil {
			p.client = c
		}
	}
}

// NewPushSender validates url and creates a sender.
func NewPushSender(url string, opts ...PushOption) (*PushSender, error) {
	if err := offline.ValidateURL(url); err != nil {
		return nil, fmt.Errorf("push url: %w", err)
	}
	parsed, err := neturl.Parse(url)
	if err != nil {
		return nil, fmt.Errorf("push url: %w", err)
	}
	p := &PushSender{
		url:    url,
		host:   parsed.Host,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Notify posts n.
func (p *PushSender) Notify(ctx context.Context, n alerts.Notification) error {
	if err := offline.CheckHostAllowed(p.host); err != nil {
		return err
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrPushRejected, resp.StatusCode)
	}
	return nil
}

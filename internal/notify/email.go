// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/jeranaias/petwell/internal/alerts"
	"github.com/jeranaias/petwell/internal/util"
)

// ErrEmailNotConfigured is returned when the API key or addresses are missing.
var ErrEmailNotConfigured = errors.New("email sender not configured")

const sendEndpoint = "/v3/mail/send"

// maxSubjectRunes keeps subjects inside what mail clients display.
const maxSubjectRunes = 78

// EmailSender delivers notifications through the SendGrid v3 API.
type EmailSender struct {
	apiKey   string
	host     string
	from     *mail.Email
	to       *mail.Email
	template func(alerts.Notification) (subject, plain, htmlBody string)
}

// EmailOption configures an EmailSender.
type EmailOption func(*EmailSender)

// WithEmailHost points the sender at another API host.
func WithEmailHost(host string) EmailOption {
	return func(s *EmailSender) { s.host = host }
}

// WithEmailTemplate overrides how a notification is rendered.
func WithEmailTemplate(fn func(alerts.Notification) (subject, plain, htmlBody string)) EmailOption {
	return func(s *EmailSender) {
		if fn != nil {
			s.template = fn
		}
	}
}

// NewEmailSender creates a sender that mails every notification to one
// recipient.
func NewEmailSender(apiKey, from, to string, opts ...EmailOption) (*EmailSender, error) {
	if apiKey == "" || from == "" || to == "" {
		return nil, ErrEmailNotConfigured
	}
	s := &EmailSender{
		apiKey:   apiKey,
		from:     mail.NewEmail("Petwell", from),
		to:       mail.NewEmail("", to),
		template: renderEmail,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Notify sends n. SendGrid answers 202 on acceptance.
func (s *EmailSender) Notify(ctx context.Context, n alerts.Notification) error {
	subject, plain, htmlBody := s.template(n)
	msg := mail.NewSingleEmail(s.from, subject, s.to, plain, htmlBody)

	req := sendgrid.GetRequest(s.apiKey, sendEndpoint, s.host)
	req.Method = http.MethodPost
	req.Body = mail.GetRequestBody(msg)

	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("send email: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func renderEmail(n alerts.Notification) (string, string, string) {
	subject := util.TruncateRunes(fmt.Sprintf("[%s] %s", n.Severity, n.Title), maxSubjectRunes)
	plain := n.Message
	body := fmt.Sprintf("<p><strong>%s</strong></p><p>%s</p>",
		html.EscapeString(n.Title), html.EscapeString(n.Message))
	return subject, plain, body
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package notify delivers alert notifications.
//
// Dispatcher implements alerts.NotificationSink and fans a notification out
// to the channels listed on it: the in-app Inbox, email through SendGrid, and
// a JSON push webhook. A LogSink can be attached to every delivery. A channel
// that fails is reported but never stops the others, and nothing is retried.
package notify

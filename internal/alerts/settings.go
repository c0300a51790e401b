// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package alerts

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

// Channels lists every channel in a fixed order.
var Channels = []Channel{ChannelInApp, ChannelPush, ChannelEmail}

// NotificationSettings crosses channels with severities.
type NotificationSettings struct {
	Channels   map[Channel]bool
	Severities map[Severity]bool
}

// DefaultNotificationSettings enables in-app and push delivery for medium
// and above.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		Channels: map[Channel]bool{
			ChannelInApp: true,
			ChannelPush:  true,
			ChannelEmail: false,
		},
		Severities: map[Severity]bool{
			SeverityLow:      false,
			SeverityMedium:   true,
			SeverityHigh:     true,
			SeverityCritical: true,
		},
	}
}

// EnabledChannels returns the enabled channels in fixed order.
func (s NotificationSettings) EnabledChannels() []Channel {
	var out []Channel
	for _, c := range Channels {
		if s.Channels[c] {
			out = append(out, c)
		}
	}
	return out
}

// ShouldNotify reports whether an alert of severity sev is delivered at all.
func (s NotificationSettings) ShouldNotify(sev Severity) bool {
	return s.Severities[sev] && len(s.EnabledChannels()) > 0
}

func (s NotificationSettings) clone() NotificationSettings {
	c := NotificationSettings{
		Channels:   make(map[Channel]bool, len(s.Channels)),
		Severities: make(map[Severity]bool, len(s.Severities)),
	}
	for k, v := range s.Channels {
		c.Channels[k] = v
	}
	for k, v := range s.Severities {
		c.Severities[k] = v
	}
	return c
}

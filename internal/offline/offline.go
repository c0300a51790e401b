// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"net"
	"net/url"
	"strings"
	"sync"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNetworkBlocked is returned when a network operation is attempted in offline mode.
	ErrNetworkBlocked = errors.New("network operation blocked in offline mode")

	// ErrNonLocalhost is returned for a remote host while offline.
	ErrNonLocalhost = errors.New("only loopback hosts are reachable in offline mode")

	// ErrInvalidURLScheme is returned when the scheme is not http or https.
	ErrInvalidURLScheme = errors.New("only http and https schemes are allowed")

	// ErrInsecureScheme is returned for plain http to a non-loopback host.
	ErrInsecureScheme = errors.New("plain http is only allowed for loopback hosts")

	// ErrMissingHost is returned when the URL has no host.
	ErrMissingHost = errors.New("url has no host")
)

// =============================================================================
// MODE MANAGEMENT
// =============================================================================

var (
	offlineMode      bool
	offlineModeMutex sync.RWMutex
)

// SetOfflineMode enables or disables offline mode for the process.
func SetOfflineMode(enabled bool) {
	offlineModeMutex.Lock()
	defer offlineModeMutex.Unlock()
	offlineMode = enabled
}

// IsOfflineMode returns true if offline mode is enabled.
func IsOfflineMode() bool {
	offlineModeMutex.RLock()
	defer offlineModeMutex.RUnlock()
	return offlineMode
}

// =============================================================================
// URL VALIDATION
// =============================================================================

// IsLocalhost reports whether host names the local machine. A port and IPv6
// brackets are accepted.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))

	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// ValidateURL checks a remote endpoint before it is used. The scheme must be
// http or https, plain http only reaches loopback hosts, and in offline mode
// only loopback hosts are allowed at all.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURLScheme
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrInvalidURLScheme
	}
	host := parsed.Hostname()
	if host == "" {
		return ErrMissingHost
	}
	local := IsLocalhost(host)
	if scheme == "http" && !local {
		return ErrInsecureScheme
	}
	if IsOfflineMode() && !local {
		return ErrNonLocalhost
	}
	return nil
}

// =============================================================================
// FEATURE GUARDS
// =============================================================================

// CheckNetworkAllowed returns ErrNetworkBlocked in offline mode.
func CheckNetworkAllowed() error {
	if IsOfflineMode() {
		return ErrNetworkBlocked
	}
	return nil
}

// CheckHostAllowed returns an error if host cannot be reached right now.
func CheckHostAllowed(host string) error {
	if IsOfflineMode() && !IsLocalhost(host) {
		return ErrNetworkBlocked
	}
	return nil
}

// StatusBadge returns "[OFFLINE]" in offline mode and "" otherwise.
func StatusBadge() string {
	if IsOfflineMode() {
		return "[OFFLINE]"
	}
	return ""
}

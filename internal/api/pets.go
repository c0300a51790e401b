// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/jeranaias/petwell/internal/health"
)

// ErrNoToken is returned when a snapshot is requested without a session.
var ErrNoToken = errors.New("no access token available")

// FetchSnapshot retrieves a pet's profile and health data.
func (c *Client) FetchSnapshot(ctx context.Context, petID string) (health.PetHealth, error) {
	c.mu.Lock()
	src := c.tokens
	c.mu.Unlock()

	var bearer string
	if src != nil {
		bearer = src()
	}
	if bearer == "" {
		return health.PetHealth{}, ErrNoToken
	}

	var ph health.PetHealth
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/pets/" + url.PathEscape(petID) + "/health-snapshot",
		bearer: bearer,
	}, &ph)
	if err != nil {
		return health.PetHealth{}, err
	}
	if ph.Pet.ID == "" {
		ph.Pet.ID = petID
	}
	return ph, nil
}

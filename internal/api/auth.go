// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jeranaias/petwell/internal/session"
	"github.com/jeranaias/petwell/internal/token"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	token.Credentials
	User *token.User `json:"user,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

var _ session.RemoteAuthService = (*Client)(nil)

// Login exchanges a username and password for credentials. A 401 is
// reported as session.ErrInvalidCredentials so the login guard counts it.
func (c *Client) Login(ctx context.Context, username, password string) (token.Credentials, *token.User, error) {
	var resp loginResponse
	err := c.do(ctx, request{
		method:   http.MethodPost,
		path:     "/auth/login",
		body:     loginRequest{Email: username, Password: password},
		mutating: true,
	}, &resp)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return token.Credentials{}, nil, fmt.Errorf("%w: %w", session.ErrInvalidCredentials, err)
		}
		return token.Credentials{}, nil, err
	}
	if resp.AccessToken == "" {
		return token.Credentials{}, nil, errors.New("login response has no access token")
	}
	return resp.Credentials, resp.User, nil
}

// Refresh exchanges a refresh token for new credentials.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (token.Credentials, error) {
	var creds token.Credentials
	err := c.do(ctx, request{
		method:   http.MethodPost,
		path:     "/auth/refresh",
		body:     refreshRequest{RefreshToken: refreshToken},
		mutating: true,
	}, &creds)
	if err != nil {
		return token.Credentials{}, err
	}
	if creds.AccessToken == "" {
		return token.Credentials{}, errors.New("refresh response has no access token")
	}
	return creds, nil
}

// Heartbeat tells the backend the session is still in use.
func (c *Client) Heartbeat(ctx context.Context, accessToken string) error {
	return c.do(ctx, request{
		method:   http.MethodPost,
		path:     "/auth/heartbeat",
		bearer:   accessToken,
		mutating: true,
	}, nil)
}

// Logout revokes the session on the backend.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, request{
		method:   http.MethodPost,
		path:     "/auth/logout",
		bearer:   accessToken,
		mutating: true,
	}, nil)
}

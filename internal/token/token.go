// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package token models the bearer credentials issued by the petwell API and
// the stores that persist them.
//
// Access tokens are JWTs whose exp and iat claims are read without signature
// verification: the client never trusts a token's claims for authorization,
// it only needs to know when to refresh. The API remains the verifier.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformed is returned when a token cannot be decoded.
	ErrMalformed = errors.New("malformed token")

	// ErrNoExpiry is returned when a token carries no exp claim.
	ErrNoExpiry = errors.New("token has no expiry claim")
)

// Token is a decoded bearer credential.
type Token struct {
	Raw       string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

var parser = jwt.NewParser()

// Parse decodes the expiry and issued-at instants embedded in raw.
func Parse(raw string) (Token, error) {
	if raw == "" {
		return Token{}, ErrMalformed
	}

	parsed, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if exp == nil {
		return Token{}, ErrNoExpiry
	}

	t := Token{Raw: raw, ExpiresAt: exp.Time}
	if iat, err := parsed.Claims.GetIssuedAt(); err == nil && iat != nil {
		t.IssuedAt = iat.Time
	}
	return t, nil
}

// Valid reports whether the token is usable at now. A token whose expiry is
// at or before now counts as absent even if it is still stored.
func (t Token) Valid(now time.Time) bool {
	return t.Raw != "" && t.ExpiresAt.After(now)
}

// Remaining returns the time left before expiry, never negative.
func (t Token) Remaining(now time.Time) time.Duration {
	if !t.Valid(now) {
		return 0
	}
	return t.ExpiresAt.Sub(now)
}

// Credentials is what the API returns from login and refresh.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Access decodes the access token. When the API also reported an explicit
// expiry it wins over the embedded claim, which lets opaque (non-JWT) tokens
// work too.
func (c Credentials) Access() (Token, error) {
	t, err := Parse(c.AccessToken)
	if err != nil {
		if c.AccessToken != "" && !c.ExpiresAt.IsZero() {
			return Token{Raw: c.AccessToken, ExpiresAt: c.ExpiresAt}, nil
		}
		return Token{}, err
	}
	if !c.ExpiresAt.IsZero() {
		t.ExpiresAt = c.ExpiresAt
	}
	return t, nil
}

// User is the account profile stored next to the tokens.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

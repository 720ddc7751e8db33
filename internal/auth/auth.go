// Package auth provides bearer token storage and refresh for the realtime client.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Errors
var (
	ErrNoTokens       = errors.New("no tokens stored")
	ErrNoRefreshToken = errors.New("no refresh token")
	ErrMalformedToken = errors.New("malformed token")
)

// Tokens is an access/refresh token pair.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// TokenInfo describes the claims of an access token. The signature is not
// verified; the server remains the authority.
type TokenInfo struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time // Zero if the token carries no exp claim
}

// Expired reports whether the token is past its expiry at now.
func (i TokenInfo) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// ExpiresWithin reports whether the token expires within d of now.
func (i TokenInfo) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !i.ExpiresAt.IsZero() && !now.Add(d).Before(i.ExpiresAt)
}

// Refresher exchanges a refresh token for a new pair.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (Tokens, error)
}

// ParseTokenInfo reads the registered claims of a JWT without verifying it.
func ParseTokenInfo(token string) (TokenInfo, error) {
	if token == "" {
		return TokenInfo{}, ErrNoTokens
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return TokenInfo{}, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}

	info := TokenInfo{Subject: claims.Subject}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}

// LoadTokensFile reads a token pair from a JSON file. A file holding a bare
// token string is treated as an access token without refresh.
func LoadTokensFile(path string) (Tokens, error) {
	if path == "" {
		return Tokens{}, fmt.Errorf("token file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Tokens{}, fmt.Errorf("read token file: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return Tokens{}, ErrNoTokens
	}

	if !strings.HasPrefix(trimmed, "{") {
		return Tokens{AccessToken: trimmed}, nil
	}

	var t Tokens
	if err := json.Unmarshal([]byte(trimmed), &t); err != nil {
		return Tokens{}, fmt.Errorf("parse token file: %w", err)
	}
	if t.AccessToken == "" {
		return Tokens{}, ErrNoTokens
	}
	return t, nil
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// Backend persists a token pair.
type Backend interface {
	// Load returns ErrNoTokens when nothing is stored.
	Load(ctx context.Context) (Tokens, error)
	Save(ctx context.Context, t Tokens) error
	Clear(ctx context.Context) error
}

// StoreOption configures a TokenStore.
type StoreOption func(*TokenStore)

// WithRefresher enables RefreshAccessToken and proactive refresh.
func WithRefresher(r Refresher) StoreOption {
	return func(s *TokenStore) {
		s.refresher = r
	}
}

// WithRefreshLeeway refreshes tokens in CurrentToken when they expire
// within d. Zero disables proactive refresh.
func WithRefreshLeeway(d time.Duration) StoreOption {
	return func(s *TokenStore) {
		s.leeway = d
	}
}

// WithNow overrides the time source used for expiry checks.
func WithNow(now func() time.Time) StoreOption {
	return func(s *TokenStore) {
		s.now = now
	}
}

// TokenStore is the token source used by the connection manager and the
// REST client. It is safe for concurrent use; concurrent refreshes share
// one call to the Refresher.
type TokenStore struct {
	backend   Backend
	refresher Refresher
	leeway    time.Duration
	now       func() time.Time
	logger    *slog.Logger

	refreshes singleflight.Group
}

// NewTokenStore creates a store over backend.
func NewTokenStore(backend Backend, logger *slog.Logger, opts ...StoreOption) *TokenStore {
	if logger == nil {
		logger = slog.Default()
	}

	s := &TokenStore{
		backend: backend,
		leeway:  30 * time.Second,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CurrentToken returns the stored access token, or "" when none is stored.
// A token about to expire is refreshed first when a Refresher is set; if
// that fails the stored token is returned as is.
func (s *TokenStore) CurrentToken(ctx context.Context) (string, error) {
	t, err := s.backend.Load(ctx)
	if errors.Is(err, ErrNoTokens) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load tokens: %w", err)
	}

	if s.refresher == nil || s.leeway <= 0 || t.RefreshToken == "" {
		return t.AccessToken, nil
	}

	info, err := ParseTokenInfo(t.AccessToken)
	if err != nil || !info.ExpiresWithin(s.now(), s.leeway) {
		return t.AccessToken, nil
	}

	fresh, err := s.RefreshAccessToken(ctx)
	if err != nil {
		s.logger.Warn("proactive token refresh failed", "error", err)
		return t.AccessToken, nil
	}
	return fresh, nil
}

// RefreshAccessToken exchanges the stored refresh token for a new pair,
// saves it and returns the new access token.
func (s *TokenStore) RefreshAccessToken(ctx context.Context) (string, error) {
	if s.refresher == nil {
		return "", ErrNoRefreshToken
	}

	v, err, shared := s.refreshes.Do("refresh", func() (any, error) {
		t, err := s.backend.Load(ctx)
		if err != nil {
			return "", err
		}
		if t.RefreshToken == "" {
			return "", ErrNoRefreshToken
		}

		fresh, err := s.refresher.RefreshToken(ctx, t.RefreshToken)
		if err != nil {
			return "", fmt.Errorf("refresh token: %w", err)
		}
		if fresh.RefreshToken == "" {
			fresh.RefreshToken = t.RefreshToken
		}
		if err := s.backend.Save(ctx, fresh); err != nil {
			return "", fmt.Errorf("save tokens: %w", err)
		}

		s.logger.Info("access token refreshed")
		return fresh.AccessToken, nil
	})
	if err != nil {
		return "", err
	}

	if shared {
		s.logger.Debug("joined in-flight token refresh")
	}
	return v.(string), nil
}

// TokenInfo returns the claims of the stored access token.
func (s *TokenStore) TokenInfo(ctx context.Context) (TokenInfo, error) {
	t, err := s.backend.Load(ctx)
	if err != nil {
		return TokenInfo{}, err
	}
	return ParseTokenInfo(t.AccessToken)
}

// SetTokens stores a new pair.
func (s *TokenStore) SetTokens(ctx context.Context, t Tokens) error {
	if t.AccessToken == "" {
		return ErrNoTokens
	}
	return s.backend.Save(ctx, t)
}

// ClearTokens removes the stored pair.
func (s *TokenStore) ClearTokens(ctx context.Context) error {
	return s.backend.Clear(ctx)
}

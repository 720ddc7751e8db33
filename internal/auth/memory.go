package auth

import (
	"context"
	"log/slog"
	"sync"
)

// MemoryBackend keeps tokens in process memory.
type MemoryBackend struct {
	mu     sync.RWMutex
	tokens Tokens
	set    bool
}

func (b *MemoryBackend) Load(context.Context) (Tokens, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.set {
		return Tokens{}, ErrNoTokens
	}
	return b.tokens, nil
}

func (b *MemoryBackend) Save(_ context.Context, t Tokens) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = t
	b.set = true
	return nil
}

func (b *MemoryBackend) Clear(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = Tokens{}
	b.set = false
	return nil
}

// NewMemoryStore creates a TokenStore seeded with initial. An empty
// initial access token leaves the store empty.
func NewMemoryStore(initial Tokens, logger *slog.Logger, opts ...StoreOption) *TokenStore {
	b := &MemoryBackend{}
	if initial.AccessToken != "" {
		b.tokens = initial
		b.set = true
	}
	return NewTokenStore(b, logger, opts...)
}

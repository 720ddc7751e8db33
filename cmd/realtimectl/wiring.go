package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/rickgao/realtime-client/internal/archive"
	"github.com/rickgao/realtime-client/internal/auth"
	"github.com/rickgao/realtime-client/internal/config"
	"github.com/rickgao/realtime-client/internal/connection"
	"github.com/rickgao/realtime-client/internal/events"
)

// newLogger builds the slog handler selected by cfg.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func managerConfig(c config.ConnectionConfig) connection.ManagerConfig {
	return connection.ManagerConfig{
		HandshakeTimeout:     c.HandshakeTimeout,
		ConnectTimeout:       c.ConnectTimeout,
		HeartbeatInterval:    c.HeartbeatInterval,
		HeartbeatTimeout:     c.HeartbeatTimeout,
		SyncInterval:         c.SyncInterval,
		ReconnectBaseWait:    c.ReconnectBaseWait,
		ReconnectMaxWait:     c.ReconnectMaxWait,
		ReconnectJitter:      c.ReconnectJitter,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		MaxPendingOps:        c.MaxPendingOps,
	}
}

func transportConfig(cfg *config.ClientConfig) connection.ClientConfig {
	tc := connection.DefaultClientConfig()
	tc.URL = cfg.API.WSURL
	tc.WriteTimeout = cfg.Connection.WriteTimeout
	tc.ReadLimit = cfg.Connection.ReadLimit
	return tc
}

func archiveConfig(cfg *config.ClientConfig) (archive.Config, error) {
	names := make([]events.Name, 0, len(cfg.Archive.Events))
	for _, raw := range cfg.Archive.Events {
		name := events.Name(raw)
		if !name.IsInbound() {
			return archive.Config{}, fmt.Errorf("archive.events: %q is not a server event", raw)
		}
		names = append(names, name)
	}

	ac := archive.DefaultConfig()
	ac.InstanceID = cfg.Instance.ID
	ac.Events = names
	ac.BatchSize = cfg.Archive.BatchSize
	ac.FlushInterval = cfg.Archive.FlushInterval
	ac.BufferSize = cfg.Archive.BufferSize
	return ac, nil
}

// initialTokens resolves the startup token pair: inline config first, then
// the token file. An empty pair is not an error; a store backed by redis may
// already hold tokens.
func initialTokens(c config.AuthConfig) (auth.Tokens, error) {
	if c.AccessToken != "" {
		return auth.Tokens{AccessToken: c.AccessToken, RefreshToken: c.RefreshToken}, nil
	}
	if c.TokenFile == "" {
		return auth.Tokens{}, nil
	}

	t, err := auth.LoadTokensFile(c.TokenFile)
	if errors.Is(err, auth.ErrNoTokens) {
		return auth.Tokens{}, nil
	}
	return t, err
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"
)

// Validate checks that all required fields are set and values are valid.
func (c *ClientConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := validateURL("api.ws_url", c.API.WSURL, "ws", "wss"); err != nil {
		return err
	}
	if err := validateURL("api.rest_url", c.API.RestURL, "http", "https"); err != nil {
		return err
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	switch c.Auth.Store {
	case "memory":
	case "redis":
		if c.Auth.Redis.Addr == "" {
			return errors.New("auth.redis.addr is required when auth.store is redis")
		}
	default:
		return fmt.Errorf("auth.store must be memory or redis, got %q", c.Auth.Store)
	}

	if err := c.Connection.validate("connection"); err != nil {
		return err
	}

	if c.Archive.Enabled {
		if c.Archive.BatchSize < 1 {
			return errors.New("archive.batch_size must be >= 1")
		}
		if c.Archive.BufferSize < c.Archive.BatchSize {
			return fmt.Errorf("archive.buffer_size (%d) must be >= archive.batch_size (%d)", c.Archive.BufferSize, c.Archive.BatchSize)
		}
		if err := c.Archive.Database.validate("archive.database"); err != nil {
			return err
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (c *ConnectionConfig) validate(prefix string) error {
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"handshake_timeout", c.HandshakeTimeout},
		{"connect_timeout", c.ConnectTimeout},
		{"heartbeat_interval", c.HeartbeatInterval},
		{"heartbeat_timeout", c.HeartbeatTimeout},
		{"sync_interval", c.SyncInterval},
		{"reconnect_base_wait", c.ReconnectBaseWait},
		{"reconnect_max_wait", c.ReconnectMaxWait},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s.%s must be > 0", prefix, d.name)
		}
	}
	if c.ReconnectJitter < 0 {
		return fmt.Errorf("%s.reconnect_jitter must be >= 0", prefix)
	}
	if c.ReconnectMaxWait < c.ReconnectBaseWait {
		return fmt.Errorf("%s.reconnect_max_wait (%s) cannot be less than reconnect_base_wait (%s)", prefix, c.ReconnectMaxWait, c.ReconnectBaseWait)
	}
	if c.ConnectTimeout < c.HandshakeTimeout {
		return fmt.Errorf("%s.connect_timeout (%s) cannot be less than handshake_timeout (%s)", prefix, c.ConnectTimeout, c.HandshakeTimeout)
	}
	if c.MaxReconnectAttempts < 1 {
		return fmt.Errorf("%s.max_reconnect_attempts must be >= 1", prefix)
	}
	if c.MaxPendingOps < 1 {
		return fmt.Errorf("%s.max_pending_ops must be >= 1", prefix)
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("%s.reconcile_interval must be >= 0", prefix)
	}
	if c.ReconcileInterval > 0 && !c.SeedFromAPI {
		return fmt.Errorf("%s.reconcile_interval requires seed_from_api", prefix)
	}
	for i, ch := range c.Channels {
		if ch == "" {
			return fmt.Errorf("%s.channels[%d] is empty", prefix, i)
		}
	}
	return nil
}

func validateURL(name, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", name, err)
	}
	if !slices.Contains(schemes, u.Scheme) {
		return fmt.Errorf("%s scheme must be one of %v, got %q", name, schemes, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host", name)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

package config

import (
	"time"

	"github.com/google/uuid"
)

// Default values for optional configuration fields.
const (
	DefaultRestURL              = "http://localhost:8080/api"
	DefaultWSURL                = "ws://localhost:8080/ws"
	DefaultAPITimeout           = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultAuthStore            = "memory"
	DefaultRefreshLeeway        = 30 * time.Second
	DefaultRedisAddr            = "localhost:6379"
	DefaultRedisPrefix          = "realtime"
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultConnectTimeout       = 20 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultHeartbeatTimeout     = 10 * time.Second
	DefaultSyncInterval         = 5 * time.Minute
	DefaultReconnectBaseWait    = 1 * time.Second
	DefaultReconnectMaxWait     = 30 * time.Second
	DefaultReconnectJitter      = 1 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultMaxPendingOps        = 256
	DefaultWriteTimeout         = 5 * time.Second
	DefaultReadLimit            = 1 << 20
	DefaultForceReconnectDelay  = 1 * time.Minute
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 10000
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

func (c *ClientConfig) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = uuid.NewString()
	}

	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.WSURL == "" {
		c.API.WSURL = DefaultWSURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Auth defaults
	if c.Auth.Store == "" {
		c.Auth.Store = DefaultAuthStore
	}
	if c.Auth.RefreshLeeway == 0 {
		c.Auth.RefreshLeeway = DefaultRefreshLeeway
	}
	if c.Auth.Redis.Addr == "" {
		c.Auth.Redis.Addr = DefaultRedisAddr
	}
	if c.Auth.Redis.Prefix == "" {
		c.Auth.Redis.Prefix = DefaultRedisPrefix
	}

	c.Connection.applyDefaults()

	// Archive defaults
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultBufferSize
	}
	applyDBDefaults(&c.Archive.Database)

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func (c *ConnectionConfig) applyDefaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.ReconnectBaseWait == 0 {
		c.ReconnectBaseWait = DefaultReconnectBaseWait
	}
	if c.ReconnectMaxWait == 0 {
		c.ReconnectMaxWait = DefaultReconnectMaxWait
	}
	if c.ReconnectJitter == 0 {
		c.ReconnectJitter = DefaultReconnectJitter
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.MaxPendingOps == 0 {
		c.MaxPendingOps = DefaultMaxPendingOps
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = DefaultReadLimit
	}
	if c.ForceReconnectDelay == 0 {
		c.ForceReconnectDelay = DefaultForceReconnectDelay
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

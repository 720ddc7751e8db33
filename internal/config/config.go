package config

import "time"

// ClientConfig is the root configuration for a realtime client instance.
type ClientConfig struct {
	Instance   InstanceConfig   `yaml:"instance" toml:"instance"`
	API        APIConfig        `yaml:"api" toml:"api"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	Connection ConnectionConfig `yaml:"connection" toml:"connection"`
	Archive    ArchiveConfig    `yaml:"archive" toml:"archive"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
	Log        LogConfig        `yaml:"log" toml:"log"`
}

// InstanceConfig identifies this client.
type InstanceConfig struct {
	ID string `yaml:"id" toml:"id"`
}

// APIConfig holds server endpoints and REST settings.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url" toml:"rest_url"`
	WSURL      string        `yaml:"ws_url" toml:"ws_url"`
	Timeout    time.Duration `yaml:"timeout" toml:"timeout"`
	MaxRetries int           `yaml:"max_retries" toml:"max_retries"`
}

// AuthConfig selects where tokens come from and where they are kept.
type AuthConfig struct {
	Store         string        `yaml:"store" toml:"store"`           // "memory" or "redis"
	TokenFile     string        `yaml:"token_file" toml:"token_file"` // JSON pair or bare access token
	AccessToken   string        `yaml:"access_token" toml:"access_token"`
	RefreshToken  string        `yaml:"refresh_token" toml:"refresh_token"`
	RefreshLeeway time.Duration `yaml:"refresh_leeway" toml:"refresh_leeway"`
	Redis         RedisConfig   `yaml:"redis" toml:"redis"`
}

// RedisConfig holds the redis token store connection.
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	Prefix   string `yaml:"prefix" toml:"prefix"`
}

// ConnectionConfig holds connection manager and transport settings.
type ConnectionConfig struct {
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout" toml:"handshake_timeout"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout" toml:"connect_timeout"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	HeartbeatTimeout     time.Duration `yaml:"heartbeat_timeout" toml:"heartbeat_timeout"`
	SyncInterval         time.Duration `yaml:"sync_interval" toml:"sync_interval"`
	ReconnectBaseWait    time.Duration `yaml:"reconnect_base_wait" toml:"reconnect_base_wait"`
	ReconnectMaxWait     time.Duration `yaml:"reconnect_max_wait" toml:"reconnect_max_wait"`
	ReconnectJitter      time.Duration `yaml:"reconnect_jitter" toml:"reconnect_jitter"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" toml:"max_reconnect_attempts"`
	MaxPendingOps        int           `yaml:"max_pending_ops" toml:"max_pending_ops"`
	WriteTimeout         time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	ReadLimit            int64         `yaml:"read_limit" toml:"read_limit"`

	// Channels are joined at startup, in addition to any seeded from the API.
	Channels    []string `yaml:"channels" toml:"channels"`
	SeedFromAPI bool     `yaml:"seed_from_api" toml:"seed_from_api"`

	// ReconcileInterval re-reads the API channel list and joins or leaves
	// seeded channels to match. Zero disables it.
	ReconcileInterval time.Duration `yaml:"reconcile_interval" toml:"reconcile_interval"`

	// AutoForceReconnect restarts the reconnect cycle after the attempt
	// budget is exhausted, waiting ForceReconnectDelay first.
	AutoForceReconnect  bool          `yaml:"auto_force_reconnect" toml:"auto_force_reconnect"`
	ForceReconnectDelay time.Duration `yaml:"force_reconnect_delay" toml:"force_reconnect_delay"`
}

// ArchiveConfig holds the optional Postgres event archive.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled" toml:"enabled"`
	Events        []string      `yaml:"events" toml:"events"` // empty means every inbound event
	BatchSize     int           `yaml:"batch_size" toml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval" toml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size" toml:"buffer_size"`
	Database      DBConfig      `yaml:"database" toml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Name     string `yaml:"name" toml:"name"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	SSLMode  string `yaml:"ssl_mode" toml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns" toml:"max_conns"`
	MinConns int    `yaml:"min_conns" toml:"min_conns"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Port    int    `yaml:"port" toml:"port"`
	Path    string `yaml:"path" toml:"path"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // text or json
}

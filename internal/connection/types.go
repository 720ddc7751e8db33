package connection

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/realtime-client/internal/version"
)

// Errors
var (
	ErrNoCredential     = errors.New("no credential available")
	ErrHandshakeTimeout = errors.New("handshake timeout")
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
	ErrMaxAttempts      = errors.New("max reconnect attempts reached")
	ErrClosed           = errors.New("manager closed")
	ErrConnectAborted   = errors.New("connect aborted")
	ErrAlreadyClosed    = errors.New("already closed")
)

// State is the connection state of a Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// CloseReason explains why a connection ended.
type CloseReason int

const (
	// CloseClient is a caller-initiated close. It never reconnects.
	CloseClient CloseReason = iota
	// CloseServer means the server asked the client to leave.
	CloseServer
	// CloseTransportError is a read/write or protocol failure.
	CloseTransportError
	// CloseHeartbeatTimeout is raised locally by the liveness monitor.
	CloseHeartbeatTimeout
)

func (r CloseReason) String() string {
	switch r {
	case CloseClient:
		return "client"
	case CloseServer:
		return "server"
	case CloseTransportError:
		return "transport_error"
	case CloseHeartbeatTimeout:
		return "heartbeat_timeout"
	default:
		return "unknown"
	}
}

// Retryable reports whether losing a connection for this reason should
// start the reconnection routine.
func (r CloseReason) Retryable() bool {
	return r != CloseClient
}

// ReconnectionInfo is a snapshot of the reconnection state.
type ReconnectionInfo struct {
	Attempts    int
	MaxAttempts int
	NextDelay   time.Duration // Delay of the pending reconnect timer, 0 if none
}

// TokenSource supplies the bearer credential for each connection attempt.
// An empty token with a nil error means no credential is available.
type TokenSource interface {
	CurrentToken(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

// CurrentToken calls f.
func (f TokenSourceFunc) CurrentToken(ctx context.Context) (string, error) {
	return f(ctx)
}

// Outbound event names.
const (
	CmdJoinChannel  = "join_channel"
	CmdLeaveChannel = "leave_channel"
	CmdTypingStart  = "typing_start"
	CmdTypingStop   = "typing_stop"
	CmdPing         = "ping"
	CmdRequestSync  = "request_sync"
)

// ChannelParams is the payload of join_channel and leave_channel.
type ChannelParams struct {
	ChannelID string `json:"channelId"`
}

// TypingParams is the payload of typing_start and typing_stop.
type TypingParams struct {
	ChannelID    string `json:"channelId"`
	ThreadRootID string `json:"threadRootId,omitempty"`
}

// PingParams is the empty ping payload.
type PingParams struct{}

// SyncRequest asks the server for events missed since LastSyncTime.
type SyncRequest struct {
	LastSyncTime time.Time `json:"lastSyncTime"`
	Channels     []string  `json:"channels"`
}

// ClientConfig configures the WebSocket transport.
type ClientConfig struct {
	URL          string        // WebSocket URL (e.g., wss://chat.example.com/ws)
	UserAgent    string        // Sent on the upgrade request
	WriteTimeout time.Duration // Write deadline for sends
	ReadLimit    int64         // Max inbound frame size in bytes (0 = unlimited)
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		UserAgent:    version.UserAgent(),
		WriteTimeout: 5 * time.Second,
		ReadLimit:    1 << 20,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	HandshakeTimeout     time.Duration // Bound on transport open + server ack
	ConnectTimeout       time.Duration // End-to-end bound including credential fetch
	HeartbeatInterval    time.Duration // Ping/check period while connected
	HeartbeatTimeout     time.Duration // Grace beyond one interval before declaring death
	SyncInterval         time.Duration // Baseline refresh period while connected
	ReconnectBaseWait    time.Duration // Backoff base
	ReconnectMaxWait     time.Duration // Backoff cap
	ReconnectJitter      time.Duration // Upper bound (exclusive) of random jitter
	MaxReconnectAttempts int           // Attempts before giving up
	MaxPendingOps        int           // Queued typing operations kept while offline
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HandshakeTimeout:     10 * time.Second,
		ConnectTimeout:       20 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		HeartbeatTimeout:     10 * time.Second,
		SyncInterval:         5 * time.Minute,
		ReconnectBaseWait:    1 * time.Second,
		ReconnectMaxWait:     30 * time.Second,
		ReconnectJitter:      1 * time.Second,
		MaxReconnectAttempts: 5,
		MaxPendingOps:        256,
	}
}

// withDefaults fills zero fields from DefaultManagerConfig.
func (c ManagerConfig) withDefaults() ManagerConfig {
	d := DefaultManagerConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = d.SyncInterval
	}
	if c.ReconnectBaseWait <= 0 {
		c.ReconnectBaseWait = d.ReconnectBaseWait
	}
	if c.ReconnectMaxWait <= 0 {
		c.ReconnectMaxWait = d.ReconnectMaxWait
	}
	if c.ReconnectJitter < 0 {
		c.ReconnectJitter = 0
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.MaxPendingOps <= 0 {
		c.MaxPendingOps = d.MaxPendingOps
	}
	return c
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/realtime-client/internal/config"
	"github.com/rickgao/realtime-client/internal/connection"
	"github.com/rickgao/realtime-client/internal/events"
	"github.com/rickgao/realtime-client/internal/metrics"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"})
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line logged at warn level: %q", out)
	}
	var line map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &line); err != nil {
		t.Fatalf("output is not json: %q", out)
	}
	if line["key"] != "value" {
		t.Errorf("key = %v, want value", line["key"])
	}

	buf.Reset()
	logger = newLogger(&buf, config.LogConfig{Level: "bogus", Format: "text"})
	logger.Debug("debug line")
	logger.Info("info line")
	if strings.Contains(buf.String(), "debug line") {
		t.Error("unknown level should fall back to info")
	}
	if !strings.Contains(buf.String(), "msg=\"info line\"") {
		t.Errorf("text output = %q, want msg=\"info line\"", buf.String())
	}
}

func TestManagerConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Connection.HeartbeatInterval = 12 * time.Second
	cfg.Connection.MaxReconnectAttempts = 9

	mc := managerConfig(cfg.Connection)
	if mc.HeartbeatInterval != 12*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 12s", mc.HeartbeatInterval)
	}
	if mc.MaxReconnectAttempts != 9 {
		t.Errorf("MaxReconnectAttempts = %d, want 9", mc.MaxReconnectAttempts)
	}
	if mc.SyncInterval != config.DefaultSyncInterval {
		t.Errorf("SyncInterval = %v, want %v", mc.SyncInterval, config.DefaultSyncInterval)
	}
	if mc.MaxPendingOps != config.DefaultMaxPendingOps {
		t.Errorf("MaxPendingOps = %d, want %d", mc.MaxPendingOps, config.DefaultMaxPendingOps)
	}
}

func TestTransportConfig(t *testing.T) {
	cfg := config.Default()
	cfg.API.WSURL = "wss://chat.example.com/ws"

	tc := transportConfig(cfg)
	if tc.URL != "wss://chat.example.com/ws" {
		t.Errorf("URL = %q, want wss://chat.example.com/ws", tc.URL)
	}
	if tc.ReadLimit != config.DefaultReadLimit {
		t.Errorf("ReadLimit = %d, want %d", tc.ReadLimit, config.DefaultReadLimit)
	}
	if tc.UserAgent == "" {
		t.Error("UserAgent should default to the build user agent")
	}
}

func TestArchiveConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Archive.Events = []string{"message_sent", "thread_reply"}

	ac, err := archiveConfig(cfg)
	if err != nil {
		t.Fatalf("archiveConfig() error: %v", err)
	}
	if len(ac.Events) != 2 || ac.Events[1] != events.ThreadReply {
		t.Errorf("Events = %v, want [message_sent thread_reply]", ac.Events)
	}
	if ac.InstanceID != cfg.Instance.ID {
		t.Errorf("InstanceID = %q, want %q", ac.InstanceID, cfg.Instance.ID)
	}

	cfg.Archive.Events = []string{"connected"}
	if _, err := archiveConfig(cfg); err == nil {
		t.Error("lifecycle event names should be rejected")
	}
}

func TestInitialTokens(t *testing.T) {
	t.Run("inline tokens win", func(t *testing.T) {
		tokens, err := initialTokens(config.AuthConfig{AccessToken: "a", RefreshToken: "r", TokenFile: "/nonexistent"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tokens.AccessToken != "a" || tokens.RefreshToken != "r" {
			t.Errorf("tokens = %+v, want a/r", tokens)
		}
	})

	t.Run("token file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tokens.json")
		if err := os.WriteFile(path, []byte(`{"accessToken":"fa","refreshToken":"fr"}`), 0600); err != nil {
			t.Fatal(err)
		}
		tokens, err := initialTokens(config.AuthConfig{TokenFile: path})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tokens.AccessToken != "fa" || tokens.RefreshToken != "fr" {
			t.Errorf("tokens = %+v, want fa/fr", tokens)
		}
	})

	t.Run("empty token file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tokens")
		if err := os.WriteFile(path, []byte("  \n"), 0600); err != nil {
			t.Fatal(err)
		}
		tokens, err := initialTokens(config.AuthConfig{TokenFile: path})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tokens.AccessToken != "" {
			t.Errorf("AccessToken = %q, want empty", tokens.AccessToken)
		}
	})

	t.Run("missing token file", func(t *testing.T) {
		if _, err := initialTokens(config.AuthConfig{TokenFile: "/nonexistent/tokens.json"}); err == nil {
			t.Error("missing token file should fail")
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		tokens, err := initialTokens(config.AuthConfig{})
		if err != nil || tokens.AccessToken != "" {
			t.Errorf("initialTokens() = %+v, %v; want empty, nil", tokens, err)
		}
	})
}

type nopTransport struct{}

func (nopTransport) Open(context.Context, string, connection.FrameHandler) (connection.Conn, error) {
	return nil, context.Canceled
}

func TestHealthHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	tokens := connection.TokenSourceFunc(func(context.Context) (string, error) { return "tok", nil })
	mgr := connection.NewManager(connection.DefaultManagerConfig(), nopTransport{}, tokens, nil, connection.WithMetrics(m))
	defer mgr.Close()
	mgr.JoinChannel("general")

	handler := newHTTPHandler("/metrics", reg, mgr)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	var health healthStatus
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.State != "disconnected" {
		t.Errorf("State = %q, want disconnected", health.State)
	}
	if len(health.JoinedChannels) != 1 || health.JoinedChannels[0] != "general" {
		t.Errorf("JoinedChannels = %v, want [general]", health.JoinedChannels)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "realtime_connection_state") {
		t.Error("metrics output should include realtime_connection_state")
	}
}

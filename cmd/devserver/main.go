// devserver is a local realtime server for exercising realtimectl.
// Usage: go run ./cmd/devserver --addr :8080 --channels general,random
//
// It serves the WebSocket stream on /ws and the two REST endpoints the
// client uses under /api.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/realtime-client/internal/api"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	token := flag.String("token", "", "accepted access token (empty accepts any)")
	channels := flag.String("channels", "general", "comma-separated channels returned by /api/me/channels")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	hub := NewHub(*token, logger)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           newMux(hub, splitChannels(*channels), *token),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("devserver listening", "addr", *addr, "ws", "/ws", "api", "/api")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	logger.Info("devserver stopped")
}

func splitChannels(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func newMux(hub *Hub, channels []string, token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)

	mux.HandleFunc("POST /api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var req api.RefreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": "refreshToken is required"})
			return
		}

		// A fixed token stays fixed so the hub keeps accepting it.
		access := token
		if access == "" {
			access = "dev-" + uuid.NewString()
		}
		writeJSON(w, http.StatusOK, api.RefreshResponse{AccessToken: access})
	})

	mux.HandleFunc("GET /api/me/channels", func(w http.ResponseWriter, r *http.Request) {
		auth := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if auth == "" || (token != "" && auth != token) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized", "message": "invalid token"})
			return
		}

		resp := api.ChannelsResponse{Channels: make([]api.Channel, 0, len(channels))}
		for _, id := range channels {
			resp.Channels = append(resp.Channels, api.Channel{ID: id, Name: id, Type: "public"})
		}
		writeJSON(w, http.StatusOK, resp)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

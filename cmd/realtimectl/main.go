// realtimectl connects to the realtime event stream and logs every event.
// Usage: go run ./cmd/realtimectl --config configs/realtime.yaml
//
// A .env file next to the working directory is loaded first, so config
// values such as ${REALTIME_ACCESS_TOKEN} can come from it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/realtime-client/internal/api"
	"github.com/rickgao/realtime-client/internal/archive"
	"github.com/rickgao/realtime-client/internal/auth"
	"github.com/rickgao/realtime-client/internal/config"
	"github.com/rickgao/realtime-client/internal/connection"
	"github.com/rickgao/realtime-client/internal/database"
	"github.com/rickgao/realtime-client/internal/events"
	"github.com/rickgao/realtime-client/internal/membership"
	"github.com/rickgao/realtime-client/internal/metrics"
	"github.com/rickgao/realtime-client/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/realtime.yaml", "path to config file (.yaml or .toml)")
	envPath := flag.String("env", ".env", "dotenv file loaded before the config")
	verbose := flag.Bool("verbose", false, "log full event payloads")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envPath, err)
		os.Exit(1)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(os.Stdout, cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting realtimectl",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	if err := run(cfg, *verbose, logger); err != nil {
		logger.Error("realtimectl failed", "error", err)
		os.Exit(1)
	}
	logger.Info("realtimectl stopped")
}

func run(cfg *config.ClientConfig, verbose bool, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store, closeStore, err := buildTokenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	apiClient := api.NewClient(cfg.API.RestURL, store,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	if info, err := store.TokenInfo(ctx); err == nil {
		logger.Info("access token loaded", "subject", info.Subject, "expires_at", info.ExpiresAt)
	}

	transport := connection.NewWSTransport(transportConfig(cfg), logger)
	mgr := connection.NewManager(managerConfig(cfg.Connection), transport, store, logger,
		connection.WithMetrics(m),
	)
	defer mgr.Close()

	logEvents(mgr.Events(), verbose, logger)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Archive.Enabled {
		writer, closePool, err := buildArchive(ctx, cfg, m, logger)
		if err != nil {
			return err
		}
		defer closePool()
		detach := writer.Attach(mgr.Events())
		defer detach()
		g.Go(func() error { return writer.Run(gctx) })
	}

	if cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           newHTTPHandler(cfg.Metrics.Path, reg, mgr),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	for _, id := range cfg.Connection.Channels {
		mgr.JoinChannel(id)
	}
	if cfg.Connection.SeedFromAPI {
		rec := membership.New(membership.Config{
			Interval: cfg.Connection.ReconcileInterval,
			Timeout:  cfg.API.Timeout,
		}, apiClient, mgr, logger.With("component", "membership"))
		if err := rec.Start(ctx); err != nil {
			return fmt.Errorf("seed channels: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			rec.Stop(stopCtx)
		}()
	}

	exhausted := make(chan struct{}, 1)
	mgr.On(events.MaxReconnectAttemptsReached, func(events.Event) { notify(exhausted) })

	if err := mgr.Connect(ctx); err != nil {
		if !cfg.Connection.AutoForceReconnect {
			return fmt.Errorf("connect: %w", err)
		}
		logger.Warn("initial connect failed, will retry", "error", err)
		notify(exhausted)
	}

	if cfg.Connection.AutoForceReconnect {
		g.Go(func() error {
			superviseReconnects(gctx, mgr, exhausted, cfg.Connection.ForceReconnectDelay, logger)
			return nil
		})
	}

	logger.Info("streaming started - press Ctrl+C to stop", "channels", len(mgr.JoinedChannels()))

	<-gctx.Done()
	logger.Info("shutting down...")
	mgr.Close()
	cancel()

	return g.Wait()
}

// buildTokenStore creates the configured token store. Its refresher is a
// separate unauthenticated REST client so refreshes never recurse.
func buildTokenStore(ctx context.Context, cfg *config.ClientConfig, logger *slog.Logger) (*auth.TokenStore, func(), error) {
	initial, err := initialTokens(cfg.Auth)
	if err != nil {
		return nil, nil, fmt.Errorf("load tokens: %w", err)
	}

	refresher := api.NewClient(cfg.API.RestURL, nil,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)
	opts := []auth.StoreOption{
		auth.WithRefresher(refresher),
		auth.WithRefreshLeeway(cfg.Auth.RefreshLeeway),
	}

	switch cfg.Auth.Store {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Auth.Redis.Addr,
			Password: cfg.Auth.Redis.Password,
			DB:       cfg.Auth.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}

		store := auth.NewRedisStore(rdb, cfg.Auth.Redis.Prefix, cfg.Instance.ID, logger, opts...)
		if initial.AccessToken != "" {
			if err := store.SetTokens(ctx, initial); err != nil {
				rdb.Close()
				return nil, nil, fmt.Errorf("seed redis tokens: %w", err)
			}
		}
		logger.Info("using redis token store", "addr", cfg.Auth.Redis.Addr)
		return store, func() { rdb.Close() }, nil
	default:
		if initial.AccessToken == "" {
			logger.Warn("no access token configured; connect will fail until one is set")
		}
		return auth.NewMemoryStore(initial, logger, opts...), func() {}, nil
	}
}

func buildArchive(ctx context.Context, cfg *config.ClientConfig, m *metrics.Metrics, logger *slog.Logger) (*archive.Writer, func(), error) {
	ac, err := archiveConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	pool, err := database.Connect(ctx, cfg.Archive.Database, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect archive database: %w", err)
	}

	writer := archive.NewWriter(ac, pool, logger, m)
	if err := writer.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return writer, pool.Close, nil
}

func notify(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// superviseReconnects restarts the reconnect cycle each time the attempt
// budget runs out. ForceReconnect runs here, never inside a listener.
func superviseReconnects(ctx context.Context, mgr *connection.Manager, exhausted chan struct{}, delay time.Duration, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-exhausted:
		}

		logger.Warn("reconnect attempts exhausted, forcing reconnect", "delay", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if err := mgr.ForceReconnect(ctx); err != nil {
			if errors.Is(err, connection.ErrClosed) {
				return
			}
			// A failed explicit connect does not start the backoff cycle.
			logger.Warn("forced reconnect failed", "error", err)
			notify(exhausted)
		}
	}
}

func logEvents(d *events.Dispatcher, verbose bool, logger *slog.Logger) {
	events.Handle(d, events.StateChanged, func(p events.StatePayload) {
		logger.Info("state changed", "from", p.From, "to", p.To, "reason", p.Reason)
	})
	events.Handle(d, events.Reconnecting, func(p events.StatePayload) {
		logger.Info("reconnecting", "attempt", p.Attempt, "delay", time.Duration(p.DelayMS)*time.Millisecond)
	})
	events.Handle(d, events.Error, func(p events.ErrorPayload) {
		logger.Warn("connection error", "message", p.Message, "attempts", p.Attempts)
	})
	events.Handle(d, events.TypingIndicator, func(p events.TypingPayload) {
		logger.Debug("typing", "channel", p.ChannelID, "user", p.UserID, "typing", p.IsTyping)
	})
	events.Handle(d, events.SyncResponse, func(p events.SyncPayload) {
		logger.Info("sync response",
			"messages", len(p.Messages),
			"reactions", len(p.Reactions),
			"threads", len(p.Threads),
		)
	})

	for _, name := range events.InboundNames() {
		if name == events.Pong || name == events.TypingIndicator || name == events.SyncResponse {
			continue
		}
		d.On(name, func(ev events.Event) {
			if verbose {
				logger.Info("event", "name", ev.Name, "payload", string(ev.Payload))
				return
			}
			logger.Info("event", "name", ev.Name, "bytes", len(ev.Payload))
		})
	}
}

type healthStatus struct {
	Status         string   `json:"status"`
	State          string   `json:"state"`
	Attempts       int      `json:"reconnect_attempts"`
	MaxAttempts    int      `json:"max_reconnect_attempts"`
	LastSyncTime   string   `json:"last_sync_time,omitempty"`
	JoinedChannels []string `json:"joined_channels"`
}

func newHTTPHandler(metricsPath string, reg *prometheus.Registry, mgr *connection.Manager) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		info := mgr.ReconnectionInfo()
		health := healthStatus{
			Status:         "healthy",
			State:          mgr.State().String(),
			Attempts:       info.Attempts,
			MaxAttempts:    info.MaxAttempts,
			JoinedChannels: mgr.JoinedChannels(),
		}
		if t := mgr.LastSyncTime(); !t.IsZero() {
			health.LastSyncTime = t.UTC().Format(time.RFC3339)
		}
		if !mgr.IsConnected() {
			health.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}

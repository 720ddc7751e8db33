package membership

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/rickgao/realtime-client/internal/api"
)

// Lister returns the channels the current user belongs to.
type Lister interface {
	ListMyChannels(ctx context.Context) ([]api.Channel, error)
}

// Joiner is the channel surface of the connection manager.
type Joiner interface {
	JoinChannel(id string)
	LeaveChannel(id string)
	JoinedChannels() []string
}

// Config holds reconciler configuration.
type Config struct {
	Interval time.Duration // Zero runs a single pass from Start.
	Timeout  time.Duration // Per-pass REST timeout.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
		Timeout:  30 * time.Second,
	}
}

// Result describes one reconcile pass.
type Result struct {
	Joined []string
	Left   []string
	Total  int
}

// Reconciler periodically syncs joined channels with the API listing.
type Reconciler struct {
	cfg    Config
	lister Lister
	joiner Joiner
	logger *slog.Logger

	mu      sync.Mutex
	managed map[string]struct{}
	lastRun time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Reconciler.
func New(cfg Config, lister Lister, joiner Joiner, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Reconciler{
		cfg:     cfg,
		lister:  lister,
		joiner:  joiner,
		logger:  logger,
		managed: make(map[string]struct{}),
	}
}

// Start runs an initial blocking pass, then reconciles in the background
// every Interval.
func (r *Reconciler) Start(ctx context.Context) error {
	res, err := r.Reconcile(ctx)
	if err != nil {
		return err
	}
	r.logger.Info("channel membership loaded", "channels", res.Total, "joined", len(res.Joined))

	if r.cfg.Interval <= 0 {
		return nil
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop(ctx)
	}()
	return nil
}

// Stop ends the background loop and waits for an in-flight pass.
func (r *Reconciler) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconciler) loop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			res, err := r.Reconcile(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Error("channel reconciliation failed", "error", err)
				}
				continue
			}
			if len(res.Joined) > 0 || len(res.Left) > 0 {
				r.logger.Info("channel reconciliation found changes",
					"joined", res.Joined,
					"left", res.Left,
					"duration", time.Since(start),
				)
			} else {
				r.logger.Debug("channel reconciliation complete",
					"channels", res.Total,
					"duration", time.Since(start),
				)
			}
		}
	}
}

// Reconcile fetches the API listing once and applies the difference.
// Channels joined by other callers are never left.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	listed, err := r.lister.ListMyChannels(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch membership: %w", err)
	}

	want := make(map[string]struct{}, len(listed))
	for _, id := range api.ChannelIDs(listed) {
		if id != "" {
			want[id] = struct{}{}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	joined := make(map[string]struct{})
	for _, id := range r.joiner.JoinedChannels() {
		joined[id] = struct{}{}
	}

	var res Result
	res.Total = len(want)
	for id := range want {
		if _, ok := joined[id]; ok {
			continue
		}
		r.joiner.JoinChannel(id)
		r.managed[id] = struct{}{}
		res.Joined = append(res.Joined, id)
	}
	for id := range r.managed {
		if _, ok := want[id]; ok {
			continue
		}
		r.joiner.LeaveChannel(id)
		delete(r.managed, id)
		res.Left = append(res.Left, id)
	}
	r.lastRun = time.Now()

	slices.Sort(res.Joined)
	slices.Sort(res.Left)
	return res, nil
}

// JoinChannel joins id on behalf of a caller. The reconciler stops
// managing id, so later passes never leave it.
func (r *Reconciler) JoinChannel(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.managed, id)
	r.joiner.JoinChannel(id)
}

// LeaveChannel leaves id on behalf of a caller. A channel the API still
// lists is joined again by the next pass.
func (r *Reconciler) LeaveChannel(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.managed, id)
	r.joiner.LeaveChannel(id)
}

// Managed returns the channels this reconciler joined, sorted.
func (r *Reconciler) Managed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.managed))
	for id := range r.managed {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// LastRun returns when the last successful pass finished.
func (r *Reconciler) LastRun() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun
}

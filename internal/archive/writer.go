package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/realtime-client/internal/events"
	"github.com/rickgao/realtime-client/internal/metrics"
)

// DB is the subset of *pgxpool.Pool the writer uses.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Config holds writer settings.
type Config struct {
	InstanceID    string
	Events        []events.Name // empty means every inbound event except pong
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // maximum buffered events
	StopTimeout   time.Duration
}

// DefaultConfig returns default writer settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
		StopTimeout:   5 * time.Second,
	}
}

// Stats are cumulative writer counters.
type Stats struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64
}

// Writer buffers dispatched events and batch-inserts them.
type Writer struct {
	cfg     Config
	db      DB
	logger  *slog.Logger
	metrics *metrics.Metrics

	input *Buffer[Record]

	mu    sync.Mutex
	stats Stats

	flushMu sync.Mutex
}

// NewWriter creates a Writer. m may be nil.
func NewWriter(cfg Config, db DB, logger *slog.Logger, m *metrics.Metrics) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize < cfg.BatchSize {
		cfg.BufferSize = max(def.BufferSize, cfg.BatchSize)
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}

	return &Writer{
		cfg:     cfg,
		db:      db,
		logger:  logger.With("component", "archive"),
		metrics: m,
		input:   NewBuffer[Record](min(cfg.BatchSize*2, cfg.BufferSize), cfg.BufferSize),
	}
}

// EnsureSchema creates the archive table if it does not exist.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	if _, err := w.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create archive schema: %w", err)
	}
	return nil
}

// Attach registers the writer on d for the configured events and returns a
// function that removes the registrations.
func (w *Writer) Attach(d *events.Dispatcher) (detach func()) {
	names := w.cfg.Events
	if len(names) == 0 {
		for _, name := range events.InboundNames() {
			if name != events.Pong {
				names = append(names, name)
			}
		}
	}

	ids := make(map[events.Name]events.ListenerID, len(names))
	for _, name := range names {
		if _, dup := ids[name]; dup {
			continue
		}
		ids[name] = d.On(name, w.Record)
	}

	return func() {
		for name, id := range ids {
			d.Off(name, id)
		}
	}
}

// Record buffers one event. It never blocks on the database.
func (w *Writer) Record(ev events.Event) {
	if w.input.Send(newRecord(w.cfg.InstanceID, ev)) {
		w.mu.Lock()
		w.stats.Dropped++
		w.mu.Unlock()
		w.metrics.RecordArchiveDropped()
	}
	w.metrics.SetArchiveBuffered(w.input.Len())
}

// Run drains the buffer until ctx is cancelled, then flushes what is left
// within StopTimeout.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	w.logger.Info("archive writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
		"buffer_size", w.cfg.BufferSize,
	)

	for {
		select {
		case <-ctx.Done():
			w.input.Close()
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.StopTimeout)
			err := w.Flush(stopCtx)
			cancel()
			w.logger.Info("archive writer stopped", "remaining", w.input.Len())
			return err
		case <-w.input.Ready():
			if w.input.Len() >= w.cfg.BatchSize {
				w.flushFull(ctx)
			}
		case <-ticker.C:
			if err := w.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Debug("periodic flush incomplete", "error", err)
			}
		}
	}
}

// flushFull writes batches while at least one full batch is buffered.
func (w *Writer) flushFull(ctx context.Context) {
	for w.input.Len() >= w.cfg.BatchSize {
		if err := w.flushOnce(ctx); err != nil {
			return
		}
	}
}

// Flush writes every buffered event. It stops at the first failed batch;
// the failed batch is counted and discarded.
func (w *Writer) Flush(ctx context.Context) error {
	for w.input.Len() > 0 {
		if err := w.flushOnce(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) flushOnce(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	batch := w.input.Drain(w.cfg.BatchSize)
	w.metrics.SetArchiveBuffered(w.input.Len())
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	conflicts, err := w.batchInsert(ctx, batch)
	w.metrics.RecordArchiveWrite(len(batch)-conflicts, err)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
		return err
	}

	w.mu.Lock()
	w.stats.Inserts += int64(len(batch) - conflicts)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.mu.Unlock()

	w.logger.Debug("flushed events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []Record) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertSQL, r.ID, r.InstanceID, r.Event, []byte(r.Payload), r.ReceivedAt.UnixMicro())
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

// Stats returns current counters.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Buffered returns the number of events waiting to be written.
func (w *Writer) Buffered() int {
	return w.input.Len()
}

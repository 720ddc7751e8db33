package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/realtime-client/internal/clock"
	"github.com/rickgao/realtime-client/internal/events"
	"github.com/rickgao/realtime-client/internal/metrics"
)

// Manager owns one logical connection to the server event stream.
//
// Every state transition happens under mu. The epoch increases whenever a
// connection cycle ends (Disconnect or an unexpected close); reconnect
// timers scheduled under an older epoch do nothing when they fire.
// Transport callbacks are bound to the session they were opened for and
// are ignored once that session is no longer current.
type Manager struct {
	cfg        ManagerConfig
	transport  Transport
	tokens     TokenSource
	clock      clock.Clock
	dispatcher *events.Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	jitter     func() time.Duration

	flight singleflight.Group

	// Held from transport Open until the new handle is committed or closed,
	// so at most one handle is ever live.
	dialMu sync.Mutex

	mu             sync.Mutex
	state          State
	epoch          uint64
	closed         bool
	session        *session
	conn           Conn
	cancelAttempt  context.CancelFunc
	attempts       int
	nextDelay      time.Duration
	reconnectTimer clock.Timer
	timerSeq       uint64
	exhausted      bool
	// retryOnFail is set when the backoff timer fired during an explicit
	// attempt; that attempt's failure re-enters the reconnection routine.
	retryOnFail bool
	channels       channelSet
	pending        []outbound
	live           liveness
	catchup        syncState
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source for heartbeat, sync and backoff timers.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithJitter overrides the backoff jitter source.
func WithJitter(fn func() time.Duration) Option {
	return func(m *Manager) {
		m.jitter = fn
	}
}

// WithMetrics records connection metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithDispatcher uses d instead of a private dispatcher.
func WithDispatcher(d *events.Dispatcher) Option {
	return func(m *Manager) {
		m.dispatcher = d
	}
}

// NewManager creates a disconnected Manager.
func NewManager(cfg ManagerConfig, transport Transport, tokens TokenSource, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:       cfg,
		transport: transport,
		tokens:    tokens,
		clock:     clock.Real(),
		logger:    logger,
		channels:  make(channelSet),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.jitter == nil {
		m.jitter = uniformJitter(cfg.ReconnectJitter)
	}
	if m.dispatcher == nil {
		m.dispatcher = events.NewDispatcher(logger, events.WithPanicHook(func(name events.Name, _ any) {
			m.metrics.RecordListenerPanic(name.String())
		}))
	}
	m.metrics.SetState(int(StateDisconnected))

	return m
}

// session is the FrameHandler for one transport handle.
type session struct {
	m     *Manager
	epoch uint64

	// Guarded by m.mu. Set when the transport closes before the handle
	// is committed.
	closed   bool
	closeErr error
}

func (s *session) HandleFrame(f Frame) {
	s.m.handleFrame(s, f)
}

func (s *session) HandleClose(reason CloseReason, err error) {
	s.m.handleClose(s, reason, err)
}

// emission is a lifecycle event produced under mu and delivered after it.
type emission struct {
	name    events.Name
	payload any
}

type outbox []emission

func (o *outbox) add(name events.Name, payload any) {
	*o = append(*o, emission{name: name, payload: payload})
}

func (m *Manager) deliver(out outbox) {
	for _, e := range out {
		m.dispatcher.EmitJSON(e.name, e.payload)
	}
}

// setStateLocked moves to state to and records a state_changed emission.
func (m *Manager) setStateLocked(to State, reason string, out *outbox) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.metrics.SetState(int(to))
	out.add(events.StateChanged, events.StatePayload{
		From:    from.String(),
		To:      to.String(),
		Attempt: m.attempts,
		Reason:  reason,
	})
}

// Connect establishes the connection. It returns nil immediately when
// already connected. Concurrent callers share one in-flight attempt; a
// caller whose ctx ends stops waiting without aborting the shared attempt.
// A failed explicit Connect is never retried automatically.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	epoch := m.epoch
	m.mu.Unlock()

	return m.connect(ctx, epoch)
}

func (m *Manager) connect(ctx context.Context, epoch uint64) error {
	ch := m.flight.DoChan(strconv.FormatUint(epoch, 10), func() (any, error) {
		return nil, m.attempt(context.WithoutCancel(ctx), epoch)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// attempt runs one connection attempt for epoch.
func (m *Manager) attempt(parent context.Context, epoch uint64) error {
	var out outbox

	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return ErrClosed
	case m.epoch != epoch:
		m.mu.Unlock()
		return ErrConnectAborted
	case m.state == StateConnected:
		m.mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithTimeout(parent, m.cfg.ConnectTimeout)
	defer cancel()

	sess := &session{m: m, epoch: epoch}
	m.session = sess
	m.cancelAttempt = cancel
	m.setStateLocked(StateConnecting, "", &out)
	m.mu.Unlock()

	m.deliver(out)

	token, err := m.credential(ctx)
	if err != nil {
		return m.failAttempt(sess, err)
	}

	m.dialMu.Lock()
	conn, err := m.openTransport(ctx, token, sess)
	if err != nil {
		m.dialMu.Unlock()
		return m.failAttempt(sess, err)
	}
	frames, out, err := m.commit(sess, conn)
	m.dialMu.Unlock()
	if err != nil {
		return err
	}

	m.deliver(out)

	for _, f := range frames {
		m.send(conn, f)
	}
	return nil
}

// credential fetches a fresh token. Tokens are never reused across attempts.
func (m *Manager) credential(ctx context.Context) (string, error) {
	if m.tokens == nil {
		return "", ErrNoCredential
	}

	token, err := m.tokens.CurrentToken(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoCredential, err)
	}
	if token == "" {
		return "", ErrNoCredential
	}
	return token, nil
}

// openTransport opens the transport bounded by the handshake timeout.
func (m *Manager) openTransport(ctx context.Context, token string, sess *session) (Conn, error) {
	hctx, hcancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer hcancel()

	conn, err := m.transport.Open(hctx, token, sess)
	if err == nil {
		return conn, nil
	}

	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return nil, fmt.Errorf("%w: %w", ErrConnectAborted, err)
	case ctx.Err() != nil:
		return nil, fmt.Errorf("connect timeout: %w", err)
	case hctx.Err() != nil:
		return nil, fmt.Errorf("%w: %w", ErrHandshakeTimeout, err)
	}
	return nil, err
}

// commit installs conn as the live handle and returns the frames to send:
// the sync request, one join per channel, then queued operations.
func (m *Manager) commit(sess *session, conn Conn) ([]outbound, outbox, error) {
	var out outbox

	m.mu.Lock()
	if m.session != sess || m.closed {
		m.mu.Unlock()
		conn.Close()
		return nil, nil, ErrConnectAborted
	}
	if sess.closed {
		closeErr := sess.closeErr
		m.mu.Unlock()
		conn.Close()
		return nil, nil, m.failAttempt(sess, fmt.Errorf("closed during handshake: %w", closeErr))
	}

	m.conn = conn
	m.cancelAttempt = nil
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.attempts = 0
	m.nextDelay = 0
	m.exhausted = false
	m.retryOnFail = false

	from := m.state
	m.setStateLocked(StateConnected, "", &out)
	out.add(events.Connected, events.StatePayload{From: from.String(), To: StateConnected.String()})

	m.startHeartbeatLocked(sess)

	var frames []outbound
	if req := m.startSyncLocked(sess); req != nil {
		frames = append(frames, *req)
	}
	frames = append(frames, m.channels.replayFrames()...)
	queued := len(m.pending)
	frames = append(frames, m.pending...)
	m.pending = nil
	joined := len(m.channels)
	m.mu.Unlock()

	m.metrics.RecordConnectAttempt(true)
	m.logger.Info("connected",
		"channels", joined,
		"queued_ops", queued,
	)

	return frames, out, nil
}

// failAttempt ends sess after a failed attempt and returns err.
func (m *Manager) failAttempt(sess *session, err error) error {
	var out outbox

	m.mu.Lock()
	if m.session != sess {
		m.mu.Unlock()
		m.logger.Debug("superseded connect attempt ended", "error", err)
		if !errors.Is(err, ErrConnectAborted) {
			err = fmt.Errorf("%w: %w", ErrConnectAborted, err)
		}
		return err
	}

	m.session = nil
	m.cancelAttempt = nil
	switch {
	case m.reconnectTimer != nil:
		m.setStateLocked(StateReconnecting, "connect_failed", &out)
	case m.retryOnFail && !m.closed:
		m.retryOnFail = false
		m.setStateLocked(StateDisconnected, "connect_failed", &out)
		out.add(events.Error, events.ErrorPayload{Message: err.Error(), Attempts: m.attempts})
		m.reconnectLocked(&out)
	default:
		m.setStateLocked(StateDisconnected, "connect_failed", &out)
	}
	m.mu.Unlock()

	m.metrics.RecordConnectAttempt(false)
	m.logger.Warn("connect failed", "error", err)
	m.deliver(out)

	return err
}

// handleFrame refreshes liveness and re-emits recognized server events.
func (m *Manager) handleFrame(sess *session, f Frame) {
	m.mu.Lock()
	if m.session != sess {
		m.mu.Unlock()
		return
	}
	m.touchLocked()
	m.mu.Unlock()

	m.metrics.RecordFrameReceived(f.Event)

	name := events.Name(f.Event)
	if !name.IsInbound() {
		m.logger.Debug("ignoring unknown event", "event", f.Event)
		return
	}

	receivedAt := f.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = m.clock.Now()
	}
	m.dispatcher.Emit(events.Event{
		Name:       name,
		Payload:    f.Data,
		ReceivedAt: receivedAt,
	})
}

// handleClose reacts to the transport reporting the end of sess.
func (m *Manager) handleClose(sess *session, reason CloseReason, err error) {
	m.mu.Lock()
	if m.session == sess && m.state == StateConnecting {
		sess.closed = true
		sess.closeErr = err
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.sessionLost(sess, reason, err)
}

// sessionLost tears down a connected session and, unless the close was
// caller initiated, starts the reconnection routine.
func (m *Manager) sessionLost(sess *session, reason CloseReason, err error) {
	var out outbox

	m.mu.Lock()
	if m.session != sess || m.state != StateConnected {
		m.mu.Unlock()
		return
	}

	conn := m.endSessionLocked(reason, &out)
	if reason.Retryable() && !m.closed {
		m.reconnectLocked(&out)
	}
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	m.metrics.RecordDisconnect(reason.String())
	m.logger.Warn("connection lost", "reason", reason, "epoch", sess.epoch, "error", err)
	m.deliver(out)
}

// endSessionLocked stops timers, detaches the handle and advances the epoch.
func (m *Manager) endSessionLocked(reason CloseReason, out *outbox) Conn {
	m.stopHeartbeatLocked()
	m.stopSyncLocked()

	conn := m.conn
	m.conn = nil
	m.session = nil
	m.epoch++

	from := m.state
	m.setStateLocked(StateDisconnected, reason.String(), out)
	if from == StateConnected {
		out.add(events.Disconnected, events.StatePayload{
			From:   from.String(),
			To:     StateDisconnected.String(),
			Reason: reason.String(),
		})
	}
	return conn
}

// reconnectLocked schedules the next reconnection or gives up.
func (m *Manager) reconnectLocked(out *outbox) {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}

	m.setStateLocked(StateReconnecting, "", out)

	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.nextDelay = 0
		m.setStateLocked(StateDisconnected, "max_attempts", out)
		if !m.exhausted {
			m.exhausted = true
			m.metrics.RecordMaxAttemptsReached()
			m.logger.Error("giving up reconnecting", "attempts", m.attempts)
			out.add(events.MaxReconnectAttemptsReached, events.ErrorPayload{
				Message:  ErrMaxAttempts.Error(),
				Attempts: m.attempts,
			})
		}
		return
	}

	m.attempts++
	delay := backoffDelay(m.attempts, m.cfg.ReconnectBaseWait, m.cfg.ReconnectMaxWait, m.jitter())
	m.nextDelay = delay

	epoch := m.epoch
	m.timerSeq++
	seq := m.timerSeq
	m.reconnectTimer = m.clock.AfterFunc(delay, func() {
		m.reconnectFired(epoch, seq)
	})

	m.metrics.RecordReconnectScheduled(delay)
	m.logger.Info("reconnect scheduled",
		"attempt", m.attempts,
		"max_attempts", m.cfg.MaxReconnectAttempts,
		"delay", delay,
	)
	out.add(events.Reconnecting, events.StatePayload{
		From:    StateDisconnected.String(),
		To:      StateReconnecting.String(),
		Attempt: m.attempts,
		DelayMS: delay.Milliseconds(),
	})
}

// reconnectFired runs a timer-driven attempt. A failure re-enters the
// reconnection routine, which rechecks the attempt cap. When an explicit
// attempt is already in flight the timer defers to it.
func (m *Manager) reconnectFired(epoch, seq uint64) {
	m.mu.Lock()
	if m.closed || m.epoch != epoch || m.timerSeq != seq {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	m.nextDelay = 0
	switch m.state {
	case StateReconnecting:
	case StateConnecting:
		m.retryOnFail = true
		attempt := m.attempts
		m.mu.Unlock()
		m.logger.Debug("reconnect timer fired during connect attempt", "attempt", attempt)
		return
	default:
		m.mu.Unlock()
		return
	}
	attempt := m.attempts
	m.mu.Unlock()

	m.logger.Info("attempting reconnection", "attempt", attempt)

	err := m.connect(context.Background(), epoch)
	if err == nil || errors.Is(err, ErrConnectAborted) || errors.Is(err, ErrClosed) {
		return
	}

	var out outbox
	m.mu.Lock()
	out.add(events.Error, events.ErrorPayload{Message: err.Error(), Attempts: m.attempts})
	if !m.closed && m.epoch == epoch && m.state == StateDisconnected && m.reconnectTimer == nil {
		m.reconnectLocked(&out)
	}
	m.mu.Unlock()

	m.deliver(out)
}

// Disconnect stops all timers, aborts any in-flight attempt, clears
// reconnection state and queued operations, and closes the transport.
// Joined channels are kept for the next Connect.
func (m *Manager) Disconnect() {
	var out outbox

	m.mu.Lock()
	m.epoch++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopHeartbeatLocked()
	m.stopSyncLocked()

	cancel := m.cancelAttempt
	m.cancelAttempt = nil
	m.session = nil
	conn := m.conn
	m.conn = nil

	m.attempts = 0
	m.nextDelay = 0
	m.exhausted = false
	m.retryOnFail = false
	dropped := len(m.pending)
	m.pending = nil

	from := m.state
	m.setStateLocked(StateDisconnected, CloseClient.String(), &out)
	if from == StateConnected {
		out.add(events.Disconnected, events.StatePayload{
			From:   from.String(),
			To:     StateDisconnected.String(),
			Reason: CloseClient.String(),
		})
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			m.logger.Debug("close error", "error", err)
		}
	}

	if from != StateDisconnected {
		m.logger.Info("disconnected", "from", from, "dropped_ops", dropped)
	}
	m.deliver(out)
}

// ForceReconnect disconnects, resets the attempt counter and connects.
// It is the manual retry after reconnection gave up.
func (m *Manager) ForceReconnect(ctx context.Context) error {
	m.Disconnect()
	return m.Connect(ctx)
}

// Close disconnects and makes every later Connect return ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.Disconnect()
	return nil
}

// IsConnected reports whether the manager is connected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReconnectionInfo returns a snapshot of the reconnection state.
func (m *Manager) ReconnectionInfo() ReconnectionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ReconnectionInfo{
		Attempts:    m.attempts,
		MaxAttempts: m.cfg.MaxReconnectAttempts,
		NextDelay:   m.nextDelay,
	}
}

// Events returns the dispatcher that carries inbound and lifecycle events.
func (m *Manager) Events() *events.Dispatcher {
	return m.dispatcher
}

// On registers a listener. Listeners run synchronously on the goroutine
// that produced the event and must not block on Connect or ForceReconnect.
func (m *Manager) On(name events.Name, fn events.Listener) events.ListenerID {
	return m.dispatcher.On(name, fn)
}

// Off removes a listener registered with On.
func (m *Manager) Off(name events.Name, id events.ListenerID) {
	m.dispatcher.Off(name, id)
}

package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSTransport implements Transport over gorilla/websocket using JSON
// {"event","data"} text frames.
type WSTransport struct {
	cfg    ClientConfig
	logger *slog.Logger
	dialer *websocket.Dialer
}

// NewWSTransport creates a WebSocket transport.
func NewWSTransport(cfg ClientConfig, logger *slog.Logger) *WSTransport {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultClientConfig().WriteTimeout
	}

	return &WSTransport{
		cfg:    cfg,
		logger: logger,
		dialer: &websocket.Dialer{
			Proxy: http.ProxyFromEnvironment,
		},
	}
}

// Open dials the server and waits for its connected frame.
func (t *WSTransport) Open(ctx context.Context, credential string, h FrameHandler) (Conn, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("Authorization", "Bearer "+credential)
	if t.cfg.UserAgent != "" {
		header.Set("User-Agent", t.cfg.UserAgent)
	}

	ws, resp, err := t.dialer.DialContext(ctx, t.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", t.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", t.cfg.URL, err)
	}
	if t.cfg.ReadLimit > 0 {
		ws.SetReadLimit(t.cfg.ReadLimit)
	}

	// Unblock the handshake read when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		ws.SetReadDeadline(time.Now())
	})

	err = t.awaitAck(ws)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		ws.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("handshake: %w", ctxErr)
		}
		return nil, err
	}

	c := &wsConn{
		ws:     ws,
		cfg:    t.cfg,
		logger: t.logger,
		done:   make(chan struct{}),
	}
	go c.readLoop(h)

	t.logger.Debug("websocket connected", "url", t.cfg.URL)

	return c, nil
}

// awaitAck reads frames until the server accepts or rejects the handshake.
func (t *WSTransport) awaitAck(ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("handshake read: %w", err)
		}

		f, err := decodeFrame(data)
		if err != nil {
			t.logger.Debug("ignoring malformed handshake frame", "error", err)
			continue
		}

		switch f.Event {
		case frameConnected:
			return nil
		case frameConnectError:
			return &ConnectError{Reason: decodeReason(f.Data)}
		case frameDisconnect:
			return &ConnectError{Reason: decodeReason(f.Data)}
		default:
			t.logger.Debug("dropping frame before handshake ack", "event", f.Event)
		}
	}
}

// wsConn is one open WebSocket connection.
type wsConn struct {
	ws     *websocket.Conn
	cfg    ClientConfig
	logger *slog.Logger

	// Write serialization
	writeMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Send writes one event frame.
func (c *wsConn) Send(event string, payload any) error {
	if c.closed.Load() {
		return ErrAlreadyClosed
	}

	data, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal close frame and closes the socket.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.writeMu.Lock()
		c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}

// readLoop delivers frames to h until the connection ends.
func (c *wsConn) readLoop(h FrameHandler) {
	defer close(c.done)

	for {
		_, data, err := c.ws.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			reason := c.classify(err)
			c.ws.Close()
			h.HandleClose(reason, err)
			return
		}

		f, err := decodeFrame(data)
		if err != nil {
			c.logger.Debug("dropping malformed frame", "error", err)
			continue
		}

		if f.Event == frameDisconnect {
			c.closed.Store(true)
			c.ws.Close()
			h.HandleClose(CloseServer, fmt.Errorf("server disconnect: %s", decodeReason(f.Data)))
			return
		}

		h.HandleFrame(Frame{
			Event:      f.Event,
			Data:       f.Data,
			ReceivedAt: receivedAt,
		})
	}
}

// classify maps a read error to a close reason.
func (c *wsConn) classify(err error) CloseReason {
	if c.closed.Load() {
		return CloseClient
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return CloseServer
	}
	return CloseTransportError
}

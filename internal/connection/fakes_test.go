package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/realtime-client/internal/clock"
	"github.com/rickgao/realtime-client/internal/events"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type sentFrame struct {
	event   string
	payload any
}

// fakeConn records outbound frames and lets tests inject inbound traffic.
type fakeConn struct {
	h        FrameHandler
	autoPong bool

	mu     sync.Mutex
	sent   []sentFrame
	closed bool
}

func (c *fakeConn) Send(event string, payload any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.sent = append(c.sent, sentFrame{event: event, payload: payload})
	pong := c.autoPong && event == CmdPing
	c.mu.Unlock()

	if pong {
		c.h.HandleFrame(Frame{Event: string(events.Pong), Data: json.RawMessage(`{}`)})
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) frames() []sentFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentFrame, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) eventNames() []string {
	var names []string
	for _, f := range c.frames() {
		names = append(names, f.event)
	}
	return names
}

func (c *fakeConn) count(event string) int {
	n := 0
	for _, f := range c.frames() {
		if f.event == event {
			n++
		}
	}
	return n
}

func (c *fakeConn) deliver(event, data string) {
	c.h.HandleFrame(Frame{Event: event, Data: json.RawMessage(data)})
}

func (c *fakeConn) drop(reason CloseReason) {
	c.h.HandleClose(reason, errors.New("simulated close"))
}

// fakeTransport hands out fakeConns. Open blocks on gate when set.
type fakeTransport struct {
	mu       sync.Mutex
	opens    int
	creds    []string
	conns    []*fakeConn
	gate     chan struct{}
	fail     func(n int) error
	autoPong bool

	// closeDuringOpen reports a close to the handler before Open returns.
	closeDuringOpen bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{autoPong: true}
}

func (t *fakeTransport) Open(ctx context.Context, credential string, h FrameHandler) (Conn, error) {
	t.mu.Lock()
	t.opens++
	n := t.opens
	t.creds = append(t.creds, credential)
	gate := t.gate
	fail := t.fail
	closeEarly := t.closeDuringOpen
	autoPong := t.autoPong
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		if err := fail(n); err != nil {
			return nil, err
		}
	}

	c := &fakeConn{h: h, autoPong: autoPong}
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()

	if closeEarly {
		h.HandleClose(CloseTransportError, errors.New("reset during handshake"))
	}
	return c, nil
}

func (t *fakeTransport) setFail(fn func(n int) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fail = fn
}

func (t *fakeTransport) setGate(gate chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gate = gate
}

func (t *fakeTransport) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[i]
}

func (t *fakeTransport) last() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[len(t.conns)-1]
}

func (t *fakeTransport) liveCount() int {
	t.mu.Lock()
	conns := append([]*fakeConn(nil), t.conns...)
	t.mu.Unlock()

	n := 0
	for _, c := range conns {
		if !c.isClosed() {
			n++
		}
	}
	return n
}

func failAfterFirst(n int) error {
	if n > 1 {
		return errors.New("connection refused")
	}
	return nil
}

func staticToken(token string) TokenSource {
	return TokenSourceFunc(func(context.Context) (string, error) {
		return token, nil
	})
}

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func record(m *Manager, names ...events.Name) *recorder {
	r := &recorder{}
	for _, name := range names {
		m.On(name, func(ev events.Event) {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		})
	}
	return r
}

func (r *recorder) count(name events.Name) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func (r *recorder) payloads(name events.Name) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, string(ev.Payload))
		}
	}
	return out
}

func newTestManager(t *testing.T, tr *fakeTransport, cfg ManagerConfig) (*Manager, *clock.Fake) {
	t.Helper()

	clk := clock.NewFake(testStart)
	m := NewManager(cfg, tr, staticToken("tok"), nil,
		WithClock(clk),
		WithJitter(func() time.Duration { return 0 }),
	)
	t.Cleanup(func() { m.Close() })
	return m, clk
}

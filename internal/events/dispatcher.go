package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Event is a single emission delivered to listeners.
type Event struct {
	Name       Name
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Listener receives events for the names it was registered under.
type Listener func(Event)

// ListenerID identifies a registration so it can be removed with Off.
type ListenerID uint64

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPanicHook registers a callback invoked after a listener panic is recovered.
func WithPanicHook(fn func(name Name, recovered any)) Option {
	return func(d *Dispatcher) {
		d.onPanic = fn
	}
}

type registration struct {
	id ListenerID
	fn Listener
}

// Dispatcher fans events out to registered listeners.
type Dispatcher struct {
	logger  *slog.Logger
	onPanic func(Name, any)

	nextID atomic.Uint64

	mu        sync.RWMutex
	listeners map[Name][]registration
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher(logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		logger:    logger,
		listeners: make(map[Name][]registration),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// On registers fn for name and returns its ID.
func (d *Dispatcher) On(name Name, fn Listener) ListenerID {
	id := ListenerID(d.nextID.Add(1))

	d.mu.Lock()
	d.listeners[name] = append(d.listeners[name], registration{id: id, fn: fn})
	d.mu.Unlock()

	return id
}

// Off removes a registration. Removing the last listener for a name frees
// the name's entry. Unknown IDs are ignored.
func (d *Dispatcher) Off(name Name, id ListenerID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	regs := d.listeners[name]
	for i, r := range regs {
		if r.id != id {
			continue
		}
		regs = append(regs[:i:i], regs[i+1:]...)
		break
	}

	if len(regs) == 0 {
		delete(d.listeners, name)
		return
	}
	d.listeners[name] = regs
}

// ListenerCount returns the number of listeners registered for name.
func (d *Dispatcher) ListenerCount(name Name) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[name])
}

// Names returns the names that currently have at least one listener.
func (d *Dispatcher) Names() []Name {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]Name, 0, len(d.listeners))
	for name := range d.listeners {
		names = append(names, name)
	}
	return names
}

// Emit delivers ev to every listener registered for ev.Name, synchronously
// and on the caller's goroutine. Listeners added or removed during delivery
// take effect on the next Emit.
func (d *Dispatcher) Emit(ev Event) {
	d.mu.RLock()
	regs := d.listeners[ev.Name]
	snapshot := make([]registration, len(regs))
	copy(snapshot, regs)
	d.mu.RUnlock()

	for _, r := range snapshot {
		d.deliver(r, ev)
	}
}

// EmitJSON marshals v and emits it under name. A nil v emits no payload.
func (d *Dispatcher) EmitJSON(name Name, v any) {
	var payload json.RawMessage
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			d.logger.Error("failed to encode event payload", "event", name, "error", err)
			return
		}
		payload = b
	}
	d.Emit(Event{Name: name, Payload: payload, ReceivedAt: time.Now()})
}

func (d *Dispatcher) deliver(r registration, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("event listener panicked",
				"event", ev.Name,
				"listener", r.id,
				"panic", fmt.Sprint(rec),
			)
			if d.onPanic != nil {
				d.onPanic(ev.Name, rec)
			}
		}
	}()

	r.fn(ev)
}

// Handle registers a listener that decodes the payload into T before
// calling fn. Payloads that fail to decode are logged and skipped.
func Handle[T any](d *Dispatcher, name Name, fn func(T)) ListenerID {
	return d.On(name, func(ev Event) {
		var v T
		if len(ev.Payload) > 0 {
			if err := json.Unmarshal(ev.Payload, &v); err != nil {
				d.logger.Warn("failed to decode event payload",
					"event", ev.Name,
					"error", err,
				)
				return
			}
		}
		fn(v)
	})
}

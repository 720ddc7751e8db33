package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Transport opens duplex connections to the server event stream.
type Transport interface {
	// Open dials the server with credential and blocks until the server
	// acknowledges the handshake or ctx is done. After Open returns a Conn,
	// inbound frames and the eventual close are reported to h, in order,
	// from a single goroutine. HandleClose is called at most once and only
	// for connections Open returned.
	Open(ctx context.Context, credential string, h FrameHandler) (Conn, error)
}

// Conn is an open connection.
type Conn interface {
	// Send writes one named event. It is safe for concurrent use.
	Send(event string, payload any) error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// FrameHandler receives inbound traffic for one connection.
type FrameHandler interface {
	HandleFrame(f Frame)
	HandleClose(reason CloseReason, err error)
}

// Frame is one inbound named event.
type Frame struct {
	Event      string
	Data       json.RawMessage
	ReceivedAt time.Time
}

// wireFrame is the JSON envelope used in both directions.
type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handshake and control frames consumed by the transport.
const (
	frameConnected    = "connected"
	frameConnectError = "connect_error"
	frameDisconnect   = "disconnect"
)

// reasonPayload is the data of connect_error and disconnect frames.
type reasonPayload struct {
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (p reasonPayload) text() string {
	if p.Message != "" {
		return p.Message
	}
	return p.Reason
}

// ConnectError is a handshake rejected by the server.
type ConnectError struct {
	Reason string
}

func (e *ConnectError) Error() string {
	if e.Reason == "" {
		return "server rejected connection"
	}
	return fmt.Sprintf("server rejected connection: %s", e.Reason)
}

// encodeFrame marshals an outbound event.
func encodeFrame(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		data = b
	}
	return json.Marshal(wireFrame{Event: event, Data: data})
}

// decodeFrame unmarshals an inbound envelope.
func decodeFrame(b []byte) (wireFrame, error) {
	var f wireFrame
	if err := json.Unmarshal(b, &f); err != nil {
		return wireFrame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return wireFrame{}, fmt.Errorf("decode frame: missing event name")
	}
	return f, nil
}

// decodeReason extracts the human-readable text of a control frame.
func decodeReason(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var p reasonPayload
	if err := json.Unmarshal(data, &p); err != nil {
		var s string
		if json.Unmarshal(data, &s) == nil {
			return s
		}
		return ""
	}
	return p.text()
}

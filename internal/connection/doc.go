// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns exactly one logical connection to the server event stream
//   - Coalesces concurrent Connect calls onto one in-flight attempt
//   - Reconnects with capped exponential backoff after unexpected closes
//   - Detects silently dead connections with a heartbeat monitor
//   - Replays channel joins and queued typing operations on every connect
//   - Requests a catch-up sync after reconnecting
//   - Emits inbound server events and lifecycle events through events.Dispatcher
package connection

// Package metrics provides Prometheus metrics for the realtime client.
//
// Key metrics:
//   - Connection state, connect attempts and reconnect scheduling
//   - Heartbeat timeouts and max-attempt exhaustion
//   - Frames received and sent by event name
//   - Listener panics
//   - Event archive buffer and write counts
package metrics

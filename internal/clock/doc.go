// Package clock abstracts time so the connection manager's timers
// (reconnect backoff, heartbeat, sync refresh) can be driven by tests.
package clock

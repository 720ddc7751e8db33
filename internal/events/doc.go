// Package events implements the Event Dispatcher.
//
// The dispatcher decouples inbound server frames from application code:
//   - Server events are re-emitted under the same name with the raw payload
//   - Listeners are registered per name and removed by ListenerID
//   - A panicking listener is recovered and logged; delivery continues
//   - Handle decodes payloads into typed structs for callers
package events

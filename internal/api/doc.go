// Package api provides the REST companion client for the realtime server.
//
// Only the endpoints the realtime client needs are covered:
//   - POST /auth/refresh   exchange a refresh token for a new token pair
//   - GET  /me/channels    list channels the current user belongs to
//
// Requests carry a bearer access token from a Credentials source. A 401
// triggers one credential refresh and a single retry; 5xx and 429 responses
// are retried with jittered exponential backoff.
package api

package api

import "time"

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse is returned by POST /auth/refresh. RefreshToken is empty
// when the server does not rotate refresh tokens.
type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Channel is a channel the current user is a member of.
type Channel struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChannelsResponse is one page of GET /me/channels.
type ChannelsResponse struct {
	Channels []Channel `json:"channels"`
	Cursor   string    `json:"cursor,omitempty"`
}

// errorBody is the JSON error envelope the server returns on failure.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

package events

import "time"

// Payload shapes for inbound events. The dispatcher never decodes these
// itself; they exist for Handle and for application code.

// MessagePayload is carried by message_sent, message_updated and message_deleted.
type MessagePayload struct {
	ID           string    `json:"id"`
	ChannelID    string    `json:"channelId"`
	ThreadRootID string    `json:"threadRootId,omitempty"`
	UserID       string    `json:"userId"`
	Content      string    `json:"content,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ThreadPayload is carried by thread_created, thread_reply and thread_deleted.
type ThreadPayload struct {
	ThreadRootID string          `json:"threadRootId"`
	ChannelID    string          `json:"channelId"`
	ReplyCount   int             `json:"replyCount,omitempty"`
	Message      *MessagePayload `json:"message,omitempty"`
}

// ReactionPayload is carried by reaction_toggled and reactions_cleared.
type ReactionPayload struct {
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId,omitempty"`
	Emoji     string `json:"emoji,omitempty"`
	Added     bool   `json:"added,omitempty"`
}

// MembershipPayload is carried by user_joined_channel and user_left_channel.
type MembershipPayload struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
}

// TypingPayload is carried by typing_indicator.
type TypingPayload struct {
	ChannelID    string `json:"channelId"`
	ThreadRootID string `json:"threadRootId,omitempty"`
	UserID       string `json:"userId"`
	IsTyping     bool   `json:"isTyping"`
}

// SyncPayload is carried by sync_response.
type SyncPayload struct {
	Messages  []MessagePayload  `json:"messages"`
	Reactions []ReactionPayload `json:"reactions"`
	Threads   []ThreadPayload   `json:"threads"`
	SyncedAt  time.Time         `json:"syncedAt"`
}

// StatePayload is carried by the local state_changed, connected,
// disconnected and reconnecting events.
type StatePayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Attempt int    `json:"attempt,omitempty"`
	Reason  string `json:"reason,omitempty"`
	DelayMS int64  `json:"delayMs,omitempty"`
}

// ErrorPayload is carried by the local error and
// max_reconnect_attempts_reached events.
type ErrorPayload struct {
	Message  string `json:"message"`
	Attempts int    `json:"attempts,omitempty"`
}

package events

// Name identifies an event emitted by the dispatcher.
type Name string

// Inbound server events, re-emitted verbatim.
const (
	MessageSent       Name = "message_sent"
	MessageUpdated    Name = "message_updated"
	MessageDeleted    Name = "message_deleted"
	ThreadCreated     Name = "thread_created"
	ThreadReply       Name = "thread_reply"
	ThreadDeleted     Name = "thread_deleted"
	ReactionToggled   Name = "reaction_toggled"
	ReactionsCleared  Name = "reactions_cleared"
	UserJoinedChannel Name = "user_joined_channel"
	UserLeftChannel   Name = "user_left_channel"
	TypingIndicator   Name = "typing_indicator"
	Pong              Name = "pong"
	SyncResponse      Name = "sync_response"
)

// Local lifecycle events emitted by the connection manager.
const (
	Connected                   Name = "connected"
	Disconnected                Name = "disconnected"
	Reconnecting                Name = "reconnecting"
	StateChanged                Name = "state_changed"
	MaxReconnectAttemptsReached Name = "max_reconnect_attempts_reached"
	Error                       Name = "error"
)

var inbound = map[Name]struct{}{
	MessageSent:       {},
	MessageUpdated:    {},
	MessageDeleted:    {},
	ThreadCreated:     {},
	ThreadReply:       {},
	ThreadDeleted:     {},
	ReactionToggled:   {},
	ReactionsCleared:  {},
	UserJoinedChannel: {},
	UserLeftChannel:   {},
	TypingIndicator:   {},
	Pong:              {},
	SyncResponse:      {},
}

// String returns the wire name.
func (n Name) String() string {
	return string(n)
}

// IsInbound reports whether n is a server event the client re-emits.
func (n Name) IsInbound() bool {
	_, ok := inbound[n]
	return ok
}

// InboundNames returns every server event name the client recognizes.
func InboundNames() []Name {
	return []Name{
		MessageSent, MessageUpdated, MessageDeleted,
		ThreadCreated, ThreadReply, ThreadDeleted,
		ReactionToggled, ReactionsCleared,
		UserJoinedChannel, UserLeftChannel,
		TypingIndicator, Pong, SyncResponse,
	}
}

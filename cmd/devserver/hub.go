package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/realtime-client/internal/auth"
	"github.com/rickgao/realtime-client/internal/connection"
	"github.com/rickgao/realtime-client/internal/events"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encode(event string, payload any) []byte {
	f := frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil
		}
		f.Data = data
	}
	b, _ := json.Marshal(f)
	return b
}

// Hub tracks connected clients and channel membership and fans out
// membership and typing events.
type Hub struct {
	token    string // accepted bearer token; empty accepts any non-empty token
	logger   *slog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.Mutex
	clients map[*client]struct{}
	members map[string]map[*client]struct{}
}

type client struct {
	userID   string
	ws       *websocket.Conn
	send     chan []byte
	channels map[string]struct{}
	once     sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub creates a hub.
func NewHub(token string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		token:  token,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		now:     time.Now,
		clients: make(map[*client]struct{}),
		members: make(map[string]map[*client]struct{}),
	}
}

// ServeWS upgrades the request and runs the client until it disconnects.
// A bad token is rejected after the upgrade with a connect_error frame.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err)
		return
	}

	if token == "" || (h.token != "" && token != h.token) {
		ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		ws.WriteMessage(websocket.TextMessage, encode("connect_error", map[string]string{"message": "invalid token"}))
		ws.Close()
		h.logger.Info("rejected client", "remote", r.RemoteAddr)
		return
	}

	c := &client{
		userID:   userID(token),
		ws:       ws,
		send:     make(chan []byte, sendBuffer),
		channels: make(map[string]struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("client connected", "user", c.userID, "remote", r.RemoteAddr)
	h.deliver(c, encode("connected", map[string]string{"userId": c.userID}))

	go h.writePump(c)
	h.readPump(c)
}

// userID takes the subject of a JWT, or a fresh id for opaque tokens.
func userID(token string) string {
	if info, err := auth.ParseTokenInfo(token); err == nil && info.Subject != "" {
		return info.Subject
	}
	return "user-" + uuid.NewString()[:8]
}

func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("read error", "user", c.userID, "error", err)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			h.logger.Debug("ignoring malformed frame", "user", c.userID, "error", err)
			continue
		}
		h.handle(c, f)
	}
}

func (h *Hub) writePump(c *client) {
	defer c.ws.Close()

	for msg := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Debug("write failed", "user", c.userID, "error", err)
			return
		}
	}

	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) handle(c *client, f frame) {
	switch f.Event {
	case connection.CmdPing:
		h.deliver(c, encode(events.Pong.String(), struct{}{}))

	case connection.CmdJoinChannel:
		var p connection.ChannelParams
		if json.Unmarshal(f.Data, &p) != nil || p.ChannelID == "" {
			return
		}
		h.join(c, p.ChannelID)

	case connection.CmdLeaveChannel:
		var p connection.ChannelParams
		if json.Unmarshal(f.Data, &p) != nil || p.ChannelID == "" {
			return
		}
		h.leave(c, p.ChannelID)

	case connection.CmdTypingStart, connection.CmdTypingStop:
		var p connection.TypingParams
		if json.Unmarshal(f.Data, &p) != nil || p.ChannelID == "" {
			return
		}
		h.broadcast(p.ChannelID, c, encode(events.TypingIndicator.String(), events.TypingPayload{
			ChannelID:    p.ChannelID,
			ThreadRootID: p.ThreadRootID,
			UserID:       c.userID,
			IsTyping:     f.Event == connection.CmdTypingStart,
		}))

	case connection.CmdRequestSync:
		var p connection.SyncRequest
		json.Unmarshal(f.Data, &p)
		h.logger.Debug("sync requested", "user", c.userID, "since", p.LastSyncTime, "channels", len(p.Channels))
		h.deliver(c, encode(events.SyncResponse.String(), events.SyncPayload{
			Messages:  []events.MessagePayload{},
			Reactions: []events.ReactionPayload{},
			Threads:   []events.ThreadPayload{},
			SyncedAt:  h.now().UTC(),
		}))

	default:
		h.logger.Debug("unknown event", "user", c.userID, "event", f.Event)
	}
}

func (h *Hub) join(c *client, channelID string) {
	h.mu.Lock()
	if _, ok := c.channels[channelID]; ok {
		h.mu.Unlock()
		return
	}
	c.channels[channelID] = struct{}{}
	set := h.members[channelID]
	if set == nil {
		set = make(map[*client]struct{})
		h.members[channelID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	h.broadcast(channelID, nil, encode(events.UserJoinedChannel.String(), events.MembershipPayload{
		ChannelID: channelID,
		UserID:    c.userID,
	}))
}

func (h *Hub) leave(c *client, channelID string) {
	msg := encode(events.UserLeftChannel.String(), events.MembershipPayload{
		ChannelID: channelID,
		UserID:    c.userID,
	})

	h.mu.Lock()
	if _, ok := c.channels[channelID]; !ok {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	h.broadcast(channelID, nil, msg)

	h.mu.Lock()
	h.dropMemberLocked(c, channelID)
	h.mu.Unlock()
}

func (h *Hub) dropMemberLocked(c *client, channelID string) {
	delete(c.channels, channelID)
	if set := h.members[channelID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.members, channelID)
		}
	}
}

// broadcast sends msg to every member of channelID except skip.
func (h *Hub) broadcast(channelID string, skip *client, msg []byte) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.members[channelID]))
	for member := range h.members[channelID] {
		if member != skip {
			targets = append(targets, member)
		}
	}
	h.mu.Unlock()

	for _, t := range targets {
		h.deliver(t, msg)
	}
}

// deliver queues msg for c, dropping a client that cannot keep up.
func (h *Hub) deliver(c *client, msg []byte) {
	h.mu.Lock()
	_, live := h.clients[c]
	if live {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("client too slow, dropping", "user", c.userID)
			h.removeLocked(c)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for channelID := range c.channels {
		h.dropMemberLocked(c, channelID)
	}
	c.close()
	h.logger.Info("client disconnected", "user", c.userID)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Members returns the number of clients joined to channelID.
func (h *Hub) Members(channelID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.members[channelID])
}

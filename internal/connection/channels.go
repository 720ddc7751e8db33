package connection

import "sort"

// channelSet is the set of channels the client should be a member of.
type channelSet map[string]struct{}

func (s channelSet) add(id string) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

func (s channelSet) remove(id string) bool {
	if _, ok := s[id]; !ok {
		return false
	}
	delete(s, id)
	return true
}

// sorted returns the members in lexical order.
func (s channelSet) sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// outbound is one frame the manager will send.
type outbound struct {
	event   string
	payload any
}

// replayFrames returns one join per member.
func (s channelSet) replayFrames() []outbound {
	ids := s.sorted()
	frames := make([]outbound, 0, len(ids))
	for _, id := range ids {
		frames = append(frames, outbound{event: CmdJoinChannel, payload: ChannelParams{ChannelID: id}})
	}
	return frames
}

// JoinChannel records id as joined and sends join_channel when connected.
// Joins while offline are sent by the replay on the next connection.
func (m *Manager) JoinChannel(id string) {
	if id == "" {
		return
	}

	m.mu.Lock()
	added := m.channels.add(id)
	conn := m.liveConnLocked()
	m.mu.Unlock()

	m.logger.Debug("join channel", "channel", id, "new", added, "live", conn != nil)

	if conn != nil {
		m.send(conn, outbound{event: CmdJoinChannel, payload: ChannelParams{ChannelID: id}})
	}
}

// LeaveChannel removes id and sends leave_channel when connected.
func (m *Manager) LeaveChannel(id string) {
	if id == "" {
		return
	}

	m.mu.Lock()
	removed := m.channels.remove(id)
	conn := m.liveConnLocked()
	m.mu.Unlock()

	m.logger.Debug("leave channel", "channel", id, "was_member", removed, "live", conn != nil)

	if conn != nil {
		m.send(conn, outbound{event: CmdLeaveChannel, payload: ChannelParams{ChannelID: id}})
	}
}

// JoinedChannels returns the current membership, sorted.
func (m *Manager) JoinedChannels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels.sorted()
}

// StartTyping sends typing_start now, or after the next connect if offline.
// threadRootID may be empty.
func (m *Manager) StartTyping(channelID, threadRootID string) {
	m.enqueue(outbound{
		event:   CmdTypingStart,
		payload: TypingParams{ChannelID: channelID, ThreadRootID: threadRootID},
	})
}

// StopTyping sends typing_stop now, or after the next connect if offline.
func (m *Manager) StopTyping(channelID, threadRootID string) {
	m.enqueue(outbound{
		event:   CmdTypingStop,
		payload: TypingParams{ChannelID: channelID, ThreadRootID: threadRootID},
	})
}

// enqueue executes op when connected and queues it otherwise.
func (m *Manager) enqueue(op outbound) {
	m.mu.Lock()
	conn := m.liveConnLocked()
	if conn == nil {
		if len(m.pending) >= m.cfg.MaxPendingOps {
			m.mu.Unlock()
			m.logger.Debug("pending queue full, dropping operation", "event", op.event)
			return
		}
		m.pending = append(m.pending, op)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.send(conn, op)
}

// liveConnLocked returns the connection if the manager is connected.
func (m *Manager) liveConnLocked() Conn {
	if m.state != StateConnected {
		return nil
	}
	return m.conn
}

// send writes op, dropping it on failure.
func (m *Manager) send(conn Conn, op outbound) {
	if err := conn.Send(op.event, op.payload); err != nil {
		m.metrics.RecordSendFailure(op.event)
		m.logger.Debug("send failed, dropping", "event", op.event, "error", err)
		return
	}
	m.metrics.RecordFrameSent(op.event)
}

package connection

import (
	"time"

	"github.com/rickgao/realtime-client/internal/clock"
)

// liveness tracks inbound traffic for the current connection.
type liveness struct {
	lastHeartbeat time.Time
	timer         clock.Timer
}

// startHeartbeatLocked arms the first liveness check for sess.
func (m *Manager) startHeartbeatLocked(sess *session) {
	m.live.lastHeartbeat = m.clock.Now()
	m.armHeartbeatLocked(sess)
}

func (m *Manager) armHeartbeatLocked(sess *session) {
	m.live.timer = m.clock.AfterFunc(m.cfg.HeartbeatInterval, func() {
		m.heartbeatTick(sess)
	})
}

func (m *Manager) stopHeartbeatLocked() {
	if m.live.timer != nil {
		m.live.timer.Stop()
		m.live.timer = nil
	}
}

// touchLocked records inbound traffic. Any frame counts, pongs included.
func (m *Manager) touchLocked() {
	m.live.lastHeartbeat = m.clock.Now()
}

// heartbeatTick either declares the connection dead or sends a ping.
func (m *Manager) heartbeatTick(sess *session) {
	m.mu.Lock()
	if m.session != sess || m.state != StateConnected {
		m.mu.Unlock()
		return
	}

	elapsed := m.clock.Now().Sub(m.live.lastHeartbeat)
	if elapsed > m.cfg.HeartbeatInterval+m.cfg.HeartbeatTimeout {
		m.live.timer = nil
		m.mu.Unlock()

		m.logger.Warn("no traffic received, connection presumed dead",
			"elapsed", elapsed,
			"interval", m.cfg.HeartbeatInterval,
			"grace", m.cfg.HeartbeatTimeout,
		)
		m.metrics.RecordHeartbeatTimeout()
		m.sessionLost(sess, CloseHeartbeatTimeout, ErrHeartbeatTimeout)
		return
	}

	conn := m.conn
	m.armHeartbeatLocked(sess)
	m.mu.Unlock()

	m.send(conn, outbound{event: CmdPing, payload: PingParams{}})
}

package connection

import (
	"time"

	"github.com/rickgao/realtime-client/internal/clock"
)

// syncState holds the catch-up baseline. It survives disconnects for the
// lifetime of the Manager.
type syncState struct {
	baseline    time.Time
	hasBaseline bool
	connections int
	timer       clock.Timer
}

// startSyncLocked is called on entering connected. It returns a sync
// request for every connection after the first that has a baseline, then
// moves the baseline to now and arms the periodic refresh.
func (m *Manager) startSyncLocked(sess *session) *outbound {
	var req *outbound
	if m.catchup.connections > 0 && m.catchup.hasBaseline {
		req = &outbound{
			event: CmdRequestSync,
			payload: SyncRequest{
				LastSyncTime: m.catchup.baseline,
				Channels:     m.channels.sorted(),
			},
		}
	}

	m.catchup.connections++
	m.refreshBaselineLocked()
	m.armSyncLocked(sess)

	return req
}

func (m *Manager) refreshBaselineLocked() {
	m.catchup.baseline = m.clock.Now()
	m.catchup.hasBaseline = true
}

func (m *Manager) armSyncLocked(sess *session) {
	m.catchup.timer = m.clock.AfterFunc(m.cfg.SyncInterval, func() {
		m.syncTick(sess)
	})
}

func (m *Manager) stopSyncLocked() {
	if m.catchup.timer != nil {
		m.catchup.timer.Stop()
		m.catchup.timer = nil
	}
}

func (m *Manager) syncTick(sess *session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != sess || m.state != StateConnected {
		return
	}
	m.refreshBaselineLocked()
	m.armSyncLocked(sess)
}

// LastSyncTime returns the current catch-up baseline, zero if none.
func (m *Manager) LastSyncTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.catchup.baseline
}

package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/rickgao/realtime-client/internal/clock"
	"github.com/rickgao/realtime-client/internal/events"
)

func TestManager_ConnectIsNoopWhenConnected(t *testing.T) {
	tr := newFakeTransport()
	m, _ := newTestManager(t, tr, DefaultManagerConfig())
	rec := record(m, events.Connected, events.StateChanged)

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Connect(context.Background()))

	assert.Equal(t, 1, tr.openCount())
	assert.True(t, m.IsConnected())
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, 1, rec.count(events.Connected))
	assert.Equal(t, []string{"tok"}, tr.creds)
}

func TestManager_ConcurrentConnectCoalesces(t *testing.T) {
	tr := newFakeTransport()
	tr.gate = make(chan struct{})
	m, _ := newTestManager(t, tr, DefaultManagerConfig())

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Connect(context.Background())
		}()
	}

	require.Eventually(t, func() bool { return tr.openCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StateConnecting, m.State())

	close(tr.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, tr.openCount())
	assert.True(t, m.IsConnected())
}

func TestManager_CallerContextDoesNotAbortSharedAttempt(t *testing.T) {
	tr := newFakeTransport()
	tr.gate = make(chan struct{})
	m, _ := newTestManager(t, tr, DefaultManagerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Connect(ctx) }()

	require.Eventually(t, func() bool { return tr.openCount() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(tr.gate)
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, 1, tr.openCount())
}

func TestManager_ConnectWithoutCredential(t *testing.T) {
	tests := []struct {
		name   string
		tokens TokenSource
	}{
		{"empty token", staticToken("")},
		{"token error", TokenSourceFunc(func(context.Context) (string, error) {
			return "", errors.New("keychain locked")
		})},
		{"nil source", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport()
			m := NewManager(DefaultManagerConfig(), tr, tt.tokens, nil, WithClock(clock.NewFake(testStart)))
			defer m.Close()

			err := m.Connect(context.Background())
			assert.ErrorIs(t, err, ErrNoCredential)
			assert.Equal(t, 0, tr.openCount())
			assert.Equal(t, StateDisconnected, m.State())
		})
	}
}

func TestManager_TokenFetchedEveryAttempt(t *testing.T) {
	tr := newFakeTransport()
	n := 0
	tokens := TokenSourceFunc(func(context.Context) (string, error) {
		n++
		return "tok-" + string(rune('0'+n)), nil
	})
	m := NewManager(DefaultManagerConfig(), tr, tokens, nil,
		WithClock(clock.NewFake(testStart)),
		WithJitter(func() time.Duration { return 0 }),
	)
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))
	m.Disconnect()
	require.NoError(t, m.Connect(context.Background()))

	assert.Equal(t, []string{"tok-1", "tok-2"}, tr.creds)
}

func TestManager_FailedConnectIsNotRetried(t *testing.T) {
	tr := newFakeTransport()
	tr.fail = func(int) error { return errors.New("connection refused") }
	m, clk := newTestManager(t, tr, DefaultManagerConfig())

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 0, clk.Pending())

	clk.Advance(10 * time.Minute)
	assert.Equal(t, 1, tr.openCount())
	assert.Equal(t, 0, m.ReconnectionInfo().Attempts)
}

func TestManager_HandshakeTimeout(t *testing.T) {
	tr := newFakeTransport()
	tr.gate = make(chan struct{})
	cfg := DefaultManagerConfig()
	cfg.HandshakeTimeout = 20 * time.Millisecond
	m, clk := newTestManager(t, tr, cfg)

	err := m.Connect(context.Background())
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 0, clk.Pending())
}

func TestManager_CloseDuringHandshakeFailsAttempt(t *testing.T) {
	tr := newFakeTransport()
	tr.closeDuringOpen = true
	m, _ := newTestManager(t, tr, DefaultManagerConfig())

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, m.State())
	assert.True(t, tr.last().isClosed())
}

func TestManager_ReplayAndSyncAcrossReconnects(t *testing.T) {
	tr := newFakeTransport()
	m, clk := newTestManager(t, tr, DefaultManagerConfig())

	require.NoError(t, m.Connect(context.Background()))
	m.JoinChannel("c1")
	m.JoinChannel("c2")

	first := tr.conn(0)
	assert.Equal(t, []string{CmdJoinChannel, CmdJoinChannel}, first.eventNames())
	assert.Equal(t, 0, first.count(CmdRequestSync))

	clk.Advance(10 * time.Second)
	first.drop(CloseTransportError)

	assert.True(t, first.isClosed())
	assert.Equal(t, StateReconnecting, m.State())
	assert.Equal(t, ReconnectionInfo{Attempts: 1, MaxAttempts: 5, NextDelay: time.Second}, m.ReconnectionInfo())

	clk.Advance(time.Second)
	require.Equal(t, 2, tr.openCount())
	require.True(t, m.IsConnected())
	assert.Equal(t, 0, m.ReconnectionInfo().Attempts)

	second := tr.conn(1)
	frames := second.frames()
	require.Len(t, frames, 3)
	assert.Equal(t, CmdRequestSync, frames[0].event)
	assert.Equal(t, SyncRequest{LastSyncTime: testStart, Channels: []string{"c1", "c2"}}, frames[0].payload)
	assert.Equal(t, sentFrame{CmdJoinChannel, ChannelParams{ChannelID: "c1"}}, frames[1])
	assert.Equal(t, sentFrame{CmdJoinChannel, ChannelParams{ChannelID: "c2"}}, frames[2])

	secondConnectedAt := testStart.Add(11 * time.Second)
	clk.Advance(5 * time.Second)
	second.drop(CloseServer)
	clk.Advance(time.Second)

	third := tr.conn(2)
	frames = third.frames()
	require.NotEmpty(t, frames)
	assert.Equal(t, SyncRequest{LastSyncTime: secondConnectedAt, Channels: []string{"c1", "c2"}}, frames[0].payload)
}

func TestManager_SyncBaselineRefreshesWhileConnected(t *testing.T) {
	tr := newFakeTransport()
	m, clk := newTestManager(t, tr, DefaultManagerConfig())

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, testStart, m.LastSyncTime())

	clk.Advance(5 * time.Minute)
	assert.Equal(t, testStart.Add(5*time.Minute), m.LastSyncTime())

	clk.Advance(2 * time.Minute)
	m.Disconnect()
	clk.Advance(10 * time.Minute)
	assert.Equal(t, testStart.Add(5*time.Minute), m.LastSyncTime())

	require.NoError(t, m.Connect(context.Background()))
	frames := tr.last().frames()
	require.NotEmpty(t, frames)
	assert.Equal(t, SyncRequest{LastSyncTime: testStart.Add(5 * time.Minute), Channels: []string{}}, frames[0].payload)
}

func TestManager_JoinLeaveWhileDisconnected(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tr := newFakeTransport()
		m := NewManager(DefaultManagerConfig(), tr, staticToken("tok"), nil, WithClock(clock.NewFake(testStart)))
		defer m.Close()

		expected := map[string]bool{}
		ops := rapid.IntRange(0, 40).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			id := rapid.SampledFrom([]string{"c1", "c2", "c3", "c4", "c5"}).Draw(rt, "id")
			if rapid.Bool().Draw(rt, "join") {
				m.JoinChannel(id)
				expected[id] = true
			} else {
				m.LeaveChannel(id)
				delete(expected, id)
			}
		}

		want := channelSet{}
		for id := range expected {
			want.add(id)
		}
		if got := m.JoinedChannels(); !assert.ObjectsAreEqual(want.sorted(), got) {
			rt.Fatalf("JoinedChannels = %v, want %v", got, want.sorted())
		}

		if err := m.Connect(context.Background()); err != nil {
			rt.Fatalf("Connect failed: %v", err)
		}

		var joined []string
		for _, f := range tr.last().frames() {
			if f.event != CmdJoinChannel {
				rt.Fatalf("unexpected frame %q", f.event)
			}
			joined = append(joined, f.payload.(ChannelParams).ChannelID)
		}
		if !assert.ObjectsAreEqual(want.sorted(), append([]string{}, joined...)) {
			rt.Fatalf("replayed joins = %v, want %v", joined, want.sorted())
		}
	})
}

func TestManager_JoinLeaveSendImmediatelyWhenConnected(t *testing.T) {
	tr := newFakeTransport()
	m, _ := newTestManager(t, tr, DefaultManagerConfig())
	require.NoError(t, m.Connect(context.Background()))

	m.JoinChannel("c1")
	m.JoinChannel("c1")
	m.LeaveChannel("c1")
	m.JoinChannel("")

	assert.Equal(t, []sentFrame{
		{CmdJoinChannel, ChannelParams{ChannelID: "c1"}},
		{CmdJoinChannel, ChannelParams{ChannelID: "c1"}},
		{CmdLeaveChannel, ChannelParams{ChannelID: "c1"}},
	}, tr.last().frames())
	assert.Empty(t, m.JoinedChannels())
}

func TestManager_TypingQueuedUntilConnected(t *testing.T) {
	tr := newFakeTransport()
	m, _ := newTestManager(t, tr, DefaultManagerConfig())

	m.StartTyping("c1", "")
	m.JoinChannel("c2")
	m.StopTyping("c1", "r1")

	require.NoError(t, m.Connect(context.Background()))

	assert.Equal(t, []sentFrame{
		{CmdJoinChannel, ChannelParams{ChannelID: "c2"}},
		{CmdTypingStart, TypingParams{ChannelID: "c1"}},
		{CmdTypingStop, TypingParams{ChannelID: "c1", ThreadRootID: "r1"}},
	}, tr.last().frames())

	m.StartTyping("c2", "")
	assert.Equal(t, sentFrame{CmdTypingStart, TypingParams{ChannelID: "c2"}}, tr.last().frames()[3])
}

func TestManager_QueueFlushedOnceAfterReconnect(t *testing.T) {
	tr := newFakeTransport()
	m, clk := newTestManager(t, tr, DefaultManagerConfig())
	require.NoError(t, m.Connect(context.Background()))

	tr.conn(0).drop(CloseTransportError)
	m.StartTyping("c1", "")
	m.StopTyping("c1", "")

	clk.Advance(time.Second)
	require.True(t, m.IsConnected())
	assert.Equal(t, []string{CmdRequestSync, CmdTypingStart, CmdTypingStop}, tr.conn(1).eventNames())

	tr.conn(1).drop(CloseTransportError)
	clk.Advance(time.Second)
	assert.Equal(t, []string{CmdRequestSync}, tr.conn(2).eventNames())
}

func TestManager_DisconnectClearsQueueKeepsChannels(t *testing.T) {
	tr := newFakeTransport()
	m, _ := newTestManager(t, tr, DefaultManagerConfig())

	m.JoinChannel("c1")
	m.StartTyping("c1", "")
	m.Disconnect()

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, []sentFrame{{CmdJoinChannel, ChannelParams{ChannelID: "c1"}}}, tr.last().frames())
	assert.Equal(t, []string{"c1"}, m.JoinedChannels())
}

func TestManager_PendingQueueBounded(t *testing.T) {
	tr := newFakeTransport()
	cfg := DefaultManagerConfig()
	cfg.MaxPendingOps = 2
	m, _ := newTestManager(t, tr, cfg)

	m.StartTyping("c1", "")
	m.StopTyping("c1", "")
	m.StartTyping("c2", "")

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, []string{CmdTypingStart, CmdTypingStop}, tr.last().eventNames())
}

func TestManager_MaxReconnectAttempts(t *testing.T) {
	tr := newFakeTransport()
	m, clk := newTestManager(t, tr, DefaultManagerConfig())
	rec := record(m, events.MaxReconnectAttemptsReached, events.Reconnecting, events.Error)

	require.NoError(t, m.Connect(context.Background()))
	tr.setFail(failAfterFirst)
	tr.conn(0).drop(CloseTransportError)

	var delays []time.Duration
	for i := 1; i <= 5; i++ {
		info := m.ReconnectionInfo()
		require.Equal(t, i, info.Attempts)
		require.Equal(t, StateReconnecting, m.State())
		delays = append(delays, info.NextDelay)
		clk.Advance(info.NextDelay)
	}

	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, delays)
	assert.Equal(t, 6, tr.openCount())
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 1, rec.count(events.MaxReconnectAttemptsReached))
	assert.Equal(t, 5, rec.count(events.Reconnecting))
	assert.Equal(t, 5, rec.count(events.Error))
	assert.Equal(t, 0, clk.Pending())
	assert.Equal(t, time.Duration(0), m.ReconnectionInfo().NextDelay)

	clk.Advance(time.Hour)
	assert.Equal(t, 6, tr.openCount())
	assert.Equal(t, 1, rec.count(events.MaxReconnectAttemptsReached))

	tr.setFail(nil)
	require.NoError(t, m.ForceReconnect(context.Background()))
	assert.True(t, m.IsConnected())
	assert.Equal(t, 0, m.ReconnectionInfo().Attempts)
}

func TestManager_ExplicitConnectWhileReconnecting(t *testing.T) {
	refused := errors.New("connection refused")

	tests := []struct {
		name        string
		fail        bool
		timerFires  bool // backoff timer fires while the explicit attempt is in flight
		force       bool
		wantAttempt int // reconnect attempts right after the explicit call
	}{
		{name: "succeeds before timer fires"},
		{name: "fails before timer fires", fail: true, wantAttempt: 1},
		{name: "succeeds after timer fired", timerFires: true},
		{name: "fails after timer fired", fail: true, timerFires: true, wantAttempt: 2},
		{name: "force reconnect succeeds", force: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport()
			m, clk := newTestManager(t, tr, DefaultManagerConfig())
			rec := record(m, events.MaxReconnectAttemptsReached)

			require.NoError(t, m.Connect(context.Background()))
			tr.conn(0).drop(CloseTransportError)
			require.Equal(t, StateReconnecting, m.State())
			require.Equal(t, 1, clk.Pending())

			if tt.fail {
				tr.setFail(func(int) error { return refused })
			}
			gate := make(chan struct{})
			if tt.timerFires {
				tr.setGate(gate)
			}

			done := make(chan error, 1)
			go func() {
				if tt.force {
					done <- m.ForceReconnect(context.Background())
					return
				}
				done <- m.Connect(context.Background())
			}()

			if tt.timerFires {
				require.Eventually(t, func() bool { return tr.openCount() == 2 }, time.Second, time.Millisecond)
				clk.Advance(m.cfg.ReconnectBaseWait)
				assert.Equal(t, 2, tr.openCount(), "fired timer must not open a second handle")
				tr.setGate(nil)
				close(gate)
			}

			err := <-done
			if !tt.fail {
				require.NoError(t, err)
				assert.True(t, m.IsConnected())
				assert.Equal(t, 0, m.ReconnectionInfo().Attempts)

				opens := tr.openCount()
				clk.Advance(time.Hour)
				assert.Equal(t, opens, tr.openCount())
				assert.True(t, m.IsConnected())
				return
			}

			require.ErrorIs(t, err, refused)
			assert.Equal(t, StateReconnecting, m.State())
			assert.Equal(t, tt.wantAttempt, m.ReconnectionInfo().Attempts)
			assert.Equal(t, 1, clk.Pending())
			assert.Positive(t, m.ReconnectionInfo().NextDelay)

			for m.State() == StateReconnecting {
				require.Equal(t, 1, clk.Pending())
				clk.Advance(m.ReconnectionInfo().NextDelay)
			}
			assert.Equal(t, StateDisconnected, m.State())
			assert.Equal(t, 1, rec.count(events.MaxReconnectAttemptsReached))
			assert.Equal(t, 0, clk.Pending())
		})
	}
}

func TestManager_BackoffDelaysCappedAndNonDecreasing(t *testing.T) {
	tr := newFakeTransport()
	cfg := DefaultManagerConfig()
	cfg.MaxReconnectAttempts = 8
	clk := clock.NewFake(testStart)
	m := NewManager(cfg, tr, staticToken("tok"), nil,
		WithClock(clk),
		WithJitter(func() time.Duration { return 900 * time.Millisecond }),
	)
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))
	tr.setFail(failAfterFirst)
	tr.conn(0).drop(CloseHeartbeatTimeout)

	var delays []time.Duration
	for m.State() == StateReconnecting {
		d := m.ReconnectionInfo().NextDelay
		delays = append(delays, d)
		clk.Advance(d)
	}

	require.Len(t, delays, 8)
	for i, d := range delays {
		assert.LessOrEqual(t, d, 30*time.Second)
		if i > 0 {
			assert.GreaterOrEqual(t, d, delays[i-1])
		}
	}
	assert.Equal(t, 1900*time.Millisecond, delays[0])
	assert.Equal(t, 30*time.Second, delays[7])
}

func TestManager_HeartbeatTimeoutTriggersOneReconnect(t *testing.T) {
	tr := newFakeTransport()
	tr.autoPong = false
	m, clk := newTestManager(t, tr, DefaultManagerConfig())
	rec := record(m, events.Disconnected, events.Reconnecting)

	require.NoError(t, m.Connect(context.Background()))
	conn := tr.conn(0)

	clk.Advance(30 * time.Second)
	assert.Equal(t, 1, conn.count(CmdPing))
	conn.deliver(string(events.Pong), `{}`)

	clk.Advance(30 * time.Second)
	assert.Equal(t, 2, conn.count(CmdPing))
	assert.True(t, m.IsConnected())

	clk.Advance(30 * time.Second)
	assert.True(t, conn.isClosed())
	assert.Equal(t, 2, conn.count(CmdPing))
	assert.Equal(t, StateReconnecting, m.State())
	assert.Equal(t, 1, rec.count(events.Disconnected))
	assert.Equal(t, 1, rec.count(events.Reconnecting))
	assert.Contains(t, rec.payloads(events.Disconnected)[0], `"reason":"heartbeat_timeout"`)

	clk.Advance(time.Second)
	assert.Equal(t, 2, tr.openCount())
	assert.True(t, m.IsConnected())
	assert.Equal(t, 1, rec.count(events.Disconnected))
}

func TestManager_AnyTrafficRefreshesLiveness(t *testing.T) {
	tr := newFakeTransport()
	tr.autoPong = false
	m, clk := newTestManager(t, tr, DefaultManagerConfig())

	require.NoError(t, m.Connect(context.Background()))
	conn := tr.conn(0)

	for i := 0; i < 10; i++ {
		clk.Advance(25 * time.Second)
		conn.deliver(string(events.MessageSent), `{"id":"m"}`)
	}

	assert.True(t, m.IsConnected())
	assert.Equal(t, 1, tr.openCount())
	assert.False(t, conn.isClosed())
}

func TestManager_HealthyConnectionStaysUp(t *testing.T) {
	tr := newFakeTransport()
	m, clk := newTestManager(t, tr, DefaultManagerConfig())

	require.NoError(t, m.Connect(context.Background()))
	clk.Advance(5 * time.Minute)

	assert.True(t, m.IsConnected())
	assert.Equal(t, 1, tr.openCount())
	assert.Equal(t, 10, tr.conn(0).count(CmdPing))
}

func TestManager_CloseReasons(t *testing.T) {
	tests := []struct {
		reason    CloseReason
		reconnect bool
	}{
		{CloseServer, true},
		{CloseTransportError, true},
		{CloseHeartbeatTimeout, true},
		{CloseClient, false},
	}

	for _, tt := range tests {
		t.Run(tt.reason.String(), func(t *testing.T) {
			tr := newFakeTransport()
			m, clk := newTestManager(t, tr, DefaultManagerConfig())
			require.NoError(t, m.Connect(context.Background()))

			tr.conn(0).drop(tt.reason)
			clk.Advance(time.Second)

			if tt.reconnect {
				assert.Equal(t, 2, tr.openCount())
				assert.True(t, m.IsConnected())
			} else {
				assert.Equal(t, 1, tr.openCount())
				assert.Equal(t, StateDisconnected, m.State())
				assert.Equal(t, 0, clk.Pending())
			}
		})
	}
}

func TestManager_DisconnectCancelsReconnectTimer(t *testing.T) {
	tr := newFakeTransport()
	m, clk := newTestManager(t, tr, DefaultManagerConfig())
	require.NoError(t, m.Connect(context.Background()))

	tr.conn(0).drop(CloseTransportError)
	require.Equal(t, StateReconnecting, m.State())
	require.Equal(t, 1, clk.Pending())

	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, ReconnectionInfo{MaxAttempts: 5}, m.ReconnectionInfo())
	assert.Equal(t, 0, clk.Pending())

	clk.Advance(time.Minute)
	assert.Equal(t, 1, tr.openCount())
}

func TestManager_DisconnectThenConnectSingleLiveHandle(t *testing.T) {
	tr := newFakeTransport()
	m, _ := newTestManager(t, tr, DefaultManagerConfig())

	require.NoError(t, m.Connect(context.Background()))
	m.Disconnect()
	require.NoError(t, m.Connect(context.Background()))

	assert.True(t, tr.conn(0).isClosed())
	assert.Equal(t, 1, tr.liveCount())
}

func TestManager_DisconnectAbortsInFlightAttempt(t *testing.T) {
	tr := newFakeTransport()
	tr.gate = make(chan struct{})
	m, _ := newTestManager(t, tr, DefaultManagerConfig())

	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background()) }()
	require.Eventually(t, func() bool { return tr.openCount() == 1 }, time.Second, time.Millisecond)

	m.Disconnect()
	assert.ErrorIs(t, <-done, ErrConnectAborted)
	assert.Equal(t, StateDisconnected, m.State())

	close(tr.gate)
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, 2, tr.openCount())
	assert.Equal(t, 1, tr.liveCount())
}

func TestManager_StaleCallbacksIgnored(t *testing.T) {
	tr := newFakeTransport()
	m, clk := newTestManager(t, tr, DefaultManagerConfig())
	rec := record(m, events.MessageSent)

	require.NoError(t, m.Connect(context.Background()))
	old := tr.conn(0)
	m.Disconnect()

	old.deliver(string(events.MessageSent), `{"id":"late"}`)
	old.drop(CloseTransportError)

	assert.Equal(t, 0, rec.count(events.MessageSent))
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 0, clk.Pending())
}

func TestManager_InboundEventsDispatchedInOrder(t *testing.T) {
	tr := newFakeTransport()
	m, _ := newTestManager(t, tr, DefaultManagerConfig())
	rec := record(m, events.MessageSent, events.ReactionToggled)

	require.NoError(t, m.Connect(context.Background()))
	conn := tr.conn(0)
	conn.deliver(string(events.MessageSent), `{"id":"a"}`)
	conn.deliver("not_a_known_event", `{}`)
	conn.deliver(string(events.MessageSent), `{"id":"b"}`)
	conn.deliver(string(events.ReactionToggled), `{"messageId":"a","emoji":"+1"}`)

	assert.Equal(t, []string{`{"id":"a"}`, `{"id":"b"}`}, rec.payloads(events.MessageSent))
	assert.Equal(t, []string{`{"messageId":"a","emoji":"+1"}`}, rec.payloads(events.ReactionToggled))
}

func TestManager_ListenerPanicDoesNotBreakConnection(t *testing.T) {
	tr := newFakeTransport()
	m, _ := newTestManager(t, tr, DefaultManagerConfig())

	got := 0
	m.On(events.MessageSent, func(events.Event) { panic("listener bug") })
	m.On(events.MessageSent, func(events.Event) { got++ })

	require.NoError(t, m.Connect(context.Background()))
	tr.conn(0).deliver(string(events.MessageSent), `{}`)

	assert.Equal(t, 1, got)
	assert.True(t, m.IsConnected())
}

func TestManager_OffStopsDelivery(t *testing.T) {
	tr := newFakeTransport()
	m, _ := newTestManager(t, tr, DefaultManagerConfig())

	got := 0
	id := m.On(events.Pong, func(events.Event) { got++ })
	require.NoError(t, m.Connect(context.Background()))

	tr.conn(0).deliver(string(events.Pong), `{}`)
	m.Off(events.Pong, id)
	tr.conn(0).deliver(string(events.Pong), `{}`)

	assert.Equal(t, 1, got)
	assert.Equal(t, 0, m.Events().ListenerCount(events.Pong))
}

func TestManager_StateChangedEvents(t *testing.T) {
	tr := newFakeTransport()
	m, clk := newTestManager(t, tr, DefaultManagerConfig())
	rec := record(m, events.StateChanged)

	require.NoError(t, m.Connect(context.Background()))
	tr.conn(0).drop(CloseServer)
	clk.Advance(time.Second)

	var transitions []string
	for _, p := range rec.payloads(events.StateChanged) {
		var sp events.StatePayload
		require.NoError(t, json.Unmarshal([]byte(p), &sp))
		transitions = append(transitions, sp.From+"->"+sp.To)
	}
	assert.Equal(t, []string{
		"disconnected->connecting",
		"connecting->connected",
		"connected->disconnected",
		"disconnected->reconnecting",
		"reconnecting->connecting",
		"connecting->connected",
	}, transitions)
}

func TestManager_CloseRefusesConnect(t *testing.T) {
	tr := newFakeTransport()
	m, clk := newTestManager(t, tr, DefaultManagerConfig())

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.Connect(context.Background()), ErrClosed)
	assert.ErrorIs(t, m.ForceReconnect(context.Background()), ErrClosed)
	assert.True(t, tr.conn(0).isClosed())
	assert.Equal(t, 0, clk.Pending())
}

package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhardin04/livedemo/internal/domain"
)

var errDialRefused = errors.New("connection refused")

func waitFor(t *testing.T, log *stateLog, want State) StateChange {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c := <-log.ch:
			if c.To == want {
				return c
			}
		case <-timeout:
			t.Fatalf("state %s not reached", want)
			return StateChange{}
		}
	}
}

func blockUntil(t *testing.T, clock *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, n))
}

type messageLog struct {
	mu   sync.Mutex
	msgs []string
}

func (l *messageLog) record(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, string(data))
}

func (l *messageLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.msgs...)
}

func newTestManager(cfg Config, dialer Dialer, clock clockwork.Clock) (*Manager, *stateLog, *messageLog) {
	states := newStateLog()
	msgs := &messageLog{}
	return NewManager(cfg, dialer, clock, states.record, msgs.record), states, msgs
}

func TestManager_ConnectOpensAndDeliversMessages(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := newFakeConn(true)
	m, states, msgs := newTestManager(Config{URL: "ws://test"}, &fakeDialer{fallback: dialResult{conn: conn}}, clock)

	require.NoError(t, m.Connect(context.Background()))
	waitFor(t, states, StateOpen)

	conn.deliver(`{"type":"payment_update","update_type":"transactions","data":{}}`)
	conn.deliver(`{"type":"pong"}`)

	require.Eventually(t, func() bool { return len(msgs.all()) == 1 }, time.Second, time.Millisecond)
	assert.Contains(t, msgs.all()[0], "payment_update")

	m.Disconnect()
	assert.Equal(t, StateClosed, m.State())
}

func TestManager_ConnectTwice(t *testing.T) {
	m, _, _ := newTestManager(Config{}, &fakeDialer{fallback: dialResult{conn: newFakeConn(true)}}, clockwork.NewFakeClock())

	require.NoError(t, m.Connect(context.Background()))
	assert.ErrorIs(t, m.Connect(context.Background()), ErrAlreadyStarted)
	m.Disconnect()
}

func TestManager_DisconnectSendsNormalCloseAndNeverReconnects(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := newFakeConn(true)
	dialer := &fakeDialer{fallback: dialResult{conn: conn}}
	m, states, _ := newTestManager(Config{}, dialer, clock)

	require.NoError(t, m.Connect(context.Background()))
	waitFor(t, states, StateOpen)

	m.Disconnect()

	waitFor(t, states, StateClosing)
	waitFor(t, states, StateClosed)
	assert.Equal(t, []int{CloseNormal}, conn.sentCloseCodes())
	assert.Equal(t, 1, dialer.dialCount())
	select {
	case <-m.Done():
	default:
		t.Fatal("run loop still alive")
	}
}

func TestManager_DisconnectBeforeConnect(t *testing.T) {
	m, states, _ := newTestManager(Config{}, &fakeDialer{}, clockwork.NewFakeClock())

	m.Disconnect()

	waitFor(t, states, StateClosed)
	assert.ErrorIs(t, m.Connect(context.Background()), ErrAlreadyStarted)
}

func TestManager_DisconnectTwice(t *testing.T) {
	m, states, _ := newTestManager(Config{}, &fakeDialer{}, clockwork.NewFakeClock())

	m.Disconnect()
	waitFor(t, states, StateClosed)
	assert.NotPanics(t, m.Disconnect)
	assert.Equal(t, StateClosed, m.State())
}

func TestManager_DisconnectTwiceAfterOpen(t *testing.T) {
	conn := newFakeConn(true)
	dialer := &fakeDialer{fallback: dialResult{conn: conn}}
	m, states, _ := newTestManager(Config{}, dialer, clockwork.NewFakeClock())

	require.NoError(t, m.Connect(context.Background()))
	waitFor(t, states, StateOpen)

	m.Disconnect()
	assert.NotPanics(t, m.Disconnect)
	assert.Equal(t, StateClosed, m.State())
}

func TestManager_ServerNormalCloseDoesNotReconnect(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := newFakeConn(true)
	dialer := &fakeDialer{fallback: dialResult{conn: conn}}
	m, states, _ := newTestManager(Config{}, dialer, clock)

	require.NoError(t, m.Connect(context.Background()))
	waitFor(t, states, StateOpen)

	conn.closeFromPeer(1000)

	waitFor(t, states, StateClosed)
	<-m.Done()
	assert.Equal(t, 1, dialer.dialCount())
}

func TestManager_AbnormalCloseReconnectsWithBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	first, second := newFakeConn(true), newFakeConn(true)
	dialer := &fakeDialer{script: []dialResult{{conn: first}, {conn: second}}}
	m, states, _ := newTestManager(Config{BaseDelay: time.Second}, dialer, clock)
	defer m.Disconnect()

	require.NoError(t, m.Connect(context.Background()))
	waitFor(t, states, StateOpen)

	first.closeFromPeer(1011)

	change := waitFor(t, states, StateReconnecting)
	assert.Equal(t, 1, change.Attempt)
	assert.Equal(t, time.Second, change.Delay)
	var ce *CloseError
	require.True(t, errors.As(change.Err, &ce))
	assert.Equal(t, 1011, ce.Code)

	blockUntil(t, clock, 1)
	clock.Advance(time.Second)

	waitFor(t, states, StateOpen)
	assert.Equal(t, 2, dialer.dialCount())
}

func TestManager_GivesUpAfterMaxAttempts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := newFakeConn(true)
	dialer := &fakeDialer{script: []dialResult{{conn: conn}}, fallback: dialResult{err: errDialRefused}}
	m, states, _ := newTestManager(Config{BaseDelay: 100 * time.Millisecond, MaxReconnectAttempts: 3}, dialer, clock)

	require.NoError(t, m.Connect(context.Background()))
	waitFor(t, states, StateOpen)
	conn.closeFromPeer(1006)

	wantDelays := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	for i, delay := range wantDelays {
		change := waitFor(t, states, StateReconnecting)
		assert.Equal(t, i+1, change.Attempt)
		assert.Equal(t, delay, change.Delay)
		blockUntil(t, clock, 1)
		clock.Advance(delay)
	}

	failed := waitFor(t, states, StateFailed)
	assert.ErrorIs(t, failed.Err, ErrReconnectsFailed)
	assert.ErrorIs(t, failed.Err, errDialRefused)
	<-m.Done()
	assert.Equal(t, 1+3, dialer.dialCount(), "initial dial plus exactly three reconnect attempts")
	assert.Equal(t, StateFailed, m.State())
}

func TestManager_SuccessfulReconnectResetsAttempts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a, b := newFakeConn(true), newFakeConn(true)
	dialer := &fakeDialer{script: []dialResult{{conn: a}, {err: errDialRefused}, {conn: b}}}
	m, states, _ := newTestManager(Config{BaseDelay: time.Second}, dialer, clock)
	defer m.Disconnect()

	require.NoError(t, m.Connect(context.Background()))
	waitFor(t, states, StateOpen)
	a.closeFromPeer(1011)

	waitFor(t, states, StateReconnecting)
	blockUntil(t, clock, 1)
	clock.Advance(time.Second)

	change := waitFor(t, states, StateReconnecting)
	assert.Equal(t, 2, change.Attempt)
	blockUntil(t, clock, 1)
	clock.Advance(2 * time.Second)
	waitFor(t, states, StateOpen)

	b.closeFromPeer(1001)
	change = waitFor(t, states, StateReconnecting)
	assert.Equal(t, 1, change.Attempt)
	assert.Equal(t, time.Second, change.Delay)
}

func TestManager_InitialDialFailureReconnects(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := newFakeConn(true)
	dialer := &fakeDialer{script: []dialResult{{err: errDialRefused}, {conn: conn}}}
	m, states, _ := newTestManager(Config{BaseDelay: time.Second}, dialer, clock)
	defer m.Disconnect()

	require.NoError(t, m.Connect(context.Background()))

	change := waitFor(t, states, StateReconnecting)
	assert.ErrorIs(t, change.Err, errDialRefused)
	blockUntil(t, clock, 1)
	clock.Advance(time.Second)
	waitFor(t, states, StateOpen)
}

func TestManager_SessionNotFoundFailsImmediately(t *testing.T) {
	dialer := &fakeDialer{fallback: dialResult{err: fmt.Errorf("dial rejected: %w", domain.ErrSessionNotFound)}}
	m, states, _ := newTestManager(Config{}, dialer, clockwork.NewFakeClock())

	require.NoError(t, m.Connect(context.Background()))

	failed := waitFor(t, states, StateFailed)
	assert.ErrorIs(t, failed.Err, domain.ErrSessionNotFound)
	<-m.Done()
	assert.Equal(t, 1, dialer.dialCount())
}

func TestManager_RateLimitedDialWaitsRetryAfter(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rl := fmt.Errorf("dial rejected: %w", &domain.RateLimitError{RouteClass: "connection-open", RetryAfter: 10 * time.Second})
	dialer := &fakeDialer{script: []dialResult{{err: rl}}, fallback: dialResult{conn: newFakeConn(true)}}
	m, states, _ := newTestManager(Config{BaseDelay: time.Second}, dialer, clock)
	defer m.Disconnect()

	require.NoError(t, m.Connect(context.Background()))

	change := waitFor(t, states, StateReconnecting)
	assert.Equal(t, 10*time.Second, change.Delay)
	assert.ErrorIs(t, change.Err, domain.ErrRateLimited)
}

func TestManager_MissedPongIsAbnormalClosure(t *testing.T) {
	clock := clockwork.NewFakeClock()
	silent := newFakeConn(false)
	dialer := &fakeDialer{script: []dialResult{{conn: silent}}, fallback: dialResult{conn: newFakeConn(true)}}
	m, states, _ := newTestManager(Config{HeartbeatInterval: 10 * time.Second}, dialer, clock)
	defer m.Disconnect()

	require.NoError(t, m.Connect(context.Background()))
	waitFor(t, states, StateOpen)

	blockUntil(t, clock, 1)
	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return len(silent.writes()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, `{"type":"ping"}`, silent.writes()[0])

	clock.Advance(10 * time.Second)
	change := waitFor(t, states, StateReconnecting)
	assert.ErrorIs(t, change.Err, ErrHeartbeatMissed)
}

func TestManager_AnsweredPingsKeepConnectionOpen(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := newFakeConn(true)
	m, _, _ := newTestManager(Config{HeartbeatInterval: 10 * time.Second}, &fakeDialer{fallback: dialResult{conn: conn}}, clock)
	defer m.Disconnect()

	require.NoError(t, m.Connect(context.Background()))
	require.Eventually(t, func() bool { return m.State() == StateOpen }, time.Second, time.Millisecond)

	for i := 1; i <= 3; i++ {
		blockUntil(t, clock, 1)
		clock.Advance(10 * time.Second)
		require.Eventually(t, func() bool { return len(conn.writes()) == i }, time.Second, time.Millisecond)
	}
	assert.Equal(t, StateOpen, m.State())
}

func TestManager_SendWhileNotOpen(t *testing.T) {
	m, _, _ := newTestManager(Config{}, &fakeDialer{}, clockwork.NewFakeClock())

	assert.ErrorIs(t, m.Send([]byte("x")), ErrNotOpen)
}

func TestManager_OfflineQueueFlushedOnOpen(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := newFakeConn(true)
	dialer := &fakeDialer{script: []dialResult{{err: errDialRefused}}, fallback: dialResult{conn: conn}}
	m, states, _ := newTestManager(Config{OfflineQueueSize: 2, BaseDelay: time.Second}, dialer, clock)
	defer m.Disconnect()

	require.NoError(t, m.Connect(context.Background()))
	waitFor(t, states, StateReconnecting)

	require.NoError(t, m.SendJSON(map[string]string{"type": "start_simulation"}))
	require.NoError(t, m.Send([]byte(`{"type":"stop_simulation"}`)))
	assert.ErrorIs(t, m.Send([]byte("overflow")), ErrQueueFull)

	blockUntil(t, clock, 1)
	clock.Advance(time.Second)
	waitFor(t, states, StateOpen)

	assert.Equal(t, []string{`{"type":"start_simulation"}`, `{"type":"stop_simulation"}`}, conn.writes())

	require.NoError(t, m.Send([]byte(`{"type":"ping"}`)))
	assert.Len(t, conn.writes(), 3)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateOpen.Terminal())
}

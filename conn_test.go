package coachsync

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestConnManager(dialer *fakeDialer, clock Clock, maxAttempts int) (*ConnManager, chan ConnState) {
	m := NewConnManager(ConnConfig{
		PushURL:              "ws://push.test/chat",
		Token:                "tok-1",
		MaxReconnectAttempts: maxAttempts,
		Dialer:               dialer.dial,
		Clock:                clock,
	})
	states := make(chan ConnState, 16)
	m.OnStateChange(func(s ConnState) { states <- s })
	return m, states
}

func TestConnManagerConnect(t *testing.T) {
	dialer := &fakeDialer{}
	m, states := newTestConnManager(dialer, newFakeClock(), 0)
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	seen := waitState(t, states, StateConnected)
	if seen[0] != StateConnecting {
		t.Errorf("first transition %s, want connecting", seen[0])
	}

	// Idempotent while connected: no second physical connection.
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if dialer.dialCount() != 1 {
		t.Errorf("dials = %d, want 1", dialer.dialCount())
	}
}

func TestConnManagerConnectDialFailure(t *testing.T) {
	dialer := &fakeDialer{failNext: 1}
	m, _ := newTestConnManager(dialer, newFakeClock(), 0)

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if got := m.State(); got != StateDisconnected {
		t.Errorf("state = %s, want disconnected", got)
	}
}

func TestConnManagerReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	clock := newFakeClock()
	m, states := newTestConnManager(dialer, clock, 0)
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitState(t, states, StateConnected)
	first := dialer.latest()

	// Drop the connection and let the backoff timer fire.
	first.fail()
	waitState(t, states, StateReconnecting)
	clock.awaitTimer(t)
	clock.Advance(time.Minute)

	seen := waitState(t, states, StateConnected)
	// Reconnecting always passes through Connecting, never straight to
	// Connected.
	if len(seen) < 2 || seen[len(seen)-2] != StateConnecting {
		t.Errorf("transitions after drop: %v", seen)
	}
	if dialer.dialCount() != 2 {
		t.Errorf("dials = %d, want 2", dialer.dialCount())
	}

	// The new connection must be live.
	if dialer.latest() == nil || dialer.latest() == first {
		t.Fatal("no fresh connection after reconnect")
	}
}

func TestConnManagerReconnectGivesUp(t *testing.T) {
	dialer := &fakeDialer{}
	clock := newFakeClock()
	m, states := newTestConnManager(dialer, clock, 2)
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitState(t, states, StateConnected)

	dialer.mu.Lock()
	dialer.failNext = 10 // every retry fails
	dialer.mu.Unlock()

	dialer.latest().fail()
	waitState(t, states, StateReconnecting)
	clock.awaitTimer(t)
	clock.Advance(time.Minute) // attempt 1 fails, attempt 2 scheduled
	clock.Advance(time.Minute) // attempt 2 fails, budget exhausted

	waitState(t, states, StateDisconnected)
	if got := m.State(); got != StateDisconnected {
		t.Errorf("state = %s, want disconnected", got)
	}
}

func TestConnManagerConnectWhileReconnecting(t *testing.T) {
	dialer := &fakeDialer{}
	clock := newFakeClock()
	m, states := newTestConnManager(dialer, clock, 0)
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitState(t, states, StateConnected)

	dialer.latest().fail()
	waitState(t, states, StateReconnecting)
	clock.awaitTimer(t)

	// A consumer-initiated Connect during the backoff window must defer to
	// the scheduled retry instead of dialing a second connection.
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect while reconnecting: %v", err)
	}
	if got := m.State(); got != StateReconnecting {
		t.Errorf("state = %s, want reconnecting", got)
	}
	if dialer.dialCount() != 1 {
		t.Fatalf("dials = %d, want 1 (retry still pending)", dialer.dialCount())
	}

	// The armed timer still drives the single retry.
	clock.Advance(time.Minute)
	waitState(t, states, StateConnected)
	if dialer.dialCount() != 2 {
		t.Errorf("dials = %d, want 2", dialer.dialCount())
	}
}

func TestConnManagerDisconnectIsTerminal(t *testing.T) {
	dialer := &fakeDialer{}
	m, states := newTestConnManager(dialer, newFakeClock(), 0)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitState(t, states, StateConnected)

	if err := m.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	waitState(t, states, StateClosed)

	if err := m.Connect(context.Background()); !errors.Is(err, ErrConnClosed) {
		t.Errorf("connect after close = %v, want ErrConnClosed", err)
	}
	if dialer.dialCount() != 1 {
		t.Errorf("dials = %d, want 1", dialer.dialCount())
	}
}

func TestConnManagerSend(t *testing.T) {
	dialer := &fakeDialer{}
	m, states := newTestConnManager(dialer, newFakeClock(), 0)
	defer m.Disconnect()

	// Not connected: the event is dropped without error.
	if err := m.Send(context.Background(), map[string]string{"type": "typing"}); err != nil {
		t.Fatalf("send while disconnected: %v", err)
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitState(t, states, StateConnected)

	if err := m.Send(context.Background(), map[string]string{"type": "typing"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := dialer.latest().writeCount(); got != 1 {
		t.Errorf("writes = %d, want 1", got)
	}
}

func TestConnManagerFrameDispatchOrder(t *testing.T) {
	dialer := &fakeDialer{}
	m, states := newTestConnManager(dialer, newFakeClock(), 0)
	defer m.Disconnect()

	frames := make(chan string, 8)
	m.OnFrame(func(raw []byte) { frames <- string(raw) })

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitState(t, states, StateConnected)

	conn := dialer.latest()
	conn.inbound <- []byte(`1`)
	conn.inbound <- []byte(`2`)
	conn.inbound <- []byte(`3`)

	for _, want := range []string{"1", "2", "3"} {
		select {
		case got := <-frames:
			if got != want {
				t.Fatalf("frame = %s, want %s", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("frame not delivered")
		}
	}
}

func TestReconnectorBackoff(t *testing.T) {
	r := reconnector{baseDelay: 3 * time.Second, maxDelay: 30 * time.Second}

	prev := time.Duration(0)
	for i := 0; i < 10; i++ {
		d := r.nextDelay()
		if d > 30*time.Second {
			t.Fatalf("delay %v exceeds cap", d)
		}
		if d < prev && d != 30*time.Second {
			t.Fatalf("delay shrank from %v to %v before the cap", prev, d)
		}
		prev = d
	}

	r.reset()
	if d := r.nextDelay(); d > 5*time.Second {
		t.Errorf("delay after reset = %v, want near base", d)
	}
}

package roommgr

import (
	"testing"
	"time"

	"github.com/signalhub/roomrelay/internal/metrics"
	"github.com/signalhub/roomrelay/internal/signal"
)

func newTestRoom(t *testing.T, clock Clock) (*Room, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	r := newRoom("x", nil, clock, 2*time.Second, 256, m, nil, testLogger(), func() {})
	t.Cleanup(r.shutdown)
	return r, m
}

func TestJoinRosterBootstrapAndFanout(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	r, _ := newTestRoom(t, clock)

	a := newFakeSession("a")
	r.Join(a, signal.Descriptor{ClientID: "a", Name: "A", CreatedAt: 1})
	sync_(r)

	b := newFakeSession("b")
	r.Join(b, signal.Descriptor{ClientID: "b", Name: "B", CreatedAt: 2})
	sync_(r)

	// A must see b's join; B must NOT see its own join echoed back.
	if got := a.typesReceived(); len(got) != 1 || got[0] != signal.TypeJoin {
		t.Fatalf("A received %v, want exactly one join", got)
	}
	if got := b.typesReceived(); len(got) != 1 || got[0] != signal.TypeJoin {
		t.Fatalf("B received %v, want exactly one join (roster bootstrap of A)", got)
	}

	bDescriptor, err := signal.DecodeDescriptor(a.received()[0])
	if err != nil || bDescriptor.ClientID != "b" {
		t.Fatalf("A's join envelope = %#v, err=%v", bDescriptor, err)
	}
}

func TestMessageRoutingNeverEchoesSender(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	r, _ := newTestRoom(t, clock)

	a := newFakeSession("a")
	b := newFakeSession("b")
	r.Join(a, signal.Descriptor{ClientID: "a", CreatedAt: 1})
	r.Join(b, signal.Descriptor{ClientID: "b", CreatedAt: 2})
	sync_(r)

	env := signal.Envelope{Type: signal.TypeMessage, Data: mustJSON(map[string]any{
		"clientId": "b", "targetClientId": "a", "sessionId": "s1", "payload": "hi",
	})}
	r.Message(env)
	sync_(r)

	aTypes := a.typesReceived()
	if len(aTypes) != 2 || aTypes[1] != signal.TypeMessage {
		t.Fatalf("A received %v, want [join, message]", aTypes)
	}
	bTypes := b.typesReceived()
	for _, typ := range bTypes {
		if typ == signal.TypeMessage {
			t.Fatalf("sender B must never receive its own message, got %v", bTypes)
		}
	}
}

func TestGraceTimerExpiryBroadcastsLeaveAfterDisconnectTimeout(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	r, m := newTestRoom(t, clock)

	a := newFakeSession("a")
	b := newFakeSession("b")
	r.Join(a, signal.Descriptor{ClientID: "a", CreatedAt: 1})
	r.Join(b, signal.Descriptor{ClientID: "b", CreatedAt: 2})
	sync_(r)

	r.SessionClosed("b", b)
	sync_(r)

	// Before the grace period elapses, A must not observe a leave yet.
	clock.Advance(1 * time.Second)
	sync_(r)
	for _, typ := range a.typesReceived() {
		if typ == signal.TypeLeave {
			t.Fatalf("leave observed before disconnect timeout elapsed")
		}
	}

	// After the full 2s disconnect timeout, A observes leave(b).
	clock.Advance(1500 * time.Millisecond)
	sync_(r)
	aTypes := a.typesReceived()
	if aTypes[len(aTypes)-1] != signal.TypeLeave {
		t.Fatalf("A received %v, want trailing leave", aTypes)
	}
	if got := m.Get(metrics.GraceTimerExpiries); got != 1 {
		t.Fatalf("GraceTimerExpiries = %d, want 1", got)
	}
}

func TestResumeDuringGracePeriodFlushesCacheAndSuppressesLeave(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	r, m := newTestRoom(t, clock)

	a := newFakeSession("a")
	b := newFakeSession("b")
	r.Join(a, signal.Descriptor{ClientID: "a", CreatedAt: 1})
	r.Join(b, signal.Descriptor{ClientID: "b", CreatedAt: 2})
	sync_(r)

	r.SessionClosed("b", b)
	sync_(r)

	// While B is in its grace period, A sends it a targeted message; it
	// must be cached rather than dropped.
	env := signal.Envelope{Type: signal.TypeMessage, Data: mustJSON(map[string]any{
		"clientId": "a", "targetClientId": "b", "sessionId": "s1", "payload": "queued",
	})}
	r.Message(env)
	sync_(r)

	clock.Advance(500 * time.Millisecond)
	sync_(r)

	b2 := newFakeSession("b2")
	r.Join(b2, signal.Descriptor{ClientID: "b", CreatedAt: 2, Resume: true})
	sync_(r)

	// The cached message must flush to the resumed session in FIFO order,
	// before any further traffic.
	b2Types := b2.typesReceived()
	if len(b2Types) != 1 || b2Types[0] != signal.TypeMessage {
		t.Fatalf("resumed session received %v, want exactly the cached message", b2Types)
	}

	// The grace timer firing later must be a no-op: A should see no leave.
	clock.Advance(2 * time.Second)
	sync_(r)
	for _, typ := range a.typesReceived() {
		if typ == signal.TypeLeave {
			t.Fatalf("stale grace timer fired a leave after resume")
		}
	}
	if got := m.Get(metrics.Resumes); got != 1 {
		t.Fatalf("Resumes = %d, want 1", got)
	}
}

func TestMessageCacheBoundedOldestDrop(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	m := metrics.New()
	r := newRoom("x", nil, clock, 2*time.Second, 2, m, nil, testLogger(), func() {})
	t.Cleanup(r.shutdown)

	a := newFakeSession("a")
	b := newFakeSession("b")
	r.Join(a, signal.Descriptor{ClientID: "a", CreatedAt: 1})
	r.Join(b, signal.Descriptor{ClientID: "b", CreatedAt: 2})
	sync_(r)

	r.SessionClosed("b", b)
	sync_(r)

	for i := 0; i < 3; i++ {
		env := signal.Envelope{Type: signal.TypeMessage, Data: mustJSON(map[string]any{
			"clientId": "a", "targetClientId": "b", "sessionId": "s1", "seq": i,
		})}
		r.Message(env)
	}
	sync_(r)

	if got := m.Get(metrics.CacheEvictions); got != 1 {
		t.Fatalf("CacheEvictions = %d, want 1 (cap=2, 3 enqueued)", got)
	}
}

func TestHeartbeatSweepClosesTimedOutSession(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	r, m := newTestRoom(t, clock)

	a := newFakeSession("a")
	r.Join(a, signal.Descriptor{ClientID: "a", CreatedAt: 1})
	sync_(r)

	clock.Advance(5 * time.Second)
	r.HeartbeatSweep(clock.Now(), 3*time.Second)
	sync_(r)

	if !a.isClosed() {
		t.Fatalf("expected session closed after pong timeout")
	}
	if got := m.Get(metrics.HeartbeatTimeouts); got != 1 {
		t.Fatalf("HeartbeatTimeouts = %d, want 1", got)
	}
}

func TestHeartbeatSweepPingsLiveSession(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	r, _ := newTestRoom(t, clock)

	a := newFakeSession("a")
	r.Join(a, signal.Descriptor{ClientID: "a", CreatedAt: 1})
	sync_(r)

	clock.Advance(1 * time.Second)
	r.HeartbeatSweep(clock.Now(), 3*time.Second)
	sync_(r)

	if a.isClosed() {
		t.Fatalf("session should not be closed within pong timeout")
	}
	types := a.typesReceived()
	if types[len(types)-1] != signal.TypePing {
		t.Fatalf("expected trailing ping, got %v", types)
	}
}

package roommgr

import (
	"sync"

	"github.com/signalhub/roomrelay/internal/bridge"
	"github.com/signalhub/roomrelay/internal/signal"
)

// fakeBridge is a bridge.Bridge that records subscribe/publish calls and
// lets the test inject inbound remote envelopes, so cross-instance relaying
// can be exercised without a real Redis instance.
type fakeBridge struct {
	mu         sync.Mutex
	subscribed map[string]bool
	published  []fakePublish
	incoming   chan bridge.Message
	closed     bool
}

type fakePublish struct {
	roomID string
	env    signal.Envelope
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		subscribed: make(map[string]bool),
		incoming:   make(chan bridge.Message, 16),
	}
}

func (f *fakeBridge) Subscribe(roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[roomID] = true
	return nil
}

func (f *fakeBridge) Unsubscribe(roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribed, roomID)
	return nil
}

func (f *fakeBridge) Publish(roomID string, env signal.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.subscribed[roomID] {
		return nil
	}
	f.published = append(f.published, fakePublish{roomID: roomID, env: env})
	return nil
}

func (f *fakeBridge) Incoming() <-chan bridge.Message { return f.incoming }

func (f *fakeBridge) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.incoming)
	return nil
}

func (f *fakeBridge) deliver(msg bridge.Message) {
	f.incoming <- msg
}

func (f *fakeBridge) publishedEnvelopes() []fakePublish {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakePublish, len(f.published))
	copy(out, f.published)
	return out
}

func (f *fakeBridge) isSubscribed(roomID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[roomID]
}

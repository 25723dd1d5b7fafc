package roommgr

import (
	"errors"
	"sync"

	"github.com/signalhub/roomrelay/internal/signal"
)

type fakeSession struct {
	mu     sync.Mutex
	addr   string
	sent   []signal.Envelope
	closed bool
}

func newFakeSession(addr string) *fakeSession {
	return &fakeSession{addr: addr}
}

func (f *fakeSession) Send(env signal.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("session closed")
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeSession) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSession) RemoteAddr() string { return f.addr }

func (f *fakeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSession) received() []signal.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]signal.Envelope, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeSession) typesReceived() []signal.Type {
	envs := f.received()
	types := make([]signal.Type, len(envs))
	for i, e := range envs {
		types[i] = e.Type
	}
	return types
}

// sync blocks until every command posted to r before this call has finished
// executing on its actor goroutine, or until the room has been shut down
// (after which no further command runs).
func sync_(r *Room) {
	done := make(chan struct{})
	r.post(func(*roomState) { close(done) })
	select {
	case <-done:
	case <-r.stop:
	}
}

package bridge

import "github.com/signalhub/roomrelay/internal/signal"

// noop is the Bridge used when no distribution endpoint is configured. Every
// call is a no-op so the room manager never has to branch on whether
// distribution is enabled.
type noop struct {
	incoming chan Message
}

// NewNoop returns a Bridge with every operation a no-op.
func NewNoop() Bridge {
	return &noop{incoming: make(chan Message)}
}

func (n *noop) Subscribe(roomID string) error                    { return nil }
func (n *noop) Unsubscribe(roomID string) error                  { return nil }
func (n *noop) Publish(roomID string, env signal.Envelope) error { return nil }
func (n *noop) Incoming() <-chan Message                         { return n.incoming }
func (n *noop) Close() error {
	close(n.incoming)
	return nil
}

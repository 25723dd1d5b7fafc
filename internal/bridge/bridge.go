// Package bridge relays signal envelopes across server instances over a
// publish/subscribe transport, so that a room's membership can span more
// than one process. The room manager consumes it purely as a capability; it
// never knows whether a Redis connection, another transport, or nothing at
// all backs it.
package bridge

import "github.com/signalhub/roomrelay/internal/signal"

// Message is an envelope inbound from another instance, tagged with the
// room it was published to.
type Message struct {
	RoomID   string
	Envelope signal.Envelope
}

// Bridge subscribes/unsubscribes to per-room channels and publishes locally
// originating envelopes to them. All operations are idempotent: calling
// Subscribe twice for the same room, or Unsubscribe for a room that was
// never subscribed, is not an error.
type Bridge interface {
	Subscribe(roomID string) error
	Unsubscribe(roomID string) error
	Publish(roomID string, env signal.Envelope) error

	// Incoming delivers envelopes received from other instances for rooms
	// this process has subscribed to. The channel is never closed while the
	// bridge is running.
	Incoming() <-chan Message

	// Close releases the bridge's transport connections. Incoming() is
	// closed once Close returns.
	Close() error
}

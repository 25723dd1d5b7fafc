package roommgr

import "github.com/signalhub/roomrelay/internal/signal"

// Session is the narrow view the room manager needs of a live WebSocket
// connection. internal/wsconn implements it; Send must not block on the
// network — it hands env to the connection's dedicated writer goroutine so
// the room's single actor goroutine is never stalled by a slow peer.
type Session interface {
	Send(env signal.Envelope) error
	Close()
	RemoteAddr() string
}

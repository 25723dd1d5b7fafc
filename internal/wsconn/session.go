package wsconn

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalhub/roomrelay/internal/signal"
)

const writeWait = 5 * time.Second

var errSessionClosed = errors.New("wsconn: session closed")

// wsSession implements roommgr.Session over one gorilla/websocket
// connection. Send hands the envelope to a dedicated writer goroutine and
// returns immediately — gorilla connections are not safe for concurrent
// writers, and the room's actor goroutine must never block on a slow peer.
type wsSession struct {
	conn *websocket.Conn

	send      chan signal.Envelope
	done      chan struct{}
	closeOnce sync.Once

	remoteAddr string
}

func newWSSession(conn *websocket.Conn) *wsSession {
	s := &wsSession{
		conn:       conn,
		send:       make(chan signal.Envelope, 32),
		done:       make(chan struct{}),
		remoteAddr: conn.RemoteAddr().String(),
	}
	go s.writeLoop()
	return s
}

func (s *wsSession) Send(env signal.Envelope) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}

	select {
	case s.send <- env:
		return nil
	default:
		// The peer isn't draining fast enough to keep up. Treat it like any
		// other dead connection rather than block the room's actor
		// goroutine on a full buffer.
		s.Close()
		return errSessionClosed
	}
}

func (s *wsSession) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *wsSession) RemoteAddr() string { return s.remoteAddr }

func (s *wsSession) writeLoop() {
	defer s.conn.Close()
	for {
		select {
		case env := <-s.send:
			data, err := signal.Encode(env)
			if err != nil {
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

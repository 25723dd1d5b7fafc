// Package wsconn bridges inbound gorilla/websocket connections to the
// room/routing engine in internal/roommgr. It owns the single upgrade
// endpoint, frame decoding, and dispatch of decoded envelopes to the room
// that owns a connection's client id.
package wsconn

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/signalhub/roomrelay/internal/config"
	"github.com/signalhub/roomrelay/internal/metrics"
	"github.com/signalhub/roomrelay/internal/origin"
	"github.com/signalhub/roomrelay/internal/roommgr"
	"github.com/signalhub/roomrelay/internal/signal"
)

const maxFrameBytes = 64 * 1024

// Handler upgrades inbound HTTP requests to websocket connections and runs
// their read loop. One Handler serves every room; the room id arrives as a
// query parameter on the upgrade request.
type Handler struct {
	cfg      config.Config
	rooms    *roommgr.Manager
	metrics  *metrics.Metrics
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(cfg config.Config, rooms *roommgr.Manager, m *metrics.Metrics, log *slog.Logger) *Handler {
	h := &Handler{cfg: cfg, rooms: rooms, metrics: m, log: log}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	originHeader := strings.TrimSpace(r.Header.Get("Origin"))
	if originHeader == "" {
		// No Origin header means the request didn't come from a browser
		// context subject to same-origin policy (e.g. a native client).
		return true
	}
	normalized, originHost, ok := origin.NormalizeHeader(originHeader)
	if !ok {
		return false
	}
	return origin.IsAllowed(normalized, originHost, r.Host, h.cfg.AllowedOrigins)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimSpace(r.URL.Query().Get("room"))
	if roomID == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}

	var pwdHash *string
	if raw := r.URL.Query().Get("pwd"); raw != "" {
		pwdHash = &raw
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "room_id", roomID, "error", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	room := h.rooms.GetOrCreateRoom(roomID, pwdHash)
	sess := newWSSession(conn)

	if err := sess.Send(signal.NewConnected(room.PasswordHash())); err != nil {
		h.log.Warn("failed to send connected envelope", "room_id", roomID, "error", err)
	}

	h.log.Info("client connected", "room_id", roomID, "remote_addr", sess.RemoteAddr())
	h.readLoop(room, sess, conn)
}

// readLoop decodes inbound frames and dispatches them to room until the
// connection closes. It owns the only call to conn.ReadMessage for this
// connection, matching gorilla's one-reader-at-a-time requirement.
func (h *Handler) readLoop(room *roommgr.Room, sess *wsSession, conn *websocket.Conn) {
	var boundClientID string
	defer func() {
		sess.Close()
		if boundClientID != "" {
			room.SessionClosed(boundClientID, sess)
		}
		h.log.Info("client disconnected", "room_id", room.ID(), "client_id", boundClientID, "remote_addr", sess.RemoteAddr())
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		env, err := signal.Decode(data)
		if err != nil {
			h.log.Warn("dropping malformed frame", "room_id", room.ID(), "error", err)
			if h.metrics != nil {
				if errors.Is(err, signal.ErrUnknownSignalType) {
					h.metrics.Inc(metrics.UnknownSignalTypes)
				} else {
					h.metrics.Inc(metrics.MalformedFrames)
				}
			}
			continue
		}

		switch env.Type {
		case signal.TypeJoin:
			desc, err := signal.DecodeDescriptor(env)
			if err != nil {
				h.log.Warn("dropping malformed join", "room_id", room.ID(), "error", err)
				if h.metrics != nil {
					h.metrics.Inc(metrics.MalformedFrames)
				}
				continue
			}
			boundClientID = desc.ClientID
			room.Join(sess, desc)

		case signal.TypeLeave:
			if boundClientID == "" {
				continue
			}
			room.Leave(boundClientID)
			return

		case signal.TypeMessage:
			room.Message(env)

		case signal.TypePing, signal.TypePong:
			if boundClientID != "" {
				room.Pong(boundClientID)
			}

		case signal.TypeConnected:
			// Server-originated only; a client sending one back is ignored.
		}
	}
}

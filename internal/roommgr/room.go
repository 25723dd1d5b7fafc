// Package roommgr implements the room membership and routing engine: the
// per-room client registry, the connection state machine driving
// join/leave/resume, the fan-out router, and the heartbeat liveness sweep.
// It never inspects a client's payload beyond the fields needed to route
// it.
package roommgr

import (
	"log/slog"
	"time"

	"github.com/signalhub/roomrelay/internal/bridge"
	"github.com/signalhub/roomrelay/internal/metrics"
	"github.com/signalhub/roomrelay/internal/signal"
)

type clientState int

const (
	stateActive clientState = iota
	stateGraceTimeout
)

type clientRecord struct {
	descriptor   signal.Descriptor
	session      Session
	state        clientState
	lastPongTime time.Time

	graceTimer Timer
	graceGen   int

	messageCache        []signal.Envelope
	cacheEvictionLogged bool
}

// roomState is the room's actual membership data. It is touched only by the
// Room's single actor goroutine (run), so it needs no mutex of its own.
type roomState struct {
	clients map[string]*clientRecord
}

// Room drives one room's membership and routing. Every operation is posted
// as a closure onto the room's command channel and executed in FIFO order
// by a single goroutine, giving the single-writer-per-room guarantee the
// concurrency model requires without a mutex.
type Room struct {
	id           string
	passwordHash *string

	clock             Clock
	disconnectTimeout time.Duration
	cacheCap          int
	metrics           *metrics.Metrics
	bridge            bridge.Bridge
	log               *slog.Logger

	onEmpty func()

	cmds chan func(*roomState)
	stop chan struct{}
}

func newRoom(
	id string,
	passwordHash *string,
	clock Clock,
	disconnectTimeout time.Duration,
	cacheCap int,
	m *metrics.Metrics,
	br bridge.Bridge,
	log *slog.Logger,
	onEmpty func(),
) *Room {
	r := &Room{
		id:                id,
		passwordHash:      passwordHash,
		clock:             clock,
		disconnectTimeout: disconnectTimeout,
		cacheCap:          cacheCap,
		metrics:           m,
		bridge:            br,
		log:               log.With("room_id", id),
		onEmpty:           onEmpty,
		cmds:              make(chan func(*roomState), 64),
		stop:              make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Room) run() {
	st := &roomState{clients: make(map[string]*clientRecord)}
	for {
		select {
		case cmd := <-r.cmds:
			select {
			case <-r.stop:
				return
			default:
			}
			cmd(st)
		case <-r.stop:
			return
		}
	}
}

// post enqueues cmd for execution on the room's actor goroutine. It does not
// wait for cmd to run, and it is a no-op once the room has been shut down.
func (r *Room) post(cmd func(*roomState)) {
	select {
	case r.cmds <- cmd:
	case <-r.stop:
	}
}

// ID returns the room's identifier.
func (r *Room) ID() string { return r.id }

// PasswordHash returns the room's stored password hash, set at creation and
// never mutated afterward.
func (r *Room) PasswordHash() *string { return r.passwordHash }

func (r *Room) shutdown() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
}

// Join handles an inbound join envelope for sess, implementing the full
// Opening -> Active transition table: a fresh join, a resuming rejoin
// during the grace period, or a non-resume join that displaces a still
// registered record.
func (r *Room) Join(sess Session, desc signal.Descriptor) {
	r.post(func(st *roomState) {
		existing, ok := st.clients[desc.ClientID]

		if ok && existing.state == stateGraceTimeout && desc.Resume {
			r.cancelGraceTimer(existing)
			existing.session = sess
			existing.state = stateActive
			existing.descriptor = desc
			existing.lastPongTime = r.clock.Now()
			r.flushCache(existing)
			if r.metrics != nil {
				r.metrics.Inc(metrics.Resumes)
			}
			return
		}

		if ok {
			existing.session.Close()
			r.evictAndBroadcastLeave(st, existing)
		}

		rec := &clientRecord{
			descriptor:   desc,
			session:      sess,
			state:        stateActive,
			lastPongTime: r.clock.Now(),
		}
		r.installAndBroadcastJoin(st, rec)
	})
}

func (r *Room) installAndBroadcastJoin(st *roomState, rec *clientRecord) {
	existingIDs := make([]string, 0, len(st.clients))
	for id := range st.clients {
		existingIDs = append(existingIDs, id)
	}

	st.clients[rec.descriptor.ClientID] = rec
	if r.metrics != nil {
		r.metrics.Inc(metrics.Joins)
	}

	joinEnv := signal.NewDescriptorEnvelope(signal.TypeJoin, rec.descriptor)
	for _, id := range existingIDs {
		r.deliver(st.clients[id], joinEnv)
	}

	// Roster bootstrap: tell the new session about every member already
	// present, before any message reaches it.
	for _, id := range existingIDs {
		other := st.clients[id]
		r.deliver(rec, signal.NewDescriptorEnvelope(signal.TypeJoin, other.descriptor))
	}

	if r.bridge != nil {
		if err := r.bridge.Publish(r.id, joinEnv); err != nil {
			r.log.Warn("bridge publish failed", "error", err)
			if r.metrics != nil {
				r.metrics.Inc(metrics.BridgePublishFails)
			}
		} else if r.metrics != nil {
			r.metrics.Inc(metrics.BridgePublishes)
		}
	}
}

// Leave handles an explicit inbound leave for clientID, evicting the record,
// broadcasting leave to the rest of the room, and closing the session —
// server-initiated close after leave, for determinism.
func (r *Room) Leave(clientID string) {
	r.post(func(st *roomState) {
		rec, ok := st.clients[clientID]
		if !ok {
			r.log.Warn("leave for unknown client", "client_id", clientID)
			return
		}
		rec.session.Close()
		r.evictAndBroadcastLeave(st, rec)
	})
}

// evictAndBroadcastLeave removes rec from the room, broadcasts a leave
// envelope to the remaining members, publishes it on the bridge, and — if
// the room is now empty — triggers room destruction. Callers decide
// separately whether to close rec's underlying socket.
func (r *Room) evictAndBroadcastLeave(st *roomState, rec *clientRecord) {
	r.cancelGraceTimer(rec)
	delete(st.clients, rec.descriptor.ClientID)
	if r.metrics != nil {
		r.metrics.Inc(metrics.Leaves)
	}

	leaveEnv := signal.NewDescriptorEnvelope(signal.TypeLeave, rec.descriptor)
	for _, other := range st.clients {
		r.deliver(other, leaveEnv)
	}
	if r.bridge != nil {
		if err := r.bridge.Publish(r.id, leaveEnv); err != nil {
			r.log.Warn("bridge publish failed", "error", err)
			if r.metrics != nil {
				r.metrics.Inc(metrics.BridgePublishFails)
			}
		} else if r.metrics != nil {
			r.metrics.Inc(metrics.BridgePublishes)
		}
	}

	if len(st.clients) == 0 {
		if r.bridge != nil {
			if err := r.bridge.Unsubscribe(r.id); err != nil {
				r.log.Warn("bridge unsubscribe failed", "error", err)
			}
		}
		if r.onEmpty != nil {
			r.onEmpty()
		}
	}
}

// SessionClosed transitions clientID's record from Active to GraceTimeout
// after its underlying socket closes without an explicit leave, starting
// the disconnect timer. sess must match the record's current session —
// calls from a session that has already been superseded by a resume are
// ignored.
func (r *Room) SessionClosed(clientID string, sess Session) {
	r.post(func(st *roomState) {
		rec, ok := st.clients[clientID]
		if !ok || rec.session != sess || rec.state != stateActive {
			return
		}

		rec.state = stateGraceTimeout
		rec.graceGen++
		gen := rec.graceGen
		rec.graceTimer = r.clock.AfterFunc(r.disconnectTimeout, func() {
			r.post(func(st *roomState) {
				r.handleGraceTimerFire(st, clientID, gen)
			})
		})
	})
}

func (r *Room) handleGraceTimerFire(st *roomState, clientID string, gen int) {
	rec, ok := st.clients[clientID]
	if !ok || rec.state != stateGraceTimeout || rec.graceGen != gen {
		// Stale fire racing with a resume, or the record is already gone.
		return
	}
	if r.metrics != nil {
		r.metrics.Inc(metrics.GraceTimerExpiries)
	}
	r.evictAndBroadcastLeave(st, rec)
}

func (r *Room) cancelGraceTimer(rec *clientRecord) {
	if rec.graceTimer != nil {
		rec.graceTimer.Stop()
		rec.graceTimer = nil
	}
	rec.graceGen++
}

// Message routes an inbound message envelope to its targetClientId. If no
// local record exists for the target, it is relayed to the bridge so
// another instance hosting that client can deliver it.
func (r *Room) Message(env signal.Envelope) {
	r.post(func(st *roomState) {
		payload, err := signal.DecodeMessagePayload(env)
		if err != nil {
			r.log.Warn("dropping malformed message", "error", err)
			if r.metrics != nil {
				r.metrics.Inc(metrics.MalformedFrames)
			}
			return
		}

		target, ok := st.clients[payload.TargetClientID]
		if ok {
			r.deliver(target, env)
			if r.metrics != nil {
				r.metrics.Inc(metrics.MessagesRouted)
			}
			return
		}

		if r.bridge == nil {
			if r.metrics != nil {
				r.metrics.Inc(metrics.MessagesDropped)
			}
			return
		}
		if err := r.bridge.Publish(r.id, env); err != nil {
			r.log.Warn("bridge publish failed", "error", err)
			if r.metrics != nil {
				r.metrics.Inc(metrics.BridgePublishFails)
			}
			return
		}
		if r.metrics != nil {
			r.metrics.Inc(metrics.BridgePublishes)
		}
	})
}

// Pong records liveness for clientID, refreshing the last-pong time the
// heartbeat sweep checks against the pong timeout. Both inbound pong and inbound ping frames count as
// liveness for this purpose.
func (r *Room) Pong(clientID string) {
	r.post(func(st *roomState) {
		if rec, ok := st.clients[clientID]; ok {
			rec.lastPongTime = r.clock.Now()
		}
	})
}

// ApplyRemoteEnvelope re-enters an envelope received from the distribution
// bridge into the fan-out router with no originating local session. Remote
// clients never get a local clientRecord — only local members can receive
// their join/leave/message traffic.
func (r *Room) ApplyRemoteEnvelope(env signal.Envelope) {
	r.post(func(st *roomState) {
		switch env.Type {
		case signal.TypeJoin, signal.TypeLeave:
			if _, err := signal.DecodeDescriptor(env); err != nil {
				r.log.Warn("dropping malformed remote envelope", "error", err)
				if r.metrics != nil {
					r.metrics.Inc(metrics.MalformedFrames)
				}
				return
			}
			for _, rec := range st.clients {
				r.deliver(rec, env)
			}
		case signal.TypeMessage:
			payload, err := signal.DecodeMessagePayload(env)
			if err != nil {
				r.log.Warn("dropping malformed remote message", "error", err)
				if r.metrics != nil {
					r.metrics.Inc(metrics.MalformedFrames)
				}
				return
			}
			target, ok := st.clients[payload.TargetClientID]
			if !ok {
				if r.metrics != nil {
					r.metrics.Inc(metrics.MessagesDropped)
				}
				return
			}
			r.deliver(target, env)
			if r.metrics != nil {
				r.metrics.Inc(metrics.MessagesRouted)
			}
		default:
			// connected/ping/pong are never carried on the bridge.
		}
	})
}

// HeartbeatSweep pings every active member and closes any session that has
// not produced a pong/ping within pongTimeout.
func (r *Room) HeartbeatSweep(now time.Time, pongTimeout time.Duration) {
	r.post(func(st *roomState) {
		for _, rec := range st.clients {
			if rec.state != stateActive {
				continue
			}
			if now.Sub(rec.lastPongTime) > pongTimeout {
				if r.metrics != nil {
					r.metrics.Inc(metrics.HeartbeatTimeouts)
				}
				rec.session.Close()
				continue
			}
			_ = rec.session.Send(signal.NewPing())
		}
	})
}

// deliver writes env to rec's live session, falling back to the per-client
// message cache when the record has no open socket (GraceTimeout) or the
// send fails. Pings are never cached — a missed ping is harmless, the next
// sweep tries again.
func (r *Room) deliver(rec *clientRecord, env signal.Envelope) {
	if rec.state == stateActive && rec.session != nil {
		if err := rec.session.Send(env); err == nil {
			return
		}
	}
	if env.Type == signal.TypePing {
		return
	}
	r.cacheMessage(rec, env)
}

func (r *Room) cacheMessage(rec *clientRecord, env signal.Envelope) {
	rec.messageCache = append(rec.messageCache, env)
	if r.metrics != nil {
		r.metrics.Inc(metrics.MessagesCached)
	}

	if over := len(rec.messageCache) - r.cacheCap; over > 0 {
		rec.messageCache = rec.messageCache[over:]
		if r.metrics != nil {
			r.metrics.Add(metrics.CacheEvictions, uint64(over))
		}
		if !rec.cacheEvictionLogged {
			r.log.Warn("message cache evicting oldest entries", "client_id", rec.descriptor.ClientID, "cap", r.cacheCap)
			rec.cacheEvictionLogged = true
		}
	}
}

func (r *Room) flushCache(rec *clientRecord) {
	for _, env := range rec.messageCache {
		_ = rec.session.Send(env)
	}
	rec.messageCache = nil
	rec.cacheEvictionLogged = false
}

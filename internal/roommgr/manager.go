package roommgr

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/signalhub/roomrelay/internal/bridge"
	"github.com/signalhub/roomrelay/internal/metrics"
)

// Config carries the timing and capacity knobs the manager and every room it
// creates are configured with.
type Config struct {
	HeartbeatInterval time.Duration
	PongTimeout       time.Duration
	DisconnectTimeout time.Duration
	MessageCacheCap   int
}

// Manager is the process-wide room registry. It owns room creation and
// destruction and drives the cross-room heartbeat sweep and bridge ingest;
// all per-room membership and routing logic lives on Room itself.
type Manager struct {
	cfg     Config
	clock   Clock
	metrics *metrics.Metrics
	bridge  bridge.Bridge
	log     *slog.Logger

	mu    sync.Mutex
	rooms map[string]*Room

	stop chan struct{}
	g    *errgroup.Group
}

// NewManager constructs a Manager and starts its heartbeat sweep and bridge
// ingest loops under a shared errgroup, so Shutdown waits for both
// background loops to exit and returns an error either of them reports.
// A panic in either loop is not recovered. If br is nil, a no-op bridge is
// used.
func NewManager(cfg Config, clock Clock, m *metrics.Metrics, br bridge.Bridge, log *slog.Logger) *Manager {
	if br == nil {
		br = bridge.NewNoop()
	}
	g := &errgroup.Group{}
	mgr := &Manager{
		cfg:     cfg,
		clock:   clock,
		metrics: m,
		bridge:  br,
		log:     log,
		rooms:   make(map[string]*Room),
		stop:    make(chan struct{}),
		g:       g,
	}
	g.Go(mgr.heartbeatLoop)
	g.Go(mgr.consumeBridge)
	return mgr
}

// GetOrCreateRoom returns the room for roomID, creating and subscribing it
// to the distribution bridge on first access. initialPasswordHash is
// ignored when the room already exists — a room's password hash is
// immutable after creation.
func (m *Manager) GetOrCreateRoom(roomID string, initialPasswordHash *string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	if room, ok := m.rooms[roomID]; ok {
		return room
	}

	room := newRoom(roomID, initialPasswordHash, m.clock, m.cfg.DisconnectTimeout, m.cfg.MessageCacheCap, m.metrics, m.bridge, m.log, func() {
		m.destroyIfEmpty(roomID)
	})
	m.rooms[roomID] = room

	if err := m.bridge.Subscribe(roomID); err != nil {
		m.log.Warn("bridge subscribe failed", "room_id", roomID, "error", err)
	}

	return room
}

// Lookup returns the room for roomID if it currently exists, without
// creating it.
func (m *Manager) Lookup(roomID string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	return room, ok
}

func (m *Manager) destroyIfEmpty(roomID string) {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if ok {
		delete(m.rooms, roomID)
	}
	m.mu.Unlock()

	if ok {
		room.shutdown()
	}
}

func (m *Manager) heartbeatLoop() error {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweepOnce()
		case <-m.stop:
			return nil
		}
	}
}

func (m *Manager) sweepOnce() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rooms := make([]*Room, 0, len(ids))
	for _, id := range ids {
		rooms = append(rooms, m.rooms[id])
	}
	m.mu.Unlock()

	now := m.clock.Now()
	for _, room := range rooms {
		room.HeartbeatSweep(now, m.cfg.PongTimeout)
	}
}

func (m *Manager) consumeBridge() error {
	for msg := range m.bridge.Incoming() {
		room, ok := m.Lookup(msg.RoomID)
		if !ok {
			// No local room exists for this remote signal yet. A local join
			// will recreate the room via GetOrCreateRoom; until then there
			// is nothing local to fan out to.
			if m.metrics != nil {
				m.metrics.Inc(metrics.UnknownRooms)
			}
			continue
		}
		room.ApplyRemoteEnvelope(msg.Envelope)
	}
	return nil
}

// Shutdown stops the heartbeat sweep, tears down every room without running
// their grace periods, and closes the distribution bridge.
func (m *Manager) Shutdown(ctx context.Context) error {
	close(m.stop)

	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.rooms = make(map[string]*Room)
	m.mu.Unlock()

	for _, room := range rooms {
		room.shutdown()
	}

	closeErr := m.bridge.Close()
	if err := m.g.Wait(); err != nil {
		return err
	}
	return closeErr
}

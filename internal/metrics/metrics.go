package metrics

import "sync"

// Event counter names used across the room manager, connection state machine,
// and distribution bridge.
const (
	Joins              = "joins"
	Resumes            = "resumes"
	Leaves             = "leaves"
	GraceTimerExpiries = "grace_timer_expiries"
	HeartbeatTimeouts  = "heartbeat_timeouts"
	MessagesRouted     = "messages_routed"
	MessagesCached     = "messages_cached"
	MessagesDropped    = "messages_dropped"
	MalformedFrames    = "malformed_frames"
	UnknownSignalTypes = "unknown_signal_types"
	UnknownRooms       = "unknown_rooms"
	BridgePublishes    = "bridge_publishes"
	BridgePublishFails = "bridge_publish_failures"
	BridgeDisabled     = "bridge_disabled"
	CacheEvictions     = "cache_evictions"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The production relay is expected to plug into a real metrics backend; this
// type keeps the room manager and bridge testable without one and provides the
// counters exposed at GET /metrics.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters, safe to iterate without the lock.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

package metrics

import "sync"

// Relay event names. They are exported as the `event` label of a single
// Prometheus counter.
const (
	ClientConnected     = "client_connected"
	ClientDisconnected  = "client_disconnected"
	ClientRejected      = "client_rejected"
	EnvelopeRouted      = "envelope_routed"
	EnvelopeUndelivered = "envelope_undelivered"
	EnvelopeInvalid     = "envelope_invalid"
	ClientListBroadcast = "client_list_broadcast"
	GroupJoined         = "group_joined"
	GroupCreated        = "group_created"

	DropReasonRateLimited    = "rate_limited"
	DropReasonTooManyClients = "too_many_clients"
)

// Metrics is a concurrency-safe counter registry.
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
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

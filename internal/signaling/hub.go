package signaling

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/metrics"
)

var (
	ErrKeyInUse       = errors.New("signaling: key already connected")
	ErrTooManyClients = errors.New("signaling: too many clients")
	ErrShuttingDown   = errors.New("signaling: relay shutting down")
)

const reasonPeerNotConnected = "peer not connected"

// Conn is one connected client as seen by the Hub.
type Conn interface {
	Send(Envelope) error
}

type hubClient struct {
	key   string
	conn  Conn
	group string
}

// Hub tracks connected peer keys and routes envelopes between them.
//
// Client lists are scoped: a client that entered a group sees the group's
// connected members, every other client sees the connected clients that are
// not in any group. Lists include the recipient's own key.
type Hub struct {
	log        *slog.Logger
	metrics    *metrics.Metrics
	groups     *Groups
	maxClients int

	mu      sync.Mutex
	clients map[string]*hubClient

	// broadcastMu keeps client list snapshots from overtaking each other.
	broadcastMu sync.Mutex
}

func NewHub(log *slog.Logger, m *metrics.Metrics, groups *Groups, maxClients int) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if groups == nil {
		groups = NewGroups()
	}
	return &Hub{
		log:        log,
		metrics:    m,
		groups:     groups,
		maxClients: maxClients,
		clients:    make(map[string]*hubClient),
	}
}

// Join registers conn under key, greets it and refreshes client lists.
func (h *Hub) Join(key string, conn Conn) error {
	h.mu.Lock()
	if _, ok := h.clients[key]; ok {
		h.mu.Unlock()
		h.metrics.Inc(metrics.ClientRejected)
		return ErrKeyInUse
	}
	if h.maxClients > 0 && len(h.clients) >= h.maxClients {
		h.mu.Unlock()
		h.metrics.Inc(metrics.DropReasonTooManyClients)
		return ErrTooManyClients
	}
	h.clients[key] = &hubClient{key: key, conn: conn}
	h.mu.Unlock()

	h.metrics.Inc(metrics.ClientConnected)
	h.log.Info("client connected", "peer", key)

	welcome := Envelope{
		Type:    TypeWelcome,
		Sender:  ServerSender,
		Target:  key,
		Payload: "Hi, you are connected with key: " + key,
	}
	if err := conn.Send(welcome); err != nil {
		h.log.Debug("welcome not delivered", "peer", key, "err", err)
	}
	h.Refresh()
	return nil
}

// Leave unregisters key if it is still bound to conn.
func (h *Hub) Leave(key string, conn Conn) {
	h.mu.Lock()
	c, ok := h.clients[key]
	if !ok || c.conn != conn {
		h.mu.Unlock()
		return
	}
	delete(h.clients, key)
	h.mu.Unlock()

	h.metrics.Inc(metrics.ClientDisconnected)
	h.log.Info("client disconnected", "peer", key)
	h.Refresh()
}

// Route handles one envelope received from the client registered as from.
// The sender field is always overwritten with from.
func (h *Hub) Route(from string, env Envelope) {
	env.Sender = from

	switch {
	case env.Type.Routed():
		h.forward(env)
	case env.Type == TypeEnterGroup:
		h.enterGroup(from, env.Payload)
	default:
		h.metrics.Inc(metrics.EnvelopeInvalid)
		h.reply(from, Envelope{
			Type:    TypeError,
			Sender:  ServerSender,
			Target:  from,
			Payload: EncodeError("", "unsupported envelope type "+string(env.Type)),
		})
	}
}

func (h *Hub) forward(env Envelope) {
	h.mu.Lock()
	target, ok := h.clients[env.Target]
	h.mu.Unlock()

	if !ok {
		h.metrics.Inc(metrics.EnvelopeUndelivered)
		h.log.Debug("envelope target not connected", "type", env.Type, "from", env.Sender, "to", env.Target)
		h.reply(env.Sender, Envelope{
			Type:    TypeError,
			Sender:  ServerSender,
			Target:  env.Sender,
			Payload: EncodeError(env.Target, reasonPeerNotConnected),
		})
		return
	}
	if err := target.conn.Send(env); err != nil {
		h.metrics.Inc(metrics.EnvelopeUndelivered)
		h.log.Warn("envelope delivery failed", "type", env.Type, "from", env.Sender, "to", env.Target, "err", err)
		return
	}
	h.metrics.Inc(metrics.EnvelopeRouted)
}

func (h *Hub) enterGroup(key, groupKey string) {
	if !ValidKey(groupKey) {
		h.metrics.Inc(metrics.EnvelopeInvalid)
		h.reply(key, Envelope{
			Type:    TypeError,
			Sender:  ServerSender,
			Target:  key,
			Payload: EncodeError("", "invalid group key"),
		})
		return
	}
	h.groups.Enter(groupKey, key)

	h.mu.Lock()
	if c, ok := h.clients[key]; ok {
		c.group = groupKey
	}
	h.mu.Unlock()

	h.metrics.Inc(metrics.GroupJoined)
	h.log.Info("client entered group", "peer", key, "group", groupKey)
	h.Refresh()
}

func (h *Hub) reply(key string, env Envelope) {
	h.mu.Lock()
	c, ok := h.clients[key]
	h.mu.Unlock()
	if !ok {
		return
	}
	if err := c.conn.Send(env); err != nil {
		h.log.Debug("reply not delivered", "peer", key, "err", err)
	}
}

// Refresh sends every connected client its current client list.
func (h *Hub) Refresh() {
	h.broadcastMu.Lock()
	defer h.broadcastMu.Unlock()

	type delivery struct {
		conn Conn
		env  Envelope
	}

	h.mu.Lock()
	var ungrouped []string
	byGroup := make(map[string][]string)
	for key, c := range h.clients {
		if c.group == "" {
			ungrouped = append(ungrouped, key)
			continue
		}
		byGroup[c.group] = append(byGroup[c.group], key)
	}
	sort.Strings(ungrouped)
	for g := range byGroup {
		sort.Strings(byGroup[g])
	}

	out := make([]delivery, 0, len(h.clients))
	for _, c := range h.clients {
		view := ungrouped
		if c.group != "" {
			view = byGroup[c.group]
		}
		out = append(out, delivery{
			conn: c.conn,
			env: Envelope{
				Type:    TypeClientList,
				Sender:  ServerSender,
				Payload: FormatClientList(view),
			},
		})
	}
	h.mu.Unlock()

	for _, d := range out {
		if err := d.conn.Send(d.env); err != nil {
			h.log.Debug("client list not delivered", "err", err)
			continue
		}
		h.metrics.Inc(metrics.ClientListBroadcast)
	}
}

// AssignGroup records that key now belongs to groupKey (for HTTP joins) and
// refreshes client lists. Unknown keys are ignored.
func (h *Hub) AssignGroup(key, groupKey string) {
	h.mu.Lock()
	c, ok := h.clients[key]
	if ok {
		c.group = groupKey
	}
	h.mu.Unlock()
	if ok {
		h.Refresh()
	}
}

// Keys returns the connected peer keys in sorted order.
func (h *Hub) Keys() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.clients))
	for k := range h.clients {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

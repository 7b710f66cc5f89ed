// Package ws implements the WebSocket event broadcaster mounted at
// /ws on the shared HTTP listener. Generalized from the teacher's
// old_internal/webui connect-handshake/ping-pong pattern
// (WebSocketMessage, WSMsgTypeConnect) from per-session stream fan-out
// to per-client subscription sets over the bus's ten task event kinds.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cklxx/taskwarden/internal/events/bus"
	"github.com/cklxx/taskwarden/internal/shared/idgen"
	"github.com/cklxx/taskwarden/internal/shared/logging"
)

const (
	pingInterval = 10 * time.Second
	evictAfter   = 30 * time.Second
)

var defaultSubscriptions = []bus.Kind{
	bus.TaskCreated,
	bus.TaskUpdated,
	bus.TaskDeleted,
	bus.TaskStatusChanged,
	bus.TaskPriorityChanged,
}

// ClientMessage is the upstream (client -> server) control message
// shape from spec.md §4.4/§6.
type ClientMessage struct {
	Type       string     `json:"type"`
	EventTypes []bus.Kind `json:"eventTypes"`
}

// ServerMessage is the downstream (server -> client) envelope.
type ServerMessage struct {
	ID    string    `json:"id"`
	Event bus.Event `json:"event"`
}

type client struct {
	id            string
	conn          *websocket.Conn
	subscriptions map[bus.Kind]struct{}
	lastSeen      time.Time
	writeMu       sync.Mutex
}

func (c *client) subscribed(k bus.Kind) bool {
	_, ok := c.subscriptions[k]
	return ok
}

func (c *client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Broadcaster maintains the set of connected clients and fans out bus
// events filtered by each client's subscription set.
type Broadcaster struct {
	upgrader websocket.Upgrader
	logger   logging.Logger

	mu      sync.Mutex
	clients map[string]*client

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewBroadcaster constructs a Broadcaster. allowedOrigins controls the
// upgrader's origin check; an empty list allows any origin (suitable
// for same-host dashboards and local development).
func NewBroadcaster(logger logging.Logger, allowedOrigins []string) *Broadcaster {
	logger = logging.OrNop(logger).With("ws")
	b := &Broadcaster{
		logger:  logger,
		clients: make(map[string]*client),
		stopCh:  make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
	go b.pingLoop()
	return b
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Header.Get("Origin")]
		return ok
	}
}

// ServeHTTP upgrades the connection and registers a new client with
// the default subscription set, matching the teacher's connect
// handshake (an initial message is sent immediately after upgrade).
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("upgrade failed: %v", err)
		return
	}

	c := &client{
		id:            idgen.NewSessionID("ws"),
		conn:          conn,
		subscriptions: make(map[bus.Kind]struct{}, len(defaultSubscriptions)),
		lastSeen:      time.Now(),
	}
	for _, k := range defaultSubscriptions {
		c.subscriptions[k] = struct{}{}
	}

	b.mu.Lock()
	b.clients[c.id] = c
	b.mu.Unlock()

	conn.SetPongHandler(func(string) error {
		b.mu.Lock()
		c.lastSeen = time.Now()
		b.mu.Unlock()
		return nil
	})

	if err := c.writeJSON(ServerMessage{ID: c.id, Event: bus.New(bus.TasksList, map[string]any{})}); err != nil {
		b.removeClient(c.id)
		conn.Close()
		return
	}

	go b.readLoop(c)
}

func (b *Broadcaster) readLoop(c *client) {
	defer func() {
		b.removeClient(c.id)
		c.conn.Close()
	}()
	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		b.mu.Lock()
		c.lastSeen = time.Now()
		switch msg.Type {
		case "subscribe":
			for _, k := range msg.EventTypes {
				c.subscriptions[k] = struct{}{}
			}
		case "unsubscribe":
			for _, k := range msg.EventTypes {
				delete(c.subscriptions, k)
			}
		}
		b.mu.Unlock()
	}
}

func (b *Broadcaster) removeClient(id string) {
	b.mu.Lock()
	delete(b.clients, id)
	b.mu.Unlock()
}

// Broadcast delivers event to every client subscribed to its type. A
// client whose write fails is evicted; serialization/send errors never
// affect delivery to other clients (spec.md §4.4).
func (b *Broadcaster) Broadcast(event bus.Event) {
	b.mu.Lock()
	targets := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		if c.subscribed(event.Type) {
			targets = append(targets, c)
		}
	}
	b.mu.Unlock()

	for _, c := range targets {
		if err := c.writeJSON(ServerMessage{ID: c.id, Event: event}); err != nil {
			b.logger.Warn("send failed for client %s, evicting: %v", c.id, err)
			b.removeClient(c.id)
			c.conn.Close()
		}
	}
}

// ClientCount reports the number of currently connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *Broadcaster) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

// sweep pings every client and evicts any whose last-seen time is
// older than evictAfter, matching spec.md §4.4's 10s ping / 30s
// eviction liveness policy.
func (b *Broadcaster) sweep() {
	now := time.Now()
	b.mu.Lock()
	var stale []*client
	for id, c := range b.clients {
		if now.Sub(c.lastSeen) > evictAfter {
			stale = append(stale, c)
			delete(b.clients, id)
			continue
		}
		go func(c *client) {
			c.writeMu.Lock()
			defer c.writeMu.Unlock()
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		}(c)
	}
	b.mu.Unlock()

	for _, c := range stale {
		c.conn.Close()
	}
}

// Close stops the ping loop and closes every connected client.
func (b *Broadcaster) Close() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.mu.Lock()
		defer b.mu.Unlock()
		for id, c := range b.clients {
			c.conn.Close()
			delete(b.clients, id)
		}
	})
}

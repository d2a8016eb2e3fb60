package api

import (
	"log"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/camarigor/tribeminer/internal/pool"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the websocket envelope in both directions
type Message struct {
	Type       string      `json:"type"`
	UserID     string      `json:"userId,omitempty"`
	Credential string      `json:"credential,omitempty"`
	Data       interface{} `json:"data,omitempty"`
}

// client is one websocket connection. Writes are serialized through mu
// because gorilla connections allow only one concurrent writer.
type client struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	userID string // set once authenticated
}

func (c *client) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Hub tracks websocket connections, maps authenticated users to their most
// recent connection, and runs the two periodic push loops: pool stats to
// everyone and jittered per-miner updates to active miners.
type Hub struct {
	pool *pool.Service

	poolStatsInterval   time.Duration
	minerUpdateInterval time.Duration

	mu      sync.RWMutex
	clients map[*client]bool
	users   map[string]*client // userID -> most recent authenticated connection

	rngMu sync.Mutex
	rng   *rand.Rand

	done     chan struct{}
	stopOnce sync.Once
}

func NewHub(poolSvc *pool.Service, poolStatsInterval, minerUpdateInterval time.Duration) *Hub {
	return &Hub{
		pool:                poolSvc,
		poolStatsInterval:   poolStatsInterval,
		minerUpdateInterval: minerUpdateInterval,
		clients:             make(map[*client]bool),
		users:               make(map[string]*client),
		rng:                 rand.New(rand.NewSource(time.Now().UnixNano())),
		done:                make(chan struct{}),
	}
}

// Run drives the periodic pushes until Stop is called
func (h *Hub) Run() {
	poolTicker := time.NewTicker(h.poolStatsInterval)
	defer poolTicker.Stop()
	minerTicker := time.NewTicker(h.minerUpdateInterval)
	defer minerTicker.Stop()

	for {
		select {
		case <-h.done:
			h.closeAll()
			return
		case <-poolTicker.C:
			h.broadcastPoolStats()
		case <-minerTicker.C:
			h.pushMinerUpdates()
		}
	}
}

// Stop shuts down the push loops and closes every connection. Idempotent.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
	h.users = make(map[string]*client)
}

func (h *Hub) addClient(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()
	log.Printf("WebSocket client connected, total clients: %d", total)
}

// removeClient drops a connection. The user mapping is only cleared when
// it still points at this exact connection, so tearing down a stale
// connection never evicts a newer one for the same user.
func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.conn.Close()
	}
	if c.userID != "" && h.users[c.userID] == c {
		delete(h.users, c.userID)
	}
	total := len(h.clients)
	h.mu.Unlock()
	log.Printf("WebSocket client disconnected, total clients: %d", total)
}

// bindUser maps an authenticated user to this connection. A later
// connection for the same user replaces the mapping.
func (h *Hub) bindUser(userID string, c *client) {
	h.mu.Lock()
	c.userID = userID
	h.users[userID] = c
	h.mu.Unlock()
}

// SendToUser delivers a one-shot message to the user's live connection.
// No connection, or a dead one, is a silent no-op.
func (h *Hub) SendToUser(userID string, msg Message) {
	h.mu.RLock()
	c, ok := h.users[userID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if err := c.send(msg); err != nil {
		h.removeClient(c)
	}
}

// broadcastPoolStats pushes the current pool summary to every connection,
// authenticated or not
func (h *Hub) broadcastPoolStats() {
	stats := h.pool.PoolStats()
	msg := Message{Type: "pool_stats", Data: stats}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(msg); err != nil {
			log.Printf("WebSocket write error: %v", err)
			h.removeClient(c)
		}
	}
}

// pushMinerUpdates sends each active miner its personal update. The hash
// rate is jittered for display only; the stored session value is never
// touched.
func (h *Hub) pushMinerUpdates() {
	now := time.Now()
	for _, miner := range h.pool.ActiveMiners() {
		h.mu.RLock()
		c, ok := h.users[miner.UserID]
		h.mu.RUnlock()
		if !ok {
			continue
		}

		displayRate := math.Max(0, miner.HashRate+h.jitter())
		msg := Message{
			Type: "mining_update",
			Data: map[string]interface{}{
				"hashRate": math.Floor(displayRate),
				"shares":   miner.TotalShares,
				"uptime":   int64(now.Sub(miner.StartTime).Seconds()),
			},
		}
		if err := c.send(msg); err != nil {
			h.removeClient(c)
		}
	}
}

// jitter returns uniform presentation noise in (-25, 25)
func (h *Hub) jitter() float64 {
	h.rngMu.Lock()
	defer h.rngMu.Unlock()
	return (h.rng.Float64() - 0.5) * 50
}

// handleWebSocket upgrades the connection and runs its read loop
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	c := &client{conn: conn}
	s.hub.addClient(c)

	go func() {
		defer s.hub.removeClient(c)

		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			s.handleClientMessage(c, msg)
		}
	}()
}

// handleClientMessage dispatches one inbound websocket message
func (s *Server) handleClientMessage(c *client, msg Message) {
	switch msg.Type {
	case "authenticate":
		identity, err := s.auth.Validate(msg.Credential)
		if err != nil {
			// Auth failure is a message, not a disconnect
			c.send(Message{Type: "auth_failed"})
			return
		}

		s.hub.bindUser(identity.UserID, c)
		c.send(Message{Type: "auth_success", UserID: identity.UserID})

		if miner, ok := s.pool.MinerByUser(identity.UserID); ok {
			c.send(Message{
				Type: "mining_status",
				Data: map[string]interface{}{
					"isActive": miner.IsActive,
					"hashRate": miner.HashRate,
				},
			})
		}

	case "subscribe_pool_stats":
		c.send(Message{Type: "pool_stats", Data: s.pool.PoolStats()})
	}
}

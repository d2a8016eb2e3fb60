package api

import (
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/camarigor/tribeminer/internal/config"
	"github.com/camarigor/tribeminer/internal/pool"
	"github.com/camarigor/tribeminer/internal/storage"
)

// nopStatsStore satisfies pool.StatsStore for hub tests that never look at
// persisted stats.
type nopStatsStore struct{}

func (nopStatsStore) GetMiningStats(string) (storage.MiningStats, error) {
	return storage.MiningStats{}, nil
}

func (nopStatsStore) UpdateMiningStats(string, storage.MiningStats) error {
	return nil
}

func newTestHub(t *testing.T) (*Hub, *pool.Service) {
	t.Helper()

	cfg := config.DefaultConfig()
	poolSvc := pool.NewService(cfg.Pool, nopStatsStore{})
	// Hour-long intervals so only explicit calls push anything
	return NewHub(poolSvc, time.Hour, time.Hour), poolSvc
}

// hubConn opens a real websocket pair, registers the server side with the
// hub, and hands back the client it can be addressed by plus the peer end
// to read pushes from.
func hubConn(t *testing.T, h *Hub) (*client, *websocket.Conn, func()) {
	t.Helper()

	serverSide := make(chan *websocket.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverSide <- conn
	}))

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		ts.Close()
		t.Fatalf("failed to dial test socket: %v", err)
	}

	c := &client{conn: <-serverSide}
	h.addClient(c)

	cleanup := func() {
		peer.Close()
		ts.Close()
	}
	return c, peer, cleanup
}

func dialTestSocket(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial %s: %v", url, err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read websocket message: %v", err)
	}
	return msg
}

func writeMessage(t *testing.T, conn *websocket.Conn, msg Message) {
	t.Helper()

	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("failed to write websocket message: %v", err)
	}
}

func TestHubUserConnections(t *testing.T) {
	t.Run("NewerConnectionReplacesOlder", func(t *testing.T) {
		h, _ := newTestHub(t)

		c1, _, cleanup1 := hubConn(t, h)
		defer cleanup1()
		c2, peer2, cleanup2 := hubConn(t, h)
		defer cleanup2()

		h.bindUser("user-1", c1)
		h.bindUser("user-1", c2)

		// Tearing down the stale connection must not evict the live one
		h.removeClient(c1)

		h.mu.RLock()
		bound := h.users["user-1"]
		h.mu.RUnlock()
		if bound != c2 {
			t.Fatal("stale teardown evicted the live connection")
		}

		h.SendToUser("user-1", Message{Type: "mining_started"})
		if msg := readMessage(t, peer2); msg.Type != "mining_started" {
			t.Errorf("expected mining_started on the live connection, got %s", msg.Type)
		}
	})

	t.Run("RemovingLiveConnectionClearsMapping", func(t *testing.T) {
		h, _ := newTestHub(t)

		c, _, cleanup := hubConn(t, h)
		defer cleanup()

		h.bindUser("user-1", c)
		h.removeClient(c)

		h.mu.RLock()
		_, ok := h.users["user-1"]
		h.mu.RUnlock()
		if ok {
			t.Error("expected user mapping to be cleared")
		}

		// Sending to a user with no connection is a silent no-op
		h.SendToUser("user-1", Message{Type: "mining_started"})
	})
}

func TestHubPushes(t *testing.T) {
	t.Run("PoolStatsReachEveryConnection", func(t *testing.T) {
		h, _ := newTestHub(t)

		c1, peer1, cleanup1 := hubConn(t, h)
		defer cleanup1()
		_, peer2, cleanup2 := hubConn(t, h)
		defer cleanup2()

		h.bindUser("user-1", c1)

		h.broadcastPoolStats()

		for _, peer := range []*websocket.Conn{peer1, peer2} {
			msg := readMessage(t, peer)
			if msg.Type != "pool_stats" {
				t.Fatalf("expected pool_stats, got %s", msg.Type)
			}
			data, ok := msg.Data.(map[string]interface{})
			if !ok {
				t.Fatalf("unexpected data payload: %T", msg.Data)
			}
			if data["difficulty"].(float64) != 1024 {
				t.Errorf("expected starting difficulty 1024, got %v", data["difficulty"])
			}
		}
	})

	t.Run("MinerUpdatesOnlyReachBoundMiners", func(t *testing.T) {
		h, poolSvc := newTestHub(t)

		c1, peer1, cleanup1 := hubConn(t, h)
		defer cleanup1()
		_, peer2, cleanup2 := hubConn(t, h)
		defer cleanup2()

		rate, err := poolSvc.StartMining("user-1", "aum1qxyz")
		if err != nil {
			t.Fatalf("failed to start mining: %v", err)
		}
		h.bindUser("user-1", c1)

		h.pushMinerUpdates()

		msg := readMessage(t, peer1)
		if msg.Type != "mining_update" {
			t.Fatalf("expected mining_update, got %s", msg.Type)
		}
		data, ok := msg.Data.(map[string]interface{})
		if !ok {
			t.Fatalf("unexpected data payload: %T", msg.Data)
		}
		display := data["hashRate"].(float64)
		if display < rate-25 || display > rate+25 {
			t.Errorf("display rate %v outside jitter window around %v", display, rate)
		}
		if display != math.Floor(display) {
			t.Errorf("display rate not floored: %v", display)
		}

		// The jitter is presentation only
		if miner, ok := poolSvc.MinerByUser("user-1"); !ok || miner.HashRate != rate {
			t.Errorf("session hash rate changed, got %+v", miner)
		}

		// The unbound connection got no update; a broadcast is its first message
		h.broadcastPoolStats()
		if msg := readMessage(t, peer2); msg.Type != "pool_stats" {
			t.Errorf("expected pool_stats first on unbound connection, got %s", msg.Type)
		}
	})
}

func TestWebSocketAuthenticate(t *testing.T) {
	t.Run("InvalidCredentialKeepsConnectionOpen", func(t *testing.T) {
		_, ts, cleanup := setupTestServer(t)
		defer cleanup()

		conn := dialTestSocket(t, ts)
		defer conn.Close()

		writeMessage(t, conn, Message{Type: "authenticate", Credential: "bogus"})
		if msg := readMessage(t, conn); msg.Type != "auth_failed" {
			t.Fatalf("expected auth_failed, got %s", msg.Type)
		}

		// The connection survives a failed authenticate
		writeMessage(t, conn, Message{Type: "subscribe_pool_stats"})
		if msg := readMessage(t, conn); msg.Type != "pool_stats" {
			t.Errorf("expected pool_stats after failed auth, got %s", msg.Type)
		}
	})

	t.Run("ActiveMinerGetsMiningStatus", func(t *testing.T) {
		srv, ts, cleanup := setupTestServer(t)
		defer cleanup()

		token, userID := loginTestUser(t, srv, "miner@example.com", "")
		rate, err := srv.pool.StartMining(userID, "aum1qxyz")
		if err != nil {
			t.Fatalf("failed to start mining: %v", err)
		}

		conn := dialTestSocket(t, ts)
		defer conn.Close()

		writeMessage(t, conn, Message{Type: "authenticate", Credential: token})

		msg := readMessage(t, conn)
		if msg.Type != "auth_success" {
			t.Fatalf("expected auth_success, got %s", msg.Type)
		}
		if msg.UserID != userID {
			t.Errorf("expected user %s, got %s", userID, msg.UserID)
		}

		status := readMessage(t, conn)
		if status.Type != "mining_status" {
			t.Fatalf("expected mining_status after auth, got %s", status.Type)
		}
		data, ok := status.Data.(map[string]interface{})
		if !ok {
			t.Fatalf("unexpected data payload: %T", status.Data)
		}
		if data["isActive"] != true {
			t.Errorf("expected isActive true, got %v", data["isActive"])
		}
		if data["hashRate"].(float64) != rate {
			t.Errorf("expected hash rate %v, got %v", rate, data["hashRate"])
		}
	})

	t.Run("IdleMinerGetsNoMiningStatus", func(t *testing.T) {
		srv, ts, cleanup := setupTestServer(t)
		defer cleanup()

		token, _ := loginTestUser(t, srv, "miner@example.com", "")

		conn := dialTestSocket(t, ts)
		defer conn.Close()

		writeMessage(t, conn, Message{Type: "authenticate", Credential: token})
		if msg := readMessage(t, conn); msg.Type != "auth_success" {
			t.Fatalf("expected auth_success, got %s", msg.Type)
		}

		// No session, so the next reply must be the stats we ask for
		writeMessage(t, conn, Message{Type: "subscribe_pool_stats"})
		if msg := readMessage(t, conn); msg.Type != "pool_stats" {
			t.Errorf("expected pool_stats, got %s", msg.Type)
		}
	})
}

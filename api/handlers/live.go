package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokenfight/tokenfight-api/models"
	"github.com/tokenfight/tokenfight-api/referrals"
)

const (
	statsBroadcastInterval = 15 * time.Second
	statsLeaderboardSize   = 10
	statsWriteTimeout      = 5 * time.Second
)

// StatsSnapshot is the payload pushed to every connected stats client.
type StatsSnapshot struct {
	GenesisCount    int           `json:"genesisCount"`
	GenesisCapacity int           `json:"genesisCapacity"`
	Leaderboard     []models.User `json:"leaderboard"`
}

// StatsHub fans out periodic referral stats over websockets. Clients are
// write-only; anything they send is discarded.
type StatsHub struct {
	Service  *referrals.Service
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewStatsHub exported for testing purposes
func NewStatsHub(service *referrals.Service) *StatsHub {
	return &StatsHub{
		Service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// ServeWS upgrades the request and registers the connection with the hub
func (h *StatsHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Errorw("failed to upgrade stats connection", "error", err)
		return
	}

	// send the current snapshot right away so new clients do not wait a
	// full broadcast interval for their first frame. This has to happen
	// before the connection joins the broadcast set: the connection allows
	// only one concurrent writer, and once registered the broadcast loop
	// owns writes to it.
	if snapshot, err := h.snapshot(r.Context()); err == nil {
		conn.SetWriteDeadline(time.Now().Add(statsWriteTimeout))
		if err := conn.WriteJSON(snapshot); err != nil {
			conn.Close()
			return
		}
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	go h.readLoop(conn)
}

// readLoop drains the connection until the peer goes away
func (h *StatsHub) readLoop(conn *websocket.Conn) {
	defer h.drop(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StatsHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// Run broadcasts stats snapshots until the process exits
func (h *StatsHub) Run() {
	ticker := time.NewTicker(statsBroadcastInterval)
	defer ticker.Stop()

	for range ticker.C {
		h.broadcast()
	}
}

func (h *StatsHub) broadcast() {
	h.mu.Lock()
	count := len(h.clients)
	h.mu.Unlock()
	if count == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), statsWriteTimeout)
	snapshot, err := h.snapshot(ctx)
	cancel()
	if err != nil {
		zap.S().Errorw("failed to build stats snapshot", "error", err)
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(statsWriteTimeout))
		if err := conn.WriteJSON(snapshot); err != nil {
			h.drop(conn)
		}
	}
}

func (h *StatsHub) snapshot(ctx context.Context) (StatsSnapshot, error) {
	genesisCount, err := h.Service.GenesisUsersCount(ctx)
	if err != nil {
		return StatsSnapshot{}, err
	}
	leaders, err := h.Service.Leaderboard(ctx, statsLeaderboardSize)
	if err != nil {
		return StatsSnapshot{}, err
	}
	return StatsSnapshot{
		GenesisCount:    int(genesisCount),
		GenesisCapacity: h.Service.GenesisCapacity,
		Leaderboard:     leaders,
	}, nil
}

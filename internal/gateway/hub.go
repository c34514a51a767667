// Package gateway implements the Dispatch Fabric (C7): a WebSocket hub
// that fans the prices and alerts topics out to connected clients, each
// filtered to its own symbol subscriptions, with a wildcard subscription
// for "every symbol" and a bounded per-client backlog for the
// (low-volume, latency-sensitive) alerts stream.
//
// Grounded on the teacher's internal/gateway/hub.go Hub/Client/broadcast
// shape; generalized from per-(indicator,tf,token) Redis channel fan-out
// to the flat prices/alerts topic model of §6.2, and from a single send
// channel to two independently-bounded channels per §6.4's differing
// backpressure policy for prices (best-effort drop) vs. alerts (buffer
// then disconnect).
package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cryptoalertd/internal/model"
)

// Hub manages WebSocket clients and topic fan-out.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool

	replay *ReplayBuffer
	seq    int64
}

// NewHub creates a Hub with a replay buffer of the given capacity for
// gap backfill (§6.4, default 500 per the teacher's ReplayBuffer default).
func NewHub(log *slog.Logger, replayCapacity int) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[*Client]bool),
		replay:  NewReplayBuffer(replayCapacity),
	}
}

// HandleConnection upgrades an HTTP connection to WebSocket, registers a
// new session, and sends connection-success with its session id (§6.4).
func (h *Hub) HandleConnection(conn *websocket.Conn) {
	client := &Client{
		sessionID: uuid.NewString(),
		conn:      conn,
		prices:    make(chan []byte, 256),
		alerts:    newAlertBacklog(1024),
		hub:       h,
		subs:      make(map[string]bool),
	}
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	if h.log != nil {
		h.log.Info("gateway: client connected", "sessionId", client.sessionID, "total", h.ClientCount())
	}

	client.sendConnectionSuccess()
	go client.writePump()
	go client.readPump()
}

// RemoveClient unregisters a client and closes its channels.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.prices)
	c.alerts.close()
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcastPrice fans a price tick out to every client subscribed to its
// symbol or to "*" (§6.4's "subscribed to all symbols" case). Best-effort:
// a client whose price channel is full simply misses this update — price
// updates supersede each other, so a drop is not corrected via replay.
func (h *Hub) broadcastPrice(tick model.PriceTick) {
	envelope := (&priceUpdateEvent{Type: eventPriceUpdate, Symbol: tick.Symbol, Tick: tick}).marshal()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.subscribedTo(tick.Symbol) {
			continue
		}
		select {
		case client.prices <- envelope:
		default:
			// Drop the oldest queued update to make room for the latest.
			select {
			case <-client.prices:
			default:
			}
			select {
			case client.prices <- envelope:
			default:
			}
			if h.log != nil {
				h.log.Warn("gateway: price channel full, dropped oldest update", "sessionId", client.sessionID)
			}
		}
	}
}

// broadcastTrigger fans a triggered alert out to every subscribed client,
// records it in the replay buffer for gap backfill, and disconnects any
// client whose bounded alerts backlog overflows (§6.4: "bounded buffer of
// 1024 events per connection; overflow disconnects the client" — alerts
// are too important to silently drop, so unlike prices the policy
// escalates to disconnect rather than drop-newest).
func (h *Hub) broadcastTrigger(t *model.TriggeredAlert) {
	envelope := (&triggeredAlertEvent{Type: eventTriggeredAlert, Trigger: t}).marshal()

	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.mu.Unlock()
	h.replay.Push(seq, envelope)

	h.mu.RLock()
	toDisconnect := make([]*Client, 0)
	for client := range h.clients {
		if !client.subscribedTo(t.Symbol) {
			continue
		}
		if !client.alerts.push(envelope) {
			toDisconnect = append(toDisconnect, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range toDisconnect {
		if h.log != nil {
			h.log.Warn("gateway: alerts backlog overflowed, disconnecting client", "sessionId", client.sessionID)
		}
		client.conn.Close()
	}
}

// Missed returns every replayed triggered-alert envelope with seq in
// (sinceSeq, currentSeq], the /api/missed gap-backfill endpoint's data
// source.
func (h *Hub) Missed(sinceSeq int64) [][]byte {
	h.mu.RLock()
	maxSeq := h.seq
	h.mu.RUnlock()
	entries := h.replay.Range(sinceSeq+1, maxSeq)
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

// CurrentSeq returns the sequence number of the most recently broadcast
// trigger, so a client can record it for a future /api/missed call.
func (h *Hub) CurrentSeq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// pingLoop periodically pings every connected client so stale connections
// are detected and cleaned up (mirrors the teacher's writePump idle
// ticker).
func (h *Hub) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.RLock()
			for client := range h.clients {
				client.ping()
			}
			h.mu.RUnlock()
		}
	}
}

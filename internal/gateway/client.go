package gateway

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cryptoalertd/internal/ringbuf"
)

// Client represents a single WebSocket peer: one session per §6.4,
// identified by a server-generated session id, with its own symbol
// subscription set and two independently-bounded outbound channels.
type Client struct {
	sessionID string
	conn      *websocket.Conn
	hub       *Hub

	prices chan []byte    // best-effort, drop-on-full (price updates supersede)
	alerts *alertBacklog // bounded backlog, overflow disconnects

	subMu    sync.RWMutex
	subs     map[string]bool
	allSymbols bool // true once the client has subscribed to "*"
}

// alertBacklog is a ringbuf.Ring[[]byte]-backed bounded queue: pushes that
// would overflow report failure instead of silently dropping, so the
// caller can disconnect per §6.4's escalation policy.
type alertBacklog struct {
	ring   *ringbuf.Ring[[]byte]
	notify chan struct{}
	mu     sync.Mutex
	closed bool
}

func newAlertBacklog(capacity int) *alertBacklog {
	return &alertBacklog{ring: ringbuf.New[[]byte](capacity), notify: make(chan struct{}, 1)}
}

func (b *alertBacklog) push(data []byte) bool {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return true // already being torn down, don't also flag overflow
	}
	if !b.ring.Push(data) {
		return false
	}
	select {
	case b.notify <- struct{}{}:
	default:
	}
	return true
}

func (b *alertBacklog) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

func (c *Client) sendConnectionSuccess() {
	envelope := (&connectionSuccessEvent{Type: eventConnectionSuccess, SessionID: c.sessionID}).marshal()
	select {
	case c.prices <- envelope:
	default:
	}
}

func (c *Client) ping() {
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = c.conn.WriteMessage(websocket.PingMessage, nil)
}

// writePump drains both the prices channel and the alerts backlog,
// writing each as its own WS text frame. Alerts are drained in FIFO order
// whenever notified; prices are drained as they arrive.
func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.prices:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(msg); err != nil {
				return
			}
		case _, ok := <-c.alerts.notify:
			if !ok {
				return
			}
			for {
				data, ok := c.alerts.ring.Pop()
				if !ok {
					break
				}
				if err := c.write(data); err != nil {
					return
				}
			}
		}
	}
}

func (c *Client) write(msg []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("invalid message: " + err.Error())
			continue
		}

		switch msg.Type {
		case msgSubscribeSymbol:
			c.subscribe(msg.Symbol)
		case msgUnsubscribeSymbol:
			c.unsubscribe(msg.Symbol)
		case msgRequestPrices:
			// Client explicitly asks for a one-shot read; the price topic
			// already streams continuously once subscribed, so this is a
			// no-op beyond logging — kept as its own message type per §6.4
			// for clients that poll rather than subscribe.
			log.Printf("gateway: request-prices from session %s for %v", c.sessionID, msg.Symbols)
		default:
			c.sendError("unknown message type: " + msg.Type)
		}
	}
}

func (c *Client) subscribe(symbol string) {
	if symbol == "" {
		c.sendError("symbol is required")
		return
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if symbol == "*" {
		c.allSymbols = true
		return
	}
	c.subs[symbol] = true
}

func (c *Client) unsubscribe(symbol string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if symbol == "*" {
		c.allSymbols = false
		return
	}
	delete(c.subs, symbol)
}

// subscribedTo implements §6.4's filter: "*" ∈ subscribed ∨ event.symbol ∈ subscribed.
func (c *Client) subscribedTo(symbol string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.allSymbols || c.subs[symbol]
}

func (c *Client) sendError(message string) {
	envelope := (&errorEvent{Type: eventError, Message: message}).marshal()
	select {
	case c.prices <- envelope:
	default:
	}
}

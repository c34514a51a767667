// cmd/tickserver — Demo WebSocket tick server.
// Broadcasts simulated Binance-ticker-shaped price updates for exercising
// the Exchange Stream Client (C1) without a real exchange connection.
//
// Tick JSON shape matches the exchange's raw ticker stream exactly
// (§6.1): s=symbol, c=last price, E=event time ms, v/q=base/quote 24h
// volume, P=priceChangePercent.
//
// Config (env vars):
//
//	TICK_SERVER_ADDR — listen address (default: ":9001")
//	TICK_SYMBOLS     — comma-separated symbols (default: "BTCUSDT,ETHUSDT")
//	TICK_INTERVAL_MS — broadcast interval milliseconds (default: "250")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// tickerMsg mirrors the upstream ticker wire shape the real Exchange
// Stream Client parses.
type tickerMsg struct {
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
	EventTime int64  `json:"E"`
	BaseVol   string `json:"v"`
	QuoteVol  string `json:"q"`
	ChangePct string `json:"P"`
}

// instrument holds per-symbol simulation state.
type instrument struct {
	Symbol    string
	Price     float64
	Vol24h    float64
	ChangePct float64
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client — drop tick
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tickserver] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// walkPrice applies a tiny random walk (±0.15%) to simulate price movement.
func walkPrice(price float64) float64 {
	pct := (rand.Float64()*0.3 - 0.15) / 100.0
	next := price * (1 + pct)
	if next < 0.00000001 {
		next = 0.00000001
	}
	return next
}

func runGenerator(h *hub, instruments []instrument, intervalMs int) {
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		for i := range instruments {
			instruments[i].Price = walkPrice(instruments[i].Price)
			instruments[i].ChangePct += (rand.Float64()*0.1 - 0.05)

			msg := tickerMsg{
				Symbol:    instruments[i].Symbol,
				LastPrice: strconv.FormatFloat(instruments[i].Price, 'f', 8, 64),
				EventTime: time.Now().UnixMilli(),
				BaseVol:   strconv.FormatFloat(instruments[i].Vol24h, 'f', 2, 64),
				QuoteVol:  strconv.FormatFloat(instruments[i].Vol24h*instruments[i].Price, 'f', 2, 64),
				ChangePct: strconv.FormatFloat(instruments[i].ChangePct, 'f', 2, 64),
			}
			b, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			h.broadcast(b)
		}
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tickserver] starting demo tick server...")

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	symbolsEnv := envOrDefault("TICK_SYMBOLS", "BTCUSDT,ETHUSDT")
	intervalMs := envIntOrDefault("TICK_INTERVAL_MS", 250)

	instruments := parseInstruments(symbolsEnv)
	if len(instruments) == 0 {
		log.Fatalf("[tickserver] no instruments configured via TICK_SYMBOLS")
	}
	log.Printf("[tickserver] instruments: %+v", instruments)
	log.Printf("[tickserver] broadcast interval: %dms", intervalMs)

	h := newHub()
	go runGenerator(h, instruments, intervalMs)

	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/stream", wsHandler(h)) // matches the combined-stream path shape
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})

	log.Printf("[tickserver] listening on %s (WebSocket: ws://localhost%s/ws)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[tickserver] server error: %v", err)
	}
}

func parseInstruments(s string) []instrument {
	defaultPrices := map[string]float64{
		"BTCUSDT":  65000.00,
		"ETHUSDT":  3200.00,
		"SOLUSDT":  140.00,
		"BNBUSDT":  580.00,
	}

	var result []instrument
	for _, part := range strings.Split(s, ",") {
		symbol := strings.TrimSpace(part)
		if symbol == "" {
			continue
		}
		price := defaultPrices[symbol]
		if price == 0 {
			price = 100.00
		}
		result = append(result, instrument{
			Symbol: symbol,
			Price:  price,
			Vol24h: 1_000_000 + rand.Float64()*9_000_000,
		})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

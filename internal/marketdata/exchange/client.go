// Package exchange implements the Exchange Stream Client (C1): a pool of
// upstream WebSocket connections to a Binance-style ticker stream, sharded
// deterministically across connections, reconnecting with backoff and
// resubscribing atomically, per §4.1.
//
// Grounded on the teacher's internal/marketdata/ws.Ingest (callback-driven
// Start(ctx, tickCh), OnOpen/OnData/OnClose/OnError shape) and on the
// pack's azanium-ohlc Binance client (multi-endpoint failover, JSON field
// names s/c/E/v/q/P exactly as named in §6.1).
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cryptoalertd/internal/backoff"
	"cryptoalertd/internal/model"
)

// Config configures the Exchange Stream Client.
type Config struct {
	// Endpoints lists candidate WS base URLs in failover order, e.g.
	// "wss://stream.binance.com:9443/ws" and alternates.
	Endpoints []string

	// MaxStreamsPerConn shards symbols across connections when the
	// upstream enforces a cap on streams per socket (§4.1).
	MaxStreamsPerConn int

	Backoff       backoff.Policy
	HeartbeatIdle time.Duration // 30s per §4.1
	PongGrace     time.Duration // further 30s grace before forcing reconnect

	DialTimeout time.Duration
}

func (c *Config) defaults() {
	if c.MaxStreamsPerConn <= 0 {
		c.MaxStreamsPerConn = 200
	}
	if c.Backoff == (backoff.Policy{}) {
		c.Backoff = backoff.Default()
	}
	if c.HeartbeatIdle <= 0 {
		c.HeartbeatIdle = 30 * time.Second
	}
	if c.PongGrace <= 0 {
		c.PongGrace = 30 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
}

// tickerMessage is the raw Binance-style ticker JSON shape named in §6.1:
// s=symbol, c=last price, E=event time ms, v/q=base/quote 24h volume,
// P=priceChangePercent.
type tickerMessage struct {
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
	EventTime int64  `json:"E"`
	BaseVol   string `json:"v"`
	QuoteVol  string `json:"q"`
	ChangePct string `json:"P"`
}

// Client maintains a pool of upstream connections and normalizes every
// message into a model.PriceTick, published only via the OnTick callback —
// §4.1's "no request/response API" contract.
type Client struct {
	cfg Config
	log *slog.Logger

	OnTick      func(model.PriceTick)
	OnReconnect func(shardIdx int)
	OnMalformed func(raw []byte, err error)

	mu       sync.Mutex
	symbols  []string
	cancel   context.CancelFunc
	shardWg  sync.WaitGroup
}

// New creates an Exchange Stream Client.
func New(cfg Config, log *slog.Logger) *Client {
	cfg.defaults()
	return &Client{cfg: cfg, log: log}
}

// Subscribe reconciles the active symbol set and (re)starts the connection
// shards. Safe to call again later to add/remove symbols; the whole shard
// layout is rebuilt deterministically by hash(symbol) mod N.
func (c *Client) Subscribe(ctx context.Context, symbols []string) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.shardWg.Wait()
	}
	c.symbols = append([]string(nil), symbols...)
	shardCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	shards := shardSymbols(c.symbols, c.cfg.MaxStreamsPerConn)
	for i, shard := range shards {
		c.shardWg.Add(1)
		go func(idx int, syms []string) {
			defer c.shardWg.Done()
			c.runShard(shardCtx, idx, syms)
		}(i, shard)
	}
	c.mu.Unlock()
}

// Close stops every connection shard.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.shardWg.Wait()
		c.cancel = nil
	}
}

// shardSymbols deterministically buckets symbols across N connections by
// hash(symbol) mod N, per §4.1's sharding contract.
func shardSymbols(symbols []string, maxPerConn int) [][]string {
	n := (len(symbols) + maxPerConn - 1) / maxPerConn
	if n < 1 {
		n = 1
	}
	shards := make([][]string, n)
	for _, s := range symbols {
		h := fnv.New32a()
		_, _ = h.Write([]byte(s))
		idx := int(h.Sum32()) % n
		shards[idx] = append(shards[idx], s)
	}
	return shards
}

// runShard owns one upstream connection and reconnects indefinitely with
// backoff on failure, matching §4.1's "retried indefinitely" semantics.
func (c *Client) runShard(ctx context.Context, idx int, symbols []string) {
	if len(symbols) == 0 {
		return
	}
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		err := c.connectOnce(ctx, idx, symbols)
		if ctx.Err() != nil {
			return
		}
		if err != nil && c.log != nil {
			c.log.Warn("exchange: shard disconnected, reconnecting", "shard", idx, "err", err)
		}
		if c.OnReconnect != nil {
			c.OnReconnect(idx)
		}
		if sleepErr := c.cfg.Backoff.Sleep(ctx, attempt); sleepErr != nil {
			return
		}
		attempt++
	}
}

// connectOnce dials one endpoint (trying each failover candidate in turn),
// subscribes the shard's symbols atomically before resuming delivery, and
// blocks reading frames until the socket closes or ctx is cancelled.
func (c *Client) connectOnce(ctx context.Context, idx int, symbols []string) error {
	var lastErr error
	for _, base := range c.cfg.Endpoints {
		conn, err := c.dial(ctx, base, symbols)
		if err != nil {
			lastErr = err
			continue
		}
		return c.readLoop(ctx, conn, idx)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("exchange: no endpoints configured")
	}
	return lastErr
}

func (c *Client) dial(ctx context.Context, base string, symbols []string) (*websocket.Conn, error) {
	u, err := buildStreamURL(base, symbols)
	if err != nil {
		return nil, fmt.Errorf("exchange: build url: %w", err)
	}
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("exchange: dial %s: %w", base, err)
	}
	return conn, nil
}

// buildStreamURL builds a combined-stream URL: <base>/stream?streams=a@ticker/b@ticker.
func buildStreamURL(base string, symbols []string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s) + "@ticker"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/stream"
	q := u.Query()
	q.Set("streams", strings.Join(streams, "/"))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type combinedEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// readLoop reads frames from one connection, enforcing the §4.1 heartbeat:
// if no message arrives within HeartbeatIdle, send a ping; if no pong/tick
// follows within PongGrace, force a reconnect.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, shardIdx int) error {
	defer conn.Close()

	idleTimer := time.NewTimer(c.cfg.HeartbeatIdle)
	defer idleTimer.Stop()
	msgCh := make(chan []byte, 64)
	errCh := make(chan error, 1)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			select {
			case msgCh <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	awaitingPong := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case data := <-msgCh:
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(c.cfg.HeartbeatIdle)
			awaitingPong = false
			c.handleFrame(data)
		case <-idleTimer.C:
			if awaitingPong {
				return fmt.Errorf("exchange: shard %d no pong within grace period", shardIdx)
			}
			_ = conn.WriteMessage(websocket.PingMessage, nil)
			awaitingPong = true
			idleTimer.Reset(c.cfg.PongGrace)
		}
	}
}

func (c *Client) handleFrame(data []byte) {
	var env combinedEnvelope
	payload := data
	if err := json.Unmarshal(data, &env); err == nil && len(env.Data) > 0 {
		payload = env.Data
	}

	var raw tickerMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		if c.OnMalformed != nil {
			c.OnMalformed(data, err)
		}
		return
	}
	if raw.Symbol == "" {
		if c.OnMalformed != nil {
			c.OnMalformed(data, fmt.Errorf("exchange: missing symbol"))
		}
		return
	}

	price, err := strconv.ParseFloat(raw.LastPrice, 64)
	if err != nil {
		if c.OnMalformed != nil {
			c.OnMalformed(data, fmt.Errorf("exchange: bad price: %w", err))
		}
		return
	}

	tick := model.PriceTick{
		Symbol:      raw.Symbol,
		Price:       price,
		EventTimeMs: raw.EventTime,
	}
	if raw.QuoteVol != "" {
		if v, err := strconv.ParseFloat(raw.QuoteVol, 64); err == nil {
			tick.Volume24h = v
			tick.HasVolume = true
		}
	} else if raw.BaseVol != "" {
		if v, err := strconv.ParseFloat(raw.BaseVol, 64); err == nil {
			tick.Volume24h = v
			tick.HasVolume = true
		}
	}
	if raw.ChangePct != "" {
		if v, err := strconv.ParseFloat(raw.ChangePct, 64); err == nil {
			tick.PriceChangePct24h = v
		}
	}
	if tick.EventTimeMs == 0 {
		tick.EventTimeMs = time.Now().UnixMilli()
	}

	if c.OnTick != nil {
		c.OnTick(tick)
	}
}

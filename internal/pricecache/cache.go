// Package pricecache implements the Price Cache (C2): a concurrent
// per-symbol latest-tick map, monotonic by eventTimeMs, that mirrors every
// accepted tick onto the in-process prices topic and the shared Redis
// prices pub/sub channel + price:{symbol} key (§4.2, §6.2).
//
// Grounded on the teacher's internal/store/redis/writer.go pipelined
// SET-with-TTL + PUBLISH pattern; the in-process onPut callback plays the
// same non-blocking hand-off role the teacher's bus.FanOut served, sized
// down to this system's single local consumer (the Condition Evaluator).
package pricecache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cryptoalertd/internal/model"
)

const priceKeyTTLMs = 60_000 // §6.2: price:{symbol} TTL 60s

// shardCount is the number of internal map shards, bounding lock
// contention across distinct symbols (single-writer-per-symbol per §5).
const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	latest  map[string]model.PriceTick
}

// Cache holds the latest PriceTick per symbol.
type Cache struct {
	shards [shardCount]*shard
	pubsub model.PubSub
	log    *slog.Logger

	onPut func(model.PriceTick)
}

// New creates a Price Cache. pubsub may be nil to run cache-only (e.g. in
// tests); onPut, when set, is called with every accepted tick and feeds the
// in-process prices topic.
func New(pubsub model.PubSub, log *slog.Logger, onPut func(model.PriceTick)) *Cache {
	c := &Cache{pubsub: pubsub, log: log, onPut: onPut}
	for i := range c.shards {
		c.shards[i] = &shard{latest: make(map[string]model.PriceTick)}
	}
	return c
}

func (c *Cache) shardFor(symbol string) *shard {
	var h uint32
	for i := 0; i < len(symbol); i++ {
		h = h*31 + uint32(symbol[i])
	}
	return c.shards[h%shardCount]
}

// Put inserts or replaces a symbol's latest tick. Monotonic by
// EventTimeMs: an older tick is silently dropped (P1). On acceptance,
// publishes to the in-process prices topic and mirrors to the shared
// pub/sub channel + price key.
func (c *Cache) Put(ctx context.Context, tick model.PriceTick) {
	if tick.Symbol == "" || tick.Price <= 0 {
		return
	}
	sh := c.shardFor(tick.Symbol)

	sh.mu.Lock()
	cur, exists := sh.latest[tick.Symbol]
	if exists && tick.EventTimeMs < cur.EventTimeMs {
		sh.mu.Unlock()
		return
	}
	if !tick.HasVolume && exists && cur.HasVolume {
		// Carry the last known (possibly side-channel) volume forward so
		// Gate A sees it on ticks that omit volume.
		tick.Volume24h = cur.Volume24h
		tick.HasVolume = true
	}
	sh.latest[tick.Symbol] = tick
	sh.mu.Unlock()

	if c.onPut != nil {
		c.onPut(tick)
	}
	c.mirror(ctx, tick)
}

// Get returns the last observed tick. It takes the symbol's shard read
// lock, so readers only wait on a concurrent Put to the same shard; the
// read is not lock-free.
func (c *Cache) Get(symbol string) (model.PriceTick, bool) {
	sh := c.shardFor(symbol)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	t, ok := sh.latest[symbol]
	return t, ok
}

// Evict removes a symbol no longer in the active universe (§4.2: "a
// symbol removed from the active universe is evicted by the supervisor").
func (c *Cache) Evict(symbol string) {
	sh := c.shardFor(symbol)
	sh.mu.Lock()
	delete(sh.latest, symbol)
	sh.mu.Unlock()
}

// Size returns the number of distinct symbols currently cached, the
// cache_size counter named in §4.9.
func (c *Cache) Size() int {
	n := 0
	for _, sh := range c.shards {
		sh.mu.RLock()
		n += len(sh.latest)
		sh.mu.RUnlock()
	}
	return n
}

func (c *Cache) mirror(ctx context.Context, tick model.PriceTick) {
	if c.pubsub == nil {
		return
	}
	payload, err := json.Marshal(tick)
	if err != nil {
		if c.log != nil {
			c.log.Error("pricecache: marshal tick", "err", err)
		}
		return
	}
	if err := c.pubsub.Publish(ctx, "prices", payload); err != nil {
		if c.log != nil {
			c.log.Warn("pricecache: publish prices topic", "err", err)
		}
	}
	key := fmt.Sprintf("price:%s", tick.Symbol)
	if err := c.pubsub.SetWithTTL(ctx, key, payload, priceKeyTTLMs); err != nil {
		if c.log != nil {
			c.log.Warn("pricecache: set price key", "key", key, "err", err)
		}
	}
}

// RefreshVolumeSideChannel stores a side-channel Volume24h (§4.5 Gate A)
// on the symbol's cached tick; VolumeSideChannel calls it with the result
// of its rate-limited 24h-ticker REST fetch (§6.1). The volume is merged
// into the cached tick rather than replacing EventTimeMs, since the tick's
// own timestamp remains the ordering authority; Put carries it forward
// onto later ticks that arrive without volume.
func (c *Cache) RefreshVolumeSideChannel(symbol string, volume24h float64) {
	sh := c.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	t, ok := sh.latest[symbol]
	if !ok {
		return
	}
	t.Volume24h = volume24h
	t.HasVolume = true
	sh.latest[symbol] = t
}

// VolumeSideChannel refreshes Volume24h for symbols lacking it, no more
// often than every interval per symbol, per §4.5 Gate A's "5s side-channel
// refresh" requirement.
type VolumeSideChannel struct {
	mu       sync.Mutex
	lastFetch map[string]time.Time
	interval  time.Duration
	fetch     func(ctx context.Context, symbol string) (float64, error)
	cache     *Cache
	log       *slog.Logger
}

// NewVolumeSideChannel creates a side-channel refresher.
func NewVolumeSideChannel(cache *Cache, interval time.Duration, fetch func(ctx context.Context, symbol string) (float64, error), log *slog.Logger) *VolumeSideChannel {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &VolumeSideChannel{lastFetch: make(map[string]time.Time), interval: interval, fetch: fetch, cache: cache, log: log}
}

// MaybeRefresh triggers an async fetch for symbol if the interval has
// elapsed since the last attempt; never blocks the caller.
func (v *VolumeSideChannel) MaybeRefresh(ctx context.Context, symbol string) {
	v.mu.Lock()
	last, ok := v.lastFetch[symbol]
	if ok && time.Since(last) < v.interval {
		v.mu.Unlock()
		return
	}
	v.lastFetch[symbol] = time.Now()
	v.mu.Unlock()

	go func() {
		vol, err := v.fetch(ctx, symbol)
		if err != nil {
			if v.log != nil {
				v.log.Warn("volume side-channel: fetch failed", "symbol", symbol, "err", err)
			}
			return
		}
		v.cache.RefreshVolumeSideChannel(symbol, vol)
	}()
}

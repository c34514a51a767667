// Package candlefetcher implements the Candle Fetcher (C3): on-demand
// retrieval of the currently-forming candle's open for a (symbol,
// timeframe), cached until the candle closes, with at most one outbound
// request in flight per key (§4.3). A cache miss never blocks the caller:
// it kicks off the fetch in the background and reports the candle as
// unavailable for this call, the same async-then-cache pattern as the
// Price Cache's VolumeSideChannel, so the Condition Evaluator never waits
// on I/O mid-tick (§5).
//
// New component — the teacher builds its own candles from its tick stream
// instead of fetching on demand, so there is no teacher file to adapt
// directly. Grounded on golang.org/x/sync/singleflight for the
// de-duplication contract (the textbook use case for that package) and on
// the teacher's tfbuilder bucket-alignment arithmetic, now generalized
// into model.Timeframe.OpenTimeMs.
package candlefetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"cryptoalertd/internal/evaluator"
	"cryptoalertd/internal/model"
)

// Config configures the REST-backed candle fetcher.
type Config struct {
	KlinesBaseURL string        // e.g. "https://api.binance.com/api/v3/klines"
	RequestTimeout time.Duration // default 5s per §5
}

func (c *Config) defaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
}

type cacheEntry struct {
	candle      model.Candle
	closeTimeMs int64
}

// Fetcher retrieves and caches the currently-forming candle per (symbol,
// timeframe). Safe for concurrent use.
type Fetcher struct {
	cfg      Config
	http     *http.Client
	log      *slog.Logger
	group    singleflight.Group
	volGroup singleflight.Group

	mu       sync.RWMutex
	cache    map[string]cacheEntry // key: symbol|timeframe
	inflight map[string]bool       // key: symbol|timeframe, true while an async fetch is outstanding
}

// New creates a Candle Fetcher.
func New(cfg Config, log *slog.Logger) *Fetcher {
	cfg.defaults()
	return &Fetcher{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.RequestTimeout},
		log:      log,
		cache:    make(map[string]cacheEntry),
		inflight: make(map[string]bool),
	}
}

func cacheKey(symbol string, tf model.Timeframe) string {
	return symbol + "|" + tf.String()
}

// CurrentCandle returns the forming candle for (symbol, tf) from cache, or
// (nil, nil) on a cache miss — it never blocks on the upstream request
// (§5: "C5 never blocks on I/O during a tick"). A miss starts an async
// fetch in the background (deduplicated per (symbol, tf, openTimeMs) via
// singleflight) and populates the cache for a later call to pick up; the
// caller treats a nil candle the same as "unknown" for this tick.
func (f *Fetcher) CurrentCandle(ctx context.Context, symbol string, tf model.Timeframe) (*model.Candle, error) {
	nowMs := time.Now().UnixMilli()
	key := cacheKey(symbol, tf)

	f.mu.RLock()
	entry, ok := f.cache[key]
	f.mu.RUnlock()
	if ok && nowMs < entry.closeTimeMs {
		c := entry.candle
		return &c, nil
	}

	f.triggerFetch(ctx, symbol, tf, key, nowMs)
	return nil, nil
}

// triggerFetch kicks off a background fetch for (symbol, tf) if one isn't
// already outstanding. Mirrors the Price Cache's VolumeSideChannel.
// MaybeRefresh: fire the request in a goroutine, cache the result for
// whenever it lands, and let the caller move on immediately.
func (f *Fetcher) triggerFetch(ctx context.Context, symbol string, tf model.Timeframe, key string, nowMs int64) {
	f.mu.Lock()
	if f.inflight[key] {
		f.mu.Unlock()
		return
	}
	f.inflight[key] = true
	f.mu.Unlock()

	openTimeMs := tf.OpenTimeMs(nowMs)
	sfKey := fmt.Sprintf("%s|%d|%d", symbol, tf, openTimeMs)

	go func() {
		defer func() {
			f.mu.Lock()
			delete(f.inflight, key)
			f.mu.Unlock()
		}()

		v, err, _ := f.group.Do(sfKey, func() (interface{}, error) {
			return f.fetch(ctx, symbol, tf, openTimeMs)
		})
		if err != nil {
			if f.log != nil {
				f.log.Warn("candlefetcher: async fetch failed", "symbol", symbol, "tf", tf.String(), "err", err)
			}
			return
		}
		candle := v.(model.Candle)

		f.mu.Lock()
		f.cache[key] = cacheEntry{candle: candle, closeTimeMs: candle.CloseTimeMs}
		f.mu.Unlock()
	}()
}

// tickerBaseURL derives the 24hr-ticker endpoint from the configured klines
// base URL, the two being siblings under the same REST API root per §6.1.
func (f *Fetcher) tickerBaseURL() string {
	u, err := url.Parse(f.cfg.KlinesBaseURL)
	if err != nil {
		return f.cfg.KlinesBaseURL
	}
	u.Path = strings.Replace(u.Path, "/klines", "/ticker/24hr", 1)
	return u.String()
}

// Fetch24hVolume retrieves the 24h quote volume for symbol, the REST
// side-channel the Price Cache's VolumeSideChannel falls back to at most
// once every 5s per symbol when a tick arrives without volume (§4.5 Gate
// A). Concurrent callers for the same symbol share one outbound request.
func (f *Fetcher) Fetch24hVolume(ctx context.Context, symbol string) (float64, error) {
	v, err, _ := f.volGroup.Do(symbol, func() (interface{}, error) {
		return f.fetch24hVolume(ctx, symbol)
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (f *Fetcher) fetch24hVolume(ctx context.Context, symbol string) (float64, error) {
	u, err := url.Parse(f.tickerBaseURL())
	if err != nil {
		return 0, fmt.Errorf("candlefetcher: parse ticker url: %w", err)
	}
	q := u.Query()
	q.Set("symbol", symbol)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("candlefetcher: build ticker request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("candlefetcher: ticker request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("candlefetcher: ticker unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("candlefetcher: read ticker body: %w", err)
	}

	var payload struct {
		QuoteVolume string `json:"quoteVolume"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("candlefetcher: decode ticker response: %w", err)
	}
	return parseFloatField(payload.QuoteVolume)
}

// klineRow mirrors the Klines REST response array shape named in §6.1:
// [openTime, open, high, low, close, volume, closeTime, ...].
type klineRow [12]interface{}

func (f *Fetcher) fetch(ctx context.Context, symbol string, tf model.Timeframe, openTimeMs int64) (model.Candle, error) {
	u, err := url.Parse(f.cfg.KlinesBaseURL)
	if err != nil {
		return model.Candle{}, fmt.Errorf("candlefetcher: parse base url: %w", err)
	}
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("interval", tf.String())
	q.Set("limit", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return model.Candle{}, fmt.Errorf("candlefetcher: build request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return model.Candle{}, fmt.Errorf("candlefetcher: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.Candle{}, fmt.Errorf("candlefetcher: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Candle{}, fmt.Errorf("candlefetcher: read body: %w", err)
	}

	var rows []klineRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return model.Candle{}, fmt.Errorf("candlefetcher: decode response: %w", err)
	}
	if len(rows) == 0 {
		return model.Candle{}, fmt.Errorf("candlefetcher: empty response for %s %s", symbol, tf.String())
	}

	return parseKlineRow(symbol, tf, rows[0], openTimeMs)
}

func parseKlineRow(symbol string, tf model.Timeframe, row klineRow, fallbackOpenTimeMs int64) (model.Candle, error) {
	open, err := parseFloatField(row[1])
	if err != nil {
		return model.Candle{}, fmt.Errorf("candlefetcher: parse open: %w", err)
	}
	high, _ := parseFloatField(row[2])
	low, _ := parseFloatField(row[3])
	close_, _ := parseFloatField(row[4])
	volume, _ := parseFloatField(row[5])

	openTimeMs := fallbackOpenTimeMs
	if n, ok := row[0].(float64); ok {
		openTimeMs = int64(n)
	}

	return model.Candle{
		Symbol:      symbol,
		Timeframe:   tf,
		OpenTimeMs:  openTimeMs,
		CloseTimeMs: tf.CloseTimeMs(openTimeMs),
		Open:        open,
		High:        high,
		Low:         low,
		Close:       close_,
		Volume:      volume,
	}, nil
}

func parseFloatField(v interface{}) (float64, error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseFloat(t, 64)
	case float64:
		return t, nil
	default:
		return 0, fmt.Errorf("candlefetcher: unexpected field type %T", v)
	}
}

// Snapshot satisfies evaluator.CandleLookup, pinning the change and count
// candle reads for one evaluation to the same point in time (§4.5's "avoid
// a torn read across the two candle lookups" edge case). A failed or
// unneeded lookup resolves to a nil field rather than propagate an error —
// Gate B falls back to the alert's base price, Gate C applies the
// configured fail-open/fail-closed policy.
func (f *Fetcher) Snapshot(ctx context.Context, symbol string, changeTF, countTF model.Timeframe, countEnabled bool) evaluator.CandleSnapshot {
	snap := evaluator.CandleSnapshot{}

	if changeTF != 0 {
		if c, err := f.CurrentCandle(ctx, symbol, changeTF); err == nil {
			snap.ChangeCandle = c
		}
	}

	if countEnabled && countTF != 0 {
		if countTF == changeTF && snap.ChangeCandle != nil {
			snap.CountCandle = snap.ChangeCandle
		} else if c, err := f.CurrentCandle(ctx, symbol, countTF); err == nil {
			snap.CountCandle = c
		}
	}

	return snap
}

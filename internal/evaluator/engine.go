package evaluator

import (
	"context"
	"hash/fnv"
	"log/slog"

	"cryptoalertd/internal/model"
)

// GateMetrics receives per-gate counters (gates_failed{A,B,C} in §4.9) and
// overall evaluation counters, so the engine stays decoupled from any
// specific metrics backend.
type GateMetrics interface {
	AlertsEvaluated()
	GateFailed(gate string)
	AlertsTriggered()
}

// noopMetrics satisfies GateMetrics when the caller does not wire one in.
type noopMetrics struct{}

func (noopMetrics) AlertsEvaluated()    {}
func (noopMetrics) GateFailed(_ string) {}
func (noopMetrics) AlertsTriggered()    {}

// AlertLookup resolves the alerts indexed for a symbol, the port the Alert
// Index (C4) satisfies.
type AlertLookup interface {
	AlertsFor(symbol string) []*model.Alert
}

// CandleLookup resolves the candle snapshot an evaluation needs, the port
// the Candle Fetcher (C3) satisfies. A failed/unavailable candle is left
// nil in the returned snapshot rather than blocking — the evaluator treats
// "unknown base" as a fallback, never waits (§5).
type CandleLookup interface {
	// Snapshot returns the change and count candles for this alert in one
	// call, so both reads are pinned to the same point in time (§4.5).
	Snapshot(ctx context.Context, symbol string, changeTF, countTF model.Timeframe, countEnabled bool) CandleSnapshot
}

// Recorder persists a trigger and publishes it downstream (C6 + C7),
// the single hand-off point named in §4.5's "On trigger" steps.
type Recorder interface {
	Record(ctx context.Context, alert *model.Alert, tick model.PriceTick, outcome GateOutcome) error
}

// EngineConfig configures the per-symbol worker pool.
type EngineConfig struct {
	Workers                 int
	FailClosedOnCandleError bool
	QueueSize               int
}

func (c *EngineConfig) defaults() {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
}

// Engine evaluates every tick against its symbol's indexed alerts, one
// worker per hash(symbol) mod N, so the symbol's total order and its
// alerts' mutable counters never need cross-worker locking (§4.5, §5) —
// the generalization of the teacher's per-symbol tfbuilder/aggregator
// ownership model from "one state machine per symbol" to "one evaluator
// worker per symbol-hash bucket".
type Engine struct {
	cfg      EngineConfig
	index    AlertLookup
	candles  CandleLookup
	recorder Recorder
	metrics  GateMetrics
	log      *slog.Logger

	queues []chan model.PriceTick
}

// New creates a Condition Evaluator engine.
func New(cfg EngineConfig, index AlertLookup, candles CandleLookup, recorder Recorder, metrics GateMetrics, log *slog.Logger) *Engine {
	cfg.defaults()
	if metrics == nil {
		metrics = noopMetrics{}
	}
	e := &Engine{cfg: cfg, index: index, candles: candles, recorder: recorder, metrics: metrics, log: log}
	e.queues = make([]chan model.PriceTick, cfg.Workers)
	for i := range e.queues {
		e.queues[i] = make(chan model.PriceTick, cfg.QueueSize)
	}
	return e
}

// Run starts every worker goroutine; blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	done := make(chan struct{}, len(e.queues))
	for i := range e.queues {
		go func(idx int) {
			e.worker(ctx, idx)
			done <- struct{}{}
		}(i)
	}
	<-ctx.Done()
	for range e.queues {
		<-done
	}
}

// Submit routes a tick to the worker owning its symbol. Non-blocking:
// logs a warning and drops the tick if that worker's queue is saturated,
// rather than block the publisher.
func (e *Engine) Submit(tick model.PriceTick) bool {
	idx := workerIndex(tick.Symbol, len(e.queues))
	select {
	case e.queues[idx] <- tick:
		return true
	default:
		if e.log != nil {
			e.log.Warn("evaluator: worker queue full, dropping tick", "symbol", tick.Symbol, "worker", idx)
		}
		return false
	}
}

// QueueDepth reports the current depth of each worker's queue, the
// queue_depth counter named in §4.9.
func (e *Engine) QueueDepth() []int {
	depths := make([]int, len(e.queues))
	for i, q := range e.queues {
		depths[i] = len(q)
	}
	return depths
}

func workerIndex(symbol string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum32()) % n
}

func (e *Engine) worker(ctx context.Context, idx int) {
	q := e.queues[idx]
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-q:
			e.evaluateTick(ctx, tick)
		}
	}
}

func (e *Engine) evaluateTick(ctx context.Context, tick model.PriceTick) {
	alerts := e.index.AlertsFor(tick.Symbol)
	for _, alert := range alerts {
		e.metrics.AlertsEvaluated()

		snap := e.candles.Snapshot(ctx, tick.Symbol, alert.ChangePctTimeframe, alert.CountTimeframe, alert.CountEnabled)
		if alert.CountEnabled && snap.CountCandle == nil && e.log != nil {
			e.log.Warn("evaluator: count candle unavailable, gate C decided without it",
				"alertId", alert.AlertID, "failClosed", e.cfg.FailClosedOnCandleError)
		}
		outcome, err := Evaluate(ctx, alert, tick, snap, e.cfg.FailClosedOnCandleError)
		if err != nil {
			if e.log != nil {
				e.log.Warn("evaluator: skipping alert for tick", "alertId", alert.AlertID, "err", err)
			}
			continue
		}

		if !outcome.Results.MinVolume {
			e.metrics.GateFailed("A")
		}
		if !outcome.Results.ChangePct {
			e.metrics.GateFailed("B")
		}
		if !outcome.Results.Count {
			e.metrics.GateFailed("C")
		}
		if !outcome.Results.AllPass() {
			continue
		}

		e.metrics.AlertsTriggered()
		if err := e.recorder.Record(ctx, alert, tick, outcome); err != nil && e.log != nil {
			e.log.Error("evaluator: record trigger failed", "alertId", alert.AlertID, "err", err)
		}
	}
}

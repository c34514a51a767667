// Package trigger implements the Trigger Recorder (C6): durably record a
// TriggeredAlert idempotently, update the firing alert's per-candle
// counter, and publish the event onto the alerts topic for the Dispatch
// Fabric (C7) to fan out. Grounded on the teacher's writer-then-publish
// ordering in internal/store/redis/writer.go and the retry policy named
// in §7.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cryptoalertd/internal/evaluator"
	"cryptoalertd/internal/model"
)

// Metrics receives notification-dispatch-adjacent counters; kept minimal
// since most of §4.9's trigger counters live in the evaluator.
type Metrics interface {
	TriggerRecorded()
	TriggerDropped()
}

type noopMetrics struct{}

func (noopMetrics) TriggerRecorded() {}
func (noopMetrics) TriggerDropped()  {}

// maxAttempts is the retry-up-to-3x policy named in §7's error table for
// "durable write fails".
const maxAttempts = 3

// Recorder implements evaluator.Recorder.
type Recorder struct {
	store   model.TriggerStore
	alerts  model.AlertStore
	pubsub  model.PubSub
	metrics Metrics
	log     *slog.Logger
}

// New builds a Trigger Recorder.
func New(store model.TriggerStore, alerts model.AlertStore, pubsub model.PubSub, metrics Metrics, log *slog.Logger) *Recorder {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Recorder{store: store, alerts: alerts, pubsub: pubsub, metrics: metrics, log: log}
}

// Record satisfies evaluator.Recorder. The TriggeredAlert insert happens
// first (a retry of the same event is ignored by the store), the counter
// update second. A crash or failed SaveCounter between the two is not
// reconciled on restart: the index reloads the last saved counter.
func (r *Recorder) Record(ctx context.Context, alert *model.Alert, tick model.PriceTick, outcome evaluator.GateOutcome) error {
	event := &model.TriggeredAlert{
		TriggerID:        uuid.NewString(),
		AlertID:          alert.AlertID,
		Symbol:           tick.Symbol,
		TriggeredAtMs:    tick.EventTimeMs,
		Price:            tick.Price,
		BasePriceUsed:    outcome.BasePriceUsed,
		BasePriceSource:  outcome.BasePriceSource,
		PctChange:        outcome.PctChange,
		Volume24h:        tick.Volume24h,
		Conditions:       outcome.Results,
		CandleOpenTimeMs: outcome.CandleOpenTimeMs,
	}

	insertErr := r.insertWithRetry(ctx, event)
	if insertErr != nil {
		r.metrics.TriggerDropped()
		if r.log != nil {
			r.log.Error("trigger: durable insert dropped after retries, still publishing so users see the alert", "triggerId", event.TriggerID, "err", insertErr)
		}
	} else {
		r.metrics.TriggerRecorded()
		if alert.CountEnabled {
			r.updateCounter(ctx, alert, outcome)
		}
	}

	// Published regardless of the durable-write outcome (§7: a dropped
	// trigger still reaches the alerts topic so end-users see the alert).
	if err := r.publish(ctx, event); err != nil && r.log != nil {
		r.log.Error("trigger: publish failed, gateway and notifiers will miss this event", "triggerId", event.TriggerID, "err", err)
	}

	if insertErr != nil {
		return fmt.Errorf("trigger: recorder dropped trigger after retries: %w", insertErr)
	}
	return nil
}

func (r *Recorder) insertWithRetry(ctx context.Context, event *model.TriggeredAlert) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := r.store.Insert(ctx, event); err != nil {
			lastErr = err
			if r.log != nil {
				r.log.Warn("trigger: durable insert failed, retrying", "attempt", attempt+1, "err", err)
			}
			time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
			continue
		}
		return nil
	}
	return lastErr
}

func (r *Recorder) updateCounter(ctx context.Context, alert *model.Alert, outcome evaluator.GateOutcome) {
	counter := alert.CounterFor(alert.CountTimeframe)
	if counter.LastCandleOpenTime != outcome.CandleOpenTimeMs {
		counter.Count = 0
		counter.LastCandleOpenTime = outcome.CandleOpenTimeMs
	}
	counter.Count++
	counter.LastResetAt = time.Now()

	if err := r.alerts.SaveCounter(ctx, alert.AlertID, alert.CountTimeframe, *counter); err != nil && r.log != nil {
		r.log.Error("trigger: save counter failed, stored counter is stale until the next successful save", "alertId", alert.AlertID, "err", err)
	}
}

func (r *Recorder) publish(ctx context.Context, event *model.TriggeredAlert) error {
	return r.pubsub.Publish(ctx, "alerts", event.JSON())
}

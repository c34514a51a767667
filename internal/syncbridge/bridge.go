// Package syncbridge implements the Alert Sync Bridge (C8): consumes the
// alert-updates channel external CRUD publishes to, validates each event
// (rejecting direction=EITHER combined with targetType=ABSOLUTE_PRICE
// before it ever reaches the Alert Index, resolving Open Question 3), and
// applies it to the in-memory index.
//
// Grounded on the teacher's internal/gateway/pubsub.go RunExplicit/
// RunPattern Subscribe loops, adapted from indicator-config messages to
// alert upsert/remove events.
package syncbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"cryptoalertd/internal/alertindex"
	"cryptoalertd/internal/model"
)

// Indexer is the surface the Alert Index (C4) exposes to this bridge.
type Indexer interface {
	Apply(ev alertindex.Event) error
	Rebuild(ctx context.Context) error
}

// wireEvent is the JSON shape published on alert-updates by the (external,
// out-of-scope) admin CRUD surface.
type wireEvent struct {
	Op    string       `json:"op"` // "upsert" | "remove"
	Alert *model.Alert `json:"alert,omitempty"`

	// Present only for "remove", since a delete may not carry the full
	// alert body.
	AlertID string `json:"alertId,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
}

// Bridge consumes alert-updates and applies validated events to the index.
type Bridge struct {
	index  Indexer
	pubsub model.PubSub
	log    *slog.Logger
}

// New builds an Alert Sync Bridge.
func New(index Indexer, pubsub model.PubSub, log *slog.Logger) *Bridge {
	return &Bridge{index: index, pubsub: pubsub, log: log}
}

// Run performs a full resync (cold start, §4.4) then consumes
// alert-updates until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.index.Rebuild(ctx); err != nil {
		return fmt.Errorf("syncbridge: initial rebuild: %w", err)
	}

	msgs, unsubscribe := b.pubsub.Subscribe(ctx, "alert-updates")
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			b.handle(msg.Payload)
		}
	}
}

// Reload triggers a full re-scan of the durable store without dropping
// in-flight evaluator workers, the SIGHUP-triggered operation named in
// §6.6 and elevated to first-class here.
func (b *Bridge) Reload(ctx context.Context) error {
	return b.index.Rebuild(ctx)
}

func (b *Bridge) handle(payload []byte) {
	var ev wireEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		if b.log != nil {
			b.log.Warn("syncbridge: malformed alert-updates payload", "err", err)
		}
		return
	}

	switch ev.Op {
	case "upsert":
		if ev.Alert == nil {
			if b.log != nil {
				b.log.Warn("syncbridge: upsert event missing alert body")
			}
			return
		}
		if err := ev.Alert.Validate(); err != nil {
			if b.log != nil {
				if errors.Is(err, model.ErrEitherRequiresPercentChange) {
					b.log.Warn("syncbridge: rejected alert, EITHER requires PERCENT_CHANGE", "alertId", ev.Alert.AlertID)
				} else {
					b.log.Warn("syncbridge: rejected invalid alert", "alertId", ev.Alert.AlertID, "err", err)
				}
			}
			return
		}
		b.apply(alertindex.Event{Symbol: ev.Alert.Symbol, AlertID: ev.Alert.AlertID, Alert: ev.Alert})

	case "remove":
		b.apply(alertindex.Event{Remove: true, Symbol: ev.Symbol, AlertID: ev.AlertID})

	default:
		if b.log != nil {
			b.log.Warn("syncbridge: unknown op", "op", ev.Op)
		}
	}
}

func (b *Bridge) apply(ev alertindex.Event) {
	if err := b.index.Apply(ev); err != nil && b.log != nil {
		b.log.Error("syncbridge: apply failed", "alertId", ev.AlertID, "err", err)
	}
}

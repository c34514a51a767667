package notification

import (
	"context"
	"encoding/json"
	"log/slog"

	"cryptoalertd/internal/model"
)

// AlertLookup resolves the firing alert's delivery channels, the surface
// the Alert Index (C4) satisfies via AlertByID.
type AlertLookup interface {
	AlertByID(symbol, alertID string) *model.Alert
}

// Subscriber consumes the alerts topic and dispatches each TriggeredAlert
// to its owning alert's configured channels, independent of the Dispatch
// Fabric's WebSocket fan-out which consumes the same topic (§4.7).
// Grounded on the gateway's topicRouter Subscribe-and-route loop.
type Subscriber struct {
	pubsub     model.PubSub
	index      AlertLookup
	dispatcher *Dispatcher
	log        *slog.Logger
}

// NewSubscriber builds a notification Subscriber.
func NewSubscriber(pubsub model.PubSub, index AlertLookup, dispatcher *Dispatcher, log *slog.Logger) *Subscriber {
	return &Subscriber{pubsub: pubsub, index: index, dispatcher: dispatcher, log: log}
}

// Run subscribes to the alerts topic and dispatches notifications until
// ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) {
	msgs, unsubscribe := s.pubsub.Subscribe(ctx, "alerts")
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			s.handle(ctx, msg.Payload)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, payload []byte) {
	var trig model.TriggeredAlert
	if err := json.Unmarshal(payload, &trig); err != nil {
		if s.log != nil {
			s.log.Warn("notification: malformed alerts payload", "err", err)
		}
		return
	}

	alert := s.index.AlertByID(trig.Symbol, trig.AlertID)
	if alert == nil {
		// Removed or expired between trigger and dispatch; nothing to
		// notify against.
		return
	}
	s.dispatcher.Dispatch(ctx, alert, &trig)
}

package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"cryptoalertd/internal/model"
)

// topicRouter consumes the prices and alerts channels from the shared
// PubSub port and routes each decoded message to the Hub's broadcast
// methods. Grounded on the teacher's PubSubRouter (explicit-channel
// Subscribe loop), simplified from the teacher's per-token/per-TF channel
// fan-in to two fixed channel names since §6.2 publishes on flat
// "prices"/"alerts" topics rather than one channel per symbol.
type topicRouter struct {
	hub    *Hub
	pubsub model.PubSub
	log    *slog.Logger
}

func newTopicRouter(hub *Hub, pubsub model.PubSub, log *slog.Logger) *topicRouter {
	return &topicRouter{hub: hub, pubsub: pubsub, log: log}
}

// Run subscribes to "prices" and "alerts" and blocks until ctx is
// cancelled.
func (r *topicRouter) Run(ctx context.Context) {
	msgs, unsubscribe := r.pubsub.Subscribe(ctx, "prices", "alerts")
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			r.route(msg)
		}
	}
}

func (r *topicRouter) route(msg model.Message) {
	switch msg.Channel {
	case "prices":
		var tick model.PriceTick
		if err := json.Unmarshal(msg.Payload, &tick); err != nil {
			if r.log != nil {
				r.log.Warn("gateway: malformed price message", "err", err)
			}
			return
		}
		r.hub.broadcastPrice(tick)
	case "alerts":
		var trig model.TriggeredAlert
		if err := json.Unmarshal(msg.Payload, &trig); err != nil {
			if r.log != nil {
				r.log.Warn("gateway: malformed alert message", "err", err)
			}
			return
		}
		r.hub.broadcastTrigger(&trig)
	}
}

package notification

import (
	"context"
	"fmt"
	"log/slog"

	"cryptoalertd/internal/model"
)

// Metrics receives the notifications_sent{channel,status} counters named
// in §4.9.
type Metrics interface {
	NotificationSent(channel, status string)
}

type noopMetrics struct{}

func (noopMetrics) NotificationSent(_, _ string) {}

// Dispatcher turns a TriggeredAlert into one Alert per configured channel
// on the firing Alert (email, chat), plus an operational webhook fan-out
// that mirrors every trigger regardless of the alert's own channels, and
// sends each through its Notifier. A channel's failure never blocks
// another channel's attempt (§7: "one channel's outage never blocks
// another channel's delivery").
type Dispatcher struct {
	email   Notifier
	chat    Notifier
	webhook Notifier
	metrics Metrics
	log     *slog.Logger
}

// NewDispatcher builds a Dispatcher. Any notifier may be nil to disable
// that channel.
func NewDispatcher(email, chat Notifier, metrics Metrics, log *slog.Logger) *Dispatcher {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Dispatcher{email: email, chat: chat, metrics: metrics, log: log}
}

// WithWebhook attaches an operational webhook notifier, fired for every
// trigger independent of the firing alert's own Email/ChatTarget.
func (d *Dispatcher) WithWebhook(webhook Notifier) *Dispatcher {
	d.webhook = webhook
	return d
}

// Dispatch sends alert to every channel configured on the firing alert.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *model.Alert, trigger *model.TriggeredAlert) {
	msg := Alert{
		Level:   AlertWarning,
		Title:   fmt.Sprintf("%s triggered", alert.Symbol),
		Message: fmt.Sprintf("%s moved %.2f%% to %.8f (base %.8f via %s)", alert.Symbol, trigger.PctChange, trigger.Price, trigger.BasePriceUsed, trigger.BasePriceSource),
	}

	if alert.Email != "" && d.email != nil {
		emailMsg := msg
		emailMsg.To = alert.Email
		d.send(ctx, "email", emailMsg)
	}
	if alert.ChatTarget != "" && d.chat != nil {
		chatMsg := msg
		chatMsg.To = alert.ChatTarget
		d.send(ctx, "chat", chatMsg)
	}
	if d.webhook != nil {
		d.send(ctx, "webhook", msg)
	}
}

func (d *Dispatcher) send(ctx context.Context, channel string, msg Alert) {
	var notifier Notifier
	switch channel {
	case "email":
		notifier = d.email
	case "chat":
		notifier = d.chat
	case "webhook":
		notifier = d.webhook
	}

	if err := notifier.Send(ctx, msg); err != nil {
		d.metrics.NotificationSent(channel, "failure")
		if d.log != nil {
			d.log.Error("notification: delivery failed", "channel", channel, "err", err)
		}
		return
	}
	d.metrics.NotificationSent(channel, "success")
}

package notification

import (
	"context"
	"errors"
	"sync"
	"testing"

	"cryptoalertd/internal/model"
)

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []Alert
	failErr error
}

func (f *fakeNotifier) Send(_ context.Context, a Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.sent = append(f.sent, a)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeMetrics struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeMetrics) NotificationSent(channel, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, channel+":"+status)
}

func TestDispatcher_SendsToConfiguredChannelsOnly(t *testing.T) {
	email := &fakeNotifier{}
	chat := &fakeNotifier{}
	metrics := &fakeMetrics{}
	d := NewDispatcher(email, chat, metrics, nil)

	alert := &model.Alert{Symbol: "BTCUSDT", Email: "u@example.com"}
	trigger := &model.TriggeredAlert{PctChange: 1.2, Price: 50100, BasePriceUsed: 50000, BasePriceSource: model.BasePriceCandleOpen}

	d.Dispatch(context.Background(), alert, trigger)

	if email.count() != 1 {
		t.Errorf("expected 1 email sent, got %d", email.count())
	}
	if chat.count() != 0 {
		t.Errorf("expected 0 chat sent (no chatTarget configured), got %d", chat.count())
	}
}

func TestDispatcher_OneChannelFailureDoesNotBlockOther(t *testing.T) {
	email := &fakeNotifier{failErr: errors.New("smtp down")}
	chat := &fakeNotifier{}
	metrics := &fakeMetrics{}
	d := NewDispatcher(email, chat, metrics, nil)

	alert := &model.Alert{Symbol: "BTCUSDT", Email: "u@example.com", ChatTarget: "123456"}
	trigger := &model.TriggeredAlert{}

	d.Dispatch(context.Background(), alert, trigger)

	if chat.count() != 1 {
		t.Errorf("expected chat channel to still succeed, got %d sent", chat.count())
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	foundFailure, foundSuccess := false, false
	for _, c := range metrics.calls {
		if c == "email:failure" {
			foundFailure = true
		}
		if c == "chat:success" {
			foundSuccess = true
		}
	}
	if !foundFailure || !foundSuccess {
		t.Errorf("expected both email:failure and chat:success recorded, got %v", metrics.calls)
	}
}

func TestDispatcher_WebhookFiresRegardlessOfPerAlertChannels(t *testing.T) {
	webhook := &fakeNotifier{}
	d := NewDispatcher(nil, nil, nil, nil).WithWebhook(webhook)

	alert := &model.Alert{Symbol: "ETHUSDT"}
	trigger := &model.TriggeredAlert{PctChange: -2.5, Price: 3100, BasePriceUsed: 3180, BasePriceSource: model.BasePriceAlertFallback}

	d.Dispatch(context.Background(), alert, trigger)

	if webhook.count() != 1 {
		t.Errorf("expected webhook to fire even with no email/chatTarget configured, got %d", webhook.count())
	}
}

package notification

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cryptoalertd/internal/model"
)

type fakePubSub struct {
	ch chan model.Message
}

func newFakePubSub() *fakePubSub { return &fakePubSub{ch: make(chan model.Message, 16)} }

func (f *fakePubSub) Publish(_ context.Context, _ string, _ []byte) error { return nil }
func (f *fakePubSub) Subscribe(_ context.Context, _ ...string) (<-chan model.Message, func() error) {
	return f.ch, func() error { return nil }
}
func (f *fakePubSub) SetWithTTL(_ context.Context, _ string, _ []byte, _ int64) error { return nil }
func (f *fakePubSub) Get(_ context.Context, _ string) ([]byte, bool, error)           { return nil, false, nil }
func (f *fakePubSub) Close() error                                                    { return nil }

type fakeLookup struct {
	alerts map[string]*model.Alert // keyed by symbol|alertID
}

func (f *fakeLookup) AlertByID(symbol, alertID string) *model.Alert {
	return f.alerts[symbol+"|"+alertID]
}

func TestSubscriber_DispatchesResolvedAlert(t *testing.T) {
	ps := newFakePubSub()
	alert := &model.Alert{AlertID: "a1", Symbol: "BTCUSDT", Email: "u@example.com"}
	lookup := &fakeLookup{alerts: map[string]*model.Alert{"BTCUSDT|a1": alert}}
	email := &fakeNotifier{}
	dispatcher := NewDispatcher(email, nil, nil, nil)
	sub := NewSubscriber(ps, lookup, dispatcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	trig := model.TriggeredAlert{AlertID: "a1", Symbol: "BTCUSDT", PctChange: 3.1, Price: 51000, BasePriceUsed: 49500, BasePriceSource: model.BasePriceCandleOpen}
	payload, _ := json.Marshal(trig)
	ps.ch <- model.Message{Channel: "alerts", Payload: payload}

	deadline := time.Now().Add(200 * time.Millisecond)
	for email.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if email.count() != 1 {
		t.Fatalf("expected 1 email dispatched, got %d", email.count())
	}
}

func TestSubscriber_UnknownAlertIsIgnored(t *testing.T) {
	ps := newFakePubSub()
	lookup := &fakeLookup{alerts: map[string]*model.Alert{}}
	email := &fakeNotifier{}
	dispatcher := NewDispatcher(email, nil, nil, nil)
	sub := NewSubscriber(ps, lookup, dispatcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	trig := model.TriggeredAlert{AlertID: "missing", Symbol: "BTCUSDT"}
	payload, _ := json.Marshal(trig)
	ps.ch <- model.Message{Channel: "alerts", Payload: payload}

	time.Sleep(50 * time.Millisecond)
	if email.count() != 0 {
		t.Errorf("expected no dispatch for unresolved alert, got %d", email.count())
	}
}

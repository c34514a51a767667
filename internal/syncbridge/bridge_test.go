package syncbridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"cryptoalertd/internal/alertindex"
	"cryptoalertd/internal/model"
)

type fakeIndexer struct {
	mu       sync.Mutex
	applied  []alertindex.Event
	rebuilds int
}

func (f *fakeIndexer) Apply(ev alertindex.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, ev)
	return nil
}

func (f *fakeIndexer) Rebuild(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebuilds++
	return nil
}

func (f *fakeIndexer) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

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

func TestBridge_RebuildsOnStart(t *testing.T) {
	idx := &fakeIndexer{}
	ps := newFakePubSub()
	b := New(idx, ps, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()

	if idx.rebuilds != 1 {
		t.Errorf("expected 1 initial rebuild, got %d", idx.rebuilds)
	}
}

func TestBridge_RejectsEitherAbsolutePrice(t *testing.T) {
	idx := &fakeIndexer{}
	ps := newFakePubSub()
	b := New(idx, ps, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	payload, _ := json.Marshal(map[string]any{
		"op": "upsert",
		"alert": model.Alert{
			AlertID:    "a1",
			Direction:  model.DirectionEither,
			TargetType: model.TargetAbsolutePrice,
		},
	})
	ps.ch <- model.Message{Channel: "alert-updates", Payload: payload}
	time.Sleep(20 * time.Millisecond)

	if idx.appliedCount() != 0 {
		t.Errorf("expected rejected alert never applied, got %d applies", idx.appliedCount())
	}
}

func TestBridge_AppliesValidUpsert(t *testing.T) {
	idx := &fakeIndexer{}
	ps := newFakePubSub()
	b := New(idx, ps, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	payload, _ := json.Marshal(map[string]any{
		"op": "upsert",
		"alert": model.Alert{
			AlertID:    "a1",
			Symbol:     "BTCUSDT",
			Direction:  model.DirectionUp,
			TargetType: model.TargetPercentChange,
		},
	})
	ps.ch <- model.Message{Channel: "alert-updates", Payload: payload}
	time.Sleep(20 * time.Millisecond)

	if idx.appliedCount() != 1 {
		t.Errorf("expected 1 applied event, got %d", idx.appliedCount())
	}
}

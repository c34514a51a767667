package evaluator

import (
	"context"
	"sync"
	"testing"
	"time"

	"cryptoalertd/internal/model"
)

type fakeLookup struct {
	alerts map[string][]*model.Alert
}

func (f *fakeLookup) AlertsFor(symbol string) []*model.Alert { return f.alerts[symbol] }

type fakeCandles struct{}

func (fakeCandles) Snapshot(_ context.Context, _ string, _, _ model.Timeframe, _ bool) CandleSnapshot {
	return CandleSnapshot{ChangeCandle: &model.Candle{Open: 50000, OpenTimeMs: 0}}
}

type fakeRecorder struct {
	mu       sync.Mutex
	recorded []model.PriceTick
}

func (f *fakeRecorder) Record(_ context.Context, _ *model.Alert, tick model.PriceTick, _ GateOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, tick)
	return nil
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recorded)
}

func TestEngine_TriggersOnMatchingTick(t *testing.T) {
	alert := &model.Alert{
		AlertID:            "a1",
		Symbol:             "BTCUSDT",
		Active:             true,
		UserCreated:        true,
		Direction:          model.DirectionUp,
		ChangePctThreshold: 0.2,
	}
	lookup := &fakeLookup{alerts: map[string][]*model.Alert{"BTCUSDT": {alert}}}
	rec := &fakeRecorder{}

	eng := New(EngineConfig{Workers: 2}, lookup, fakeCandles{}, rec, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	eng.Submit(model.PriceTick{Symbol: "BTCUSDT", Price: 50100, EventTimeMs: 1})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec.count() == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected exactly 1 recorded trigger, got %d", rec.count())
}

func TestEngine_SameSymbolSameWorker(t *testing.T) {
	idxA := workerIndex("BTCUSDT", 8)
	idxB := workerIndex("BTCUSDT", 8)
	if idxA != idxB {
		t.Errorf("expected deterministic worker assignment, got %d vs %d", idxA, idxB)
	}
}

package alertindex

import (
	"context"
	"errors"
	"testing"

	"cryptoalertd/internal/model"
)

type fakeStore struct {
	alerts []*model.Alert
	err    error
}

func (f *fakeStore) ListActiveUserCreated(ctx context.Context) ([]*model.Alert, error) {
	return f.alerts, f.err
}
func (f *fakeStore) SaveCounter(ctx context.Context, alertID string, tf model.Timeframe, c model.CandleCounter) error {
	return nil
}
func (f *fakeStore) MaxCountForCandle(ctx context.Context, alertID string, candleOpenTimeMs int64) (int, error) {
	return 0, nil
}

func TestIndex_ApplyUpsertAndRemove(t *testing.T) {
	idx := New(&fakeStore{}, nil)
	alert := &model.Alert{AlertID: "a1", Symbol: "BTCUSDT", Active: true, UserCreated: true, Direction: model.DirectionUp, TargetType: model.TargetPercentChange}

	if err := idx.Apply(Event{Alert: alert}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := idx.AlertsFor("BTCUSDT")
	if len(got) != 1 || got[0].AlertID != "a1" {
		t.Fatalf("expected alert a1 indexed, got %+v", got)
	}

	if err := idx.Apply(Event{Remove: true, Symbol: "BTCUSDT", AlertID: "a1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := idx.AlertsFor("BTCUSDT"); len(got) != 0 {
		t.Fatalf("expected no alerts after remove, got %+v", got)
	}
}

func TestIndex_AlertByID(t *testing.T) {
	idx := New(&fakeStore{}, nil)
	a1 := &model.Alert{AlertID: "a1", Symbol: "BTCUSDT", Active: true, UserCreated: true, Direction: model.DirectionUp, TargetType: model.TargetPercentChange}
	a2 := &model.Alert{AlertID: "a2", Symbol: "BTCUSDT", Active: true, UserCreated: true, Direction: model.DirectionDown, TargetType: model.TargetPercentChange}
	if err := idx.Apply(Event{Alert: a1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := idx.Apply(Event{Alert: a2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := idx.AlertByID("BTCUSDT", "a2"); got == nil || got.AlertID != "a2" {
		t.Fatalf("expected to find a2, got %+v", got)
	}
	if got := idx.AlertByID("BTCUSDT", "missing"); got != nil {
		t.Fatalf("expected nil for unknown alertID, got %+v", got)
	}
	if got := idx.AlertByID("ETHUSDT", "a1"); got != nil {
		t.Fatalf("expected nil for wrong symbol, got %+v", got)
	}
}

func TestIndex_RejectsEitherAbsolutePrice(t *testing.T) {
	idx := New(&fakeStore{}, nil)
	alert := &model.Alert{AlertID: "a1", Symbol: "BTCUSDT", Active: true, UserCreated: true, Direction: model.DirectionEither, TargetType: model.TargetAbsolutePrice}

	err := idx.Apply(Event{Alert: alert})
	if !errors.Is(err, model.ErrEitherRequiresPercentChange) {
		t.Fatalf("expected ErrEitherRequiresPercentChange, got %v", err)
	}
	if got := idx.AlertsFor("BTCUSDT"); len(got) != 0 {
		t.Fatalf("invalid alert must not be indexed, got %+v", got)
	}
}

func TestIndex_FiltersInactiveAndNonUserCreated(t *testing.T) {
	idx := New(&fakeStore{}, nil)
	inactive := &model.Alert{AlertID: "a1", Symbol: "BTCUSDT", Active: false, UserCreated: true, TargetType: model.TargetPercentChange}
	if err := idx.Apply(Event{Alert: inactive}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := idx.AlertsFor("BTCUSDT"); len(got) != 0 {
		t.Fatalf("inactive alert must not be indexed, got %+v", got)
	}

	system := &model.Alert{AlertID: "a2", Symbol: "BTCUSDT", Active: true, UserCreated: false, TargetType: model.TargetPercentChange}
	if err := idx.Apply(Event{Alert: system}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := idx.AlertsFor("BTCUSDT"); len(got) != 0 {
		t.Fatalf("non-user-created alert must not be indexed, got %+v", got)
	}
}

func TestIndex_Rebuild(t *testing.T) {
	store := &fakeStore{alerts: []*model.Alert{
		{AlertID: "a1", Symbol: "BTCUSDT", Active: true, UserCreated: true, TargetType: model.TargetPercentChange},
		{AlertID: "a2", Symbol: "ETHUSDT", Active: true, UserCreated: true, TargetType: model.TargetPercentChange},
	}}
	idx := New(store, nil)
	if err := idx.Rebuild(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(idx.AlertsFor("BTCUSDT")) != 1 || len(idx.AlertsFor("ETHUSDT")) != 1 {
		t.Fatalf("expected both symbols indexed after rebuild")
	}
}

func TestIndex_RebuildFailureKeepsPrevious(t *testing.T) {
	store := &fakeStore{alerts: []*model.Alert{
		{AlertID: "a1", Symbol: "BTCUSDT", Active: true, UserCreated: true, TargetType: model.TargetPercentChange},
	}}
	idx := New(store, nil)
	if err := idx.Rebuild(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store.err = errors.New("durable store unreachable")
	if err := idx.Rebuild(context.Background()); err == nil {
		t.Fatal("expected rebuild error to propagate")
	}
	if got := idx.AlertsFor("BTCUSDT"); len(got) != 1 {
		t.Fatalf("expected previous index preserved on rebuild failure, got %+v", got)
	}
}

package pricecache

import (
	"context"
	"testing"

	"cryptoalertd/internal/model"
)

func TestCache_PutGet(t *testing.T) {
	c := New(nil, nil, nil)
	c.Put(context.Background(), model.PriceTick{Symbol: "BTCUSDT", Price: 50000, EventTimeMs: 10})

	got, ok := c.Get("BTCUSDT")
	if !ok {
		t.Fatal("expected tick present")
	}
	if got.Price != 50000 {
		t.Errorf("expected price 50000, got %v", got.Price)
	}
}

func TestCache_MonotonicByEventTime(t *testing.T) {
	c := New(nil, nil, nil)
	ctx := context.Background()
	c.Put(ctx, model.PriceTick{Symbol: "BTCUSDT", Price: 100, EventTimeMs: 100})
	c.Put(ctx, model.PriceTick{Symbol: "BTCUSDT", Price: 90, EventTimeMs: 50}) // older, must be dropped

	got, _ := c.Get("BTCUSDT")
	if got.Price != 100 {
		t.Errorf("older tick should have been dropped (P1), got price %v", got.Price)
	}

	c.Put(ctx, model.PriceTick{Symbol: "BTCUSDT", Price: 110, EventTimeMs: 150})
	got, _ = c.Get("BTCUSDT")
	if got.Price != 110 {
		t.Errorf("expected newer tick to replace cache, got %v", got.Price)
	}
}

func TestCache_EvictAndSize(t *testing.T) {
	c := New(nil, nil, nil)
	ctx := context.Background()
	c.Put(ctx, model.PriceTick{Symbol: "BTCUSDT", Price: 1, EventTimeMs: 1})
	c.Put(ctx, model.PriceTick{Symbol: "ETHUSDT", Price: 1, EventTimeMs: 1})

	if c.Size() != 2 {
		t.Fatalf("expected size 2, got %d", c.Size())
	}
	c.Evict("BTCUSDT")
	if c.Size() != 1 {
		t.Fatalf("expected size 1 after evict, got %d", c.Size())
	}
	if _, ok := c.Get("BTCUSDT"); ok {
		t.Error("expected evicted symbol to be absent")
	}
}

func TestCache_RejectsZeroOrNegativePrice(t *testing.T) {
	c := New(nil, nil, nil)
	c.Put(context.Background(), model.PriceTick{Symbol: "BTCUSDT", Price: 0, EventTimeMs: 1})
	if _, ok := c.Get("BTCUSDT"); ok {
		t.Error("expected zero-price tick to be rejected")
	}
}

func TestCache_OnPutCallback(t *testing.T) {
	var received model.PriceTick
	c := New(nil, nil, func(t model.PriceTick) { received = t })
	c.Put(context.Background(), model.PriceTick{Symbol: "BTCUSDT", Price: 42, EventTimeMs: 1})
	if received.Symbol != "BTCUSDT" {
		t.Errorf("expected onPut callback invoked with BTCUSDT, got %q", received.Symbol)
	}
}

package gateway

import (
	"testing"
)

func TestAlertBacklog_PushAndOverflow(t *testing.T) {
	b := newAlertBacklog(2)
	if !b.push([]byte("a")) {
		t.Fatal("expected first push to succeed")
	}
	if !b.push([]byte("b")) {
		t.Fatal("expected second push to succeed")
	}
	if b.push([]byte("c")) {
		t.Fatal("expected third push to overflow and report failure")
	}
}

func TestClient_SubscribedTo(t *testing.T) {
	c := &Client{subs: make(map[string]bool)}
	c.subscribe("BTCUSDT")

	if !c.subscribedTo("BTCUSDT") {
		t.Error("expected subscribed symbol to match")
	}
	if c.subscribedTo("ETHUSDT") {
		t.Error("expected unsubscribed symbol not to match")
	}

	c.unsubscribe("BTCUSDT")
	if c.subscribedTo("BTCUSDT") {
		t.Error("expected unsubscribed symbol to stop matching")
	}
}

func TestClient_WildcardSubscription(t *testing.T) {
	c := &Client{subs: make(map[string]bool)}
	c.subscribe("*")

	if !c.subscribedTo("BTCUSDT") || !c.subscribedTo("ETHUSDT") {
		t.Error("expected wildcard subscription to match every symbol")
	}

	c.unsubscribe("*")
	if c.subscribedTo("BTCUSDT") {
		t.Error("expected wildcard unsubscribe to stop matching")
	}
}

func TestHub_MissedReturnsEntriesAfterSeq(t *testing.T) {
	h := NewHub(nil, 10)
	h.replay.Push(1, []byte(`{"seq":1}`))
	h.replay.Push(2, []byte(`{"seq":2}`))
	h.seq = 2

	missed := h.Missed(1)
	if len(missed) != 1 {
		t.Fatalf("expected 1 missed entry after seq=1, got %d", len(missed))
	}
}

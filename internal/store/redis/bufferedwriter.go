package redis

import (
	"context"
	"log/slog"
	"sync"

	"cryptoalertd/internal/model"
)

// maxBufferedTriggers caps how many TriggeredAlert writes are held in
// memory while the circuit is open, bounding memory the way the teacher's
// bufferedwriter.go bounds its candle backlog.
const maxBufferedTriggers = 10_000

// BufferedTriggerWriter wraps a model.TriggerStore with a CircuitBreaker:
// while the breaker is open, writes queue in memory instead of blocking
// the Trigger Recorder's caller, and are flushed in order once the store
// recovers. Grounded on the teacher's internal/store/redis/bufferedwriter.go,
// generalized from WriteCandle/WriteTFCandle to TriggeredAlert inserts.
type BufferedTriggerWriter struct {
	store   model.TriggerStore
	breaker *CircuitBreaker
	log     *slog.Logger

	mu     sync.Mutex
	buffer []*model.TriggeredAlert
}

// NewBufferedTriggerWriter wraps store with breaker.
func NewBufferedTriggerWriter(store model.TriggerStore, breaker *CircuitBreaker, log *slog.Logger) *BufferedTriggerWriter {
	w := &BufferedTriggerWriter{store: store, breaker: breaker, log: log}
	breaker.OnStateChange = func(from, to State) {
		if to == StateClosed || to == StateHalfOpen {
			w.flush(context.Background())
		}
	}
	return w
}

// Insert attempts the write through the breaker; on open-circuit it
// buffers (dropping the oldest entry once maxBufferedTriggers is reached)
// instead of failing the caller outright.
func (w *BufferedTriggerWriter) Insert(ctx context.Context, t *model.TriggeredAlert) error {
	err := w.breaker.Execute(func() error {
		return w.store.Insert(ctx, t)
	})
	if err == ErrCircuitOpen {
		w.enqueue(t)
		return nil
	}
	return err
}

func (w *BufferedTriggerWriter) enqueue(t *model.TriggeredAlert) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buffer) >= maxBufferedTriggers {
		w.buffer = w.buffer[1:]
		if w.log != nil {
			w.log.Warn("redis: buffered trigger writer dropped oldest entry, buffer full")
		}
	}
	w.buffer = append(w.buffer, t)
}

func (w *BufferedTriggerWriter) flush(ctx context.Context) {
	w.mu.Lock()
	pending := w.buffer
	w.buffer = nil
	w.mu.Unlock()

	for _, t := range pending {
		if err := w.store.Insert(ctx, t); err != nil {
			if w.log != nil {
				w.log.Error("redis: flush buffered trigger failed, re-buffering", "triggerId", t.TriggerID, "err", err)
			}
			w.enqueue(t)
			return
		}
	}
}

// Close satisfies model.TriggerStore.
func (w *BufferedTriggerWriter) Close() error {
	return w.store.Close()
}

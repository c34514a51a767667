// Package alertindex implements the Alert Index (C4): an in-memory
// read-mostly map of symbol -> alert set, rebuilt from the durable store
// on cold start and kept in sync via alert-updates events, per §4.4.
//
// The cold-start-rebuild-then-ongoing-sync shape is grounded on the
// teacher's internal/indengine/service.go orchestration
// (restore->backfill->replay-delta->consume), adapted here from indicator
// snapshots to alert snapshots; the persist-then-broadcast idiom for
// SIGHUP reload is grounded on internal/gateway/config_store.go.
package alertindex

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"cryptoalertd/internal/model"
)

// Event is an Upsert or Remove operation, as named in §4.4.
type Event struct {
	Remove  bool
	Symbol  string
	AlertID string
	Alert   *model.Alert // set when !Remove
}

// Index is the per-symbol alert lookup. Each symbol's slice is published by
// an atomic pointer swap; writes take a per-symbol lock. Reads are not
// lock-free: they take the read lock on the symbols map to find the
// pointer, then load the slice without further locking.
type Index struct {
	store model.AlertStore
	log   *slog.Logger

	mu      sync.RWMutex // guards the symbols map itself (not its contents)
	symbols map[string]*atomic.Pointer[[]*model.Alert]
	writeMu sync.Map // per-symbol write locks: map[string]*sync.Mutex
}

// New creates an empty Alert Index.
func New(store model.AlertStore, log *slog.Logger) *Index {
	return &Index{
		store:   store,
		log:     log,
		symbols: make(map[string]*atomic.Pointer[[]*model.Alert]),
	}
}

// AlertsFor returns the indexed alerts for symbol, O(1) expected (§4.4).
func (idx *Index) AlertsFor(symbol string) []*model.Alert {
	idx.mu.RLock()
	ptr, ok := idx.symbols[symbol]
	idx.mu.RUnlock()
	if !ok {
		return nil
	}
	p := ptr.Load()
	if p == nil {
		return nil
	}
	return *p
}

// AlertByID returns the indexed alert for (symbol, alertID), or nil if not
// found — used by the notification Subscriber to resolve a
// TriggeredAlert's delivery channels without carrying them on the event
// itself.
func (idx *Index) AlertByID(symbol, alertID string) *model.Alert {
	for _, a := range idx.AlertsFor(symbol) {
		if a.AlertID == alertID {
			return a
		}
	}
	return nil
}

func (idx *Index) pointerFor(symbol string) *atomic.Pointer[[]*model.Alert] {
	idx.mu.RLock()
	ptr, ok := idx.symbols[symbol]
	idx.mu.RUnlock()
	if ok {
		return ptr
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if ptr, ok := idx.symbols[symbol]; ok {
		return ptr
	}
	ptr = &atomic.Pointer[[]*model.Alert]{}
	empty := []*model.Alert{}
	ptr.Store(&empty)
	idx.symbols[symbol] = ptr
	return ptr
}

func (idx *Index) lockFor(symbol string) *sync.Mutex {
	v, _ := idx.writeMu.LoadOrStore(symbol, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Apply applies an Upsert or Remove event under a per-symbol write lock;
// readers always observe a consistent slice via atomic pointer swap.
// Only active && userCreated alerts are indexed; others are filtered on
// ingress (§4.4).
func (idx *Index) Apply(ev Event) error {
	if ev.Remove {
		return idx.applyRemove(ev.Symbol, ev.AlertID)
	}
	if ev.Alert == nil {
		return nil
	}
	if err := ev.Alert.Validate(); err != nil {
		if idx.log != nil {
			idx.log.Warn("alertindex: rejecting invalid alert", "alertId", ev.Alert.AlertID, "err", err)
		}
		return err
	}
	if !ev.Alert.Active || !ev.Alert.UserCreated {
		return idx.applyRemove(ev.Alert.Symbol, ev.Alert.AlertID)
	}
	return idx.applyUpsert(ev.Alert)
}

func (idx *Index) applyUpsert(alert *model.Alert) error {
	lock := idx.lockFor(alert.Symbol)
	lock.Lock()
	defer lock.Unlock()

	ptr := idx.pointerFor(alert.Symbol)
	cur := *ptr.Load()
	next := make([]*model.Alert, 0, len(cur)+1)
	replaced := false
	for _, a := range cur {
		if a.AlertID == alert.AlertID {
			next = append(next, alert)
			replaced = true
		} else {
			next = append(next, a)
		}
	}
	if !replaced {
		next = append(next, alert)
	}
	ptr.Store(&next)
	return nil
}

func (idx *Index) applyRemove(symbol, alertID string) error {
	lock := idx.lockFor(symbol)
	lock.Lock()
	defer lock.Unlock()

	ptr := idx.pointerFor(symbol)
	cur := *ptr.Load()
	next := make([]*model.Alert, 0, len(cur))
	for _, a := range cur {
		if a.AlertID != alertID {
			next = append(next, a)
		}
	}
	ptr.Store(&next)
	return nil
}

// Rebuild performs a full scan of the durable store, replacing every
// symbol's slice. Used on cold start and on SIGHUP reload (§6.6, §4.8). On
// failure the previous index is left untouched (§7: "keep previous index,
// retry").
func (idx *Index) Rebuild(ctx context.Context) error {
	alerts, err := idx.store.ListActiveUserCreated(ctx)
	if err != nil {
		if idx.log != nil {
			idx.log.Error("alertindex: rebuild failed, keeping previous index", "err", err)
		}
		return err
	}

	bySymbol := make(map[string][]*model.Alert)
	for _, a := range alerts {
		if err := a.Validate(); err != nil {
			if idx.log != nil {
				idx.log.Warn("alertindex: skipping invalid alert on rebuild", "alertId", a.AlertID, "err", err)
			}
			continue
		}
		bySymbol[a.Symbol] = append(bySymbol[a.Symbol], a)
	}

	idx.mu.Lock()
	for symbol, list := range bySymbol {
		ptr, ok := idx.symbols[symbol]
		if !ok {
			ptr = &atomic.Pointer[[]*model.Alert]{}
			idx.symbols[symbol] = ptr
		}
		l := list
		ptr.Store(&l)
	}
	// symbols present before the rebuild but absent from the fresh scan
	// are emptied, matching "active && userCreated alerts are indexed;
	// others are silently filtered."
	for symbol, ptr := range idx.symbols {
		if _, ok := bySymbol[symbol]; !ok {
			empty := []*model.Alert{}
			ptr.Store(&empty)
		}
	}
	idx.mu.Unlock()

	if idx.log != nil {
		idx.log.Info("alertindex: rebuilt", "alerts", len(alerts), "symbols", len(bySymbol))
	}
	return nil
}

// Symbols returns every symbol currently tracked by the index (even if
// its alert slice is empty).
func (idx *Index) Symbols() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]string, 0, len(idx.symbols))
	for s := range idx.symbols {
		out = append(out, s)
	}
	return out
}

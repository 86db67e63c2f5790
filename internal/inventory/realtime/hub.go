// Package realtime fans saved month snapshots out to the stores that
// watch them inside this process.
package realtime

import (
	"sync"

	"github.com/medflow/pharmacy-ledger/internal/ledger"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
)

// Listener receives the full item list of a month after every save
type Listener func(items []ledger.InventoryItem)

type topic struct {
	pharmacyID string
	month      ledger.MonthKey
}

// Hub keeps per-month listener sets. Safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	subs   map[topic]map[uint64]Listener
	nextID uint64
	logger *logger.Logger
}

// NewHub creates an empty hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		subs:   make(map[topic]map[uint64]Listener),
		logger: log,
	}
}

// Subscribe registers fn for one month of one pharmacy. The returned
// function removes the listener and may be called more than once.
func (h *Hub) Subscribe(pharmacyID string, month ledger.MonthKey, fn Listener) func() {
	t := topic{pharmacyID: pharmacyID, month: month}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	set, ok := h.subs[t]
	if !ok {
		set = make(map[uint64]Listener)
		h.subs[t] = set
	}
	set[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[t]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(h.subs, t)
				}
			}
		})
	}
}

// Broadcast delivers items to every listener of the month. Each listener
// gets its own copy. Listeners run on the caller's goroutine, outside the lock.
func (h *Hub) Broadcast(pharmacyID string, month ledger.MonthKey, items []ledger.InventoryItem) int {
	h.mu.RLock()
	set := h.subs[topic{pharmacyID: pharmacyID, month: month}]
	listeners := make([]Listener, 0, len(set))
	for _, fn := range set {
		listeners = append(listeners, fn)
	}
	h.mu.RUnlock()

	for _, fn := range listeners {
		fn(ledger.CloneItems(items))
	}

	if len(listeners) > 0 {
		h.logger.Debug().
			Str("pharmacy_id", pharmacyID).
			Str("month", month.String()).
			Int("listeners", len(listeners)).
			Msg("broadcast month snapshot")
	}
	return len(listeners)
}

// Listeners returns how many listeners watch the month
func (h *Hub) Listeners(pharmacyID string, month ledger.MonthKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic{pharmacyID: pharmacyID, month: month}])
}

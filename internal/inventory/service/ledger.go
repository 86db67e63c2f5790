package service

import (
	"context"
	"sync"
	"time"

	"github.com/medflow/pharmacy-ledger/internal/inventory/store"
	"github.com/medflow/pharmacy-ledger/pkg/errors"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
)

// LedgerService hands out one InventoryStore per pharmacy, creating and
// loading it on first use.
type LedgerService struct {
	persistence store.Persistence
	validator   store.Validator
	opts        store.Options
	logger      *logger.Logger

	mu     sync.Mutex
	stores map[string]*store.InventoryStore
	// loading serialises first loads per pharmacy.
	loading map[string]*sync.Mutex
}

// NewLedgerService creates an empty registry
func NewLedgerService(p store.Persistence, v store.Validator, opts store.Options, log *logger.Logger) *LedgerService {
	if opts.Logger == nil {
		opts.Logger = log
	}
	return &LedgerService{
		persistence: p,
		validator:   v,
		opts:        opts,
		logger:      log.WithComponent("ledger_service"),
		stores:      make(map[string]*store.InventoryStore),
		loading:     make(map[string]*sync.Mutex),
	}
}

// Store returns the pharmacy's store, loading it if needed
func (s *LedgerService) Store(ctx context.Context, pharmacyID string) (*store.InventoryStore, error) {
	if pharmacyID == "" {
		return nil, errors.NoPharmacySelected()
	}

	s.mu.Lock()
	if st, ok := s.stores[pharmacyID]; ok {
		s.mu.Unlock()
		return st, nil
	}
	lock, ok := s.loading[pharmacyID]
	if !ok {
		lock = &sync.Mutex{}
		s.loading[pharmacyID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	if st, ok := s.stores[pharmacyID]; ok {
		s.mu.Unlock()
		return st, nil
	}
	s.mu.Unlock()

	st := store.New(s.persistence, s.validator, s.opts)
	if err := st.SelectPharmacy(ctx, pharmacyID); err != nil {
		st.Close()
		return nil, err
	}

	s.mu.Lock()
	s.stores[pharmacyID] = st
	delete(s.loading, pharmacyID)
	s.mu.Unlock()

	s.logger.Info().Str("pharmacy_id", pharmacyID).Msg("inventory store opened")
	return st, nil
}

// Loaded returns how many stores are open
func (s *LedgerService) Loaded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stores)
}

// EvictIdle flushes and closes stores unused since before cutoff. Stores
// with writes still pending are kept until the next round.
func (s *LedgerService) EvictIdle(ctx context.Context, cutoff time.Time) int {
	s.mu.Lock()
	var idle []string
	for id, st := range s.stores {
		if st.LastUsed().Before(cutoff) && !st.Pending() {
			idle = append(idle, id)
		}
	}
	evicted := make([]*store.InventoryStore, 0, len(idle))
	for _, id := range idle {
		evicted = append(evicted, s.stores[id])
		delete(s.stores, id)
	}
	s.mu.Unlock()

	for i, st := range evicted {
		if err := st.Flush(ctx); err != nil {
			s.logger.Error().Err(err).Str("pharmacy_id", idle[i]).Msg("flush before eviction failed")
		}
		st.Close()
	}
	return len(evicted)
}

// Shutdown flushes every store and closes it
func (s *LedgerService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	all := make(map[string]*store.InventoryStore, len(s.stores))
	for id, st := range s.stores {
		all[id] = st
	}
	s.stores = make(map[string]*store.InventoryStore)
	s.mu.Unlock()

	var first error
	for id, st := range all {
		if err := st.Flush(ctx); err != nil {
			s.logger.Error().Err(err).Str("pharmacy_id", id).Msg("flush on shutdown failed")
			if first == nil {
				first = err
			}
		}
		st.Close()
	}

	s.logger.Info().Int("stores", len(all)).Msg("inventory stores flushed")
	return first
}

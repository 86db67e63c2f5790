// Package store holds the in-memory inventory of one pharmacy and keeps it
// in sync with persistence.
//
// Edits apply to local state synchronously and are written back in the
// background: item updates after a debounce window, adds and deletes after a
// short fixed delay. Each write replaces the whole month. Saved months pushed
// by the persistence layer replace the local copy (last writer wins).
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/medflow/pharmacy-ledger/internal/ledger"
	"github.com/medflow/pharmacy-ledger/pkg/actor"
	"github.com/medflow/pharmacy-ledger/pkg/errors"
	"github.com/medflow/pharmacy-ledger/pkg/i18n"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
)

// Persistence loads, saves and watches month snapshots. LoadMonth reports
// found=false for a month that was never written.
type Persistence interface {
	LoadMonth(ctx context.Context, pharmacyID string, key ledger.MonthKey) ([]ledger.InventoryItem, bool, error)
	LoadAllMonths(ctx context.Context, pharmacyID string) (ledger.Snapshots, error)
	SaveMonth(ctx context.Context, pharmacyID string, key ledger.MonthKey, items []ledger.InventoryItem) error
	SubscribeMonth(ctx context.Context, pharmacyID string, key ledger.MonthKey, onChange func([]ledger.InventoryItem)) (func(), error)
}

// RolloverNotifier is optionally implemented by a Persistence that wants to
// hear about completed rollovers.
type RolloverNotifier interface {
	NotifyRollover(ctx context.Context, pharmacyID string, from, to ledger.MonthKey, itemCount int)
}

// Validator checks a full month before it is written
type Validator interface {
	ValidateItems(items []ledger.InventoryItem) error
}

// Options tunes a store
type Options struct {
	UpdateDebounce time.Duration
	WriteDelay     time.Duration
	// WriteTimeout bounds each background write.
	WriteTimeout time.Duration
	Locale       string
	// OnError receives the localized message of every failed load or save.
	OnError func(message string, err error)
	Clock   func() time.Time
	Logger  *logger.Logger
}

func (o *Options) setDefaults() {
	if o.UpdateDebounce <= 0 {
		o.UpdateDebounce = 500 * time.Millisecond
	}
	if o.WriteDelay < 0 {
		o.WriteDelay = 0
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
}

type pendingWrite struct {
	timer *time.Timer
	due   time.Time
	actor *actor.Actor
}

type orphanWrite struct {
	pharmacyID string
	key        ledger.MonthKey
	items      []ledger.InventoryItem
	actor      *actor.Actor
	generation uint64
}

// writeSlot names one month document in storage.
type writeSlot struct {
	pharmacyID string
	key        ledger.MonthKey
}

// writeQueue hands out turns to writers of one slot in arrival order.
type writeQueue struct {
	next    uint64
	serving uint64
}

// failure is kept unlocalized so every reader can pick its language.
type failure struct {
	messageKey string
	params     map[string]string
}

// InventoryStore owns the month selection and the loaded snapshots of the
// active pharmacy. Safe for concurrent use.
type InventoryStore struct {
	persistence Persistence
	validator   Validator
	opts        Options
	localizer   *i18n.Localizer
	logger      *logger.Logger

	mu          sync.Mutex
	pharmacyID  string
	year        int
	month       int
	snapshots   ledger.Snapshots
	history     ledger.ConsumptionHistory
	pending     map[ledger.MonthKey]*pendingWrite
	unsubscribe func()
	watching    ledger.MonthKey
	generation  uint64
	lastFailure *failure
	lastUsed    time.Time

	// written is signalled whenever a write finishes.
	written   *sync.Cond
	queues    map[writeSlot]*writeQueue
	inflight  int
	completed uint64
	// unsaved marks months whose last write failed; they keep the local copy.
	unsaved map[ledger.MonthKey]bool
}

// New creates a store with no pharmacy selected and the current month active.
func New(p Persistence, v Validator, opts Options) *InventoryStore {
	opts.setDefaults()
	now := opts.Clock()

	s := &InventoryStore{
		persistence: p,
		validator:   v,
		opts:        opts,
		localizer:   i18n.NewLocalizer(opts.Locale),
		logger:      opts.Logger.WithComponent("inventory_store"),
		year:        now.Year(),
		month:       int(now.Month()),
		snapshots:   make(ledger.Snapshots),
		history:     make(ledger.ConsumptionHistory),
		pending:     make(map[ledger.MonthKey]*pendingWrite),
		queues:      make(map[writeSlot]*writeQueue),
		unsaved:     make(map[ledger.MonthKey]bool),
		lastUsed:    now,
	}
	s.written = sync.NewCond(&s.mu)
	return s
}

// SelectPharmacy switches the store to pharmacyID and loads all of its
// months. Writes still pending for the previous pharmacy are started
// immediately instead of being dropped.
func (s *InventoryStore) SelectPharmacy(ctx context.Context, pharmacyID string) error {
	if pharmacyID == "" {
		return errors.NoPharmacySelected()
	}

	s.mu.Lock()
	if s.pharmacyID == pharmacyID {
		s.touchLocked()
		s.mu.Unlock()
		return s.watchActive(ctx)
	}
	orphans := s.detachPendingLocked()
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.watching = ""
	s.pharmacyID = pharmacyID
	s.snapshots = make(ledger.Snapshots)
	s.history = make(ledger.ConsumptionHistory)
	s.lastFailure = nil
	s.unsaved = make(map[ledger.MonthKey]bool)
	s.generation++
	gen := s.generation
	key := s.activeKeyLocked()
	s.touchLocked()
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	for _, o := range orphans {
		s.startOrphan(o)
	}

	s.logger.Info().Str("pharmacy_id", pharmacyID).Msg("pharmacy selected")

	snaps, err := s.persistence.LoadAllMonths(ctx, pharmacyID)
	if err != nil {
		return s.loadFailed(pharmacyID, key, err)
	}

	s.mu.Lock()
	if s.generation == gen {
		for k, items := range snaps {
			// Edits made while loading win over the loaded copy.
			if _, local := s.snapshots[k]; !local {
				s.snapshots[k] = items
			}
		}
		s.rebuildLocked()
	}
	s.mu.Unlock()

	return s.watchActive(ctx)
}

// PharmacyID returns the selected pharmacy, or "" when none is selected
func (s *InventoryStore) PharmacyID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pharmacyID
}

// SetMonth changes the selected month (1..12). Loaded snapshots are kept.
func (s *InventoryStore) SetMonth(ctx context.Context, month int) error {
	if month < 1 || month > 12 {
		return errors.InvalidMonth(fmt.Sprintf("%d-%02d", s.Selection().Year(), month))
	}
	s.mu.Lock()
	prev := s.activeKeyLocked()
	s.month = month
	s.touchLocked()
	s.mu.Unlock()
	return s.activate(ctx, prev)
}

// SetYear changes the selected year. Loaded snapshots are kept.
func (s *InventoryStore) SetYear(ctx context.Context, year int) error {
	if year < 1 || year > 9999 {
		return errors.InvalidMonth(fmt.Sprintf("%d-%02d", year, s.Selection().Month()))
	}
	s.mu.Lock()
	prev := s.activeKeyLocked()
	s.year = year
	s.touchLocked()
	s.mu.Unlock()
	return s.activate(ctx, prev)
}

// SetActiveMonth selects year and month in one step
func (s *InventoryStore) SetActiveMonth(ctx context.Context, key ledger.MonthKey) error {
	parsed, err := ledger.ParseMonthKey(key.String())
	if err != nil {
		return errors.InvalidMonth(key.String())
	}
	s.mu.Lock()
	prev := s.activeKeyLocked()
	s.year, s.month = parsed.Year(), parsed.Month()
	s.touchLocked()
	s.mu.Unlock()
	return s.activate(ctx, prev)
}

// Selection returns the active month key
func (s *InventoryStore) Selection() ledger.MonthKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeKeyLocked()
}

// Items returns the active month's items with their derived balances
func (s *InventoryStore) Items() []ItemView {
	return s.ItemsIn(s.Selection())
}

// ItemsIn returns the items of key with their derived balances
func (s *InventoryStore) ItemsIn(key ledger.MonthKey) []ItemView {
	return BuildViews(s.MonthItems(key))
}

// MonthItems returns a copy of any loaded month
func (s *InventoryStore) MonthItems(key ledger.MonthKey) []ledger.InventoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ledger.CloneItems(s.snapshots[key])
}

// Snapshots returns a copy of every loaded month
func (s *InventoryStore) Snapshots() ledger.Snapshots {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots.Clone()
}

// Consumption returns the consumption history across all loaded months
func (s *InventoryStore) Consumption() ledger.ConsumptionHistory {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(ledger.ConsumptionHistory, len(s.history))
	for name, rec := range s.history {
		months := make(map[ledger.MonthKey]int, len(rec.Months))
		for k, v := range rec.Months {
			months[k] = v
		}
		rec.Months = months
		out[name] = rec
	}
	return out
}

// SimpleShortages applies the simple policy to the active month
func (s *InventoryStore) SimpleShortages() []ledger.SimpleShortage {
	return s.SimpleShortagesIn(s.Selection())
}

// SimpleShortagesIn applies the simple policy to key
func (s *InventoryStore) SimpleShortagesIn(key ledger.MonthKey) []ledger.SimpleShortage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ledger.SimpleShortages(s.snapshots[key], s.history)
}

// GradedShortages applies the graded policy to the active month
func (s *InventoryStore) GradedShortages() []ledger.GradedShortage {
	return s.GradedShortagesIn(s.Selection())
}

// GradedShortagesIn applies the graded policy to key
func (s *InventoryStore) GradedShortagesIn(key ledger.MonthKey) []ledger.GradedShortage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ledger.GradedShortages(s.snapshots[key])
}

// RefreshMonth reloads key from persistence so callers working on a month
// other than the watched one see saves they were not pushed. Months with
// local writes scheduled or running keep their local copy.
func (s *InventoryStore) RefreshMonth(ctx context.Context, key ledger.MonthKey) error {
	if err := checkMonth(key); err != nil {
		return err
	}

	s.mu.Lock()
	pharmacyID, gen := s.pharmacyID, s.generation
	watched := s.unsubscribe != nil && s.watching == key
	s.touchLocked()
	s.mu.Unlock()
	if pharmacyID == "" {
		return errors.NoPharmacySelected()
	}
	if watched {
		return nil
	}
	return s.refresh(ctx, pharmacyID, key, gen)
}

// AddItem appends a zero-valued item to the active month and returns its index.
func (s *InventoryStore) AddItem(ctx context.Context) (int, error) {
	return s.AddItemIn(ctx, s.Selection())
}

// AddItemIn appends a zero-valued item to key and returns its index.
func (s *InventoryStore) AddItemIn(ctx context.Context, key ledger.MonthKey) (int, error) {
	if err := checkMonth(key); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pharmacyID == "" {
		return 0, errors.NoPharmacySelected()
	}
	s.snapshots[key] = append(s.snapshots[key], ledger.NewItem())
	s.rebuildLocked()
	s.scheduleLocked(ctx, key, s.opts.WriteDelay, false)
	s.touchLocked()
	return len(s.snapshots[key]) - 1, nil
}

// UpdateItem applies patch to the item at index of the active month. Edits
// arriving within the debounce window are written together.
func (s *InventoryStore) UpdateItem(ctx context.Context, index int, patch ItemPatch) error {
	return s.UpdateItemIn(ctx, s.Selection(), index, patch)
}

// UpdateItemIn applies patch to the item at index of key.
func (s *InventoryStore) UpdateItemIn(ctx context.Context, key ledger.MonthKey, index int, patch ItemPatch) error {
	if err := checkMonth(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pharmacyID == "" {
		return errors.NoPharmacySelected()
	}
	items := s.snapshots[key]
	if index < 0 || index >= len(items) {
		return errors.ItemIndexOutOfRange(index)
	}

	patch.Apply(&items[index])
	s.rebuildLocked()
	s.scheduleLocked(ctx, key, s.opts.UpdateDebounce, true)
	s.touchLocked()
	return nil
}

// DeleteItem removes the item at index of the active month
func (s *InventoryStore) DeleteItem(ctx context.Context, index int) error {
	return s.DeleteItemIn(ctx, s.Selection(), index)
}

// DeleteItemIn removes the item at index of key
func (s *InventoryStore) DeleteItemIn(ctx context.Context, key ledger.MonthKey, index int) error {
	if err := checkMonth(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pharmacyID == "" {
		return errors.NoPharmacySelected()
	}
	items := s.snapshots[key]
	if index < 0 || index >= len(items) {
		return errors.ItemIndexOutOfRange(index)
	}

	next := make([]ledger.InventoryItem, 0, len(items)-1)
	next = append(next, items[:index]...)
	next = append(next, items[index+1:]...)
	s.snapshots[key] = next
	s.rebuildLocked()
	s.scheduleLocked(ctx, key, s.opts.WriteDelay, false)
	s.touchLocked()
	return nil
}

// Save writes the active month now, creating it if it was never written.
func (s *InventoryStore) Save(ctx context.Context) error {
	return s.SaveIn(ctx, s.Selection())
}

// SaveIn writes key now, creating it if it was never written. It waits for
// a write of key already running.
func (s *InventoryStore) SaveIn(ctx context.Context, key ledger.MonthKey) error {
	if err := checkMonth(key); err != nil {
		return err
	}

	s.mu.Lock()
	if s.pharmacyID == "" {
		s.mu.Unlock()
		return errors.NoPharmacySelected()
	}
	s.cancelPendingLocked(key)
	if _, ok := s.snapshots[key]; !ok {
		s.snapshots[key] = []ledger.InventoryItem{}
	}
	pharmacyID, gen := s.pharmacyID, s.generation
	s.inflight++
	s.touchLocked()
	items := s.beginWriteLocked(pharmacyID, key, gen, ledger.CloneItems(s.snapshots[key]))
	s.mu.Unlock()

	defer s.endWrite(pharmacyID, key)
	return s.write(ctx, pharmacyID, key, items)
}

// Rollover carries the active month's closing balances into the next month
// and writes it. Running it again overwrites the next month.
func (s *InventoryStore) Rollover(ctx context.Context) (ledger.MonthKey, error) {
	return s.RolloverFrom(ctx, s.Selection())
}

// RolloverFrom carries the closing balances of current into the month after it.
func (s *InventoryStore) RolloverFrom(ctx context.Context, current ledger.MonthKey) (ledger.MonthKey, error) {
	if err := checkMonth(current); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.pharmacyID == "" {
		s.mu.Unlock()
		return "", errors.NoPharmacySelected()
	}
	rolled, next := ledger.Rollover(s.snapshots, current)
	s.snapshots = rolled
	s.cancelPendingLocked(next)
	s.rebuildLocked()
	pharmacyID, gen := s.pharmacyID, s.generation
	s.inflight++
	s.touchLocked()
	items := s.beginWriteLocked(pharmacyID, next, gen, ledger.CloneItems(rolled[next]))
	s.mu.Unlock()

	defer s.endWrite(pharmacyID, next)
	if err := s.write(ctx, pharmacyID, next, items); err != nil {
		return next, err
	}

	if n, ok := s.persistence.(RolloverNotifier); ok {
		n.NotifyRollover(ctx, pharmacyID, current, next, len(items))
	}

	s.logger.Info().
		Str("pharmacy_id", pharmacyID).
		Str("from_month", current.String()).
		Str("to_month", next.String()).
		Int("items", len(items)).
		Msg("month rolled over")

	return next, nil
}

// Flush writes every month with a pending write now and waits for writes
// already in progress. It returns the first error.
func (s *InventoryStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	orphans := s.detachPendingLocked()
	s.inflight += len(orphans)
	s.mu.Unlock()

	var first error
	for _, o := range orphans {
		if err := s.writeOrphan(s.writeContext(ctx, o.actor), o); err != nil && first == nil {
			first = err
		}
	}

	s.mu.Lock()
	for s.inflight > 0 {
		s.written.Wait()
	}
	s.mu.Unlock()

	return first
}

// Pending reports whether any write is scheduled or running
func (s *InventoryStore) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0 || s.inflight > 0
}

// Close drops the subscription. Scheduled writes still run.
func (s *InventoryStore) Close() {
	s.mu.Lock()
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.watching = ""
	s.generation++
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// LastError returns the message of the most recent failure in the store's
// locale, or "" once a later write succeeded.
func (s *InventoryStore) LastError() string {
	return s.LastErrorIn(s.localizer)
}

// LastErrorIn is LastError translated by l.
func (s *InventoryStore) LastErrorIn(l *i18n.Localizer) string {
	s.mu.Lock()
	f := s.lastFailure
	s.mu.Unlock()
	if f == nil {
		return ""
	}
	return l.T(f.messageKey, f.params)
}

// LastUsed returns when the store was last touched by an operation
func (s *InventoryStore) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *InventoryStore) activeKeyLocked() ledger.MonthKey {
	return ledger.NewMonthKey(s.year, s.month)
}

func (s *InventoryStore) touchLocked() {
	s.lastUsed = s.opts.Clock()
}

func (s *InventoryStore) rebuildLocked() {
	s.history = ledger.AggregateConsumption(s.snapshots)
}

// activate moves the subscription to the active month. A month that was
// not active before is refreshed from persistence, since pushes for it were
// not received while it was unwatched.
func (s *InventoryStore) activate(ctx context.Context, prev ledger.MonthKey) error {
	s.mu.Lock()
	pharmacyID, key, gen := s.pharmacyID, s.activeKeyLocked(), s.generation
	s.mu.Unlock()
	if pharmacyID == "" {
		return nil
	}

	if err := s.watchActive(ctx); err != nil {
		return err
	}
	if key == prev {
		return nil
	}
	return s.refresh(ctx, pharmacyID, key, gen)
}

func (s *InventoryStore) refresh(ctx context.Context, pharmacyID string, key ledger.MonthKey, gen uint64) error {
	s.mu.Lock()
	completed := s.completed
	s.mu.Unlock()

	items, found, err := s.persistence.LoadMonth(ctx, pharmacyID, key)
	if err != nil {
		return s.loadFailed(pharmacyID, key, err)
	}
	if !found {
		return nil
	}

	s.mu.Lock()
	// A write running or finished since the read may be newer than it.
	if s.generation == gen && s.pending[key] == nil && !s.unsaved[key] && s.inflight == 0 && s.completed == completed {
		s.snapshots[key] = items
		s.rebuildLocked()
	}
	s.mu.Unlock()
	return nil
}

func (s *InventoryStore) watchActive(ctx context.Context) error {
	s.mu.Lock()
	pharmacyID, key := s.pharmacyID, s.activeKeyLocked()
	if pharmacyID == "" || (s.unsubscribe != nil && s.watching == key) {
		s.mu.Unlock()
		return nil
	}
	old := s.unsubscribe
	s.unsubscribe = nil
	s.watching = key
	gen := s.generation
	s.mu.Unlock()

	if old != nil {
		old()
	}

	unsub, err := s.persistence.SubscribeMonth(ctx, pharmacyID, key, func(items []ledger.InventoryItem) {
		s.applyRemote(pharmacyID, key, items)
	})
	if err != nil {
		return s.loadFailed(pharmacyID, key, err)
	}

	s.mu.Lock()
	if s.generation != gen || s.watching != key || s.unsubscribe != nil {
		s.mu.Unlock()
		unsub()
		return nil
	}
	s.unsubscribe = unsub
	s.mu.Unlock()
	return nil
}

// applyRemote replaces a month with a pushed snapshot. A month with a
// local write scheduled, running or queued keeps the local copy; that write
// lands later.
func (s *InventoryStore) applyRemote(pharmacyID string, key ledger.MonthKey, items []ledger.InventoryItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pharmacyID != pharmacyID {
		return
	}
	if s.pending[key] != nil || s.queues[writeSlot{pharmacyID, key}] != nil {
		s.logger.Debug().Str("month", key.String()).Msg("skipping pushed snapshot, local write pending")
		return
	}
	if items == nil {
		items = []ledger.InventoryItem{}
	}
	s.snapshots[key] = items
	delete(s.unsaved, key)
	s.rebuildLocked()
}

// scheduleLocked arranges a write of key. A debounced write pushes any
// scheduled write back; a fixed write only ever brings it forward.
func (s *InventoryStore) scheduleLocked(ctx context.Context, key ledger.MonthKey, delay time.Duration, debounce bool) {
	due := time.Now().Add(delay)
	who := actor.FromContext(ctx)

	if existing := s.pending[key]; existing != nil {
		if !debounce && !existing.due.After(due) {
			existing.actor = who
			return
		}
		existing.timer.Stop()
	}

	pw := &pendingWrite{due: due, actor: who}
	pw.timer = time.AfterFunc(delay, func() { s.fire(key, pw) })
	s.pending[key] = pw
}

func (s *InventoryStore) fire(key ledger.MonthKey, pw *pendingWrite) {
	s.mu.Lock()
	if s.pending[key] != pw {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	pharmacyID, gen := s.pharmacyID, s.generation
	s.inflight++
	items := s.beginWriteLocked(pharmacyID, key, gen, ledger.CloneItems(s.snapshots[key]))
	s.mu.Unlock()

	defer s.endWrite(pharmacyID, key)
	ctx, cancel := context.WithTimeout(s.writeContext(context.Background(), pw.actor), s.opts.WriteTimeout)
	defer cancel()
	_ = s.write(ctx, pharmacyID, key, items)
}

func (s *InventoryStore) cancelPendingLocked(key ledger.MonthKey) {
	if pw := s.pending[key]; pw != nil {
		pw.timer.Stop()
		delete(s.pending, key)
	}
}

// detachPendingLocked stops every timer and captures what it would have written.
func (s *InventoryStore) detachPendingLocked() []orphanWrite {
	if len(s.pending) == 0 {
		return nil
	}
	out := make([]orphanWrite, 0, len(s.pending))
	for key, pw := range s.pending {
		pw.timer.Stop()
		out = append(out, orphanWrite{
			pharmacyID: s.pharmacyID,
			key:        key,
			items:      ledger.CloneItems(s.snapshots[key]),
			actor:      pw.actor,
			generation: s.generation,
		})
	}
	s.pending = make(map[ledger.MonthKey]*pendingWrite)
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func (s *InventoryStore) startOrphan(o orphanWrite) {
	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(s.writeContext(context.Background(), o.actor), s.opts.WriteTimeout)
		defer cancel()
		_ = s.writeOrphan(ctx, o)
	}()
}

// writeOrphan writes a detached month. The caller has counted it in inflight.
func (s *InventoryStore) writeOrphan(ctx context.Context, o orphanWrite) error {
	s.mu.Lock()
	items := s.beginWriteLocked(o.pharmacyID, o.key, o.generation, o.items)
	s.mu.Unlock()

	defer s.endWrite(o.pharmacyID, o.key)
	return s.write(ctx, o.pharmacyID, o.key, items)
}

// beginWriteLocked waits for the turn to write key and returns the items to
// write. Writes of one month never overlap and start in the order they were
// requested, so an older list cannot land after a newer one. Edits made
// while waiting are picked up unless the store has since moved on; then
// captured is written.
func (s *InventoryStore) beginWriteLocked(pharmacyID string, key ledger.MonthKey, gen uint64, captured []ledger.InventoryItem) []ledger.InventoryItem {
	slot := writeSlot{pharmacyID, key}
	q := s.queues[slot]
	if q == nil {
		q = &writeQueue{}
		s.queues[slot] = q
	}
	turn := q.next
	q.next++
	for q.serving != turn {
		s.written.Wait()
	}

	items := captured
	if s.generation == gen && s.pharmacyID == pharmacyID {
		if current, ok := s.snapshots[key]; ok {
			items = ledger.CloneItems(current)
		}
	}
	if items == nil {
		items = []ledger.InventoryItem{}
	}
	return items
}

// endWrite passes the turn on and releases the write from inflight.
func (s *InventoryStore) endWrite(pharmacyID string, key ledger.MonthKey) {
	s.mu.Lock()
	slot := writeSlot{pharmacyID, key}
	if q := s.queues[slot]; q != nil {
		q.serving++
		if q.serving == q.next {
			delete(s.queues, slot)
		}
	}
	s.inflight--
	s.completed++
	s.written.Broadcast()
	s.mu.Unlock()
}

func (s *InventoryStore) writeContext(parent context.Context, who *actor.Actor) context.Context {
	if who == nil || actor.FromContext(parent) != nil {
		return parent
	}
	return actor.WithActor(parent, who)
}

// write validates and persists one month. Failures keep local state.
func (s *InventoryStore) write(ctx context.Context, pharmacyID string, key ledger.MonthKey, items []ledger.InventoryItem) error {
	log := s.logger.WithPharmacy(pharmacyID).WithMonth(key.String())

	if s.validator != nil {
		if err := s.validator.ValidateItems(items); err != nil {
			log.Warn().Err(err).Str("op", "validate").Msg("month not saved, validation failed")
			s.markUnsaved(pharmacyID, key)
			s.fail(pharmacyID, failure{
				messageKey: "inventory.errors.invalid_item",
				params: map[string]string{
					"index":  invalidIndex(err),
					"reason": validationReason(err),
				},
			}, err)
			return err
		}
	}

	if err := s.persistence.SaveMonth(ctx, pharmacyID, key, items); err != nil {
		appErr := persistenceError("save month "+key.String(), err)
		log.Error().Err(err).Str("op", "save").Msg("failed to save month")
		s.markUnsaved(pharmacyID, key)
		s.fail(pharmacyID, failure{
			messageKey: "inventory.errors.save_failed",
			params:     map[string]string{"month": key.String(), "reason": err.Error()},
		}, appErr)
		return appErr
	}

	s.mu.Lock()
	if s.pharmacyID == pharmacyID {
		s.lastFailure = nil
		delete(s.unsaved, key)
	}
	s.mu.Unlock()

	log.Debug().Int("items", len(items)).Msg("month saved")
	return nil
}

func (s *InventoryStore) loadFailed(pharmacyID string, key ledger.MonthKey, err error) error {
	appErr := persistenceError("load month "+key.String(), err)
	s.logger.WithPharmacy(pharmacyID).WithMonth(key.String()).
		Error().Err(err).Str("op", "load").Msg("failed to load months")
	s.fail(pharmacyID, failure{
		messageKey: "inventory.errors.load_failed",
		params:     map[string]string{"month": key.String(), "reason": err.Error()},
	}, appErr)
	return appErr
}

func (s *InventoryStore) fail(pharmacyID string, f failure, err error) {
	s.mu.Lock()
	if s.pharmacyID == pharmacyID {
		s.lastFailure = &f
	}
	s.mu.Unlock()

	if s.opts.OnError != nil {
		s.opts.OnError(s.localizer.T(f.messageKey, f.params), err)
	}
}

func (s *InventoryStore) markUnsaved(pharmacyID string, key ledger.MonthKey) {
	s.mu.Lock()
	if s.pharmacyID == pharmacyID {
		s.unsaved[key] = true
	}
	s.mu.Unlock()
}

func checkMonth(key ledger.MonthKey) error {
	if _, err := ledger.ParseMonthKey(key.String()); err != nil {
		return errors.InvalidMonth(key.String())
	}
	return nil
}

// persistenceError keeps AppErrors raised by the storage layer as they are.
func persistenceError(op string, err error) error {
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return errors.Persistence(op, err)
}

func invalidIndex(err error) string {
	var appErr *errors.AppError
	if errors.As(err, &appErr) && appErr.Params["index"] != "" {
		return appErr.Params["index"]
	}
	return "?"
}

func validationReason(err error) string {
	var appErr *errors.AppError
	if !errors.As(err, &appErr) || len(appErr.Details) == 0 {
		return err.Error()
	}

	fields := make([]string, 0, len(appErr.Details))
	for field := range appErr.Details {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+" "+appErr.Details[field])
	}
	return strings.Join(parts, "; ")
}

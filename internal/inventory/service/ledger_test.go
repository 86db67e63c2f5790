package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/pharmacy-ledger/internal/inventory/realtime"
	"github.com/medflow/pharmacy-ledger/internal/inventory/repository"
	"github.com/medflow/pharmacy-ledger/internal/inventory/service"
	"github.com/medflow/pharmacy-ledger/internal/inventory/store"
	"github.com/medflow/pharmacy-ledger/internal/inventory/validation"
	"github.com/medflow/pharmacy-ledger/internal/ledger"
	apperrors "github.com/medflow/pharmacy-ledger/pkg/errors"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
)

func newLedgerService(repo repository.SnapshotRepository, debounce time.Duration) *service.LedgerService {
	hub := realtime.NewHub(logger.Nop())
	p := service.NewSnapshotPersistence(repo, nil, hub, logger.Nop())
	return service.NewLedgerService(p, validation.New(), store.Options{
		UpdateDebounce: debounce,
		WriteDelay:     time.Millisecond,
	}, logger.Nop())
}

func TestLedgerService_StoreIsReused(t *testing.T) {
	svc := newLedgerService(repository.NewMemorySnapshots(), 10*time.Millisecond)
	ctx := context.Background()

	a, err := svc.Store(ctx, "ph-1")
	require.NoError(t, err)
	b, err := svc.Store(ctx, "ph-1")
	require.NoError(t, err)
	c, err := svc.Store(ctx, "ph-2")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "ph-1", a.PharmacyID())
	assert.Equal(t, 2, svc.Loaded())
}

func TestLedgerService_RequiresPharmacy(t *testing.T) {
	svc := newLedgerService(repository.NewMemorySnapshots(), 10*time.Millisecond)

	_, err := svc.Store(context.Background(), "")
	assert.ErrorIs(t, err, apperrors.ErrNoPharmacySelected)
}

func TestLedgerService_StoresOfSamePharmacySeeEachOthersSaves(t *testing.T) {
	repo := repository.NewMemorySnapshots()
	hub := realtime.NewHub(logger.Nop())
	p := service.NewSnapshotPersistence(repo, nil, hub, logger.Nop())
	opts := store.Options{UpdateDebounce: 5 * time.Millisecond, WriteDelay: time.Millisecond}
	ctx := context.Background()

	writer := store.New(p, validation.New(), opts)
	reader := store.New(p, validation.New(), opts)
	defer writer.Close()
	defer reader.Close()
	require.NoError(t, writer.SelectPharmacy(ctx, "ph-1"))
	require.NoError(t, reader.SelectPharmacy(ctx, "ph-1"))

	_, err := writer.AddItem(ctx)
	require.NoError(t, err)
	name := "Lisinopril"
	require.NoError(t, writer.UpdateItem(ctx, 0, store.ItemPatch{Name: &name}))

	assert.Eventually(t, func() bool {
		items := reader.Items()
		return len(items) == 1 && items[0].Item.Name == name
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLedgerService_ShutdownFlushesPendingEdits(t *testing.T) {
	repo := repository.NewMemorySnapshots()
	svc := newLedgerService(repo, time.Hour)
	ctx := context.Background()

	st, err := svc.Store(ctx, "ph-1")
	require.NoError(t, err)
	_, err = st.AddItem(ctx)
	require.NoError(t, err)
	require.NoError(t, st.Flush(ctx))

	opening := ledger.Qty(42)
	require.NoError(t, st.UpdateItem(ctx, 0, store.ItemPatch{Opening: &opening}))

	require.NoError(t, svc.Shutdown(ctx))

	snap, err := repo.Get(ctx, "ph-1", st.Selection())
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, opening, snap.Items[0].Opening)
	assert.Equal(t, 0, svc.Loaded())
}

func TestLedgerService_EvictIdle(t *testing.T) {
	svc := newLedgerService(repository.NewMemorySnapshots(), 10*time.Millisecond)
	ctx := context.Background()

	_, err := svc.Store(ctx, "ph-1")
	require.NoError(t, err)

	assert.Equal(t, 0, svc.EvictIdle(ctx, time.Now().Add(-time.Hour)))
	assert.Equal(t, 1, svc.Loaded())

	assert.Equal(t, 1, svc.EvictIdle(ctx, time.Now().Add(time.Second)))
	assert.Equal(t, 0, svc.Loaded())
}

func TestEvictionScheduler(t *testing.T) {
	svc := newLedgerService(repository.NewMemorySnapshots(), 10*time.Millisecond)
	_, err := svc.Store(context.Background(), "ph-1")
	require.NoError(t, err)

	sched := service.NewEvictionScheduler(svc, 5*time.Millisecond, time.Nanosecond, logger.Nop())
	sched.Start(context.Background())
	defer sched.Stop()

	assert.Eventually(t, func() bool { return svc.Loaded() == 0 }, 2*time.Second, 5*time.Millisecond)
}

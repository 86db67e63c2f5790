package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/pharmacy-ledger/internal/inventory/repository"
	"github.com/medflow/pharmacy-ledger/internal/ledger"
	"github.com/medflow/pharmacy-ledger/pkg/config"
	apperrors "github.com/medflow/pharmacy-ledger/pkg/errors"
	"github.com/medflow/pharmacy-ledger/pkg/testutil"
)

// exerciseRepository checks the persistence contract every driver must meet.
func exerciseRepository(t *testing.T, repo repository.SnapshotRepository, pharmacyID string) {
	t.Helper()
	ctx := context.Background()
	f := testutil.NewFixtureFactory()

	_, err := repo.Get(ctx, pharmacyID, "2024-01")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound), "absent month must be NotFound, got %v", err)

	items := []ledger.InventoryItem{
		f.Item(testutil.WithOpening(100), testutil.WithUnitPrice("12.40"),
			testutil.WithIncoming(1, 20, ledger.SourceFactory), testutil.WithDispense(1, 30)),
		f.Item(testutil.WithItemName("")),
	}
	require.NoError(t, repo.Save(ctx, &repository.Snapshot{PharmacyID: pharmacyID, MonthKey: "2024-01", Items: items, UpdatedBy: "user-1"}))

	snap, err := repo.Get(ctx, pharmacyID, "2024-01")
	require.NoError(t, err)
	require.Len(t, snap.Items, 2)
	assert.Equal(t, items[0].Name, snap.Items[0].Name)
	assert.True(t, items[0].UnitPrice.Equal(snap.Items[0].UnitPrice))
	assert.Equal(t, items[0].DailyIncoming, snap.Items[0].DailyIncoming)
	assert.Equal(t, items[0].IncomingSource, snap.Items[0].IncomingSource)
	assert.Equal(t, 90, ledger.RemainingStock(snap.Items[0]))
	assert.Equal(t, "user-1", snap.UpdatedBy)

	next, nextKey := ledger.Rollover(ledger.Snapshots{"2024-01": snap.Items}, "2024-01")
	require.NoError(t, repo.Save(ctx, &repository.Snapshot{PharmacyID: pharmacyID, MonthKey: nextKey, Items: next[nextKey]}))

	all, err := repo.ListByPharmacy(ctx, pharmacyID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, ledger.MonthKey("2024-01"), all[0].MonthKey)
	assert.Equal(t, ledger.MonthKey("2024-02"), all[1].MonthKey)
	assert.Equal(t, ledger.Qty(90), all[1].Items[0].Opening)
}

func TestPostgresSnapshots_Integration(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := context.Background()

	suite, err := testutil.NewIntegrationSuite(ctx, repository.Migrations()...)
	require.NoError(t, err)

	exerciseRepository(t, repository.NewPostgresSnapshots(suite.DB), "ph-integration")
}

func TestMongoSnapshots_Integration(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := context.Background()

	container, err := testutil.NewMongoContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(context.Background()) })

	client, err := repository.ConnectMongo(ctx, &config.MongoConfig{URI: container.URI, ConnectTimeout: 10 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { client.Disconnect(context.Background()) })

	repo, err := repository.NewMongoSnapshots(ctx, client.Database("ledger_test"), "monthly_stock")
	require.NoError(t, err)

	exerciseRepository(t, repo, "ph-integration")
}

func TestMemorySnapshots_Contract(t *testing.T) {
	exerciseRepository(t, repository.NewMemorySnapshots(), "ph-memory")
}

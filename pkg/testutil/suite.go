package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/medflow/pharmacy-ledger/pkg/database"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
)

var (
	// Shared across all integration tests of a package
	globalContainer *PostgresContainer
	globalDB        *sqlx.DB
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationSuite provides a base for integration tests with real PostgreSQL
type IntegrationSuite struct {
	Container *PostgresContainer
	RawDB     *sqlx.DB
	DB        *database.DB
	Logger    *logger.Logger
}

// NewIntegrationSuite starts (or reuses) the shared container and applies
// the given migrations.
//
// Usage:
//
//	func TestMain(m *testing.M) {
//	    flag.Parse()
//	    if testing.Short() {
//	        os.Exit(m.Run())
//	    }
//	    s, err := testutil.NewIntegrationSuite(ctx, repository.Migrations()...)
//	    ...
//	}
func NewIntegrationSuite(ctx context.Context, migrations ...string) (*IntegrationSuite, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
		if containerErr != nil {
			return
		}
		globalDB, containerErr = globalContainer.Connect(ctx)
	})
	if containerErr != nil {
		return nil, containerErr
	}

	if err := ApplySchema(ctx, globalDB, migrations...); err != nil {
		return nil, err
	}

	log := logger.New("test", "test")
	return &IntegrationSuite{
		Container: globalContainer,
		RawDB:     globalDB,
		DB:        database.Wrap(globalDB, log),
		Logger:    log,
	}, nil
}

// Cleanup terminates the shared container
func (s *IntegrationSuite) Cleanup(ctx context.Context) error {
	if s.RawDB != nil {
		s.RawDB.Close()
	}
	if s.Container != nil {
		return s.Container.Terminate(ctx)
	}
	return nil
}

// SkipIfShort skips the test if running with -short flag
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

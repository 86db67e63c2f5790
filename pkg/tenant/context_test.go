package tenant_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/pharmacy-ledger/pkg/tenant"
)

func TestPharmacyScope(t *testing.T) {
	ctx := tenant.WithPharmacy(context.Background(), "pharmacy-1", "user-9")

	id, err := tenant.PharmacyID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pharmacy-1", id)
	assert.Equal(t, "user-9", tenant.UserID(ctx))
	assert.Equal(t, "pharmacy-1", tenant.MustPharmacyID(ctx))
}

func TestPharmacyScope_Missing(t *testing.T) {
	_, err := tenant.PharmacyID(context.Background())
	assert.ErrorIs(t, err, tenant.ErrNoPharmacyInContext)

	_, err = tenant.PharmacyID(tenant.WithPharmacy(context.Background(), "", "user"))
	assert.ErrorIs(t, err, tenant.ErrNoPharmacyInContext)

	assert.Panics(t, func() { tenant.MustPharmacyID(context.Background()) })
	assert.Empty(t, tenant.UserID(context.Background()))
}

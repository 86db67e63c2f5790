package permissions_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/medflow/pharmacy-ledger/pkg/permissions"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name     string
		perms    []string
		required string
		want     bool
	}{
		{"nothing required", nil, "", true},
		{"exact", []string{"inventory.read"}, permissions.InventoryRead, true},
		{"missing", []string{"inventory.read"}, permissions.InventoryWrite, false},
		{"wildcard", []string{"inventory.*"}, permissions.InventoryRollover, true},
		{"full access", []string{"*"}, permissions.InventoryWrite, true},
		{"other resource wildcard", []string{"staff.*"}, permissions.InventoryRead, false},
		{"prefix is not a wildcard", []string{"inventory"}, permissions.InventoryRead, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, permissions.HasPermission(tt.perms, tt.required))
		})
	}
}

func TestHasAnyPermission(t *testing.T) {
	perms := []string{"inventory.read"}

	assert.True(t, permissions.HasAnyPermission(perms, []string{permissions.InventoryWrite, permissions.InventoryRead}))
	assert.False(t, permissions.HasAnyPermission(perms, []string{permissions.InventoryWrite}))
	assert.False(t, permissions.HasAnyPermission(perms, nil))
}

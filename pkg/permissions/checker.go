// Package permissions checks session permissions against what a ledger
// operation requires, with support for wildcards.
//
// Permission Format:
//   - "*" - Full access
//   - "inventory.*" - Every ledger action
//   - "inventory.write" - Specific action
package permissions

import (
	"strings"
)

// Ledger permissions
const (
	InventoryRead     = "inventory.read"
	InventoryWrite    = "inventory.write"
	InventoryRollover = "inventory.rollover"
)

// HasPermission checks if the user's permissions include the required permission.
//   - "*" matches everything
//   - "inventory.*" matches "inventory.read", "inventory.write", etc.
//   - Exact match for specific permissions
func HasPermission(userPerms []string, required string) bool {
	if required == "" {
		return true
	}

	for _, p := range userPerms {
		if p == "*" || p == required {
			return true
		}
		if strings.HasSuffix(p, ".*") {
			prefix := strings.TrimSuffix(p, ".*")
			if strings.HasPrefix(required, prefix+".") {
				return true
			}
		}
	}
	return false
}

// HasAnyPermission checks if the user has any of the required permissions.
func HasAnyPermission(userPerms []string, required []string) bool {
	for _, req := range required {
		if HasPermission(userPerms, req) {
			return true
		}
	}
	return false
}

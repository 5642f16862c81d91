package rbac

import (
	"fmt"

	"github.com/bazaar-market/bazaar-admin/internal/platform/httpx"
)

var (
	// ErrNotFound indicates that the requested role or assignment does not exist.
	ErrNotFound = fmt.Errorf("rbac: %w", httpx.ErrNotFound)
	// ErrUnknownPermission indicates a permission name missing from the catalog.
	ErrUnknownPermission = fmt.Errorf("rbac: unknown permission: %w", httpx.ErrValidation)
)

// Role represents a named grouping of permission keys.
type Role struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Permission represents an atomic capability.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

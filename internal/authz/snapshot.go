package authz

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// Snapshot is the resolved permission state of one principal within one session.
// It is immutable; updates replace the whole value.
type Snapshot struct {
	permissions []string
	index       map[string]bool
	roles       []string
	superadmin  bool
	strategy    string
	resolvedAt  time.Time
	degraded    bool
}

// NewSnapshot normalizes permissions and roles and builds the lookup index.
func NewSnapshot(permissions, roles []string, superadmin bool) *Snapshot {
	perms := normalizeKeys(permissions)
	index := make(map[string]bool, len(perms))
	for _, p := range perms {
		index[p] = true
	}
	return &Snapshot{
		permissions: perms,
		index:       index,
		roles:       normalizeKeys(roles),
		superadmin:  superadmin,
		resolvedAt:  time.Now().UTC(),
	}
}

// emptySnapshot is the fail-closed result.
func emptySnapshot() *Snapshot {
	return NewSnapshot(nil, nil, false)
}

func (s *Snapshot) withStrategy(name string) *Snapshot {
	s.strategy = name
	return s
}

func (s *Snapshot) markDegraded() *Snapshot {
	s.degraded = true
	return s
}

// Permissions returns a copy of the sorted permission keys.
func (s *Snapshot) Permissions() []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s.permissions)
}

// PermissionsMap returns a copy of the permission index.
func (s *Snapshot) PermissionsMap() map[string]bool {
	out := make(map[string]bool)
	if s == nil {
		return out
	}
	for k, v := range s.index {
		out[k] = v
	}
	return out
}

// Roles returns a copy of the sorted role names.
func (s *Snapshot) Roles() []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s.roles)
}

// IsSuperadmin reports the structural superadmin flag.
func (s *Snapshot) IsSuperadmin() bool { return s != nil && s.superadmin }

// Strategy names the discovery strategy that produced the permissions, if any.
func (s *Snapshot) Strategy() string {
	if s == nil {
		return ""
	}
	return s.strategy
}

// ResolvedAt is when discovery built the snapshot.
func (s *Snapshot) ResolvedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.resolvedAt
}

// Degraded reports that discovery was cut short by cancellation or timeout.
func (s *Snapshot) Degraded() bool { return s != nil && s.degraded }

// Empty reports a snapshot granting nothing.
func (s *Snapshot) Empty() bool {
	return s == nil || (!s.superadmin && len(s.permissions) == 0)
}

// Has reports exact membership of key, ignoring wildcards and the superadmin flag.
func (s *Snapshot) Has(key string) bool {
	return s != nil && s.index[key]
}

// CanAccessResource reports whether any held permission is scoped to resource.
func (s *Snapshot) CanAccessResource(resource string) bool {
	if s == nil {
		return false
	}
	if s.superadmin {
		return true
	}
	prefix := strings.TrimSpace(resource) + ":"
	for _, p := range s.permissions {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

type snapshotJSON struct {
	Permissions    []string        `json:"permissions"`
	PermissionsMap map[string]bool `json:"permissions_map"`
	Roles          []string        `json:"roles"`
	IsSuperadmin   bool            `json:"is_superadmin"`
	Strategy       string          `json:"strategy,omitempty"`
	ResolvedAt     time.Time       `json:"resolved_at"`
}

// MarshalJSON encodes the snapshot including the permissions map.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	perms := s.permissions
	if perms == nil {
		perms = []string{}
	}
	roles := s.roles
	if roles == nil {
		roles = []string{}
	}
	return json.Marshal(snapshotJSON{
		Permissions:    perms,
		PermissionsMap: s.index,
		Roles:          roles,
		IsSuperadmin:   s.superadmin,
		Strategy:       s.strategy,
		ResolvedAt:     s.resolvedAt,
	})
}

func normalizeKeys(keys []string) []string {
	if len(keys) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

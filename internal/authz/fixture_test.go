package authz

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
)

// fixtureStore is an in-memory Store that answers the strategy queries from maps.
type fixtureStore struct {
	mu sync.Mutex

	tables map[string]map[string]bool

	userPermissionIDs map[int64][]string // strategy 1, already joined to names
	userPermissionRaw map[int64][]string // strategy 2
	rolePermissions   map[int64][]string // strategy 3
	userRoleNames     map[int64][]string
	legacyRoleID      map[int64]any
	roleNames         map[int64]string

	queryErr error
	probeErr error
	block    bool

	// gate, when set, holds each query after its answer was read until closed.
	gate    chan struct{}
	entered chan struct{}

	queries atomic.Int64
}

func newFixtureStore() *fixtureStore {
	return &fixtureStore{
		tables:            make(map[string]map[string]bool),
		userPermissionIDs: make(map[int64][]string),
		userPermissionRaw: make(map[int64][]string),
		rolePermissions:   make(map[int64][]string),
		userRoleNames:     make(map[int64][]string),
		legacyRoleID:      make(map[int64]any),
		roleNames:         make(map[int64]string),
	}
}

func (s *fixtureStore) withTable(name string, columns ...string) *fixtureStore {
	cols := make(map[string]bool, len(columns))
	for _, c := range columns {
		cols[c] = true
	}
	s.tables[name] = cols
	return s
}

// normalizedSchema declares strategy 1 tables.
func (s *fixtureStore) normalizedSchema() *fixtureStore {
	return s.withTable("user_permissions", "user_id", "permission_id").withTable("permissions", "id", "name")
}

// inlineSchema declares strategy 2 tables.
func (s *fixtureStore) inlineSchema() *fixtureStore {
	return s.withTable("user_permissions", "user_id", "permission")
}

// rbacSchema declares strategy 3 tables.
func (s *fixtureStore) rbacSchema() *fixtureStore {
	return s.withTable("user_roles", "user_id", "role_id").
		withTable("role_permissions", "role_id", "permission_id").
		withTable("permissions", "id", "name").
		withTable("roles", "id", "name")
}

// legacySchema declares the users.role_id pointer.
func (s *fixtureStore) legacySchema() *fixtureStore {
	return s.withTable("users", "id", "name", "role_id")
}

func (s *fixtureStore) setRolePermissions(principalID int64, perms ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolePermissions[principalID] = perms
}

func (s *fixtureStore) queryCount() int64 {
	return s.queries.Load()
}

func (s *fixtureStore) TableExists(_ context.Context, table string) (bool, error) {
	if s.probeErr != nil {
		return false, s.probeErr
	}
	_, ok := s.tables[table]
	return ok, nil
}

func (s *fixtureStore) ColumnExists(_ context.Context, table, column string) (bool, error) {
	if s.probeErr != nil {
		return false, s.probeErr
	}
	return s.tables[table][column], nil
}

func (s *fixtureStore) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	s.queries.Add(1)
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	if len(args) != 1 {
		return nil, errors.New("fixture: expected one argument")
	}
	id, _ := args[0].(int64)

	rows, err := s.answer(query, id)
	if s.gate != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return rows, err
}

// withGate makes queries wait for release; entered receives when the first one is held.
func (s *fixtureStore) withGate() (entered <-chan struct{}, release func()) {
	s.gate = make(chan struct{})
	s.entered = make(chan struct{}, 1)
	var once sync.Once
	return s.entered, func() { once.Do(func() { close(s.gate) }) }
}

func (s *fixtureStore) answer(query string, id int64) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case strings.Contains(query, "up ON up.permission_id = p.id"):
		return stringRows(s.userPermissionIDs[id]), nil
	case strings.HasPrefix(query, "SELECT up.permission FROM"):
		return stringRows(s.userPermissionRaw[id]), nil
	case strings.Contains(query, "JOIN role_permissions rp"):
		return stringRows(s.rolePermissions[id]), nil
	case strings.HasPrefix(query, "SELECT r.name FROM"):
		return stringRows(s.userRoleNames[id]), nil
	case strings.HasPrefix(query, "SELECT role_id FROM"):
		v, ok := s.legacyRoleID[id]
		if !ok {
			return nil, nil
		}
		return []Row{{v}}, nil
	case strings.HasPrefix(query, "SELECT name FROM"):
		name, ok := s.roleNames[id]
		if !ok {
			return nil, nil
		}
		return []Row{{[]byte(name)}}, nil
	}
	return nil, errors.New("fixture: unexpected query: " + query)
}

func stringRows(values []string) []Row {
	rows := make([]Row, 0, len(values))
	for _, v := range values {
		rows = append(rows, Row{v})
	}
	return rows
}

type fixtureSession struct {
	mu     sync.Mutex
	id     string
	user   string
	values map[string]string
}

func newFixtureSession(id, user string) *fixtureSession {
	return &fixtureSession{id: id, user: user, values: make(map[string]string)}
}

func (s *fixtureSession) ID() string   { return s.id }
func (s *fixtureSession) User() string { return s.user }

func (s *fixtureSession) Get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

func (s *fixtureSession) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *fixtureSession) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// sessionUserResolver maps the session user string to a fixed principal table.
type sessionUserResolver map[string]*Principal

func (r sessionUserResolver) ResolvePrincipal(_ context.Context, sess Session) (*Principal, error) {
	p, ok := r[sess.User()]
	if !ok {
		return nil, ErrUnauthenticated
	}
	return p, nil
}

package authz

import (
	"context"
	"log/slog"
)

// Prober answers schema questions without ever failing the caller.
type Prober struct {
	store  Store
	logger *slog.Logger
}

// NewProber constructs a Prober for store.
func NewProber(store Store, logger *slog.Logger) *Prober {
	return &Prober{store: store, logger: logger}
}

// TableExists reports whether table exists. Store errors count as absent.
func (p *Prober) TableExists(ctx context.Context, table string) bool {
	if p == nil || p.store == nil {
		return false
	}
	ok, err := p.store.TableExists(ctx, table)
	if err != nil {
		p.warn("authz probe table", err, slog.String("table", table))
		return false
	}
	return ok
}

// ColumnExists reports whether table has column. Store errors count as absent.
func (p *Prober) ColumnExists(ctx context.Context, table, column string) bool {
	if p == nil || p.store == nil {
		return false
	}
	ok, err := p.store.ColumnExists(ctx, table, column)
	if err != nil {
		p.warn("authz probe column", err, slog.String("table", table), slog.String("column", column))
		return false
	}
	return ok
}

func (p *Prober) warn(msg string, err error, attrs ...any) {
	if p.logger == nil {
		return
	}
	p.logger.Warn(msg, append(attrs, slog.Any("error", err))...)
}

// probeMemo memoizes probe answers for a single discovery run.
type probeMemo struct {
	prober  *Prober
	tables  map[string]bool
	columns map[string]bool
}

func newProbeMemo(p *Prober) *probeMemo {
	return &probeMemo{prober: p, tables: make(map[string]bool), columns: make(map[string]bool)}
}

func (m *probeMemo) hasTable(ctx context.Context, table string) bool {
	if ok, seen := m.tables[table]; seen {
		return ok
	}
	ok := m.prober.TableExists(ctx, table)
	m.tables[table] = ok
	return ok
}

func (m *probeMemo) hasColumns(ctx context.Context, table string, columns ...string) bool {
	if !m.hasTable(ctx, table) {
		return false
	}
	for _, col := range columns {
		key := table + "." + col
		ok, seen := m.columns[key]
		if !seen {
			ok = m.prober.ColumnExists(ctx, table, col)
			m.columns[key] = ok
		}
		if !ok {
			return false
		}
	}
	return true
}

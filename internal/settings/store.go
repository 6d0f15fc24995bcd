package settings

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"
)

// Store persists settings rows.
type Store interface {
	Get(ctx context.Context, key string) (*Setting, error)
	// Upsert writes the setting, creating the row when absent.
	Upsert(ctx context.Context, s *Setting) error
	// List returns settings sorted by key; publicOnly hides private rows.
	List(ctx context.Context, publicOnly bool) ([]*Setting, error)
}

// Memory is the in-process Store used by the dev server and tests.
type Memory struct {
	mu   sync.RWMutex
	rows map[string]*Setting
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{rows: make(map[string]*Setting)}
}

func (m *Memory) Get(ctx context.Context, key string) (*Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.rows[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) Upsert(ctx context.Context, s *Setting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	m.rows[cp.Key] = &cp
	return nil
}

func (m *Memory) List(ctx context.Context, publicOnly bool) ([]*Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Setting, 0, len(m.rows))
	for _, s := range m.rows {
		if publicOnly && !s.Public {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// PG persists settings in the system_settings table.
type PG struct {
	db *sql.DB
}

var _ Store = (*PG)(nil)

func NewPG(db *sql.DB) *PG { return &PG{db: db} }

func (p *PG) Get(ctx context.Context, key string) (*Setting, error) {
	var s Setting
	var desc sql.NullString
	err := p.db.QueryRowContext(ctx, `
		select key, value, value_type, description, is_public, updated_at
		from system_settings where key=$1
	`, key).Scan(&s.Key, &s.RawValue, &s.Type, &desc, &s.Public, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Description = desc.String
	return &s, nil
}

func (p *PG) Upsert(ctx context.Context, s *Setting) error {
	_, err := p.db.ExecContext(ctx, `
		insert into system_settings(key, value, value_type, description, is_public)
		values ($1, $2, $3, nullif($4,''), $5)
		on conflict (key) do update set
			value       = excluded.value,
			value_type  = excluded.value_type,
			description = coalesce(excluded.description, system_settings.description),
			is_public   = excluded.is_public,
			updated_at  = now()
	`, s.Key, s.RawValue, s.Type, s.Description, s.Public)
	return err
}

func (p *PG) List(ctx context.Context, publicOnly bool) ([]*Setting, error) {
	rows, err := p.db.QueryContext(ctx, `
		select key, value, value_type, description, is_public, updated_at
		from system_settings where $1 = false or is_public order by key
	`, publicOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Setting
	for rows.Next() {
		var s Setting
		var desc sql.NullString
		if err := rows.Scan(&s.Key, &s.RawValue, &s.Type, &desc, &s.Public, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Description = desc.String
		out = append(out, &s)
	}
	return out, rows.Err()
}

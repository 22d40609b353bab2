// Package project supplies per-project configuration: pay rate and time
// limits. The lifecycle engine only reads projects; administration
// (creating them, tuning limits) goes through the same store from the API.
package project

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a project with the given ID does not exist.
var ErrNotFound = errors.New("project not found")

// Limits holds a project's task time limits, all in seconds.
// A nil field means "no limit" for that rule.
type Limits struct {
	// MaxTaskTime is the soft limit on active work.
	MaxTaskTime *int64 `json:"max_task_time,omitempty" yaml:"max_task_time"`
	// ExtraTimeAfterMax is the grace allowed past MaxTaskTime before the
	// task is forcibly reclaimed.
	ExtraTimeAfterMax *int64 `json:"extra_time_after_max,omitempty" yaml:"extra_time_after_max"`
	// AbsoluteExpiration caps wall-clock age since the work started,
	// regardless of the other two fields.
	AbsoluteExpiration *int64 `json:"absolute_expiration,omitempty" yaml:"absolute_expiration"`
}

// Project is the unit of task grouping and pay configuration.
type Project struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	// PayRate is a free-form hourly rate string ("€12,50/hr"); it is only
	// ever interpreted by pay.ParseRate.
	PayRate string `json:"pay_rate"`
	Limits
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Source supplies project configuration to the engine. Read-only.
type Source interface {
	Get(ctx context.Context, id string) (*Project, error)
}

// Store is a Source that also supports administration.
type Store interface {
	Source
	Put(ctx context.Context, p *Project) error
	List(ctx context.Context) ([]*Project, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	pay_rate            TEXT NOT NULL DEFAULT '',
	max_task_time       INTEGER,
	extra_time_after_max INTEGER,
	absolute_expiration  INTEGER,
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL
);
`

// SQLiteStore persists projects in the shared SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore ensures the projects schema exists on the given database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create projects schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Get retrieves a project by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, pay_rate, max_task_time, extra_time_after_max, absolute_expiration, created_at, updated_at
		FROM projects WHERE id=?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	return p, nil
}

// Put inserts or replaces a project, assigning an ID when absent.
func (s *SQLiteStore) Put(ctx context.Context, p *Project) error {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
		p.CreatedAt = now
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, pay_rate, max_task_time, extra_time_after_max, absolute_expiration, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, pay_rate=excluded.pay_rate,
			max_task_time=excluded.max_task_time,
			extra_time_after_max=excluded.extra_time_after_max,
			absolute_expiration=excluded.absolute_expiration,
			updated_at=excluded.updated_at`,
		p.ID, p.Name, p.PayRate,
		nullInt(p.MaxTaskTime), nullInt(p.ExtraTimeAfterMax), nullInt(p.AbsoluteExpiration),
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put project %s: %w", p.ID, err)
	}
	return nil
}

// List returns all projects, oldest first.
func (s *SQLiteStore) List(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, pay_rate, max_task_time, extra_time_after_max, absolute_expiration, created_at, updated_at
		FROM projects ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(s scanner) (*Project, error) {
	var p Project
	var maxTime, extraTime, absExp sql.NullInt64
	err := s.Scan(&p.ID, &p.Name, &p.PayRate, &maxTime, &extraTime, &absExp, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if maxTime.Valid {
		v := maxTime.Int64
		p.MaxTaskTime = &v
	}
	if extraTime.Valid {
		v := extraTime.Int64
		p.ExtraTimeAfterMax = &v
	}
	if absExp.Valid {
		v := absExp.Int64
		p.AbsoluteExpiration = &v
	}
	return &p, nil
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a task with the given ID does not exist.
var ErrNotFound = errors.New("task not found")

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id                   TEXT PRIMARY KEY,
	project_id           TEXT NOT NULL,
	status               TEXT NOT NULL,
	assigned_to          TEXT NOT NULL DEFAULT '',
	reviewed_by          TEXT NOT NULL DEFAULT '',
	annotator_started_at DATETIME,
	annotator_time_spent INTEGER NOT NULL DEFAULT 0,
	annotator_earnings   REAL NOT NULL DEFAULT 0,
	reviewer_started_at  DATETIME,
	reviewer_time_spent  INTEGER NOT NULL DEFAULT 0,
	reviewer_earnings    REAL NOT NULL DEFAULT 0,
	payload              TEXT NOT NULL DEFAULT 'null',
	labels               TEXT NOT NULL DEFAULT 'null',
	review_rating        INTEGER NOT NULL DEFAULT 0,
	review_feedback      TEXT NOT NULL DEFAULT '',
	parent_task_id       TEXT NOT NULL DEFAULT '',
	created_at           DATETIME NOT NULL,
	updated_at           DATETIME NOT NULL,
	completed_at         DATETIME
);
CREATE INDEX IF NOT EXISTS idx_tasks_project_status ON tasks(project_id, status);

CREATE TABLE IF NOT EXISTS task_audit (
	id         TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL,
	action     TEXT NOT NULL,
	actor      TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_audit_task ON task_audit(task_id);
`

// MutateFunc inspects and mutates a task inside a store transaction.
// Returning an error vetoes the write and is surfaced verbatim to the
// caller; the row is left exactly as it was. A non-nil returned task is
// inserted as a new row in the same transaction (used for requeue lineage).
type MutateFunc func(t *Task) (*Task, error)

// Filter controls which tasks are returned by List.
type Filter struct {
	ProjectID    string
	Status       *Status
	AssignedTo   string
	ParentTaskID string
	Limit        int
	Offset       int
}

// Store persists and retrieves tasks. Mutate is the single concurrency
// boundary: all state transitions go through it so their guards are
// evaluated at write time, never against a stale in-memory read.
type Store interface {
	// Create persists a new task and returns its assigned ID.
	Create(ctx context.Context, t *Task) (string, error)

	// Get retrieves a task by ID.
	Get(ctx context.Context, id string) (*Task, error)

	// Mutate atomically applies fn to the current row. If fn returns an
	// error nothing is written. On success the updated task (with its
	// optional spawned child persisted) is returned.
	Mutate(ctx context.Context, id string, fn MutateFunc) (*Task, error)

	// List returns tasks matching the given filter.
	List(ctx context.Context, f Filter) ([]*Task, error)

	// Delete removes a task by ID.
	Delete(ctx context.Context, id string) error

	// AppendAudit records a lifecycle action for a task.
	AppendAudit(ctx context.Context, a *Audit) error

	// ListAudit returns a task's audit entries, oldest first.
	ListAudit(ctx context.Context, taskID string) ([]*Audit, error)
}

// SQLiteStore persists tasks in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore ensures the tasks schema exists on the given database.
// The database must be opened with a single connection (see
// internal/sqlitedb) so transactions serialize.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create tasks schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

const taskColumns = `id, project_id, status, assigned_to, reviewed_by,
	annotator_started_at, annotator_time_spent, annotator_earnings,
	reviewer_started_at, reviewer_time_spent, reviewer_earnings,
	payload, labels, review_rating, review_feedback, parent_task_id,
	created_at, updated_at, completed_at`

// Create persists a new task and sets its ID, CreatedAt, and UpdatedAt.
func (s *SQLiteStore) Create(ctx context.Context, t *Task) (string, error) {
	prepareNew(t, time.Now().UTC())
	if err := insertTask(ctx, s.db, t); err != nil {
		return "", err
	}
	return t.ID, nil
}

// Get retrieves a task by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// Mutate loads the row, applies fn, and writes the result back, all inside
// one write transaction. With the single-connection pool this is a
// compare-and-set: fn observes the value the UPDATE will replace, so a
// guard failure means no concurrent writer can have slipped in between.
func (s *SQLiteStore) Mutate(ctx context.Context, id string, fn MutateFunc) (*Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin mutate: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", id, err)
	}

	child, err := fn(t)
	if err != nil {
		return nil, err
	}

	t.UpdatedAt = time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET
			project_id=?, status=?, assigned_to=?, reviewed_by=?,
			annotator_started_at=?, annotator_time_spent=?, annotator_earnings=?,
			reviewer_started_at=?, reviewer_time_spent=?, reviewer_earnings=?,
			payload=?, labels=?, review_rating=?, review_feedback=?, parent_task_id=?,
			updated_at=?, completed_at=?
		WHERE id=?`,
		t.ProjectID, string(t.Status), t.AssignedTo, t.ReviewedBy,
		nullTime(t.Annotator.StartedAt), t.Annotator.TimeSpent, t.Annotator.Earnings,
		nullTime(t.Reviewer.StartedAt), t.Reviewer.TimeSpent, t.Reviewer.Earnings,
		jsonText(t.Payload), jsonText(t.Labels), t.ReviewRating, t.ReviewFeedback, t.ParentTaskID,
		t.UpdatedAt, nullTime(t.CompletedAt),
		t.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update task %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, ErrNotFound
	}

	if child != nil {
		prepareNew(child, t.UpdatedAt)
		if err := insertTask(ctx, tx, child); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit mutate %s: %w", id, err)
	}
	return t, nil
}

// List returns tasks matching the filter, oldest first.
func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]*Task, error) {
	q := strings.Builder{}
	q.WriteString(`SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`)
	args := []any{}

	if f.ProjectID != "" {
		q.WriteString(" AND project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != nil {
		q.WriteString(" AND status=?")
		args = append(args, string(*f.Status))
	}
	if f.AssignedTo != "" {
		q.WriteString(" AND assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.ParentTaskID != "" {
		q.WriteString(" AND parent_task_id=?")
		args = append(args, f.ParentTaskID)
	}
	q.WriteString(" ORDER BY created_at ASC, id ASC")
	if f.Limit > 0 {
		q.WriteString(fmt.Sprintf(" LIMIT %d", f.Limit))
		if f.Offset > 0 {
			q.WriteString(fmt.Sprintf(" OFFSET %d", f.Offset))
		}
	}

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Delete removes a task by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func prepareNew(t *Task, now time.Time) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	t.CreatedAt = now
	t.UpdatedAt = now
}

// execer abstracts *sql.DB and *sql.Tx for insertTask.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTask(ctx context.Context, db execer, t *Task) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, string(t.Status), t.AssignedTo, t.ReviewedBy,
		nullTime(t.Annotator.StartedAt), t.Annotator.TimeSpent, t.Annotator.Earnings,
		nullTime(t.Reviewer.StartedAt), t.Reviewer.TimeSpent, t.Reviewer.Earnings,
		jsonText(t.Payload), jsonText(t.Labels), t.ReviewRating, t.ReviewFeedback, t.ParentTaskID,
		t.CreatedAt, t.UpdatedAt, nullTime(t.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	var t Task
	var status, payload, labels string
	var annStarted, revStarted, completed sql.NullTime

	err := s.Scan(
		&t.ID, &t.ProjectID, &status, &t.AssignedTo, &t.ReviewedBy,
		&annStarted, &t.Annotator.TimeSpent, &t.Annotator.Earnings,
		&revStarted, &t.Reviewer.TimeSpent, &t.Reviewer.Earnings,
		&payload, &labels, &t.ReviewRating, &t.ReviewFeedback, &t.ParentTaskID,
		&t.CreatedAt, &t.UpdatedAt, &completed,
	)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	t.Payload = fromJSONText(payload)
	t.Labels = fromJSONText(labels)
	if annStarted.Valid {
		ts := annStarted.Time
		t.Annotator.StartedAt = &ts
	}
	if revStarted.Valid {
		ts := revStarted.Time
		t.Reviewer.StartedAt = &ts
	}
	if completed.Valid {
		ts := completed.Time
		t.CompletedAt = &ts
	}
	return &t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func jsonText(raw []byte) string {
	if len(raw) == 0 {
		return "null"
	}
	return string(raw)
}

func fromJSONText(s string) []byte {
	if s == "" || s == "null" {
		return nil
	}
	return []byte(s)
}

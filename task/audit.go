package task

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Audit records one lifecycle action applied to a task. Rows are append
// only: rejection feedback, who expired a task and when, all survive here
// even after the task row itself is reset or superseded.
type Audit struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendAudit records a lifecycle action for a task.
func (s *SQLiteStore) AppendAudit(ctx context.Context, a *Audit) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_audit (id, task_id, action, actor, detail, created_at)
		VALUES (?,?,?,?,?,?)`,
		a.ID, a.TaskID, a.Action, a.Actor, a.Detail, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// ListAudit returns a task's audit entries, oldest first.
func (s *SQLiteStore) ListAudit(ctx context.Context, taskID string) ([]*Audit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, action, actor, detail, created_at
		FROM task_audit WHERE task_id=? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []*Audit
	for rows.Next() {
		var a Audit
		if err := rows.Scan(&a.ID, &a.TaskID, &a.Action, &a.Actor, &a.Detail, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

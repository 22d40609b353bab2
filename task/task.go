// Package task defines the annotation task model and its persistence.
package task

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	// StatusPending tasks sit in the pool, claimable by any annotator.
	StatusPending Status = "pending"
	// StatusInProgress tasks are held by exactly one annotator.
	StatusInProgress Status = "in_progress"
	// StatusSubmitted tasks carry labels and await review.
	StatusSubmitted Status = "submitted"
	// StatusCompleted is the terminal state set by the closing reviewer.
	StatusCompleted Status = "completed"
	// StatusApproved is the terminal state set by a quality auditor's
	// secondary sign-off.
	StatusApproved Status = "approved"
	// StatusRejectedRequeued marks a task whose work was rejected and
	// superseded by a fresh child task. Kept for audit; never claimable.
	StatusRejectedRequeued Status = "rejected_requeued"
)

// Role identifies which side of the pipeline a work log belongs to.
type Role string

const (
	RoleAnnotator Role = "annotator"
	RoleReviewer  Role = "reviewer"
)

// WorkLog tracks one role's active time on a task and the pay accrued for
// it. TimeSpent and Earnings only ever grow while the role is active; the
// clock starts on the first transition into the active state and is cleared
// only when the task is forcibly returned to the pool.
type WorkLog struct {
	StartedAt *time.Time `json:"started_at,omitempty"`
	TimeSpent int64      `json:"time_spent"` // seconds
	Earnings  float64    `json:"earnings"`
}

// Task is one unit of assignable annotation work.
type Task struct {
	ID             string          `json:"id"`
	ProjectID      string          `json:"project_id"`
	Status         Status          `json:"status"`
	AssignedTo     string          `json:"assigned_to,omitempty"` // annotator holding the task
	ReviewedBy     string          `json:"reviewed_by,omitempty"`
	Annotator      WorkLog         `json:"annotator"`
	Reviewer       WorkLog         `json:"reviewer"`
	Payload        json.RawMessage `json:"payload,omitempty"` // opaque work content, owned by the UI
	Labels         json.RawMessage `json:"labels,omitempty"`  // opaque result, owned by the UI
	ReviewRating   int             `json:"review_rating,omitempty"`
	ReviewFeedback string          `json:"review_feedback,omitempty"`
	ParentTaskID   string          `json:"parent_task_id,omitempty"` // set on requeued successors
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// Work returns the work log for the given role. The accountant and the
// expiration policy are role-agnostic; this is the one place the parallel
// annotator/reviewer column pairs are resolved.
func (t *Task) Work(r Role) *WorkLog {
	if r == RoleReviewer {
		return &t.Reviewer
	}
	return &t.Annotator
}

// Terminal reports whether the task can no longer transition.
func (t *Task) Terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusApproved, StatusRejectedRequeued:
		return true
	}
	return false
}

// Package lifecycle implements the task state machine: claiming, progress
// accounting, review, rejection with requeue, and time-limit enforcement.
//
// Every transition goes through the store's Mutate primitive so its guard
// is evaluated at write time. The engine itself keeps no mutable state;
// concurrent calls race only at the store, where exactly one conditional
// write wins.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/labelpool/labelpool/pay"
	"github.com/labelpool/labelpool/project"
	"github.com/labelpool/labelpool/task"
)

// Clock supplies the current time. Swappable for deterministic tests.
type Clock func() time.Time

// Engine orchestrates task lifecycle transitions over a task store and a
// read-only project configuration source.
type Engine struct {
	tasks    task.Store
	projects project.Source
	clock    Clock
	log      *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New creates an Engine.
func New(tasks task.Store, projects project.Source, log *slog.Logger, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{tasks: tasks, projects: projects, clock: time.Now, log: log}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create adds a new pending task to a project's pool.
func (e *Engine) Create(ctx context.Context, projectID string, payload json.RawMessage) (*task.Task, error) {
	if _, err := e.projects.Get(ctx, projectID); err != nil {
		if errors.Is(err, project.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	t := &task.Task{ProjectID: projectID, Payload: payload}
	if _, err := e.tasks.Create(ctx, t); err != nil {
		return nil, storeErr(err)
	}
	e.audit(ctx, t.ID, "create", "", "")
	return t, nil
}

// Claim assigns a pending task to workerID and starts its clock. Exactly
// one of two racing claims succeeds; the loser gets ErrAlreadyClaimed.
func (e *Engine) Claim(ctx context.Context, id, workerID string) (*task.Task, error) {
	now := e.clock()
	t, err := e.tasks.Mutate(ctx, id, func(t *task.Task) (*task.Task, error) {
		if t.Status == task.StatusInProgress && t.AssignedTo != "" {
			return nil, ErrAlreadyClaimed
		}
		if t.Status != task.StatusPending {
			return nil, ErrInvalidTransition
		}
		if t.AssignedTo != "" {
			return nil, ErrAlreadyClaimed
		}
		t.AssignedTo = workerID
		t.Status = task.StatusInProgress
		if t.Annotator.StartedAt == nil {
			ts := now
			t.Annotator.StartedAt = &ts
		}
		return nil, nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	e.audit(ctx, id, "claim", workerID, "")
	return t, nil
}

// UpdateProgress records the annotator's latest reported total time and
// recomputes earnings. The reported total is authoritative, so duplicate
// calls are idempotent; a total below the stored value is rejected as
// ErrStaleUpdate.
func (e *Engine) UpdateProgress(ctx context.Context, id string, seconds int64) (*task.Task, error) {
	return e.updateWork(ctx, id, task.RoleAnnotator, seconds)
}

// UpdateReviewProgress is UpdateProgress for the reviewer's work log.
func (e *Engine) UpdateReviewProgress(ctx context.Context, id string, seconds int64) (*task.Task, error) {
	return e.updateWork(ctx, id, task.RoleReviewer, seconds)
}

func (e *Engine) updateWork(ctx context.Context, id string, role task.Role, seconds int64) (*task.Task, error) {
	rate, err := e.rateFor(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := e.tasks.Mutate(ctx, id, func(t *task.Task) (*task.Task, error) {
		switch role {
		case task.RoleAnnotator:
			if t.Status != task.StatusInProgress {
				return nil, ErrInvalidTransition
			}
		case task.RoleReviewer:
			if t.Status != task.StatusSubmitted || t.ReviewedBy == "" {
				return nil, ErrInvalidTransition
			}
		}
		w := t.Work(role)
		if seconds < w.TimeSpent {
			return nil, ErrStaleUpdate
		}
		w.TimeSpent = seconds
		w.Earnings = pay.Earnings(seconds, rate)
		return nil, nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return t, nil
}

// Submit finalizes the annotator's time and earnings, attaches the labels,
// and moves the task to submitted.
func (e *Engine) Submit(ctx context.Context, id string, labels json.RawMessage, seconds int64) (*task.Task, error) {
	rate, err := e.rateFor(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := e.tasks.Mutate(ctx, id, func(t *task.Task) (*task.Task, error) {
		if t.Status != task.StatusInProgress {
			return nil, ErrInvalidTransition
		}
		if seconds < t.Annotator.TimeSpent {
			return nil, ErrStaleUpdate
		}
		t.Annotator.TimeSpent = seconds
		t.Annotator.Earnings = pay.Earnings(seconds, rate)
		t.Labels = labels
		t.Status = task.StatusSubmitted
		return nil, nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	e.audit(ctx, id, "submit", t.AssignedTo, "")
	return t, nil
}

// StartReview attaches a reviewer to a submitted task and starts the
// reviewer's clock. A second reviewer gets ErrAlreadyClaimed.
func (e *Engine) StartReview(ctx context.Context, id, reviewerID string) (*task.Task, error) {
	now := e.clock()
	t, err := e.tasks.Mutate(ctx, id, func(t *task.Task) (*task.Task, error) {
		if t.Status != task.StatusSubmitted {
			return nil, ErrInvalidTransition
		}
		if t.ReviewedBy != "" && t.ReviewedBy != reviewerID {
			return nil, ErrAlreadyClaimed
		}
		t.ReviewedBy = reviewerID
		if t.Reviewer.StartedAt == nil {
			ts := now
			t.Reviewer.StartedAt = &ts
		}
		return nil, nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	e.audit(ctx, id, "start_review", reviewerID, "")
	return t, nil
}

// Approve is the closing review: it finalizes the reviewer's time and
// earnings, stores the final labels, rating and feedback, and completes
// the task.
func (e *Engine) Approve(ctx context.Context, id, reviewerID string, finalLabels json.RawMessage, rating int, seconds int64, feedback string) (*task.Task, error) {
	rate, err := e.rateFor(ctx, id)
	if err != nil {
		return nil, err
	}
	now := e.clock()
	t, err := e.tasks.Mutate(ctx, id, func(t *task.Task) (*task.Task, error) {
		if t.Status != task.StatusSubmitted {
			return nil, ErrInvalidTransition
		}
		if seconds < t.Reviewer.TimeSpent {
			return nil, ErrStaleUpdate
		}
		t.Reviewer.TimeSpent = seconds
		t.Reviewer.Earnings = pay.Earnings(seconds, rate)
		if finalLabels != nil {
			t.Labels = finalLabels
		}
		t.ReviewRating = rating
		t.ReviewFeedback = feedback
		t.ReviewedBy = reviewerID
		t.Status = task.StatusCompleted
		ts := now
		t.CompletedAt = &ts
		return nil, nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	e.audit(ctx, id, "approve", reviewerID, feedback)
	return t, nil
}

// Reject sends a submitted task back to the pool as a fresh child task.
// The original row moves to rejected_requeued and keeps the rejected
// labels, times and earnings for audit; the child carries the same payload
// with parent_task_id set, no labels, no owner and no start time.
func (e *Engine) Reject(ctx context.Context, id, reviewerID, feedback string) (orig, requeued *task.Task, err error) {
	var child *task.Task
	t, err := e.tasks.Mutate(ctx, id, func(t *task.Task) (*task.Task, error) {
		if t.Status != task.StatusSubmitted {
			return nil, ErrInvalidTransition
		}
		t.Status = task.StatusRejectedRequeued
		t.ReviewedBy = reviewerID
		t.ReviewFeedback = feedback
		child = &task.Task{
			ProjectID:    t.ProjectID,
			Payload:      t.Payload,
			ParentTaskID: t.ID,
		}
		return child, nil
	})
	if err != nil {
		return nil, nil, storeErr(err)
	}
	e.audit(ctx, id, "reject", reviewerID, feedback)
	e.audit(ctx, child.ID, "requeue", reviewerID, "requeued from "+id)
	return t, child, nil
}

// SubmitReviewerFeedback is the privileged secondary sign-off: it moves a
// submitted task to approved with only a rating and feedback. No time or
// earnings change. Authorization (auditor role) is enforced by the caller.
func (e *Engine) SubmitReviewerFeedback(ctx context.Context, id, auditorID string, rating int, feedback string) (*task.Task, error) {
	t, err := e.tasks.Mutate(ctx, id, func(t *task.Task) (*task.Task, error) {
		if t.Status != task.StatusSubmitted {
			return nil, ErrInvalidTransition
		}
		t.ReviewRating = rating
		t.ReviewFeedback = feedback
		t.Status = task.StatusApproved
		return nil, nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	e.audit(ctx, id, "signoff", auditorID, feedback)
	return t, nil
}

// Expire forcibly returns a hard-expired in-progress task to the pool.
// The staleness check runs inside the conditional write, so a submit that
// lands first wins and the expire fails harmlessly.
func (e *Engine) Expire(ctx context.Context, id string) (*task.Task, error) {
	t0, err := e.tasks.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	lim := e.limitsFor(ctx, t0.ProjectID)
	return e.expire(ctx, id, lim)
}

func (e *Engine) expire(ctx context.Context, id string, lim project.Limits) (*task.Task, error) {
	now := e.clock()
	var prev string
	t, err := e.tasks.Mutate(ctx, id, func(t *task.Task) (*task.Task, error) {
		if t.Status != task.StatusInProgress {
			return nil, ErrInvalidTransition
		}
		if Evaluate(t.Annotator.StartedAt, now, lim) != HardExpired {
			return nil, ErrNotExpired
		}
		prev = t.AssignedTo
		t.AssignedTo = ""
		t.Status = task.StatusPending
		// Reset the work log entirely: the next claim starts a fresh
		// clock, and its progress reports count from zero again.
		t.Annotator = task.WorkLog{}
		return nil, nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	e.audit(ctx, id, "expire", "", "reclaimed from "+prev)
	return t, nil
}

// Sweep reclaims every hard-expired in-progress task in a project and
// returns how many it reclaimed. Safe to run concurrently with itself and
// with worker activity; it is cheap enough to run on read paths.
func (e *Engine) Sweep(ctx context.Context, projectID string) (int, error) {
	lim := e.limitsFor(ctx, projectID)
	st := task.StatusInProgress
	tasks, err := e.tasks.List(ctx, task.Filter{ProjectID: projectID, Status: &st})
	if err != nil {
		return 0, storeErr(err)
	}

	now := e.clock()
	reclaimed, soft := 0, 0
	for _, t := range tasks {
		switch Evaluate(t.Annotator.StartedAt, now, lim) {
		case HardExpired:
			if _, err := e.expire(ctx, t.ID, lim); err != nil {
				// Lost the race to a submit or another sweep. Fine.
				if !errors.Is(err, ErrInvalidTransition) && !errors.Is(err, ErrNotExpired) {
					e.log.Warn("sweep: expire failed", "task", t.ID, "err", err)
				}
				continue
			}
			reclaimed++
		case SoftExpired:
			soft++
		}
	}
	if reclaimed > 0 || soft > 0 {
		e.log.Info("sweep finished", "project", projectID, "reclaimed", reclaimed, "soft_expired", soft)
	}
	return reclaimed, nil
}

// rateFor loads the task's project pay rate. A missing project or
// malformed rate degrades to 0; a worker is never blocked by bad config.
func (e *Engine) rateFor(ctx context.Context, taskID string) (float64, error) {
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return 0, storeErr(err)
	}
	return pay.ParseRate(e.projectFor(ctx, t.ProjectID).PayRate), nil
}

// limitsFor loads a project's time limits, degrading to "no limits" when
// the configuration is unavailable.
func (e *Engine) limitsFor(ctx context.Context, projectID string) project.Limits {
	return e.projectFor(ctx, projectID).Limits
}

func (e *Engine) projectFor(ctx context.Context, projectID string) *project.Project {
	p, err := e.projects.Get(ctx, projectID)
	if err != nil {
		e.log.Warn("project config unavailable, using defaults", "project", projectID, "err", err)
		return &project.Project{ID: projectID}
	}
	return p
}

// audit records a lifecycle action. Audit failures are logged, never
// surfaced: the transition already committed.
func (e *Engine) audit(ctx context.Context, taskID, action, actor, detail string) {
	err := e.tasks.AppendAudit(ctx, &task.Audit{
		TaskID:    taskID,
		Action:    action,
		Actor:     actor,
		Detail:    detail,
		CreatedAt: e.clock().UTC(),
	})
	if err != nil {
		e.log.Warn("audit append failed", "task", taskID, "action", action, "err", err)
	}
}

// storeErr passes guard sentinels and not-found through untouched and
// wraps everything else as a storage failure the caller may retry.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, task.ErrNotFound),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrAlreadyClaimed),
		errors.Is(err, ErrStaleUpdate),
		errors.Is(err, ErrNotExpired):
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

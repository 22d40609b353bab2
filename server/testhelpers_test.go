package server

import (
	"context"
	"io"
	"log/slog"

	"github.com/labelpool/labelpool/project"
	"github.com/labelpool/labelpool/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// noopTaskStore satisfies task.Store for tests.
type noopTaskStore struct{}

func (n *noopTaskStore) Create(_ context.Context, _ *task.Task) (string, error) {
	return "test-id", nil
}

func (n *noopTaskStore) Get(_ context.Context, _ string) (*task.Task, error) {
	return &task.Task{ID: "test-id"}, nil
}

func (n *noopTaskStore) Mutate(_ context.Context, _ string, _ task.MutateFunc) (*task.Task, error) {
	return &task.Task{ID: "test-id"}, nil
}

func (n *noopTaskStore) List(_ context.Context, _ task.Filter) ([]*task.Task, error) {
	return nil, nil
}

func (n *noopTaskStore) Delete(_ context.Context, _ string) error { return nil }

func (n *noopTaskStore) AppendAudit(_ context.Context, _ *task.Audit) error { return nil }

func (n *noopTaskStore) ListAudit(_ context.Context, _ string) ([]*task.Audit, error) {
	return nil, nil
}

// noopProjectStore satisfies project.Store for tests.
type noopProjectStore struct{}

func (n *noopProjectStore) Get(_ context.Context, _ string) (*project.Project, error) {
	return nil, project.ErrNotFound
}

func (n *noopProjectStore) Put(_ context.Context, _ *project.Project) error { return nil }

func (n *noopProjectStore) List(_ context.Context) ([]*project.Project, error) {
	return nil, nil
}

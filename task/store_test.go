package task

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/labelpool/labelpool/internal/sqlitedb"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	f, err := os.CreateTemp("", "labelpool-task-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	db, err := sqlitedb.Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	return store
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tk := &Task{
		ProjectID: "proj-1",
		Payload:   json.RawMessage(`{"image":"cat.png"}`),
	}
	id, err := store.Create(ctx, tk)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id == "" {
		t.Fatal("Create returned empty ID")
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, StatusPending)
	}
	if got.ProjectID != "proj-1" {
		t.Errorf("ProjectID = %q, want proj-1", got.ProjectID)
	}
	if string(got.Payload) != `{"image":"cat.png"}` {
		t.Errorf("Payload = %s, want original payload", got.Payload)
	}
	if got.Labels != nil {
		t.Errorf("Labels = %s, want nil", got.Labels)
	}
	if got.Annotator.StartedAt != nil {
		t.Error("Annotator.StartedAt set on a fresh task")
	}
}

func TestSQLiteStore_Get_NotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_Mutate_AppliesChanges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, &Task{ProjectID: "p"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := store.Mutate(ctx, id, func(tk *Task) (*Task, error) {
		tk.Status = StatusInProgress
		tk.AssignedTo = "worker-a"
		tk.Annotator.TimeSpent = 120
		tk.Annotator.Earnings = 0.5
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if updated.Status != StatusInProgress || updated.AssignedTo != "worker-a" {
		t.Errorf("returned task not updated: %+v", updated)
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusInProgress || got.AssignedTo != "worker-a" {
		t.Errorf("persisted task not updated: %+v", got)
	}
	if got.Annotator.TimeSpent != 120 || got.Annotator.Earnings != 0.5 {
		t.Errorf("work log not persisted: %+v", got.Annotator)
	}
}

func TestSQLiteStore_Mutate_GuardErrorLeavesRowUntouched(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, &Task{ProjectID: "p"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	guard := errors.New("guard says no")
	_, err = store.Mutate(ctx, id, func(tk *Task) (*Task, error) {
		tk.Status = StatusCompleted
		tk.AssignedTo = "should-not-persist"
		return nil, guard
	})
	if !errors.Is(err, guard) {
		t.Fatalf("Mutate = %v, want guard error surfaced verbatim", err)
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusPending || got.AssignedTo != "" {
		t.Errorf("row changed despite guard failure: %+v", got)
	}
}

func TestSQLiteStore_Mutate_SpawnsChildInSameTransaction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, &Task{ProjectID: "p", Payload: json.RawMessage(`{"n":1}`)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	child := &Task{ProjectID: "p", ParentTaskID: id, Payload: json.RawMessage(`{"n":1}`)}
	_, err = store.Mutate(ctx, id, func(tk *Task) (*Task, error) {
		tk.Status = StatusRejectedRequeued
		return child, nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if child.ID == "" {
		t.Fatal("child ID not assigned")
	}

	got, err := store.Get(ctx, child.ID)
	if err != nil {
		t.Fatalf("Get child: %v", err)
	}
	if got.ParentTaskID != id {
		t.Errorf("child ParentTaskID = %q, want %q", got.ParentTaskID, id)
	}
	if got.Status != StatusPending {
		t.Errorf("child Status = %q, want pending", got.Status)
	}
}

func TestSQLiteStore_Mutate_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Mutate(context.Background(), "ghost", func(tk *Task) (*Task, error) { return nil, nil })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Mutate missing = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_List(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := []*Task{
		{ProjectID: "a", Status: StatusPending},
		{ProjectID: "a", Status: StatusInProgress, AssignedTo: "w1"},
		{ProjectID: "b", Status: StatusInProgress, AssignedTo: "w1"},
	}
	for _, tk := range seed {
		if _, err := store.Create(ctx, tk); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	all, err := store.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("List all = %d tasks, want 3", len(all))
	}

	st := StatusInProgress
	inProgA, err := store.List(ctx, Filter{ProjectID: "a", Status: &st})
	if err != nil {
		t.Fatalf("List in_progress a: %v", err)
	}
	if len(inProgA) != 1 || inProgA[0].ProjectID != "a" {
		t.Errorf("List project+status = %v, want one project-a task", inProgA)
	}

	byWorker, err := store.List(ctx, Filter{AssignedTo: "w1"})
	if err != nil {
		t.Fatalf("List by worker: %v", err)
	}
	if len(byWorker) != 2 {
		t.Errorf("List by worker = %d, want 2", len(byWorker))
	}
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, &Task{ProjectID: "p"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get deleted = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete missing = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_Audit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, &Task{ProjectID: "p"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	entries := []*Audit{
		{TaskID: id, Action: "claim", Actor: "w1"},
		{TaskID: id, Action: "reject", Actor: "rev1", Detail: "incomplete"},
	}
	for _, a := range entries {
		if err := store.AppendAudit(ctx, a); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	got, err := store.ListAudit(ctx, id)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListAudit = %d entries, want 2", len(got))
	}
	if got[0].Action != "claim" || got[1].Detail != "incomplete" {
		t.Errorf("audit order/content wrong: %+v %+v", got[0], got[1])
	}

	other, err := store.ListAudit(ctx, "other-task")
	if err != nil {
		t.Fatalf("ListAudit other: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("ListAudit other = %d entries, want 0", len(other))
	}
}

// Package api implements the REST handlers for the Labelpool server.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/text/language"

	"github.com/labelpool/labelpool/lifecycle"
	"github.com/labelpool/labelpool/pay"
	"github.com/labelpool/labelpool/project"
	"github.com/labelpool/labelpool/task"
)

// Caller roles. Every authenticated user carries exactly one.
const (
	RoleAdmin     = "admin"
	RoleAnnotator = "annotator"
	RoleReviewer  = "reviewer"
	RoleAuditor   = "auditor"
)

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Engine   *lifecycle.Engine
	Tasks    task.Store
	Projects project.Store
	Cache    *project.Cache // nil when caching is disabled
	Logger   *slog.Logger
	Version  string
	StartAt  int64 // unix timestamp of server start
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tasks", h.listTasks)
	mux.HandleFunc("POST /api/tasks", h.createTask)
	mux.HandleFunc("GET /api/tasks/{id}", h.getTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", h.deleteTask)
	mux.HandleFunc("GET /api/tasks/{id}/audit", h.taskAudit)

	mux.HandleFunc("POST /api/tasks/{id}/claim", h.claimTask)
	mux.HandleFunc("POST /api/tasks/{id}/progress", h.taskProgress)
	mux.HandleFunc("POST /api/tasks/{id}/submit", h.submitTask)
	mux.HandleFunc("POST /api/tasks/{id}/review/start", h.startReview)
	mux.HandleFunc("POST /api/tasks/{id}/review/progress", h.reviewProgress)
	mux.HandleFunc("POST /api/tasks/{id}/approve", h.approveTask)
	mux.HandleFunc("POST /api/tasks/{id}/reject", h.rejectTask)
	mux.HandleFunc("POST /api/tasks/{id}/signoff", h.signoffTask)

	mux.HandleFunc("GET /api/projects", h.listProjects)
	mux.HandleFunc("POST /api/projects", h.putProject)
	mux.HandleFunc("GET /api/projects/{id}", h.getProject)
	mux.HandleFunc("GET /api/projects/{id}/tasks", h.projectTasks)
	mux.HandleFunc("POST /api/projects/{id}/sweep", h.sweepProject)

	mux.HandleFunc("GET /api/version", h.version)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeLifecycleError maps domain errors onto HTTP status codes.
func writeLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound), errors.Is(err, project.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lifecycle.ErrAlreadyClaimed),
		errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrNotExpired):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, lifecycle.ErrStaleUpdate):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, lifecycle.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// allow checks the caller's role against the allowed set. Admin always
// passes. Writes 403 and returns false on failure.
func (h *Handlers) allow(w http.ResponseWriter, r *http.Request, roles ...string) bool {
	role := Role(r.Context())
	if role == RoleAdmin {
		return true
	}
	for _, allowed := range roles {
		if role == allowed {
			return true
		}
	}
	writeError(w, http.StatusForbidden, "insufficient role")
	return false
}

// --- Task handlers ---

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := task.Filter{}

	if s := q.Get("status"); s != "" {
		st := task.Status(s)
		filter.Status = &st
	}
	if a := q.Get("assigned_to"); a != "" {
		filter.AssignedTo = a
	}
	if p := q.Get("project_id"); p != "" {
		filter.ProjectID = p
	}
	if p := q.Get("parent_task_id"); p != "" {
		filter.ParentTaskID = p
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			filter.Limit = n
		}
	}
	if o := q.Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil {
			filter.Offset = n
		}
	}

	tasks, err := h.Tasks.List(r.Context(), filter)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handlers) createTask(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	var req struct {
		ProjectID string          `json:"project_id"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}
	t, err := h.Engine.Create(r.Context(), req.ProjectID, req.Payload)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) deleteTask(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	if err := h.Tasks.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeLifecycleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) taskAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Tasks.ListAudit(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	if entries == nil {
		entries = []*task.Audit{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Lifecycle handlers ---

func (h *Handlers) claimTask(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, RoleAnnotator) {
		return
	}
	t, err := h.Engine.Claim(r.Context(), r.PathValue("id"), Subject(r.Context()))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type progressRequest struct {
	Seconds int64 `json:"seconds"`
}

func (h *Handlers) taskProgress(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, RoleAnnotator) {
		return
	}
	var req progressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	t, err := h.Engine.UpdateProgress(r.Context(), r.PathValue("id"), req.Seconds)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) submitTask(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, RoleAnnotator) {
		return
	}
	var req struct {
		Labels  json.RawMessage `json:"labels"`
		Seconds int64           `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	t, err := h.Engine.Submit(r.Context(), r.PathValue("id"), req.Labels, req.Seconds)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) startReview(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, RoleReviewer) {
		return
	}
	t, err := h.Engine.StartReview(r.Context(), r.PathValue("id"), Subject(r.Context()))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) reviewProgress(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, RoleReviewer) {
		return
	}
	var req progressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	t, err := h.Engine.UpdateReviewProgress(r.Context(), r.PathValue("id"), req.Seconds)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) approveTask(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, RoleReviewer) {
		return
	}
	var req struct {
		Labels   json.RawMessage `json:"labels"`
		Rating   int             `json:"rating"`
		Seconds  int64           `json:"seconds"`
		Feedback string          `json:"feedback"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	t, err := h.Engine.Approve(r.Context(), r.PathValue("id"), Subject(r.Context()), req.Labels, req.Rating, req.Seconds, req.Feedback)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) rejectTask(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, RoleReviewer) {
		return
	}
	var req struct {
		Feedback string `json:"feedback"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	orig, requeued, err := h.Engine.Reject(r.Context(), r.PathValue("id"), Subject(r.Context()), req.Feedback)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*task.Task{
		"rejected": orig,
		"requeued": requeued,
	})
}

func (h *Handlers) signoffTask(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, RoleAuditor) {
		return
	}
	var req struct {
		Rating   int    `json:"rating"`
		Feedback string `json:"feedback"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	t, err := h.Engine.SubmitReviewerFeedback(r.Context(), r.PathValue("id"), Subject(r.Context()), req.Rating, req.Feedback)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// --- Project handlers ---

func (h *Handlers) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Projects.List(r.Context())
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	if projects == nil {
		projects = []*project.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *Handlers) putProject(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	var p project.Project
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.Projects.Put(r.Context(), &p); err != nil {
		writeLifecycleError(w, err)
		return
	}
	if h.Cache != nil {
		h.Cache.Invalidate(r.Context(), p.ID)
	}
	writeJSON(w, http.StatusCreated, &p)
}

func (h *Handlers) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.Projects.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// taskView decorates a task with derived, read-only fields: the staleness
// of in-progress work and locale-formatted earnings.
type taskView struct {
	*task.Task
	Staleness    string `json:"staleness,omitempty"`
	AnnotatorPay string `json:"annotator_pay"`
	ReviewerPay  string `json:"reviewer_pay"`
}

// projectTasks lists a project's tasks. Hard-expired tasks are reclaimed
// before listing, so readers never see work that should be back in the
// pool.
func (h *Handlers) projectTasks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := h.Projects.Get(r.Context(), id)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}

	if _, err := h.Engine.Sweep(r.Context(), id); err != nil {
		h.Logger.Warn("sweep on read failed", "project", id, "err", err)
	}

	filter := task.Filter{ProjectID: id}
	if s := r.URL.Query().Get("status"); s != "" {
		st := task.Status(s)
		filter.Status = &st
	}
	tasks, err := h.Tasks.List(r.Context(), filter)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}

	now := time.Now()
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		v := taskView{
			Task:         t,
			AnnotatorPay: pay.Format(t.Annotator.Earnings, language.English),
			ReviewerPay:  pay.Format(t.Reviewer.Earnings, language.English),
		}
		if t.Status == task.StatusInProgress {
			v.Staleness = lifecycle.Evaluate(t.Annotator.StartedAt, now, p.Limits).String()
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handlers) sweepProject(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	reclaimed, err := h.Engine.Sweep(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reclaimed": reclaimed})
}

// --- Status / version ---

func (h *Handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.Version,
	})
}

// StatusHandler returns the status handler function for external registration.
func (h *Handlers) StatusHandler() http.HandlerFunc {
	return h.status
}

func (h *Handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
	})
}

package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nuid"
	"github.com/taskmirror/project/internal/app/stream"
	"github.com/taskmirror/project/internal/contracts"
	"github.com/taskmirror/project/internal/notify"
	"github.com/taskmirror/project/internal/platform/auth"
)

type claimsKey struct{}

const defaultListLimit = 100

// Handler serves the task CRUD API. Every route requires a bearer token; the
// authenticated subject is the task owner for all operations.
type Handler struct {
	Store   Store
	Auth    auth.Manager
	Streams *stream.Registry
	Notify  *notify.Dispatcher
	Now     func() time.Time
	NewID   func() string
}

func NewHandler(store Store, manager auth.Manager, streams *stream.Registry, notifier *notify.Dispatcher) *Handler {
	return &Handler{
		Store:   store,
		Auth:    manager,
		Streams: streams,
		Notify:  notifier,
		Now:     func() time.Time { return time.Now().UTC() },
		NewID:   nuid.Next,
	}
}

// Router serves the task endpoints, mounted under /api/v1/tasks.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.requireAuth)
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{taskID}", h.handleGet)
	r.Patch("/{taskID}", h.handleUpdate)
	r.Delete("/{taskID}", h.handleDelete)
	return r
}

func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.Auth.Parse(token)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFrom(ctx context.Context) (auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(auth.Claims)
	return claims, ok
}

type createTaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	Label       string     `json:"label"`
	Deadline    *time.Time `json:"deadline"`
}

type updateTaskRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Status      *Status    `json:"status"`
	Priority    *Priority  `json:"priority"`
	Label       *string    `json:"label"`
	Deadline    *time.Time `json:"deadline"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	list, err := h.Store.ListForOwner(r.Context(), claims.Subject, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if list == nil {
		list = []Task{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"tasks": list, "count": len(list)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}
	task, err := h.Store.FindByID(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	if task.OwnerID != claims.Subject {
		h.writeError(w, http.StatusNotFound, ErrTaskNotFound.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, task)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.Title == "" {
		h.writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Status == "" {
		req.Status = StatusOpen
	}
	if req.Priority == "" {
		req.Priority = PriorityP2
	}
	if !ValidStatus(req.Status) {
		h.writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	if !ValidPriority(req.Priority) {
		h.writeError(w, http.StatusBadRequest, "unknown priority")
		return
	}

	now := h.Now()
	task := Task{
		ID:          h.NewID(),
		OwnerID:     claims.Subject,
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		Label:       req.Label,
		Deadline:    req.Deadline,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.Store.Create(r.Context(), task); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}
	h.broadcast(claims, task, "task_updated", contracts.EventTaskCreated)
	h.writeJSON(w, http.StatusCreated, task)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}
	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	task, err := h.Store.FindByID(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	if task.OwnerID != claims.Subject {
		h.writeError(w, http.StatusNotFound, ErrTaskNotFound.Error())
		return
	}

	if req.Title != nil {
		if *req.Title == "" {
			h.writeError(w, http.StatusBadRequest, "title must not be empty")
			return
		}
		task.Title = *req.Title
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.Status != nil {
		if !ValidStatus(*req.Status) {
			h.writeError(w, http.StatusBadRequest, "unknown status")
			return
		}
		task.Status = *req.Status
	}
	if req.Priority != nil {
		if !ValidPriority(*req.Priority) {
			h.writeError(w, http.StatusBadRequest, "unknown priority")
			return
		}
		task.Priority = *req.Priority
	}
	if req.Label != nil {
		task.Label = *req.Label
	}
	if req.Deadline != nil {
		task.Deadline = req.Deadline
	}
	task.UpdatedAt = h.Now()

	if err := h.Store.Update(r.Context(), task); err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to update task")
		return
	}
	h.broadcast(claims, task, "task_updated", contracts.EventTaskUpdated)
	h.writeJSON(w, http.StatusOK, task)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}
	taskID := chi.URLParam(r, "taskID")
	task, err := h.Store.FindByID(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	if task.OwnerID != claims.Subject {
		h.writeError(w, http.StatusNotFound, ErrTaskNotFound.Error())
		return
	}
	if err := h.Store.Delete(r.Context(), claims.Subject, taskID); err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to delete task")
		return
	}
	h.broadcast(claims, task, "task_deleted", contracts.EventTaskDeleted)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) broadcast(claims auth.Claims, task Task, streamType, event string) {
	if h.Streams != nil {
		h.Streams.Publish(claims.Subject, stream.Message{
			Type:      streamType,
			Task:      task,
			Event:     event,
			Timestamp: h.Now(),
		})
	}
	h.Notify.Dispatch(contracts.TaskEvent{
		Event:       event,
		TaskID:      task.ID,
		OwnerID:     claims.Subject,
		OwnerEmail:  claims.Email,
		Title:       task.Title,
		Description: task.Description,
		Status:      string(task.Status),
		Priority:    string(task.Priority),
		Label:       task.Label,
		Deadline:    task.Deadline,
		ExternalID:  task.ExternalID,
		OccurredAt:  h.Now(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

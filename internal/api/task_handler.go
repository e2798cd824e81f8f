package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/lottery-keeper/internal/api/middleware"
	"github.com/phrazzld/lottery-keeper/internal/api/shared"
	"github.com/phrazzld/lottery-keeper/internal/platform/logger"
	"github.com/phrazzld/lottery-keeper/internal/redact"
	"github.com/phrazzld/lottery-keeper/internal/service/auth"
	"github.com/phrazzld/lottery-keeper/internal/task"
)

// TaskService is the part of task.Service the HTTP layer calls.
type TaskService interface {
	Enqueue(ctx context.Context, action task.Action, params json.RawMessage) (*task.Task, error)
	Status(ctx context.Context, id uuid.UUID) (*task.Task, error)
	Debug(ctx context.Context, id uuid.UUID) (*task.Diagnostic, error)
	ForceProcess(ctx context.Context, id uuid.UUID) error
	Reset(ctx context.Context, id uuid.UUID) error
}

var _ TaskService = (*task.Service)(nil)

// EnqueueRequest is the body of POST /api/task.
type EnqueueRequest struct {
	Action string          `json:"action" validate:"required"`
	Params json.RawMessage `json:"params" validate:"required"`
}

// EnqueueResponse is returned for an accepted task. Task is set only when
// the task was processed inline.
type EnqueueResponse struct {
	Success bool       `json:"success"`
	TaskID  uuid.UUID  `json:"taskId"`
	Task    *task.Task `json:"task,omitempty"`
}

// TaskResponse carries one task.
type TaskResponse struct {
	Success bool       `json:"success"`
	Task    *task.Task `json:"task"`
}

// DiagnosticResponse carries a task diagnostic.
type DiagnosticResponse struct {
	Success    bool             `json:"success"`
	Diagnostic *task.Diagnostic `json:"diagnostic"`
}

// MessageResponse acknowledges an operator action.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// TaskHandler serves /api/task.
type TaskHandler struct {
	service TaskService
	logger  *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(service TaskService, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		service: service,
		logger:  logger.With("component", "task_handler"),
	}
}

// EnqueueTask handles POST /api/task.
func (h *TaskHandler) EnqueueTask(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest,
			"Missing 'action' or 'params' in request body", err)
		return
	}

	t, err := h.service.Enqueue(r.Context(), task.Action(req.Action), req.Params)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	resp := EnqueueResponse{Success: true, TaskID: t.ID}
	if t.Status != task.StatusPending {
		resp.Task = t
	}
	shared.RespondWithJSON(w, r, http.StatusCreated, resp)
}

// GetTask handles GET /api/task. The debug, force and reset flags select
// operator actions and require an operator token.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	rawID := query.Get("taskId")
	if rawID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Missing 'taskId' in query parameters")
		return
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid 'taskId'", err)
		return
	}

	switch {
	case query.Get("debug") == "true":
		if !h.requireOperator(w, r) {
			return
		}
		diag, err := h.service.Debug(r.Context(), id)
		if err != nil {
			h.respondWithServiceError(w, r, err)
			return
		}
		shared.RespondWithJSON(w, r, http.StatusOK, DiagnosticResponse{Success: true, Diagnostic: diag})

	case query.Get("force") == "true":
		operator, ok := h.operator(w, r)
		if !ok {
			return
		}
		if err := h.service.ForceProcess(r.Context(), id); err != nil {
			h.respondWithServiceError(w, r, err)
			return
		}
		logger.FromContext(r.Context()).Info("task processing forced",
			slog.String("task_id", id.String()),
			slog.String("operator", operator))
		shared.RespondWithJSON(w, r, http.StatusOK, MessageResponse{Success: true, Message: "Task processing forced"})

	case query.Get("reset") == "true":
		operator, ok := h.operator(w, r)
		if !ok {
			return
		}
		if err := h.service.Reset(r.Context(), id); err != nil {
			h.respondWithServiceError(w, r, err)
			return
		}
		logger.FromContext(r.Context()).Info("task reset",
			slog.String("task_id", id.String()),
			slog.String("operator", operator))
		shared.RespondWithJSON(w, r, http.StatusOK, MessageResponse{Success: true, Message: "Task reset to pending"})

	default:
		t, err := h.service.Status(r.Context(), id)
		if err != nil {
			h.respondWithServiceError(w, r, err)
			return
		}
		shared.RespondWithJSON(w, r, http.StatusOK, TaskResponse{Success: true, Task: t})
	}
}

func (h *TaskHandler) requireOperator(w http.ResponseWriter, r *http.Request) bool {
	_, ok := h.operator(w, r)
	return ok
}

func (h *TaskHandler) operator(w http.ResponseWriter, r *http.Request) (string, bool) {
	operator, ok := middleware.GetOperator(r)
	if !ok {
		shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized,
			GetSafeErrorMessage(auth.ErrMissingToken), auth.ErrMissingToken)
		return "", false
	}
	return operator, true
}

func (h *TaskHandler) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := MapErrorToStatusCode(err)
	if status == http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		h.logger.ErrorContext(r.Context(), "task request failed",
			slog.String("path", r.URL.Path),
			redact.ErrorAttr(err))
	}
	shared.RespondWithErrorAndLog(w, r, status, GetSafeErrorMessage(err), err)
}

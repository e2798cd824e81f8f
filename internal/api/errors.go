package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/phrazzld/lottery-keeper/internal/confirm"
	"github.com/phrazzld/lottery-keeper/internal/ledger"
	"github.com/phrazzld/lottery-keeper/internal/service/auth"
	"github.com/phrazzld/lottery-keeper/internal/store"
	"github.com/phrazzld/lottery-keeper/internal/task"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal error types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrWrongRole):
		return http.StatusUnauthorized

	case errors.Is(err, task.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, ledger.ErrInvalidKey):
		return http.StatusBadRequest

	case errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, ledger.ErrLotteryNotFound):
		return http.StatusNotFound

	// ErrTaskNotClaimable wraps ErrInvalidTransition
	case errors.Is(err, store.ErrDuplicateTask),
		errors.Is(err, task.ErrTaskInProgress),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, ledger.ErrInvalidLotteryState):
		return http.StatusConflict

	case errors.Is(err, confirm.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-facing message for err.
// Validation errors keep their detail after the sentinel prefix because that
// detail only ever describes the request.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token expired"
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrWrongRole):
		return "Invalid token"
	case errors.Is(err, auth.ErrMissingToken):
		return "Operator authorization required"

	case errors.Is(err, task.ErrUnsupportedAction):
		return "Unsupported task action"
	case errors.Is(err, task.ErrValidation):
		return validationDetail(err)

	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, ledger.ErrLotteryNotFound):
		return "Lottery not found"

	case errors.Is(err, store.ErrDuplicateTask):
		return "A task for this lottery is already pending or in progress"
	case errors.Is(err, task.ErrTaskInProgress):
		return "Task is already in progress"
	case errors.Is(err, store.ErrInvalidTransition):
		return "Task is not in a state that allows this operation"
	case errors.Is(err, ledger.ErrInvalidLotteryState):
		return "Lottery is not eligible for winner selection"

	case errors.Is(err, confirm.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return "The operation timed out"

	default:
		return "An unexpected error occurred"
	}
}

func validationDetail(err error) string {
	msg := err.Error()
	prefix := task.ErrValidation.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		if detail := msg[i+len(prefix):]; detail != "" {
			return "Validation error: " + detail
		}
	}
	return "Validation error"
}

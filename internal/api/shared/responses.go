package shared

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/phrazzld/lottery-keeper/internal/platform/logger"
	"github.com/phrazzld/lottery-keeper/internal/redact"
)

// ErrorResponse is the body of every non-2xx response. Code is only used
// for logging.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    int    `json:"-"`
	TraceID string `json:"trace_id,omitempty"`
}

// ResponseOption customizes how an error response is logged.
type ResponseOption func(*responseOptions)

type responseOptions struct {
	elevate bool
}

// WithElevatedLogLevel logs a 4xx response at WARN instead of DEBUG. Auth
// failures use it so repeated bad tokens show up in production logs.
func WithElevatedLogLevel() ResponseOption {
	return func(o *responseOptions) { o.elevate = true }
}

func (o responseOptions) level(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case o.elevate && status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}

// RespondWithJSON encodes data as the response body.
func RespondWithJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.FromContext(r.Context()).WarnContext(r.Context(), "failed to encode JSON response",
			redact.ErrorAttr(err))
	}
}

// RespondWithError writes an error body for a failure with no underlying
// error worth logging, such as a missing query parameter.
func RespondWithError(w http.ResponseWriter, r *http.Request, status int, message string) {
	RespondWithErrorAndLog(w, r, status, message, nil)
}

// RespondWithErrorAndLog writes userMessage to the client and logs err in
// redacted form. The raw error never reaches the response body.
func RespondWithErrorAndLog(
	w http.ResponseWriter,
	r *http.Request,
	status int,
	userMessage string,
	err error,
	opts ...ResponseOption,
) {
	var o responseOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx := r.Context()
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status_code", status),
		slog.String("user_message", userMessage),
	}
	if err != nil {
		attrs = append(attrs, redact.ErrorAttr(err), slog.String("error_type", fmt.Sprintf("%T", err)))
	}
	logger.FromContext(ctx).LogAttrs(ctx, o.level(status), "sending error response", attrs...)

	RespondWithJSON(w, r, status, ErrorResponse{
		Error:   userMessage,
		Code:    status,
		TraceID: GetTraceID(ctx),
	})
}

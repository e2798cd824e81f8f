package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/phrazzld/lottery-keeper/internal/api/shared"
	"github.com/phrazzld/lottery-keeper/internal/task"
)

// Sweeper enqueues winner selection for lotteries that have ended.
type Sweeper interface {
	EnqueueEndedLotteries(ctx context.Context) (*task.SweepResult, error)
}

// SweepResponse is the body returned by the cron route.
type SweepResponse struct {
	Success bool              `json:"success"`
	Result  *task.SweepResult `json:"result"`
}

// CronHandler serves the scheduled-trigger route.
type CronHandler struct {
	sweeper Sweeper
	logger  *slog.Logger
}

// NewCronHandler creates a CronHandler.
func NewCronHandler(sweeper Sweeper, logger *slog.Logger) *CronHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CronHandler{sweeper: sweeper, logger: logger.With("component", "cron_handler")}
}

// SweepEndedLotteries handles GET /api/cron.
func (h *CronHandler) SweepEndedLotteries(w http.ResponseWriter, r *http.Request) {
	result, err := h.sweeper.EnqueueEndedLotteries(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	h.logger.InfoContext(r.Context(), "cron sweep completed",
		slog.Int("enqueued", len(result.Enqueued)),
		slog.Int("errors", len(result.Errors)))
	shared.RespondWithJSON(w, r, http.StatusOK, SweepResponse{Success: true, Result: result})
}

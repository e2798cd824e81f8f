package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/lottery-keeper/internal/mocks"
	"github.com/phrazzld/lottery-keeper/internal/task"
	"github.com/stretchr/testify/assert"
)

func TestCronHandler(t *testing.T) {
	t.Run("reports sweep result", func(t *testing.T) {
		h := NewCronHandler(&mocks.MockTaskService{
			SweepFn: func(context.Context) (*task.SweepResult, error) {
				return &task.SweepResult{Checked: 4, Eligible: 2, Enqueued: []uuid.UUID{uuid.New()}, Skipped: 1}, nil
			},
		}, nil)

		rec := httptest.NewRecorder()
		h.SweepEndedLotteries(rec, httptest.NewRequest(http.MethodGet, "/api/cron", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		result := body["result"].(map[string]any)
		assert.EqualValues(t, 4, result["checked"])
		assert.EqualValues(t, 1, result["skipped"])
		assert.Len(t, result["enqueued"], 1)
	})

	t.Run("ledger failure", func(t *testing.T) {
		h := NewCronHandler(&mocks.MockTaskService{
			SweepFn: func(context.Context) (*task.SweepResult, error) {
				return nil, errors.New("failed to list lotteries: gateway down")
			},
		}, nil)

		rec := httptest.NewRecorder()
		h.SweepEndedLotteries(rec, httptest.NewRequest(http.MethodGet, "/api/cron", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "An unexpected error occurred", decodeBody(t, rec)["error"])
	})
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

type runningFlag bool

func (r runningFlag) Running() bool { return bool(r) }

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(pingFunc(func(context.Context) error { return nil }), runningFlag(true)).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["scheduler"])

	rec = httptest.NewRecorder()
	NewHealthHandler(pingFunc(func(context.Context) error { return errors.New("down") }), nil).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

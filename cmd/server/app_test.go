package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/phrazzld/lottery-keeper/internal/config"
	"github.com/phrazzld/lottery-keeper/internal/ledger"
	"github.com/phrazzld/lottery-keeper/internal/ledger/memledger"
	"github.com/phrazzld/lottery-keeper/internal/service/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, LogLevel: "debug"},
		Store:  config.StoreConfig{Driver: "memory"},
		Task: config.TaskConfig{
			TickInterval:       time.Hour,
			ConfirmAttempts:    3,
			ConfirmInterval:    time.Millisecond,
			StaleTaskAge:       30 * time.Minute,
			StaleCheckInterval: 5 * time.Minute,
		},
		Ledger: config.LedgerConfig{Mode: "simulated", Timeout: time.Second},
		Auth: config.AuthConfig{
			JWTSecret:            "0123456789abcdef0123456789abcdef",
			TokenLifetimeMinutes: 60,
		},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) (*application, http.Handler) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := newApplication(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { app.cleanup(context.Background()) })
	return app, app.setupRouter()
}

func do(t *testing.T, h http.Handler, method, target, body, authorization string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	return rec.Code, decoded
}

func TestApplication_TaskLifecycleOverHTTP(t *testing.T) {
	app, router := newTestApp(t, testConfig())
	ml, ok := app.ledger.(*memledger.Ledger)
	require.True(t, ok)
	ml.AddLottery(ledger.Lottery{
		ID:           "L1",
		Admin:        "admin",
		Participants: []string{"alice", "bob"},
		EndTime:      time.Now().Add(-time.Minute),
	})

	status, body := do(t, router, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, body = do(t, router, http.MethodPost, "/api/task", `{"action":"selectWinner"}`, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])

	status, body = do(t, router, http.MethodPost, "/api/task",
		`{"action":"selectWinner","params":{"lotteryId":"L1"}}`, "")
	require.Equal(t, http.StatusCreated, status)
	taskID, _ := body["taskId"].(string)
	require.NotEmpty(t, taskID)

	status, _ = do(t, router, http.MethodPost, "/api/task",
		`{"action":"selectWinner","params":{"lotteryId":"L1"}}`, "")
	assert.Equal(t, http.StatusConflict, status)

	status, _ = do(t, router, http.MethodGet, "/api/task?taskId="+taskID+"&debug=true", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = do(t, router, http.MethodGet, "/api/task?taskId="+taskID+"&debug=true", "", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, status)

	token, err := app.jwtService.GenerateToken(context.Background(), "alice")
	require.NoError(t, err)
	status, body = do(t, router, http.MethodGet, "/api/task?taskId="+taskID+"&debug=true", "", "Bearer "+token)
	require.Equal(t, http.StatusOK, status)
	diag := body["diagnostic"].(map[string]any)
	assert.EqualValues(t, 1, diag["pendingCount"])

	require.True(t, app.scheduler.Tick(context.Background()))

	status, body = do(t, router, http.MethodGet, "/api/task?taskId="+taskID, "", "")
	require.Equal(t, http.StatusOK, status)
	got := body["task"].(map[string]any)
	assert.Equal(t, "completed", got["status"])
	assert.NotEmpty(t, got["logs"])
}

func TestApplication_CronRoute(t *testing.T) {
	t.Run("disabled without a configured hash", func(t *testing.T) {
		_, router := newTestApp(t, testConfig())
		status, _ := do(t, router, http.MethodGet, "/api/cron", "", "Bearer anything")
		assert.Equal(t, http.StatusServiceUnavailable, status)
	})

	t.Run("sweeps with the shared secret", func(t *testing.T) {
		cfg := testConfig()
		hash, err := auth.HashSecret("cron-secret", bcrypt.MinCost)
		require.NoError(t, err)
		cfg.Auth.CronSecretHash = hash

		app, router := newTestApp(t, cfg)
		app.ledger.(*memledger.Ledger).AddLottery(ledger.Lottery{
			ID:           "L2",
			Admin:        "admin",
			Participants: []string{"carol"},
			EndTime:      time.Now().Add(-time.Minute),
		})

		status, _ := do(t, router, http.MethodGet, "/api/cron", "", "Bearer wrong")
		assert.Equal(t, http.StatusUnauthorized, status)

		status, body := do(t, router, http.MethodGet, "/api/cron", "", "Bearer cron-secret")
		require.Equal(t, http.StatusOK, status)
		result := body["result"].(map[string]any)
		assert.Len(t, result["enqueued"], 1)
	})
}

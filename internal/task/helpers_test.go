package task

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/phrazzld/lottery-keeper/internal/events"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func selectWinnerParams(t *testing.T, lotteryID, requester string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(SelectWinnerParams{LotteryID: lotteryID, Requester: requester})
	require.NoError(t, err)
	return raw
}

// newPendingTask builds a selectWinner task ready for Insert.
func newPendingTask(t *testing.T, lotteryID string) *Task {
	t.Helper()
	return NewTask(ActionSelectWinner, selectWinnerParams(t, lotteryID, ""), DedupKey(ActionSelectWinner, "", lotteryID))
}

// recordingEmitter keeps every emitted event.
type recordingEmitter struct {
	mu     sync.Mutex
	events []*events.TaskEvent
}

func (e *recordingEmitter) EmitEvent(ctx context.Context, event *events.TaskEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *recordingEmitter) Types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

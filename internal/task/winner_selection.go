package task

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/phrazzld/lottery-keeper/internal/pipeline"
)

// WinnerSelectionRunner runs the winner-selection pipeline.
type WinnerSelectionRunner interface {
	Run(ctx context.Context, params pipeline.Params, rec pipeline.Recorder) (*pipeline.Result, error)
}

// NewWinnerSelectionHandler adapts the pipeline to the selectWinner action.
func NewWinnerSelectionHandler(runner WinnerSelectionRunner) Handler {
	return HandlerFunc(func(ctx context.Context, t *Task, rec Recorder) (any, error) {
		var params SelectWinnerParams
		if err := json.Unmarshal(t.Params, &params); err != nil {
			return nil, fmt.Errorf("%w: invalid params: %v", ErrValidation, err)
		}
		if params.LotteryID == "" {
			return nil, fmt.Errorf("%w: lottery ID is required", ErrValidation)
		}

		pipelineRec := pipeline.RecorderFunc(func(ctx context.Context, level pipeline.Level, message string, data map[string]any) {
			rec.Log(ctx, Level(level), message, data)
		})

		return runner.Run(ctx, pipeline.Params{
			LotteryID: params.LotteryID,
			Requester: params.Requester,
		}, pipelineRec)
	})
}

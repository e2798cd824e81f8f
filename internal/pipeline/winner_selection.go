package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/lottery-keeper/internal/ledger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Step names, in execution order.
const (
	StepFetchLottery     = "fetch_lottery"
	StepValidate         = "validate"
	StepCreateRandomness = "create_randomness"
	StepCommitRandomness = "commit_randomness"
	StepRevealAndSelect  = "reveal_and_select"
)

// Steps lists every step in execution order.
var Steps = []string{
	StepFetchLottery,
	StepValidate,
	StepCreateRandomness,
	StepCommitRandomness,
	StepRevealAndSelect,
}

const tracerName = "github.com/phrazzld/lottery-keeper/internal/pipeline"

// ErrInvalidParams is returned when the params lack a lottery id.
var ErrInvalidParams = errors.New("invalid winner selection params")

// Params are the inputs of a winner-selection run.
type Params struct {
	LotteryID string `json:"lotteryId" validate:"required"`
	Requester string `json:"requester,omitempty"`
}

// Result is the outcome of a successful run.
type Result struct {
	LotteryID         string `json:"lotteryId"`
	Winner            string `json:"winner,omitempty"`
	RandomnessAccount string `json:"randomnessAccount"`
	RandomnessSig     string `json:"randomnessSig"`
	CommitSig         string `json:"commitSig"`
	RevealSig         string `json:"revealSig"`
}

// StepError records which step failed.
type StepError struct {
	Step string
	Err  error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *StepError) Unwrap() error {
	return e.Err
}

// Confirmer waits for a submitted transaction to be confirmed.
type Confirmer interface {
	Confirm(ctx context.Context, sig ledger.Signature) error
}

// Deps are the collaborators of WinnerSelection.
type Deps struct {
	Program ledger.Program
	Oracle  ledger.Oracle
	Client  ledger.Client
	Poller  Confirmer
	// Now defaults to time.Now.
	Now func() time.Time
	// Tracer defaults to the global tracer provider.
	Tracer trace.Tracer
}

// WinnerSelection runs the commit-reveal winner-selection workflow.
type WinnerSelection struct {
	program ledger.Program
	oracle  ledger.Oracle
	client  ledger.Client
	poller  Confirmer
	now     func() time.Time
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewWinnerSelection creates the pipeline.
func NewWinnerSelection(deps Deps, logger *slog.Logger) (*WinnerSelection, error) {
	if deps.Program == nil || deps.Oracle == nil || deps.Client == nil || deps.Poller == nil {
		return nil, errors.New("winner selection requires program, oracle, client and poller")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WinnerSelection{
		program: deps.Program,
		oracle:  deps.Oracle,
		client:  deps.Client,
		poller:  deps.Poller,
		now:     deps.Now,
		tracer:  deps.Tracer,
		logger:  logger.With("component", "winner_selection"),
	}, nil
}

// run state shared between steps.
type runState struct {
	params     Params
	lottery    *ledger.Lottery
	queue      string
	commitment *ledger.Commitment
	result     Result
}

// Run executes every step in order. The returned error is a *StepError
// naming the failed step.
func (w *WinnerSelection) Run(ctx context.Context, params Params, rec Recorder) (*Result, error) {
	if params.LotteryID == "" {
		return nil, fmt.Errorf("%w: lottery ID is required", ErrInvalidParams)
	}
	if rec == nil {
		rec = Discard
	}

	ctx, span := w.tracer.Start(ctx, "pipeline.winner_selection",
		trace.WithAttributes(attribute.String("lottery.id", params.LotteryID)))
	defer span.End()

	st := &runState{
		params: params,
		result: Result{LotteryID: params.LotteryID},
	}

	steps := []struct {
		name string
		desc string
		fn   func(ctx context.Context, st *runState) (map[string]any, error)
	}{
		{StepFetchLottery, "Fetching lottery state", w.fetchLottery},
		{StepValidate, "Validating lottery eligibility", w.validate},
		{StepCreateRandomness, "Creating randomness commitment", w.createRandomness},
		{StepCommitRandomness, "Committing randomness", w.commitRandomness},
		{StepRevealAndSelect, "Revealing randomness and selecting winner", w.revealAndSelect},
	}

	for _, s := range steps {
		if err := w.runStep(ctx, rec, s.name, s.desc, st, s.fn); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	w.logger.InfoContext(ctx, "winner selection completed",
		slog.String("lottery_id", params.LotteryID),
		slog.String("winner", st.result.Winner),
		slog.String("reveal_sig", st.result.RevealSig))

	result := st.result
	return &result, nil
}

func (w *WinnerSelection) runStep(
	ctx context.Context,
	rec Recorder,
	name, desc string,
	st *runState,
	fn func(ctx context.Context, st *runState) (map[string]any, error),
) error {
	ctx, span := w.tracer.Start(ctx, "pipeline."+name,
		trace.WithAttributes(
			attribute.String("pipeline.step", name),
			attribute.String("lottery.id", st.params.LotteryID),
		))
	defer span.End()

	rec.Record(ctx, LevelInfo, desc, map[string]any{"step": name})

	data, err := fn(ctx, st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		rec.Record(ctx, LevelError, fmt.Sprintf("Step %s failed: %v", name, err), map[string]any{
			"step":  name,
			"error": err.Error(),
		})
		w.logger.WarnContext(ctx, "pipeline step failed",
			slog.String("step", name),
			slog.String("lottery_id", st.params.LotteryID),
			slog.String("error", err.Error()))
		return &StepError{Step: name, Err: err}
	}

	if data == nil {
		data = map[string]any{}
	}
	data["step"] = name
	rec.Record(ctx, LevelSuccess, fmt.Sprintf("Step %s completed", name), data)
	return nil
}

func (w *WinnerSelection) fetchLottery(ctx context.Context, st *runState) (map[string]any, error) {
	lottery, err := w.program.FetchLottery(ctx, st.params.LotteryID)
	if err != nil {
		return nil, err
	}
	st.lottery = lottery
	return map[string]any{
		"participants": len(lottery.Participants),
		"status":       string(lottery.EffectiveStatus(w.now())),
	}, nil
}

func (w *WinnerSelection) validate(ctx context.Context, st *runState) (map[string]any, error) {
	if err := st.lottery.CheckEligible(w.now()); err != nil {
		return nil, err
	}
	return map[string]any{"totalTickets": st.lottery.TotalTickets}, nil
}

func (w *WinnerSelection) createRandomness(ctx context.Context, st *runState) (map[string]any, error) {
	keypair, err := ledger.NewKeypair()
	if err != nil {
		return nil, err
	}

	queue, err := w.oracle.Queue(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load oracle queue: %w", err)
	}

	commitment, err := w.oracle.CreateCommitment(ctx, keypair, queue)
	if err != nil {
		return nil, fmt.Errorf("failed to build randomness commitment: %w", err)
	}

	sig, err := w.submitAndConfirm(ctx, commitment.Instructions, keypair)
	if err != nil {
		return nil, err
	}

	st.queue = queue
	st.commitment = commitment
	st.result.RandomnessAccount = commitment.Account
	st.result.RandomnessSig = sig.String()
	return map[string]any{
		"randomnessAccount": commitment.Account,
		"signature":         sig.String(),
	}, nil
}

func (w *WinnerSelection) commitRandomness(ctx context.Context, st *runState) (map[string]any, error) {
	ix, err := w.oracle.CommitInstruction(ctx, st.commitment.Account, st.queue)
	if err != nil {
		return nil, fmt.Errorf("failed to build commit instruction: %w", err)
	}

	sig, err := w.submitAndConfirm(ctx, []ledger.Instruction{ix})
	if err != nil {
		return nil, err
	}

	st.result.CommitSig = sig.String()
	return map[string]any{"signature": sig.String()}, nil
}

// revealAndSelect re-checks eligibility because time has passed since the
// validate step, then submits reveal and select-winner as one bundle so the
// revealed value cannot be observed before the winner is fixed.
func (w *WinnerSelection) revealAndSelect(ctx context.Context, st *runState) (map[string]any, error) {
	lottery, err := w.program.FetchLottery(ctx, st.params.LotteryID)
	if err != nil {
		return nil, err
	}
	if err := lottery.CheckEligible(w.now()); err != nil {
		return nil, err
	}

	reveal, err := w.oracle.RevealInstruction(ctx, st.commitment.Account)
	if err != nil {
		return nil, fmt.Errorf("failed to build reveal instruction: %w", err)
	}
	selectWinner, err := w.program.SelectWinnerInstruction(ctx, st.params.LotteryID, st.commitment.Account)
	if err != nil {
		return nil, fmt.Errorf("failed to build select winner instruction: %w", err)
	}

	sig, err := w.submitAndConfirm(ctx, []ledger.Instruction{reveal, selectWinner})
	if err != nil {
		return nil, err
	}
	st.result.RevealSig = sig.String()

	data := map[string]any{"signature": sig.String()}

	// The winner is informational; failing to read it back does not undo
	// a confirmed selection.
	if resolved, err := w.program.FetchLottery(ctx, st.params.LotteryID); err == nil {
		st.result.Winner = resolved.Winner
		data["winner"] = resolved.Winner
	} else {
		w.logger.WarnContext(ctx, "could not read back selected winner",
			slog.String("lottery_id", st.params.LotteryID),
			slog.String("error", err.Error()))
	}

	return data, nil
}

func (w *WinnerSelection) submitAndConfirm(ctx context.Context, ixs []ledger.Instruction, signers ...*ledger.Keypair) (ledger.Signature, error) {
	sig, err := w.client.Submit(ctx, ixs, signers...)
	if err != nil {
		return "", fmt.Errorf("failed to submit transaction: %w", err)
	}
	trace.SpanFromContext(ctx).AddEvent("submitted", trace.WithAttributes(attribute.String("signature", sig.String())))

	if err := w.poller.Confirm(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

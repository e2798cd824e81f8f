// Package confirm polls the ledger for the finalization state of submitted
// transactions under a bounded attempt budget.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/lottery-keeper/internal/ledger"
)

const (
	// DefaultMaxAttempts is the number of status queries before giving up.
	DefaultMaxAttempts = 10
	// DefaultInterval is the pause between status queries.
	DefaultInterval = 5 * time.Second
)

// ErrTimeout is returned when a transaction is not confirmed within the
// attempt budget. It is always wrapped in a *TimeoutError.
var ErrTimeout = errors.New("transaction confirmation timed out")

// TimeoutError carries the signature that failed to confirm.
type TimeoutError struct {
	Signature ledger.Signature
	Attempts  int
	// LastErr is the last status query error, if any.
	LastErr error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%v: %s not confirmed after %d attempts", ErrTimeout, e.Signature, e.Attempts)
	if e.LastErr != nil {
		msg += fmt.Sprintf(" (last error: %v)", e.LastErr)
	}
	return msg
}

// Unwrap allows errors.Is(err, ErrTimeout).
func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// StatusSource is the subset of ledger.Client the poller needs.
type StatusSource interface {
	SignatureStatus(ctx context.Context, sig ledger.Signature) (*ledger.SignatureStatus, error)
}

// Poller confirms transactions. It never resubmits; that decision belongs to
// the caller because resubmission is not always idempotent.
type Poller struct {
	source      StatusSource
	maxAttempts int
	interval    time.Duration
	logger      *slog.Logger
}

// NewPoller creates a poller. Non-positive values fall back to the defaults.
func NewPoller(source StatusSource, maxAttempts int, interval time.Duration, logger *slog.Logger) *Poller {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		source:      source,
		maxAttempts: maxAttempts,
		interval:    interval,
		logger:      logger.With("component", "confirmation_poller"),
	}
}

// MaxAttempts returns the configured attempt budget.
func (p *Poller) MaxAttempts() int { return p.maxAttempts }

// Confirm blocks until sig is confirmed or finalized, the ledger reports it
// failed, the attempt budget runs out, or ctx is done. Status query errors
// count as unconfirmed attempts.
func (p *Poller) Confirm(ctx context.Context, sig ledger.Signature) error {
	var lastErr error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		status, err := p.source.SignatureStatus(ctx, sig)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			p.logger.WarnContext(ctx, "signature status query failed",
				slog.String("signature", sig.String()),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		case status != nil && status.Err != "":
			return fmt.Errorf("%w: %s: %s", ledger.ErrTransactionFailed, sig, status.Err)
		case status.Confirmed():
			p.logger.DebugContext(ctx, "transaction confirmed",
				slog.String("signature", sig.String()),
				slog.Int("attempt", attempt),
				slog.String("status", string(status.Confirmation)))
			return nil
		default:
			p.logger.DebugContext(ctx, "transaction not yet confirmed",
				slog.String("signature", sig.String()),
				slog.Int("attempt", attempt))
		}

		if attempt == p.maxAttempts {
			break
		}

		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return &TimeoutError{Signature: sig, Attempts: p.maxAttempts, LastErr: lastErr}
}

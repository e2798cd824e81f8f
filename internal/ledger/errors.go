package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrLotteryNotFound is returned when the program has no lottery with the
	// requested identifier.
	ErrLotteryNotFound = errors.New("lottery not found")

	// ErrInvalidLotteryState is the parent of every eligibility failure.
	// These failures are not retryable.
	ErrInvalidLotteryState = errors.New("invalid lottery state")

	// ErrNoParticipants indicates the lottery has no tickets sold.
	ErrNoParticipants = fmt.Errorf("%w: no participants in the lottery", ErrInvalidLotteryState)

	// ErrWinnerAlreadySelected indicates the lottery is already resolved.
	ErrWinnerAlreadySelected = fmt.Errorf("%w: winner already selected", ErrInvalidLotteryState)

	// ErrLotteryNotEnded indicates the lottery end time has not passed yet.
	ErrLotteryNotEnded = fmt.Errorf("%w: lottery has not ended yet", ErrInvalidLotteryState)

	// ErrTransactionFailed is returned when the ledger reports that a submitted
	// transaction was executed and failed.
	ErrTransactionFailed = errors.New("transaction failed on ledger")

	// ErrInvalidKey is returned for malformed base58 keys.
	ErrInvalidKey = errors.New("invalid key")
)

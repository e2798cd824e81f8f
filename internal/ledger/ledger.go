package ledger

import (
	"context"
	"encoding/json"
)

// Signature identifies a submitted transaction.
type Signature string

// String implements fmt.Stringer.
func (s Signature) String() string { return string(s) }

// Instruction is one opaque program or oracle instruction. The orchestrator
// never interprets instruction contents; it only orders and bundles them.
type Instruction struct {
	Program  string          `json:"program"`
	Name     string          `json:"name"`
	Accounts []string        `json:"accounts,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// ConfirmationStatus is the commitment level the ledger reports for a
// transaction.
type ConfirmationStatus string

const (
	ConfirmationProcessed ConfirmationStatus = "processed"
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	ConfirmationFinalized ConfirmationStatus = "finalized"
)

// SignatureStatus reports what the ledger knows about a signature. A nil
// *SignatureStatus means the ledger has not seen it yet.
type SignatureStatus struct {
	Confirmation ConfirmationStatus `json:"confirmationStatus"`
	// Err is set when the transaction executed and failed.
	Err string `json:"err,omitempty"`
}

// Confirmed reports whether the status is at least confirmed.
func (s *SignatureStatus) Confirmed() bool {
	if s == nil {
		return false
	}
	return s.Confirmation == ConfirmationConfirmed || s.Confirmation == ConfirmationFinalized
}

// Commitment is a freshly created randomness account together with the
// instructions that create it on the ledger.
type Commitment struct {
	Account      string        `json:"account"`
	Instructions []Instruction `json:"instructions"`
}

// Program is the lottery program.
type Program interface {
	// FetchLottery returns ErrLotteryNotFound when no such lottery exists.
	FetchLottery(ctx context.Context, lotteryID string) (*Lottery, error)
	ListLotteries(ctx context.Context) ([]*Lottery, error)
	SelectWinnerInstruction(ctx context.Context, lotteryID, randomnessAccount string) (Instruction, error)
}

// Oracle is the commit-reveal randomness service.
type Oracle interface {
	Queue(ctx context.Context) (string, error)
	CreateCommitment(ctx context.Context, keypair *Keypair, queue string) (*Commitment, error)
	CommitInstruction(ctx context.Context, account, queue string) (Instruction, error)
	RevealInstruction(ctx context.Context, account string) (Instruction, error)
}

// Client submits instruction bundles as a single transaction and queries
// their status. Submit never waits for confirmation.
type Client interface {
	Submit(ctx context.Context, instructions []Instruction, signers ...*Keypair) (Signature, error)
	SignatureStatus(ctx context.Context, sig Signature) (*SignatureStatus, error)
}

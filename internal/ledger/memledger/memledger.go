// Package memledger is an in-process ledger implementing the program, oracle
// and client collaborators. It backs the simulated ledger mode and the
// end-to-end tests, and supports fault injection per instruction.
package memledger

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/phrazzld/lottery-keeper/internal/ledger"
)

// Instruction names understood by the simulator.
const (
	ProgramLottery = "lottery"
	ProgramOracle  = "randomness"

	InstrCreate       = "create"
	InstrCommit       = "commit"
	InstrReveal       = "reveal"
	InstrSelectWinner = "selectWinner"
)

// DefaultQueue is the oracle queue address the simulator hands out.
const DefaultQueue = "SimQueue1111111111111111111111111111111111"

// ConfirmMode controls how submitted transactions progress.
type ConfirmMode int

const (
	// ConfirmImmediately reports confirmed on the first status query after
	// ConfirmAfter queries have been made.
	ConfirmImmediately ConfirmMode = iota
	// ConfirmNever leaves every transaction at processed.
	ConfirmNever
)

type randomnessAccount struct {
	queue     string
	committed bool
	revealed  []byte
}

type transaction struct {
	instructions []ledger.Instruction
	queries      int
	err          string
}

// Ledger is a mutex-guarded simulated ledger.
type Ledger struct {
	mu sync.Mutex

	lotteries  map[string]*ledger.Lottery
	randomness map[string]*randomnessAccount
	txs        map[ledger.Signature]*transaction
	submitted  []ledger.Signature

	fetchErr   error
	submitErrs map[string]error
	failTx     map[string]string

	// ConfirmMode and ConfirmAfter shape signature status progression.
	ConfirmMode  ConfirmMode
	ConfirmAfter int
	// Now is the ledger clock.
	Now func() time.Time
	// Randomness produces revealed values. Defaults to crypto/rand.
	Randomness func() []byte
}

// New creates an empty simulated ledger.
func New() *Ledger {
	return &Ledger{
		lotteries:  make(map[string]*ledger.Lottery),
		randomness: make(map[string]*randomnessAccount),
		txs:        make(map[ledger.Signature]*transaction),
		submitErrs: make(map[string]error),
		failTx:     make(map[string]string),
		Now:        time.Now,
		Randomness: func() []byte {
			b := make([]byte, 32)
			_, _ = rand.Read(b)
			return b
		},
	}
}

var (
	_ ledger.Program = (*Ledger)(nil)
	_ ledger.Oracle  = (*Ledger)(nil)
	_ ledger.Client  = (*Ledger)(nil)
)

// AddLottery stores a copy of l, replacing any lottery with the same id.
func (m *Ledger) AddLottery(l ledger.Lottery) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.Status == "" {
		l.Status = ledger.LotteryStatusActive
	}
	if l.TotalTickets == 0 {
		l.TotalTickets = uint32(len(l.Participants))
	}
	l.Participants = append([]string(nil), l.Participants...)
	m.lotteries[l.ID] = &l
}

// FailFetch makes FetchLottery and ListLotteries return err until cleared
// with a nil argument.
func (m *Ledger) FailFetch(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

// FailSubmit makes Submit return err for any bundle containing an
// instruction with the given name.
func (m *Ledger) FailSubmit(instruction string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErrs[instruction] = err
}

// FailTransaction makes bundles containing the named instruction land with
// an execution error that SignatureStatus reports.
func (m *Ledger) FailTransaction(instruction, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTx[instruction] = reason
}

// Submitted returns the instruction bundles submitted so far, in order.
func (m *Ledger) Submitted() [][]ledger.Instruction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]ledger.Instruction, 0, len(m.submitted))
	for _, sig := range m.submitted {
		out = append(out, m.txs[sig].instructions)
	}
	return out
}

// FetchLottery implements ledger.Program.
func (m *Ledger) FetchLottery(ctx context.Context, lotteryID string) (*ledger.Lottery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	l, ok := m.lotteries[lotteryID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrLotteryNotFound, lotteryID)
	}
	return cloneLottery(l), nil
}

// ListLotteries implements ledger.Program.
func (m *Ledger) ListLotteries(ctx context.Context) ([]*ledger.Lottery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	out := make([]*ledger.Lottery, 0, len(m.lotteries))
	for _, l := range m.lotteries {
		out = append(out, cloneLottery(l))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SelectWinnerInstruction implements ledger.Program.
func (m *Ledger) SelectWinnerInstruction(ctx context.Context, lotteryID, randomnessAccount string) (ledger.Instruction, error) {
	data, err := json.Marshal(map[string]string{"lotteryId": lotteryID})
	if err != nil {
		return ledger.Instruction{}, err
	}
	return ledger.Instruction{
		Program:  ProgramLottery,
		Name:     InstrSelectWinner,
		Accounts: []string{randomnessAccount},
		Data:     data,
	}, nil
}

// Queue implements ledger.Oracle.
func (m *Ledger) Queue(ctx context.Context) (string, error) {
	return DefaultQueue, nil
}

// CreateCommitment implements ledger.Oracle.
func (m *Ledger) CreateCommitment(ctx context.Context, keypair *ledger.Keypair, queue string) (*ledger.Commitment, error) {
	account := keypair.Address()
	return &ledger.Commitment{
		Account: account,
		Instructions: []ledger.Instruction{{
			Program:  ProgramOracle,
			Name:     InstrCreate,
			Accounts: []string{account, queue},
		}},
	}, nil
}

// CommitInstruction implements ledger.Oracle.
func (m *Ledger) CommitInstruction(ctx context.Context, account, queue string) (ledger.Instruction, error) {
	return ledger.Instruction{Program: ProgramOracle, Name: InstrCommit, Accounts: []string{account, queue}}, nil
}

// RevealInstruction implements ledger.Oracle.
func (m *Ledger) RevealInstruction(ctx context.Context, account string) (ledger.Instruction, error) {
	return ledger.Instruction{Program: ProgramOracle, Name: InstrReveal, Accounts: []string{account}}, nil
}

// Submit implements ledger.Client. The bundle is applied atomically: if any
// instruction fails, none of its effects are kept and the transaction
// status carries the failure.
func (m *Ledger) Submit(ctx context.Context, instructions []ledger.Instruction, signers ...*ledger.Keypair) (ledger.Signature, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(instructions) == 0 {
		return "", errors.New("empty instruction bundle")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, in := range instructions {
		if err, ok := m.submitErrs[in.Name]; ok {
			return "", err
		}
	}

	sig := newSignature()
	tx := &transaction{instructions: append([]ledger.Instruction(nil), instructions...)}
	m.txs[sig] = tx
	m.submitted = append(m.submitted, sig)

	for _, in := range instructions {
		if reason, ok := m.failTx[in.Name]; ok {
			tx.err = reason
			return sig, nil
		}
	}

	if err := m.apply(instructions, signers); err != nil {
		tx.err = err.Error()
	}
	return sig, nil
}

// SignatureStatus implements ledger.Client.
func (m *Ledger) SignatureStatus(ctx context.Context, sig ledger.Signature) (*ledger.SignatureStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[sig]
	if !ok {
		return nil, nil
	}
	tx.queries++

	if tx.err != "" {
		return &ledger.SignatureStatus{Confirmation: ledger.ConfirmationProcessed, Err: tx.err}, nil
	}
	if m.ConfirmMode == ConfirmNever || tx.queries <= m.ConfirmAfter {
		return &ledger.SignatureStatus{Confirmation: ledger.ConfirmationProcessed}, nil
	}
	return &ledger.SignatureStatus{Confirmation: ledger.ConfirmationConfirmed}, nil
}

// apply runs the bundle against a scratch copy of the state and swaps it in
// only when every instruction succeeds. Caller holds m.mu.
func (m *Ledger) apply(instructions []ledger.Instruction, signers []*ledger.Keypair) error {
	signed := make(map[string]bool, len(signers))
	for _, s := range signers {
		if s != nil {
			signed[s.Address()] = true
		}
	}

	lotteries := make(map[string]*ledger.Lottery, len(m.lotteries))
	for id, l := range m.lotteries {
		lotteries[id] = cloneLottery(l)
	}
	randomness := make(map[string]*randomnessAccount, len(m.randomness))
	for addr, r := range m.randomness {
		cp := *r
		randomness[addr] = &cp
	}

	for _, in := range instructions {
		if len(in.Accounts) == 0 {
			return fmt.Errorf("instruction %s has no accounts", in.Name)
		}
		switch in.Program + "." + in.Name {
		case ProgramOracle + "." + InstrCreate:
			if len(in.Accounts) < 2 {
				return errors.New("create requires account and queue")
			}
			account, queue := in.Accounts[0], in.Accounts[1]
			if !signed[account] {
				return fmt.Errorf("missing signature for randomness account %s", account)
			}
			if _, exists := randomness[account]; exists {
				return fmt.Errorf("randomness account %s already exists", account)
			}
			randomness[account] = &randomnessAccount{queue: queue}

		case ProgramOracle + "." + InstrCommit:
			r, ok := randomness[in.Accounts[0]]
			if !ok {
				return fmt.Errorf("randomness account %s not found", in.Accounts[0])
			}
			if r.committed {
				return errors.New("randomness already committed")
			}
			r.committed = true

		case ProgramOracle + "." + InstrReveal:
			r, ok := randomness[in.Accounts[0]]
			if !ok || !r.committed {
				return errors.New("randomness not committed")
			}
			r.revealed = m.Randomness()

		case ProgramLottery + "." + InstrSelectWinner:
			var data struct {
				LotteryID string `json:"lotteryId"`
			}
			if err := json.Unmarshal(in.Data, &data); err != nil {
				return fmt.Errorf("bad selectWinner data: %w", err)
			}
			l, ok := lotteries[data.LotteryID]
			if !ok {
				return ledger.ErrLotteryNotFound
			}
			if err := l.CheckEligible(m.Now()); err != nil {
				return err
			}
			r, ok := randomness[in.Accounts[0]]
			if !ok || r.revealed == nil {
				return errors.New("randomness not resolved")
			}
			idx := ledger.WinnerIndex(r.revealed, l.TotalTickets)
			if idx >= len(l.Participants) {
				return errors.New("invalid winner index")
			}
			l.Winner = l.Participants[idx]
			l.RandomnessAccount = in.Accounts[0]
			l.TotalPrize = l.EntryFee * uint64(l.TotalTickets)
			l.Status = ledger.LotteryStatusWinnerSelected

		default:
			return fmt.Errorf("unknown instruction %s.%s", in.Program, in.Name)
		}
	}

	m.lotteries = lotteries
	m.randomness = randomness
	return nil
}

func cloneLottery(l *ledger.Lottery) *ledger.Lottery {
	cp := *l
	cp.Participants = append([]string(nil), l.Participants...)
	return &cp
}

func newSignature() ledger.Signature {
	b := make([]byte, 64)
	_, _ = rand.Read(b)
	return ledger.Signature(base58.Encode(b))
}

package ledger

import "time"

// LotteryStatus mirrors the lifecycle the lottery program stores on chain.
type LotteryStatus string

const (
	LotteryStatusActive                LotteryStatus = "active"
	LotteryStatusEndedWaitingForWinner LotteryStatus = "ended_waiting_for_winner"
	LotteryStatusWinnerSelected        LotteryStatus = "winner_selected"
	LotteryStatusCompleted             LotteryStatus = "completed"
)

// Lottery is the subset of lottery account state the orchestrator reads.
type Lottery struct {
	ID                string        `json:"lotteryId"`
	Address           string        `json:"address"`
	Admin             string        `json:"admin"`
	Creator           string        `json:"creator"`
	EntryFee          uint64        `json:"entryFee"`
	TotalTickets      uint32        `json:"totalTickets"`
	Participants      []string      `json:"participants"`
	EndTime           time.Time     `json:"endTime"`
	Winner            string        `json:"winner,omitempty"`
	RandomnessAccount string        `json:"randomnessAccount,omitempty"`
	Status            LotteryStatus `json:"status"`
	TotalPrize        uint64        `json:"totalPrize"`
}

// EffectiveStatus returns the status the program would report at now. An
// active lottery whose end time has passed is waiting for its winner even
// if nothing has touched the account since.
func (l *Lottery) EffectiveStatus(now time.Time) LotteryStatus {
	if l.Status == LotteryStatusActive && now.After(l.EndTime) {
		return LotteryStatusEndedWaitingForWinner
	}
	return l.Status
}

// HasEnded reports whether the end time has passed.
func (l *Lottery) HasEnded(now time.Time) bool {
	return now.After(l.EndTime)
}

// CheckEligible verifies the lottery can have its winner selected at now.
// All failures wrap ErrInvalidLotteryState.
func (l *Lottery) CheckEligible(now time.Time) error {
	if l.TotalTickets == 0 || len(l.Participants) == 0 {
		return ErrNoParticipants
	}
	if l.Winner != "" {
		return ErrWinnerAlreadySelected
	}
	switch l.EffectiveStatus(now) {
	case LotteryStatusWinnerSelected, LotteryStatusCompleted:
		return ErrWinnerAlreadySelected
	case LotteryStatusActive:
		return ErrLotteryNotEnded
	}
	return nil
}

// WinnerIndex maps the first byte of revealed randomness onto the ticket
// range. The program applies the same rule when it selects the winner.
func WinnerIndex(randomness []byte, totalTickets uint32) int {
	if len(randomness) == 0 || totalTickets == 0 {
		return 0
	}
	return int(uint32(randomness[0]) % totalTickets)
}

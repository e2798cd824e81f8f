package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLottery_CheckEligible(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name    string
		lottery Lottery
		wantErr error
	}{
		{
			name: "ended with participants",
			lottery: Lottery{
				TotalTickets: 2, Participants: []string{"a", "b"},
				EndTime: past, Status: LotteryStatusActive,
			},
		},
		{
			name: "explicitly waiting for winner",
			lottery: Lottery{
				TotalTickets: 1, Participants: []string{"a"},
				EndTime: past, Status: LotteryStatusEndedWaitingForWinner,
			},
		},
		{
			name:    "no participants",
			lottery: Lottery{EndTime: past, Status: LotteryStatusActive},
			wantErr: ErrNoParticipants,
		},
		{
			name: "winner already set",
			lottery: Lottery{
				TotalTickets: 1, Participants: []string{"a"}, Winner: "a",
				EndTime: past, Status: LotteryStatusEndedWaitingForWinner,
			},
			wantErr: ErrWinnerAlreadySelected,
		},
		{
			name: "completed",
			lottery: Lottery{
				TotalTickets: 1, Participants: []string{"a"},
				EndTime: past, Status: LotteryStatusCompleted,
			},
			wantErr: ErrWinnerAlreadySelected,
		},
		{
			name: "still running",
			lottery: Lottery{
				TotalTickets: 1, Participants: []string{"a"},
				EndTime: future, Status: LotteryStatusActive,
			},
			wantErr: ErrLotteryNotEnded,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.lottery.CheckEligible(now)
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
			assert.True(t, errors.Is(err, ErrInvalidLotteryState))
		})
	}
}

func TestNoParticipantsMessage(t *testing.T) {
	assert.Contains(t, ErrNoParticipants.Error(), "no participants")
}

func TestLottery_EffectiveStatus(t *testing.T) {
	now := time.Now()
	l := &Lottery{Status: LotteryStatusActive, EndTime: now.Add(-time.Second)}
	assert.Equal(t, LotteryStatusEndedWaitingForWinner, l.EffectiveStatus(now))

	l.EndTime = now.Add(time.Minute)
	assert.Equal(t, LotteryStatusActive, l.EffectiveStatus(now))

	l.Status = LotteryStatusWinnerSelected
	assert.Equal(t, LotteryStatusWinnerSelected, l.EffectiveStatus(now))
}

func TestWinnerIndex(t *testing.T) {
	assert.Equal(t, 1, WinnerIndex([]byte{7}, 2))
	assert.Equal(t, 0, WinnerIndex([]byte{255}, 5))
	assert.Equal(t, 0, WinnerIndex(nil, 3))
	assert.Equal(t, 0, WinnerIndex([]byte{9}, 0))
}

package elo

import "testing"

func TestEqualRatingsSplitKFactor(t *testing.T) {
	winner := CalculateNewRating(1500, 1500, Win)
	loser := CalculateNewRating(1500, 1500, Loss)

	if winner != 1516 {
		t.Errorf("winner: got %d want 1516", winner)
	}
	if loser != 1484 {
		t.Errorf("loser: got %d want 1484", loser)
	}
}

func TestUnderdogWinGainsMore(t *testing.T) {
	underdog := CalculateNewRating(1400, 1600, Win)
	favorite := CalculateNewRating(1600, 1400, Win)

	underdogGain := underdog - 1400
	favoriteGain := favorite - 1600
	if underdogGain <= favoriteGain {
		t.Errorf("underdog gain %d should exceed favorite gain %d", underdogGain, favoriteGain)
	}
	if underdogGain > KFactor {
		t.Errorf("gain %d exceeds K-factor %d", underdogGain, KFactor)
	}
}

func TestDrawMovesRatingsTowardEachOther(t *testing.T) {
	higher := CalculateNewRating(1600, 1400, Draw)
	lower := CalculateNewRating(1400, 1600, Draw)

	if higher >= 1600 {
		t.Errorf("higher-rated player should lose points on a draw, got %d", higher)
	}
	if lower <= 1400 {
		t.Errorf("lower-rated player should gain points on a draw, got %d", lower)
	}
}

func TestRatingChangesAreSymmetric(t *testing.T) {
	cases := []struct{ a, b int }{
		{1500, 1500},
		{1550, 1450},
		{1800, 1200},
	}
	for _, tc := range cases {
		winDelta := CalculateNewRating(tc.a, tc.b, Win) - tc.a
		lossDelta := CalculateNewRating(tc.b, tc.a, Loss) - tc.b
		if winDelta+lossDelta != 0 {
			t.Errorf("ratings %d vs %d: win %+d and loss %+d are not zero-sum", tc.a, tc.b, winDelta, lossDelta)
		}
	}
}

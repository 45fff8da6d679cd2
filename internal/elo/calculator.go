package elo

import (
	"math"
)

type GameResult int

const (
	Loss GameResult = 0
	Draw GameResult = 1
	Win  GameResult = 2
)

const (
	// KFactor is the maximum per-game rating adjustment
	KFactor = 32

	// StartRating is assigned to every agent on first finalization
	StartRating = 1500
)

// CalculateNewRating calculates the new Elo rating for a player.
// playerRating: current rating of the player
// opponentRating: current rating of the opponent
// result: GameResult (Win=2, Draw=1, Loss=0)
func CalculateNewRating(playerRating, opponentRating int, result GameResult) int {
	expectedScore := calculateExpectedScore(playerRating, opponentRating)

	var actualScore float64
	switch result {
	case Win:
		actualScore = 1.0
	case Draw:
		actualScore = 0.5
	case Loss:
		actualScore = 0.0
	}

	// ΔR = K × (S - E)
	ratingChange := float64(KFactor) * (actualScore - expectedScore)
	return playerRating + int(math.Round(ratingChange))
}

// calculateExpectedScore calculates the expected score using the Elo formula
// E = 1 / (1 + 10^((OpponentRating - PlayerRating) / 400))
func calculateExpectedScore(playerRating, opponentRating int) float64 {
	exponent := float64(opponentRating-playerRating) / 400.0
	return 1.0 / (1.0 + math.Pow(10, exponent))
}

package match

import (
	"context"
	"log"
	"time"

	"github.com/fightclaw/server/internal/elo"
)

// startFinalize kicks off end-of-match persistence. Production runs it in
// a background goroutine; TEST_MODE runs it synchronously so tests observe
// a finalized store deterministically. Runs on the actor goroutine, so the
// state snapshot is taken before handing off.
func (a *Actor) startFinalize() {
	snapshot := a.copyState()
	if snapshot == nil || snapshot.Status != StatusEnded {
		return
	}
	if a.deps.Cfg.TestMode {
		a.finalize(snapshot)
		return
	}
	go a.finalize(snapshot)
}

// finalize persists the terminal outcome exactly once. The INSERT ... ON
// CONFLICT on match_results is the serialization point: only the inserter
// applies the leaderboard delta. Persistence failures are logged and
// skipped; the guards keep the store consistent across retries.
func (a *Actor) finalize(st *MatchState) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	existing, err := a.deps.Store.GetMatchResult(ctx, a.matchID)
	if err != nil {
		log.Printf("[MATCH] %s: finalize result lookup failed: %v", a.matchID, err)
	}
	alreadyFinalized := existing != nil

	inserted := false
	if !alreadyFinalized {
		inserted, err = a.deps.Store.InsertMatchResult(ctx, a.matchID, st.WinnerAgentID, st.LoserAgentID, st.EndReason)
		if err != nil {
			log.Printf("[MATCH] %s: finalize insert result failed: %v", a.matchID, err)
		}
	}

	endedAt := time.Now()
	if st.EndedAt != nil {
		endedAt = *st.EndedAt
	}
	if err := a.deps.Store.UpdateMatchEnded(ctx, a.matchID, endedAt, st.WinnerAgentID, st.EndReason, st.StateVersion); err != nil {
		log.Printf("[MATCH] %s: finalize update match failed: %v", a.matchID, err)
	}

	if inserted && st.WinnerAgentID != nil && st.LoserAgentID != nil {
		a.applyRatings(ctx, *st.WinnerAgentID, *st.LoserAgentID)
	}

	if a.deps.Notifier != nil {
		a.deps.Notifier.FeaturedEnded(a.matchID)
	}
}

// applyRatings performs the K=32 ELO update for a decisive result.
func (a *Actor) applyRatings(ctx context.Context, winnerID, loserID string) {
	start := a.deps.Cfg.EloStartRating

	if err := a.deps.Store.UpsertLeaderboardStart(ctx, winnerID, start); err != nil {
		log.Printf("[MATCH] %s: leaderboard upsert winner failed: %v", a.matchID, err)
	}
	if err := a.deps.Store.UpsertLeaderboardStart(ctx, loserID, start); err != nil {
		log.Printf("[MATCH] %s: leaderboard upsert loser failed: %v", a.matchID, err)
	}

	winnerRating, err := a.deps.Store.GetRating(ctx, winnerID, start)
	if err != nil {
		log.Printf("[MATCH] %s: rating read winner failed: %v", a.matchID, err)
	}
	loserRating, err := a.deps.Store.GetRating(ctx, loserID, start)
	if err != nil {
		log.Printf("[MATCH] %s: rating read loser failed: %v", a.matchID, err)
	}

	newWinner := elo.CalculateNewRating(winnerRating, loserRating, elo.Win)
	newLoser := elo.CalculateNewRating(loserRating, winnerRating, elo.Loss)

	if err := a.deps.Store.ApplyRatingDelta(ctx, winnerID, newWinner, 1, 0); err != nil {
		log.Printf("[MATCH] %s: rating delta winner failed: %v", a.matchID, err)
	}
	if err := a.deps.Store.ApplyRatingDelta(ctx, loserID, newLoser, 0, 1); err != nil {
		log.Printf("[MATCH] %s: rating delta loser failed: %v", a.matchID, err)
	}

	log.Printf("[MATCH] %s: ratings applied winner=%s %d->%d loser=%s %d->%d",
		a.matchID, winnerID, winnerRating, newWinner, loserID, loserRating, newLoser)
}

package match

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// turnDeadlineKey is a sorted set of matchId scored by the absolute turn
// deadline in unix milliseconds. The in-process wake timer handles the
// common case; this set lets a restarted process sweep deadlines that
// expired while no actor was live.
const turnDeadlineKey = "fc:turn_deadlines"

// armDeadline mirrors a turn deadline into Redis (best-effort).
func (a *Actor) armDeadline(expiresAtMs int64) {
	if a.deps.RDB == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.deps.RDB.ZAdd(ctx, turnDeadlineKey, redis.Z{
		Score:  float64(expiresAtMs),
		Member: a.matchID,
	}).Err(); err != nil {
		log.Printf("[TIMEOUT] %s: deadline zadd failed: %v", a.matchID, err)
	}
}

// disarmDeadline removes the Redis deadline entry (best-effort).
func (a *Actor) disarmDeadline() {
	if a.deps.RDB == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.deps.RDB.ZRem(ctx, turnDeadlineKey, a.matchID).Err(); err != nil {
		log.Printf("[TIMEOUT] %s: deadline zrem failed: %v", a.matchID, err)
	}
}

// StartTimeoutWorker polls the deadline set and routes expired matches
// through the same enforcement path as the per-actor wake. The ZRem is the
// claim; enforcement itself is idempotent, so racing the in-process timer
// is harmless.
func StartTimeoutWorker(ctx context.Context, registry *Registry, rdb *redis.Client, poll time.Duration) {
	if rdb == nil {
		log.Println("[TIMEOUT] Redis missing; deadline sweep not started")
		return
	}

	log.Printf("[TIMEOUT] Deadline sweep started (poll every %v)", poll)
	go func() {
		ticker := time.NewTicker(poll)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("[TIMEOUT] Deadline sweep stopping")
				return
			case <-ticker.C:
				now := time.Now().UnixMilli()
				members, err := rdb.ZRangeByScore(ctx, turnDeadlineKey, &redis.ZRangeBy{
					Min: "-inf",
					Max: fmt.Sprintf("%d", now),
				}).Result()
				if err != nil {
					log.Printf("[TIMEOUT] Failed to fetch expired deadlines: %v", err)
					continue
				}
				for _, matchID := range members {
					if removed, _ := rdb.ZRem(ctx, turnDeadlineKey, matchID).Result(); removed > 0 {
						registry.Get(matchID).EnforceTimeout()
					}
				}
			}
		}
	}()
}

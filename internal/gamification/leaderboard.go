package gamification

import (
	"context"
	"fmt"

	"github.com/brightpath/backend/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLeaderboardSize = 20
	maxLeaderboardSize     = 100
	leaderboardKey         = "gamification:leaderboard:xp"
)

// Leaderboard ranks users by total XP. Entries returned by Top carry rank,
// user and XP; the engine fills in levels.
type Leaderboard interface {
	Record(ctx context.Context, userID uuid.UUID, totalXP int64) error
	Top(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)
}

// StoreLeaderboard reads rankings straight from the Store.
type StoreLeaderboard struct {
	store Store
}

func NewStoreLeaderboard(store Store) *StoreLeaderboard {
	return &StoreLeaderboard{store: store}
}

// Record is a no-op: the profile row already holds the total.
func (l *StoreLeaderboard) Record(ctx context.Context, userID uuid.UUID, totalXP int64) error {
	return nil
}

func (l *StoreLeaderboard) Top(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	profiles, err := l.store.TopProfiles(ctx, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]models.LeaderboardEntry, 0, len(profiles))
	for i, p := range profiles {
		entries = append(entries, models.LeaderboardEntry{Rank: i + 1, UserID: p.UserID, TotalXP: p.TotalXP})
	}
	return entries, nil
}

// RedisLeaderboard keeps totals in a sorted set so reads never touch
// Postgres.
type RedisLeaderboard struct {
	client *redis.Client
	key    string
}

func NewRedisLeaderboard(client *redis.Client) *RedisLeaderboard {
	return &RedisLeaderboard{client: client, key: leaderboardKey}
}

func (l *RedisLeaderboard) Record(ctx context.Context, userID uuid.UUID, totalXP int64) error {
	err := l.client.ZAdd(ctx, l.key, redis.Z{Score: float64(totalXP), Member: userID.String()}).Err()
	if err != nil {
		return fmt.Errorf("zadd leaderboard: %w", err)
	}
	return nil
}

func (l *RedisLeaderboard) Top(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	zs, err := l.client.ZRevRangeWithScores(ctx, l.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange leaderboard: %w", err)
	}
	entries := make([]models.LeaderboardEntry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		id, err := uuid.Parse(member)
		if err != nil {
			continue
		}
		entries = append(entries, models.LeaderboardEntry{
			Rank:    len(entries) + 1,
			UserID:  id,
			TotalXP: int64(z.Score),
		})
	}
	return entries, nil
}

// Leaderboard returns the top users by total XP. A failing cache falls back
// to the store.
func (e *Engine) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = defaultLeaderboardSize
	}
	if limit > maxLeaderboardSize {
		limit = maxLeaderboardSize
	}

	entries, err := e.board.Top(ctx, limit)
	if err != nil {
		if _, isStore := e.board.(*StoreLeaderboard); isStore {
			return nil, &PersistenceError{Op: "leaderboard", Err: err}
		}
		e.log.Warn("leaderboard cache unavailable, reading from store", "error", err)
		entries, err = NewStoreLeaderboard(e.store).Top(ctx, limit)
		if err != nil {
			return nil, &PersistenceError{Op: "leaderboard", Err: err}
		}
	}
	for i := range entries {
		entries[i].Level = e.rules.LevelFromXP(entries[i].TotalXP)
	}
	return entries, nil
}

// WarmLeaderboard copies the current top profiles into the leaderboard, so
// a fresh cache is not empty until users earn XP again.
func (e *Engine) WarmLeaderboard(ctx context.Context, size int) (int, error) {
	profiles, err := e.store.TopProfiles(ctx, size)
	if err != nil {
		return 0, &PersistenceError{Op: "warm leaderboard", Err: err}
	}
	for _, p := range profiles {
		if err := e.board.Record(ctx, p.UserID, p.TotalXP); err != nil {
			return 0, err
		}
	}
	return len(profiles), nil
}

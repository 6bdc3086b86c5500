package gamification

import (
	"context"
	"testing"
	"time"

	"github.com/brightpath/backend/internal/logger"
	"github.com/brightpath/backend/internal/models"
	"github.com/google/uuid"
)

func TestExpireStaleStreaks(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	lapsed := uuid.New()
	streakDays(t, e, lapsed, "2024-03-07", 2)
	active := uuid.New()
	streakDays(t, e, active, "2024-03-08", 2)
	if _, err := e.SetTimezone(ctx, uuid.New(), "UTC"); err != nil {
		t.Fatal(err)
	}

	n, err := e.ExpireStaleStreaks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expired %d streaks, want 1", n)
	}

	p, _ := e.GetProfile(ctx, lapsed)
	if p.CurrentStreak != 0 || p.LongestStreak != 2 || p.TotalXP != 25 {
		t.Errorf("lapsed profile = %+v, want streak 0, longest 2, 25 XP", p)
	}
	if p.LastActivityDate != "2024-03-08" {
		t.Errorf("LastActivityDate = %s, want untouched", p.LastActivityDate)
	}
	if p, _ := e.GetProfile(ctx, active); p.CurrentStreak != 2 {
		t.Errorf("active CurrentStreak = %d, want 2", p.CurrentStreak)
	}

	if n, _ := e.ExpireStaleStreaks(ctx); n != 0 {
		t.Errorf("second sweep expired %d, want 0", n)
	}

	// The day after the last activity no longer continues a cleared streak.
	res, err := e.UpdateStreak(ctx, StreakRequest{UserID: lapsed, ActivityDate: "2024-03-09"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != models.StreakReset || res.Profile.CurrentStreak != 1 || res.Profile.StreakRunID != 2 {
		t.Errorf("after sweep = %s streak %d run %d, want reset 1 run 2",
			res.Outcome, res.Profile.CurrentStreak, res.Profile.StreakRunID)
	}
}

func TestExpireStaleStreaksUsesUserTimezone(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	// 02:00 UTC on the 11th is still the evening of the 10th in Los Angeles.
	clock.Advance(14 * time.Hour)

	la := uuid.New()
	if _, err := e.SetTimezone(ctx, la, "America/Los_Angeles"); err != nil {
		t.Fatal(err)
	}
	streakDays(t, e, la, "2024-03-08", 2)
	utc := uuid.New()
	streakDays(t, e, utc, "2024-03-08", 2)

	n, err := e.ExpireStaleStreaks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expired %d streaks, want 1", n)
	}
	if p, _ := e.GetProfile(ctx, la); p.CurrentStreak != 2 {
		t.Errorf("Los Angeles streak = %d, want kept", p.CurrentStreak)
	}
	if p, _ := e.GetProfile(ctx, utc); p.CurrentStreak != 0 {
		t.Errorf("UTC streak = %d, want expired", p.CurrentStreak)
	}
}

func TestStreakSweeper(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := NewStreakSweeper(e, "not a cron line", logger.Nop()); err == nil {
		t.Error("NewStreakSweeper accepted an invalid cron expression")
	}

	s, err := NewStreakSweeper(e, "5 0 * * *", logger.Nop())
	if err != nil {
		t.Fatalf("NewStreakSweeper: %v", err)
	}
	s.Start()
	defer func() {
		if err := s.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	userID := uuid.New()
	streakDays(t, e, userID, "2024-03-01", 3)
	s.Sweep()

	if p, _ := e.GetProfile(ctx, userID); p.CurrentStreak != 0 {
		t.Errorf("CurrentStreak after sweep = %d, want 0", p.CurrentStreak)
	}
}

package gamification

import (
	"context"
	"errors"
	"testing"

	"github.com/brightpath/backend/internal/models"
	"github.com/google/uuid"
)

func TestCompletePhaseFullCredit(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	userID := uuid.New()
	zone := int64(3)
	req := PhaseCompletion{
		UserID: userID, PhaseID: 11, ChapterID: 4, ZoneID: &zone,
		MissionComplete: true, ZoneComplete: true, Perfect: true,
	}

	res, err := e.CompletePhase(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Phase != 45 || res.Mission != 50 || res.Zone != 200 {
		t.Errorf("breakdown = %d/%d/%d, want 45/50/200", res.Phase, res.Mission, res.Zone)
	}
	if res.Total() != 295 {
		t.Errorf("Total() = %d, want 295", res.Total())
	}
	if res.Streak.Outcome != models.StreakStarted || res.Streak.XPAwarded != 10 {
		t.Errorf("streak = %s for %d XP, want started for 10", res.Streak.Outcome, res.Streak.XPAwarded)
	}
	if res.Profile.TotalXP != 305 {
		t.Errorf("TotalXP = %d, want 305", res.Profile.TotalXP)
	}
	if !res.LeveledUp || res.OldLevel != 1 || res.Profile.Level != 2 {
		t.Errorf("level %d -> %d (up=%v), want 1 -> 2", res.OldLevel, res.Profile.Level, res.LeveledUp)
	}
	if res.Profile.LastActivityDate != "2024-03-10" {
		t.Errorf("LastActivityDate = %s, want today", res.Profile.LastActivityDate)
	}

	again, err := e.CompletePhase(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if again.Total() != 0 || again.Streak.Outcome != models.StreakUnchanged {
		t.Errorf("repeat = %+v, want nothing credited", again)
	}
	if again.Profile.TotalXP != 305 {
		t.Errorf("TotalXP after repeat = %d, want 305", again.Profile.TotalXP)
	}

	awards, _ := e.RecentAwards(ctx, userID, 0)
	if len(awards) != 4 {
		t.Errorf("ledger has %d entries, want 4", len(awards))
	}
}

func TestCompletePhaseUsesUpdatedStreak(t *testing.T) {
	e, _, _ := newTestEngine(t)
	userID := uuid.New()
	streakDays(t, e, userID, "2024-03-06", 4)

	// Today makes five days in a row, so the phase earns 1.2x.
	res, err := e.CompletePhase(context.Background(), PhaseCompletion{UserID: userID, PhaseID: 1, ChapterID: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.Streak.Profile.CurrentStreak != 5 {
		t.Errorf("CurrentStreak = %d, want 5", res.Streak.Profile.CurrentStreak)
	}
	if res.Phase != 24 {
		t.Errorf("Phase = %d, want 24", res.Phase)
	}
}

func TestCompletePhaseValidation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	userID := uuid.New()
	zero := int64(0)

	tests := []struct {
		name  string
		req   PhaseCompletion
		field string
	}{
		{"no phase", PhaseCompletion{UserID: userID, ChapterID: 1}, "phase_id"},
		{"no chapter", PhaseCompletion{UserID: userID, PhaseID: 1}, "chapter_id"},
		{"zone without id", PhaseCompletion{UserID: userID, PhaseID: 1, ChapterID: 1, ZoneComplete: true}, "zone_id"},
		{"zone id zero", PhaseCompletion{UserID: userID, PhaseID: 1, ChapterID: 1, ZoneComplete: true, ZoneID: &zero}, "zone_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.CompletePhase(ctx, tt.req)
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("CompletePhase error = %v, want ValidationError on %s", err, tt.field)
			}
		})
	}
}

func TestCompletePhaseIsAtomic(t *testing.T) {
	e, mem := newFaultyEngine(t, "profile")
	userID := uuid.New()

	_, err := e.CompletePhase(context.Background(), PhaseCompletion{UserID: userID, PhaseID: 1, ChapterID: 1, MissionComplete: true})
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("CompletePhase error = %v, want PersistenceError", err)
	}
	awards, _ := mem.RecentAwards(context.Background(), userID, 10)
	if len(awards) != 0 {
		t.Errorf("ledger has %d entries after failure, want 0", len(awards))
	}
}

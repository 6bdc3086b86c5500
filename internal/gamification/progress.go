package gamification

import (
	"context"
	"fmt"

	"github.com/brightpath/backend/internal/models"
	"github.com/google/uuid"
)

// PhaseCompletion reports a finished phase. Whether it also finished its
// mission or zone is decided by the content service.
type PhaseCompletion struct {
	UserID          uuid.UUID
	PhaseID         int64
	ChapterID       int64
	ZoneID          *int64
	MissionComplete bool
	ZoneComplete    bool
	Perfect         bool
}

type PhaseResult struct {
	Profile   models.Profile
	Streak    StreakResult
	Phase     int64
	Mission   int64
	Zone      int64
	OldLevel  int
	LeveledUp bool
	NewBadges []string
}

func (r PhaseResult) Total() int64 { return r.Phase + r.Mission + r.Zone }

// CompletePhase counts today's activity and then credits the phase and any
// mission or zone it completed, all in one unit of work.
func (e *Engine) CompletePhase(ctx context.Context, req PhaseCompletion) (*PhaseResult, error) {
	switch {
	case req.UserID == uuid.Nil:
		return nil, invalid("user_id", "is required")
	case req.PhaseID <= 0:
		return nil, invalid("phase_id", "must be positive")
	case req.ChapterID <= 0:
		return nil, invalid("chapter_id", "must be positive")
	case req.ZoneComplete && (req.ZoneID == nil || *req.ZoneID <= 0):
		return nil, invalid("zone_id", "is required when the zone is complete")
	}

	res := &PhaseResult{}
	var step streakStep
	u, err := e.run(ctx, "complete phase", req.UserID, true, func(u *unit) error {
		var err error
		step, err = u.stepStreak(e.dates.Today(u.profile.Timezone))
		if err != nil {
			return err
		}

		chapter := req.ChapterID
		base := e.rules.XPPerPhase
		if req.Perfect {
			base += e.rules.PerfectScoreBonus
		}
		if res.Phase, err = u.credit(models.ReasonPhaseComplete, base, fmt.Sprintf("phase:%d", req.PhaseID), &chapter); err != nil {
			return err
		}
		if req.MissionComplete {
			if res.Mission, err = u.credit(models.ReasonMissionComplete, e.rules.XPPerMission, fmt.Sprintf("mission:%d", req.ChapterID), &chapter); err != nil {
				return err
			}
		}
		if req.ZoneComplete {
			if res.Zone, err = u.credit(models.ReasonZoneComplete, e.rules.XPPerZone, fmt.Sprintf("zone:%d", *req.ZoneID), &chapter); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.Profile = u.profile
	res.OldLevel = u.oldLevel
	res.LeveledUp = u.leveledUp()
	res.NewBadges = u.newBadges
	res.Streak = StreakResult{
		Profile:          u.profile,
		Outcome:          step.outcome,
		MilestoneReached: step.milestone,
		MilestoneBonus:   step.milestoneBonus,
		XPAwarded:        step.awarded,
	}
	e.log.Info("phase completed",
		"user_id", req.UserID, "phase_id", req.PhaseID, "xp", res.Total(), "total_xp", u.profile.TotalXP)
	return res, nil
}

// credit awards base XP if positive and returns the amount actually added.
func (u *unit) credit(reason models.Reason, base int64, key string, chapterID *int64) (int64, error) {
	if base <= 0 {
		return 0, nil
	}
	a, err := u.award(reason, base, key, chapterID)
	if err != nil || a == nil {
		return 0, err
	}
	return a.FinalAmount, nil
}

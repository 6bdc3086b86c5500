package gamification

import (
	"context"
	"fmt"

	"github.com/brightpath/backend/internal/models"
	"github.com/google/uuid"
)

type StreakRequest struct {
	UserID uuid.UUID
	// ActivityDate defaults to today in the user's timezone.
	ActivityDate DateKey
}

type StreakResult struct {
	Profile          models.Profile
	Outcome          models.StreakOutcome
	MilestoneReached int
	MilestoneBonus   int64
	XPAwarded        int64
	NewBadges        []string
}

type streakStep struct {
	outcome        models.StreakOutcome
	milestone      int
	milestoneBonus int64
	awarded        int64
}

// stepStreak moves the profile's streak to day and credits the daily
// awards. Days at or before the last counted day change nothing.
func (u *unit) stepStreak(day DateKey) (streakStep, error) {
	rules := u.e.rules
	p := &u.profile
	before := u.awarded

	today := u.e.dates.Today(p.Timezone)
	if day > today.Next() {
		return streakStep{}, invalid("activity_date", "%s is in the future", day)
	}

	var step streakStep
	last := DateKey(p.LastActivityDate)
	switch {
	case last == "":
		step.outcome = models.StreakStarted
	case day <= last:
		return streakStep{outcome: models.StreakUnchanged}, nil
	case DaysBetween(last, day) == 1 && p.CurrentStreak > 0:
		step.outcome = models.StreakContinued
	default:
		step.outcome = models.StreakReset
	}

	if step.outcome == models.StreakContinued {
		p.CurrentStreak++
	} else {
		p.CurrentStreak = 1
		p.StreakRunID++
	}
	if p.CurrentStreak > p.LongestStreak {
		p.LongestStreak = p.CurrentStreak
	}
	p.LastActivityDate = string(day)
	u.dirty = true

	if rules.DailyActivityXP > 0 {
		if _, err := u.award(models.ReasonDailyActivity, rules.DailyActivityXP, "daily:"+string(day), nil); err != nil {
			return step, err
		}
	}

	if step.outcome == models.StreakContinued {
		if p.CurrentStreak >= 2 && rules.DailyStreakBonusXP > 0 {
			if _, err := u.award(models.ReasonDailyStreakBonus, rules.DailyStreakBonusXP, "streak:"+string(day), nil); err != nil {
				return step, err
			}
		}

		if bonus := rules.StreakMilestoneBonus(p.CurrentStreak); bonus > 0 {
			key := fmt.Sprintf("milestone:%d:%d", p.StreakRunID, p.CurrentStreak)
			a, err := u.award(models.ReasonStreakMilestone, bonus, key, nil)
			if err != nil {
				return step, err
			}
			if a != nil {
				err := u.tx.InsertStreakMilestone(&models.StreakMilestone{
					UserID:       p.UserID,
					StreakLength: p.CurrentStreak,
					BonusXP:      a.FinalAmount,
				})
				if err != nil {
					return step, err
				}
				step.milestone = p.CurrentStreak
				step.milestoneBonus = a.FinalAmount
			}
		}
	}

	step.awarded = u.awarded - before
	return step, nil
}

// UpdateStreak records qualifying activity for a calendar day.
func (e *Engine) UpdateStreak(ctx context.Context, req StreakRequest) (*StreakResult, error) {
	if req.UserID == uuid.Nil {
		return nil, invalid("user_id", "is required")
	}
	if req.ActivityDate != "" {
		if _, err := ParseDateKey(string(req.ActivityDate)); err != nil {
			return nil, invalid("activity_date", "must be YYYY-MM-DD")
		}
	}

	var step streakStep
	u, err := e.run(ctx, "update streak", req.UserID, true, func(u *unit) error {
		day := req.ActivityDate
		if day == "" {
			day = e.dates.Today(u.profile.Timezone)
		}
		var err error
		step, err = u.stepStreak(day)
		return err
	})
	if err != nil {
		return nil, err
	}

	if step.milestone > 0 {
		e.log.Info("streak milestone reached",
			"user_id", req.UserID, "streak", step.milestone, "bonus", step.milestoneBonus)
	}
	return &StreakResult{
		Profile:          u.profile,
		Outcome:          step.outcome,
		MilestoneReached: step.milestone,
		MilestoneBonus:   step.milestoneBonus,
		XPAwarded:        step.awarded,
		NewBadges:        u.newBadges,
	}, nil
}

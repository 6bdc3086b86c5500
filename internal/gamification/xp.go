package gamification

import (
	"math"

	"github.com/brightpath/backend/internal/models"
)

// LevelThreshold returns the total XP at which level begins.
// Level 1 starts at 0; later levels follow floor(base * (level-1)^exp).
func (r Rules) LevelThreshold(level int) int64 {
	if level <= 1 {
		return 0
	}
	return int64(math.Floor(r.LevelBaseXP * math.Pow(float64(level-1), r.LevelExponent)))
}

// LevelFromXP returns the highest level whose threshold is <= totalXP,
// clamped to [1, MaxLevel].
func (r Rules) LevelFromXP(totalXP int64) int {
	if totalXP < r.LevelThreshold(2) || r.MaxLevel <= 1 {
		return 1
	}
	low, high := 1, r.MaxLevel
	for low < high {
		mid := low + (high-low+1)/2
		if r.LevelThreshold(mid) <= totalXP {
			low = mid
		} else {
			high = mid - 1
		}
	}
	return low
}

func (r Rules) LevelProgress(totalXP int64) models.LevelProgress {
	level := r.LevelFromXP(totalXP)
	current := r.LevelThreshold(level)
	next := current
	if level < r.MaxLevel {
		next = r.LevelThreshold(level + 1)
	}

	lp := models.LevelProgress{
		Level:          level,
		CurrentLevelXP: current,
		NextLevelXP:    next,
		Progress:       100,
	}
	if next > current {
		lp.XPNeeded = next - totalXP
		lp.Progress = math.Round(float64(totalXP-current)/float64(next-current)*10000) / 100
	}
	return lp
}

// StreakMultiplier returns the XP multiplier for a daily streak: the largest
// step reached, never below 1.0 and never above MaxMultiplier.
func (r Rules) StreakMultiplier(currentStreak int) float64 {
	m := 1.0
	for _, step := range r.StreakMultipliers {
		if currentStreak >= step.MinDays && step.Multiplier > m {
			m = step.Multiplier
		}
	}
	if m > r.MaxMultiplier {
		m = r.MaxMultiplier
	}
	return m
}

// StreakMilestoneBonus returns the bonus XP for reaching exactly this streak
// length, 0 for non-milestone days.
func (r Rules) StreakMilestoneBonus(currentStreak int) int64 {
	return r.StreakMilestones[currentStreak]
}

// ApplyMultiplier rounds the multiplied XP to the nearest integer.
func ApplyMultiplier(xp int64, multiplier float64) int64 {
	return int64(math.Round(float64(xp) * multiplier))
}

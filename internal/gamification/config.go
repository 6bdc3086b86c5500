package gamification

import (
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/brightpath/backend/internal/models"
	"gopkg.in/yaml.v3"
)

// MultiplierStep applies Multiplier once a streak reaches MinDays.
type MultiplierStep struct {
	MinDays    int     `yaml:"min_days"`
	Multiplier float64 `yaml:"multiplier"`
}

// BadgeKind selects the profile counter a badge threshold is compared to.
type BadgeKind string

const (
	BadgeKindStreak BadgeKind = "streak"
	BadgeKindLevel  BadgeKind = "level"
	BadgeKindXP     BadgeKind = "xp"
)

type BadgeDef struct {
	Key       string    `yaml:"key"`
	Name      string    `yaml:"name"`
	Kind      BadgeKind `yaml:"kind"`
	Threshold int64     `yaml:"threshold"`
}

// Rules is the engine's tunable configuration. An Engine keeps its own copy,
// so changing a Rules value after NewEngine has no effect.
type Rules struct {
	// Level curve: threshold(L) = floor(LevelBaseXP * (L-1)^LevelExponent).
	LevelBaseXP   float64 `yaml:"level_base_xp"`
	LevelExponent float64 `yaml:"level_exponent"`
	MaxLevel      int     `yaml:"max_level"`

	StreakMultipliers []MultiplierStep `yaml:"streak_multipliers"`
	MaxMultiplier     float64          `yaml:"max_multiplier"`
	StreakMilestones  map[int]int64    `yaml:"streak_milestones"`

	XPPerPhase            int64 `yaml:"xp_per_phase"`
	XPPerMission          int64 `yaml:"xp_per_mission"`
	XPPerZone             int64 `yaml:"xp_per_zone"`
	PerfectScoreBonus     int64 `yaml:"perfect_score_bonus"`
	DailyActivityXP       int64 `yaml:"daily_activity_xp"`
	DailyStreakBonusXP    int64 `yaml:"daily_streak_bonus_xp"`
	ImprovementXPPerPoint int64 `yaml:"improvement_xp_per_point"`
	MaxSingleAward        int64 `yaml:"max_single_award"`

	// Awards for these reasons are never scaled by the streak multiplier.
	UnmultipliedReasons []models.Reason `yaml:"unmultiplied_reasons"`

	Badges []BadgeDef `yaml:"badges"`

	// Default tracking timezone for users without one of their own.
	Timezone string `yaml:"timezone"`
}

func DefaultRules() Rules {
	return Rules{
		LevelBaseXP:   100,
		LevelExponent: 2.22,
		MaxLevel:      100,
		StreakMultipliers: []MultiplierStep{
			{MinDays: 5, Multiplier: 1.2},
			{MinDays: 10, Multiplier: 1.5},
			{MinDays: 20, Multiplier: 2.0},
		},
		MaxMultiplier: 2.0,
		StreakMilestones: map[int]int64{
			3:   20,
			7:   50,
			30:  200,
			100: 500,
		},
		XPPerPhase:            20,
		XPPerMission:          50,
		XPPerZone:             200,
		PerfectScoreBonus:     25,
		DailyActivityXP:       10,
		DailyStreakBonusXP:    5,
		ImprovementXPPerPoint: 5,
		MaxSingleAward:        500,
		UnmultipliedReasons: []models.Reason{
			models.ReasonStreakMilestone,
			models.ReasonDailyActivity,
			models.ReasonDailyStreakBonus,
			models.ReasonAdminAdjustment,
		},
		Badges: []BadgeDef{
			{Key: "streak_3", Name: "Getting Started", Kind: BadgeKindStreak, Threshold: 3},
			{Key: "streak_7", Name: "Week Warrior", Kind: BadgeKindStreak, Threshold: 7},
			{Key: "streak_30", Name: "Monthly Master", Kind: BadgeKindStreak, Threshold: 30},
			{Key: "streak_100", Name: "Centurion", Kind: BadgeKindStreak, Threshold: 100},
			{Key: "level_5", Name: "Rising Star", Kind: BadgeKindLevel, Threshold: 5},
			{Key: "level_10", Name: "Scholar", Kind: BadgeKindLevel, Threshold: 10},
			{Key: "xp_1000", Name: "Powerhouse", Kind: BadgeKindXP, Threshold: 1000},
			{Key: "xp_10000", Name: "Legend", Kind: BadgeKindXP, Threshold: 10000},
		},
		Timezone: "UTC",
	}
}

// LoadRules returns DefaultRules overlaid with the YAML file at path.
// An empty path yields the defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return Rules{}, fmt.Errorf("parse rules file: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

// maxStoredMultiplier is the largest value xp_awards.multiplier
// (NUMERIC(4,2)) can hold.
const maxStoredMultiplier = 9.99

// hundredths reports whether m has at most two decimal places.
func hundredths(m float64) bool {
	return math.Abs(m*100-math.Round(m*100)) < 1e-9
}

// Validate rejects configurations that would break the engine's invariants.
func (r Rules) Validate() error {
	if r.LevelBaseXP <= 0 || r.LevelExponent <= 0 {
		return fmt.Errorf("rules: level curve must be positive")
	}
	if r.MaxLevel < 1 {
		return fmt.Errorf("rules: max_level must be at least 1")
	}
	if r.MaxMultiplier < 1 || r.MaxMultiplier > maxStoredMultiplier {
		return fmt.Errorf("rules: max_multiplier must be between 1 and %.2f", maxStoredMultiplier)
	}
	if !hundredths(r.MaxMultiplier) {
		return fmt.Errorf("rules: max_multiplier %v has more than two decimals", r.MaxMultiplier)
	}

	steps := append([]MultiplierStep(nil), r.StreakMultipliers...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].MinDays < steps[j].MinDays })
	prev := 1.0
	for _, s := range steps {
		if s.MinDays < 1 {
			return fmt.Errorf("rules: multiplier step min_days must be >= 1")
		}
		if s.Multiplier < prev {
			return fmt.Errorf("rules: streak multiplier decreases at %d days", s.MinDays)
		}
		if s.Multiplier > maxStoredMultiplier || !hundredths(s.Multiplier) {
			return fmt.Errorf("rules: multiplier %v at %d days must be at most %.2f with two decimals",
				s.Multiplier, s.MinDays, maxStoredMultiplier)
		}
		prev = s.Multiplier
	}

	for days, bonus := range r.StreakMilestones {
		if days < 2 || bonus < 0 {
			return fmt.Errorf("rules: invalid streak milestone %d => %d", days, bonus)
		}
	}

	amounts := map[string]int64{
		"xp_per_phase":             r.XPPerPhase,
		"xp_per_mission":           r.XPPerMission,
		"xp_per_zone":              r.XPPerZone,
		"perfect_score_bonus":      r.PerfectScoreBonus,
		"daily_activity_xp":        r.DailyActivityXP,
		"daily_streak_bonus_xp":    r.DailyStreakBonusXP,
		"improvement_xp_per_point": r.ImprovementXPPerPoint,
	}
	for name, v := range amounts {
		if v < 0 {
			return fmt.Errorf("rules: %s must not be negative", name)
		}
	}
	if r.MaxSingleAward <= 0 {
		return fmt.Errorf("rules: max_single_award must be positive")
	}

	for _, reason := range r.UnmultipliedReasons {
		if !reason.Valid() {
			return fmt.Errorf("rules: unknown reason %q", reason)
		}
	}

	seen := make(map[string]bool, len(r.Badges))
	for _, b := range r.Badges {
		if b.Key == "" || seen[b.Key] {
			return fmt.Errorf("rules: badge key %q is empty or duplicated", b.Key)
		}
		seen[b.Key] = true
		switch b.Kind {
		case BadgeKindStreak, BadgeKindLevel, BadgeKindXP:
		default:
			return fmt.Errorf("rules: badge %q has unknown kind %q", b.Key, b.Kind)
		}
	}

	if _, err := time.LoadLocation(r.Timezone); err != nil {
		return fmt.Errorf("rules: timezone: %w", err)
	}
	return nil
}

// clone deep-copies the slices and maps so the engine's copy stays immutable.
func (r Rules) clone() Rules {
	out := r
	out.StreakMultipliers = append([]MultiplierStep(nil), r.StreakMultipliers...)
	out.UnmultipliedReasons = append([]models.Reason(nil), r.UnmultipliedReasons...)
	out.Badges = append([]BadgeDef(nil), r.Badges...)
	out.StreakMilestones = make(map[int]int64, len(r.StreakMilestones))
	for k, v := range r.StreakMilestones {
		out.StreakMilestones[k] = v
	}
	return out
}

func (r Rules) multiplied(reason models.Reason) bool {
	for _, u := range r.UnmultipliedReasons {
		if u == reason {
			return false
		}
	}
	return true
}

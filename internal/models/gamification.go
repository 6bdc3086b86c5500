package models

import (
	"time"

	"github.com/google/uuid"
)

// ── Core Gamification Structs ─────────────────────────────

// Profile is the per-user gamification row. Level is derived from TotalXP
// on read and never persisted.
type Profile struct {
	UserID           uuid.UUID `json:"user_id"`
	TotalXP          int64     `json:"total_xp"`
	Level            int       `json:"level"`
	CurrentStreak    int       `json:"current_streak"`
	LongestStreak    int       `json:"longest_streak"`
	LastActivityDate string    `json:"last_activity_date,omitempty"`
	StreakRunID      int       `json:"streak_run_id"`
	Timezone         string    `json:"timezone,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type XPAward struct {
	ID            int64     `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	Reason        Reason    `json:"reason"`
	SourceEventID string    `json:"source_event_id"`
	BaseAmount    int64     `json:"base_amount"`
	Multiplier    float64   `json:"multiplier"`
	FinalAmount   int64     `json:"final_amount"`
	ChapterID     *int64    `json:"chapter_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type AssessmentScore struct {
	ID             int64          `json:"id"`
	UserID         uuid.UUID      `json:"user_id"`
	ChapterID      int64          `json:"chapter_id"`
	AssessmentType AssessmentType `json:"assessment_type"`
	Score          int            `json:"score"`
	MaxScore       int            `json:"max_score"`
	CreatedAt      time.Time      `json:"created_at"`
}

type StreakMilestone struct {
	ID           int64     `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	StreakLength int       `json:"streak_length"`
	BonusXP      int64     `json:"bonus_xp"`
	CreatedAt    time.Time `json:"created_at"`
}

type UserBadge struct {
	UserID    uuid.UUID `json:"user_id"`
	BadgeKey  string    `json:"badge_key"`
	Name      string    `json:"name,omitempty"`
	AwardedAt time.Time `json:"awarded_at"`
}

// ── Enumerations ──────────────────────────────────────────

// Reason is the ledger reason code of an XP award.
type Reason string

const (
	ReasonPhaseComplete     Reason = "phase-complete"
	ReasonMissionComplete   Reason = "mission-complete"
	ReasonZoneComplete      Reason = "zone-complete"
	ReasonPerfectScoreBonus Reason = "perfect-score-bonus"
	ReasonStreakMilestone   Reason = "streak-milestone-bonus"
	ReasonDailyActivity     Reason = "daily-activity"
	ReasonDailyStreakBonus  Reason = "daily-streak-bonus"
	ReasonImprovement       Reason = "improvement"
	ReasonAdminAdjustment   Reason = "admin-adjustment"
)

var validReasons = map[Reason]bool{
	ReasonPhaseComplete:     true,
	ReasonMissionComplete:   true,
	ReasonZoneComplete:      true,
	ReasonPerfectScoreBonus: true,
	ReasonStreakMilestone:   true,
	ReasonDailyActivity:     true,
	ReasonDailyStreakBonus:  true,
	ReasonImprovement:       true,
	ReasonAdminAdjustment:   true,
}

func (r Reason) Valid() bool { return validReasons[r] }

type AssessmentType string

const (
	AssessmentBaseline AssessmentType = "baseline"
	AssessmentAfter    AssessmentType = "after"
	AssessmentQuiz     AssessmentType = "quiz"
)

func (t AssessmentType) Valid() bool {
	switch t {
	case AssessmentBaseline, AssessmentAfter, AssessmentQuiz:
		return true
	}
	return false
}

// StreakOutcome describes which branch a streak update took.
type StreakOutcome string

const (
	StreakUnchanged StreakOutcome = "unchanged"
	StreakStarted   StreakOutcome = "started"
	StreakContinued StreakOutcome = "continued"
	StreakReset     StreakOutcome = "reset"
)

// ── Request Types ─────────────────────────────────────────

type AwardXPRequest struct {
	UserID        string `json:"user_id" validate:"required,uuid"`
	Reason        Reason `json:"reason" validate:"required"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	SourceEventID string `json:"source_event_id,omitempty" validate:"omitempty,max=200"`
	ChapterID     *int64 `json:"chapter_id,omitempty" validate:"omitempty,gt=0"`
}

// BackfillStreakRequest records activity for a past day on a user's behalf.
// Students never pick the day; their streak always uses their own today.
type BackfillStreakRequest struct {
	UserID       string `json:"user_id" validate:"required,uuid"`
	ActivityDate string `json:"activity_date" validate:"required,datetime=2006-01-02"`
}

type RecordAssessmentRequest struct {
	ChapterID      int64          `json:"chapter_id" validate:"required,gt=0"`
	AssessmentType AssessmentType `json:"assessment_type" validate:"required,oneof=baseline after quiz"`
	Score          int            `json:"score" validate:"gte=0"`
	MaxScore       int            `json:"max_score" validate:"required,gt=0"`
}

type CompletePhaseRequest struct {
	PhaseID         int64  `json:"phase_id" validate:"required,gt=0"`
	ChapterID       int64  `json:"chapter_id" validate:"required,gt=0"`
	ZoneID          *int64 `json:"zone_id,omitempty" validate:"omitempty,gt=0"`
	MissionComplete bool   `json:"mission_complete"`
	ZoneComplete    bool   `json:"zone_complete"`
	Perfect         bool   `json:"perfect"`
}

type SetTimezoneRequest struct {
	Timezone string `json:"timezone" validate:"required,max=64"`
}

// ── Response Types ────────────────────────────────────────

type LevelProgress struct {
	Level          int     `json:"level"`
	CurrentLevelXP int64   `json:"current_level_xp"`
	NextLevelXP    int64   `json:"next_level_xp"`
	XPNeeded       int64   `json:"xp_needed"`
	Progress       float64 `json:"progress"`
}

type GamificationResponse struct {
	Profile          Profile       `json:"profile"`
	LevelProgress    LevelProgress `json:"level_progress"`
	StreakMultiplier float64       `json:"streak_multiplier"`
	Badges           []UserBadge   `json:"badges"`
}

type AwardResponse struct {
	XPAwarded  int64    `json:"xp_awarded"`
	Multiplier float64  `json:"multiplier"`
	TotalXP    int64    `json:"total_xp"`
	Level      int      `json:"level"`
	OldLevel   int      `json:"old_level"`
	LeveledUp  bool     `json:"leveled_up"`
	Duplicate  bool     `json:"already_awarded"`
	NewBadges  []string `json:"new_badges"`
}

type StreakResponse struct {
	Outcome          StreakOutcome `json:"outcome"`
	CurrentStreak    int           `json:"current_streak"`
	LongestStreak    int           `json:"longest_streak"`
	MilestoneReached int           `json:"milestone_reached,omitempty"`
	MilestoneBonus   int64         `json:"milestone_bonus,omitempty"`
	XPAwarded        int64         `json:"xp_awarded"`
	TotalXP          int64         `json:"total_xp"`
	Level            int           `json:"level"`
	NewBadges        []string      `json:"new_badges"`
}

type AssessmentResponse struct {
	Score            AssessmentScore `json:"score"`
	IsPerfect        bool            `json:"is_perfect"`
	PerfectBonus     int64           `json:"perfect_bonus"`
	Improvement      int             `json:"improvement"`
	ImprovementBonus int64           `json:"improvement_bonus"`
	TotalXP          int64           `json:"total_xp"`
	Level            int             `json:"level"`
}

type PhaseXPBreakdown struct {
	Phase   int64 `json:"phase"`
	Mission int64 `json:"mission"`
	Zone    int64 `json:"zone"`
	Total   int64 `json:"total"`
}

type PhaseCompleteResponse struct {
	XPAwarded PhaseXPBreakdown `json:"xp_awarded"`
	Streak    StreakResponse   `json:"streak"`
	TotalXP   int64            `json:"total_xp"`
	Level     int              `json:"level"`
	LeveledUp bool             `json:"leveled_up"`
}

type LeaderboardEntry struct {
	Rank    int       `json:"rank"`
	UserID  uuid.UUID `json:"user_id"`
	TotalXP int64     `json:"total_xp"`
	Level   int       `json:"level"`
}

type LeaderboardResponse struct {
	Entries []LeaderboardEntry `json:"entries"`
}

type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

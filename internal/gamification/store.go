package gamification

import (
	"context"

	"github.com/brightpath/backend/internal/models"
	"github.com/google/uuid"
)

// Store is the persistence contract of the engine. Every mutation happens
// inside WithProfile, which serialises work per user and applies all writes
// of fn atomically: either everything fn wrote is committed, or nothing is.
type Store interface {
	// WithProfile runs fn against the user's locked profile. With create set,
	// a zero profile is inserted first if none exists; otherwise a missing
	// profile yields ErrProfileNotFound. Returning an error from fn rolls the
	// unit back.
	WithProfile(ctx context.Context, userID uuid.UUID, create bool, fn func(tx ProfileTx) error) error

	GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	RecentAwards(ctx context.Context, userID uuid.UUID, limit int) ([]models.XPAward, error)
	StreakHistory(ctx context.Context, userID uuid.UUID) ([]models.StreakMilestone, error)
	UserBadges(ctx context.Context, userID uuid.UUID) ([]models.UserBadge, error)

	// TopProfiles returns profiles ordered by total XP, highest first.
	TopProfiles(ctx context.Context, limit int) ([]models.Profile, error)

	// ActiveStreaks returns every profile with a non-zero current streak.
	ActiveStreaks(ctx context.Context) ([]models.Profile, error)
}

// ProfileTx is one user's unit of work.
type ProfileTx interface {
	Profile() models.Profile
	UpsertProfile(p models.Profile) error

	HasAward(reason models.Reason, sourceEventID string) (bool, error)
	// InsertAward appends a ledger entry and fills in its ID and CreatedAt.
	// An existing (user, reason, source event) yields ErrDuplicateAward.
	InsertAward(a *models.XPAward) error

	InsertAssessmentScore(s *models.AssessmentScore) error
	// LatestAssessmentScore returns nil, nil when nothing was recorded yet.
	LatestAssessmentScore(chapterID int64, t models.AssessmentType) (*models.AssessmentScore, error)
	// AssessmentScores lists every score of one type for a chapter, oldest first.
	AssessmentScores(chapterID int64, t models.AssessmentType) ([]models.AssessmentScore, error)

	InsertStreakMilestone(m *models.StreakMilestone) error

	// AwardBadge reports whether the badge was newly granted.
	AwardBadge(key string) (bool, error)
}

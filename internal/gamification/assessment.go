package gamification

import (
	"context"
	"fmt"
	"math"

	"github.com/brightpath/backend/internal/models"
	"github.com/google/uuid"
)

type AssessmentRequest struct {
	UserID         uuid.UUID
	ChapterID      int64
	AssessmentType models.AssessmentType
	Score          int
	MaxScore       int
}

type AssessmentResult struct {
	Profile   models.Profile
	Score     models.AssessmentScore
	IsPerfect bool
	// PerfectBonus is nil unless this submission newly earned the bonus.
	PerfectBonus *models.XPAward
	// Improvement is the gain in points over the chapter baseline, rescaled
	// to this assessment's max score. Only set for "after" assessments.
	Improvement int
	// ImprovementBonus pays only the points beyond the best earlier gain.
	ImprovementBonus *models.XPAward
	NewBadges        []string
}

func validateAssessment(req AssessmentRequest) error {
	switch {
	case req.UserID == uuid.Nil:
		return invalid("user_id", "is required")
	case req.ChapterID <= 0:
		return invalid("chapter_id", "must be positive")
	case !req.AssessmentType.Valid():
		return invalid("assessment_type", "unknown type %q", req.AssessmentType)
	case req.MaxScore <= 0:
		return invalid("max_score", "must be positive")
	case req.Score < 0:
		return invalid("score", "must not be negative")
	case req.Score > req.MaxScore:
		return invalid("score", "%d exceeds max score %d", req.Score, req.MaxScore)
	}
	return nil
}

// improvementOver rescales the baseline to maxScore and returns how many
// points score gained on it.
func improvementOver(baseline *models.AssessmentScore, score, maxScore int) int {
	if baseline == nil || baseline.MaxScore <= 0 {
		return 0
	}
	normalised := int(math.Round(float64(baseline.Score) * float64(maxScore) / float64(baseline.MaxScore)))
	return score - normalised
}

// bestGain is the largest improvement any earlier score made over baseline.
func bestGain(baseline *models.AssessmentScore, prior []models.AssessmentScore) int {
	best := 0
	for _, sc := range prior {
		if g := improvementOver(baseline, sc.Score, sc.MaxScore); g > best {
			best = g
		}
	}
	return best
}

// RecordAssessment stores a score and credits the perfect-score bonus once
// per chapter and type. The improvement bonus is paid each time an "after"
// score beats the best gain so far, for the extra points only.
func (e *Engine) RecordAssessment(ctx context.Context, req AssessmentRequest) (*AssessmentResult, error) {
	if err := validateAssessment(req); err != nil {
		return nil, err
	}

	res := &AssessmentResult{IsPerfect: req.Score == req.MaxScore}
	u, err := e.run(ctx, "record assessment", req.UserID, true, func(u *unit) error {
		var (
			baseline *models.AssessmentScore
			prior    []models.AssessmentScore
		)
		if req.AssessmentType == models.AssessmentAfter {
			var err error
			baseline, err = u.tx.LatestAssessmentScore(req.ChapterID, models.AssessmentBaseline)
			if err != nil {
				return err
			}
			if improvementOver(baseline, req.Score, req.MaxScore) > 0 {
				if prior, err = u.tx.AssessmentScores(req.ChapterID, models.AssessmentAfter); err != nil {
					return err
				}
			}
		}

		res.Score = models.AssessmentScore{
			UserID:         req.UserID,
			ChapterID:      req.ChapterID,
			AssessmentType: req.AssessmentType,
			Score:          req.Score,
			MaxScore:       req.MaxScore,
		}
		if err := u.tx.InsertAssessmentScore(&res.Score); err != nil {
			return err
		}

		chapter := req.ChapterID
		if res.IsPerfect && e.rules.PerfectScoreBonus > 0 {
			key := fmt.Sprintf("perfect:%d:%s", req.ChapterID, req.AssessmentType)
			a, err := u.award(models.ReasonPerfectScoreBonus, e.rules.PerfectScoreBonus, key, &chapter)
			if err != nil {
				return err
			}
			res.PerfectBonus = a
		}

		res.Improvement = improvementOver(baseline, req.Score, req.MaxScore)
		if gain := res.Improvement - bestGain(baseline, prior); gain > 0 && e.rules.ImprovementXPPerPoint > 0 {
			xp := int64(gain) * e.rules.ImprovementXPPerPoint
			if xp > e.rules.MaxSingleAward {
				xp = e.rules.MaxSingleAward
			}
			key := fmt.Sprintf("improvement:%d:%d", req.ChapterID, res.Improvement)
			a, err := u.award(models.ReasonImprovement, xp, key, &chapter)
			if err != nil {
				return err
			}
			res.ImprovementBonus = a
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.Profile = u.profile
	res.NewBadges = u.newBadges
	return res, nil
}

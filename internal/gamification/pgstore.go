package gamification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/brightpath/backend/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const profileColumns = `SELECT user_id, total_xp, current_streak, longest_streak,
        last_activity_date, streak_run_id, timezone, created_at, updated_at
 FROM user_gamification`

// PGStore implements Store on PostgreSQL. Units of work run in a transaction
// holding a row lock on the user's profile.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row rowScanner) (models.Profile, error) {
	var p models.Profile
	var last sql.NullTime
	err := row.Scan(&p.UserID, &p.TotalXP, &p.CurrentStreak, &p.LongestStreak,
		&last, &p.StreakRunID, &p.Timezone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return models.Profile{}, err
	}
	if last.Valid {
		p.LastActivityDate = last.Time.Format(dateKeyLayout)
	}
	return p, nil
}

func nullDate(key string) interface{} {
	if key == "" {
		return nil
	}
	return key
}

// ── Unit of work ────────────────────────────────────────

func (s *PGStore) WithProfile(ctx context.Context, userID uuid.UUID, create bool, fn func(tx ProfileTx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if create {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO user_gamification (user_id) VALUES ($1)
			 ON CONFLICT (user_id) DO NOTHING`,
			userID,
		)
		if err != nil {
			return fmt.Errorf("create profile: %w", err)
		}
	}

	p, err := scanProfile(tx.QueryRowContext(ctx, profileColumns+` WHERE user_id = $1 FOR UPDATE`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrProfileNotFound
	}
	if err != nil {
		return fmt.Errorf("lock profile: %w", err)
	}

	if err = fn(&pgTx{ctx: ctx, tx: tx, profile: p}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTx struct {
	ctx     context.Context
	tx      *sql.Tx
	profile models.Profile
}

func (t *pgTx) Profile() models.Profile { return t.profile }

func (t *pgTx) UpsertProfile(p models.Profile) error {
	err := t.tx.QueryRowContext(t.ctx,
		`UPDATE user_gamification SET
		    total_xp = $2, current_streak = $3, longest_streak = $4,
		    last_activity_date = $5, streak_run_id = $6, timezone = $7,
		    updated_at = NOW()
		 WHERE user_id = $1
		 RETURNING updated_at`,
		p.UserID, p.TotalXP, p.CurrentStreak, p.LongestStreak,
		nullDate(p.LastActivityDate), p.StreakRunID, p.Timezone,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	t.profile = p
	return nil
}

func (t *pgTx) HasAward(reason models.Reason, sourceEventID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT EXISTS(
		    SELECT 1 FROM xp_awards
		    WHERE user_id = $1 AND reason = $2 AND source_event_id = $3
		)`,
		t.profile.UserID, reason, sourceEventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check award: %w", err)
	}
	return exists, nil
}

func (t *pgTx) InsertAward(a *models.XPAward) error {
	err := t.tx.QueryRowContext(t.ctx,
		`INSERT INTO xp_awards (user_id, reason, source_event_id, base_amount, multiplier, final_amount, chapter_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, reason, source_event_id) DO NOTHING
		 RETURNING id, created_at`,
		a.UserID, a.Reason, a.SourceEventID, a.BaseAmount, a.Multiplier, a.FinalAmount, a.ChapterID,
	).Scan(&a.ID, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		return ErrDuplicateAward
	}
	if err != nil {
		return fmt.Errorf("insert award: %w", err)
	}
	return nil
}

func (t *pgTx) InsertAssessmentScore(s *models.AssessmentScore) error {
	err := t.tx.QueryRowContext(t.ctx,
		`INSERT INTO assessment_scores (user_id, chapter_id, assessment_type, score, max_score)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		s.UserID, s.ChapterID, s.AssessmentType, s.Score, s.MaxScore,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert assessment score: %w", err)
	}
	return nil
}

func (t *pgTx) LatestAssessmentScore(chapterID int64, at models.AssessmentType) (*models.AssessmentScore, error) {
	s := models.AssessmentScore{UserID: t.profile.UserID, ChapterID: chapterID, AssessmentType: at}
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT id, score, max_score, created_at
		 FROM assessment_scores
		 WHERE user_id = $1 AND chapter_id = $2 AND assessment_type = $3
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		t.profile.UserID, chapterID, at,
	).Scan(&s.ID, &s.Score, &s.MaxScore, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest assessment score: %w", err)
	}
	return &s, nil
}

func (t *pgTx) AssessmentScores(chapterID int64, at models.AssessmentType) ([]models.AssessmentScore, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT id, score, max_score, created_at
		 FROM assessment_scores
		 WHERE user_id = $1 AND chapter_id = $2 AND assessment_type = $3
		 ORDER BY created_at, id`,
		t.profile.UserID, chapterID, at,
	)
	if err != nil {
		return nil, fmt.Errorf("list assessment scores: %w", err)
	}
	defer rows.Close()

	var out []models.AssessmentScore
	for rows.Next() {
		s := models.AssessmentScore{UserID: t.profile.UserID, ChapterID: chapterID, AssessmentType: at}
		if err := rows.Scan(&s.ID, &s.Score, &s.MaxScore, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan assessment score: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertStreakMilestone(m *models.StreakMilestone) error {
	err := t.tx.QueryRowContext(t.ctx,
		`INSERT INTO streak_history (user_id, streak_length, bonus_xp)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		m.UserID, m.StreakLength, m.BonusXP,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert streak milestone: %w", err)
	}
	return nil
}

func (t *pgTx) AwardBadge(key string) (bool, error) {
	result, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO user_badges (user_id, badge_key) VALUES ($1, $2)
		 ON CONFLICT (user_id, badge_key) DO NOTHING`,
		t.profile.UserID, key,
	)
	if err != nil {
		return false, fmt.Errorf("award badge: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// ── Reads ───────────────────────────────────────────────

func (s *PGStore) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx, profileColumns+` WHERE user_id = $1`, userID))
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

func (s *PGStore) RecentAwards(ctx context.Context, userID uuid.UUID, limit int) ([]models.XPAward, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, reason, source_event_id, base_amount, multiplier, final_amount, chapter_id, created_at
		 FROM xp_awards
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get awards: %w", err)
	}
	defer rows.Close()

	awards := []models.XPAward{}
	for rows.Next() {
		var a models.XPAward
		if err := rows.Scan(&a.ID, &a.UserID, &a.Reason, &a.SourceEventID, &a.BaseAmount,
			&a.Multiplier, &a.FinalAmount, &a.ChapterID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan award: %w", err)
		}
		awards = append(awards, a)
	}
	return awards, rows.Err()
}

func (s *PGStore) StreakHistory(ctx context.Context, userID uuid.UUID) ([]models.StreakMilestone, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, streak_length, bonus_xp, created_at
		 FROM streak_history
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("get streak history: %w", err)
	}
	defer rows.Close()

	history := []models.StreakMilestone{}
	for rows.Next() {
		var m models.StreakMilestone
		if err := rows.Scan(&m.ID, &m.UserID, &m.StreakLength, &m.BonusXP, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan streak milestone: %w", err)
		}
		history = append(history, m)
	}
	return history, rows.Err()
}

func (s *PGStore) UserBadges(ctx context.Context, userID uuid.UUID) ([]models.UserBadge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, badge_key, awarded_at FROM user_badges
		 WHERE user_id = $1 ORDER BY awarded_at, badge_key`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("get badges: %w", err)
	}
	defer rows.Close()

	badges := []models.UserBadge{}
	for rows.Next() {
		var b models.UserBadge
		if err := rows.Scan(&b.UserID, &b.BadgeKey, &b.AwardedAt); err != nil {
			return nil, fmt.Errorf("scan badge: %w", err)
		}
		badges = append(badges, b)
	}
	return badges, rows.Err()
}

func (s *PGStore) TopProfiles(ctx context.Context, limit int) ([]models.Profile, error) {
	return s.queryProfiles(ctx, "top profiles",
		profileColumns+` WHERE total_xp > 0 ORDER BY total_xp DESC, user_id LIMIT $1`, limit)
}

func (s *PGStore) ActiveStreaks(ctx context.Context) ([]models.Profile, error) {
	return s.queryProfiles(ctx, "active streaks",
		profileColumns+` WHERE current_streak > 0`)
}

func (s *PGStore) queryProfiles(ctx context.Context, op, query string, args ...interface{}) ([]models.Profile, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var profiles []models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

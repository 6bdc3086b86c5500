package gamification

import (
	"context"
	"errors"
	"time"

	"github.com/brightpath/backend/internal/logger"
	"github.com/brightpath/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

const maxSourceEventIDLen = 200

// Engine runs the gamification transactions. It is safe for concurrent use;
// consistency for one user is provided by the Store's unit of work.
type Engine struct {
	store Store
	rules Rules
	clock clockwork.Clock
	dates *Dates
	board Leaderboard
	log   *logger.Logger
}

type Option func(*Engine)

// WithLeaderboard replaces the default store-backed leaderboard.
func WithLeaderboard(lb Leaderboard) Option {
	return func(e *Engine) { e.board = lb }
}

func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func NewEngine(store Store, rules Rules, clock clockwork.Clock, opts ...Option) (*Engine, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	rules = rules.clone()
	dates, err := NewDates(clock, rules.Timezone)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		store: store,
		rules: rules,
		clock: clock,
		dates: dates,
		log:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.board == nil {
		e.board = NewStoreLeaderboard(store)
	}
	e.log = e.log.With("component", "gamification")
	return e, nil
}

// Rules returns a copy of the engine's configuration.
func (e *Engine) Rules() Rules { return e.rules.clone() }

func (e *Engine) hydrate(p models.Profile) models.Profile {
	p.Level = e.rules.LevelFromXP(p.TotalXP)
	return p
}

// ── Unit of work ────────────────────────────────────────

// unit accumulates the changes one operation makes to a locked profile.
type unit struct {
	e         *Engine
	tx        ProfileTx
	profile   models.Profile
	oldLevel  int
	awarded   int64
	dirty     bool
	newBadges []string
}

// award appends one ledger entry and credits the profile. A nil award with
// a nil error means the source event was already credited.
func (u *unit) award(reason models.Reason, base int64, sourceEventID string, chapterID *int64) (*models.XPAward, error) {
	if sourceEventID == "" {
		sourceEventID = uuid.NewString()
	} else {
		dup, err := u.tx.HasAward(reason, sourceEventID)
		if err != nil {
			return nil, err
		}
		if dup {
			u.e.log.Debug("award skipped, already credited",
				"user_id", u.profile.UserID, "reason", reason, "source_event_id", sourceEventID)
			return nil, nil
		}
	}

	multiplier := 1.0
	if u.e.rules.multiplied(reason) {
		multiplier = u.e.rules.StreakMultiplier(u.profile.CurrentStreak)
	}
	a := &models.XPAward{
		UserID:        u.profile.UserID,
		Reason:        reason,
		SourceEventID: sourceEventID,
		BaseAmount:    base,
		Multiplier:    multiplier,
		FinalAmount:   ApplyMultiplier(base, multiplier),
		ChapterID:     chapterID,
	}
	if err := u.tx.InsertAward(a); err != nil {
		if errors.Is(err, ErrDuplicateAward) {
			return nil, nil
		}
		return nil, err
	}

	u.profile.TotalXP += a.FinalAmount
	u.awarded += a.FinalAmount
	u.dirty = true
	return a, nil
}

// finish persists the profile and grants any badges it now qualifies for.
func (u *unit) finish() error {
	if !u.dirty {
		return nil
	}
	u.profile = u.e.hydrate(u.profile)
	if err := u.tx.UpsertProfile(u.profile); err != nil {
		return err
	}
	for _, b := range u.e.rules.QualifyingBadges(u.profile) {
		granted, err := u.tx.AwardBadge(b.Key)
		if err != nil {
			return err
		}
		if granted {
			u.newBadges = append(u.newBadges, b.Key)
		}
	}
	return nil
}

func (u *unit) leveledUp() bool {
	return u.profile.Level > u.oldLevel
}

// run executes fn inside one unit of work and maps failures onto the
// engine's error kinds.
func (e *Engine) run(ctx context.Context, op string, userID uuid.UUID, create bool, fn func(u *unit) error) (*unit, error) {
	var u *unit
	err := e.store.WithProfile(ctx, userID, create, func(tx ProfileTx) error {
		p := e.hydrate(tx.Profile())
		u = &unit{e: e, tx: tx, profile: p, oldLevel: p.Level}
		if err := fn(u); err != nil {
			return err
		}
		return u.finish()
	})
	if err != nil {
		err = persistErr(op, userID, err)
		var pe *PersistenceError
		if errors.As(err, &pe) {
			e.log.Error("unit of work failed", "op", op, "user_id", userID, "error", pe.Err)
		}
		return nil, err
	}

	if u.awarded > 0 {
		if err := e.board.Record(ctx, userID, u.profile.TotalXP); err != nil {
			e.log.Warn("leaderboard update failed", "user_id", userID, "error", err)
		}
	}
	if len(u.newBadges) > 0 {
		e.log.Info("badges granted", "user_id", userID, "badges", u.newBadges)
	}
	return u, nil
}

// ── XP Award ────────────────────────────────────────────

type AwardRequest struct {
	UserID     uuid.UUID
	Reason     models.Reason
	BaseAmount int64
	// SourceEventID makes the award idempotent. Empty means always award.
	SourceEventID string
	ChapterID     *int64
}

type AwardResult struct {
	Profile    models.Profile
	Award      *models.XPAward
	Delta      int64
	Multiplier float64
	OldLevel   int
	LeveledUp  bool
	// Duplicate is set when the source event had already been credited;
	// nothing was written.
	Duplicate bool
	NewBadges []string
}

func (e *Engine) validateAward(req AwardRequest) error {
	if req.UserID == uuid.Nil {
		return invalid("user_id", "is required")
	}
	if !req.Reason.Valid() {
		return invalid("reason", "unknown reason %q", req.Reason)
	}
	if req.BaseAmount <= 0 {
		return invalid("amount", "must be positive")
	}
	if req.BaseAmount > e.rules.MaxSingleAward {
		return invalid("amount", "must not exceed %d", e.rules.MaxSingleAward)
	}
	if len(req.SourceEventID) > maxSourceEventIDLen {
		return invalid("source_event_id", "must be at most %d characters", maxSourceEventIDLen)
	}
	if req.ChapterID != nil && *req.ChapterID <= 0 {
		return invalid("chapter_id", "must be positive")
	}
	return nil
}

// AwardXP credits base XP scaled by the user's streak multiplier. Awarding
// the same (reason, source event) again returns the unchanged profile with
// Duplicate set.
func (e *Engine) AwardXP(ctx context.Context, req AwardRequest) (*AwardResult, error) {
	if err := e.validateAward(req); err != nil {
		return nil, err
	}

	var award *models.XPAward
	u, err := e.run(ctx, "award xp", req.UserID, true, func(u *unit) error {
		var err error
		award, err = u.award(req.Reason, req.BaseAmount, req.SourceEventID, req.ChapterID)
		return err
	})
	if err != nil {
		return nil, err
	}

	res := &AwardResult{
		Profile:   u.profile,
		Award:     award,
		OldLevel:  u.oldLevel,
		LeveledUp: u.leveledUp(),
		Duplicate: award == nil,
		NewBadges: u.newBadges,
	}
	if award != nil {
		res.Delta = award.FinalAmount
		res.Multiplier = award.Multiplier
		e.log.Info("xp awarded",
			"user_id", req.UserID, "reason", req.Reason, "base", req.BaseAmount,
			"multiplier", award.Multiplier, "final", award.FinalAmount, "total_xp", u.profile.TotalXP)
	}
	return res, nil
}

// ── Reads ───────────────────────────────────────────────

// GetProfile does not create missing profiles.
func (e *Engine) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	p, err := e.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, persistErr("get profile", userID, err)
	}
	hp := e.hydrate(*p)
	return &hp, nil
}

// Overview assembles the profile page: profile, level progress, current
// multiplier and badges.
func (e *Engine) Overview(ctx context.Context, userID uuid.UUID) (*models.GamificationResponse, error) {
	var (
		profile *models.Profile
		badges  []models.UserBadge
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		profile, err = e.GetProfile(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		badges, err = e.Badges(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &models.GamificationResponse{
		Profile:          *profile,
		LevelProgress:    e.rules.LevelProgress(profile.TotalXP),
		StreakMultiplier: e.rules.StreakMultiplier(profile.CurrentStreak),
		Badges:           badges,
	}, nil
}

func (e *Engine) RecentAwards(ctx context.Context, userID uuid.UUID, limit int) ([]models.XPAward, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	awards, err := e.store.RecentAwards(ctx, userID, limit)
	if err != nil {
		return nil, persistErr("recent awards", userID, err)
	}
	return awards, nil
}

func (e *Engine) StreakHistory(ctx context.Context, userID uuid.UUID) ([]models.StreakMilestone, error) {
	history, err := e.store.StreakHistory(ctx, userID)
	if err != nil {
		return nil, persistErr("streak history", userID, err)
	}
	return history, nil
}

func (e *Engine) Badges(ctx context.Context, userID uuid.UUID) ([]models.UserBadge, error) {
	badges, err := e.store.UserBadges(ctx, userID)
	if err != nil {
		return nil, persistErr("badges", userID, err)
	}
	for i := range badges {
		badges[i].Name = e.rules.badgeName(badges[i].BadgeKey)
	}
	return badges, nil
}

// SetTimezone changes the calendar the user's streak days are counted in.
func (e *Engine) SetTimezone(ctx context.Context, userID uuid.UUID, tz string) (*models.Profile, error) {
	if userID == uuid.Nil {
		return nil, invalid("user_id", "is required")
	}
	if tz == "" {
		return nil, invalid("timezone", "is required")
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, invalid("timezone", "unknown timezone %q", tz)
	}

	u, err := e.run(ctx, "set timezone", userID, true, func(u *unit) error {
		if u.profile.Timezone != tz {
			u.profile.Timezone = tz
			u.dirty = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &u.profile, nil
}

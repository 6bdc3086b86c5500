package gamification

import (
	"context"
	"sort"
	"sync"

	"github.com/brightpath/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// MemStore is an in-process Store, used by tests and by the server when
// GAMIFICATION_STORE=memory. Units of work are serialised per user and stage
// their writes until fn returns without error.
type MemStore struct {
	clock clockwork.Clock

	mu       sync.Mutex
	locks    map[uuid.UUID]*sync.Mutex
	profiles map[uuid.UUID]models.Profile
	awards   map[uuid.UUID][]models.XPAward
	scores   map[uuid.UUID][]models.AssessmentScore
	history  map[uuid.UUID][]models.StreakMilestone
	badges   map[uuid.UUID][]models.UserBadge
	nextID   int64
}

func NewMemStore(clock clockwork.Clock) *MemStore {
	return &MemStore{
		clock:    clock,
		locks:    make(map[uuid.UUID]*sync.Mutex),
		profiles: make(map[uuid.UUID]models.Profile),
		awards:   make(map[uuid.UUID][]models.XPAward),
		scores:   make(map[uuid.UUID][]models.AssessmentScore),
		history:  make(map[uuid.UUID][]models.StreakMilestone),
		badges:   make(map[uuid.UUID][]models.UserBadge),
	}
}

func (s *MemStore) userLock(userID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// id hands out row ids like a sequence: rolled-back units leave gaps.
func (s *MemStore) id() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

func (s *MemStore) WithProfile(ctx context.Context, userID uuid.UUID, create bool, fn func(tx ProfileTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	p, ok := s.profiles[userID]
	s.mu.Unlock()

	tx := &memTx{store: s}
	if !ok {
		if !create {
			return ErrProfileNotFound
		}
		now := s.clock.Now()
		p = models.Profile{UserID: userID, CreatedAt: now, UpdatedAt: now}
		tx.created = true
	}
	tx.profile = p

	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	store   *MemStore
	profile models.Profile
	created bool
	dirty   bool

	awards  []models.XPAward
	scores  []models.AssessmentScore
	history []models.StreakMilestone
	badges  []models.UserBadge
}

func (t *memTx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	uid := t.profile.UserID
	if t.created || t.dirty {
		s.profiles[uid] = t.profile
	}
	s.awards[uid] = append(s.awards[uid], t.awards...)
	s.scores[uid] = append(s.scores[uid], t.scores...)
	s.history[uid] = append(s.history[uid], t.history...)
	s.badges[uid] = append(s.badges[uid], t.badges...)
}

func (t *memTx) Profile() models.Profile { return t.profile }

func (t *memTx) UpsertProfile(p models.Profile) error {
	p.UpdatedAt = t.store.clock.Now()
	t.profile = p
	t.dirty = true
	return nil
}

func (t *memTx) HasAward(reason models.Reason, sourceEventID string) (bool, error) {
	s := t.store
	s.mu.Lock()
	committed := s.awards[t.profile.UserID]
	s.mu.Unlock()

	for _, list := range [][]models.XPAward{committed, t.awards} {
		for _, a := range list {
			if a.Reason == reason && a.SourceEventID == sourceEventID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (t *memTx) InsertAward(a *models.XPAward) error {
	dup, _ := t.HasAward(a.Reason, a.SourceEventID)
	if dup {
		return ErrDuplicateAward
	}
	a.ID = t.store.id()
	a.CreatedAt = t.store.clock.Now()
	t.awards = append(t.awards, *a)
	return nil
}

func (t *memTx) InsertAssessmentScore(sc *models.AssessmentScore) error {
	sc.ID = t.store.id()
	sc.CreatedAt = t.store.clock.Now()
	t.scores = append(t.scores, *sc)
	return nil
}

func (t *memTx) LatestAssessmentScore(chapterID int64, at models.AssessmentType) (*models.AssessmentScore, error) {
	s := t.store
	s.mu.Lock()
	committed := s.scores[t.profile.UserID]
	s.mu.Unlock()

	var latest *models.AssessmentScore
	for _, list := range [][]models.AssessmentScore{committed, t.scores} {
		for i := range list {
			if list[i].ChapterID == chapterID && list[i].AssessmentType == at {
				sc := list[i]
				latest = &sc
			}
		}
	}
	return latest, nil
}

func (t *memTx) AssessmentScores(chapterID int64, at models.AssessmentType) ([]models.AssessmentScore, error) {
	s := t.store
	s.mu.Lock()
	committed := s.scores[t.profile.UserID]
	s.mu.Unlock()

	var out []models.AssessmentScore
	for _, list := range [][]models.AssessmentScore{committed, t.scores} {
		for _, sc := range list {
			if sc.ChapterID == chapterID && sc.AssessmentType == at {
				out = append(out, sc)
			}
		}
	}
	return out, nil
}

func (t *memTx) InsertStreakMilestone(m *models.StreakMilestone) error {
	m.ID = t.store.id()
	m.CreatedAt = t.store.clock.Now()
	t.history = append(t.history, *m)
	return nil
}

func (t *memTx) AwardBadge(key string) (bool, error) {
	s := t.store
	s.mu.Lock()
	committed := s.badges[t.profile.UserID]
	s.mu.Unlock()

	for _, list := range [][]models.UserBadge{committed, t.badges} {
		for _, b := range list {
			if b.BadgeKey == key {
				return false, nil
			}
		}
	}
	t.badges = append(t.badges, models.UserBadge{
		UserID:    t.profile.UserID,
		BadgeKey:  key,
		AwardedAt: t.store.clock.Now(),
	})
	return true, nil
}

// ── Reads ───────────────────────────────────────────────

func (s *MemStore) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return &p, nil
}

func (s *MemStore) RecentAwards(ctx context.Context, userID uuid.UUID, limit int) ([]models.XPAward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.awards[userID]
	out := make([]models.XPAward, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *MemStore) StreakHistory(ctx context.Context, userID uuid.UUID) ([]models.StreakMilestone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.history[userID]
	out := make([]models.StreakMilestone, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *MemStore) UserBadges(ctx context.Context, userID uuid.UUID) ([]models.UserBadge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.UserBadge{}, s.badges[userID]...), nil
}

func (s *MemStore) TopProfiles(ctx context.Context, limit int) ([]models.Profile, error) {
	s.mu.Lock()
	var profiles []models.Profile
	for _, p := range s.profiles {
		if p.TotalXP > 0 {
			profiles = append(profiles, p)
		}
	}
	s.mu.Unlock()

	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].TotalXP != profiles[j].TotalXP {
			return profiles[i].TotalXP > profiles[j].TotalXP
		}
		return profiles[i].UserID.String() < profiles[j].UserID.String()
	})
	if len(profiles) > limit {
		profiles = profiles[:limit]
	}
	return profiles, nil
}

func (s *MemStore) ActiveStreaks(ctx context.Context) ([]models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Profile
	for _, p := range s.profiles {
		if p.CurrentStreak > 0 {
			out = append(out, p)
		}
	}
	return out, nil
}

package gamification

import (
	"context"
	"fmt"
	"time"

	"github.com/brightpath/backend/internal/logger"
	"github.com/brightpath/backend/internal/models"
	"github.com/go-co-op/gocron/v2"
)

// stale reports whether the streak was last extended before yesterday in
// the user's own calendar.
func (e *Engine) stale(p models.Profile) bool {
	if p.CurrentStreak == 0 {
		return false
	}
	last := DateKey(p.LastActivityDate)
	return last == "" || last < e.dates.Yesterday(p.Timezone)
}

// ExpireStaleStreaks zeroes the current streak of every user who missed a
// day. Longest streak, last activity and XP are left alone, so the next
// activity takes the normal reset path.
func (e *Engine) ExpireStaleStreaks(ctx context.Context) (int, error) {
	profiles, err := e.store.ActiveStreaks(ctx)
	if err != nil {
		return 0, &PersistenceError{Op: "active streaks", Err: err}
	}

	expired := 0
	var lastErr error
	for _, p := range profiles {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		if !e.stale(p) {
			continue
		}
		cleared := false
		_, err := e.run(ctx, "expire streak", p.UserID, false, func(u *unit) error {
			// Recheck under the lock; the user may have been active since.
			if !e.stale(u.profile) {
				return nil
			}
			u.profile.CurrentStreak = 0
			u.dirty = true
			cleared = true
			return nil
		})
		if err != nil {
			lastErr = err
			continue
		}
		if cleared {
			expired++
		}
	}
	return expired, lastErr
}

// StreakSweeper runs ExpireStaleStreaks on a cron schedule.
type StreakSweeper struct {
	engine *Engine
	sched  gocron.Scheduler
	log    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewStreakSweeper(engine *Engine, cronExpr string, log *logger.Logger) (*StreakSweeper, error) {
	sched, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithClock(engine.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &StreakSweeper{
		engine: engine,
		sched:  sched,
		log:    log.With("component", "streak-sweeper"),
		ctx:    ctx,
		cancel: cancel,
	}

	_, err = sched.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(s.Sweep),
		gocron.WithName("expire-stale-streaks"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule streak sweep %q: %w", cronExpr, err)
	}
	return s, nil
}

func (s *StreakSweeper) Start() {
	s.log.Info("streak sweeper started")
	s.sched.Start()
}

// Sweep runs one pass immediately.
func (s *StreakSweeper) Sweep() {
	start := time.Now()
	n, err := s.engine.ExpireStaleStreaks(s.ctx)
	if err != nil {
		s.log.Error("streak sweep finished with errors", "expired", n, "error", err)
		return
	}
	s.log.Info("streak sweep finished", "expired", n, "took", time.Since(start))
}

func (s *StreakSweeper) Stop() error {
	s.cancel()
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	s.log.Info("streak sweeper stopped")
	return nil
}

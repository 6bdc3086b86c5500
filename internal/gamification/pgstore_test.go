package gamification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brightpath/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
)

var profileRowColumns = []string{
	"user_id", "total_xp", "current_streak", "longest_streak",
	"last_activity_date", "streak_run_id", "timezone", "created_at", "updated_at",
}

func newPGEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := clockwork.NewFakeClockAt(testNow)
	e, err := NewEngine(NewPGStore(db), DefaultRules(), clock)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, mock
}

// expectLockedProfile expects the unit-of-work preamble for an existing or
// freshly created profile row.
func expectLockedProfile(mock sqlmock.Sqlmock, userID uuid.UUID, row *sqlmock.Rows) {
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO user_gamification").
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM user_gamification WHERE user_id = \\$1 FOR UPDATE").
		WithArgs(userID).
		WillReturnRows(row)
}

func emptyProfileRow(userID uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows(profileRowColumns).
		AddRow(userID.String(), 0, 0, 0, nil, 0, "", testNow, testNow)
}

func TestPGStoreAwardXP(t *testing.T) {
	e, mock := newPGEngine(t)
	userID := uuid.New()

	expectLockedProfile(mock, userID, emptyProfileRow(userID))
	mock.ExpectQuery("INSERT INTO xp_awards").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(7, testNow))
	mock.ExpectQuery("UPDATE user_gamification SET").
		WithArgs(userID, int64(20), 0, 0, nil, 0, "").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(testNow))
	mock.ExpectCommit()

	res, err := e.AwardXP(context.Background(), AwardRequest{UserID: userID, Reason: models.ReasonPhaseComplete, BaseAmount: 20})
	if err != nil {
		t.Fatalf("AwardXP: %v", err)
	}
	if res.Award.ID != 7 || res.Profile.TotalXP != 20 {
		t.Errorf("result = %+v, want award 7 and 20 XP", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPGStoreDuplicateAward(t *testing.T) {
	tests := []struct {
		name   string
		insert func(*sqlmock.ExpectedQuery)
	}{
		{"conflict skipped", func(q *sqlmock.ExpectedQuery) {
			q.WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))
		}},
		{"unique violation", func(q *sqlmock.ExpectedQuery) {
			q.WillReturnError(&pq.Error{Code: "23505"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mock := newPGEngine(t)
			userID := uuid.New()

			expectLockedProfile(mock, userID, emptyProfileRow(userID))
			mock.ExpectQuery("SELECT EXISTS").
				WithArgs(userID, models.ReasonPhaseComplete, "phase:1").
				WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
			tt.insert(mock.ExpectQuery("INSERT INTO xp_awards"))
			mock.ExpectCommit()

			res, err := e.AwardXP(context.Background(), AwardRequest{
				UserID: userID, Reason: models.ReasonPhaseComplete, BaseAmount: 20, SourceEventID: "phase:1",
			})
			if err != nil {
				t.Fatalf("AwardXP: %v", err)
			}
			if !res.Duplicate || res.Profile.TotalXP != 0 {
				t.Errorf("result = %+v, want duplicate with no XP", res)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestPGStoreRollsBackOnFailure(t *testing.T) {
	e, mock := newPGEngine(t)
	userID := uuid.New()

	expectLockedProfile(mock, userID, emptyProfileRow(userID))
	mock.ExpectQuery("INSERT INTO xp_awards").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := e.AwardXP(context.Background(), AwardRequest{UserID: userID, Reason: models.ReasonPhaseComplete, BaseAmount: 20})
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("AwardXP error = %v, want PersistenceError", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPGStoreContinuesStreak(t *testing.T) {
	e, mock := newPGEngine(t)
	userID := uuid.New()
	yesterday := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)

	expectLockedProfile(mock, userID, sqlmock.NewRows(profileRowColumns).
		AddRow(userID.String(), 10, 1, 1, yesterday, 1, "", testNow, testNow))
	for _, key := range []string{"daily:2024-03-10", "streak:2024-03-10"} {
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(userID, sqlmock.AnyArg(), key).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery("INSERT INTO xp_awards").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, testNow))
	}
	mock.ExpectQuery("UPDATE user_gamification SET").
		WithArgs(userID, int64(25), 2, 2, "2024-03-10", 1, "").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(testNow))
	mock.ExpectCommit()

	res, err := e.UpdateStreak(context.Background(), StreakRequest{UserID: userID})
	if err != nil {
		t.Fatalf("UpdateStreak: %v", err)
	}
	if res.Outcome != models.StreakContinued || res.Profile.CurrentStreak != 2 {
		t.Errorf("result = %s streak %d, want continued 2", res.Outcome, res.Profile.CurrentStreak)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPGStoreAssessmentWithoutBaseline(t *testing.T) {
	e, mock := newPGEngine(t)
	userID := uuid.New()

	expectLockedProfile(mock, userID, emptyProfileRow(userID))
	mock.ExpectQuery("FROM assessment_scores").
		WithArgs(userID, int64(3), models.AssessmentBaseline).
		WillReturnRows(sqlmock.NewRows([]string{"id", "score", "max_score", "created_at"}))
	mock.ExpectQuery("INSERT INTO assessment_scores").
		WithArgs(userID, int64(3), models.AssessmentAfter, 5, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(12, testNow))
	mock.ExpectCommit()

	res, err := e.RecordAssessment(context.Background(), AssessmentRequest{
		UserID: userID, ChapterID: 3, AssessmentType: models.AssessmentAfter, Score: 5, MaxScore: 10,
	})
	if err != nil {
		t.Fatalf("RecordAssessment: %v", err)
	}
	if res.Score.ID != 12 || res.Improvement != 0 || res.ImprovementBonus != nil {
		t.Errorf("result = %+v, want stored score 12 without improvement", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPGStoreAssessmentImprovement(t *testing.T) {
	e, mock := newPGEngine(t)
	userID := uuid.New()

	expectLockedProfile(mock, userID, emptyProfileRow(userID))
	mock.ExpectQuery("FROM assessment_scores").
		WithArgs(userID, int64(3), models.AssessmentBaseline).
		WillReturnRows(sqlmock.NewRows([]string{"id", "score", "max_score", "created_at"}).AddRow(4, 5, 10, testNow))
	mock.ExpectQuery("ORDER BY created_at, id").
		WithArgs(userID, int64(3), models.AssessmentAfter).
		WillReturnRows(sqlmock.NewRows([]string{"id", "score", "max_score", "created_at"}).AddRow(9, 6, 10, testNow))
	mock.ExpectQuery("INSERT INTO assessment_scores").
		WithArgs(userID, int64(3), models.AssessmentAfter, 8, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(13, testNow))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(userID, sqlmock.AnyArg(), "improvement:3:3").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("INSERT INTO xp_awards").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(14, testNow))
	mock.ExpectQuery("UPDATE user_gamification SET").
		WithArgs(userID, int64(10), 0, 0, nil, 0, "").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(testNow))
	mock.ExpectCommit()

	// The earlier 6/10 already paid one point, so 8/10 pays two more.
	res, err := e.RecordAssessment(context.Background(), AssessmentRequest{
		UserID: userID, ChapterID: 3, AssessmentType: models.AssessmentAfter, Score: 8, MaxScore: 10,
	})
	if err != nil {
		t.Fatalf("RecordAssessment: %v", err)
	}
	if res.Improvement != 3 || res.ImprovementBonus == nil || res.ImprovementBonus.FinalAmount != 10 {
		t.Errorf("result = %+v, want improvement 3 paying 10 XP", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPGStoreGetProfile(t *testing.T) {
	e, mock := newPGEngine(t)
	userID := uuid.New()
	missing := uuid.New()

	mock.ExpectQuery("FROM user_gamification WHERE user_id").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows(profileRowColumns).
			AddRow(userID.String(), 500, 3, 8, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), 4, "Europe/Paris", testNow, testNow))
	mock.ExpectQuery("FROM user_gamification WHERE user_id").
		WithArgs(missing).
		WillReturnRows(sqlmock.NewRows(profileRowColumns))

	p, err := e.GetProfile(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.Level != 3 || p.LastActivityDate != "2024-03-09" || p.Timezone != "Europe/Paris" {
		t.Errorf("profile = %+v, want level 3 last active 2024-03-09 in Europe/Paris", p)
	}

	_, err = e.GetProfile(context.Background(), missing)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("GetProfile(missing) error = %v, want NotFoundError", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

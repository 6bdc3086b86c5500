package gamification

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/brightpath/backend/internal/logger"
	"github.com/brightpath/backend/internal/middleware"
	"github.com/brightpath/backend/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type Handler struct {
	engine   *Engine
	validate *validator.Validate
	log      *logger.Logger
}

func NewHandler(engine *Engine, log *logger.Logger) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{engine: engine, validate: v, log: log.With("component", "gamification-http")}
}

// RegisterRoutes mounts the gamification API on an authenticated router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/gamification", h.GetGamification).Methods("GET")
	r.Handle("/gamification/xp",
		middleware.RequireRole(models.RoleAdmin)(http.HandlerFunc(h.AwardXP))).Methods("POST")
	r.HandleFunc("/gamification/streak", h.UpdateStreak).Methods("POST")
	r.Handle("/gamification/streak/backfill",
		middleware.RequireRole(models.RoleAdmin)(http.HandlerFunc(h.BackfillStreak))).Methods("POST")
	r.HandleFunc("/gamification/assessments", h.RecordAssessment).Methods("POST")
	r.HandleFunc("/gamification/phases/complete", h.CompletePhase).Methods("POST")
	r.HandleFunc("/gamification/xp-log", h.XPLog).Methods("GET")
	r.HandleFunc("/gamification/streak-history", h.StreakHistory).Methods("GET")
	r.HandleFunc("/gamification/badges", h.Badges).Methods("GET")
	r.HandleFunc("/gamification/timezone", h.SetTimezone).Methods("PUT")
	r.HandleFunc("/leaderboard", h.Leaderboard).Methods("GET")
}

func getUserID(r *http.Request) (uuid.UUID, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	return id.UserID, ok
}

// ── Gamification State ──────────────────────────────────

func (h *Handler) GetGamification(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	resp, err := h.engine.Overview(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) XPLog(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	limit := intQueryParam(r.URL.Query(), "limit", 20)
	awards, err := h.engine.RecentAwards(r.Context(), userID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"awards": awards})
}

func (h *Handler) StreakHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	history, err := h.engine.StreakHistory(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"milestones": history})
}

func (h *Handler) Badges(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	badges, err := h.engine.Badges(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"badges": badges})
}

func (h *Handler) SetTimezone(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	var req models.SetTimezoneRequest
	if !h.decode(w, r, &req) {
		return
	}

	profile, err := h.engine.SetTimezone(r.Context(), userID, req.Timezone)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// ── Awards ──────────────────────────────────────────────

// AwardXP is the admin manual adjustment endpoint.
func (h *Handler) AwardXP(w http.ResponseWriter, r *http.Request) {
	var req models.AwardXPRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.engine.AwardXP(r.Context(), AwardRequest{
		UserID:        uuid.MustParse(req.UserID),
		Reason:        req.Reason,
		BaseAmount:    req.Amount,
		SourceEventID: req.SourceEventID,
		ChapterID:     req.ChapterID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, awardResponse(res))
}

func (h *Handler) UpdateStreak(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	// The day is always the caller's today; any body is ignored.
	res, err := h.engine.UpdateStreak(r.Context(), StreakRequest{UserID: userID})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, streakResponse(*res))
}

// BackfillStreak is the admin endpoint for recording a missed day.
func (h *Handler) BackfillStreak(w http.ResponseWriter, r *http.Request) {
	var req models.BackfillStreakRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.engine.UpdateStreak(r.Context(), StreakRequest{
		UserID:       uuid.MustParse(req.UserID),
		ActivityDate: DateKey(req.ActivityDate),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, streakResponse(*res))
}

func (h *Handler) RecordAssessment(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	var req models.RecordAssessmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.engine.RecordAssessment(r.Context(), AssessmentRequest{
		UserID:         userID,
		ChapterID:      req.ChapterID,
		AssessmentType: req.AssessmentType,
		Score:          req.Score,
		MaxScore:       req.MaxScore,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := models.AssessmentResponse{
		Score:       res.Score,
		IsPerfect:   res.IsPerfect,
		Improvement: res.Improvement,
		TotalXP:     res.Profile.TotalXP,
		Level:       res.Profile.Level,
	}
	if res.PerfectBonus != nil {
		resp.PerfectBonus = res.PerfectBonus.FinalAmount
	}
	if res.ImprovementBonus != nil {
		resp.ImprovementBonus = res.ImprovementBonus.FinalAmount
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) CompletePhase(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	var req models.CompletePhaseRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.engine.CompletePhase(r.Context(), PhaseCompletion{
		UserID:          userID,
		PhaseID:         req.PhaseID,
		ChapterID:       req.ChapterID,
		ZoneID:          req.ZoneID,
		MissionComplete: req.MissionComplete,
		ZoneComplete:    req.ZoneComplete,
		Perfect:         req.Perfect,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.PhaseCompleteResponse{
		XPAwarded: models.PhaseXPBreakdown{
			Phase:   res.Phase,
			Mission: res.Mission,
			Zone:    res.Zone,
			Total:   res.Total(),
		},
		Streak:    streakResponse(res.Streak),
		TotalXP:   res.Profile.TotalXP,
		Level:     res.Profile.Level,
		LeveledUp: res.LeveledUp,
	})
}

// ── Leaderboard ─────────────────────────────────────────

func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := intQueryParam(r.URL.Query(), "limit", defaultLeaderboardSize)

	entries, err := h.engine.Leaderboard(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.LeaderboardResponse{Entries: entries})
}

// ── Helpers ─────────────────────────────────────────────

func awardResponse(res *AwardResult) models.AwardResponse {
	return models.AwardResponse{
		XPAwarded:  res.Delta,
		Multiplier: res.Multiplier,
		TotalXP:    res.Profile.TotalXP,
		Level:      res.Profile.Level,
		OldLevel:   res.OldLevel,
		LeveledUp:  res.LeveledUp,
		Duplicate:  res.Duplicate,
		NewBadges:  nonNil(res.NewBadges),
	}
}

func streakResponse(res StreakResult) models.StreakResponse {
	return models.StreakResponse{
		Outcome:          res.Outcome,
		CurrentStreak:    res.Profile.CurrentStreak,
		LongestStreak:    res.Profile.LongestStreak,
		MilestoneReached: res.MilestoneReached,
		MilestoneBonus:   res.MilestoneBonus,
		XPAwarded:        res.XPAwarded,
		TotalXP:          res.Profile.TotalXP,
		Level:            res.Profile.Level,
		NewBadges:        nonNil(res.NewBadges),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// decode reads and validates a JSON body. An empty body decodes as the zero
// value and is then validated like any other.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = describe(fe)
		}
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Validation failed", Fields: fields})
		return false
	}
	return true
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "uuid":
		return "must be a UUID"
	case "datetime":
		return "must be a date in " + fe.Param() + " format"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gt", "gte", "max":
		return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
	}
	return "is invalid"
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *ValidationError
		nf *NotFoundError
		pe *PersistenceError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{
			Error:  ve.Error(),
			Fields: map[string]string{ve.Field: ve.Message},
		})
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "No gamification profile yet"})
	case errors.As(err, &pe):
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "op", pe.Op, "error", pe.Err)
		writeJSON(w, http.StatusServiceUnavailable, models.ErrorResponse{Error: "Gamification store unavailable, please retry"})
	default:
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func intQueryParam(query url.Values, key string, defaultVal int) int {
	s := query.Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}

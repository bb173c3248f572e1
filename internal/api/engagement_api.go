package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/coachpoints/coachpoints/internal/app/engagement"
	"github.com/coachpoints/coachpoints/internal/domain"
)

// ─── Access Helpers ─────────────────────────────────────────────────────────

// authorizeUser loads the {id} user and checks the actor may act for them.
func (s *Server) authorizeUser(r *http.Request) (domain.User, error) {
	u, err := s.svc.Directory.User(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return u, err
	}
	if !actorOf(r).CanActFor(u) {
		return u, domain.ErrForbidden
	}
	return u, nil
}

// tenantFor resolves the teacher scope of a listing. Admins pick any scope
// with ?teacher_id=; everyone else is pinned to their own tenant.
func (s *Server) tenantFor(r *http.Request) (string, error) {
	a := actorOf(r)
	want := r.URL.Query().Get("teacher_id")
	if a.IsAdmin() {
		return want, nil
	}
	tenant := a.UserID
	if a.Role == domain.RoleStudent {
		u, err := s.svc.Directory.User(r.Context(), a.UserID)
		if err != nil {
			return "", err
		}
		tenant = u.TeacherID
	}
	if want != "" && want != tenant {
		return "", domain.ErrForbidden
	}
	return tenant, nil
}

// ─── Users ──────────────────────────────────────────────────────────────────

type registerUserRequest struct {
	ID        string      `json:"id" validate:"required,max=128"`
	Role      domain.Role `json:"role" validate:"required,oneof=student teacher admin"`
	TeacherID string      `json:"teacher_id" validate:"max=128"`
	Timezone  string      `json:"timezone" validate:"max=64"`
}

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.svc.Directory.RegisterUser(r.Context(), actorOf(r), domain.User{
		ID:        req.ID,
		Role:      req.Role,
		TeacherID: req.TeacherID,
		Timezone:  req.Timezone,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.authorizeUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// ─── Activities & Points ────────────────────────────────────────────────────

type recordActivityRequest struct {
	UserID       string              `json:"user_id" validate:"max=128"`
	ActivityType domain.ActivityType `json:"activity_type" validate:"required"`
	CustomPoints *int64              `json:"custom_points"`
	Description  string              `json:"description" validate:"max=1024"`
	Metadata     domain.Metadata     `json:"metadata"`
}

func (s *Server) handleRecordActivity(w http.ResponseWriter, r *http.Request) {
	var req recordActivityRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	a := actorOf(r)
	if req.UserID == "" {
		req.UserID = a.UserID
	}
	res, err := s.svc.Ledger.RecordActivity(r.Context(), a, engagement.Activity{
		UserID:       req.UserID,
		Type:         req.ActivityType,
		CustomPoints: req.CustomPoints,
		Description:  req.Description,
		Metadata:     req.Metadata,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type pointsResponse struct {
	Points domain.UserPoints    `json:"points"`
	Level  engagement.LevelInfo `json:"level"`
}

func (s *Server) handleGetPoints(w http.ResponseWriter, r *http.Request) {
	u, err := s.authorizeUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.svc.Ledger.Points(r.Context(), u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	info, err := engagement.Level(p.TotalPoints)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pointsResponse{Points: p, Level: info})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	u, err := s.authorizeUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	events, err := s.svc.Ledger.History(r.Context(), u.ID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type touchStreakRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

func (s *Server) handleTouchStreak(w http.ResponseWriter, r *http.Request) {
	var req touchStreakRequest
	if err := s.decodeOptional(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.authorizeUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	l := s.svc.Ledger
	day := domain.CalendarDate(l.Now(), u.Location(l.Location()))
	if req.Date != "" {
		if day, err = domain.ParseDate(req.Date); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	p, err := l.TouchStreak(r.Context(), actorOf(r), u.ID, day)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleLevel(w http.ResponseWriter, r *http.Request) {
	points, err := strconv.ParseInt(chi.URLParam(r, "points"), 10, 64)
	if err != nil {
		s.writeError(w, r, domain.Invalid("points must be an integer"))
		return
	}
	info, err := engagement.Level(points)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.tenantFor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if tenant == "" {
		s.writeError(w, r, domain.Invalid("teacher_id is required"))
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.svc.Ledger.Leaderboard(r.Context(), tenant, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teacher_id": tenant, "entries": entries})
}

// ─── Achievements ───────────────────────────────────────────────────────────

type achievementRequest struct {
	TeacherID      string               `json:"teacher_id" validate:"max=128"`
	Title          string               `json:"title" validate:"required,max=200"`
	Description    string               `json:"description" validate:"max=1024"`
	Rarity         domain.Rarity        `json:"rarity" validate:"required,oneof=bronze silver gold platinum diamond"`
	PointsReward   int64                `json:"points_reward" validate:"gte=0"`
	ConditionType  domain.ConditionType `json:"condition_type" validate:"required"`
	ConditionValue int64                `json:"condition_value" validate:"gte=0"`
	ConditionKey   string               `json:"condition_key" validate:"max=64"`
	IsActive       *bool                `json:"is_active"`
}

func (req achievementRequest) apply(def domain.Achievement) domain.Achievement {
	def.Title = req.Title
	def.Description = req.Description
	def.Rarity = req.Rarity
	def.PointsReward = req.PointsReward
	def.ConditionType = req.ConditionType
	def.ConditionValue = req.ConditionValue
	def.ConditionKey = req.ConditionKey
	if req.IsActive != nil {
		def.IsActive = *req.IsActive
	}
	return def
}

func (s *Server) handleListAchievements(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.tenantFor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a := actorOf(r)
	activeOnly, err := queryBool(r, "active", false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Students never see retired definitions.
	if a.Role == domain.RoleStudent {
		activeOnly = true
	}
	defs, err := s.svc.Achievements.ListAchievements(r.Context(), tenant, activeOnly)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"achievements": defs})
}

func (s *Server) handleCreateAchievement(w http.ResponseWriter, r *http.Request) {
	var req achievementRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	def := req.apply(domain.Achievement{TeacherID: req.TeacherID})
	def, err := s.svc.Achievements.CreateAchievement(r.Context(), actorOf(r), def)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

func (s *Server) handleUpdateAchievement(w http.ResponseWriter, r *http.Request) {
	var req achievementRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cur, err := s.svc.Achievements.Achievement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	def, err := s.svc.Achievements.UpdateAchievement(r.Context(), actorOf(r), req.apply(cur))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleDeactivateAchievement(w http.ResponseWriter, r *http.Request) {
	def, err := s.svc.Achievements.DeactivateAchievement(r.Context(), actorOf(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleUserAchievements(w http.ResponseWriter, r *http.Request) {
	u, err := s.authorizeUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	grants, err := s.svc.Achievements.UserAchievements(r.Context(), u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"achievements": grants})
}

func (s *Server) handleEvaluateAchievements(w http.ResponseWriter, r *http.Request) {
	u, err := s.authorizeUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	unlocked, err := s.svc.Achievements.EvaluateAchievements(r.Context(), u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unlocked": unlocked})
}

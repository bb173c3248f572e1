package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coachpoints/coachpoints/internal/domain"
)

// ─── Rewards ────────────────────────────────────────────────────────────────

type rewardRequest struct {
	TeacherID   string `json:"teacher_id" validate:"max=128"`
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=1024"`
	PointsCost  int64  `json:"points_cost" validate:"gte=0"`
	Stock       *int64 `json:"stock" validate:"omitnil,gte=0"` // null = unlimited
	IsActive    *bool  `json:"is_active"`
}

func (req rewardRequest) apply(r domain.Reward) domain.Reward {
	r.Title = req.Title
	r.Description = req.Description
	r.PointsCost = req.PointsCost
	r.Stock = req.Stock
	if req.IsActive != nil {
		r.IsActive = *req.IsActive
	}
	return r
}

func (s *Server) handleListRewards(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.tenantFor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if tenant == "" {
		s.writeError(w, r, domain.Invalid("teacher_id is required"))
		return
	}
	activeOnly, err := queryBool(r, "active", false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if actorOf(r).Role == domain.RoleStudent {
		activeOnly = true
	}
	items, err := s.svc.Rewards.ListRewards(r.Context(), tenant, activeOnly)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rewards": items})
}

func (s *Server) handleCreateReward(w http.ResponseWriter, r *http.Request) {
	var req rewardRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	item, err := s.svc.Rewards.CreateReward(r.Context(), actorOf(r), req.apply(domain.Reward{TeacherID: req.TeacherID}))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleUpdateReward(w http.ResponseWriter, r *http.Request) {
	var req rewardRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cur, err := s.svc.Rewards.Reward(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	item, err := s.svc.Rewards.UpdateReward(r.Context(), actorOf(r), req.apply(cur))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleDeactivateReward(w http.ResponseWriter, r *http.Request) {
	item, err := s.svc.Rewards.DeactivateReward(r.Context(), actorOf(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type redeemRequest struct {
	UserID string `json:"user_id" validate:"max=128"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := s.decodeOptional(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	a := actorOf(r)
	if req.UserID == "" {
		req.UserID = a.UserID
	}
	red, err := s.svc.Rewards.Redeem(r.Context(), a, req.UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, red)
}

// ─── Redemptions ────────────────────────────────────────────────────────────

func (s *Server) handleListRedemptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f := domain.RedemptionFilter{
		UserID: q.Get("user_id"),
		Status: domain.RedemptionStatus(q.Get("status")),
		Limit:  limit,
	}
	switch f.Status {
	case "", domain.RedemptionPending, domain.RedemptionApproved, domain.RedemptionRejected:
	default:
		s.writeError(w, r, domain.Invalid("status %q", f.Status))
		return
	}

	a := actorOf(r)
	switch a.Role {
	case domain.RoleStudent:
		if f.UserID != "" && f.UserID != a.UserID {
			s.writeError(w, r, domain.ErrForbidden)
			return
		}
		f.UserID = a.UserID
	default:
		if f.TeacherID, err = s.tenantFor(r); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	items, err := s.svc.Rewards.Redemptions(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"redemptions": items})
}

type updateRedemptionRequest struct {
	Status     domain.RedemptionStatus `json:"status" validate:"required"`
	AdminNotes string                  `json:"admin_notes" validate:"max=1024"`
}

func (s *Server) handleUpdateRedemption(w http.ResponseWriter, r *http.Request) {
	var req updateRedemptionRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	red, err := s.svc.Rewards.UpdateRedemptionStatus(r.Context(), actorOf(r), chi.URLParam(r, "id"), req.Status, req.AdminNotes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, red)
}

// ─── Settings ───────────────────────────────────────────────────────────────

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.tenantFor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	settings, err := s.svc.Policy.Settings(r.Context(), tenant)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

type settingsRequest struct {
	PointValues      map[domain.ActivityType]int64 `json:"point_values" validate:"dive,gte=0"`
	MaxDailyPoints   int64                         `json:"max_daily_points" validate:"gte=0"`
	LevelUpBonus     int64                         `json:"level_up_bonus" validate:"gte=0"`
	StreakMultiplier float64                       `json:"streak_multiplier" validate:"omitempty,gte=1,lte=5"`
	AutoResetEnabled bool                          `json:"auto_reset_enabled"`
	ResetFrequency   domain.ResetFrequency         `json:"reset_frequency" validate:"omitempty,oneof=weekly monthly quarterly yearly"`
	NextResetDate    string                        `json:"next_reset_date" validate:"omitempty,datetime=2006-01-02"`
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	in := domain.Settings{
		PointValues:      req.PointValues,
		MaxDailyPoints:   req.MaxDailyPoints,
		LevelUpBonus:     req.LevelUpBonus,
		StreakMultiplier: req.StreakMultiplier,
		AutoResetEnabled: req.AutoResetEnabled,
		ResetFrequency:   req.ResetFrequency,
	}
	if req.NextResetDate != "" {
		d, err := domain.ParseDate(req.NextResetDate)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		in.NextResetDate = &d
	}

	a := actorOf(r)
	tenant := a.UserID
	if a.IsAdmin() {
		tenant = r.URL.Query().Get("teacher_id")
	}
	settings, err := s.svc.Policy.UpdateSettings(r.Context(), a, tenant, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// ─── Resets ─────────────────────────────────────────────────────────────────

type resetRequest struct {
	TeacherID string `json:"teacher_id" validate:"max=128"`
	Reason    string `json:"reason" validate:"max=512"`
	Confirm   bool   `json:"confirm"`
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !req.Confirm {
		s.writeError(w, r, domain.Invalid("reset requires \"confirm\": true"))
		return
	}
	a := actorOf(r)
	if req.TeacherID == "" && a.Role == domain.RoleTeacher {
		req.TeacherID = a.UserID
	}
	rec, err := s.svc.Rewards.ResetAllStudentPoints(r.Context(), a, req.TeacherID, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleResetHistory(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.tenantFor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if tenant == "" {
		s.writeError(w, r, domain.Invalid("teacher_id is required"))
		return
	}
	if !actorOf(r).CanManageTenant(tenant) {
		s.writeError(w, r, domain.ErrForbidden)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	history, err := s.svc.Rewards.ResetHistory(r.Context(), tenant, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resets": history})
}

package handlers

import (
	"log/slog"
	"net/http"

	"tasker-backend/pkg/accounts"
	"tasker-backend/pkg/membership"
	"tasker-backend/pkg/middleware"
	"tasker-backend/pkg/models"
	"tasker-backend/pkg/utils"
)

// AuthHandler serves sign-up, login and the caller's own profile.
type AuthHandler struct {
	accounts   *accounts.Service
	membership *membership.Service
	logger     *slog.Logger
}

func NewAuthHandler(acc *accounts.Service, members *membership.Service, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{accounts: acc, membership: members, logger: logger}
}

// POST /api/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req models.SignupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.accounts.Signup(r.Context(), req)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteCreatedResponse(w, res)
}

// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.accounts.Login(r.Context(), req)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, res)
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r)
	if !ok {
		utils.WriteSuccessResponse(w, map[string]string{"message": "Signed out"})
		return
	}
	if err := h.accounts.Logout(r.Context(), token); err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]string{"message": "Signed out"})
}

// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	user, err := h.accounts.Me(r.Context(), sess.UID)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, user)
}

// PUT /api/user/profile
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	var req models.ProfileUpdate
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := h.accounts.UpdateProfile(r.Context(), sess.UID, req)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, user)
}

// PUT /api/user/settings
func (h *AuthHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	var req models.UserSettings
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := h.accounts.UpdateSettings(r.Context(), sess.UID, req)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, user)
}

// PUT /api/user/password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	var req models.PasswordChange
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.accounts.ChangePassword(r.Context(), sess, req); err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]string{"message": "Password updated"})
}

// POST /api/user/sync-spaces
func (h *AuthHandler) SyncSpaces(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	spaces, err := h.membership.SyncUserSpaces(r.Context(), sess.UID)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"spaces": spaces})
}

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tasker-backend/pkg/apperr"
	"tasker-backend/pkg/identity"
	"tasker-backend/pkg/membership"
	"tasker-backend/pkg/middleware"
	"tasker-backend/pkg/models"
	"tasker-backend/pkg/utils"
)

// MembersHandler serves a space's member list and member provisioning.
type MembersHandler struct {
	membership *membership.Service
	identity   identity.Provider
	locks      *membership.AdminLocks
	gates      *membership.SpaceGates
	logger     *slog.Logger
}

func NewMembersHandler(members *membership.Service, provider identity.Provider, locks *membership.AdminLocks, gates *membership.SpaceGates, logger *slog.Logger) *MembersHandler {
	return &MembersHandler{membership: members, identity: provider, locks: locks, gates: gates, logger: logger}
}

type addMemberRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	Username      string `json:"username"`
	AdminPassword string `json:"adminPassword"`
}

type addMemberResponse struct {
	Member  *membership.ProvisionResult `json:"member"`
	Session *models.SessionResponse     `json:"session,omitempty"`
}

// GET /api/spaces/{spaceID}/members
func (h *MembersHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	id := spaceID(r)
	unlock := h.gates.RLock(id)
	defer unlock()

	var members []models.MemberInfo
	err := h.membership.WithSyncRetry(r.Context(), sess.UID, func() error {
		var err error
		members, err = h.membership.ListMembers(r.Context(), id, sess.UID)
		return err
	})
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, members)
}

// POST /api/spaces/{spaceID}/members
//
// Creates a member account and adds it to the space. The response carries
// the admin's restored session.
func (h *MembersHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	var req addMemberRequest
	if !decodeBody(w, r, &req) {
		return
	}

	release, ok := h.locks.TryAcquire(sess.UID)
	if !ok {
		utils.WriteAppError(w, apperr.New(apperr.ProvisioningInProgress, "Another member is already being added; try again when it finishes"))
		return
	}
	defer release()

	id := spaceID(r)
	unlock := h.gates.Lock(id)
	defer unlock()

	token, _ := middleware.BearerToken(r)
	client, err := h.identity.NewClient(r.Context(), token)
	if err != nil {
		utils.WriteAppError(w, apperr.Wrap(apperr.AdminSessionMissing, "Admin must be logged in to add members", err))
		return
	}

	res, err := h.membership.Provision(r.Context(), client, membership.ProvisionRequest{
		SpaceID:       id,
		AdminID:       sess.UID,
		Email:         req.Email,
		Password:      req.Password,
		Username:      req.Username,
		AdminPassword: req.AdminPassword,
	})
	if err != nil {
		h.logger.Warn("member provisioning failed", "space_id", id, "admin_uid", sess.UID, "code", apperr.CodeOf(err), "error", err)
		utils.WriteAppError(w, err)
		return
	}

	out := addMemberResponse{Member: res}
	if res.AdminSession != nil && res.AdminSession.Token != "" {
		out.Session = &models.SessionResponse{AccessToken: res.AdminSession.Token, ExpiresAt: res.AdminSession.ExpiresAt}
	}
	utils.WriteCreatedResponse(w, out)
}

// DELETE /api/spaces/{spaceID}/members/{memberID}
func (h *MembersHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	id := spaceID(r)
	unlock := h.gates.Lock(id)
	defer unlock()

	if err := h.membership.RemoveMember(r.Context(), id, chi.URLParam(r, "memberID"), sess.UID); err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]string{"message": "Member removed"})
}

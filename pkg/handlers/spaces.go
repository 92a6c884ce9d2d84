package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"tasker-backend/pkg/board"
	"tasker-backend/pkg/membership"
	"tasker-backend/pkg/models"
	"tasker-backend/pkg/utils"
)

// SpacesHandler serves spaces, their counters and shared notes.
type SpacesHandler struct {
	board          *board.Service
	membership     *membership.Service
	logger         *slog.Logger
	allowedOrigins []string
}

func NewSpacesHandler(b *board.Service, members *membership.Service, logger *slog.Logger, allowedOrigins []string) *SpacesHandler {
	return &SpacesHandler{board: b, membership: members, logger: logger, allowedOrigins: allowedOrigins}
}

// GET /api/spaces
func (h *SpacesHandler) ListSpaces(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	spaces, err := h.board.ListUserSpaces(r.Context(), sess.UID)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, spaces)
}

// GET /api/spaces/admin
func (h *SpacesHandler) ListAdminSpaces(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	spaces, err := h.board.ListAdminSpaces(r.Context(), sess.UID)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, spaces)
}

// POST /api/spaces
func (h *SpacesHandler) CreateSpace(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	var req models.SpaceInput
	if !decodeBody(w, r, &req) {
		return
	}
	space, err := h.board.CreateSpace(r.Context(), sess.UID, req)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteCreatedResponse(w, space)
}

// GET /api/spaces/{spaceID}
func (h *SpacesHandler) GetSpace(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	var space *models.Space
	err := h.membership.WithSyncRetry(r.Context(), sess.UID, func() error {
		var err error
		space, err = h.board.GetSpace(r.Context(), spaceID(r), sess.UID)
		return err
	})
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, space)
}

// POST /api/spaces/{spaceID}/reconcile
func (h *SpacesHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	space, err := h.board.ReconcileCounters(r.Context(), spaceID(r), sess.UID)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, space.Summary())
}

// GET /api/spaces/{spaceID}/notes
func (h *SpacesHandler) GetNotes(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	notes, err := h.readNotes(r.Context(), spaceID(r), sess.UID)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, notes)
}

func (h *SpacesHandler) readNotes(ctx context.Context, id, uid string) (models.Notes, error) {
	var notes models.Notes
	err := h.membership.WithSyncRetry(ctx, uid, func() error {
		var err error
		notes, err = h.board.GetNotes(ctx, id, uid)
		return err
	})
	return notes, err
}

// PUT /api/spaces/{spaceID}/notes
func (h *SpacesHandler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	notes, err := h.board.UpdateNotes(r.Context(), spaceID(r), sess.UID, req.Notes)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, notes)
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tasker-backend/pkg/identity"
	"tasker-backend/pkg/middleware"
	"tasker-backend/pkg/utils"
)

// requireSession writes 401 and returns false when the request is anonymous.
func requireSession(w http.ResponseWriter, r *http.Request) (*identity.Session, bool) {
	sess, err := middleware.RequireSession(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return nil, false
	}
	return sess, true
}

// decodeBody parses a JSON body into v, writing 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := utils.ParseJSONBody(r, v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.WriteErrorResponseWithCode(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "Request body too large", nil)
			return false
		}
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return false
	}
	return true
}

func spaceID(r *http.Request) string {
	return chi.URLParam(r, "spaceID")
}

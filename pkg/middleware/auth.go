package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"tasker-backend/pkg/apperr"
	"tasker-backend/pkg/identity"
	"tasker-backend/pkg/utils"
)

// ContextKey is the type of the keys this package stores in request contexts
type ContextKey string

const (
	SessionContextKey ContextKey = "session"
)

// AuthMiddleware resolves the bearer token to an identity session. Browsers
// cannot set headers on websocket upgrades, so an access_token query
// parameter is accepted there as well.
func AuthMiddleware(provider identity.Provider, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				utils.WriteUnauthorizedResponse(w, "Missing authorization header")
				return
			}

			sess, err := provider.Authenticate(r.Context(), token)
			if err != nil {
				if identity.CodeOf(err) == identity.CodeUnavailable {
					logger.Error("identity provider unavailable", "error", err)
					utils.WriteInternalServerErrorResponse(w, "Authentication is temporarily unavailable")
					return
				}
				logger.Debug("rejected token", "path", r.URL.Path, "error", err)
				utils.WriteUnauthorizedResponse(w, "Invalid or expired session")
				return
			}

			setRequestUser(r.Context(), sess.UID)
			ctx := context.WithValue(r.Context(), SessionContextKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from the Authorization header, falling back
// to the access_token query parameter on websocket upgrades.
func BearerToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header || token == "" {
			return "", false
		}
		return strings.TrimSpace(token), true
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, true
		}
	}
	return "", false
}

func GetSessionFromContext(ctx context.Context) (*identity.Session, bool) {
	sess, ok := ctx.Value(SessionContextKey).(*identity.Session)
	return sess, ok && sess != nil
}

// RequireSession returns the authenticated session or an error.
func RequireSession(ctx context.Context) (*identity.Session, error) {
	sess, ok := GetSessionFromContext(ctx)
	if !ok {
		return nil, apperr.New(apperr.AdminSessionMissing, "Not signed in")
	}
	return sess, nil
}

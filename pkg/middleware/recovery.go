package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"tasker-backend/pkg/apperr"
	"tasker-backend/pkg/config"
	"tasker-backend/pkg/utils"
)

// Recovery turns a panic into a 500 envelope. Development responses carry
// the stack trace.
func Recovery(cfg *config.Config, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				stack := debug.Stack()
				logger.Error("panic", "path", r.URL.Path, "panic", rec, "stack", string(stack))

				if cfg.IsDevelopment() {
					utils.WriteErrorResponseWithCode(w, http.StatusInternalServerError,
						string(apperr.Internal),
						fmt.Sprintf("Internal server error: %v", rec),
						string(stack))
					return
				}
				utils.WriteInternalServerErrorResponse(w, "Internal server error occurred")
			}()

			next.ServeHTTP(w, r)
		})
	}
}

package handler

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tasker-backend/pkg/app"
	"tasker-backend/pkg/config"
	"tasker-backend/pkg/database"
	"tasker-backend/pkg/handlers"
	customMiddleware "tasker-backend/pkg/middleware"
	"tasker-backend/pkg/utils"
)

var (
	cachedApp    *app.App
	cachedRouter http.Handler
	appMu        sync.Mutex
)

// Handler is the serverless entry point. All endpoints live in one chi
// router; the backends and the router are built once per cold start and
// reused while the cached store stays healthy.
func Handler(w http.ResponseWriter, r *http.Request) {
	cfg := config.GetCached()
	if err := cfg.Validate(); err != nil {
		utils.WriteInternalServerErrorResponse(w, "Configuration error: "+err.Error())
		return
	}

	router, err := cachedHandler(r.Context(), cfg)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, "Service unavailable")
		return
	}
	router.ServeHTTP(w, r)
}

func cachedHandler(ctx context.Context, cfg *config.Config) (http.Handler, error) {
	store, err := database.GetStore(ctx, cfg.StoreConfig())
	if err != nil {
		return nil, err
	}

	appMu.Lock()
	defer appMu.Unlock()
	// rebuild only when the pool replaced the store
	if cachedApp != nil && cachedApp.Store == store {
		return cachedRouter, nil
	}
	a, err := app.NewPooled(cfg, store)
	if err != nil {
		return nil, err
	}
	cachedApp = a
	cachedRouter = NewRouter(a)
	return cachedRouter, nil
}

// NewRouter builds the HTTP surface over a.
func NewRouter(a *app.App) http.Handler {
	router := chi.NewRouter()
	setupMiddleware(router, a)
	setupRoutes(router, a)
	return router
}

func setupMiddleware(router *chi.Mux, a *app.App) {
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	// Normalize path and restore scheme/host before logging and routing
	router.Use(customMiddleware.Normalize())
	router.Use(customMiddleware.RequestLogger(a.Logger))
	router.Use(customMiddleware.Recovery(a.Config, a.Logger))
	router.Use(customMiddleware.CORS(a.Config))

	if a.Config.IsDevelopment() {
		router.Use(middleware.Heartbeat("/ping"))
	}
}

func setupRoutes(router *chi.Mux, a *app.App) {
	healthHandler := handlers.NewHealthHandler(a.Config, a.Store)
	authHandler := handlers.NewAuthHandler(a.Accounts, a.Membership, a.Logger)
	spacesHandler := handlers.NewSpacesHandler(a.Board, a.Membership, a.Logger, a.Config.AllowedOrigins)
	tasksHandler := handlers.NewTasksHandler(a.Board, a.Membership)
	membersHandler := handlers.NewMembersHandler(a.Membership, a.Identity, a.AdminLocks, a.SpaceGates, a.Logger)
	auth := customMiddleware.AuthMiddleware(a.Identity, a.Logger)

	router.Get("/", healthHandler.HealthCheck)
	if a.Config.IsDevelopment() {
		router.Get("/debug/store-pool", healthHandler.StorePool)
	}

	// request limits for everything except the long-lived notes socket
	limits := chi.Chain(
		middleware.Timeout(25*time.Second),
		middleware.Compress(5),
		customMiddleware.MaxBodySize(1<<20),
		customMiddleware.ContentTypeJSON,
	)
	authLimit := customMiddleware.RateLimitByIP(30)

	router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(limits...)
			r.With(authLimit).Post("/signup", authHandler.Signup)
			r.With(authLimit).Post("/login", authHandler.Login)
			r.Post("/logout", authHandler.Logout)
			r.With(auth).Get("/me", authHandler.Me)
		})

		r.Route("/user", func(r chi.Router) {
			r.Use(limits...)
			r.Use(auth)
			r.Put("/profile", authHandler.UpdateProfile)
			r.Put("/settings", authHandler.UpdateSettings)
			r.Put("/password", authHandler.ChangePassword)
			r.Post("/sync-spaces", authHandler.SyncSpaces)
		})

		r.Route("/spaces", func(r chi.Router) {
			r.Use(auth)
			r.Get("/{spaceID}/notes/ws", spacesHandler.NotesSocket)

			r.Group(func(r chi.Router) {
				r.Use(limits...)
				r.Get("/", spacesHandler.ListSpaces)
				r.Post("/", spacesHandler.CreateSpace)
				r.Get("/admin", spacesHandler.ListAdminSpaces)

				r.Get("/{spaceID}", spacesHandler.GetSpace)
				r.Post("/{spaceID}/reconcile", spacesHandler.Reconcile)
				r.Get("/{spaceID}/notes", spacesHandler.GetNotes)
				r.Put("/{spaceID}/notes", spacesHandler.UpdateNotes)

				r.Get("/{spaceID}/tasks", tasksHandler.ListTasks)
				r.Post("/{spaceID}/tasks", tasksHandler.CreateTask)
				r.Patch("/{spaceID}/tasks/{taskID}", tasksHandler.UpdateTask)
				r.Delete("/{spaceID}/tasks/{taskID}", tasksHandler.DeleteTask)
				r.Put("/{spaceID}/tasks/{taskID}/status", tasksHandler.UpdateTaskStatus)

				r.Get("/{spaceID}/members", membersHandler.ListMembers)
				r.Post("/{spaceID}/members", membersHandler.AddMember)
				r.Delete("/{spaceID}/members/{memberID}", membersHandler.RemoveMember)
			})
		})
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, http.StatusNotFound, "NOT_FOUND",
			fmt.Sprintf("Route not found: %s %s", r.Method, r.URL.Path), nil)
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path), nil)
	})
}

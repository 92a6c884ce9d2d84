package handlers

import (
	"context"
	"net/http"
	"time"

	"tasker-backend/pkg/config"
	"tasker-backend/pkg/database"
	"tasker-backend/pkg/utils"
)

type HealthHandler struct {
	config *config.Config
	store  database.DocumentStore
}

func NewHealthHandler(cfg *config.Config, store database.DocumentStore) *HealthHandler {
	return &HealthHandler{config: cfg, store: store}
}

// HealthCheck reports service and store status.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if err := h.store.HealthCheck(ctx); err != nil {
		dbStatus = "unhealthy: " + err.Error()
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"service":     "tasker-backend",
		"version":     "1.0.0",
		"environment": h.config.Environment,
		"database":    h.config.StoreBackend,
		"identity":    h.config.IdentityBackend,
		"db_status":   dbStatus,
		"timestamp":   time.Now().Unix(),
		"status":      "healthy",
	})
}

// StorePool shows the cached store, for debugging serverless reuse.
func (h *HealthHandler) StorePool(w http.ResponseWriter, r *http.Request) {
	utils.WriteSuccessResponse(w, database.ConnectionStats())
}

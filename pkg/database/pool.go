package database

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// storePool caches one store per process so warm serverless invocations reuse connections
type storePool struct {
	instance DocumentStore
	config   StoreConfig
	mu       sync.RWMutex
	lastUsed time.Time
}

var (
	globalPool *storePool
	poolMutex  sync.Mutex
)

const poolMaxIdle = 30 * time.Minute

// GetStore returns the cached store for cfg, recreating it when the
// configuration changed, it sat idle too long, or its health check fails.
func GetStore(ctx context.Context, cfg StoreConfig) (DocumentStore, error) {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool != nil && !shouldRecreate(ctx, globalPool, cfg) {
		globalPool.mu.Lock()
		globalPool.lastUsed = time.Now()
		globalPool.mu.Unlock()
		return globalPool.instance, nil
	}

	if globalPool != nil && globalPool.instance != nil {
		globalPool.instance.Close()
	}
	slog.Info("creating document store", "backend", cfg.Backend)
	instance, err := NewStore(ctx, cfg)
	if err != nil {
		globalPool = nil
		return nil, err
	}
	globalPool = &storePool{instance: instance, config: cfg, lastUsed: time.Now()}
	return instance, nil
}

func shouldRecreate(ctx context.Context, pool *storePool, cfg StoreConfig) bool {
	if pool.instance == nil {
		return true
	}
	if pool.config != cfg {
		slog.Info("store configuration changed, recreating")
		return true
	}
	pool.mu.RLock()
	expired := time.Since(pool.lastUsed) > poolMaxIdle
	pool.mu.RUnlock()
	if expired {
		slog.Info("store connection expired, recreating")
		return true
	}
	if err := pool.instance.HealthCheck(ctx); err != nil {
		slog.Warn("store health check failed, recreating", "error", err)
		return true
	}
	return false
}

// ResetStore closes and forgets the cached store.
func ResetStore() {
	poolMutex.Lock()
	defer poolMutex.Unlock()
	if globalPool != nil && globalPool.instance != nil {
		globalPool.instance.Close()
	}
	globalPool = nil
}

// ConnectionStats reports the cached store for the health endpoint
func ConnectionStats() map[string]interface{} {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool == nil {
		return map[string]interface{}{"status": "no_connection"}
	}
	globalPool.mu.RLock()
	lastUsed := globalPool.lastUsed
	globalPool.mu.RUnlock()

	return map[string]interface{}{
		"status":    "connected",
		"backend":   globalPool.config.Backend,
		"last_used": lastUsed.Format(time.RFC3339),
		"idle":      time.Since(lastUsed).String(),
	}
}

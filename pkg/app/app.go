// Package app wires configuration, storage, identity and the domain services.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"tasker-backend/pkg/accounts"
	"tasker-backend/pkg/board"
	"tasker-backend/pkg/config"
	"tasker-backend/pkg/database"
	"tasker-backend/pkg/identity"
	"tasker-backend/pkg/membership"
	"tasker-backend/pkg/utils"
)

// App holds one process's backends and services.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    database.DocumentStore
	Repo     *database.Repository
	Identity identity.Provider

	Accounts   *accounts.Service
	Board      *board.Service
	Membership *membership.Service

	AdminLocks *membership.AdminLocks
	SpaceGates *membership.SpaceGates

	ownsStore bool
	pooled    bool
}

// New opens a dedicated store for cfg. Close releases it.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := utils.NewLogger(cfg.LogFormat, cfg.Debug)
	store, err := database.NewStore(ctx, cfg.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	a, err := build(cfg, logger, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	a.ownsStore = true
	return a, nil
}

// NewPooled builds an App over the process-wide pooled store, for
// serverless invocations. Close drops the store from the pool.
func NewPooled(cfg *config.Config, store database.DocumentStore) (*App, error) {
	logger := utils.NewLogger(cfg.LogFormat, cfg.Debug)
	a, err := build(cfg, logger, store)
	if err != nil {
		return nil, err
	}
	a.pooled = true
	return a, nil
}

// NewWithStore builds an App over an existing store.
func NewWithStore(cfg *config.Config, logger *slog.Logger, store database.DocumentStore) (*App, error) {
	return build(cfg, logger, store)
}

func build(cfg *config.Config, logger *slog.Logger, store database.DocumentStore) (*App, error) {
	provider, err := identity.NewProvider(cfg.IdentityConfig(), store)
	if err != nil {
		return nil, err
	}
	repo := database.NewRepository(store)
	settler := membership.NewSettler(cfg.SettleMode, cfg.SettleDelay, cfg.SettleTimeout)

	return &App{
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		Repo:       repo,
		Identity:   provider,
		Accounts:   accounts.NewService(repo, provider, logger),
		Board:      board.NewService(repo, logger),
		Membership: membership.NewService(repo, settler, logger),
		AdminLocks: membership.NewAdminLocks(),
		SpaceGates: membership.NewSpaceGates(),
	}, nil
}

// Close releases the store when this App opened it, or resets the pool when
// the store came from it.
func (a *App) Close() error {
	switch {
	case a.ownsStore:
		return a.Store.Close()
	case a.pooled:
		database.ResetStore()
	}
	return nil
}

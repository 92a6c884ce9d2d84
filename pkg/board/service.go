// Package board implements spaces, their task boards and shared notes.
package board

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tasker-backend/pkg/apperr"
	"tasker-backend/pkg/database"
	"tasker-backend/pkg/membership"
	"tasker-backend/pkg/models"
)

const maxNotesLength = 100_000

type Service struct {
	repo   *database.Repository
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo *database.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger.With("component", "board"),
		now:    time.Now,
	}
}

func (s *Service) loadSpace(ctx context.Context, spaceID string) (*models.Space, error) {
	space, err := s.repo.GetSpace(ctx, spaceID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.Wrap(apperr.NotFound, "Space not found", err)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to load space", err)
	}
	return space, nil
}

// memberSpace loads a space and checks that uid may read and write it.
func (s *Service) memberSpace(ctx context.Context, spaceID, uid string) (*models.Space, error) {
	space, err := s.loadSpace(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	if err := membership.RequireMember(space, uid); err != nil {
		return nil, err
	}
	return space, nil
}

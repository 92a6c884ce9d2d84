package membership

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tasker-backend/pkg/apperr"
	"tasker-backend/pkg/database"
	"tasker-backend/pkg/models"
)

// Service runs membership operations against the repository.
type Service struct {
	repo    *database.Repository
	settler Settler
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(repo *database.Repository, settler Settler, logger *slog.Logger) *Service {
	if settler == nil {
		settler = DelaySettler{Delay: 500 * time.Millisecond}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		settler: settler,
		logger:  logger.With("component", "membership"),
		now:     time.Now,
	}
}

// loadSpace reads a space, mapping a missing document to NotFound.
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

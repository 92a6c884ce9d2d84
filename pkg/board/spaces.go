package board

import (
	"context"
	"errors"
	"strings"

	"tasker-backend/pkg/apperr"
	"tasker-backend/pkg/database"
	"tasker-backend/pkg/membership"
	"tasker-backend/pkg/models"
)

// CreateSpace creates a space owned by adminID, who must have the admin role.
func (s *Service) CreateSpace(ctx context.Context, adminID string, in models.SpaceInput) (*models.Space, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.New(apperr.InvalidInput, "Space name is required")
	}

	admin, err := s.repo.GetUser(ctx, adminID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.Wrap(apperr.NotFound, "User profile not found", err)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to load user", err)
	}
	if admin.Role != models.RoleAdmin {
		return nil, apperr.New(apperr.NotAuthorized, "Only admins can create spaces")
	}

	now := s.now().UTC()
	space := &models.Space{
		ID:          s.repo.NewID(),
		AdminID:     adminID,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Members:     models.MemberIDs{adminID},
		MemberCount: 1,
		Tasks:       0,
		IsActive:    true,
		CreatedAt:   now,
		CreatedBy:   adminID,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateSpace(ctx, space); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to create space", err)
	}

	err = s.repo.UpdateUser(ctx, adminID, database.Patch{
		"spaces":    database.ArrayUnion(space.ID),
		"updatedAt": database.ServerTimestamp(),
	})
	if err != nil {
		// the space exists; SyncUserSpaces puts it back on the profile
		s.logger.Warn("space created but admin profile not updated", "space_id", space.ID, "admin_uid", adminID, "error", err)
	}
	s.logger.Info("space created", "space_id", space.ID, "admin_uid", adminID)
	return space, nil
}

// ListUserSpaces lists the spaces uid is a member of.
func (s *Service) ListUserSpaces(ctx context.Context, uid string) ([]models.SpaceSummary, error) {
	spaces, err := s.repo.SpacesByMember(ctx, uid)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to list spaces", err)
	}
	return summaries(spaces), nil
}

// ListAdminSpaces lists the spaces uid administers.
func (s *Service) ListAdminSpaces(ctx context.Context, uid string) ([]models.SpaceSummary, error) {
	spaces, err := s.repo.SpacesByAdmin(ctx, uid)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to list spaces", err)
	}
	return summaries(spaces), nil
}

func summaries(spaces []models.Space) []models.SpaceSummary {
	out := make([]models.SpaceSummary, 0, len(spaces))
	for i := range spaces {
		out = append(out, spaces[i].Summary())
	}
	return out
}

func (s *Service) GetSpace(ctx context.Context, spaceID, uid string) (*models.Space, error) {
	return s.memberSpace(ctx, spaceID, uid)
}

// ReconcileCounters recomputes memberCount and tasks from the members list
// and the stored tasks. Admin only.
func (s *Service) ReconcileCounters(ctx context.Context, spaceID, adminID string) (*models.Space, error) {
	space, err := s.loadSpace(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	if err := membership.RequireAdmin(space, adminID); err != nil {
		return nil, err
	}
	return s.reconcile(ctx, space)
}

// Recount is ReconcileCounters without the caller check, for operators.
func (s *Service) Recount(ctx context.Context, spaceID string) (*models.Space, error) {
	space, err := s.loadSpace(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	return s.reconcile(ctx, space)
}

func (s *Service) reconcile(ctx context.Context, space *models.Space) (*models.Space, error) {
	tasks, err := s.repo.TasksBySpace(ctx, space.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to count tasks", err)
	}

	members, taskCount := len(space.Members), len(tasks)
	if members == space.MemberCount && taskCount == space.Tasks {
		return space, nil
	}
	err = s.repo.UpdateSpace(ctx, space.ID, database.Patch{
		"memberCount": database.Set(members),
		"tasks":       database.Set(taskCount),
		"updatedAt":   database.ServerTimestamp(),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to update counters", err)
	}
	s.logger.Info("counters reconciled", "space_id", space.ID,
		"member_count_was", space.MemberCount, "member_count", members,
		"tasks_was", space.Tasks, "tasks", taskCount)
	return s.loadSpace(ctx, space.ID)
}

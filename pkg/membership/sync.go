package membership

import (
	"context"
	"errors"
	"sort"

	"tasker-backend/pkg/apperr"
	"tasker-backend/pkg/database"
)

// SyncUserSpaces recomputes the spaces uid belongs to from the space
// documents, re-adds admins missing from their own members list and
// overwrites the user's spaces with the sorted result.
func (s *Service) SyncUserSpaces(ctx context.Context, uid string) ([]string, error) {
	if _, err := s.repo.GetUser(ctx, uid); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperr.Wrap(apperr.NotFound, "User profile not found", err)
		}
		return nil, apperr.Wrap(apperr.Internal, "Failed to load user", err)
	}

	spaces, err := s.repo.AllSpaces(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to scan spaces", err)
	}

	ids := make([]string, 0)
	for _, space := range spaces {
		isAdmin := space.AdminID == uid
		isMember := space.Members.Contains(uid)
		if !isAdmin && !isMember {
			continue
		}
		ids = append(ids, space.ID)

		if isAdmin && !isMember {
			err := s.repo.UpdateSpace(ctx, space.ID, database.Patch{
				"members":     database.ArrayUnion(uid),
				"memberCount": database.Set(len(space.Members) + 1),
				"updatedAt":   database.ServerTimestamp(),
			})
			if err != nil {
				return nil, apperr.Wrap(apperr.Internal, "Failed to repair space membership", err)
			}
			s.logger.Info("re-added admin to own space", "space_id", space.ID, "admin_uid", uid)
		}
	}
	sort.Strings(ids)

	err = s.repo.UpdateUser(ctx, uid, database.Patch{
		"spaces":    database.Set(ids),
		"updatedAt": database.ServerTimestamp(),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to update user spaces", err)
	}
	return ids, nil
}

// WithSyncRetry runs fn, and when it fails with a recoverable authorization
// error, syncs uid's spaces and runs it once more.
func (s *Service) WithSyncRetry(ctx context.Context, uid string, fn func() error) error {
	err := fn()
	if err == nil || !apperr.Recoverable(apperr.CodeOf(err)) {
		return err
	}
	if _, syncErr := s.SyncUserSpaces(ctx, uid); syncErr != nil {
		s.logger.Warn("self-healing sync failed", "uid", uid, "error", syncErr)
		return err
	}
	return fn()
}

package membership

import (
	"context"
	"errors"

	"tasker-backend/pkg/apperr"
	"tasker-backend/pkg/database"
	"tasker-backend/pkg/models"
)

// RemoveMember takes memberID out of the space and the space out of the
// member's profile. The two writes are independent; if the second fails the
// space is already updated and SyncUserSpaces repairs the profile.
func (s *Service) RemoveMember(ctx context.Context, spaceID, memberID, adminID string) error {
	space, err := s.loadSpace(ctx, spaceID)
	if err != nil {
		return err
	}
	if err := RequireAdmin(space, adminID); err != nil {
		return err
	}
	if memberID == adminID || memberID == space.AdminID {
		return apperr.New(apperr.SelfRemovalDenied, "You cannot remove yourself from your own space")
	}
	if !space.Members.Contains(memberID) {
		return apperr.New(apperr.NotFound, "Member not found in this space")
	}

	count := space.CountBase() - 1
	if count < 1 {
		count = 1
	}
	err = s.repo.UpdateSpace(ctx, spaceID, database.Patch{
		"members":     database.ArrayRemove(memberID, map[string]string{"uid": memberID}),
		"memberCount": database.Set(count),
		"updatedAt":   database.ServerTimestamp(),
	})
	if err != nil {
		return apperr.Wrap(apperr.Internal, "Failed to remove member", err)
	}

	err = s.repo.UpdateUser(ctx, memberID, database.Patch{
		"spaces":    database.ArrayRemove(spaceID),
		"updatedAt": database.ServerTimestamp(),
	})
	if errors.Is(err, database.ErrNotFound) {
		s.logger.Info("removed member has no profile", "space_id", spaceID, "member_uid", memberID)
		return nil
	}
	if err != nil {
		s.logger.Warn("member removed from space but profile not updated", "space_id", spaceID, "member_uid", memberID, "error", err)
		return apperr.Wrap(apperr.Internal, "Member removed but their profile could not be updated", err)
	}
	s.logger.Info("member removed", "space_id", spaceID, "member_uid", memberID, "admin_uid", adminID)
	return nil
}

// ListMembers resolves the profiles of a space's members; members without a
// profile are skipped.
func (s *Service) ListMembers(ctx context.Context, spaceID, uid string) ([]models.MemberInfo, error) {
	space, err := s.loadSpace(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	if err := RequireMember(space, uid); err != nil {
		return nil, err
	}

	members := make([]models.MemberInfo, 0, len(space.Members))
	for _, id := range space.Members {
		user, err := s.repo.GetUser(ctx, id)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "Failed to load members", err)
		}
		members = append(members, models.MemberInfo{
			UID:       id,
			Email:     user.Email,
			Username:  user.Username,
			Role:      user.Role,
			CreatedAt: user.CreatedAt,
			IsAdmin:   id == space.AdminID,
		})
	}
	return members, nil
}

package board

import (
	"context"
	"sync"
	"unicode/utf8"

	"tasker-backend/pkg/apperr"
	"tasker-backend/pkg/database"
	"tasker-backend/pkg/membership"
	"tasker-backend/pkg/models"
)

func (s *Service) GetNotes(ctx context.Context, spaceID, uid string) (models.Notes, error) {
	space, err := s.memberSpace(ctx, spaceID, uid)
	if err != nil {
		return models.Notes{}, err
	}
	return space.NotesView(), nil
}

// UpdateNotes replaces the space's shared notes.
func (s *Service) UpdateNotes(ctx context.Context, spaceID, uid, notes string) (models.Notes, error) {
	if utf8.RuneCountInString(notes) > maxNotesLength {
		return models.Notes{}, apperr.New(apperr.InvalidInput, "Notes are too long")
	}
	if _, err := s.memberSpace(ctx, spaceID, uid); err != nil {
		return models.Notes{}, err
	}
	err := s.repo.UpdateSpace(ctx, spaceID, database.Patch{
		"notes":          database.Set(notes),
		"notesUpdatedAt": database.ServerTimestamp(),
		"notesUpdatedBy": database.Set(uid),
		"updatedAt":      database.ServerTimestamp(),
	})
	if err != nil {
		return models.Notes{}, apperr.Wrap(apperr.Internal, "Failed to save notes", err)
	}
	space, err := s.loadSpace(ctx, spaceID)
	if err != nil {
		return models.Notes{}, err
	}
	return space.NotesView(), nil
}

// SubscribeNotes calls fn with the current notes and again whenever they
// change. Other updates to the space are not delivered. When uid loses access
// to the space, or the space is deleted, delivery stops and revoked (if set)
// is called once. The subscription ends when ctx is done, access is revoked
// or the returned func is called.
func (s *Service) SubscribeNotes(ctx context.Context, spaceID, uid string, fn func(models.Notes), revoked func()) (func(), error) {
	if _, err := s.memberSpace(ctx, spaceID, uid); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	var (
		mu     sync.Mutex
		last   *models.Notes
		closed bool
	)
	revoke := func() {
		closed = true
		cancel()
		if revoked != nil {
			revoked()
		}
	}
	onChange := func(doc database.Document, exists bool) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		if !exists {
			s.logger.Info("space removed, ending notes subscription", "space_id", spaceID, "uid", uid)
			revoke()
			return
		}
		var space models.Space
		if err := database.Decode(doc, &space); err != nil {
			s.logger.Warn("undecodable space in notes subscription", "space_id", spaceID, "error", err)
			return
		}
		space.ID = spaceID
		if membership.Check(&space, uid) == membership.Denied {
			s.logger.Info("access revoked, ending notes subscription", "space_id", spaceID, "uid", uid)
			revoke()
			return
		}

		view := space.NotesView()
		if last != nil && sameNotes(*last, view) {
			return
		}
		last = &view
		fn(view)
	}

	unsubscribe, err := s.repo.Store().Subscribe(subCtx, database.CollectionSpaces, spaceID, onChange)
	if err != nil {
		cancel()
		return nil, apperr.Wrap(apperr.Internal, "Failed to subscribe to notes", err)
	}
	return func() {
		unsubscribe()
		cancel()
	}, nil
}

func sameNotes(a, b models.Notes) bool {
	if a.Notes != b.Notes || a.UpdatedBy != b.UpdatedBy {
		return false
	}
	if a.UpdatedAt == nil || b.UpdatedAt == nil {
		return a.UpdatedAt == b.UpdatedAt
	}
	return a.UpdatedAt.Equal(*b.UpdatedAt)
}

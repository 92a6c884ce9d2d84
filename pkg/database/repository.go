package database

import (
	"context"
	"fmt"

	"tasker-backend/pkg/models"
)

// Repository wraps a DocumentStore with typed accessors for spaces, users and tasks.
type Repository struct {
	store DocumentStore
}

func NewRepository(store DocumentStore) *Repository {
	return &Repository{store: store}
}

func (r *Repository) Store() DocumentStore {
	return r.store
}

func (r *Repository) NewID() string {
	return r.store.NewID()
}

// ================= Spaces =================

func (r *Repository) GetSpace(ctx context.Context, id string) (*models.Space, error) {
	doc, err := r.store.Get(ctx, CollectionSpaces, id)
	if err != nil {
		return nil, err
	}
	return decodeSpace(id, doc)
}

func (r *Repository) CreateSpace(ctx context.Context, space *models.Space) error {
	doc, err := Encode(space)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, CollectionSpaces, space.ID, doc)
}

func (r *Repository) UpdateSpace(ctx context.Context, id string, patch Patch) error {
	return r.store.Update(ctx, CollectionSpaces, id, patch)
}

// SpacesByMember lists spaces whose members array holds uid as a bare id.
func (r *Repository) SpacesByMember(ctx context.Context, uid string) ([]models.Space, error) {
	return r.querySpaces(ctx, Where("members", OpArrayContains, uid))
}

func (r *Repository) SpacesByAdmin(ctx context.Context, uid string) ([]models.Space, error) {
	return r.querySpaces(ctx, Where("adminId", OpEqual, uid))
}

func (r *Repository) AllSpaces(ctx context.Context) ([]models.Space, error) {
	return r.querySpaces(ctx)
}

func (r *Repository) querySpaces(ctx context.Context, filters ...Filter) ([]models.Space, error) {
	snaps, err := r.store.Query(ctx, CollectionSpaces, filters...)
	if err != nil {
		return nil, err
	}
	spaces := make([]models.Space, 0, len(snaps))
	for _, snap := range snaps {
		s, err := decodeSpace(snap.ID, snap.Data)
		if err != nil {
			return nil, err
		}
		spaces = append(spaces, *s)
	}
	return spaces, nil
}

func decodeSpace(id string, doc Document) (*models.Space, error) {
	var s models.Space
	if err := Decode(doc, &s); err != nil {
		return nil, fmt.Errorf("decode space %s: %w", id, err)
	}
	s.ID = id
	return &s, nil
}

// ================= Users =================

func (r *Repository) GetUser(ctx context.Context, uid string) (*models.User, error) {
	doc, err := r.store.Get(ctx, CollectionUsers, uid)
	if err != nil {
		return nil, err
	}
	var u models.User
	if err := Decode(doc, &u); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", uid, err)
	}
	u.UID = uid
	return &u, nil
}

func (r *Repository) SetUser(ctx context.Context, user *models.User) error {
	doc, err := Encode(user)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, CollectionUsers, user.UID, doc)
}

func (r *Repository) UpdateUser(ctx context.Context, uid string, patch Patch) error {
	return r.store.Update(ctx, CollectionUsers, uid, patch)
}

// ================= Tasks =================

func (r *Repository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	doc, err := r.store.Get(ctx, CollectionTasks, id)
	if err != nil {
		return nil, err
	}
	return decodeTask(id, doc)
}

func (r *Repository) CreateTask(ctx context.Context, task *models.Task) error {
	doc, err := Encode(task)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, CollectionTasks, task.ID, doc)
}

func (r *Repository) UpdateTask(ctx context.Context, id string, patch Patch) error {
	return r.store.Update(ctx, CollectionTasks, id, patch)
}

func (r *Repository) DeleteTask(ctx context.Context, id string) error {
	return r.store.Delete(ctx, CollectionTasks, id)
}

func (r *Repository) TasksBySpace(ctx context.Context, spaceID string) ([]models.Task, error) {
	snaps, err := r.store.Query(ctx, CollectionTasks, Where("spaceId", OpEqual, spaceID))
	if err != nil {
		return nil, err
	}
	tasks := make([]models.Task, 0, len(snaps))
	for _, snap := range snaps {
		t, err := decodeTask(snap.ID, snap.Data)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

func decodeTask(id string, doc Document) (*models.Task, error) {
	var t models.Task
	if err := Decode(doc, &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	t.ID = id
	return &t, nil
}

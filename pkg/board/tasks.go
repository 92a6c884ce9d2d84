package board

import (
	"context"
	"errors"
	"sort"
	"strings"

	"tasker-backend/pkg/apperr"
	"tasker-backend/pkg/database"
	"tasker-backend/pkg/models"
)

// CreateTask adds a task to the space board and bumps the space's task counter.
func (s *Service) CreateTask(ctx context.Context, spaceID, uid string, in models.TaskInput) (*models.Task, error) {
	if _, err := s.memberSpace(ctx, spaceID, uid); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperr.New(apperr.InvalidInput, "Task title is required")
	}
	status := in.Status
	if status == "" {
		status = models.StatusTodo
	}
	if !status.Valid() {
		return nil, apperr.New(apperr.InvalidInput, "Invalid task status")
	}
	priority := in.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return nil, apperr.New(apperr.InvalidInput, "Invalid task priority")
	}
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}

	now := s.now().UTC()
	task := &models.Task{
		ID:          s.repo.NewID(),
		SpaceID:     spaceID,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Status:      status,
		Priority:    priority,
		Assignee:    in.Assignee,
		DueDate:     nonEmpty(in.DueDate),
		Tags:        tags,
		Progress:    status.Progress(),
		CreatedAt:   now,
		CreatedBy:   uid,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to create task", err)
	}
	s.adjustTaskCount(ctx, spaceID, +1)
	return task, nil
}

// ListTasks returns the space's tasks, oldest first.
func (s *Service) ListTasks(ctx context.Context, spaceID, uid string) ([]models.Task, error) {
	if _, err := s.memberSpace(ctx, spaceID, uid); err != nil {
		return nil, err
	}
	tasks, err := s.repo.TasksBySpace(ctx, spaceID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to fetch tasks", err)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// UpdateTaskStatus moves a task to another column; progress follows the status.
func (s *Service) UpdateTaskStatus(ctx context.Context, spaceID, taskID, uid string, status models.TaskStatus) (*models.Task, error) {
	if !status.Valid() {
		return nil, apperr.New(apperr.InvalidInput, "Invalid task status")
	}
	if _, err := s.spaceTask(ctx, spaceID, taskID, uid); err != nil {
		return nil, err
	}
	return s.applyTaskPatch(ctx, taskID, database.Patch{
		"status":    database.Set(status),
		"progress":  database.Set(status.Progress()),
		"updatedAt": database.ServerTimestamp(),
	})
}

// UpdateTask applies the non-nil fields of p. A client-sent progress is ignored.
func (s *Service) UpdateTask(ctx context.Context, spaceID, taskID, uid string, p models.TaskPatch) (*models.Task, error) {
	patch := database.Patch{}
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return nil, apperr.New(apperr.InvalidInput, "Task title is required")
		}
		patch["title"] = database.Set(title)
	}
	if p.Description != nil {
		patch["description"] = database.Set(strings.TrimSpace(*p.Description))
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return nil, apperr.New(apperr.InvalidInput, "Invalid task status")
		}
		patch["status"] = database.Set(*p.Status)
		patch["progress"] = database.Set(p.Status.Progress())
	}
	if p.Priority != nil {
		if !p.Priority.Valid() {
			return nil, apperr.New(apperr.InvalidInput, "Invalid task priority")
		}
		patch["priority"] = database.Set(*p.Priority)
	}
	if p.Assignee != nil {
		patch["assignee"] = database.Set(*p.Assignee)
	}
	if p.DueDate != nil {
		patch["dueDate"] = database.Set(nonEmpty(p.DueDate))
	}
	if p.Tags != nil {
		patch["tags"] = database.Set(p.Tags)
	}
	if len(patch) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "No fields to update")
	}
	patch["updatedAt"] = database.ServerTimestamp()

	if _, err := s.spaceTask(ctx, spaceID, taskID, uid); err != nil {
		return nil, err
	}
	return s.applyTaskPatch(ctx, taskID, patch)
}

// DeleteTask removes a task and decrements the space's task counter.
func (s *Service) DeleteTask(ctx context.Context, spaceID, taskID, uid string) error {
	if _, err := s.spaceTask(ctx, spaceID, taskID, uid); err != nil {
		return err
	}
	if err := s.repo.DeleteTask(ctx, taskID); err != nil && !errors.Is(err, database.ErrNotFound) {
		return apperr.Wrap(apperr.Internal, "Failed to delete task", err)
	}
	s.adjustTaskCount(ctx, spaceID, -1)
	return nil
}

// spaceTask checks membership and that the task belongs to the space.
func (s *Service) spaceTask(ctx context.Context, spaceID, taskID, uid string) (*models.Task, error) {
	if _, err := s.memberSpace(ctx, spaceID, uid); err != nil {
		return nil, err
	}
	task, err := s.repo.GetTask(ctx, taskID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.Wrap(apperr.NotFound, "Task not found", err)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to load task", err)
	}
	if task.SpaceID != spaceID {
		return nil, apperr.New(apperr.NotFound, "Task not found")
	}
	return task, nil
}

func (s *Service) applyTaskPatch(ctx context.Context, taskID string, patch database.Patch) (*models.Task, error) {
	if err := s.repo.UpdateTask(ctx, taskID, patch); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperr.Wrap(apperr.NotFound, "Task not found", err)
		}
		return nil, apperr.Wrap(apperr.Internal, "Failed to update task", err)
	}
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to load task", err)
	}
	return task, nil
}

// adjustTaskCount re-reads the space and writes tasks+1 or max(0, (tasks||1)-1).
// This is a read-modify-write; concurrent writers can lose updates, which
// ReconcileCounters repairs.
func (s *Service) adjustTaskCount(ctx context.Context, spaceID string, delta int) {
	space, err := s.repo.GetSpace(ctx, spaceID)
	if err != nil {
		s.logger.Warn("task counter not updated", "space_id", spaceID, "error", err)
		return
	}
	count := space.Tasks + delta
	if delta < 0 {
		base := space.Tasks
		if base == 0 {
			base = 1
		}
		count = base + delta
		if count < 0 {
			count = 0
		}
	}
	err = s.repo.UpdateSpace(ctx, spaceID, database.Patch{
		"tasks":     database.Set(count),
		"updatedAt": database.ServerTimestamp(),
	})
	if err != nil {
		s.logger.Warn("task counter not updated", "space_id", spaceID, "error", err)
	}
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

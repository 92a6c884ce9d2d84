package models

import "time"

type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in-progress"
	StatusCompleted  TaskStatus = "completed"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Progress is derived from status on every status write.
func (s TaskStatus) Progress() int {
	switch s {
	case StatusCompleted:
		return 100
	case StatusInProgress:
		return 50
	default:
		return 0
	}
}

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

func (p TaskPriority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// Task is a card on a space's board
type Task struct {
	ID          string       `json:"id"`
	SpaceID     string       `json:"spaceId"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	Assignee    string       `json:"assignee"`
	DueDate     *string      `json:"dueDate"`
	Tags        []string     `json:"tags"`
	Progress    int          `json:"progress"`
	CreatedAt   time.Time    `json:"createdAt"`
	CreatedBy   string       `json:"createdBy"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// TaskInput is the create payload. Progress is accepted for compatibility
// but ignored; it always follows the status.
type TaskInput struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	Assignee    string       `json:"assignee"`
	DueDate     *string      `json:"dueDate"`
	Tags        []string     `json:"tags"`
	Progress    *int         `json:"progress,omitempty"`
}

// TaskPatch is a partial update; nil fields are left unchanged.
type TaskPatch struct {
	Title       *string       `json:"title,omitempty"`
	Description *string       `json:"description,omitempty"`
	Status      *TaskStatus   `json:"status,omitempty"`
	Priority    *TaskPriority `json:"priority,omitempty"`
	Assignee    *string       `json:"assignee,omitempty"`
	DueDate     *string       `json:"dueDate,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	Progress    *int          `json:"progress,omitempty"`
}

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"tasker-backend/pkg/board"
	"tasker-backend/pkg/membership"
	"tasker-backend/pkg/models"
	"tasker-backend/pkg/utils"
)

// TasksHandler serves a space's task board.
type TasksHandler struct {
	board      *board.Service
	membership *membership.Service
}

func NewTasksHandler(b *board.Service, members *membership.Service) *TasksHandler {
	return &TasksHandler{board: b, membership: members}
}

func taskID(r *http.Request) string {
	return chi.URLParam(r, "taskID")
}

// GET /api/spaces/{spaceID}/tasks
func (h *TasksHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	var tasks []models.Task
	err := h.membership.WithSyncRetry(r.Context(), sess.UID, func() error {
		var err error
		tasks, err = h.board.ListTasks(r.Context(), spaceID(r), sess.UID)
		return err
	})
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, tasks)
}

// POST /api/spaces/{spaceID}/tasks
func (h *TasksHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	var req models.TaskInput
	if !decodeBody(w, r, &req) {
		return
	}
	task, err := h.board.CreateTask(r.Context(), spaceID(r), sess.UID, req)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteCreatedResponse(w, task)
}

// PATCH /api/spaces/{spaceID}/tasks/{taskID}
func (h *TasksHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	var req models.TaskPatch
	if !decodeBody(w, r, &req) {
		return
	}
	task, err := h.board.UpdateTask(r.Context(), spaceID(r), taskID(r), sess.UID, req)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, task)
}

// PUT /api/spaces/{spaceID}/tasks/{taskID}/status
func (h *TasksHandler) UpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	var req struct {
		Status models.TaskStatus `json:"status"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	task, err := h.board.UpdateTaskStatus(r.Context(), spaceID(r), taskID(r), sess.UID, req.Status)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, task)
}

// DELETE /api/spaces/{spaceID}/tasks/{taskID}
func (h *TasksHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	if err := h.board.DeleteTask(r.Context(), spaceID(r), taskID(r), sess.UID); err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]string{"message": "Task deleted"})
}

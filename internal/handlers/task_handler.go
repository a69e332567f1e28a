package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskflow/internal/models"
	"taskflow/internal/services"
)

type TaskHandler struct {
	service services.TaskService
	notify  services.NotificationService
	log     *zap.SugaredLogger
}

// NewTaskHandler accepts a nil notifier when no delivery channel is configured.
func NewTaskHandler(service services.TaskService, notify services.NotificationService, log *zap.SugaredLogger) *TaskHandler {
	return &TaskHandler{service: service, notify: notify, log: log}
}

type createTaskRequest struct {
	ProjectID      string              `json:"project_id" binding:"required"`
	Type           models.TaskType     `json:"type"`
	Title          string              `json:"title" binding:"required"`
	Description    string              `json:"description"`
	Priority       models.TaskPriority `json:"priority"`
	AssigneeID     *string             `json:"assignee_id"`
	DueDate        string              `json:"due_date"` // RFC3339 or YYYY-MM-DD
	EstimatedHours *float64            `json:"estimated_hours"`
	Tags           []string            `json:"tags"`
	Labels         map[string]any      `json:"labels"`
}

// updateTaskRequest: absent fields are left alone; "" for assignee_id or
// due_date clears them.
type updateTaskRequest struct {
	Title          *string              `json:"title"`
	Description    *string              `json:"description"`
	Type           *models.TaskType     `json:"type"`
	Status         *models.TaskStatus   `json:"status"`
	Priority       *models.TaskPriority `json:"priority"`
	AssigneeID     *string              `json:"assignee_id"`
	DueDate        *string              `json:"due_date"`
	EstimatedHours *float64             `json:"estimated_hours"`
	ActualHours    *float64             `json:"actual_hours"`
	Tags           []string             `json:"tags"`
	Labels         map[string]any       `json:"labels"`
	Metadata       map[string]any       `json:"metadata"`
	Resolution     *string              `json:"resolution"`
}

type statusRequest struct {
	Status models.TaskStatus `json:"status" binding:"required"`
}

type assignRequest struct {
	AssigneeID string `json:"assignee_id" binding:"required"`
}

type resolutionRequest struct {
	Resolution *string `json:"resolution"`
}

type cancelRequest struct {
	Reason *string `json:"reason"`
}

type tagRequest struct {
	Tag string `json:"tag" binding:"required"`
}

type copyRequest struct {
	ProjectID *string `json:"project_id"`
}

type moveRequest struct {
	ProjectID string `json:"project_id" binding:"required"`
}

type hoursRequest struct {
	ActualHours *float64 `json:"actual_hours" binding:"required"`
}

type batchStatusRequest struct {
	TaskIDs []string          `json:"task_ids" binding:"required"`
	Status  models.TaskStatus `json:"status" binding:"required"`
}

type batchDeleteRequest struct {
	TaskIDs []string `json:"task_ids" binding:"required"`
}

// Create godoc
// @Summary      Create a task
// @Description  Creates a task in an active project and allocates its per-project number
// @Tags         Tasks
// @Accept       json
// @Produce      json
// @Param        task  body      createTaskRequest  true  "Task"
// @Success      201   {object}  models.Task
// @Failure      400   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Security     BearerAuth
// @Router       /api/tasks [post]
func (h *TaskHandler) Create(c *gin.Context) {
	const tag = "[task][create]"
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.log, tag, err)
		return
	}
	in := models.CreateTaskInput{
		ProjectID:      req.ProjectID,
		Type:           req.Type,
		Title:          req.Title,
		Description:    req.Description,
		Priority:       req.Priority,
		AssigneeID:     req.AssigneeID,
		EstimatedHours: req.EstimatedHours,
		Tags:           req.Tags,
		Labels:         req.Labels,
	}
	if req.DueDate != "" {
		due, err := parseDate(req.DueDate)
		if err != nil {
			badRequest(c, h.log, tag, err)
			return
		}
		in.DueDate = &due
	}

	task, err := h.service.Create(c.Request.Context(), actorID(c), in)
	if err != nil {
		respondError(c, h.log, tag, err, "project_id", req.ProjectID)
		return
	}
	h.log.Infow(tag+"[ok]", "id", task.ID, "key", task.Key(), "user_id", actorID(c))
	c.JSON(http.StatusCreated, task)

	if task.AssigneeID != nil {
		h.notifyAssignee(c, task, "📌 New task")
	}
}

// GetByID godoc
// @Summary  Get a task
// @Tags     Tasks
// @Produce  json
// @Param    id   path      string  true  "Task ID"
// @Success  200  {object}  models.Task
// @Failure  404  {object}  map[string]string
// @Security BearerAuth
// @Router   /api/tasks/{id} [get]
func (h *TaskHandler) GetByID(c *gin.Context) {
	id := c.Param("id")
	task, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, "[task][get]", err, "id", id)
		return
	}
	c.JSON(http.StatusOK, task)
}

// List godoc
// @Summary  List tasks
// @Tags     Tasks
// @Produce  json
// @Param    project_id   query  string  false  "Project"
// @Param    status       query  string  false  "todo|in_progress|done|cancelled"
// @Param    priority     query  string  false  "low|medium|high|urgent"
// @Param    type         query  string  false  "bug|feature|task|improvement"
// @Param    assignee_id  query  string  false  "Assignee"
// @Param    creator_id   query  string  false  "Creator"
// @Param    tag          query  string  false  "Tag"
// @Param    search       query  string  false  "Text in title or description"
// @Param    sort_by      query  string  false  "created_at|title|priority|status|due_date|task_number"
// @Param    sort_dir     query  string  false  "asc|desc"
// @Param    page         query  int     false  "Page, from 1"
// @Param    page_size    query  int     false  "Page size, max 100"
// @Success  200  {object}  models.TaskPage
// @Security BearerAuth
// @Router   /api/tasks [get]
func (h *TaskHandler) List(c *gin.Context) {
	const tag = "[task][list]"
	page, err := queryInt(c, "page", 1)
	if err != nil {
		badRequest(c, h.log, tag, err)
		return
	}
	size, err := queryInt(c, "page_size", 0)
	if err != nil {
		badRequest(c, h.log, tag, err)
		return
	}
	filter := models.TaskFilter{
		ProjectID:     queryPtr(c, "project_id"),
		AssigneeID:    queryPtr(c, "assignee_id"),
		CreatorID:     queryPtr(c, "creator_id"),
		Tag:           queryPtr(c, "tag"),
		Search:        queryPtr(c, "search"),
		SortBy:        c.Query("sort_by"),
		SortDirection: c.Query("sort_dir"),
		Page:          page,
		PageSize:      size,
	}
	if v := queryPtr(c, "status"); v != nil {
		s := models.TaskStatus(*v)
		filter.Status = &s
	}
	if v := queryPtr(c, "priority"); v != nil {
		p := models.TaskPriority(*v)
		filter.Priority = &p
	}
	if v := queryPtr(c, "type"); v != nil {
		t := models.TaskType(*v)
		filter.Type = &t
	}

	result, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.log, tag, err, "query", c.Request.URL.RawQuery)
		return
	}
	h.log.Debugw(tag+"[ok]", "count", len(result.Items), "total", result.TotalCount)
	c.JSON(http.StatusOK, result)
}

// Update godoc
// @Summary      Partially update a task
// @Description  Only the fields present in the body change. Status and assignee changes are recorded in the activity log.
// @Tags         Tasks
// @Accept       json
// @Produce      json
// @Param        id    path      string             true  "Task ID"
// @Param        task  body      updateTaskRequest  true  "Fields to change"
// @Success      200   {object}  models.Task
// @Failure      400   {object}  map[string]string
// @Failure      403   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Security     BearerAuth
// @Router       /api/tasks/{id} [put]
func (h *TaskHandler) Update(c *gin.Context) {
	const tag = "[task][update]"
	id := c.Param("id")
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.log, tag, err)
		return
	}
	upd := models.TaskUpdate{
		Title:          req.Title,
		Description:    req.Description,
		Type:           req.Type,
		Status:         req.Status,
		Priority:       req.Priority,
		AssigneeID:     req.AssigneeID,
		EstimatedHours: req.EstimatedHours,
		ActualHours:    req.ActualHours,
		Tags:           req.Tags,
		Labels:         req.Labels,
		Metadata:       req.Metadata,
		Resolution:     req.Resolution,
	}
	if req.DueDate != nil {
		if *req.DueDate == "" {
			upd.ClearDueDate = true
		} else {
			due, err := parseDate(*req.DueDate)
			if err != nil {
				badRequest(c, h.log, tag, err)
				return
			}
			upd.DueDate = &due
		}
	}

	var before *string
	if req.AssigneeID != nil {
		before = h.currentAssignee(c, id)
	}
	task, err := h.service.Update(c.Request.Context(), id, actorID(c), upd)
	if err != nil {
		respondError(c, h.log, tag, err, "id", id)
		return
	}
	h.log.Infow(tag+"[ok]", "id", id, "user_id", actorID(c))
	c.JSON(http.StatusOK, task)

	if req.AssigneeID != nil && h.newlyAssigned(c, before, task) {
		h.notifyAssignee(c, task, "✏️ Task assigned to you")
	}
}

// Delete godoc
// @Summary  Soft-delete a task (creator only)
// @Tags     Tasks
// @Param    id   path  string  true  "Task ID"
// @Success  204
// @Failure  403  {object}  map[string]string
// @Failure  404  {object}  map[string]string
// @Security BearerAuth
// @Router   /api/tasks/{id} [delete]
func (h *TaskHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Delete(c.Request.Context(), id, actorID(c)); err != nil {
		respondError(c, h.log, "[task][delete]", err, "id", id)
		return
	}
	h.log.Infow("[task][delete][ok]", "id", id, "user_id", actorID(c))
	c.Status(http.StatusNoContent)
}

// SetStatus godoc
// @Summary  Change task status
// @Tags     Tasks
// @Accept   json
// @Produce  json
// @Param    id    path      string         true  "Task ID"
// @Param    body  body      statusRequest  true  "New status"
// @Success  200   {object}  models.Task
// @Failure  400   {object}  map[string]string
// @Failure  403   {object}  map[string]string
// @Security BearerAuth
// @Router   /api/tasks/{id}/status [post]
func (h *TaskHandler) SetStatus(c *gin.Context) {
	const tag = "[task][status]"
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.log, tag, err)
		return
	}
	h.lifecycle(c, tag, func(id, actor string) (*models.Task, error) {
		return h.service.SetStatus(c.Request.Context(), id, actor, req.Status)
	})
}

// Assign godoc
// @Summary  Assign a task
// @Tags     Tasks
// @Accept   json
// @Produce  json
// @Param    id    path      string         true  "Task ID"
// @Param    body  body      assignRequest  true  "Assignee"
// @Success  200   {object}  models.Task
// @Failure  404   {object}  map[string]string
// @Security BearerAuth
// @Router   /api/tasks/{id}/assign [post]
func (h *TaskHandler) Assign(c *gin.Context) {
	const tag = "[task][assign]"
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.log, tag, err)
		return
	}
	before := h.currentAssignee(c, c.Param("id"))
	task := h.lifecycle(c, tag, func(id, actor string) (*models.Task, error) {
		return h.service.Assign(c.Request.Context(), id, actor, req.AssigneeID)
	})
	if task != nil && h.newlyAssigned(c, before, task) {
		h.notifyAssignee(c, task, "📌 Task assigned to you")
	}
}

func (h *TaskHandler) Unassign(c *gin.Context) {
	h.lifecycle(c, "[task][unassign]", func(id, actor string) (*models.Task, error) {
		return h.service.Unassign(c.Request.Context(), id, actor)
	})
}

func (h *TaskHandler) Complete(c *gin.Context) {
	const tag = "[task][complete]"
	var req resolutionRequest
	if !bindOptionalJSON(c, h.log, tag, &req) {
		return
	}
	h.lifecycle(c, tag, func(id, actor string) (*models.Task, error) {
		return h.service.Complete(c.Request.Context(), id, actor, req.Resolution)
	})
}

func (h *TaskHandler) Reopen(c *gin.Context) {
	h.lifecycle(c, "[task][reopen]", func(id, actor string) (*models.Task, error) {
		return h.service.Reopen(c.Request.Context(), id, actor)
	})
}

func (h *TaskHandler) Cancel(c *gin.Context) {
	const tag = "[task][cancel]"
	var req cancelRequest
	if !bindOptionalJSON(c, h.log, tag, &req) {
		return
	}
	h.lifecycle(c, tag, func(id, actor string) (*models.Task, error) {
		return h.service.Cancel(c.Request.Context(), id, actor, req.Reason)
	})
}

func (h *TaskHandler) AddTag(c *gin.Context) {
	const tag = "[task][tag][add]"
	var req tagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.log, tag, err)
		return
	}
	h.lifecycle(c, tag, func(id, _ string) (*models.Task, error) {
		return h.service.AddTag(c.Request.Context(), id, req.Tag)
	})
}

func (h *TaskHandler) RemoveTag(c *gin.Context) {
	h.lifecycle(c, "[task][tag][remove]", func(id, _ string) (*models.Task, error) {
		return h.service.RemoveTag(c.Request.Context(), id, c.Param("tag"))
	})
}

// Copy godoc
// @Summary  Copy a task, optionally into another project
// @Tags     Tasks
// @Accept   json
// @Produce  json
// @Param    id    path      string       true   "Task ID"
// @Param    body  body      copyRequest  false  "Target project"
// @Success  201   {object}  models.Task
// @Security BearerAuth
// @Router   /api/tasks/{id}/copy [post]
func (h *TaskHandler) Copy(c *gin.Context) {
	const tag = "[task][copy]"
	id := c.Param("id")
	var req copyRequest
	if !bindOptionalJSON(c, h.log, tag, &req) {
		return
	}
	task, err := h.service.Copy(c.Request.Context(), id, req.ProjectID, actorID(c))
	if err != nil {
		respondError(c, h.log, tag, err, "id", id)
		return
	}
	h.log.Infow(tag+"[ok]", "from", id, "id", task.ID, "key", task.Key())
	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) Move(c *gin.Context) {
	const tag = "[task][move]"
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.log, tag, err)
		return
	}
	h.lifecycle(c, tag, func(id, actor string) (*models.Task, error) {
		return h.service.Move(c.Request.Context(), id, req.ProjectID, actor)
	})
}

func (h *TaskHandler) UpdateHours(c *gin.Context) {
	const tag = "[task][hours]"
	var req hoursRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.log, tag, err)
		return
	}
	h.lifecycle(c, tag, func(id, actor string) (*models.Task, error) {
		return h.service.UpdateHours(c.Request.Context(), id, actor, *req.ActualHours)
	})
}

// Statistics godoc
// @Summary  Task statistics of a project
// @Tags     Projects
// @Produce  json
// @Param    id   path      string  true  "Project ID"
// @Success  200  {object}  models.TaskStatistics
// @Failure  404  {object}  map[string]string
// @Security BearerAuth
// @Router   /api/projects/{id}/statistics [get]
func (h *TaskHandler) Statistics(c *gin.Context) {
	id := c.Param("id")
	stats, err := h.service.Statistics(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, "[project][stats]", err, "project_id", id)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// BatchStatus godoc
// @Summary      Change the status of several tasks
// @Description  Each task is changed on its own; failures are reported per task.
// @Tags         Tasks
// @Accept       json
// @Produce      json
// @Param        body  body      batchStatusRequest  true  "Tasks and status"
// @Success      200   {object}  models.BatchResult
// @Failure      400   {object}  map[string]string
// @Security     BearerAuth
// @Router       /api/tasks/batch-status [post]
func (h *TaskHandler) BatchStatus(c *gin.Context) {
	const tag = "[task][batch][status]"
	var req batchStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.log, tag, err)
		return
	}
	res, err := h.service.BatchSetStatus(c.Request.Context(), req.TaskIDs, actorID(c), req.Status)
	if err != nil {
		respondError(c, h.log, tag, err, "count", len(req.TaskIDs))
		return
	}
	h.log.Infow(tag+"[ok]", "succeeded", len(res.Succeeded), "failed", len(res.Failed), "user_id", actorID(c))
	c.JSON(http.StatusOK, res)
}

// BatchDelete godoc
// @Summary      Soft-delete several tasks
// @Description  Only tasks created by the caller are deleted. Fails with 403 when none is.
// @Tags         Tasks
// @Accept       json
// @Produce      json
// @Param        body  body      batchDeleteRequest  true  "Tasks"
// @Success      200   {object}  models.BatchResult
// @Failure      403   {object}  map[string]string
// @Security     BearerAuth
// @Router       /api/tasks/batch-delete [post]
func (h *TaskHandler) BatchDelete(c *gin.Context) {
	const tag = "[task][batch][delete]"
	var req batchDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.log, tag, err)
		return
	}
	res, err := h.service.BatchDelete(c.Request.Context(), req.TaskIDs, actorID(c))
	if err != nil {
		respondError(c, h.log, tag, err, "count", len(req.TaskIDs))
		return
	}
	h.log.Infow(tag+"[ok]", "succeeded", len(res.Succeeded), "failed", len(res.Failed), "user_id", actorID(c))
	c.JSON(http.StatusOK, res)
}

// Overdue godoc
// @Summary  Open tasks past their due date, earliest first
// @Tags     Tasks
// @Produce  json
// @Param    project_id   query  string  false  "Project"
// @Param    assignee_id  query  string  false  "Assignee"
// @Success  200  {array}   models.Task
// @Failure  404  {object}  map[string]string
// @Security BearerAuth
// @Router   /api/tasks/overdue [get]
func (h *TaskHandler) Overdue(c *gin.Context) {
	tasks, err := h.service.Overdue(c.Request.Context(), queryPtr(c, "project_id"), queryPtr(c, "assignee_id"))
	if err != nil {
		respondError(c, h.log, "[task][overdue]", err, "query", c.Request.URL.RawQuery)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// MyStatistics godoc
// @Summary  Task statistics of the caller's assigned tasks
// @Tags     Tasks
// @Produce  json
// @Success  200  {object}  models.TaskStatistics
// @Security BearerAuth
// @Router   /api/me/statistics [get]
func (h *TaskHandler) MyStatistics(c *gin.Context) {
	stats, err := h.service.UserStatistics(c.Request.Context(), actorID(c))
	if err != nil {
		respondError(c, h.log, "[me][stats]", err, "user_id", actorID(c))
		return
	}
	c.JSON(http.StatusOK, stats)
}

// lifecycle runs one engine call against the :id task and writes the result.
// It returns the task on success so callers can follow up.
func (h *TaskHandler) lifecycle(c *gin.Context, tag string, call func(id, actor string) (*models.Task, error)) *models.Task {
	id := c.Param("id")
	task, err := call(id, actorID(c))
	if err != nil {
		respondError(c, h.log, tag, err, "id", id)
		return nil
	}
	h.log.Infow(tag+"[ok]", "id", id, "key", task.Key(), "status", task.Status, "user_id", actorID(c))
	c.JSON(http.StatusOK, task)
	return task
}

// currentAssignee reads the assignee before a change. A failed read is left
// to the mutation itself to report.
func (h *TaskHandler) currentAssignee(c *gin.Context, id string) *string {
	task, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		return nil
	}
	return task.AssigneeID
}

// newlyAssigned holds when the task now has an assignee other than the one
// it had before, and that assignee is not the caller.
func (h *TaskHandler) newlyAssigned(c *gin.Context, before *string, task *models.Task) bool {
	if task.AssigneeID == nil || *task.AssigneeID == actorID(c) {
		return false
	}
	return before == nil || *before != *task.AssigneeID
}

func (h *TaskHandler) notifyAssignee(c *gin.Context, task *models.Task, prefix string) {
	if h.notify == nil {
		return
	}
	h.notify.NotifyAssignee(c.Request.Context(), task, prefix)
}

// bindOptionalJSON binds the body when there is one.
func bindOptionalJSON(c *gin.Context, log *zap.SugaredLogger, tag string, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, log, tag, err)
		return false
	}
	return true
}

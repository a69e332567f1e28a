package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskflow/internal/realtime"
	"taskflow/internal/services"
)

type ActivityHandler struct {
	activity services.ActivityService
	tasks    services.TaskService
	reports  services.ReportService
	hub      *realtime.Hub
	log      *zap.SugaredLogger
}

func NewActivityHandler(activity services.ActivityService, tasks services.TaskService, reports services.ReportService, hub *realtime.Hub, log *zap.SugaredLogger) *ActivityHandler {
	return &ActivityHandler{activity: activity, tasks: tasks, reports: reports, hub: hub, log: log}
}

type commentRequest struct {
	Content string `json:"content" binding:"required"`
}

// List godoc
// @Summary  Activity log of a task, newest first
// @Tags     Activity
// @Produce  json
// @Param    id     path      string  true   "Task ID"
// @Param    limit  query     int     false  "Entries to return, max 100"
// @Success  200    {array}   models.ActivityEntry
// @Failure  404    {object}  map[string]string
// @Security BearerAuth
// @Router   /api/tasks/{id}/activity [get]
func (h *ActivityHandler) List(c *gin.Context) {
	const tag = "[activity][list]"
	id := c.Param("id")
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		badRequest(c, h.log, tag, err)
		return
	}
	entries, err := h.activity.List(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, h.log, tag, err, "task_id", id)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// Stream upgrades to a websocket that receives new activity entries of the task.
func (h *ActivityHandler) Stream(c *gin.Context) {
	const tag = "[activity][stream]"
	id := c.Param("id")
	if _, err := h.tasks.GetByID(c.Request.Context(), id); err != nil {
		respondError(c, h.log, tag, err, "task_id", id)
		return
	}
	h.log.Infow(tag+"[open]", "task_id", id, "user_id", actorID(c))
	if err := h.hub.Serve(id, c.Writer, c.Request); err != nil {
		h.log.Infow(tag+"[closed]", "task_id", id, "err", err)
		return
	}
	h.log.Infow(tag+"[closed]", "task_id", id)
}

// AddComment godoc
// @Summary  Comment on a task
// @Tags     Activity
// @Accept   json
// @Produce  json
// @Param    id    path      string          true  "Task ID"
// @Param    body  body      commentRequest  true  "Comment"
// @Success  201   {object}  models.Comment
// @Security BearerAuth
// @Router   /api/tasks/{id}/comments [post]
func (h *ActivityHandler) AddComment(c *gin.Context) {
	const tag = "[comment][add]"
	id := c.Param("id")
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.log, tag, err)
		return
	}
	comment, err := h.activity.AddComment(c.Request.Context(), id, actorID(c), req.Content)
	if err != nil {
		respondError(c, h.log, tag, err, "task_id", id)
		return
	}
	h.log.Infow(tag+"[ok]", "task_id", id, "id", comment.ID)
	c.JSON(http.StatusCreated, comment)
}

func (h *ActivityHandler) EditComment(c *gin.Context) {
	const tag = "[comment][edit]"
	id := c.Param("id")
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.log, tag, err)
		return
	}
	comment, err := h.activity.EditComment(c.Request.Context(), id, actorID(c), req.Content)
	if err != nil {
		respondError(c, h.log, tag, err, "id", id)
		return
	}
	c.JSON(http.StatusOK, comment)
}

// DeleteComment godoc
// @Summary  Delete a comment (author only)
// @Tags     Activity
// @Param    id   path  string  true  "Comment ID"
// @Success  204
// @Failure  403  {object}  map[string]string
// @Failure  404  {object}  map[string]string
// @Security BearerAuth
// @Router   /api/comments/{id} [delete]
func (h *ActivityHandler) DeleteComment(c *gin.Context) {
	id := c.Param("id")
	if err := h.activity.DeleteComment(c.Request.Context(), id, actorID(c)); err != nil {
		respondError(c, h.log, "[comment][delete]", err, "id", id)
		return
	}
	h.log.Infow("[comment][delete][ok]", "id", id, "user_id", actorID(c))
	c.Status(http.StatusNoContent)
}

// ToggleLike godoc
// @Summary  Like a comment, or take the like back
// @Tags     Activity
// @Produce  json
// @Param    id   path      string  true  "Comment ID"
// @Success  200  {object}  models.LikeState
// @Failure  403  {object}  map[string]string
// @Security BearerAuth
// @Router   /api/comments/{id}/like [post]
func (h *ActivityHandler) ToggleLike(c *gin.Context) {
	id := c.Param("id")
	state, err := h.activity.ToggleLike(c.Request.Context(), id, actorID(c))
	if err != nil {
		respondError(c, h.log, "[comment][like]", err, "id", id)
		return
	}
	c.JSON(http.StatusOK, state)
}

// ExportPDF godoc
// @Summary  Task report as PDF
// @Tags     Tasks
// @Produce  application/pdf
// @Param    id   path  string  true  "Task ID"
// @Success  200  {file}  binary
// @Security BearerAuth
// @Router   /api/tasks/{id}/export.pdf [get]
func (h *ActivityHandler) ExportPDF(c *gin.Context) {
	id := c.Param("id")
	out, name, err := h.reports.TaskPDF(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, "[task][pdf]", err, "id", id)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "application/pdf", out)
}

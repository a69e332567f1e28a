package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"taskflow/internal/handlers"
	"taskflow/internal/middleware"
)

func SetupRoutes(
	r *gin.Engine,
	jwtSecret []byte,
	taskHandler *handlers.TaskHandler,
	activityHandler *handlers.ActivityHandler,
) *gin.Engine {

	// ---- public
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// ---- protected
	api := r.Group("/api")
	api.Use(middleware.AuthMiddleware(jwtSecret))
	api.Use(middleware.ReadOnlyGuard())

	// TASKS
	tasks := api.Group("/tasks")
	{
		tasks.POST("", taskHandler.Create)
		tasks.GET("", taskHandler.List)
		tasks.GET("/overdue", taskHandler.Overdue)
		tasks.POST("/batch-status", taskHandler.BatchStatus)
		tasks.POST("/batch-delete", taskHandler.BatchDelete)
		tasks.GET("/:id", taskHandler.GetByID)
		tasks.PUT("/:id", taskHandler.Update)
		tasks.DELETE("/:id", taskHandler.Delete)

		tasks.POST("/:id/status", taskHandler.SetStatus)
		tasks.POST("/:id/assign", taskHandler.Assign)
		tasks.POST("/:id/unassign", taskHandler.Unassign)
		tasks.POST("/:id/complete", taskHandler.Complete)
		tasks.POST("/:id/reopen", taskHandler.Reopen)
		tasks.POST("/:id/cancel", taskHandler.Cancel)

		tasks.POST("/:id/tags", taskHandler.AddTag)
		tasks.DELETE("/:id/tags/:tag", taskHandler.RemoveTag)
		tasks.POST("/:id/copy", taskHandler.Copy)
		tasks.POST("/:id/move", taskHandler.Move)
		tasks.PUT("/:id/hours", taskHandler.UpdateHours)

		tasks.GET("/:id/activity", activityHandler.List)
		tasks.GET("/:id/activity/stream", activityHandler.Stream)
		tasks.POST("/:id/comments", activityHandler.AddComment)
		tasks.GET("/:id/export.pdf", activityHandler.ExportPDF)
	}

	// COMMENTS
	api.PUT("/comments/:id", activityHandler.EditComment)
	api.DELETE("/comments/:id", activityHandler.DeleteComment)
	api.POST("/comments/:id/like", activityHandler.ToggleLike)

	// PROJECTS
	api.GET("/projects/:id/statistics", taskHandler.Statistics)

	// ME
	api.GET("/me/statistics", taskHandler.MyStatistics)

	return r
}

package router

import (
	"github.com/cuongbtq/taskworker/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	taskHandler := handler.NewTaskHandler(deps)

	// Health check endpoint, reports the result backend
	r.GET("/health", taskHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		tasks := v1.Group("/tasks")
		{
			// POST /api/v1/tasks - Publish a task invocation
			tasks.POST("", taskHandler.PublishTask)

			// GET /api/v1/tasks/:task_id - Get the stored result
			tasks.GET("/:task_id", taskHandler.GetTaskResult)
		}

		// GET /api/v1/definitions - List registered tasks
		v1.GET("/definitions", taskHandler.ListDefinitions)
	}

	return r
}

package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/taskworker/internal/api/dto"
	"github.com/cuongbtq/taskworker/internal/broker"
	"github.com/cuongbtq/taskworker/internal/dispatcher"
	"github.com/cuongbtq/taskworker/internal/domain"
	"github.com/cuongbtq/taskworker/internal/task"
	"github.com/gin-gonic/gin"
)

// PublishTask handles POST /api/v1/tasks
// Enqueues one invocation and returns its id without waiting for the result
func (h *TaskHandler) PublishTask(c *gin.Context) {
	var req dto.PublishTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	def, err := h.producer.Registry().Lookup(req.Task)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": err.Error(),
		})
		return
	}

	queue := def.Queue
	opts := []dispatcher.PublishOption{}
	if req.Queue != "" {
		queue = req.Queue
		opts = append(opts, dispatcher.WithQueue(req.Queue))
	}
	if req.TaskID != "" {
		opts = append(opts, dispatcher.WithTaskID(req.TaskID))
	}
	if req.ETA != nil {
		opts = append(opts, dispatcher.WithETA(*req.ETA))
	} else if req.Countdown > 0 {
		opts = append(opts, dispatcher.WithCountdown(seconds(req.Countdown)))
	}
	if req.Expires > 0 {
		opts = append(opts, dispatcher.WithExpires(seconds(req.Expires)))
	}
	if req.MaxRetries != nil {
		opts = append(opts, dispatcher.WithMaxRetries(*req.MaxRetries))
	}

	result, err := h.producer.PublishRaw(c.Request.Context(), req.Task, req.Args, opts...)
	if err != nil {
		status := publishErrorStatus(err)
		h.logger.Error("Failed to publish task",
			slog.String("task", req.Task),
			slog.String("error", err.Error()),
		)
		c.JSON(status, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, dto.PublishTaskResponse{
		TaskID: result.ID,
		Task:   req.Task,
		Queue:  queue,
		Status: domain.TaskStatusPending,
	})
}

// GetTaskResult handles GET /api/v1/tasks/:task_id
// Unknown ids report PENDING, the same as queued ones
func (h *TaskHandler) GetTaskResult(c *gin.Context) {
	taskID := c.Param("task_id")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "task_id is required",
		})
		return
	}

	res, err := h.producer.Result(c.Request.Context(), taskID)
	if err != nil {
		h.logger.Error("Failed to get task result",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get task result",
		})
		return
	}

	out := dto.TaskResultDTO{
		TaskID:   res.TaskID,
		TaskName: res.TaskName,
		Queue:    res.Queue,
		Status:   res.Status,
		Result:   res.Result,
		Error:    res.Error,
		Retries:  res.Retries,
	}
	if res.DateDone != nil {
		out.DateDone = res.DateDone.UTC().Format(time.RFC3339Nano)
	}
	c.JSON(http.StatusOK, out)
}

// ListDefinitions handles GET /api/v1/definitions
func (h *TaskHandler) ListDefinitions(c *gin.Context) {
	reg := h.producer.Registry()
	names := reg.Names()

	tasks := make([]dto.TaskDefinitionDTO, 0, len(names))
	for _, name := range names {
		def, err := reg.Lookup(name)
		if err != nil {
			continue
		}
		tasks = append(tasks, dto.TaskDefinitionDTO{
			Name:       def.Name,
			Queue:      def.Queue,
			MaxRetries: def.MaxRetries,
		})
	}

	c.JSON(http.StatusOK, dto.ListDefinitionsResponse{Tasks: tasks})
}

// Health handles GET /health
func (h *TaskHandler) Health(c *gin.Context) {
	if err := h.producer.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("Result backend unreachable", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": "task-api-service",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "task-api-service",
	})
}

func publishErrorStatus(err error) int {
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidPayload), errors.Is(err, dispatcher.ErrRoutingError):
		return http.StatusBadRequest
	case errors.Is(err, broker.ErrTransportUnavailable), errors.Is(err, broker.ErrTransportClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

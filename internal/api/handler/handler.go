package handler

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cuongbtq/taskworker/internal/backend"
	"github.com/cuongbtq/taskworker/internal/dispatcher"
	"github.com/cuongbtq/taskworker/internal/task"
)

// Producer is the part of the dispatcher the HTTP layer needs
type Producer interface {
	PublishRaw(ctx context.Context, name string, args json.RawMessage, opts ...dispatcher.PublishOption) (*dispatcher.AsyncResult, error)
	Result(ctx context.Context, taskID string) (*backend.Result, error)
	Registry() *task.Registry
	Ping(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Producer Producer
}

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	logger   *slog.Logger
	producer Producer
}

// NewTaskHandler creates a new TaskHandler instance
func NewTaskHandler(deps *Dependencies) *TaskHandler {
	return &TaskHandler{
		logger:   deps.Logger,
		producer: deps.Producer,
	}
}

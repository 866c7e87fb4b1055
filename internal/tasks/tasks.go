// Package tasks enumerates every task module so producers and workers share
// one registry.
package tasks

import (
	"fmt"
	"log/slog"

	"github.com/cuongbtq/taskworker/internal/task"
	"github.com/cuongbtq/taskworker/internal/tasks/events"
	"github.com/cuongbtq/taskworker/internal/tasks/module1"
	"github.com/cuongbtq/taskworker/internal/tasks/module2"
	"github.com/cuongbtq/taskworker/shared/dbsession"
)

// Deps are the resources handlers need; nil Sessions is fine for producers
type Deps struct {
	Sessions  *dbsession.ConnectionHandler
	BatchSize int
	Logger    *slog.Logger
}

// RegisterAll registers every task module on reg
func RegisterAll(reg *task.Registry, deps Deps) (*events.Tasks, error) {
	if err := module1.Register(reg); err != nil {
		return nil, fmt.Errorf("module1: %w", err)
	}
	if err := module2.Register(reg); err != nil {
		return nil, fmt.Errorf("module2: %w", err)
	}

	ev := events.New(deps.Sessions, deps.BatchSize, deps.Logger)
	if err := ev.Register(reg); err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	return ev, nil
}

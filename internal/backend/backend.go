// Package backend stores task results keyed by task id so producers can poll
// them. Failed results are stored like successful ones and told apart by status.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/cuongbtq/taskworker/internal/domain"
)

// ErrUnsupportedBackend is returned for a backend URL with an unknown scheme
var ErrUnsupportedBackend = errors.New("unsupported result backend")

// Result is the stored outcome of one invocation
type Result struct {
	TaskID   string          `json:"task_id"`
	TaskName string          `json:"task_name,omitempty"`
	Queue    string          `json:"queue,omitempty"`
	Status   string          `json:"status"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	Retries  int             `json:"retries"`
	DateDone *time.Time      `json:"date_done,omitempty"`
}

// Ready reports whether the result is final
func (r *Result) Ready() bool {
	return domain.IsTerminalStatus(r.Status)
}

// Successful reports whether the task completed without error
func (r *Result) Successful() bool {
	return r.Status == domain.TaskStatusSuccess
}

// Decode unmarshals the stored return value into dst
func (r *Result) Decode(dst any) error {
	if len(r.Result) == 0 {
		return fmt.Errorf("task %s has no result", r.TaskID)
	}
	if err := json.Unmarshal(r.Result, dst); err != nil {
		return fmt.Errorf("failed to decode result of task %s: %w", r.TaskID, err)
	}
	return nil
}

// Pending is the result reported for an id the backend has never seen
func Pending(taskID string) *Result {
	return &Result{TaskID: taskID, Status: domain.TaskStatusPending}
}

// Backend persists results
type Backend interface {
	// Store inserts or replaces the result for r.TaskID
	Store(ctx context.Context, r *Result) error
	// Get returns the result for taskID, or a PENDING result when unknown
	Get(ctx context.Context, taskID string) (*Result, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open selects a backend from the URL scheme: postgres, sqlite or memory
func Open(ctx context.Context, rawURL string, logger *slog.Logger) (Backend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid result backend url: %w", err)
	}

	switch u.Scheme {
	case "postgres", "postgresql":
		return OpenSQL(ctx, "postgres", rawURL, logger)
	case "sqlite", "sqlite3":
		path := u.Host + u.Path
		if path == "" {
			return nil, fmt.Errorf("%w: sqlite url needs a file path", ErrUnsupportedBackend)
		}
		return OpenSQL(ctx, "sqlite", "file:"+path+"?_pragma=busy_timeout(5000)", logger)
	case "memory":
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, u.Scheme)
	}
}

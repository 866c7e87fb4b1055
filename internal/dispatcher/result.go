package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/taskworker/internal/backend"
	"github.com/cuongbtq/taskworker/internal/domain"
)

var (
	// ErrTaskFailed is returned by Get when the task ended in FAILURE
	ErrTaskFailed = errors.New("task failed")

	// ErrTaskRevoked is returned by Get when the task expired before it ran
	ErrTaskRevoked = errors.New("task revoked")
)

// DefaultPollInterval is used by Get when no interval is given
const DefaultPollInterval = 500 * time.Millisecond

// AsyncResult is a handle on a published invocation
type AsyncResult struct {
	ID     string
	client *Client
}

// Status returns the current status of the invocation
func (r *AsyncResult) Status(ctx context.Context) (string, error) {
	res, err := r.client.Result(ctx, r.ID)
	if err != nil {
		return "", err
	}
	return res.Status, nil
}

// Info returns the stored result without waiting
func (r *AsyncResult) Info(ctx context.Context) (*backend.Result, error) {
	return r.client.Result(ctx, r.ID)
}

// Get polls the backend until the invocation is final or ctx is done.
// A FAILURE or REVOKED result is returned along with an error.
func (r *AsyncResult) Get(ctx context.Context, pollInterval time.Duration) (*backend.Result, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		res, err := r.client.Result(ctx, r.ID)
		if err != nil {
			return nil, err
		}

		switch res.Status {
		case domain.TaskStatusSuccess:
			return res, nil
		case domain.TaskStatusFailure:
			return res, fmt.Errorf("%w: %s: %s", ErrTaskFailed, r.ID, res.Error)
		case domain.TaskStatusRevoked:
			return res, fmt.Errorf("%w: %s", ErrTaskRevoked, r.ID)
		}

		select {
		case <-ctx.Done():
			return res, fmt.Errorf("waiting for task %s: %w", r.ID, ctx.Err())
		case <-ticker.C:
		}
	}
}

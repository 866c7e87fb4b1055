package worker

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/cuongbtq/taskworker/internal/domain"
	"github.com/cuongbtq/taskworker/internal/task"
	"github.com/cuongbtq/taskworker/shared/dbsession"
)

// IsRetryable reports whether a handler error is transient: explicitly marked
// by the handler, a pool checkout timeout, a broken connection or a timeout.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if domain.IsRetryableError(err) {
		return true
	}

	switch {
	case errors.Is(err, dbsession.ErrPoolTimeout),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// maxRetries prefers the budget carried by the invocation over the registered one
func maxRetries(inv *domain.Invocation, def task.Definition) int {
	if inv.MaxRetries != nil {
		return *inv.MaxRetries
	}
	return def.MaxRetries
}

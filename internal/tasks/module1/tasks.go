// Package module1 holds the arithmetic tasks routed to queue1.
package module1

import (
	"context"
	"encoding/json"

	"github.com/cuongbtq/taskworker/internal/task"
)

// Queue is where every task of this module is routed
const Queue = "queue1"

// Register adds the module's tasks to reg
func Register(reg *task.Registry) error {
	return reg.Register("add", Queue, Add)
}

// Add returns x + y. Integers stay exact unless the sum overflows int64.
func Add(_ context.Context, args task.Args) (any, error) {
	var x, y json.Number
	if err := args.Bind(&x, &y); err != nil {
		return nil, err
	}

	if a, b, ok := task.Ints(x, y); ok {
		sum := a + b
		if (sum > a) == (b > 0) {
			return sum, nil
		}
	}

	a, b, err := task.Floats(x, y)
	if err != nil {
		return nil, err
	}
	return a + b, nil
}

// Package module2 holds the arithmetic tasks routed to queue2.
package module2

import (
	"context"
	"encoding/json"
	"math"

	"github.com/cuongbtq/taskworker/internal/task"
)

// Queue is where every task of this module is routed
const Queue = "queue2"

func Register(reg *task.Registry) error {
	return reg.Register("multiply", Queue, Multiply)
}

// Multiply returns x * y. Integers stay exact unless the product overflows int64.
func Multiply(_ context.Context, args task.Args) (any, error) {
	var x, y json.Number
	if err := args.Bind(&x, &y); err != nil {
		return nil, err
	}

	if a, b, ok := task.Ints(x, y); ok {
		if a == 0 || b == 0 {
			return int64(0), nil
		}
		p := a * b
		if p/b == a && !(a == -1 && b == math.MinInt64) && !(b == -1 && a == math.MinInt64) {
			return p, nil
		}
	}

	a, b, err := task.Floats(x, y)
	if err != nil {
		return nil, err
	}
	return a * b, nil
}

package task

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cuongbtq/taskworker/internal/domain"
)

// Args is the JSON array of positional arguments of an invocation
type Args struct {
	raw   json.RawMessage
	items []json.RawMessage
}

// NewArgs parses a JSON array; null or empty input yields no arguments
func NewArgs(raw json.RawMessage) (Args, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Args{raw: json.RawMessage("[]")}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return Args{}, fmt.Errorf("%w: args must be a JSON array: %v", domain.ErrInvalidPayload, err)
	}
	return Args{raw: raw, items: items}, nil
}

// EncodeArgs marshals positional values into the wire form
func EncodeArgs(values ...any) (json.RawMessage, error) {
	if values == nil {
		values = []any{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("failed to encode args: %w", err)
	}
	return raw, nil
}

// Len returns the number of arguments
func (a Args) Len() int {
	return len(a.items)
}

// Raw returns the JSON array as received
func (a Args) Raw() json.RawMessage {
	return a.raw
}

// Bind decodes the arguments into dst in order. It fails when the counts
// differ or an argument does not fit its destination.
func (a Args) Bind(dst ...any) error {
	if len(dst) != len(a.items) {
		return fmt.Errorf("%w: expected %d args, got %d", domain.ErrInvalidPayload, len(dst), len(a.items))
	}
	return a.BindPrefix(dst...)
}

// BindPrefix decodes the first len(dst) arguments, ignoring the rest
func (a Args) BindPrefix(dst ...any) error {
	if len(dst) > len(a.items) {
		return fmt.Errorf("%w: expected at least %d args, got %d", domain.ErrInvalidPayload, len(dst), len(a.items))
	}
	for i, d := range dst {
		if err := json.Unmarshal(a.items[i], d); err != nil {
			return fmt.Errorf("%w: arg %d: %v", domain.ErrInvalidPayload, i, err)
		}
	}
	return nil
}

// Ints returns x and y as int64 when both are integer literals
func Ints(x, y json.Number) (int64, int64, bool) {
	a, err := strconv.ParseInt(x.String(), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	b, err := strconv.ParseInt(y.String(), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return a, b, true
}

// Floats returns x and y as float64
func Floats(x, y json.Number) (float64, float64, error) {
	a, err := x.Float64()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	b, err := y.Float64()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return a, b, nil
}

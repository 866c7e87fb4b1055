package backend

import (
	"context"
	"sync"
)

// MemoryBackend keeps results in a map for the lifetime of the process
type MemoryBackend struct {
	mu      sync.RWMutex
	results map[string]Result
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{results: make(map[string]Result)}
}

func (b *MemoryBackend) Store(_ context.Context, r *Result) error {
	stored := *r
	stored.Result = append([]byte(nil), r.Result...)

	b.mu.Lock()
	b.results[r.TaskID] = stored
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Get(_ context.Context, taskID string) (*Result, error) {
	b.mu.RLock()
	r, ok := b.results[taskID]
	b.mu.RUnlock()

	if !ok {
		return Pending(taskID), nil
	}
	return &r, nil
}

func (b *MemoryBackend) Ping(context.Context) error { return nil }

func (b *MemoryBackend) Close() error { return nil }

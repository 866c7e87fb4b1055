package domain

import (
	"encoding/json"
	"time"
)

// Invocation is one task call travelling through the broker.
// It is never persisted; only its result is.
type Invocation struct {
	ID         string          `json:"id"`
	Task       string          `json:"task"`
	Args       json.RawMessage `json:"args"`
	Queue      string          `json:"queue"`
	Retries    int             `json:"retries"`
	MaxRetries *int            `json:"max_retries,omitempty"`
	ETA        *time.Time      `json:"eta,omitempty"`
	Expires    *time.Time      `json:"expires,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// IsExpired reports whether the invocation may no longer run at now
func (i *Invocation) IsExpired(now time.Time) bool {
	return i.Expires != nil && now.After(*i.Expires)
}

// Delay returns how long to wait before the invocation is due, zero if it is due now
func (i *Invocation) Delay(now time.Time) time.Duration {
	if i.ETA == nil {
		return 0
	}
	if d := i.ETA.Sub(now); d > 0 {
		return d
	}
	return 0
}

// NextAttempt returns a copy scheduled for its next retry at eta
func (i *Invocation) NextAttempt(eta time.Time) *Invocation {
	next := *i
	next.Retries = i.Retries + 1
	next.Timestamp = time.Now().UTC()
	if eta.IsZero() {
		next.ETA = nil
	} else {
		next.ETA = &eta
	}
	return &next
}

// DeliveryMessage pairs a decoded invocation with its transport delivery
type DeliveryMessage struct {
	Invocation *Invocation
	Queue      string
	Ack        func() error
	Nack       func(requeue bool) error
	// Hold releases the prefetch slot while the invocation waits for its ETA
	Hold func() error
}

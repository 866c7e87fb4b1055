package dto

import (
	"encoding/json"
	"time"
)

// PublishTaskRequest is the body of POST /api/v1/tasks. Countdown and
// Expires are seconds relative to now.
type PublishTaskRequest struct {
	Task       string          `json:"task" binding:"required"`
	Args       json.RawMessage `json:"args"`
	Queue      string          `json:"queue"`
	TaskID     string          `json:"task_id"`
	Countdown  float64         `json:"countdown" binding:"gte=0"`
	ETA        *time.Time      `json:"eta"`
	Expires    float64         `json:"expires" binding:"gte=0"`
	MaxRetries *int            `json:"max_retries" binding:"omitempty,gte=0"`
}

type PublishTaskResponse struct {
	TaskID string `json:"task_id"`
	Task   string `json:"task"`
	Queue  string `json:"queue"`
	Status string `json:"status"`
}

type TaskResultDTO struct {
	TaskID   string          `json:"task_id"`
	TaskName string          `json:"task_name,omitempty"`
	Queue    string          `json:"queue,omitempty"`
	Status   string          `json:"status"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	Retries  int             `json:"retries"`
	DateDone string          `json:"date_done,omitempty"`
}

type TaskDefinitionDTO struct {
	Name       string `json:"name"`
	Queue      string `json:"queue"`
	MaxRetries int    `json:"max_retries"`
}

type ListDefinitionsResponse struct {
	Tasks []TaskDefinitionDTO `json:"tasks"`
}

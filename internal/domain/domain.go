package domain

import (
	"encoding/json"
	"time"
)

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusUploading TaskStatus = "uploading"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a task may move from s to next.
// Pending can also fail directly when it is cancelled before dispatch.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusUploading || next == StatusFailed
	case StatusUploading:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

type UploadTask struct {
	ID string

	Title       string
	Description string

	Payload     []byte
	ContentType string
	Metadata    json.RawMessage
	AuthToken   string

	Progress int
	Status   TaskStatus

	// meta
	PayloadSize int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FinishedAt  time.Time
	Error       string
	ResultID    string
}

// View returns the public projection of the task used in snapshots.
func (t *UploadTask) View() TaskView {
	return TaskView{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		ContentType: t.ContentType,
		Metadata:    t.Metadata,
		Progress:    t.Progress,
		Status:      t.Status,
		PayloadSize: t.PayloadSize,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		Error:       t.Error,
		ResultID:    t.ResultID,
	}
}

type TaskView struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	ContentType string          `json:"content_type,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Progress    int             `json:"progress"`
	Status      TaskStatus      `json:"status"`
	PayloadSize int64           `json:"payload_size"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Error       string          `json:"error,omitempty"`
	ResultID    string          `json:"result_id,omitempty"`
}

type MemorySummary struct {
	CurrentMB float64 `json:"current_mb"`
	LimitMB   int64   `json:"limit_mb"`
	Usage     string  `json:"usage"`
}

type Snapshot struct {
	Tasks  []TaskView    `json:"tasks"`
	Memory MemorySummary `json:"memory"`
	At     time.Time     `json:"at"`
}

type AdmitRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Payload     []byte          `json:"payload"`
	ContentType string          `json:"content_type"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	AuthToken   string          `json:"auth_token"`
}

// RecordingUpload is everything the remote recording endpoint receives for one task.
type RecordingUpload struct {
	Title       string
	Description string
	Metadata    json.RawMessage
	Filename    string
	ContentType string
	Payload     []byte
}

type FinalizeInput struct {
	TaskID      string
	ResultID    string
	AuthToken   string
	Filename    string
	ContentType string
	Payload     []byte
}

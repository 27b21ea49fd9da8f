package model

import (
	"encoding/json"
	"time"
)

// RenderStartRequest starts a cloud render of an uploaded project bundle
type RenderStartRequest struct {
	CompositionID string          `json:"compositionId" validate:"required"`
	Config        json.RawMessage `json:"config" validate:"required"`
	InputKey      string          `json:"inputKey" validate:"required"`
}

// RenderStartResponse is returned when a render job is accepted
type RenderStartResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	TaskID    string    `json:"taskId,omitempty"` // broker message id, diagnostics only
	CreatedAt time.Time `json:"createdAt"`
}

// RenderStatusResponse is the client-facing projection of a RenderJob
type RenderStatusResponse struct {
	JobID       string    `json:"jobId"`
	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
	Error       *string   `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

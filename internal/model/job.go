package model

import (
	"encoding/json"
	"time"
)

// RenderJob is the durable record of one cloud render. It is created by the
// submission endpoint and mutated only by the render worker afterwards.
type RenderJob struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"ownerId"`
	Status        JobStatus       `json:"status"`
	Progress      int             `json:"progress"`
	CompositionID string          `json:"compositionId"`
	Config        json.RawMessage `json:"config"`
	InputKey      string          `json:"inputKey"`
	OutputKey     string          `json:"outputKey,omitempty"`
	ErrorMessage  *string         `json:"errorMessage,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// RenderJobPayload is the queue message payload for a render job. The record
// id is authoritative; the rest rides along for diagnostics.
type RenderJobPayload struct {
	JobID string `json:"jobId"`
}

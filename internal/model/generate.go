package model

import "encoding/json"

// GenerateRequest submits an AI media generation call
type GenerateRequest struct {
	Model string          `json:"model" validate:"required"`
	Input json.RawMessage `json:"input" validate:"required"`
}

// GenerateResponse carries the provider result once the task completed
type GenerateResponse struct {
	MediaURL string          `json:"mediaUrl,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// ProviderTask is the ephemeral handle for one asynchronous provider call.
// It lives only in the poll loop; nothing about it is persisted.
type ProviderTask struct {
	RequestID   string          `json:"request_id"`
	StatusURL   string          `json:"status_url,omitempty"`
	ResponseURL string          `json:"response_url,omitempty"`
	Status      TaskStatus      `json:"status,omitempty"`
	Payload     json.RawMessage `json:"-"`
}

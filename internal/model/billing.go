package model

import "time"

// PaymentEvent is the inbound payment-completion webhook body
type PaymentEvent struct {
	SessionID string          `json:"sessionId" validate:"required"`
	Status    PaymentStatus   `json:"status" validate:"required"`
	Metadata  PaymentMetadata `json:"metadata"`
}

// PaymentMetadata identifies who gets credited and how much
type PaymentMetadata struct {
	UserID  string `json:"userId"`
	Credits int64  `json:"credits"`
}

// PaymentRecord is the local record of one checkout session
type PaymentRecord struct {
	SessionID   string        `json:"sessionId"`
	UserID      string        `json:"userId"`
	Credits     int64         `json:"credits"`
	Status      PaymentStatus `json:"status"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	Received Direction = "received"
	Sent     Direction = "sent"
)

// Status is stored as reported. The platform may add delivery states at any
// time, so values outside the constants below are kept as-is.
type Status string

const (
	StatusOK        Status = "ok"
	StatusFailed    Status = "failed"
	StatusInitiated Status = "initiated"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

type LedgerRecord struct {
	ID              uuid.UUID       `json:"id"`
	Type            Direction       `json:"type"`
	MessageID       string          `json:"messageId"`
	Contact         string          `json:"contact"`
	BusinessPhoneID string          `json:"businessPhoneId"`
	Message         json.RawMessage `json:"message"`
	Status          Status          `json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       *time.Time      `json:"updatedAt,omitempty"`
}

// StatusPatch targets the mutable fields of every record sharing MessageID.
type StatusPatch struct {
	MessageID string    `json:"messageId"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ListFilter struct {
	Type            Direction
	Contact         string
	BusinessPhoneID string
	Status          Status
	Limit           int
	Offset          int
}

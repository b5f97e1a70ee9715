package dto

import "github.com/google/uuid"

// WSEvent is a WebSocket message for real-time member event delivery.
type WSEvent struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"` // member.registered, member.recognized, ...
	Username   string    `json:"username"`
	FullName   string    `json:"full_name,omitempty"`
	Role       string    `json:"role,omitempty"`
	PhotoCount int       `json:"photo_count,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  string    `json:"timestamp"`
}

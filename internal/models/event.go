package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventMemberRegistered EventType = "member.registered"
	EventMemberUpdated    EventType = "member.updated"
	EventPhotoAdded       EventType = "member.photo_added"
	EventMemberRemoved    EventType = "member.removed"
	EventMemberRecognized EventType = "member.recognized"
)

// Event is published after a committed mutation or an accepted recognition.
// Rejected recognitions never produce events.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       EventType `json:"type"`
	MemberID   string    `json:"member_id"`
	FullName   string    `json:"full_name,omitempty"`
	Role       string    `json:"role,omitempty"`
	PhotoCount int       `json:"photo_count,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewEvent(typ EventType, memberID string, at time.Time) Event {
	return Event{
		ID:        uuid.New(),
		Type:      typ,
		MemberID:  memberID,
		Timestamp: at,
	}
}

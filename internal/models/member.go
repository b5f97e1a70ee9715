package models

import "time"

// Member is one enrolled team member as persisted in the metadata file.
// The member id is the key of the metadata mapping and is not repeated in
// the record itself.
type Member struct {
	ID           string    `json:"-"`
	FullName     string    `json:"full_name"`
	Role         string    `json:"role"`
	RegisteredAt time.Time `json:"registered_at"`
	PhotoCount   int       `json:"photo_count"`
	Images       []string  `json:"images"`
}

// Clone returns a copy that shares no slices with m.
func (m Member) Clone() Member {
	m.Images = append([]string(nil), m.Images...)
	return m
}

// MemberInfo is the caller-supplied, mutable part of a member.
type MemberInfo struct {
	FullName string
	Role     string
}

// MemberSummary is the listing view of a member.
type MemberSummary struct {
	Username     string    `json:"username"`
	FullName     string    `json:"full_name"`
	Role         string    `json:"role"`
	RegisteredAt time.Time `json:"registered_at"`
	PhotoCount   int       `json:"photo_count"`
}

// RefKey identifies one reference image of one member.
type RefKey struct {
	MemberID string
	Image    string
}

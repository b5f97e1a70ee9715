package dto

// RegisterMemberRequest holds the non-file fields of a multipart
// POST /v1/members request. The photo is sent as the "image" part.
type RegisterMemberRequest struct {
	MemberID string `form:"member_id" binding:"required"`
	FullName string `form:"full_name" binding:"required"`
	Role     string `form:"role"`
	Update   bool   `form:"update"`
}

type MemberResponse struct {
	Username     string `json:"username"`
	FullName     string `json:"full_name"`
	Role         string `json:"role"`
	RegisteredAt string `json:"registered_at"`
	PhotoCount   int    `json:"photo_count"`
}

type MemberListResponse struct {
	Members     []MemberResponse `json:"members"`
	Total       int              `json:"total"`
	Quarantined []string         `json:"quarantined,omitempty"`
}

type ResultResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type RecognitionResponse struct {
	ResultResponse
	Username   string  `json:"username,omitempty"`
	FullName   string  `json:"full_name,omitempty"`
	Role       string  `json:"role,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

type RegionResponse struct {
	BBox       [4]float32 `json:"bbox"`
	Confidence float32    `json:"confidence"`
}

type CheckPhotoResponse struct {
	ResultResponse
	Faces   int              `json:"faces"`
	Regions []RegionResponse `json:"regions,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

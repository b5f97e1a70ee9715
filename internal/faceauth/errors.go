package faceauth

import (
	"errors"
	"fmt"

	"github.com/your-org/facegate/internal/models"
)

var (
	ErrNoFaceDetected     = errors.New("no face detected")
	ErrUnknownMember      = errors.New("unknown member")
	ErrDuplicateMember    = errors.New("member already registered")
	ErrEmptyStore         = errors.New("no members enrolled")
	ErrCaptureFailure     = errors.New("image capture failed")
	ErrStorageFailure     = errors.New("storage failure")
	ErrLowConfidenceMatch = errors.New("match above accept threshold")
	ErrInvalidInput       = errors.New("invalid input")
	ErrDetectorFailure    = errors.New("face detector failure")
)

// Code is the stable, caller-facing classification of a failed operation.
type Code string

const (
	CodeOK              Code = ""
	CodeNoFaceDetected  Code = "no_face_detected"
	CodeUnknownMember   Code = "unknown_member"
	CodeDuplicateMember Code = "duplicate_member"
	CodeEmptyStore      Code = "empty_store"
	CodeCaptureFailure  Code = "capture_failure"
	CodeStorageFailure  Code = "storage_failure"
	CodeNotRecognized   Code = "not_recognized"
	CodeInvalidInput    Code = "invalid_input"
	CodeDetectorFailure Code = "detector_failure"
)

// codeOf maps an internal error onto its result code. Low-confidence
// matches are indistinguishable from unknown faces at this level.
func codeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrNoFaceDetected):
		return CodeNoFaceDetected
	case errors.Is(err, ErrUnknownMember):
		return CodeUnknownMember
	case errors.Is(err, ErrDuplicateMember):
		return CodeDuplicateMember
	case errors.Is(err, ErrEmptyStore):
		return CodeEmptyStore
	case errors.Is(err, ErrCaptureFailure):
		return CodeCaptureFailure
	case errors.Is(err, ErrLowConfidenceMatch):
		return CodeNotRecognized
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrDetectorFailure):
		return CodeDetectorFailure
	default:
		return CodeStorageFailure
	}
}

// Result is the outcome of a mutating operation. It never carries internal
// diagnostics in Message.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    Code   `json:"code,omitempty"`
	Err     error  `json:"-"`
}

func ok(msg string) Result {
	return Result{Success: true, Message: msg}
}

func failed(err error, msg string) Result {
	return Result{Success: false, Message: msg, Code: codeOf(err), Err: err}
}

// Recognition is the outcome of a recognize call.
type Recognition struct {
	Result
	MemberID   string  `json:"username,omitempty"`
	FullName   string  `json:"full_name,omitempty"`
	Role       string  `json:"role,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	Diagnostics *Diagnostics `json:"-"`
}

// Reject reasons recorded in Diagnostics.
const (
	ReasonNoFace        = "no_face"
	ReasonNoMatch       = "no_match"
	ReasonLowConfidence = "low_confidence"
)

// Diagnostics explain a recognition outcome for logs and debugging only.
type Diagnostics struct {
	Reason       string
	Distance     float64
	NearestID    string
	FacesInQuery int
	Error        string
}

func (d *Diagnostics) String() string {
	if d == nil {
		return ""
	}
	return fmt.Sprintf("reason=%s nearest=%s distance=%.4f faces=%d err=%s",
		d.Reason, d.NearestID, d.Distance, d.FacesInQuery, d.Error)
}

// CheckResult reports how many faces a candidate enrollment photo contains.
type CheckResult struct {
	Result
	Faces   int             `json:"faces"`
	Regions []models.Region `json:"regions,omitempty"`
}

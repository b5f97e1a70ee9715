package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facegate/internal/dispatch"
	"github.com/your-org/facegate/internal/faceauth"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/pkg/dto"
)

// imageField is the multipart part carrying a photo.
const imageField = "image"

// FaceAuth is the face authentication core the handlers drive.
type FaceAuth interface {
	Register(ctx context.Context, req faceauth.RegisterRequest) faceauth.Result
	AddPhoto(ctx context.Context, memberID string, img faceauth.Image) faceauth.Result
	Recognize(ctx context.Context, img faceauth.Image) faceauth.Recognition
	CheckPhoto(ctx context.Context, img faceauth.Image) faceauth.CheckResult
	ListMembers() []models.MemberSummary
	Remove(ctx context.Context, memberID string) faceauth.Result
	Quarantined() []string
}

// statusFor maps a result code onto an HTTP status. Recognition rejects
// and an empty store are answers, not failures.
func statusFor(code faceauth.Code) int {
	switch code {
	case faceauth.CodeOK, faceauth.CodeNotRecognized, faceauth.CodeEmptyStore:
		return http.StatusOK
	case faceauth.CodeInvalidInput:
		return http.StatusBadRequest
	case faceauth.CodeUnknownMember:
		return http.StatusNotFound
	case faceauth.CodeDuplicateMember:
		return http.StatusConflict
	case faceauth.CodeNoFaceDetected:
		return http.StatusUnprocessableEntity
	case faceauth.CodeCaptureFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func resultResponse(res faceauth.Result) dto.ResultResponse {
	return dto.ResultResponse{
		Success: res.Success,
		Message: res.Message,
		Code:    string(res.Code),
	}
}

// abortDispatch answers a request whose job never produced a result.
func abortDispatch(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	switch {
	case errors.Is(err, dispatch.ErrQueueFull), errors.Is(err, dispatch.ErrClosed):
		status, code = http.StatusServiceUnavailable, "busy"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		// The client went away; nobody reads this response.
		status, code = 499, "canceled"
	}
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: err.Error(), Code: code})
}

// abortUpload answers a request whose photo could not be read.
func abortUpload(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{
			Error: fmt.Sprintf("photo exceeds %d bytes", tooLarge.Limit),
			Code:  string(faceauth.CodeInvalidInput),
		})
		return
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{
		Error: err.Error(),
		Code:  string(faceauth.CodeInvalidInput),
	})
}

// limitBody caps the request body at limit bytes.
func limitBody(c *gin.Context, limit int64) {
	if limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}
}

// readImage returns the photo of a request: the "image" part of a
// multipart form, or the raw body for any other content type.
func readImage(c *gin.Context) (faceauth.Image, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		return readFormImage(c)
	}
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return faceauth.Image{}, fmt.Errorf("read body: %w", err)
	}
	if len(data) == 0 {
		return faceauth.Image{}, errors.New("request body is empty")
	}
	return faceauth.NewImage(data), nil
}

func readFormImage(c *gin.Context) (faceauth.Image, error) {
	fh, err := c.FormFile(imageField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return faceauth.Image{}, err
		}
		return faceauth.Image{}, fmt.Errorf("multipart part %q: %w", imageField, err)
	}
	f, err := fh.Open()
	if err != nil {
		return faceauth.Image{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return faceauth.Image{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return faceauth.Image{}, fmt.Errorf("multipart part %q is empty", imageField)
	}
	img := faceauth.NewImage(data)
	if ext := strings.TrimPrefix(filepath.Ext(fh.Filename), "."); ext != "" {
		img.Ext = ext
	}
	return img, nil
}

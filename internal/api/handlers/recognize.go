package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facegate/internal/dispatch"
	"github.com/your-org/facegate/internal/faceauth"
	"github.com/your-org/facegate/pkg/dto"
)

type RecognizeHandler struct {
	auth      FaceAuth
	pool      *dispatch.Pool
	maxUpload int64
}

func NewRecognizeHandler(auth FaceAuth, pool *dispatch.Pool, maxUpload int64) *RecognizeHandler {
	return &RecognizeHandler{auth: auth, pool: pool, maxUpload: maxUpload}
}

// Recognize identifies the face in a multipart or raw image upload.
func (h *RecognizeHandler) Recognize(c *gin.Context) {
	limitBody(c, h.maxUpload)

	img, err := readImage(c)
	if err != nil {
		abortUpload(c, err)
		return
	}

	rec, err := dispatch.Submit(c.Request.Context(), h.pool, func(ctx context.Context) faceauth.Recognition {
		return h.auth.Recognize(ctx, img)
	})
	if err != nil {
		abortDispatch(c, err)
		return
	}

	c.JSON(statusFor(rec.Code), dto.RecognitionResponse{
		ResultResponse: resultResponse(rec.Result),
		Username:       rec.MemberID,
		FullName:       rec.FullName,
		Role:           rec.Role,
		Confidence:     rec.Confidence,
	})
}

// CheckPhoto reports the faces found in a candidate enrollment photo.
func (h *RecognizeHandler) CheckPhoto(c *gin.Context) {
	limitBody(c, h.maxUpload)

	img, err := readImage(c)
	if err != nil {
		abortUpload(c, err)
		return
	}

	res, err := dispatch.Submit(c.Request.Context(), h.pool, func(ctx context.Context) faceauth.CheckResult {
		return h.auth.CheckPhoto(ctx, img)
	})
	if err != nil {
		abortDispatch(c, err)
		return
	}

	resp := dto.CheckPhotoResponse{
		ResultResponse: resultResponse(res.Result),
		Faces:          res.Faces,
	}
	for _, r := range res.Regions {
		resp.Regions = append(resp.Regions, dto.RegionResponse{BBox: r.BBox, Confidence: r.Confidence})
	}
	c.JSON(statusFor(res.Code), resp)
}

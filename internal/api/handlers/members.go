package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facegate/internal/dispatch"
	"github.com/your-org/facegate/internal/faceauth"
	"github.com/your-org/facegate/pkg/dto"
)

type MemberHandler struct {
	auth      FaceAuth
	pool      *dispatch.Pool
	maxUpload int64
}

func NewMemberHandler(auth FaceAuth, pool *dispatch.Pool, maxUpload int64) *MemberHandler {
	return &MemberHandler{auth: auth, pool: pool, maxUpload: maxUpload}
}

// Register enrolls a member from a multipart form.
func (h *MemberHandler) Register(c *gin.Context) {
	limitBody(c, h.maxUpload)

	var req dto.RegisterMemberRequest
	if err := c.ShouldBind(&req); err != nil {
		abortUpload(c, err)
		return
	}
	img, err := readFormImage(c)
	if err != nil {
		abortUpload(c, err)
		return
	}

	res, err := dispatch.Submit(c.Request.Context(), h.pool, func(ctx context.Context) faceauth.Result {
		return h.auth.Register(ctx, faceauth.RegisterRequest{
			MemberID: req.MemberID,
			FullName: req.FullName,
			Role:     req.Role,
			Image:    img,
			Update:   req.Update,
		})
	})
	if err != nil {
		abortDispatch(c, err)
		return
	}

	status := statusFor(res.Code)
	if res.Success && !req.Update {
		status = http.StatusCreated
	}
	c.JSON(status, resultResponse(res))
}

func (h *MemberHandler) List(c *gin.Context) {
	members := h.auth.ListMembers()
	resp := dto.MemberListResponse{
		Members:     make([]dto.MemberResponse, 0, len(members)),
		Total:       len(members),
		Quarantined: h.auth.Quarantined(),
	}
	for _, m := range members {
		resp.Members = append(resp.Members, dto.MemberResponse{
			Username:     m.Username,
			FullName:     m.FullName,
			Role:         m.Role,
			RegisteredAt: m.RegisteredAt.UTC().Format(time.RFC3339),
			PhotoCount:   m.PhotoCount,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// AddPhoto appends a reference photo to the member named in the path.
func (h *MemberHandler) AddPhoto(c *gin.Context) {
	limitBody(c, h.maxUpload)

	img, err := readImage(c)
	if err != nil {
		abortUpload(c, err)
		return
	}

	id := c.Param("id")
	res, err := dispatch.Submit(c.Request.Context(), h.pool, func(ctx context.Context) faceauth.Result {
		return h.auth.AddPhoto(ctx, id, img)
	})
	if err != nil {
		abortDispatch(c, err)
		return
	}
	c.JSON(statusFor(res.Code), resultResponse(res))
}

func (h *MemberHandler) Remove(c *gin.Context) {
	id := c.Param("id")
	res, err := dispatch.Submit(c.Request.Context(), h.pool, func(ctx context.Context) faceauth.Result {
		return h.auth.Remove(ctx, id)
	})
	if err != nil {
		abortDispatch(c, err)
		return
	}
	c.JSON(statusFor(res.Code), resultResponse(res))
}

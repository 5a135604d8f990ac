package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Qrinee/m2backend/internal/api/middleware"
	"github.com/Qrinee/m2backend/internal/services"
)

const msgReelNotFound = "Reel nie znaleziony"

// ReelHandler serves /api/reels.
type ReelHandler struct {
	reels services.IReelService
	media *Media
}

// NewReelHandler creates a new ReelHandler.
func NewReelHandler(reels services.IReelService, media *Media) *ReelHandler {
	return &ReelHandler{reels: reels, media: media}
}

func reelsPage(res *services.ReelResults) gin.H {
	return gin.H{
		"success":     true,
		"reels":       res.Reels,
		"currentPage": res.CurrentPage,
		"totalPages":  res.TotalPages,
		"totalReels":  res.Total,
	}
}

// List handles GET /api/reels. Admins see drafts too and may filter on them.
func (h *ReelHandler) List(c *gin.Context) {
	var q services.ReelQuery
	_ = c.ShouldBindQuery(&q)
	caller := middleware.PrincipalFrom(c)

	res, err := h.reels.List(c.Request.Context(), caller, q)
	if err != nil {
		respondError(c, err, msgReelNotFound)
		return
	}
	body := reelsPage(res)
	body["isAdmin"] = caller.IsAdmin()
	c.JSON(http.StatusOK, body)
}

// ListPublic handles GET /api/reels/public/all
func (h *ReelHandler) ListPublic(c *gin.Context) {
	var q services.ReelQuery
	_ = c.ShouldBindQuery(&q)

	res, err := h.reels.ListPublic(c.Request.Context(), q)
	if err != nil {
		respondError(c, err, msgReelNotFound)
		return
	}
	c.JSON(http.StatusOK, reelsPage(res))
}

// ListMine handles GET /api/reels/user/moje
func (h *ReelHandler) ListMine(c *gin.Context) {
	var q services.ReelQuery
	_ = c.ShouldBindQuery(&q)

	res, err := h.reels.ListMine(c.Request.Context(), middleware.PrincipalFrom(c), q)
	if err != nil {
		respondError(c, err, msgReelNotFound)
		return
	}
	c.JSON(http.StatusOK, reelsPage(res))
}

// Stats handles GET /api/reels/admin/stats
func (h *ReelHandler) Stats(c *gin.Context) {
	stats, err := h.reels.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err, msgReelNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

// Get handles GET /api/reels/:id. Drafts are visible to their owner and admins only.
func (h *ReelHandler) Get(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	view, err := h.reels.Get(c.Request.Context(), id, middleware.PrincipalFrom(c))
	if err != nil {
		respondError(c, err, msgReelNotFound)
		return
	}
	canEdit := view.CanEdit != nil && *view.CanEdit
	c.JSON(http.StatusOK, gin.H{"success": true, "reel": view, "canEdit": canEdit})
}

// Create handles POST /api/reels (multipart, video in "video").
func (h *ReelHandler) Create(c *gin.Context) {
	var input services.ReelInput
	if err := c.ShouldBind(&input); err != nil {
		sendError(c, http.StatusBadRequest, msgInvalidBody)
		return
	}

	policy := h.media.Policies.Reel
	video, err := h.media.ReceiveOne(c, "video", policy)
	if err != nil {
		respondError(c, err, msgReelNotFound)
		return
	}
	if video == nil || strings.TrimSpace(input.Title) == "" {
		if video != nil {
			h.media.Rollback(policy.Purpose, *video)
		}
		sendError(c, http.StatusBadRequest, "Brak wymaganych pól: tytuł i film wideo")
		return
	}

	ctx := c.Request.Context()
	view, err := h.reels.Create(ctx, middleware.PrincipalFrom(c), input, *video)
	if err != nil {
		h.media.Rollback(policy.Purpose, *video)
		respondError(c, err, msgReelNotFound)
		return
	}
	h.media.Commit(ctx, *video)

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"reel":    view,
		"message": "Reel został dodany pomyślnie",
	})
}

// Update handles PUT /api/reels/:id. A new video replaces and removes the old one.
func (h *ReelHandler) Update(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	var input services.ReelInput
	if err := c.ShouldBind(&input); err != nil {
		sendError(c, http.StatusBadRequest, msgInvalidBody)
		return
	}

	policy := h.media.Policies.Reel
	video, err := h.media.ReceiveOne(c, "video", policy)
	if err != nil {
		respondError(c, err, msgReelNotFound)
		return
	}

	ctx := c.Request.Context()
	view, previous, err := h.reels.Update(ctx, id, middleware.PrincipalFrom(c), input, video)
	if err != nil {
		if video != nil {
			h.media.Rollback(policy.Purpose, *video)
		}
		respondError(c, err, msgReelNotFound)
		return
	}
	if video != nil {
		h.media.Commit(ctx, *video)
		h.media.Discard(ctx, previous)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"reel":    view,
		"message": "Reel został zaktualizowany pomyślnie",
	})
}

// SetStatus handles PATCH /api/reels/:id/status
func (h *ReelHandler) SetStatus(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		IsPublished *bool `json:"isPublished"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if req.IsPublished == nil {
		sendError(c, http.StatusBadRequest, "Pole isPublished jest wymagane")
		return
	}

	view, err := h.reels.SetPublished(c.Request.Context(), id, middleware.PrincipalFrom(c), *req.IsPublished)
	if err != nil {
		respondError(c, err, msgReelNotFound)
		return
	}
	state := "szkic"
	if *req.IsPublished {
		state = "opublikowany"
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"reel":    view,
		"message": "Status publikacji zmieniony na " + state,
	})
}

// Delete handles DELETE /api/reels/:id
func (h *ReelHandler) Delete(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	reel, err := h.reels.Delete(ctx, id, middleware.PrincipalFrom(c))
	if err != nil {
		respondError(c, err, msgReelNotFound)
		return
	}
	h.media.Discard(ctx, reel.VideoURL)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Reel usunięty pomyślnie"})
}

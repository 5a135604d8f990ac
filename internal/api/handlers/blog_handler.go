package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Qrinee/m2backend/internal/services"
)

const msgBlogNotFound = "Wpis bloga nie znaleziony"

// BlogHandler serves /api/blog.
type BlogHandler struct {
	blogs services.IBlogService
	media *Media
}

// NewBlogHandler creates a new BlogHandler.
func NewBlogHandler(blogs services.IBlogService, media *Media) *BlogHandler {
	return &BlogHandler{blogs: blogs, media: media}
}

// List handles GET /api/blog
func (h *BlogHandler) List(c *gin.Context) {
	var q services.BlogQuery
	_ = c.ShouldBindQuery(&q)

	res, err := h.blogs.Search(c.Request.Context(), q)
	if err != nil {
		respondError(c, err, msgBlogNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"data":        res.Blogs,
		"currentPage": res.CurrentPage,
		"totalPages":  res.TotalPages,
		"totalBlogs":  res.Total,
	})
}

// Archive handles GET /api/blog/archive/years
func (h *BlogHandler) Archive(c *gin.Context) {
	archive, err := h.blogs.Archive(c.Request.Context())
	if err != nil {
		respondError(c, err, msgBlogNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "archive": archive})
}

// Get handles GET /api/blog/:id
func (h *BlogHandler) Get(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	blog, err := h.blogs.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, msgBlogNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": blog})
}

// Create handles POST /api/blog (multipart, optional image in "image").
func (h *BlogHandler) Create(c *gin.Context) {
	var input services.BlogInput
	if err := c.ShouldBind(&input); err != nil {
		sendError(c, http.StatusBadRequest, msgInvalidBody)
		return
	}

	policy := h.media.Policies.BlogImage
	image, err := h.media.ReceiveOne(c, "image", policy)
	if err != nil {
		respondError(c, err, msgBlogNotFound)
		return
	}
	var imagePath string
	if image != nil {
		imagePath = image.Path
	}

	ctx := c.Request.Context()
	blog, err := h.blogs.Create(ctx, input, imagePath)
	if err != nil {
		if image != nil {
			h.media.Rollback(policy.Purpose, *image)
		}
		respondError(c, err, msgBlogNotFound)
		return
	}
	if image != nil {
		h.media.Commit(ctx, *image)
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    blog,
		"message": "Wpis bloga został dodany pomyślnie",
	})
}

// Update handles PUT /api/blog/:id. A new image replaces and removes the old one.
func (h *BlogHandler) Update(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	var input services.BlogInput
	if err := c.ShouldBind(&input); err != nil {
		sendError(c, http.StatusBadRequest, msgInvalidBody)
		return
	}

	policy := h.media.Policies.BlogImage
	image, err := h.media.ReceiveOne(c, "image", policy)
	if err != nil {
		respondError(c, err, msgBlogNotFound)
		return
	}
	var imagePath string
	if image != nil {
		imagePath = image.Path
	}

	ctx := c.Request.Context()
	blog, previous, err := h.blogs.Update(ctx, id, input, imagePath)
	if err != nil {
		if image != nil {
			h.media.Rollback(policy.Purpose, *image)
		}
		respondError(c, err, msgBlogNotFound)
		return
	}
	if image != nil {
		h.media.Commit(ctx, *image)
		h.media.Discard(ctx, previous)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    blog,
		"message": "Wpis bloga został zaktualizowany pomyślnie",
	})
}

// Delete handles DELETE /api/blog/:id
func (h *BlogHandler) Delete(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	blog, err := h.blogs.Delete(ctx, id)
	if err != nil {
		respondError(c, err, msgBlogNotFound)
		return
	}
	h.media.Discard(ctx, blog.ImageSrc)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Wpis bloga usunięty pomyślnie"})
}

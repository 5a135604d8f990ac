package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Qrinee/m2backend/internal/api/middleware"
	"github.com/Qrinee/m2backend/internal/config"
	"github.com/Qrinee/m2backend/internal/services"
	"github.com/Qrinee/m2backend/internal/utils"
)

const (
	msgListingNotFound = "Nieruchomość nie znaleziona"
	defaultPopular     = 6
)

// ListingHandler serves /api/properties.
type ListingHandler struct {
	cfg      *config.Config
	listings services.IListingService
	media    *Media
}

// NewListingHandler creates a new ListingHandler.
func NewListingHandler(cfg *config.Config, listings services.IListingService, media *Media) *ListingHandler {
	return &ListingHandler{cfg: cfg, listings: listings, media: media}
}

func listingsPage(res *services.ListingResults) gin.H {
	return gin.H{
		"success":         true,
		"properties":      res.Listings,
		"currentPage":     res.CurrentPage,
		"totalPages":      res.TotalPages,
		"totalProperties": res.Total,
	}
}

// List handles GET /api/properties
func (h *ListingHandler) List(c *gin.Context) {
	var q services.ListingQuery
	_ = c.ShouldBindQuery(&q)

	res, err := h.listings.Search(c.Request.Context(), q, middleware.PrincipalFrom(c))
	if err != nil {
		respondError(c, err, msgListingNotFound)
		return
	}
	c.JSON(http.StatusOK, listingsPage(res))
}

// AdvancedSearch handles GET /api/properties/search/advanced. The text search
// also covers the description and the location.
func (h *ListingHandler) AdvancedSearch(c *gin.Context) {
	var q services.ListingQuery
	_ = c.ShouldBindQuery(&q)
	q.Advanced = true
	q.My = ""

	res, err := h.listings.Search(c.Request.Context(), q, nil)
	if err != nil {
		respondError(c, err, msgListingNotFound)
		return
	}
	body := listingsPage(res)
	body["filters"] = gin.H{
		"search":          q.Search,
		"typ":             q.Type,
		"kategoria":       q.Category,
		"wojewodztwo":     q.Region,
		"miasto":          q.City,
		"cenaMin":         q.PriceMin,
		"cenaMax":         q.PriceMax,
		"powierzchniaMin": q.AreaMin,
		"powierzchniaMax": q.AreaMax,
		"pokoje":          q.Rooms,
		"sort":            q.Sort,
	}
	c.JSON(http.StatusOK, body)
}

// FilterOptions handles GET /api/properties/filters/options
func (h *ListingHandler) FilterOptions(c *gin.Context) {
	facets, err := h.listings.Facets(c.Request.Context())
	if err != nil {
		respondError(c, err, msgListingNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": facets})
}

// Popular handles GET /api/properties/search/popular
func (h *ListingHandler) Popular(c *gin.Context) {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 || limit > h.cfg.MaxPageLimit {
		limit = defaultPopular
	}
	popular, err := h.listings.Popular(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err, msgListingNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": popular})
}

// ListByOwner handles GET /api/properties/user/:userId
func (h *ListingHandler) ListByOwner(c *gin.Context) {
	ownerID, ok := objectIDParam(c, "userId")
	if !ok {
		return
	}
	page := utils.ParsePage(c.Query("page"), c.Query("limit"), h.cfg.DefaultListingLimit, h.cfg.MaxPageLimit)

	res, err := h.listings.ListByOwner(c.Request.Context(), ownerID, page)
	if err != nil {
		respondError(c, err, msgListingNotFound)
		return
	}
	c.JSON(http.StatusOK, listingsPage(res))
}

// Get handles GET /api/properties/:id
func (h *ListingHandler) Get(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	view, err := h.listings.GetByID(c.Request.Context(), id, middleware.PrincipalFrom(c))
	if err != nil {
		respondError(c, err, msgListingNotFound)
		return
	}
	isOwner := view.IsOwner != nil && *view.IsOwner
	c.JSON(http.StatusOK, gin.H{"success": true, "property": view, "isOwner": isOwner})
}

// Create handles POST /api/properties. Multipart requests carry the files in
// "files" and the opis, lokalizacja and szczegoly fields as JSON strings.
func (h *ListingHandler) Create(c *gin.Context) {
	var input services.ListingInput
	if isMultipart(c) {
		if err := listingInputFromForm(c, &input); err != nil {
			sendError(c, http.StatusBadRequest, msgInvalidBody)
			return
		}
	} else if !bindJSON(c, &input) {
		return
	}

	policy := h.media.Policies.Listing
	files, err := h.media.Receive(c, "files", policy)
	if err != nil {
		respondError(c, err, msgListingNotFound)
		return
	}

	ctx := c.Request.Context()
	view, err := h.listings.Create(ctx, middleware.PrincipalFrom(c), input, files)
	if err != nil {
		h.media.Rollback(policy.Purpose, files...)
		respondError(c, err, msgListingNotFound)
		return
	}
	h.media.Commit(ctx, files...)

	c.JSON(http.StatusCreated, gin.H{
		"success":  true,
		"property": view,
		"message":  "Nieruchomość została dodana pomyślnie",
	})
}

// Update handles PUT /api/properties/:id
func (h *ListingHandler) Update(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	var input services.ListingInput
	if !bindJSON(c, &input) {
		return
	}

	view, err := h.listings.Update(c.Request.Context(), id, middleware.PrincipalFrom(c), input)
	if err != nil {
		respondError(c, err, msgListingNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"property": view,
		"message":  "Nieruchomość została zaktualizowana pomyślnie",
	})
}

// Delete handles DELETE /api/properties/:id. Listings are deactivated, not removed.
func (h *ListingHandler) Delete(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	listing, err := h.listings.Delete(c.Request.Context(), id, middleware.PrincipalFrom(c))
	if err != nil {
		respondError(c, err, msgListingNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "Nieruchomość usunięta pomyślnie",
		"property": listing,
	})
}

// SetCover handles PATCH /api/properties/:id/cover
func (h *ListingHandler) SetCover(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		FileID string `json:"fileId"`
	}
	if !bindJSON(c, &req) {
		return
	}
	fileID, err := primitive.ObjectIDFromHex(req.FileID)
	if err != nil {
		sendError(c, http.StatusBadRequest, msgInvalidID)
		return
	}

	view, err := h.listings.SetCover(c.Request.Context(), id, middleware.PrincipalFrom(c), fileID)
	if err != nil {
		respondError(c, err, "Nieruchomość lub plik nie znaleziony")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"property": view,
		"message":  "Zdjęcie główne zostało ustawione",
	})
}

// AdminList handles GET /api/properties/admin/all
func (h *ListingHandler) AdminList(c *gin.Context) {
	var q services.ListingQuery
	_ = c.ShouldBindQuery(&q)
	if v, err := strconv.ParseBool(c.Query("isActive")); err == nil {
		q.IsActive = &v
	}

	res, err := h.listings.AdminSearch(c.Request.Context(), q)
	if err != nil {
		respondError(c, err, msgListingNotFound)
		return
	}
	c.JSON(http.StatusOK, listingsPage(res))
}

// AdminSetStatus handles PUT /api/properties/admin/:id/status
func (h *ListingHandler) AdminSetStatus(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		IsActive *bool `json:"isActive"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if req.IsActive == nil {
		sendError(c, http.StatusBadRequest, "Pole isActive jest wymagane")
		return
	}

	listing, err := h.listings.SetActive(c.Request.Context(), id, *req.IsActive)
	if err != nil {
		respondError(c, err, msgListingNotFound)
		return
	}
	message := "Nieruchomość została dezaktywowana"
	if *req.IsActive {
		message = "Nieruchomość została aktywowana"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "property": listing, "message": message})
}

// AdminStats handles GET /api/properties/admin/stats
func (h *ListingHandler) AdminStats(c *gin.Context) {
	stats, err := h.listings.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err, msgListingNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

// listingInputFromForm decodes the JSON-encoded listing sections of a multipart form.
func listingInputFromForm(c *gin.Context, input *services.ListingInput) error {
	sections := []struct {
		field string
		dest  interface{}
	}{
		{"opis", &input.Opis},
		{"lokalizacja", &input.Lokalizacja},
		{"szczegoly", &input.Szczegoly},
	}
	for _, s := range sections {
		raw, ok := c.GetPostForm(s.field)
		if !ok || raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(raw), s.dest); err != nil {
			return err
		}
	}
	return nil
}

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Qrinee/m2backend/internal/api/middleware"
	"github.com/Qrinee/m2backend/internal/models"
	"github.com/Qrinee/m2backend/internal/services"
	"github.com/Qrinee/m2backend/internal/storage"
)

const msgInquiryNotFound = "Formularz nie znaleziony"

// submittedMessages is the confirmation shown for each form.
var submittedMessages = map[models.FormType]string{
	models.FormTypeProperty:           "Zapytanie zostało wysłane pomyślnie",
	models.FormTypeLoan:               "Zapytanie kredytowe zostało wysłane pomyślnie",
	models.FormTypeContact:            "Wiadomość została wysłana pomyślnie",
	models.FormTypePropertySubmission: "Zgłoszenie nieruchomości zostało wysłane",
	models.FormTypePartner:            "Zgłoszenie partnerskie zostało wysłane",
	models.FormTypeEmployee:           "Aplikacja została wysłana",
}

// InquiryHandler serves the public forms and the admin submission routes.
type InquiryHandler struct {
	inquiries services.IInquiryService
	media     *Media
}

// NewInquiryHandler creates a new InquiryHandler.
func NewInquiryHandler(inquiries services.IInquiryService, media *Media) *InquiryHandler {
	return &InquiryHandler{inquiries: inquiries, media: media}
}

// Submit returns the handler for one public form. The body may be JSON or a
// form; the employee form is multipart and carries the CV in "cv".
func (h *InquiryHandler) Submit(formType models.FormType) gin.HandlerFunc {
	return func(c *gin.Context) {
		var form services.InquiryForm
		if err := c.ShouldBind(&form); err != nil {
			sendError(c, http.StatusBadRequest, msgInvalidBody)
			return
		}

		ctx := c.Request.Context()
		policy := h.media.Policies.CV
		var cv *storage.StoredFile
		if formType == models.FormTypeEmployee {
			stored, err := h.media.ReceiveOne(c, "cv", policy)
			if err != nil {
				respondError(c, err, msgInquiryNotFound)
				return
			}
			if stored != nil {
				cv = stored
				form.CVFile = stored.Path
			}
		}

		meta := services.SubmissionMeta{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()}
		result, err := h.inquiries.Submit(ctx, formType, form, meta)
		if err != nil {
			if cv != nil {
				h.media.Rollback(policy.Purpose, *cv)
			}
			respondError(c, err, msgInquiryNotFound)
			return
		}

		inquiry := result.Inquiry
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"message":  submittedMessages[formType],
			"notified": result.Notified,
			"queued":   result.Queued,
			"data": gin.H{
				"name":         inquiry.Name,
				"email":        inquiry.Email,
				"timestamp":    time.Now().UTC().Format(time.RFC3339),
				"submissionId": inquiry.ID.Hex(),
			},
		})
	}
}

// List handles GET /submissions
func (h *InquiryHandler) List(c *gin.Context) {
	var q services.InquiryQuery
	_ = c.ShouldBindQuery(&q)

	res, err := h.inquiries.Search(c.Request.Context(), q)
	if err != nil {
		respondError(c, err, msgInquiryNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"submissions":      res.Inquiries,
		"totalPages":       res.TotalPages,
		"currentPage":      res.CurrentPage,
		"totalSubmissions": res.Total,
	})
}

// Stats handles GET /submissions/stats
func (h *InquiryHandler) Stats(c *gin.Context) {
	stats, err := h.inquiries.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err, msgInquiryNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

// Get handles GET /submissions/:id
func (h *InquiryHandler) Get(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	inquiry, err := h.inquiries.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, msgInquiryNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "submission": inquiry})
}

// Delete handles DELETE /submissions/:id
func (h *InquiryHandler) Delete(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.inquiries.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err, msgInquiryNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Formularz usunięty pomyślnie"})
}

// Update handles PUT /submissions/:id with an optional status and note.
func (h *InquiryHandler) Update(c *gin.Context) {
	var req struct {
		Status        *models.InquiryStatus `json:"status"`
		InternalNotes string                `json:"internalNotes"`
	}
	h.lifecycle(c, &req, func(id primitive.ObjectID, actor string) (*models.Inquiry, error) {
		return h.inquiries.Update(c.Request.Context(), id, req.Status, req.InternalNotes, actor)
	})
}

// SetStatus handles PATCH /submissions/:id/status
func (h *InquiryHandler) SetStatus(c *gin.Context) {
	var req struct {
		Status models.InquiryStatus `json:"status"`
		Note   string               `json:"note"`
	}
	h.lifecycle(c, &req, func(id primitive.ObjectID, actor string) (*models.Inquiry, error) {
		return h.inquiries.SetStatus(c.Request.Context(), id, req.Status, req.Note, actor)
	})
}

// MarkContacted handles POST /submissions/:id/contacted
func (h *InquiryHandler) MarkContacted(c *gin.Context) {
	var req struct {
		Note string `json:"note"`
	}
	h.lifecycle(c, &req, func(id primitive.ObjectID, actor string) (*models.Inquiry, error) {
		return h.inquiries.MarkContacted(c.Request.Context(), id, req.Note, actor)
	})
}

// SetPriority handles PATCH /submissions/:id/priority
func (h *InquiryHandler) SetPriority(c *gin.Context) {
	var req struct {
		Priority models.Priority `json:"priority"`
	}
	h.lifecycle(c, &req, func(id primitive.ObjectID, actor string) (*models.Inquiry, error) {
		return h.inquiries.SetPriority(c.Request.Context(), id, req.Priority, actor)
	})
}

// Assign handles PATCH /submissions/:id/assign
func (h *InquiryHandler) Assign(c *gin.Context) {
	var req struct {
		UserID string `json:"userId"`
	}
	h.lifecycle(c, &req, func(id primitive.ObjectID, actor string) (*models.Inquiry, error) {
		userID, err := primitive.ObjectIDFromHex(req.UserID)
		if err != nil {
			return nil, services.NewValidationError("Nieprawidłowe ID użytkownika")
		}
		return h.inquiries.Assign(c.Request.Context(), id, userID, actor)
	})
}

// AddTags handles POST /submissions/:id/tags
func (h *InquiryHandler) AddTags(c *gin.Context) {
	var req struct {
		Tags []string `json:"tags"`
	}
	h.lifecycle(c, &req, func(id primitive.ObjectID, actor string) (*models.Inquiry, error) {
		return h.inquiries.AddTags(c.Request.Context(), id, req.Tags, actor)
	})
}

// AddNote handles POST /submissions/:id/notes
func (h *InquiryHandler) AddNote(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	h.lifecycle(c, &req, func(id primitive.ObjectID, actor string) (*models.Inquiry, error) {
		return h.inquiries.AddNote(c.Request.Context(), id, req.Text, actor)
	})
}

// lifecycle parses the id and body, runs op as the calling admin and writes the updated inquiry.
func (h *InquiryHandler) lifecycle(c *gin.Context, req interface{}, op func(id primitive.ObjectID, actor string) (*models.Inquiry, error)) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	// Bodies are optional for contacted.
	if c.Request.ContentLength != 0 && !bindJSON(c, req) {
		return
	}

	inquiry, err := op(id, middleware.PrincipalFrom(c).Email)
	if err != nil {
		respondError(c, err, msgInquiryNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "Formularz zaktualizowany pomyślnie",
		"submission": inquiry,
	})
}

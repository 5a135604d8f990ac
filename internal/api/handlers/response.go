package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Qrinee/m2backend/internal/metrics"
	"github.com/Qrinee/m2backend/internal/services"
	"github.com/Qrinee/m2backend/internal/storage"
)

const (
	msgInvalidID      = "Nieprawidłowy identyfikator"
	msgInvalidBody    = "Nieprawidłowy format danych"
	msgForbidden      = "Brak uprawnień do wykonania tej operacji"
	msgInternalServer = "Wewnętrzny błąd serwera"
)

// ErrorResponse is the envelope of every failed request.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

func sendError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Success: false, Error: message})
}

// respondError translates a service error into a status code and envelope.
// notFound is the message used when the document does not exist.
func respondError(c *gin.Context, err error, notFound string) {
	var ve *services.ValidationError
	var pe *storage.PolicyError
	switch {
	case errors.As(err, &ve):
		resp := ErrorResponse{Error: ve.Message}
		if len(ve.Fields) > 0 {
			resp.Details = ve.Fields
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, resp)
	case errors.As(err, &pe):
		sendError(c, http.StatusBadRequest, pe.Message)
	case services.IsNotFound(err):
		sendError(c, http.StatusNotFound, notFound)
	case errors.Is(err, services.ErrForbidden):
		sendError(c, http.StatusForbidden, msgForbidden)
	case errors.Is(err, services.ErrConflict):
		sendError(c, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrInvalidCredentials), errors.Is(err, services.ErrInactiveAccount):
		sendError(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, services.ErrInvalidResetToken):
		sendError(c, http.StatusBadRequest, err.Error())
	default:
		_ = c.Error(err)
		log.Printf("Request %s %s failed: %v", c.Request.Method, c.FullPath(), err)
		sendError(c, http.StatusInternalServerError, msgInternalServer)
	}
}

// objectIDParam parses a path parameter, answering 400 when it is malformed.
func objectIDParam(c *gin.Context, name string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param(name))
	if err != nil {
		sendError(c, http.StatusBadRequest, msgInvalidID)
		return primitive.NilObjectID, false
	}
	return id, true
}

// bindJSON decodes the body into v, answering 400 when it is malformed.
func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		sendError(c, http.StatusBadRequest, msgInvalidBody)
		return false
	}
	return true
}

// MediaQueue schedules background work on stored files. Implemented by tasks.Queue.
type MediaQueue interface {
	EnqueueMediaProcessing(ctx context.Context, files []storage.StoredFile)
	EnqueueMediaRemoval(ctx context.Context, paths ...string)
}

// Media receives uploads for handlers and cleans them up.
type Media struct {
	local    storage.ILocalStorage
	Policies storage.Policies
	queue    MediaQueue
}

// NewMedia creates the upload helper. queue may be nil when no worker runs.
func NewMedia(local storage.ILocalStorage, policies storage.Policies, queue MediaQueue) *Media {
	return &Media{local: local, Policies: policies, queue: queue}
}

// Receive stores the files of a multipart field under policy. A request that
// is not multipart, or has no such field, yields no files.
func (m *Media) Receive(c *gin.Context, field string, policy storage.Policy) ([]storage.StoredFile, error) {
	form, err := c.MultipartForm()
	if err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, &storage.PolicyError{Message: "Nieprawidłowe dane formularza"}
	}
	return m.local.Save(c.Request.Context(), policy, form.File[field])
}

// ReceiveOne is Receive for single-file fields. It returns nil when no file was sent.
func (m *Media) ReceiveOne(c *gin.Context, field string, policy storage.Policy) (*storage.StoredFile, error) {
	files, err := m.Receive(c, field, policy)
	if err != nil || len(files) == 0 {
		return nil, err
	}
	return &files[0], nil
}

// Commit hands freshly stored files to background processing.
func (m *Media) Commit(ctx context.Context, files ...storage.StoredFile) {
	if m.queue != nil && len(files) > 0 {
		m.queue.EnqueueMediaProcessing(ctx, files)
	}
}

// Rollback removes files stored by a request that failed afterwards.
func (m *Media) Rollback(purpose string, files ...storage.StoredFile) {
	if len(files) == 0 {
		return
	}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	log.Printf("Rolling back %d %s upload(s)", len(paths), purpose)
	m.local.Remove(paths...)
	metrics.RecordMediaRolledBack(purpose, len(paths))
}

// Discard removes files that are no longer referenced.
func (m *Media) Discard(ctx context.Context, paths ...string) {
	m.local.Remove(paths...)
	if m.queue != nil {
		m.queue.EnqueueMediaRemoval(ctx, paths...)
	}
}

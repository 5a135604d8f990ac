package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Qrinee/m2backend/internal/api/handlers"
)

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name     string
		ping     handlers.PingFunc
		database string
	}{
		{"connected", func(ctx context.Context) error { return nil }, "connected"},
		{"disconnected", func(ctx context.Context) error { return errors.New("no reachable servers") }, "disconnected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(nil)
			r.GET("/api/health", handlers.NewHealthHandler(tt.ping).Health)

			w := performJSON(r, http.MethodGet, "/api/health", nil)

			assert.Equal(t, http.StatusOK, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, tt.database, body["database"])
			assert.Equal(t, "Server is running", body["message"])
		})
	}
}

func TestNotFound(t *testing.T) {
	r := newTestRouter(nil)
	r.NoRoute(handlers.NotFound)

	w := performJSON(r, http.MethodGet, "/api/nie-ma", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Endpoint nie znaleziony", body["error"])
}

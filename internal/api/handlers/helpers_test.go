package handlers_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Qrinee/m2backend/internal/api/handlers"
	"github.com/Qrinee/m2backend/internal/api/middleware"
	"github.com/Qrinee/m2backend/internal/auth"
	"github.com/Qrinee/m2backend/internal/config"
	"github.com/Qrinee/m2backend/internal/models"
	"github.com/Qrinee/m2backend/internal/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		JwtSecret:           "handler-test-secret",
		JwtTTL:              time.Hour,
		MaxListingFiles:     3,
		MaxLargeFileMB:      1,
		MaxSmallFileMB:      1,
		DefaultListingLimit: 12,
		MaxPageLimit:        50,
	}
}

// newTestMedia stores uploads in a per-test directory. queue may be nil.
func newTestMedia(t *testing.T, queue handlers.MediaQueue) *handlers.Media {
	t.Helper()
	return handlers.NewMedia(storage.NewLocalStorage(t.TempDir()), storage.DefaultPolicies(testConfig()), queue)
}

// newTestRouter returns an engine whose requests run as principal (nil for anonymous).
func newTestRouter(principal *auth.Principal) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if principal != nil {
			c.Set(middleware.ContextKeyPrincipal, principal)
		}
		c.Next()
	})
	return r
}

func userPrincipal(id primitive.ObjectID) *auth.Principal {
	return &auth.Principal{UserID: id, Email: "jan@example.com", Role: string(models.RoleUser)}
}

func adminPrincipal() *auth.Principal {
	return &auth.Principal{UserID: primitive.NewObjectID(), Email: "admin@example.com", Role: string(models.RoleAdmin)}
}

func performJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type uploadFile struct {
	field       string
	filename    string
	contentType string
	content     []byte
}

func performMultipart(t *testing.T, r http.Handler, method, path string, fields map[string]string, files ...uploadFile) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.filename+`"`)
		h.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), "body: %s", w.Body.String())
	return body
}

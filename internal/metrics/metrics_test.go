package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestGinMiddleware_CountsByRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/api/properties/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/properties/:id", "204"))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/properties/abc", nil)
	r.ServeHTTP(w, req)

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/properties/:id", "204"))
	assert.Equal(t, before+1, after)
}

func TestRecordNotification(t *testing.T) {
	sent := testutil.ToFloat64(notificationsTotal.WithLabelValues("loan_inquiry", "sent"))
	failed := testutil.ToFloat64(notificationsTotal.WithLabelValues("loan_inquiry", "failed"))

	RecordNotification("loan_inquiry", nil)
	RecordNotification("loan_inquiry", errors.New("smtp down"))

	assert.Equal(t, sent+1, testutil.ToFloat64(notificationsTotal.WithLabelValues("loan_inquiry", "sent")))
	assert.Equal(t, failed+1, testutil.ToFloat64(notificationsTotal.WithLabelValues("loan_inquiry", "failed")))
}

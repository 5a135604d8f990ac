package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Qrinee/m2backend/internal/captcha"
	"github.com/Qrinee/m2backend/internal/config"
)

func setupRateLimitEngine(t *testing.T, cfg *config.Config, verifier *MockTurnstileVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	limiter := NewRateLimiterMiddleware(ctx, cfg)
	r := gin.New()
	r.Use(CaptchaMiddleware(cfg, verifier, captcha.ScopeBrowse))
	r.Use(limiter.Limit())
	r.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	r.POST("/form", CaptchaMiddleware(cfg, verifier, captcha.ScopeIntake), limiter.LimitIntake(), func(c *gin.Context) { c.String(http.StatusCreated, "OK") })
	return r
}

func doRequest(r http.Handler, method, path, ip string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = ip + ":12345"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiterMiddleware_HardLimit(t *testing.T) {
	cfg := &config.Config{
		RateLimitHardRefillRate: 1,
		RateLimitHardBucketSize: 1,
		RateLimitSoftRefillRate: 10,
		RateLimitSoftBucketSize: 10,
	}
	router := setupRateLimitEngine(t, cfg, new(MockTurnstileVerifier))

	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/test", "1.2.3.4", nil).Code)
	w := doRequest(router, http.MethodGet, "/test", "1.2.3.4", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])

	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/test", "4.3.2.1", nil).Code, "other clients are unaffected")
}

func TestRateLimiterMiddleware_SoftLimit_CaptchaRequired(t *testing.T) {
	cfg := &config.Config{
		RateLimitHardRefillRate: 10,
		RateLimitHardBucketSize: 10,
		RateLimitSoftRefillRate: 1,
		RateLimitSoftBucketSize: 1,
	}
	router := setupRateLimitEngine(t, cfg, new(MockTurnstileVerifier))

	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/test", "5.6.7.8", nil).Code)
	w := doRequest(router, http.MethodGet, "/test", "5.6.7.8", nil)
	assert.Equal(t, http.StatusTeapot, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Captcha validation required", body["error"])
}

func TestRateLimiterMiddleware_SoftLimit_BypassWithHumanToken(t *testing.T) {
	cfg := &config.Config{
		RateLimitHardRefillRate: 10,
		RateLimitHardBucketSize: 10,
		RateLimitSoftRefillRate: 1,
		RateLimitSoftBucketSize: 1,
	}
	verifier := new(MockTurnstileVerifier)
	verifier.On("HumanTokenScope", "valid-token", captcha.Client{IP: "9.1.2.3"}).Return(captcha.ScopeBrowse, true)
	router := setupRateLimitEngine(t, cfg, verifier)

	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/test", "9.1.2.3", nil).Code)
	w := doRequest(router, http.MethodGet, "/test", "9.1.2.3", map[string]string{headerHumanToken: "valid-token"})
	assert.Equal(t, http.StatusOK, w.Code)
	verifier.AssertExpectations(t)
}

func TestRateLimiterMiddleware_IntakePolicyIsSeparate(t *testing.T) {
	cfg := &config.Config{
		RateLimitHardRefillRate:   100,
		RateLimitHardBucketSize:   100,
		RateLimitSoftRefillRate:   100,
		RateLimitSoftBucketSize:   100,
		RateLimitIntakeBucketSize: 2,
		RateLimitIntakeRefillRate: 1,
	}
	verifier := new(MockTurnstileVerifier)
	verifier.On("HumanTokenScope", "human", mock.Anything).Return(captcha.ScopeIntake, true)
	router := setupRateLimitEngine(t, cfg, verifier)

	assert.Equal(t, http.StatusCreated, doRequest(router, http.MethodPost, "/form", "7.7.7.7", nil).Code)
	assert.Equal(t, http.StatusCreated, doRequest(router, http.MethodPost, "/form", "7.7.7.7", nil).Code)
	assert.Equal(t, http.StatusTeapot, doRequest(router, http.MethodPost, "/form", "7.7.7.7", nil).Code)

	human := map[string]string{headerHumanToken: "human"}
	assert.Equal(t, http.StatusCreated, doRequest(router, http.MethodPost, "/form", "7.7.7.7", human).Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(router, http.MethodPost, "/form", "7.7.7.7", human).Code)

	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/test", "7.7.7.7", nil).Code, "default bucket is untouched")
}

func TestRateLimiterMiddleware_BrowseTokenDoesNotBypassIntake(t *testing.T) {
	cfg := &config.Config{
		RateLimitHardRefillRate:   100,
		RateLimitHardBucketSize:   100,
		RateLimitSoftRefillRate:   100,
		RateLimitSoftBucketSize:   100,
		RateLimitIntakeBucketSize: 1,
		RateLimitIntakeRefillRate: 1,
	}
	verifier := new(MockTurnstileVerifier)
	verifier.On("HumanTokenScope", "browsing", mock.Anything).Return(captcha.ScopeBrowse, true)
	router := setupRateLimitEngine(t, cfg, verifier)

	browsing := map[string]string{headerHumanToken: "browsing"}
	assert.Equal(t, http.StatusCreated, doRequest(router, http.MethodPost, "/form", "8.8.4.4", browsing).Code)
	assert.Equal(t, http.StatusTeapot, doRequest(router, http.MethodPost, "/form", "8.8.4.4", browsing).Code)
}

func TestIntakePolicy(t *testing.T) {
	p := IntakePolicy(&config.Config{RateLimitIntakeBucketSize: 3, RateLimitIntakeRefillRate: 2})
	assert.Equal(t, 3, p.SoftBurst)
	assert.Equal(t, 6, p.HardBurst)
	assert.InDelta(t, 2.0/60.0, float64(p.SoftRate), 1e-9)
	assert.Equal(t, captcha.ScopeIntake, p.Scope)
	assert.Equal(t, captcha.ScopeBrowse, DefaultPolicy(&config.Config{}).Scope)
}

func TestRateLimiterMiddleware_EvictIdle(t *testing.T) {
	rm := &RateLimiterMiddleware{clients: map[string]*clientLimiter{}, cfg: &config.Config{}}
	rm.getClientLimiter("fresh", DefaultPolicy(rm.cfg))
	stale := rm.getClientLimiter("stale", DefaultPolicy(rm.cfg))
	stale.lastSeen = time.Now().Add(-time.Hour)

	assert.Equal(t, 1, rm.evictIdle(30*time.Minute))
	assert.Contains(t, rm.clients, "fresh")
	assert.NotContains(t, rm.clients, "stale")
}

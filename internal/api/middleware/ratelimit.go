package middleware

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/Qrinee/m2backend/internal/captcha"
	"github.com/Qrinee/m2backend/internal/config"
)

var (
	errRateLimited     = errors.New("Zbyt wiele żądań, spróbuj ponownie później")
	errCaptchaRequired = errors.New("Captcha validation required")
)

// LimitPolicy is a pair of token buckets. The soft bucket can be bypassed by
// clients verified as human for Scope; the hard bucket cannot.
type LimitPolicy struct {
	Name      string
	Scope     captcha.Scope
	SoftRate  rate.Limit
	SoftBurst int
	HardRate  rate.Limit
	HardBurst int
}

// DefaultPolicy applies to the API as a whole.
func DefaultPolicy(cfg *config.Config) LimitPolicy {
	return LimitPolicy{
		Name:      "default",
		Scope:     captcha.ScopeBrowse,
		SoftRate:  rate.Limit(cfg.RateLimitSoftRefillRate),
		SoftBurst: cfg.RateLimitSoftBucketSize,
		HardRate:  rate.Limit(cfg.RateLimitHardRefillRate),
		HardBurst: cfg.RateLimitHardBucketSize,
	}
}

// IntakePolicy applies to the public form endpoints. Its refill rate is per minute
// and verified humans get twice the burst.
func IntakePolicy(cfg *config.Config) LimitPolicy {
	perMinute := rate.Every(time.Minute)
	if cfg.RateLimitIntakeRefillRate > 0 {
		perMinute = rate.Every(time.Minute / time.Duration(cfg.RateLimitIntakeRefillRate))
	}
	return LimitPolicy{
		Name:      "intake",
		Scope:     captcha.ScopeIntake,
		SoftRate:  perMinute,
		SoftBurst: cfg.RateLimitIntakeBucketSize,
		HardRate:  perMinute,
		HardBurst: cfg.RateLimitIntakeBucketSize * 2,
	}
}

// clientLimiter stores rate limiters for a specific client and policy.
type clientLimiter struct {
	softLimiter *rate.Limiter
	hardLimiter *rate.Limiter
	lastSeen    time.Time
}

// RateLimiterMiddleware keeps per-client buckets for any number of policies.
type RateLimiterMiddleware struct {
	clients map[string]*clientLimiter
	mu      sync.Mutex
	cfg     *config.Config
}

// NewRateLimiterMiddleware creates a limiter whose stale entries are evicted until ctx is done.
func NewRateLimiterMiddleware(ctx context.Context, cfg *config.Config) *RateLimiterMiddleware {
	rm := &RateLimiterMiddleware{
		clients: make(map[string]*clientLimiter),
		cfg:     cfg,
	}
	go rm.cleanupClients(ctx, 10*time.Minute, 30*time.Minute)
	return rm
}

// getClientIdentifier combines IP, browser fingerprint and SPA session.
func getClientIdentifier(c *gin.Context) string {
	return fmt.Sprintf("%s|%s|%s", c.ClientIP(), c.GetHeader(headerFingerprint), c.GetHeader(headerSPASession))
}

func (rm *RateLimiterMiddleware) getClientLimiter(key string, policy LimitPolicy) *clientLimiter {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	limiter, exists := rm.clients[key]
	if !exists {
		limiter = &clientLimiter{
			softLimiter: rate.NewLimiter(policy.SoftRate, policy.SoftBurst),
			hardLimiter: rate.NewLimiter(policy.HardRate, policy.HardBurst),
		}
		rm.clients[key] = limiter
	}
	limiter.lastSeen = time.Now()
	return limiter
}

func (rm *RateLimiterMiddleware) cleanupClients(ctx context.Context, every, maxIdle time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rm.evictIdle(maxIdle); n > 0 {
				log.Printf("Rate limiter cleanup removed %d old client entries.", n)
			}
		}
	}
}

func (rm *RateLimiterMiddleware) evictIdle(maxIdle time.Duration) int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	count := 0
	for id, client := range rm.clients {
		if time.Since(client.lastSeen) > maxIdle {
			delete(rm.clients, id)
			count++
		}
	}
	return count
}

// Limit applies the default policy.
func (rm *RateLimiterMiddleware) Limit() gin.HandlerFunc {
	return rm.LimitWith(DefaultPolicy(rm.cfg))
}

// LimitIntake applies the intake policy.
func (rm *RateLimiterMiddleware) LimitIntake() gin.HandlerFunc {
	return rm.LimitWith(IntakePolicy(rm.cfg))
}

// LimitWith enforces policy per client. Exceeding the hard bucket yields 429;
// exceeding the soft bucket yields 418 unless CaptchaMiddleware verified the client
// for the policy's scope.
func (rm *RateLimiterMiddleware) LimitWith(policy LimitPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientKey := getClientIdentifier(c)
		limiter := rm.getClientLimiter(policy.Name+"|"+clientKey, policy)

		if !limiter.hardLimiter.Allow() {
			log.Printf("Hard rate limit (%s) exceeded for client: %s on %s", policy.Name, clientKey, c.FullPath())
			abortWithError(c, http.StatusTooManyRequests, errRateLimited)
			return
		}

		if !IsHumanVerified(c, policy.Scope) && !limiter.softLimiter.Allow() {
			log.Printf("Soft rate limit (%s) exceeded for client: %s on %s (captcha required)", policy.Name, clientKey, c.FullPath())
			abortWithError(c, http.StatusTeapot, errCaptchaRequired)
			return
		}

		c.Next()
	}
}

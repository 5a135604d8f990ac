package middleware

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/Qrinee/m2backend/internal/captcha"
	"github.com/Qrinee/m2backend/internal/config"
)

// Client identification headers sent by the frontend.
const (
	headerFingerprint = "X-BFP"
	headerSPASession  = "X-SPA"
	headerHumanToken  = "X-C-T"
	headerChallenge   = "X-C-V"
)

const contextKeyChallengePassed = "captchaChallengePassed"

func humanVerifiedKey(scope captcha.Scope) string {
	return "isHumanVerified:" + string(scope)
}

// IsHumanVerified reports whether CaptchaMiddleware for scope accepted the request.
func IsHumanVerified(c *gin.Context, scope captcha.Scope) bool {
	return c.GetBool(humanVerifiedKey(scope))
}

func captchaClient(c *gin.Context) captcha.Client {
	return captcha.Client{
		IP:          c.ClientIP(),
		Fingerprint: c.GetHeader(headerFingerprint),
		Session:     c.GetHeader(headerSPASession),
	}
}

// CaptchaMiddleware marks the request as human for scope when it carries an X-C-T
// token covering scope or a Turnstile challenge (X-C-V) that verifies. A passed
// challenge is answered with a fresh X-C-T token for scope. It never rejects.
//
// The middleware can be stacked for several scopes on one route; the challenge is
// sent to Turnstile at most once per request.
func CaptchaMiddleware(cfg *config.Config, verifier captcha.ITurnstileVerifier, scope captcha.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		client := captchaClient(c)

		human := false
		if token := c.GetHeader(headerHumanToken); token != "" {
			granted, ok := verifier.HumanTokenScope(token, client)
			human = ok && granted.Covers(scope)
		}

		if !human && challengePassed(c, verifier, client) {
			human = true
			token, err := verifier.IssueHumanToken(scope, client, cfg.CaptchaTokenTTL)
			if err != nil {
				log.Printf("Error issuing %s human token for %s: %v", scope, client.IP, err)
			} else {
				c.Header(headerHumanToken, token)
			}
		}

		c.Set(humanVerifiedKey(scope), human)
		c.Next()
	}
}

func challengePassed(c *gin.Context, verifier captcha.ITurnstileVerifier, client captcha.Client) bool {
	if passed, ok := c.Get(contextKeyChallengePassed); ok {
		return passed.(bool)
	}

	passed := false
	if challenge := c.GetHeader(headerChallenge); challenge != "" {
		verified, err := verifier.Verify(c.Request.Context(), challenge, client.IP)
		if err != nil {
			log.Printf("Error verifying Turnstile challenge from %s: %v", client.IP, err)
		}
		passed = err == nil && verified
	}
	c.Set(contextKeyChallengePassed, passed)
	return passed
}

package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Qrinee/m2backend/internal/auth"
	"github.com/Qrinee/m2backend/internal/models"
)

// ContextKeyPrincipal holds the authenticated *auth.Principal in Gin context.
const ContextKeyPrincipal = "principal"

var (
	errNoToken       = errors.New("Brak tokena autoryzacyjnego")
	errBadToken      = errors.New("Token nieprawidłowy")
	errUnknownUser   = errors.New("Token nieprawidłowy - użytkownik nie istnieje")
	errInactiveUser  = errors.New("Konto użytkownika jest nieaktywne")
	errAdminRequired = errors.New("Brak uprawnień administratora")
)

// UserLookup loads the account a token refers to.
type UserLookup interface {
	FindByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error)
}

// Authenticator resolves Bearer tokens into principals.
type Authenticator struct {
	jwtSecret string
	users     UserLookup
}

func NewAuthenticator(jwtSecret string, users UserLookup) *Authenticator {
	return &Authenticator{jwtSecret: jwtSecret, users: users}
}

func abortWithError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": err.Error()})
}

func bearerToken(c *gin.Context) string {
	parts := strings.Fields(c.GetHeader("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// resolve verifies the token and loads an active user for it.
func (a *Authenticator) resolve(c *gin.Context) (*auth.Principal, error) {
	token := bearerToken(c)
	if token == "" {
		return nil, errNoToken
	}
	claims, err := auth.ValidateJWT(token, a.jwtSecret)
	if err != nil {
		return nil, errBadToken
	}
	userID, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return nil, errBadToken
	}
	user, err := a.users.FindByID(c.Request.Context(), userID)
	if err != nil {
		return nil, errUnknownUser
	}
	if !user.IsActive {
		return nil, errInactiveUser
	}
	return &auth.Principal{UserID: user.ID, Email: user.Email, Role: string(user.Role)}, nil
}

// Required rejects the request with 401 unless it carries a valid token of an active user.
func (a *Authenticator) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := a.resolve(c)
		if err != nil {
			if err != errNoToken {
				log.Printf("Authorization failed for %s %s: %v", c.Request.Method, c.FullPath(), err)
			}
			abortWithError(c, http.StatusUnauthorized, err)
			return
		}
		c.Set(ContextKeyPrincipal, principal)
		c.Next()
	}
}

// Optional attaches the principal when the token resolves and never rejects.
func (a *Authenticator) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		if principal, err := a.resolve(c); err == nil {
			c.Set(ContextKeyPrincipal, principal)
		}
		c.Next()
	}
}

// Admin authenticates the request and requires the admin role.
func (a *Authenticator) Admin() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := a.resolve(c)
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, err)
			return
		}
		if !principal.IsAdmin() {
			abortWithError(c, http.StatusForbidden, errAdminRequired)
			return
		}
		c.Set(ContextKeyPrincipal, principal)
		c.Next()
	}
}

// PrincipalFrom returns the caller of the request, or nil when anonymous.
func PrincipalFrom(c *gin.Context) *auth.Principal {
	v, ok := c.Get(ContextKeyPrincipal)
	if !ok {
		return nil
	}
	p, _ := v.(*auth.Principal)
	return p
}

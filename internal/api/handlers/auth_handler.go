package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Qrinee/m2backend/internal/api/middleware"
	"github.com/Qrinee/m2backend/internal/auth"
	"github.com/Qrinee/m2backend/internal/config"
	"github.com/Qrinee/m2backend/internal/metrics"
	"github.com/Qrinee/m2backend/internal/models"
	"github.com/Qrinee/m2backend/internal/services"
)

const (
	msgUserNotFound  = "Użytkownik nie znaleziony"
	msgResetAccepted = "Jeśli email istnieje w systemie, wysłaliśmy link resetujący"
)

// AuthHandler serves /api/auth.
type AuthHandler struct {
	cfg    *config.Config
	users  services.IUserService
	resets services.IPasswordResetService
	media  *Media
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(cfg *config.Config, users services.IUserService, resets services.IPasswordResetService, media *Media) *AuthHandler {
	return &AuthHandler{cfg: cfg, users: users, resets: resets, media: media}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (h *AuthHandler) issueToken(user *models.User) (string, error) {
	return auth.GenerateJWT(user.ID, user.Email, string(user.Role), h.cfg.JwtSecret, h.cfg.JwtTTL)
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var input services.RegisterInput
	if !bindJSON(c, &input) {
		return
	}

	user, err := h.users.Register(c.Request.Context(), input)
	if err != nil {
		respondError(c, err, msgUserNotFound)
		return
	}
	token, err := h.issueToken(user)
	if err != nil {
		respondError(c, err, msgUserNotFound)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Użytkownik został pomyślnie zarejestrowany",
		"data":    gin.H{"user": user.View(), "token": token},
	})
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		sendError(c, http.StatusBadRequest, "Email i hasło są wymagane")
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	metrics.RecordAuthAttempt(err == nil)
	if err != nil {
		respondError(c, err, msgUserNotFound)
		return
	}
	token, err := h.issueToken(user)
	if err != nil {
		respondError(c, err, msgUserNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Logowanie pomyślne",
		"data":    gin.H{"user": user.View(), "token": token},
	})
}

// Logout handles POST /api/auth/logout. Tokens are stateless; the client drops its copy.
func (h *AuthHandler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Wylogowano pomyślnie"})
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	caller := middleware.PrincipalFrom(c)
	user, err := h.users.FindByID(c.Request.Context(), caller.UserID)
	if err != nil {
		respondError(c, err, msgUserNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"user": user.View()}})
}

// UpdateProfile handles PUT /api/auth/profile. The body is either JSON or a
// multipart form with an optional profilePicture file.
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	caller := middleware.PrincipalFrom(c)
	ctx := c.Request.Context()

	var input services.UserUpdate
	if isMultipart(c) {
		input = userUpdateFromForm(c)
	} else if !bindJSON(c, &input) {
		return
	}
	// Role and activation are managed through /api/users only.
	input.Role, input.IsActive = nil, nil

	picture, err := h.media.ReceiveOne(c, "profilePicture", h.media.Policies.Profile)
	if err != nil {
		respondError(c, err, msgUserNotFound)
		return
	}

	user, err := h.users.Update(ctx, caller.UserID, caller, input)
	if err == nil && picture != nil {
		var previous string
		user, previous, err = h.users.SetProfilePicture(ctx, caller.UserID, picture.Path)
		if err == nil && previous != "" {
			h.media.Discard(ctx, previous)
		}
	}
	if err != nil {
		if picture != nil {
			h.media.Rollback(h.media.Policies.Profile.Purpose, *picture)
		}
		respondError(c, err, msgUserNotFound)
		return
	}
	if picture != nil {
		h.media.Commit(ctx, *picture)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Profil został zaktualizowany",
		"data":    gin.H{"user": user.View()},
	})
}

// DeleteProfilePicture handles DELETE /api/auth/profile/picture
func (h *AuthHandler) DeleteProfilePicture(c *gin.Context) {
	caller := middleware.PrincipalFrom(c)
	ctx := c.Request.Context()

	user, err := h.users.FindByID(ctx, caller.UserID)
	if err != nil {
		respondError(c, err, msgUserNotFound)
		return
	}
	if user.ProfilePicture == "" {
		sendError(c, http.StatusBadRequest, "Użytkownik nie ma zdjęcia profilowego")
		return
	}

	user, previous, err := h.users.SetProfilePicture(ctx, caller.UserID, "")
	if err != nil {
		respondError(c, err, msgUserNotFound)
		return
	}
	h.media.Discard(ctx, previous)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Zdjęcie profilowe zostało usunięte",
		"data":    gin.H{"user": user.View()},
	})
}

// ChangePassword handles PUT /api/auth/change-password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		sendError(c, http.StatusBadRequest, "Obecne hasło i nowe hasło są wymagane")
		return
	}

	caller := middleware.PrincipalFrom(c)
	err := h.users.ChangePassword(c.Request.Context(), caller.UserID, req.CurrentPassword, req.NewPassword)
	if errors.Is(err, services.ErrInvalidCredentials) {
		sendError(c, http.StatusBadRequest, "Obecne hasło jest nieprawidłowe")
		return
	}
	if err != nil {
		respondError(c, err, msgUserNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Hasło zostało pomyślnie zmienione"})
}

// RequestPasswordReset handles POST /api/auth/reset-password-request. The answer
// is the same whether or not the address is registered.
func (h *AuthHandler) RequestPasswordReset(c *gin.Context) {
	var req resetRequest
	if !bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		sendError(c, http.StatusBadRequest, "Email jest wymagany")
		return
	}

	if err := h.resets.RequestReset(c.Request.Context(), req.Email); err != nil {
		var ve *services.ValidationError
		if errors.As(err, &ve) {
			respondError(c, err, msgUserNotFound)
			return
		}
		log.Printf("Password reset request failed: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msgResetAccepted})
}

// ResetPassword handles POST /api/auth/reset-password
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Token == "" || req.NewPassword == "" {
		sendError(c, http.StatusBadRequest, "Token i nowe hasło są wymagane")
		return
	}

	if err := h.resets.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		respondError(c, err, msgUserNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Hasło zostało pomyślnie zmienione"})
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/")
}

// formValue returns a pointer to a submitted form value, or nil when the field is absent.
func formValue(c *gin.Context, key string) *string {
	if v, ok := c.GetPostForm(key); ok {
		return &v
	}
	return nil
}

func userUpdateFromForm(c *gin.Context) services.UserUpdate {
	return services.UserUpdate{
		Name:         formValue(c, "name"),
		Surname:      formValue(c, "surname"),
		Phone:        formValue(c, "phone"),
		Bio:          formValue(c, "bio"),
		Position:     formValue(c, "position"),
		ContactEmail: formValue(c, "contactEmail"),
	}
}

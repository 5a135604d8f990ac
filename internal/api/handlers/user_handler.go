package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Qrinee/m2backend/internal/api/middleware"
	"github.com/Qrinee/m2backend/internal/auth"
	"github.com/Qrinee/m2backend/internal/models"
	"github.com/Qrinee/m2backend/internal/services"
)

// UserHandler serves /api/users.
type UserHandler struct {
	users services.IUserService
	media *Media
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(users services.IUserService, media *Media) *UserHandler {
	return &UserHandler{users: users, media: media}
}

func userList(users []models.User) gin.H {
	views := make([]models.UserView, 0, len(users))
	for i := range users {
		views = append(views, users[i].View())
	}
	return gin.H{"success": true, "data": gin.H{"users": views, "total": len(views)}}
}

// List handles GET /api/users
func (h *UserHandler) List(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		respondError(c, err, msgUserNotFound)
		return
	}
	c.JSON(http.StatusOK, userList(users))
}

// Team handles GET /api/users/team/admins, the public list of agents and admins.
func (h *UserHandler) Team(c *gin.Context) {
	users, err := h.users.ListTeam(c.Request.Context())
	if err != nil {
		respondError(c, err, msgUserNotFound)
		return
	}
	c.JSON(http.StatusOK, userList(users))
}

// Get handles GET /api/users/:id
func (h *UserHandler) Get(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	if !auth.CanManage(middleware.PrincipalFrom(c), id) {
		sendError(c, http.StatusForbidden, "Brak uprawnień do przeglądania tego profilu")
		return
	}

	user, err := h.users.FindByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, msgUserNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"user": user.View()}})
}

// Update handles PUT /api/users/:id. Role and isActive are honoured for admins only.
func (h *UserHandler) Update(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	var input services.UserUpdate
	if !bindJSON(c, &input) {
		return
	}

	user, err := h.users.Update(c.Request.Context(), id, middleware.PrincipalFrom(c), input)
	if err != nil {
		respondError(c, err, msgUserNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Profil użytkownika został zaktualizowany",
		"data":    gin.H{"user": user.View()},
	})
}

// Delete handles DELETE /api/users/:id
func (h *UserHandler) Delete(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	user, err := h.users.Delete(ctx, id)
	if err != nil {
		respondError(c, err, msgUserNotFound)
		return
	}
	h.media.Discard(ctx, user.ProfilePicture)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Użytkownik został usunięty"})
}

// UploadPicture handles POST /api/users/:id/upload (multipart, image in "profilePicture").
func (h *UserHandler) UploadPicture(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	if !auth.CanManage(middleware.PrincipalFrom(c), id) {
		sendError(c, http.StatusForbidden, msgForbidden)
		return
	}

	policy := h.media.Policies.Profile
	picture, err := h.media.ReceiveOne(c, "profilePicture", policy)
	if err != nil {
		respondError(c, err, msgUserNotFound)
		return
	}
	if picture == nil {
		sendError(c, http.StatusBadRequest, "Nie przesłano pliku")
		return
	}

	ctx := c.Request.Context()
	user, previous, err := h.users.SetProfilePicture(ctx, id, picture.Path)
	if err != nil {
		h.media.Rollback(policy.Purpose, *picture)
		respondError(c, err, msgUserNotFound)
		return
	}
	h.media.Commit(ctx, *picture)
	h.media.Discard(ctx, previous)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Zdjęcie profilowe zostało zaktualizowane",
		"data":    gin.H{"user": user.View()},
	})
}

package handlers_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Qrinee/m2backend/internal/api/handlers"
	"github.com/Qrinee/m2backend/internal/models"
)

func TestUserHandler_List(t *testing.T) {
	users := new(MockUserService)
	h := handlers.NewUserHandler(users, newTestMedia(t, nil))
	r := newTestRouter(adminPrincipal())
	r.GET("/users", h.List)

	users.On("List", mock.Anything).Return([]models.User{*testUser(primitive.NewObjectID()), *testUser(primitive.NewObjectID())}, nil)

	w := performJSON(r, http.MethodGet, "/users", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.EqualValues(t, 2, data["total"])
	assert.Len(t, data["users"], 2)
}

func TestUserHandler_Team_Empty(t *testing.T) {
	users := new(MockUserService)
	h := handlers.NewUserHandler(users, newTestMedia(t, nil))
	r := newTestRouter(nil)
	r.GET("/team", h.Team)

	users.On("ListTeam", mock.Anything).Return([]models.User{}, nil)

	w := performJSON(r, http.MethodGet, "/team", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, []interface{}{}, data["users"])
}

func TestUserHandler_Get_OtherUserForbidden(t *testing.T) {
	users := new(MockUserService)
	h := handlers.NewUserHandler(users, newTestMedia(t, nil))
	r := newTestRouter(userPrincipal(primitive.NewObjectID()))
	r.GET("/users/:id", h.Get)

	w := performJSON(r, http.MethodGet, "/users/"+primitive.NewObjectID().Hex(), nil)

	assert.Equal(t, http.StatusForbidden, w.Code)
	users.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

func TestUserHandler_Get_Self(t *testing.T) {
	users := new(MockUserService)
	h := handlers.NewUserHandler(users, newTestMedia(t, nil))
	id := primitive.NewObjectID()
	r := newTestRouter(userPrincipal(id))
	r.GET("/users/:id", h.Get)

	users.On("FindByID", mock.Anything, id).Return(testUser(id), nil)

	w := performJSON(r, http.MethodGet, "/users/"+id.Hex(), nil)

	assert.Equal(t, http.StatusOK, w.Code)
	user := decodeBody(t, w)["data"].(map[string]interface{})["user"].(map[string]interface{})
	assert.Equal(t, "Jan Kowalski", user["fullName"])
}

func TestUserHandler_Delete_DiscardsPicture(t *testing.T) {
	users := new(MockUserService)
	queue := new(MockMediaQueue)
	h := handlers.NewUserHandler(users, newTestMedia(t, queue))
	r := newTestRouter(adminPrincipal())
	r.DELETE("/users/:id", h.Delete)

	id := primitive.NewObjectID()
	deleted := testUser(id)
	deleted.ProfilePicture = "uploads/avatar.png"
	users.On("Delete", mock.Anything, id).Return(deleted, nil)
	queue.On("EnqueueMediaRemoval", mock.Anything, []string{"uploads/avatar.png"}).Return()

	w := performJSON(r, http.MethodDelete, "/users/"+id.Hex(), nil)

	assert.Equal(t, http.StatusOK, w.Code)
	queue.AssertExpectations(t)
}

func TestUserHandler_UploadPicture(t *testing.T) {
	id := primitive.NewObjectID()

	t.Run("no file", func(t *testing.T) {
		users := new(MockUserService)
		h := handlers.NewUserHandler(users, newTestMedia(t, nil))
		r := newTestRouter(userPrincipal(id))
		r.POST("/users/:id/upload", h.UploadPicture)

		w := performMultipart(t, r, http.MethodPost, "/users/"+id.Hex()+"/upload", map[string]string{"x": "y"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Nie przesłano pliku", decodeBody(t, w)["error"])
	})

	t.Run("service failure rolls back", func(t *testing.T) {
		users := new(MockUserService)
		queue := new(MockMediaQueue)
		h := handlers.NewUserHandler(users, newTestMedia(t, queue))
		r := newTestRouter(userPrincipal(id))
		r.POST("/users/:id/upload", h.UploadPicture)

		users.On("SetProfilePicture", mock.Anything, id, mock.Anything).Return(nil, "", errors.New("mongo down"))

		w := performMultipart(t, r, http.MethodPost, "/users/"+id.Hex()+"/upload", nil,
			uploadFile{field: "profilePicture", filename: "me.png", contentType: "image/png", content: []byte("png")},
		)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		queue.AssertNotCalled(t, "EnqueueMediaProcessing", mock.Anything, mock.Anything)
	})

	t.Run("other user forbidden", func(t *testing.T) {
		users := new(MockUserService)
		h := handlers.NewUserHandler(users, newTestMedia(t, nil))
		r := newTestRouter(userPrincipal(primitive.NewObjectID()))
		r.POST("/users/:id/upload", h.UploadPicture)

		w := performMultipart(t, r, http.MethodPost, "/users/"+id.Hex()+"/upload", nil,
			uploadFile{field: "profilePicture", filename: "me.png", contentType: "image/png", content: []byte("png")},
		)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

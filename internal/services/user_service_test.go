package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Qrinee/m2backend/internal/auth"
	"github.com/Qrinee/m2backend/internal/db"
	"github.com/Qrinee/m2backend/internal/models"
)

func setupUserServiceTest(t *testing.T) (*mongo.Database, IUserService) {
	database := setupServiceDB(t, usersCollection)
	require.NoError(t, db.EnsureIndexes(context.Background(), database))
	return database, NewUserService(database, newTestConfig())
}

func registerUser(t *testing.T, svc IUserService, email string) *models.User {
	t.Helper()
	user, err := svc.Register(context.Background(), RegisterInput{
		Name:     "Jan",
		Surname:  "Kowalski",
		Email:    email,
		Password: "tajne123",
	})
	require.NoError(t, err)
	return user
}

func TestUserService_RegisterAndFind(t *testing.T) {
	_, svc := setupUserServiceTest(t)
	ctx := context.Background()

	user := registerUser(t, svc, "  Jan@Example.COM ")
	assert.Equal(t, "jan@example.com", user.Email)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.True(t, user.IsActive)
	assert.NotEqual(t, "tajne123", user.PasswordHash)

	fetched, err := svc.FindByEmail(ctx, "jan@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, fetched.ID)

	fetchedByID, err := svc.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, fetchedByID.Email)

	// Duplicate email
	_, err = svc.Register(ctx, RegisterInput{Name: "A", Surname: "B", Email: "JAN@example.com", Password: "tajne123"})
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestUserService_RegisterValidation(t *testing.T) {
	_, svc := setupUserServiceTest(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Name: " ", Surname: "B", Email: "a@b.pl", Password: "tajne123"})
	assert.True(t, IsValidationError(err))

	_, err = svc.Register(ctx, RegisterInput{Name: "A", Surname: "B", Email: "not-an-email", Password: "tajne123"})
	assert.True(t, IsValidationError(err))

	_, err = svc.Register(ctx, RegisterInput{Name: "A", Surname: "B", Email: "a@b.pl", Password: "123"})
	assert.True(t, IsValidationError(err))
}

func TestUserService_Authenticate(t *testing.T) {
	_, svc := setupUserServiceTest(t)
	ctx := context.Background()
	user := registerUser(t, svc, "login@example.com")

	logged, err := svc.Authenticate(ctx, "LOGIN@example.com", "tajne123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, logged.ID)
	assert.NotNil(t, logged.LastLogin)

	_, err = svc.Authenticate(ctx, "login@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "nobody@example.com", "tajne123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	inactive := false
	admin := &auth.Principal{UserID: user.ID, Role: string(models.RoleAdmin)}
	_, err = svc.Update(ctx, user.ID, admin, UserUpdate{IsActive: &inactive})
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, "login@example.com", "tajne123")
	assert.ErrorIs(t, err, ErrInactiveAccount)
}

func TestUserService_UpdatePermissions(t *testing.T) {
	_, svc := setupUserServiceTest(t)
	ctx := context.Background()
	owner := registerUser(t, svc, "owner@example.com")
	other := registerUser(t, svc, "other@example.com")

	self := &auth.Principal{UserID: owner.ID, Role: string(models.RoleUser)}
	bio := "  Agent z Gdańska "
	promote := models.RoleAdmin
	updated, err := svc.Update(ctx, owner.ID, self, UserUpdate{Bio: &bio, Role: &promote})
	require.NoError(t, err)
	assert.Equal(t, "Agent z Gdańska", updated.Bio)
	assert.Equal(t, models.RoleUser, updated.Role, "role is ignored for non-admins")

	stranger := &auth.Principal{UserID: other.ID, Role: string(models.RoleUser)}
	_, err = svc.Update(ctx, owner.ID, stranger, UserUpdate{Bio: &bio})
	assert.ErrorIs(t, err, ErrForbidden)

	admin := &auth.Principal{UserID: other.ID, Role: string(models.RoleAdmin)}
	updated, err = svc.Update(ctx, owner.ID, admin, UserUpdate{Role: &promote})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, updated.Role)

	team, err := svc.ListTeam(ctx)
	require.NoError(t, err)
	require.Len(t, team, 1)
	assert.Equal(t, owner.ID, team[0].ID)
}

func TestUserService_ChangePassword(t *testing.T) {
	_, svc := setupUserServiceTest(t)
	ctx := context.Background()
	user := registerUser(t, svc, "pw@example.com")

	err := svc.ChangePassword(ctx, user.ID, "wrong", "nowehaslo")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	err = svc.ChangePassword(ctx, user.ID, "tajne123", "abc")
	assert.True(t, IsValidationError(err))

	require.NoError(t, svc.ChangePassword(ctx, user.ID, "tajne123", "nowehaslo"))
	_, err = svc.Authenticate(ctx, "pw@example.com", "nowehaslo")
	assert.NoError(t, err)
}

func TestUserService_ProfilePictureAndDelete(t *testing.T) {
	_, svc := setupUserServiceTest(t)
	ctx := context.Background()
	user := registerUser(t, svc, "pic@example.com")

	_, previous, err := svc.SetProfilePicture(ctx, user.ID, "uploads/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "", previous)

	updated, previous, err := svc.SetProfilePicture(ctx, user.ID, "uploads/b.jpg")
	require.NoError(t, err)
	assert.Equal(t, "uploads/a.jpg", previous)
	assert.Equal(t, "uploads/b.jpg", updated.ProfilePicture)

	deleted, err := svc.Delete(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "uploads/b.jpg", deleted.ProfilePicture)

	_, err = svc.FindByID(ctx, user.ID)
	assert.True(t, IsNotFound(err))
}

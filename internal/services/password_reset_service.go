package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Qrinee/m2backend/internal/config"
	"github.com/Qrinee/m2backend/internal/db"
	"github.com/Qrinee/m2backend/internal/models"
)

// IPasswordResetService manages single-use password reset links.
type IPasswordResetService interface {
	// RequestReset emails a reset link. Unknown or inactive addresses are silently ignored.
	RequestReset(ctx context.Context, email string) error
	// ResetPassword consumes a token and sets the new password.
	ResetPassword(ctx context.Context, token, newPassword string) error
}

const passwordResetsCollection = "passwordresets"

// passwordResetService implements IPasswordResetService.
type passwordResetService struct {
	db            *mongo.Database
	cfg           *config.Config
	userService   IUserService
	notifications INotificationService
	now           func() time.Time
}

// NewPasswordResetService creates a new PasswordResetService.
func NewPasswordResetService(db *mongo.Database, cfg *config.Config, userService IUserService, notifications INotificationService) IPasswordResetService {
	return &passwordResetService{
		db:            db,
		cfg:           cfg,
		userService:   userService,
		notifications: notifications,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *passwordResetService) RequestReset(ctx context.Context, email string) error {
	email = models.NormalizeEmail(email)
	if email == "" {
		return NewValidationError("Email jest wymagany")
	}

	user, err := s.userService.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil
		}
		return err
	}
	if !user.IsActive {
		return nil
	}

	action, err := s.createAction(ctx, user)
	if err != nil {
		return err
	}
	if err := s.notifications.SendPasswordReset(ctx, user, action.Token, action.ExpiresAt); err != nil {
		// The response must not reveal whether the address exists.
		log.Printf("Failed to send password reset email to %s: %v", user.Email, err)
	}
	return nil
}

func (s *passwordResetService) createAction(ctx context.Context, user *models.User) (*models.PasswordReset, error) {
	now := s.now()
	action := &models.PasswordReset{
		Base:      models.NewBase(),
		UserID:    user.ID,
		Type:      models.ActionPasswordReset,
		Token:     uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.PasswordResetTTL),
	}
	err := db.Try(func() error {
		_, insertErr := s.db.Collection(passwordResetsCollection).InsertOne(ctx, action)
		return insertErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create password reset for user %s: %w", user.ID.Hex(), err)
	}
	return action, nil
}

func (s *passwordResetService) ResetPassword(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" || newPassword == "" {
		return NewValidationError("Token i nowe hasło są wymagane")
	}
	if len([]rune(newPassword)) < s.cfg.MinPasswordLength {
		return NewValidationError(fmt.Sprintf("Nowe hasło musi mieć co najmniej %d znaków", s.cfg.MinPasswordLength))
	}

	now := s.now()
	filter := bson.M{
		"token":      token,
		"type":       models.ActionPasswordReset,
		"executedAt": bson.M{"$exists": false},
		"expiresAt":  bson.M{"$gt": now},
	}
	update := bson.M{"$set": bson.M{"executedAt": now}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var action models.PasswordReset
	err := s.db.Collection(passwordResetsCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&action)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("database error validating reset token: %w", err)
	}

	if err := s.userService.SetPassword(ctx, action.UserID, newPassword); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrInvalidResetToken
		}
		return err
	}
	log.Printf("Password reset for user %s", action.UserID.Hex())
	return nil
}

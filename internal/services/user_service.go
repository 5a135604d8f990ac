package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Qrinee/m2backend/internal/auth"
	"github.com/Qrinee/m2backend/internal/config"
	"github.com/Qrinee/m2backend/internal/db"
	"github.com/Qrinee/m2backend/internal/metrics"
	"github.com/Qrinee/m2backend/internal/models"
	"github.com/Qrinee/m2backend/internal/validation"
)

// IUserService defines the interface for user-related operations.
// This allows for easier mocking in tests.
type IUserService interface {
	Register(ctx context.Context, input RegisterInput) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	FindByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	ListTeam(ctx context.Context) ([]models.User, error)
	Update(ctx context.Context, userID primitive.ObjectID, caller *auth.Principal, input UserUpdate) (*models.User, error)
	SetProfilePicture(ctx context.Context, userID primitive.ObjectID, path string) (user *models.User, previous string, err error)
	ChangePassword(ctx context.Context, userID primitive.ObjectID, currentPassword, newPassword string) error
	SetPassword(ctx context.Context, userID primitive.ObjectID, newPassword string) error
	Delete(ctx context.Context, userID primitive.ObjectID) (*models.User, error)
}

const usersCollection = "users"

// RegisterInput is the body of a registration request.
type RegisterInput struct {
	Name     string `json:"name" validate:"notblank"`
	Surname  string `json:"surname" validate:"notblank"`
	Email    string `json:"email" validate:"notblank,simpleemail"`
	Password string `json:"password" validate:"required"`
	Phone    string `json:"phone"`
}

// UserUpdate carries optional profile changes. Role and IsActive are applied for admins only.
type UserUpdate struct {
	Name         *string      `json:"name"`
	Surname      *string      `json:"surname"`
	Phone        *string      `json:"phone"`
	Bio          *string      `json:"bio"`
	Position     *string      `json:"position"`
	ContactEmail *string      `json:"contactEmail"`
	Role         *models.Role `json:"role"`
	IsActive     *bool        `json:"isActive"`
}

// userService implements IUserService.
type userService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewUserService creates a new UserService.
func NewUserService(db *mongo.Database, cfg *config.Config) IUserService {
	return &userService{db: db, cfg: cfg}
}

func (s *userService) collection() *mongo.Collection {
	return s.db.Collection(usersCollection)
}

func (s *userService) checkPasswordLength(password, message string) error {
	if len([]rune(password)) < s.cfg.MinPasswordLength {
		return NewValidationError(fmt.Sprintf(message, s.cfg.MinPasswordLength))
	}
	return nil
}

// Register creates an active user with the default role.
func (s *userService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	if err := fromRequestValidation(validation.ValidateStruct(input)); err != nil {
		return nil, err
	}
	if err := s.checkPasswordLength(input.Password, "Hasło musi mieć co najmniej %d znaków"); err != nil {
		return nil, err
	}

	email := models.NormalizeEmail(input.Email)
	if _, err := s.FindByEmail(ctx, email); err == nil {
		return nil, ErrEmailExists
	} else if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	hash, err := auth.HashPasswordWithCost(input.Password, s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &models.User{
		Base:         models.NewBase(),
		Name:         strings.TrimSpace(input.Name),
		Surname:      strings.TrimSpace(input.Surname),
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleUser,
		IsActive:     true,
		Phone:        strings.TrimSpace(input.Phone),
	}
	user.Touch(now)

	err = db.Try(func() error {
		_, insertErr := s.collection().InsertOne(ctx, user)
		return insertErr
	})
	if err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("failed to insert user %s: %w", email, err)
	}
	log.Printf("Registered user %s (%s)", user.ID.Hex(), email)
	return user, nil
}

// Authenticate checks credentials and records the login time.
func (s *userService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.FindByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			metrics.RecordAuthAttempt(false)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		metrics.RecordAuthAttempt(false)
		return nil, ErrInactiveAccount
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		metrics.RecordAuthAttempt(false)
		return nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if _, err := s.collection().UpdateByID(ctx, user.ID, bson.M{"$set": bson.M{"lastLogin": now}}); err != nil {
		log.Printf("Failed to record last login of %s: %v", user.ID.Hex(), err)
	} else {
		user.LastLogin = &now
	}
	metrics.RecordAuthAttempt(true)
	return user, nil
}

// FindByID finds a user by ID.
// Returns nil and mongo.ErrNoDocuments if not found.
func (s *userService) FindByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	var user models.User
	err := s.collection().FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding user by ID %s: %w", userID.Hex(), err)
	}
	return &user, nil
}

// FindByEmail finds a user by their normalised email address.
// Returns nil and mongo.ErrNoDocuments if not found.
func (s *userService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.collection().FindOne(ctx, bson.M{"email": email}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding user by email %s: %w", email, err)
	}
	return &user, nil
}

// List returns every user, newest first.
func (s *userService) List(ctx context.Context) ([]models.User, error) {
	return s.find(ctx, bson.M{}, bson.D{{Key: "createdAt", Value: -1}})
}

// ListTeam returns the active admins shown on the public team page.
func (s *userService) ListTeam(ctx context.Context) ([]models.User, error) {
	filter := bson.M{"role": models.RoleAdmin, "isActive": true}
	return s.find(ctx, filter, bson.D{{Key: "createdAt", Value: 1}})
}

func (s *userService) find(ctx context.Context, filter bson.M, sortDoc bson.D) ([]models.User, error) {
	cursor, err := s.collection().Find(ctx, filter, options.Find().SetSort(sortDoc))
	if err != nil {
		return nil, fmt.Errorf("failed to find users: %w", err)
	}
	defer cursor.Close(ctx)

	users := []models.User{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	return users, nil
}

// Update applies profile changes. The caller must be the user or an admin.
func (s *userService) Update(ctx context.Context, userID primitive.ObjectID, caller *auth.Principal, input UserUpdate) (*models.User, error) {
	if !auth.CanManage(caller, userID) {
		return nil, ErrForbidden
	}

	set := bson.M{}
	setTrimmed := func(key string, v *string, required bool) error {
		if v == nil {
			return nil
		}
		trimmed := strings.TrimSpace(*v)
		if required && trimmed == "" {
			return NewValidationError(key + " nie może być puste")
		}
		set[key] = trimmed
		return nil
	}
	if err := setTrimmed("name", input.Name, true); err != nil {
		return nil, err
	}
	if err := setTrimmed("surname", input.Surname, true); err != nil {
		return nil, err
	}
	_ = setTrimmed("phone", input.Phone, false)
	_ = setTrimmed("bio", input.Bio, false)
	_ = setTrimmed("position", input.Position, false)
	if input.ContactEmail != nil {
		contact := models.NormalizeEmail(*input.ContactEmail)
		if contact != "" && !validation.IsEmail(contact) {
			return nil, NewValidationError("Nieprawidłowy format emaila kontaktowego")
		}
		set["contactEmail"] = contact
	}

	if caller.IsAdmin() {
		if input.Role != nil {
			if !input.Role.Valid() {
				return nil, NewValidationError(fmt.Sprintf("Nieprawidłowa rola: %s", *input.Role))
			}
			set["role"] = *input.Role
		}
		if input.IsActive != nil {
			set["isActive"] = *input.IsActive
		}
	}
	set["updatedAt"] = time.Now().UTC()

	return s.findOneAndSet(ctx, userID, set, options.After)
}

func (s *userService) findOneAndSet(ctx context.Context, userID primitive.ObjectID, set bson.M, returnDoc options.ReturnDocument) (*models.User, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(returnDoc)
	var user models.User
	err := s.collection().FindOneAndUpdate(ctx, bson.M{"_id": userID}, bson.M{"$set": set}, opts).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("failed to update user %s: %w", userID.Hex(), err)
	}
	return &user, nil
}

// SetProfilePicture stores a new picture path (or clears it with "") and returns the previous one.
func (s *userService) SetProfilePicture(ctx context.Context, userID primitive.ObjectID, path string) (*models.User, string, error) {
	now := time.Now().UTC()
	before, err := s.findOneAndSet(ctx, userID, bson.M{"profilePicture": path, "updatedAt": now}, options.Before)
	if err != nil {
		return nil, "", err
	}
	previous := before.ProfilePicture
	before.ProfilePicture = path
	before.UpdatedAt = now
	return before, previous, nil
}

// ChangePassword replaces the password after checking the current one.
func (s *userService) ChangePassword(ctx context.Context, userID primitive.ObjectID, currentPassword, newPassword string) error {
	if currentPassword == "" || newPassword == "" {
		return NewValidationError("Obecne hasło i nowe hasło są wymagane")
	}
	if err := s.checkPasswordLength(newPassword, "Nowe hasło musi mieć co najmniej %d znaków"); err != nil {
		return err
	}
	user, err := s.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !auth.CheckPasswordHash(currentPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}
	return s.storePassword(ctx, userID, newPassword)
}

// SetPassword replaces the password without checking the current one.
func (s *userService) SetPassword(ctx context.Context, userID primitive.ObjectID, newPassword string) error {
	if err := s.checkPasswordLength(newPassword, "Nowe hasło musi mieć co najmniej %d znaków"); err != nil {
		return err
	}
	return s.storePassword(ctx, userID, newPassword)
}

func (s *userService) storePassword(ctx context.Context, userID primitive.ObjectID, password string) error {
	hash, err := auth.HashPasswordWithCost(password, s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	result, err := s.collection().UpdateByID(ctx, userID, bson.M{"$set": bson.M{"password": hash, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("failed to store password of user %s: %w", userID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// Delete removes a user permanently. Their listings and reels are kept.
func (s *userService) Delete(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	var user models.User
	err := s.collection().FindOneAndDelete(ctx, bson.M{"_id": userID}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("failed to delete user %s: %w", userID.Hex(), err)
	}
	log.Printf("Deleted user %s (%s)", user.ID.Hex(), user.Email)
	return &user, nil
}

// loadOwners fetches the reduced owner view of every distinct user in ids.
// Unknown users are simply absent from the result.
func loadOwners(ctx context.Context, database *mongo.Database, ids []primitive.ObjectID) (map[primitive.ObjectID]*models.OwnerView, error) {
	owners := make(map[primitive.ObjectID]*models.OwnerView, len(ids))
	if len(ids) == 0 {
		return owners, nil
	}
	seen := make(map[primitive.ObjectID]bool, len(ids))
	unique := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if !id.IsZero() && !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	cursor, err := database.Collection(usersCollection).Find(ctx, bson.M{"_id": bson.M{"$in": unique}})
	if err != nil {
		return nil, fmt.Errorf("failed to load owners: %w", err)
	}
	defer cursor.Close(ctx)

	var users []models.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode owners: %w", err)
	}
	for i := range users {
		owner := users[i].Owner()
		owners[users[i].ID] = &owner
	}
	return owners, nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Qrinee/m2backend/internal/auth"
	"github.com/Qrinee/m2backend/internal/config"
	"github.com/Qrinee/m2backend/internal/db"
	"github.com/Qrinee/m2backend/internal/models"
	"github.com/Qrinee/m2backend/internal/storage"
	"github.com/Qrinee/m2backend/internal/utils"
)

// IReelService defines reel operations.
type IReelService interface {
	// List returns published reels, or every reel for admins.
	List(ctx context.Context, caller *auth.Principal, q ReelQuery) (*ReelResults, error)
	ListPublic(ctx context.Context, q ReelQuery) (*ReelResults, error)
	ListMine(ctx context.Context, caller *auth.Principal, q ReelQuery) (*ReelResults, error)
	Stats(ctx context.Context) (*ReelStats, error)
	Get(ctx context.Context, reelID primitive.ObjectID, caller *auth.Principal) (*models.ReelView, error)
	Create(ctx context.Context, caller *auth.Principal, input ReelInput, video storage.StoredFile) (*models.ReelView, error)
	// Update returns the replaced video path when a new video was given.
	Update(ctx context.Context, reelID primitive.ObjectID, caller *auth.Principal, input ReelInput, video *storage.StoredFile) (*models.ReelView, string, error)
	SetPublished(ctx context.Context, reelID primitive.ObjectID, caller *auth.Principal, published bool) (*models.ReelView, error)
	// Delete removes the reel and returns it so its video can be removed.
	Delete(ctx context.Context, reelID primitive.ObjectID, caller *auth.Principal) (*models.Reel, error)
}

const reelsCollection = "reels"

// ReelQuery holds list filters. Boolean filters are ignored unless set.
type ReelQuery struct {
	IsPublished string `form:"isPublished"`
	Featured    string `form:"featured"`
	Sort        string `form:"sort"`
	Page        string `form:"page"`
	Limit       string `form:"limit"`
}

// ReelInput is the editable part of a reel. Nil fields are left unchanged on update.
type ReelInput struct {
	Title       string  `form:"title" json:"title"`
	Description *string `form:"description" json:"description"`
	IsPublished *bool   `form:"isPublished" json:"isPublished"`
	Featured    *bool   `form:"featured" json:"featured"`
}

// ReelResults is one page of reels.
type ReelResults struct {
	Reels       []models.ReelView
	CurrentPage int
	TotalPages  int
	Total       int64
}

// PublishedBucket counts reels by published flag.
type PublishedBucket struct {
	Published bool  `bson:"_id" json:"_id"`
	Count     int64 `bson:"count" json:"count"`
}

// ReelStats summarises reels for admins.
type ReelStats struct {
	ByStatus      []PublishedBucket `json:"byStatus"`
	NewThisWeek   int64             `json:"newThisWeek"`
	FeaturedCount int64             `json:"featuredCount"`
	Total         int64             `json:"total"`
}

// reelService implements IReelService.
type reelService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewReelService creates a new ReelService.
func NewReelService(db *mongo.Database, cfg *config.Config) IReelService {
	return &reelService{db: db, cfg: cfg}
}

func (s *reelService) collection() *mongo.Collection {
	return s.db.Collection(reelsCollection)
}

func boolFilter(filter bson.M, field, raw string) {
	switch raw {
	case "true":
		filter[field] = true
	case "false":
		filter[field] = false
	}
}

func reelSort(key string) bson.D {
	if key == "featured" {
		return bson.D{{Key: "featured", Value: -1}, {Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}
	}
	return bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}
}

func (s *reelService) page(q ReelQuery) utils.Page {
	return utils.ParsePage(q.Page, q.Limit, s.cfg.DefaultReelLimit, s.cfg.MaxPageLimit)
}

func (s *reelService) List(ctx context.Context, caller *auth.Principal, q ReelQuery) (*ReelResults, error) {
	filter := bson.M{}
	if caller.IsAdmin() {
		boolFilter(filter, "isPublished", q.IsPublished)
		boolFilter(filter, "featured", q.Featured)
	} else {
		filter["isPublished"] = true
	}
	return s.find(ctx, filter, reelSort(q.Sort), s.page(q))
}

func (s *reelService) ListPublic(ctx context.Context, q ReelQuery) (*ReelResults, error) {
	filter := bson.M{"isPublished": true}
	if q.Featured == "true" {
		filter["featured"] = true
	}
	return s.find(ctx, filter, reelSort("featured"), s.page(q))
}

func (s *reelService) ListMine(ctx context.Context, caller *auth.Principal, q ReelQuery) (*ReelResults, error) {
	if caller == nil {
		return nil, ErrForbidden
	}
	filter := bson.M{"user": caller.UserID}
	boolFilter(filter, "isPublished", q.IsPublished)
	return s.find(ctx, filter, reelSort(""), s.page(q))
}

func (s *reelService) find(ctx context.Context, filter bson.M, sortDoc bson.D, page utils.Page) (*ReelResults, error) {
	collection := s.collection()

	total, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count reels: %w", err)
	}
	if page.PastEnd(total) {
		return &ReelResults{Reels: []models.ReelView{}, CurrentPage: page.Page, TotalPages: page.TotalPages(total), Total: total}, nil
	}
	opts := options.Find().SetSort(sortDoc).SetSkip(page.Skip()).SetLimit(int64(page.Limit))
	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find reels: %w", err)
	}
	defer cursor.Close(ctx)

	var reels []models.Reel
	if err := cursor.All(ctx, &reels); err != nil {
		return nil, fmt.Errorf("failed to decode reels: %w", err)
	}
	views, err := s.withOwners(ctx, reels)
	if err != nil {
		return nil, err
	}
	return &ReelResults{
		Reels:       views,
		CurrentPage: page.Page,
		TotalPages:  page.TotalPages(total),
		Total:       total,
	}, nil
}

func (s *reelService) withOwners(ctx context.Context, reels []models.Reel) ([]models.ReelView, error) {
	ids := make([]primitive.ObjectID, 0, len(reels))
	for _, r := range reels {
		ids = append(ids, r.User)
	}
	owners, err := loadOwners(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	views := make([]models.ReelView, len(reels))
	for i, r := range reels {
		views[i] = models.ReelView{Reel: r, Owner: owners[r.User]}
	}
	return views, nil
}

func (s *reelService) view(ctx context.Context, reel *models.Reel, caller *auth.Principal) (*models.ReelView, error) {
	views, err := s.withOwners(ctx, []models.Reel{*reel})
	if err != nil {
		return nil, err
	}
	v := views[0]
	canEdit := auth.CanManage(caller, reel.User)
	v.CanEdit = &canEdit
	return &v, nil
}

func (s *reelService) Stats(ctx context.Context) (*ReelStats, error) {
	collection := s.collection()
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$isPublished"}, {Key: "count", Value: bson.M{"$sum": 1}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: -1}}}},
	}
	cursor, err := collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to group reels: %w", err)
	}
	defer cursor.Close(ctx)

	stats := &ReelStats{ByStatus: []PublishedBucket{}}
	if err := cursor.All(ctx, &stats.ByStatus); err != nil {
		return nil, fmt.Errorf("failed to decode reel buckets: %w", err)
	}
	for _, b := range stats.ByStatus {
		stats.Total += b.Count
	}

	weekAgo := time.Now().UTC().AddDate(0, 0, -7)
	if stats.NewThisWeek, err = collection.CountDocuments(ctx, bson.M{"createdAt": bson.M{"$gte": weekAgo}}); err != nil {
		return nil, fmt.Errorf("failed to count recent reels: %w", err)
	}
	if stats.FeaturedCount, err = collection.CountDocuments(ctx, bson.M{"featured": true}); err != nil {
		return nil, fmt.Errorf("failed to count featured reels: %w", err)
	}
	return stats, nil
}

func (s *reelService) findByID(ctx context.Context, reelID primitive.ObjectID) (*models.Reel, error) {
	var reel models.Reel
	err := s.collection().FindOne(ctx, bson.M{"_id": reelID}).Decode(&reel)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding reel by ID %s: %w", reelID.Hex(), err)
	}
	return &reel, nil
}

func (s *reelService) findManageable(ctx context.Context, reelID primitive.ObjectID, caller *auth.Principal) (*models.Reel, error) {
	reel, err := s.findByID(ctx, reelID)
	if err != nil {
		return nil, err
	}
	if !auth.CanManage(caller, reel.User) {
		return nil, ErrForbidden
	}
	return reel, nil
}

// Get returns a reel. Unpublished reels look missing to everyone but their owner and admins.
func (s *reelService) Get(ctx context.Context, reelID primitive.ObjectID, caller *auth.Principal) (*models.ReelView, error) {
	reel, err := s.findByID(ctx, reelID)
	if err != nil {
		return nil, err
	}
	if !reel.IsPublished && !auth.CanManage(caller, reel.User) {
		return nil, mongo.ErrNoDocuments
	}
	return s.view(ctx, reel, caller)
}

func validateReelText(title string, description *string) error {
	if utf8.RuneCountInString(title) > models.ReelTitleMaxLen {
		return NewValidationError(fmt.Sprintf("Tytuł może mieć maksymalnie %d znaków", models.ReelTitleMaxLen))
	}
	if description != nil && utf8.RuneCountInString(*description) > models.ReelDescriptionMaxLen {
		return NewValidationError(fmt.Sprintf("Opis może mieć maksymalnie %d znaków", models.ReelDescriptionMaxLen))
	}
	return nil
}

func (s *reelService) Create(ctx context.Context, caller *auth.Principal, input ReelInput, video storage.StoredFile) (*models.ReelView, error) {
	if caller == nil {
		return nil, ErrForbidden
	}
	title := strings.TrimSpace(input.Title)
	if title == "" || video.Path == "" {
		return nil, NewValidationError("Brak wymaganych pól: tytuł i film wideo")
	}
	if err := validateReelText(title, input.Description); err != nil {
		return nil, err
	}

	reel := &models.Reel{
		Base:     models.NewBase(),
		User:     caller.UserID,
		Title:    title,
		VideoURL: video.Path,
		Duration: models.DefaultReelDuration,
	}
	if input.Description != nil {
		reel.Description = strings.TrimSpace(*input.Description)
	}
	if input.IsPublished != nil {
		reel.IsPublished = *input.IsPublished
	}
	if input.Featured != nil {
		reel.Featured = *input.Featured
	}
	reel.Touch(time.Now().UTC())

	err := db.Try(func() error {
		_, insertErr := s.collection().InsertOne(ctx, reel)
		return insertErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert reel: %w", err)
	}
	return s.view(ctx, reel, caller)
}

func (s *reelService) Update(ctx context.Context, reelID primitive.ObjectID, caller *auth.Principal, input ReelInput, video *storage.StoredFile) (*models.ReelView, string, error) {
	reel, err := s.findManageable(ctx, reelID, caller)
	if err != nil {
		return nil, "", err
	}
	title := strings.TrimSpace(input.Title)
	if err := validateReelText(title, input.Description); err != nil {
		return nil, "", err
	}

	set := bson.M{"updatedAt": time.Now().UTC()}
	if title != "" {
		set["title"] = title
	}
	if input.Description != nil {
		set["description"] = strings.TrimSpace(*input.Description)
	}
	if input.IsPublished != nil {
		set["isPublished"] = *input.IsPublished
	}
	if input.Featured != nil {
		set["featured"] = *input.Featured
	}
	previous := ""
	if video != nil && video.Path != "" {
		set["videoUrl"] = video.Path
		previous = reel.VideoURL
	}

	updated, err := s.update(ctx, reelID, set)
	if err != nil {
		return nil, "", err
	}
	v, err := s.view(ctx, updated, caller)
	if err != nil {
		return nil, "", err
	}
	return v, previous, nil
}

func (s *reelService) SetPublished(ctx context.Context, reelID primitive.ObjectID, caller *auth.Principal, published bool) (*models.ReelView, error) {
	if _, err := s.findManageable(ctx, reelID, caller); err != nil {
		return nil, err
	}
	updated, err := s.update(ctx, reelID, bson.M{"isPublished": published, "updatedAt": time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	return s.view(ctx, updated, caller)
}

func (s *reelService) update(ctx context.Context, reelID primitive.ObjectID, set bson.M) (*models.Reel, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var reel models.Reel
	err := s.collection().FindOneAndUpdate(ctx, bson.M{"_id": reelID}, bson.M{"$set": set}, opts).Decode(&reel)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("failed to update reel %s: %w", reelID.Hex(), err)
	}
	return &reel, nil
}

func (s *reelService) Delete(ctx context.Context, reelID primitive.ObjectID, caller *auth.Principal) (*models.Reel, error) {
	reel, err := s.findManageable(ctx, reelID, caller)
	if err != nil {
		return nil, err
	}
	result, err := s.collection().DeleteOne(ctx, bson.M{"_id": reelID})
	if err != nil {
		return nil, fmt.Errorf("failed to delete reel %s: %w", reelID.Hex(), err)
	}
	if result.DeletedCount == 0 {
		return nil, mongo.ErrNoDocuments
	}
	return reel, nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Qrinee/m2backend/internal/config"
	"github.com/Qrinee/m2backend/internal/db"
	"github.com/Qrinee/m2backend/internal/models"
	"github.com/Qrinee/m2backend/internal/utils"
)

// IBlogService defines blog post operations. Writes are admin-only and checked by the router.
type IBlogService interface {
	Search(ctx context.Context, q BlogQuery) (*BlogResults, error)
	Archive(ctx context.Context) ([]models.ArchiveBucket, error)
	Get(ctx context.Context, blogID primitive.ObjectID) (*models.Blog, error)
	Create(ctx context.Context, input BlogInput, imagePath string) (*models.Blog, error)
	// Update returns the replaced image path when a new image was given.
	Update(ctx context.Context, blogID primitive.ObjectID, input BlogInput, imagePath string) (*models.Blog, string, error)
	Delete(ctx context.Context, blogID primitive.ObjectID) (*models.Blog, error)
}

const blogsCollection = "blogs"

// BlogQuery holds list filters.
type BlogQuery struct {
	Search   string `form:"search"`
	DateFrom string `form:"dateFrom"`
	DateTo   string `form:"dateTo"`
	Sort     string `form:"sort"`
	Page     string `form:"page"`
	Limit    string `form:"limit"`
}

// BlogInput is what an admin submits. Empty fields are left unchanged on update.
type BlogInput struct {
	Title   string `form:"title" json:"title"`
	Content string `form:"content" json:"content"`
	Excerpt string `form:"excerpt" json:"excerpt"`
	Date    string `form:"date" json:"date"`
}

// BlogResults is one page of posts.
type BlogResults struct {
	Blogs       []models.Blog
	CurrentPage int
	TotalPages  int
	Total       int64
}

// blogService implements IBlogService.
type blogService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewBlogService creates a new BlogService.
func NewBlogService(db *mongo.Database, cfg *config.Config) IBlogService {
	return &blogService{db: db, cfg: cfg}
}

func (s *blogService) collection() *mongo.Collection {
	return s.db.Collection(blogsCollection)
}

var blogDateLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

// ParseBlogDate accepts RFC 3339 timestamps and plain dates.
func ParseBlogDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range blogDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, NewValidationError(fmt.Sprintf("Nieprawidłowa data: %s", raw))
}

// BuildBlogFilter composes the title search and date range filter.
func BuildBlogFilter(q BlogQuery) (bson.M, error) {
	filter := bson.M{}
	if search := strings.TrimSpace(q.Search); search != "" {
		filter["title"] = primitive.Regex{Pattern: regexp.QuoteMeta(search), Options: "i"}
	}
	dateRange := bson.M{}
	if q.DateFrom != "" {
		from, err := ParseBlogDate(q.DateFrom)
		if err != nil {
			return nil, err
		}
		dateRange["$gte"] = from
	}
	if q.DateTo != "" {
		to, err := ParseBlogDate(q.DateTo)
		if err != nil {
			return nil, err
		}
		dateRange["$lte"] = to
	}
	if len(dateRange) > 0 {
		filter["date"] = dateRange
	}
	return filter, nil
}

// BlogSort maps a sort key to a sort document. Unknown keys sort newest first.
func BlogSort(key string) bson.D {
	switch key {
	case "date-asc":
		return bson.D{{Key: "date", Value: 1}, {Key: "_id", Value: 1}}
	case "title-asc":
		return bson.D{{Key: "title", Value: 1}, {Key: "_id", Value: 1}}
	case "title-desc":
		return bson.D{{Key: "title", Value: -1}, {Key: "_id", Value: -1}}
	}
	return bson.D{{Key: "date", Value: -1}, {Key: "_id", Value: -1}}
}

func (s *blogService) Search(ctx context.Context, q BlogQuery) (*BlogResults, error) {
	filter, err := BuildBlogFilter(q)
	if err != nil {
		return nil, err
	}
	page := utils.ParsePage(q.Page, q.Limit, s.cfg.DefaultBlogLimit, s.cfg.MaxPageLimit)
	collection := s.collection()

	total, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count blogs: %w", err)
	}
	if page.PastEnd(total) {
		return &BlogResults{Blogs: []models.Blog{}, CurrentPage: page.Page, TotalPages: page.TotalPages(total), Total: total}, nil
	}
	opts := options.Find().SetSort(BlogSort(q.Sort)).SetSkip(page.Skip()).SetLimit(int64(page.Limit))
	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find blogs: %w", err)
	}
	defer cursor.Close(ctx)

	blogs := []models.Blog{}
	if err := cursor.All(ctx, &blogs); err != nil {
		return nil, fmt.Errorf("failed to decode blogs: %w", err)
	}
	return &BlogResults{
		Blogs:       blogs,
		CurrentPage: page.Page,
		TotalPages:  page.TotalPages(total),
		Total:       total,
	}, nil
}

// Archive counts posts per month, newest month first.
func (s *blogService) Archive(ctx context.Context) ([]models.ArchiveBucket, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				{Key: "year", Value: bson.M{"$year": "$date"}},
				{Key: "month", Value: bson.M{"$month": "$date"}},
			}},
			{Key: "count", Value: bson.M{"$sum": 1}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id.year", Value: -1}, {Key: "_id.month", Value: -1}}}},
		{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "year", Value: "$_id.year"},
			{Key: "month", Value: "$_id.month"},
			{Key: "count", Value: 1},
		}}},
	}
	cursor, err := s.collection().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate blog archive: %w", err)
	}
	defer cursor.Close(ctx)

	archive := []models.ArchiveBucket{}
	if err := cursor.All(ctx, &archive); err != nil {
		return nil, fmt.Errorf("failed to decode blog archive: %w", err)
	}
	return archive, nil
}

func (s *blogService) Get(ctx context.Context, blogID primitive.ObjectID) (*models.Blog, error) {
	var blog models.Blog
	err := s.collection().FindOne(ctx, bson.M{"_id": blogID}).Decode(&blog)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding blog by ID %s: %w", blogID.Hex(), err)
	}
	return &blog, nil
}

func (s *blogService) Create(ctx context.Context, input BlogInput, imagePath string) (*models.Blog, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, NewValidationError("Treść wpisu jest wymagana")
	}
	now := time.Now().UTC()
	date := now
	if input.Date != "" {
		parsed, err := ParseBlogDate(input.Date)
		if err != nil {
			return nil, err
		}
		date = parsed
	}

	blog := &models.Blog{
		Base:     models.NewBase(),
		Title:    strings.TrimSpace(input.Title),
		Text:     content,
		Excerpt:  strings.TrimSpace(input.Excerpt),
		ImageSrc: imagePath,
		Date:     date,
	}
	blog.Touch(now)

	err := db.Try(func() error {
		_, insertErr := s.collection().InsertOne(ctx, blog)
		return insertErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert blog: %w", err)
	}
	return blog, nil
}

func (s *blogService) Update(ctx context.Context, blogID primitive.ObjectID, input BlogInput, imagePath string) (*models.Blog, string, error) {
	existing, err := s.Get(ctx, blogID)
	if err != nil {
		return nil, "", err
	}

	set := bson.M{"updatedAt": time.Now().UTC()}
	if v := strings.TrimSpace(input.Title); v != "" {
		set["title"] = v
	}
	if v := strings.TrimSpace(input.Content); v != "" {
		set["text"] = v
	}
	if v := strings.TrimSpace(input.Excerpt); v != "" {
		set["excerpt"] = v
	}
	if input.Date != "" {
		date, err := ParseBlogDate(input.Date)
		if err != nil {
			return nil, "", err
		}
		set["date"] = date
	}
	previous := ""
	if imagePath != "" {
		set["imageSrc"] = imagePath
		previous = existing.ImageSrc
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var blog models.Blog
	err = s.collection().FindOneAndUpdate(ctx, bson.M{"_id": blogID}, bson.M{"$set": set}, opts).Decode(&blog)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, "", mongo.ErrNoDocuments
		}
		return nil, "", fmt.Errorf("failed to update blog %s: %w", blogID.Hex(), err)
	}
	return &blog, previous, nil
}

func (s *blogService) Delete(ctx context.Context, blogID primitive.ObjectID) (*models.Blog, error) {
	var blog models.Blog
	err := s.collection().FindOneAndDelete(ctx, bson.M{"_id": blogID}).Decode(&blog)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("failed to delete blog %s: %w", blogID.Hex(), err)
	}
	return &blog, nil
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

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

// IListingService defines the interface for listing-related operations.
type IListingService interface {
	Search(ctx context.Context, q ListingQuery, caller *auth.Principal) (*ListingResults, error)
	AdminSearch(ctx context.Context, q ListingQuery) (*ListingResults, error)
	Facets(ctx context.Context) (*ListingFacets, error)
	Popular(ctx context.Context, limit int) ([]PopularSearch, error)
	ListByOwner(ctx context.Context, ownerID primitive.ObjectID, page utils.Page) (*ListingResults, error)
	GetByID(ctx context.Context, listingID primitive.ObjectID, caller *auth.Principal) (*models.ListingView, error)
	FindActiveByID(ctx context.Context, listingID primitive.ObjectID) (*models.Listing, error)
	Create(ctx context.Context, caller *auth.Principal, input ListingInput, files []storage.StoredFile) (*models.ListingView, error)
	Update(ctx context.Context, listingID primitive.ObjectID, caller *auth.Principal, input ListingInput) (*models.ListingView, error)
	Delete(ctx context.Context, listingID primitive.ObjectID, caller *auth.Principal) (*models.Listing, error)
	SetCover(ctx context.Context, listingID primitive.ObjectID, caller *auth.Principal, fileID primitive.ObjectID) (*models.ListingView, error)
	SetActive(ctx context.Context, listingID primitive.ObjectID, active bool) (*models.Listing, error)
	Stats(ctx context.Context) (*ListingStats, error)
	RecordFileSize(ctx context.Context, path string, size int64) error
}

const listingsCollection = "properties"

// LooseString decodes from a JSON string or number. Prices arrive as either.
type LooseString string

func (s *LooseString) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = LooseString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected a string or a number")
	}
	*s = LooseString(n.String())
	return nil
}

// ListingDescription carries the descriptive fields of a listing ("opis").
// Nil fields are left unchanged on update.
type ListingDescription struct {
	Name        *string      `json:"name"`
	Description *string      `json:"description"`
	Price       *LooseString `json:"price"`
	Category    *string      `json:"category"`
	Status      *string      `json:"status"`
}

// ListingInput is the writable part of a listing as sent by the client.
type ListingInput struct {
	Opis        ListingDescription      `json:"opis"`
	Lokalizacja *models.ListingLocation `json:"lokalizacja"`
	Szczegoly   *models.ListingDetails  `json:"szczegoly"`
}

// ListingResults is one page of listings.
type ListingResults struct {
	Listings    []models.ListingView
	CurrentPage int
	TotalPages  int
	Total       int64
}

// NumberRange is a min/max pair. Both are zero when no listing carries the value.
type NumberRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ListingFacets lists the values present among active listings.
type ListingFacets struct {
	Categories []string    `json:"kategorie"`
	Regions    []string    `json:"wojewodztwa"`
	Cities     []string    `json:"miasta"`
	Statuses   []string    `json:"statusy"`
	Rooms      []int       `json:"pokoje"`
	Price      NumberRange `json:"cena"`
	Area       NumberRange `json:"powierzchnia"`
}

// PopularSearch is a frequent city or category among active listings.
type PopularSearch struct {
	Term  string `json:"term"`
	Kind  string `json:"type"`
	Count int64  `json:"count"`
}

// CountBucket is a count grouped by one field value.
type CountBucket struct {
	Value string `bson:"_id" json:"value"`
	Count int64  `bson:"count" json:"count"`
}

// ListingStats summarises the listing collection for admins.
type ListingStats struct {
	Total       int64         `json:"total"`
	Active      int64         `json:"active"`
	Inactive    int64         `json:"inactive"`
	ByCategory  []CountBucket `json:"byCategory"`
	ByStatus    []CountBucket `json:"byStatus"`
	CreatedLast int64         `json:"createdLast7Days"`
}

// listingService implements IListingService.
type listingService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewListingService creates a new ListingService.
func NewListingService(db *mongo.Database, cfg *config.Config) IListingService {
	return &listingService{db: db, cfg: cfg}
}

func (s *listingService) collection() *mongo.Collection {
	return s.db.Collection(listingsCollection)
}

// Search runs the public listing query.
func (s *listingService) Search(ctx context.Context, q ListingQuery, caller *auth.Principal) (*ListingResults, error) {
	return s.find(ctx, BuildListingFilter(q, caller), ListingSort(q.Sort), ListingPage(q, s.cfg))
}

// AdminSearch lists every listing, active or not.
func (s *listingService) AdminSearch(ctx context.Context, q ListingQuery) (*ListingResults, error) {
	return s.find(ctx, BuildAdminListingFilter(q), ListingSort(q.Sort), ListingPage(q, s.cfg))
}

// ListByOwner lists the active listings of one user, newest first.
func (s *listingService) ListByOwner(ctx context.Context, ownerID primitive.ObjectID, page utils.Page) (*ListingResults, error) {
	filter := bson.M{"user": ownerID, "isActive": true}
	return s.find(ctx, filter, ListingSort(""), page)
}

func (s *listingService) find(ctx context.Context, filter bson.M, sortDoc bson.D, page utils.Page) (*ListingResults, error) {
	collection := s.collection()

	total, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count listings: %w", err)
	}
	if page.PastEnd(total) {
		return &ListingResults{Listings: []models.ListingView{}, CurrentPage: page.Page, TotalPages: page.TotalPages(total), Total: total}, nil
	}

	opts := options.Find().SetSort(sortDoc).SetSkip(page.Skip()).SetLimit(int64(page.Limit))
	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find listings: %w", err)
	}
	defer cursor.Close(ctx)

	var listings []models.Listing
	if err := cursor.All(ctx, &listings); err != nil {
		return nil, fmt.Errorf("failed to decode listings: %w", err)
	}

	views, err := s.withOwners(ctx, listings)
	if err != nil {
		return nil, err
	}
	return &ListingResults{
		Listings:    views,
		CurrentPage: page.Page,
		TotalPages:  page.TotalPages(total),
		Total:       total,
	}, nil
}

func (s *listingService) withOwners(ctx context.Context, listings []models.Listing) ([]models.ListingView, error) {
	ids := make([]primitive.ObjectID, 0, len(listings))
	for _, l := range listings {
		ids = append(ids, l.User)
	}
	owners, err := loadOwners(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	views := make([]models.ListingView, len(listings))
	for i, l := range listings {
		views[i] = models.ListingView{Listing: l, Owner: owners[l.User]}
	}
	return views, nil
}

func (s *listingService) view(ctx context.Context, listing *models.Listing, caller *auth.Principal) (*models.ListingView, error) {
	views, err := s.withOwners(ctx, []models.Listing{*listing})
	if err != nil {
		return nil, err
	}
	v := views[0]
	if caller != nil {
		isOwner := auth.CanManage(caller, listing.User)
		v.IsOwner = &isOwner
	}
	return &v, nil
}

// Facets returns the filter options present among active listings.
func (s *listingService) Facets(ctx context.Context) (*ListingFacets, error) {
	collection := s.collection()
	active := bson.M{"isActive": true}

	facets := &ListingFacets{}
	var err error
	if facets.Categories, err = s.distinctStrings(ctx, "category", active); err != nil {
		return nil, err
	}
	if facets.Regions, err = s.distinctStrings(ctx, "location.region", active); err != nil {
		return nil, err
	}
	if facets.Cities, err = s.distinctStrings(ctx, "location.city", active); err != nil {
		return nil, err
	}
	if facets.Statuses, err = s.distinctStrings(ctx, "status", active); err != nil {
		return nil, err
	}

	rawRooms, err := collection.Distinct(ctx, "details.rooms", active)
	if err != nil {
		return nil, fmt.Errorf("failed to list room counts: %w", err)
	}
	facets.Rooms = []int{}
	for _, v := range rawRooms {
		switch n := v.(type) {
		case int32:
			facets.Rooms = append(facets.Rooms, int(n))
		case int64:
			facets.Rooms = append(facets.Rooms, int(n))
		case float64:
			facets.Rooms = append(facets.Rooms, int(n))
		}
	}
	sort.Ints(facets.Rooms)

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: active}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "priceMin", Value: bson.M{"$min": bson.M{"$cond": bson.A{bson.M{"$gt": bson.A{"$priceNum", 0}}, "$priceNum", nil}}}},
			{Key: "priceMax", Value: bson.M{"$max": bson.M{"$cond": bson.A{bson.M{"$gt": bson.A{"$priceNum", 0}}, "$priceNum", nil}}}},
			{Key: "areaMin", Value: bson.M{"$min": "$details.areaM2"}},
			{Key: "areaMax", Value: bson.M{"$max": "$details.areaM2"}},
		}}},
	}
	cursor, err := collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate listing ranges: %w", err)
	}
	defer cursor.Close(ctx)

	var ranges []struct {
		PriceMin *float64 `bson:"priceMin"`
		PriceMax *float64 `bson:"priceMax"`
		AreaMin  *float64 `bson:"areaMin"`
		AreaMax  *float64 `bson:"areaMax"`
	}
	if err := cursor.All(ctx, &ranges); err != nil {
		return nil, fmt.Errorf("failed to decode listing ranges: %w", err)
	}
	if len(ranges) > 0 {
		r := ranges[0]
		facets.Price = NumberRange{Min: deref(r.PriceMin), Max: deref(r.PriceMax)}
		facets.Area = NumberRange{Min: deref(r.AreaMin), Max: deref(r.AreaMax)}
	}
	return facets, nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func (s *listingService) distinctStrings(ctx context.Context, field string, filter bson.M) ([]string, error) {
	raw, err := s.collection().Distinct(ctx, field, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list distinct %s: %w", field, err)
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if str, ok := v.(string); ok && strings.TrimSpace(str) != "" {
			out = append(out, str)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Popular returns the most common cities and categories among active listings.
func (s *listingService) Popular(ctx context.Context, limit int) ([]PopularSearch, error) {
	if limit <= 0 {
		limit = 5
	}
	out := []PopularSearch{}
	for _, facet := range []struct{ field, kind string }{
		{"location.city", "miasto"},
		{"category", "kategoria"},
	} {
		buckets, err := s.countBy(ctx, bson.M{"isActive": true, facet.field: bson.M{"$nin": bson.A{"", nil}}}, facet.field, limit)
		if err != nil {
			return nil, err
		}
		for _, b := range buckets {
			out = append(out, PopularSearch{Term: b.Value, Kind: facet.kind, Count: b.Count})
		}
	}
	return out, nil
}

// countBy groups matching listings by field, most frequent first.
func (s *listingService) countBy(ctx context.Context, match bson.M, field string, limit int) ([]CountBucket, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$" + field}, {Key: "count", Value: bson.M{"$sum": 1}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}
	cursor, err := s.collection().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to group listings by %s: %w", field, err)
	}
	defer cursor.Close(ctx)

	buckets := []CountBucket{}
	if err := cursor.All(ctx, &buckets); err != nil {
		return nil, fmt.Errorf("failed to decode %s buckets: %w", field, err)
	}
	return buckets, nil
}

// GetByID returns a listing with its owner. Inactive listings are only visible to their owner or an admin.
func (s *listingService) GetByID(ctx context.Context, listingID primitive.ObjectID, caller *auth.Principal) (*models.ListingView, error) {
	listing, err := s.findByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !listing.IsActive && !auth.CanManage(caller, listing.User) {
		return nil, mongo.ErrNoDocuments
	}
	return s.view(ctx, listing, caller)
}

// FindActiveByID finds an active listing. It does NOT check ownership.
func (s *listingService) FindActiveByID(ctx context.Context, listingID primitive.ObjectID) (*models.Listing, error) {
	var listing models.Listing
	err := s.collection().FindOne(ctx, bson.M{"_id": listingID, "isActive": true}).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding listing by ID %s: %w", listingID.Hex(), err)
	}
	return &listing, nil
}

func (s *listingService) findByID(ctx context.Context, listingID primitive.ObjectID) (*models.Listing, error) {
	var listing models.Listing
	err := s.collection().FindOne(ctx, bson.M{"_id": listingID}).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding listing by ID %s: %w", listingID.Hex(), err)
	}
	return &listing, nil
}

// findManageable loads a listing and checks the caller may modify it.
func (s *listingService) findManageable(ctx context.Context, listingID primitive.ObjectID, caller *auth.Principal) (*models.Listing, error) {
	listing, err := s.findByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !auth.CanManage(caller, listing.User) {
		return nil, ErrForbidden
	}
	return listing, nil
}

// Create stores a new active listing owned by the caller. The first file becomes the cover.
func (s *listingService) Create(ctx context.Context, caller *auth.Principal, input ListingInput, files []storage.StoredFile) (*models.ListingView, error) {
	if caller == nil {
		return nil, ErrForbidden
	}
	if input.Opis.Name == nil || strings.TrimSpace(*input.Opis.Name) == "" {
		return nil, NewValidationError("Nazwa nieruchomości jest wymagana")
	}

	now := time.Now().UTC()
	listing := &models.Listing{
		Base:     models.NewBase(),
		User:     caller.UserID,
		Files:    make([]models.MediaFile, 0, len(files)),
		IsActive: true,
	}
	applyListingInput(listing, input)
	for i, f := range files {
		listing.Files = append(listing.Files, models.MediaFile{
			ID:           primitive.NewObjectID(),
			Filename:     f.Filename,
			OriginalName: f.OriginalName,
			Path:         f.Path,
			Mimetype:     f.Mimetype,
			Size:         f.Size,
			IsCover:      i == 0,
			UploadDate:   now,
		})
	}
	listing.Touch(now)

	err := db.Try(func() error {
		_, insertErr := s.collection().InsertOne(ctx, listing)
		return insertErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert listing for user %s: %w", caller.UserID.Hex(), err)
	}
	log.Printf("Listing %s created by %s with %d files", listing.ID.Hex(), caller.UserID.Hex(), len(listing.Files))
	return s.view(ctx, listing, caller)
}

func applyListingInput(l *models.Listing, input ListingInput) {
	if v := input.Opis.Name; v != nil {
		l.Name = strings.TrimSpace(*v)
	}
	if v := input.Opis.Description; v != nil {
		l.Description = *v
	}
	if v := input.Opis.Price; v != nil {
		l.SetPrice(string(*v))
	}
	if v := input.Opis.Category; v != nil {
		l.Category = *v
	}
	if v := input.Opis.Status; v != nil {
		l.Status = *v
	}
	if input.Lokalizacja != nil {
		l.Location = *input.Lokalizacja
	}
	if input.Szczegoly != nil {
		l.Details = *input.Szczegoly
	}
}

// Update changes the descriptive fields of a listing owned by the caller (or any listing for admins).
// Owner, files and the active flag are not touched.
func (s *listingService) Update(ctx context.Context, listingID primitive.ObjectID, caller *auth.Principal, input ListingInput) (*models.ListingView, error) {
	listing, err := s.findManageable(ctx, listingID, caller)
	if err != nil {
		return nil, err
	}
	if input.Opis.Name != nil && strings.TrimSpace(*input.Opis.Name) == "" {
		return nil, NewValidationError("Nazwa nieruchomości jest wymagana")
	}
	applyListingInput(listing, input)

	set := bson.M{
		"name":        listing.Name,
		"description": listing.Description,
		"price":       listing.Price,
		"priceNum":    listing.PriceNum,
		"category":    listing.Category,
		"status":      listing.Status,
		"location":    listing.Location,
		"details":     listing.Details,
		"updatedAt":   time.Now().UTC(),
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.Listing
	err = s.collection().FindOneAndUpdate(ctx, bson.M{"_id": listingID}, bson.M{"$set": set}, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("failed to update listing %s: %w", listingID.Hex(), err)
	}
	return s.view(ctx, &updated, caller)
}

// Delete deactivates a listing. Its files stay on disk.
func (s *listingService) Delete(ctx context.Context, listingID primitive.ObjectID, caller *auth.Principal) (*models.Listing, error) {
	if _, err := s.findManageable(ctx, listingID, caller); err != nil {
		return nil, err
	}
	return s.SetActive(ctx, listingID, false)
}

// SetActive forces the active flag of a listing.
// RecordFileSize stores the size of every listing file kept at path, after the
// media worker has rewritten it.
func (s *listingService) RecordFileSize(ctx context.Context, path string, size int64) error {
	opts := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{bson.M{"f.path": path}},
	})
	_, err := s.collection().UpdateMany(ctx,
		bson.M{"files.path": path},
		bson.M{"$set": bson.M{"files.$[f].size": size}},
		opts,
	)
	if err != nil {
		return fmt.Errorf("failed to record size of %s: %w", path, err)
	}
	return nil
}

func (s *listingService) SetActive(ctx context.Context, listingID primitive.ObjectID, active bool) (*models.Listing, error) {
	update := bson.M{"$set": bson.M{"isActive": active, "updatedAt": time.Now().UTC()}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.Listing
	err := s.collection().FindOneAndUpdate(ctx, bson.M{"_id": listingID}, update, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("failed to set active=%t on listing %s: %w", active, listingID.Hex(), err)
	}
	return &updated, nil
}

// SetCover marks one file as the cover and clears the flag on all others in a single update.
func (s *listingService) SetCover(ctx context.Context, listingID primitive.ObjectID, caller *auth.Principal, fileID primitive.ObjectID) (*models.ListingView, error) {
	if _, err := s.findManageable(ctx, listingID, caller); err != nil {
		return nil, err
	}

	filter := bson.M{"_id": listingID, "files._id": fileID}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "files", Value: bson.M{"$map": bson.D{
				{Key: "input", Value: "$files"},
				{Key: "as", Value: "f"},
				{Key: "in", Value: bson.M{"$mergeObjects": bson.A{
					"$$f",
					bson.M{"isCover": bson.M{"$eq": bson.A{"$$f._id", fileID}}},
				}}},
			}}},
			{Key: "updatedAt", Value: time.Now().UTC()},
		}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.Listing
	err := s.collection().FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("failed to set cover of listing %s: %w", listingID.Hex(), err)
	}
	return s.view(ctx, &updated, caller)
}

// Stats summarises listings for the admin dashboard.
func (s *listingService) Stats(ctx context.Context) (*ListingStats, error) {
	collection := s.collection()
	stats := &ListingStats{}
	var err error

	if stats.Total, err = collection.CountDocuments(ctx, bson.M{}); err != nil {
		return nil, fmt.Errorf("failed to count listings: %w", err)
	}
	if stats.Active, err = collection.CountDocuments(ctx, bson.M{"isActive": true}); err != nil {
		return nil, fmt.Errorf("failed to count active listings: %w", err)
	}
	stats.Inactive = stats.Total - stats.Active

	weekAgo := time.Now().UTC().AddDate(0, 0, -7)
	if stats.CreatedLast, err = collection.CountDocuments(ctx, bson.M{"createdAt": bson.M{"$gte": weekAgo}}); err != nil {
		return nil, fmt.Errorf("failed to count recent listings: %w", err)
	}
	if stats.ByCategory, err = s.countBy(ctx, bson.M{}, "category", 0); err != nil {
		return nil, err
	}
	if stats.ByStatus, err = s.countBy(ctx, bson.M{}, "status", 0); err != nil {
		return nil, err
	}
	return stats, nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Qrinee/m2backend/internal/config"
	"github.com/Qrinee/m2backend/internal/db"
	"github.com/Qrinee/m2backend/internal/metrics"
	"github.com/Qrinee/m2backend/internal/models"
	"github.com/Qrinee/m2backend/internal/utils"
	"github.com/Qrinee/m2backend/internal/validation"
)

// IInquiryService defines intake and triage of inquiries.
type IInquiryService interface {
	Submit(ctx context.Context, formType models.FormType, form InquiryForm, meta SubmissionMeta) (*SubmissionResult, error)
	Search(ctx context.Context, q InquiryQuery) (*InquiryResults, error)
	Get(ctx context.Context, inquiryID primitive.ObjectID) (*models.Inquiry, error)
	Delete(ctx context.Context, inquiryID primitive.ObjectID) error
	Stats(ctx context.Context) (*InquiryStats, error)

	Update(ctx context.Context, inquiryID primitive.ObjectID, status *models.InquiryStatus, note, actor string) (*models.Inquiry, error)
	SetStatus(ctx context.Context, inquiryID primitive.ObjectID, status models.InquiryStatus, note, actor string) (*models.Inquiry, error)
	MarkContacted(ctx context.Context, inquiryID primitive.ObjectID, note, actor string) (*models.Inquiry, error)
	SetPriority(ctx context.Context, inquiryID primitive.ObjectID, priority models.Priority, actor string) (*models.Inquiry, error)
	Assign(ctx context.Context, inquiryID, userID primitive.ObjectID, actor string) (*models.Inquiry, error)
	AddTags(ctx context.Context, inquiryID primitive.ObjectID, tags []string, actor string) (*models.Inquiry, error)
	AddNote(ctx context.Context, inquiryID primitive.ObjectID, text, actor string) (*models.Inquiry, error)
	// MarkDispatchFailed closes an inquiry whose notification could not be delivered.
	MarkDispatchFailed(ctx context.Context, inquiryID primitive.ObjectID, cause error) (*models.Inquiry, error)
}

const inquiriesCollection = "formsubmissions"

// systemAuthor signs notes written by the service itself.
const systemAuthor = "system"

// InquiryForm is the union of fields accepted by the public forms.
// Which of them are required depends on the form type.
type InquiryForm struct {
	Name    string `json:"name" form:"name" validate:"notblank"`
	Email   string `json:"email" form:"email" validate:"notblank,simpleemail"`
	Phone   string `json:"phone" form:"phone"`
	Message string `json:"message" form:"message"`
	GDPR    bool   `json:"gdpr" form:"gdpr"`

	PropertyID string `json:"propertyId" form:"propertyId"`

	PropertyPrice   LooseString `json:"propertyPrice" form:"propertyPrice"`
	OwnContribution LooseString `json:"ownContribution" form:"ownContribution"`
	LoanTerm        LooseString `json:"loanTerm" form:"loanTerm"`
	MonthlyPayment  LooseString `json:"monthlyPayment" form:"monthlyPayment"`
	InterestRate    LooseString `json:"interestRate" form:"interestRate"`

	// CVFile is the stored path of the uploaded CV, set by the handler.
	CVFile string `json:"-" form:"-"`
}

// SubmissionMeta is captured from the request that carried the form.
type SubmissionMeta struct {
	IPAddress string
	UserAgent string
}

// SubmissionResult is a persisted inquiry plus the outcome of notifying about it.
type SubmissionResult struct {
	Inquiry  *models.Inquiry
	Notified bool
	Queued   bool
}

// InquiryQuery filters the admin inquiry list.
type InquiryQuery struct {
	Search     string `form:"search"`
	Type       string `form:"type"`
	Status     string `form:"status"`
	Priority   string `form:"priority"`
	AssignedTo string `form:"assignedTo"`
	Tag        string `form:"tag"`
	Page       string `form:"page"`
	Limit      string `form:"limit"`
}

// InquiryResults is one page of inquiries.
type InquiryResults struct {
	Inquiries   []models.Inquiry
	CurrentPage int
	TotalPages  int
	Total       int64
}

// InquiryStats counts inquiries by status and by form type.
type InquiryStats struct {
	Total    int64         `json:"total"`
	ByStatus []CountBucket `json:"byStatus"`
	ByType   []CountBucket `json:"byType"`
}

// inquiryService implements IInquiryService.
type inquiryService struct {
	db            *mongo.Database
	cfg           *config.Config
	listings      IListingService
	users         IUserService
	notifications INotificationService
}

// NewInquiryService creates a new InquiryService.
func NewInquiryService(db *mongo.Database, cfg *config.Config, listings IListingService, users IUserService, notifications INotificationService) IInquiryService {
	return &inquiryService{db: db, cfg: cfg, listings: listings, users: users, notifications: notifications}
}

func (s *inquiryService) collection() *mongo.Collection {
	return s.db.Collection(inquiriesCollection)
}

// Submit validates a form, persists it as a new inquiry and notifies about it.
// A failed notification does not undo the submission; the inquiry is closed with a note instead.
func (s *inquiryService) Submit(ctx context.Context, formType models.FormType, form InquiryForm, meta SubmissionMeta) (*SubmissionResult, error) {
	if !formType.Valid() {
		return nil, NewValidationError(fmt.Sprintf("Nieznany typ formularza: %s", formType))
	}
	if err := fromRequestValidation(validation.ValidateStruct(form)); err != nil {
		return nil, err
	}
	payload, err := s.buildPayload(ctx, formType, form)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	inquiry := &models.Inquiry{
		Base:          models.NewBase(),
		FormType:      formType,
		Name:          strings.TrimSpace(form.Name),
		Email:         models.NormalizeEmail(form.Email),
		Phone:         strings.TrimSpace(form.Phone),
		Payload:       payload,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		Status:        models.InquiryStatusNew,
		Tags:          []string{},
		InternalNotes: []models.InternalNote{},
	}
	inquiry.Touch(now)

	err = db.Try(func() error {
		_, insertErr := s.collection().InsertOne(ctx, inquiry)
		return insertErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert %s from %s: %w", formType, inquiry.Email, err)
	}
	metrics.RecordInquiry(string(formType))

	result := &SubmissionResult{Inquiry: inquiry}
	queued, notifyErr := s.notifications.NotifyInquiry(ctx, inquiry)
	if notifyErr != nil {
		log.Printf("Notification for inquiry %s failed: %v", inquiry.ID.Hex(), notifyErr)
		closed, markErr := s.MarkDispatchFailed(ctx, inquiry.ID, notifyErr)
		if markErr != nil {
			log.Printf("Failed to close inquiry %s after notification failure: %v", inquiry.ID.Hex(), markErr)
		} else {
			result.Inquiry = closed
		}
		return result, nil
	}
	result.Notified = !queued
	result.Queued = queued
	return result, nil
}

// buildPayload checks the type-specific required fields and builds the payload.
func (s *inquiryService) buildPayload(ctx context.Context, formType models.FormType, form InquiryForm) (models.InquiryPayload, error) {
	message := strings.TrimSpace(form.Message)

	switch formType {
	case models.FormTypeProperty:
		propertyID, err := primitive.ObjectIDFromHex(strings.TrimSpace(form.PropertyID))
		if err != nil {
			return nil, NewValidationError("Nieprawidłowe ID nieruchomości")
		}
		listing, err := s.listings.FindActiveByID(ctx, propertyID)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, NewValidationError("Nieruchomość nie została znaleziona")
			}
			return nil, err
		}
		return &models.PropertyInquiry{
			PropertyID:       listing.ID,
			PropertyName:     listing.Name,
			PropertyPrice:    listing.Price,
			PropertyLocation: joinNonEmpty(", ", listing.Location.City, listing.Location.Region),
			Message:          message,
		}, nil

	case models.FormTypeLoan:
		if strings.TrimSpace(string(form.PropertyPrice)) == "" {
			return nil, NewValidationError("Wymagane pola: name, email, propertyPrice")
		}
		return &models.LoanInquiry{
			PropertyPrice:   strings.TrimSpace(string(form.PropertyPrice)),
			OwnContribution: strings.TrimSpace(string(form.OwnContribution)),
			LoanTerm:        strings.TrimSpace(string(form.LoanTerm)),
			MonthlyPayment:  strings.TrimSpace(string(form.MonthlyPayment)),
			InterestRate:    strings.TrimSpace(string(form.InterestRate)),
		}, nil

	case models.FormTypeContact:
		if message == "" {
			return nil, NewValidationError("Wymagane pola: name, email, message")
		}
		if !form.GDPR {
			return nil, NewValidationError("Wymagana zgoda GDPR")
		}
		return &models.ContactInquiry{Message: message, GdprAccepted: true}, nil

	case models.FormTypePropertySubmission:
		return &models.PropertySubmission{Message: message}, nil

	case models.FormTypePartner:
		if message == "" {
			return nil, NewValidationError("Wymagane pola: name, email, message")
		}
		return &models.PartnerInquiry{Message: message}, nil

	case models.FormTypeEmployee:
		if message == "" || form.CVFile == "" {
			return nil, NewValidationError("Wymagane pola: name, email, message, CV")
		}
		return &models.EmployeeInquiry{Message: message, CVFile: form.CVFile}, nil
	}
	return nil, NewValidationError(fmt.Sprintf("Nieznany typ formularza: %s", formType))
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

// inquiryMessagePaths are the payload fields matched by free-text search.
var inquiryMessagePaths = []string{
	"propertyInquiry.message",
	"contactInquiry.message",
	"propertySubmission.message",
	"partnerInquiry.message",
	"employeeInquiry.message",
}

// BuildInquiryFilter composes the admin inquiry filter.
func BuildInquiryFilter(q InquiryQuery) (bson.M, error) {
	filter := bson.M{}
	if search := strings.TrimSpace(q.Search); search != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(search), Options: "i"}
		or := bson.A{bson.M{"name": re}, bson.M{"email": re}, bson.M{"phone": re}}
		for _, path := range inquiryMessagePaths {
			or = append(or, bson.M{path: re})
		}
		filter["$or"] = or
	}
	if v := strings.TrimSpace(q.Type); v != "" {
		if !models.FormType(v).Valid() {
			return nil, NewValidationError(fmt.Sprintf("Nieznany typ formularza: %s", v))
		}
		filter["formType"] = v
	}
	if v := strings.TrimSpace(q.Status); v != "" {
		if !models.InquiryStatus(v).Valid() {
			return nil, NewValidationError(fmt.Sprintf("Nieprawidłowy status: %s", v))
		}
		filter["status"] = v
	}
	if v := strings.TrimSpace(q.Priority); v != "" {
		if !models.Priority(v).Valid() {
			return nil, NewValidationError(fmt.Sprintf("Nieprawidłowy priorytet: %s", v))
		}
		filter["priority"] = v
	}
	if v := strings.TrimSpace(q.AssignedTo); v != "" {
		id, err := primitive.ObjectIDFromHex(v)
		if err != nil {
			return nil, NewValidationError("Nieprawidłowe ID użytkownika")
		}
		filter["assignedTo"] = id
	}
	if tags := NormalizeTags([]string{q.Tag}); len(tags) == 1 {
		filter["tags"] = tags[0]
	}
	return filter, nil
}

// NormalizeTags trims and lower-cases tags, dropping blanks and duplicates.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func (s *inquiryService) Search(ctx context.Context, q InquiryQuery) (*InquiryResults, error) {
	filter, err := BuildInquiryFilter(q)
	if err != nil {
		return nil, err
	}
	page := utils.ParsePage(q.Page, q.Limit, s.cfg.DefaultInquiryLimit, s.cfg.MaxPageLimit)
	collection := s.collection()

	total, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count inquiries: %w", err)
	}
	if page.PastEnd(total) {
		return &InquiryResults{Inquiries: []models.Inquiry{}, CurrentPage: page.Page, TotalPages: page.TotalPages(total), Total: total}, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(page.Skip()).
		SetLimit(int64(page.Limit))
	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find inquiries: %w", err)
	}
	defer cursor.Close(ctx)

	inquiries := []models.Inquiry{}
	if err := cursor.All(ctx, &inquiries); err != nil {
		return nil, fmt.Errorf("failed to decode inquiries: %w", err)
	}
	return &InquiryResults{
		Inquiries:   inquiries,
		CurrentPage: page.Page,
		TotalPages:  page.TotalPages(total),
		Total:       total,
	}, nil
}

func (s *inquiryService) Get(ctx context.Context, inquiryID primitive.ObjectID) (*models.Inquiry, error) {
	var inquiry models.Inquiry
	err := s.collection().FindOne(ctx, bson.M{"_id": inquiryID}).Decode(&inquiry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding inquiry %s: %w", inquiryID.Hex(), err)
	}
	return &inquiry, nil
}

func (s *inquiryService) Delete(ctx context.Context, inquiryID primitive.ObjectID) error {
	result, err := s.collection().DeleteOne(ctx, bson.M{"_id": inquiryID})
	if err != nil {
		return fmt.Errorf("failed to delete inquiry %s: %w", inquiryID.Hex(), err)
	}
	if result.DeletedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

func (s *inquiryService) Stats(ctx context.Context) (*InquiryStats, error) {
	stats := &InquiryStats{}
	var err error
	if stats.Total, err = s.collection().CountDocuments(ctx, bson.M{}); err != nil {
		return nil, fmt.Errorf("failed to count inquiries: %w", err)
	}
	if stats.ByStatus, err = s.countBy(ctx, "status"); err != nil {
		return nil, err
	}
	if stats.ByType, err = s.countBy(ctx, "formType"); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *inquiryService) countBy(ctx context.Context, field string) ([]CountBucket, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$" + field}, {Key: "count", Value: bson.M{"$sum": 1}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	}
	cursor, err := s.collection().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to group inquiries by %s: %w", field, err)
	}
	defer cursor.Close(ctx)

	buckets := []CountBucket{}
	if err := cursor.All(ctx, &buckets); err != nil {
		return nil, fmt.Errorf("failed to decode %s buckets: %w", field, err)
	}
	return buckets, nil
}

// lifecycleChange is one triage operation: fields to set, tags to add and the note describing it.
type lifecycleChange struct {
	set  bson.M
	tags []string
	note string
}

// apply writes a change and appends its note in one update. Notes are only ever pushed.
func (s *inquiryService) apply(ctx context.Context, inquiryID primitive.ObjectID, change lifecycleChange, actor string) (*models.Inquiry, error) {
	now := time.Now().UTC()
	if actor == "" {
		actor = systemAuthor
	}

	set := bson.M{"updatedAt": now}
	for k, v := range change.set {
		set[k] = v
	}
	update := bson.M{
		"$set":  set,
		"$push": bson.M{"internalNotes": models.InternalNote{At: now, Author: actor, Text: change.note}},
	}
	if len(change.tags) > 0 {
		update["$addToSet"] = bson.M{"tags": bson.M{"$each": change.tags}}
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var inquiry models.Inquiry
	err := s.collection().FindOneAndUpdate(ctx, bson.M{"_id": inquiryID}, update, opts).Decode(&inquiry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("failed to update inquiry %s: %w", inquiryID.Hex(), err)
	}
	return &inquiry, nil
}

func withNote(base, extra string) string {
	if extra = strings.TrimSpace(extra); extra != "" {
		return base + ": " + extra
	}
	return base
}

// Update changes the status and/or appends a note. At least one must be given.
func (s *inquiryService) Update(ctx context.Context, inquiryID primitive.ObjectID, status *models.InquiryStatus, note, actor string) (*models.Inquiry, error) {
	if status != nil {
		return s.SetStatus(ctx, inquiryID, *status, note, actor)
	}
	if strings.TrimSpace(note) == "" {
		return nil, NewValidationError("Podaj status lub notatkę")
	}
	return s.AddNote(ctx, inquiryID, note, actor)
}

func (s *inquiryService) SetStatus(ctx context.Context, inquiryID primitive.ObjectID, status models.InquiryStatus, note, actor string) (*models.Inquiry, error) {
	if !status.Valid() {
		return nil, NewValidationError(fmt.Sprintf("Nieprawidłowy status: %s", status))
	}
	return s.apply(ctx, inquiryID, lifecycleChange{
		set:  bson.M{"status": status},
		note: withNote(fmt.Sprintf("Status zmieniony na %s", status), note),
	}, actor)
}

func (s *inquiryService) MarkContacted(ctx context.Context, inquiryID primitive.ObjectID, note, actor string) (*models.Inquiry, error) {
	return s.apply(ctx, inquiryID, lifecycleChange{
		set:  bson.M{"status": models.InquiryStatusContacted},
		note: withNote("Oznaczono jako skontaktowane", note),
	}, actor)
}

func (s *inquiryService) SetPriority(ctx context.Context, inquiryID primitive.ObjectID, priority models.Priority, actor string) (*models.Inquiry, error) {
	if !priority.Valid() {
		return nil, NewValidationError(fmt.Sprintf("Nieprawidłowy priorytet: %s", priority))
	}
	return s.apply(ctx, inquiryID, lifecycleChange{
		set:  bson.M{"priority": priority},
		note: fmt.Sprintf("Priorytet ustawiony na %s", priority),
	}, actor)
}

func (s *inquiryService) Assign(ctx context.Context, inquiryID, userID primitive.ObjectID, actor string) (*models.Inquiry, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, NewValidationError("Użytkownik nie został znaleziony")
		}
		return nil, err
	}
	return s.apply(ctx, inquiryID, lifecycleChange{
		set:  bson.M{"assignedTo": user.ID},
		note: fmt.Sprintf("Przypisano do %s (%s)", user.FullName(), user.Email),
	}, actor)
}

func (s *inquiryService) AddTags(ctx context.Context, inquiryID primitive.ObjectID, tags []string, actor string) (*models.Inquiry, error) {
	tags = NormalizeTags(tags)
	if len(tags) == 0 {
		return nil, NewValidationError("Podaj co najmniej jeden tag")
	}
	return s.apply(ctx, inquiryID, lifecycleChange{
		tags: tags,
		note: "Dodano tagi: " + strings.Join(tags, ", "),
	}, actor)
}

func (s *inquiryService) AddNote(ctx context.Context, inquiryID primitive.ObjectID, text, actor string) (*models.Inquiry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, NewValidationError("Notatka nie może być pusta")
	}
	return s.apply(ctx, inquiryID, lifecycleChange{note: text}, actor)
}

func (s *inquiryService) MarkDispatchFailed(ctx context.Context, inquiryID primitive.ObjectID, cause error) (*models.Inquiry, error) {
	return s.apply(ctx, inquiryID, lifecycleChange{
		set:  bson.M{"status": models.InquiryStatusClosed},
		note: fmt.Sprintf("Błąd wysyłania email: %v", cause),
	}, systemAuthor)
}

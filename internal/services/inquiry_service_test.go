package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Qrinee/m2backend/internal/models"
)

// stubListings serves FindActiveByID from a map. Other methods are not used by inquiries.
type stubListings struct {
	IListingService
	active map[primitive.ObjectID]*models.Listing
}

func (s *stubListings) FindActiveByID(ctx context.Context, id primitive.ObjectID) (*models.Listing, error) {
	if l, ok := s.active[id]; ok {
		return l, nil
	}
	return nil, mongo.ErrNoDocuments
}

type stubNotifications struct {
	INotificationService
	err      error
	queued   bool
	notified []primitive.ObjectID
}

func (s *stubNotifications) NotifyInquiry(ctx context.Context, inquiry *models.Inquiry) (bool, error) {
	s.notified = append(s.notified, inquiry.ID)
	return s.queued, s.err
}

func newStubListing() *models.Listing {
	l := &models.Listing{
		Base:     models.NewBase(),
		Name:     "Mieszkanie na Mokotowie",
		Location: models.ListingLocation{City: "Warszawa", Region: "mazowieckie"},
		IsActive: true,
	}
	l.SetPrice("720 000 zł")
	return l
}

func TestBuildPayload(t *testing.T) {
	listing := newStubListing()
	svc := &inquiryService{listings: &stubListings{active: map[primitive.ObjectID]*models.Listing{listing.ID: listing}}}
	ctx := context.Background()

	payload, err := svc.buildPayload(ctx, models.FormTypeProperty, InquiryForm{PropertyID: listing.ID.Hex(), Message: " Kiedy oglądanie? "})
	require.NoError(t, err)
	assert.Equal(t, &models.PropertyInquiry{
		PropertyID:       listing.ID,
		PropertyName:     "Mieszkanie na Mokotowie",
		PropertyPrice:    "720 000 zł",
		PropertyLocation: "Warszawa, mazowieckie",
		Message:          "Kiedy oglądanie?",
	}, payload)

	tests := []struct {
		name      string
		formType  models.FormType
		form      InquiryForm
		wantError bool
	}{
		{"property bad id", models.FormTypeProperty, InquiryForm{PropertyID: "nope"}, true},
		{"property unknown listing", models.FormTypeProperty, InquiryForm{PropertyID: primitive.NewObjectID().Hex()}, true},
		{"loan without price", models.FormTypeLoan, InquiryForm{LoanTerm: "25"}, true},
		{"loan", models.FormTypeLoan, InquiryForm{PropertyPrice: "500000", LoanTerm: "25"}, false},
		{"contact without gdpr", models.FormTypeContact, InquiryForm{Message: "Hej"}, true},
		{"contact without message", models.FormTypeContact, InquiryForm{GDPR: true}, true},
		{"contact", models.FormTypeContact, InquiryForm{Message: "Hej", GDPR: true}, false},
		{"property submission without message", models.FormTypePropertySubmission, InquiryForm{}, false},
		{"partner without message", models.FormTypePartner, InquiryForm{}, true},
		{"employee without cv", models.FormTypeEmployee, InquiryForm{Message: "CV"}, true},
		{"employee", models.FormTypeEmployee, InquiryForm{Message: "CV", CVFile: "uploads/cv/cv-1-2-jan.pdf"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := svc.buildPayload(ctx, tt.formType, tt.form)
			if tt.wantError {
				assert.True(t, IsValidationError(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.formType, payload.FormType())
		})
	}
}

func TestBuildInquiryFilter(t *testing.T) {
	filter, err := BuildInquiryFilter(InquiryQuery{})
	require.NoError(t, err)
	assert.Empty(t, filter)

	assigned := primitive.NewObjectID()
	filter, err = BuildInquiryFilter(InquiryQuery{
		Search:     "a.b",
		Type:       "loan_inquiry",
		Status:     "new",
		Priority:   "high",
		AssignedTo: assigned.Hex(),
		Tag:        " VIP ",
	})
	require.NoError(t, err)
	assert.Equal(t, "loan_inquiry", filter["formType"])
	assert.Equal(t, "new", filter["status"])
	assert.Equal(t, "high", filter["priority"])
	assert.Equal(t, assigned, filter["assignedTo"])
	assert.Equal(t, "vip", filter["tags"])

	or, ok := filter["$or"].(bson.A)
	require.True(t, ok)
	assert.Len(t, or, 3+len(inquiryMessagePaths))
	assert.Equal(t, bson.M{"name": primitive.Regex{Pattern: `a\.b`, Options: "i"}}, or[0])

	for _, bad := range []InquiryQuery{{Type: "x"}, {Status: "x"}, {Priority: "x"}, {AssignedTo: "x"}} {
		_, err := BuildInquiryFilter(bad)
		assert.True(t, IsValidationError(err), "%+v", bad)
	}
}

func TestNormalizeTags(t *testing.T) {
	assert.Equal(t, []string{"vip", "kredyt"}, NormalizeTags([]string{" VIP", "kredyt", "", "vip "}))
	assert.Empty(t, NormalizeTags(nil))
}

func setupInquiryServiceTest(t *testing.T, notifications *stubNotifications) (IInquiryService, IUserService, *models.Listing) {
	database := setupServiceDB(t, inquiriesCollection, usersCollection)
	cfg := newTestConfig()
	listing := newStubListing()
	listings := &stubListings{active: map[primitive.ObjectID]*models.Listing{listing.ID: listing}}
	users := NewUserService(database, cfg)
	return NewInquiryService(database, cfg, listings, users, notifications), users, listing
}

func TestInquiryService_SubmitAndTriage(t *testing.T) {
	notifications := &stubNotifications{}
	svc, users, listing := setupInquiryServiceTest(t, notifications)
	ctx := context.Background()

	result, err := svc.Submit(ctx, models.FormTypeProperty, InquiryForm{
		Name:       "Jan",
		Email:      "JAN@Example.com",
		PropertyID: listing.ID.Hex(),
		Message:    "Proszę o kontakt",
	}, SubmissionMeta{IPAddress: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)
	assert.True(t, result.Notified)
	assert.False(t, result.Queued)
	inq := result.Inquiry
	assert.Equal(t, "jan@example.com", inq.Email)
	assert.Equal(t, models.InquiryStatusNew, inq.Status)
	assert.Equal(t, []primitive.ObjectID{inq.ID}, notifications.notified)

	stored, err := svc.Get(ctx, inq.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", stored.IPAddress)
	require.IsType(t, &models.PropertyInquiry{}, stored.Payload)
	assert.Equal(t, "Warszawa, mazowieckie", stored.Payload.(*models.PropertyInquiry).PropertyLocation)

	admin := registerUser(t, users, "agent@example.com")

	updated, err := svc.MarkContacted(ctx, inq.ID, "telefon", "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.InquiryStatusContacted, updated.Status)

	updated, err = svc.SetPriority(ctx, inq.ID, models.PriorityHigh, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.PriorityHigh, updated.Priority)

	updated, err = svc.Assign(ctx, inq.ID, admin.ID, "admin@example.com")
	require.NoError(t, err)
	require.NotNil(t, updated.AssignedTo)
	assert.Equal(t, admin.ID, *updated.AssignedTo)

	_, err = svc.AddTags(ctx, inq.ID, []string{"VIP", "kredyt"}, "admin@example.com")
	require.NoError(t, err)
	updated, err = svc.AddTags(ctx, inq.ID, []string{"vip"}, "admin@example.com")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"vip", "kredyt"}, updated.Tags)

	updated, err = svc.AddNote(ctx, inq.ID, "Klient oddzwoni", "admin@example.com")
	require.NoError(t, err)
	require.Len(t, updated.InternalNotes, 6)
	assert.Equal(t, "Oznaczono jako skontaktowane: telefon", updated.InternalNotes[0].Text)
	assert.Equal(t, "Klient oddzwoni", updated.InternalNotes[5].Text)
	assert.Equal(t, "admin@example.com", updated.InternalNotes[5].Author)

	_, err = svc.Assign(ctx, inq.ID, primitive.NewObjectID(), "admin@example.com")
	assert.True(t, IsValidationError(err))
	_, err = svc.SetStatus(ctx, inq.ID, "bogus", "", "admin@example.com")
	assert.True(t, IsValidationError(err))
	_, err = svc.AddNote(ctx, primitive.NewObjectID(), "x", "admin@example.com")
	assert.True(t, IsNotFound(err))

	results, err := svc.Search(ctx, InquiryQuery{Search: "kontakt", Tag: "vip"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, results.Total)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Total)
	assert.Equal(t, []CountBucket{{Value: "contacted", Count: 1}}, stats.ByStatus)

	require.NoError(t, svc.Delete(ctx, inq.ID))
	assert.True(t, IsNotFound(svc.Delete(ctx, inq.ID)))
}

func TestInquiryService_NotificationFailureClosesInquiry(t *testing.T) {
	notifications := &stubNotifications{err: errors.New("smtp down")}
	svc, _, _ := setupInquiryServiceTest(t, notifications)

	result, err := svc.Submit(context.Background(), models.FormTypeContact, InquiryForm{
		Name:    "Ewa",
		Email:   "ewa@example.com",
		Message: "Pytanie",
		GDPR:    true,
	}, SubmissionMeta{})
	require.NoError(t, err)
	assert.False(t, result.Notified)
	assert.Equal(t, models.InquiryStatusClosed, result.Inquiry.Status)
	require.Len(t, result.Inquiry.InternalNotes, 1)
	assert.Equal(t, systemAuthor, result.Inquiry.InternalNotes[0].Author)
	assert.Contains(t, result.Inquiry.InternalNotes[0].Text, "smtp down")
}

func TestInquiryService_SubmitValidation(t *testing.T) {
	svc, _, _ := setupInquiryServiceTest(t, &stubNotifications{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, models.FormTypeContact, InquiryForm{Email: "a@b.pl", Message: "x", GDPR: true}, SubmissionMeta{})
	assert.True(t, IsValidationError(err))

	_, err = svc.Submit(ctx, "unknown", InquiryForm{Name: "A", Email: "a@b.pl"}, SubmissionMeta{})
	assert.True(t, IsValidationError(err))

	results, err := svc.Search(ctx, InquiryQuery{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, results.Total)
}

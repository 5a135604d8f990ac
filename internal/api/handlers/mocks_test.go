package handlers_test

import (
	"context"

	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Qrinee/m2backend/internal/auth"
	"github.com/Qrinee/m2backend/internal/models"
	"github.com/Qrinee/m2backend/internal/services"
	"github.com/Qrinee/m2backend/internal/storage"
	"github.com/Qrinee/m2backend/internal/utils"
)

// MockUserService implements services.IUserService
type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) user(args mock.Arguments) (*models.User, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) Register(ctx context.Context, input services.RegisterInput) (*models.User, error) {
	return m.user(m.Called(ctx, input))
}

func (m *MockUserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	return m.user(m.Called(ctx, email, password))
}

func (m *MockUserService) FindByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	return m.user(m.Called(ctx, userID))
}

func (m *MockUserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.user(m.Called(ctx, email))
}

func (m *MockUserService) List(ctx context.Context) ([]models.User, error) {
	args := m.Called(ctx)
	users, _ := args.Get(0).([]models.User)
	return users, args.Error(1)
}

func (m *MockUserService) ListTeam(ctx context.Context) ([]models.User, error) {
	args := m.Called(ctx)
	users, _ := args.Get(0).([]models.User)
	return users, args.Error(1)
}

func (m *MockUserService) Update(ctx context.Context, userID primitive.ObjectID, caller *auth.Principal, input services.UserUpdate) (*models.User, error) {
	return m.user(m.Called(ctx, userID, caller, input))
}

func (m *MockUserService) SetProfilePicture(ctx context.Context, userID primitive.ObjectID, path string) (*models.User, string, error) {
	args := m.Called(ctx, userID, path)
	user, _ := args.Get(0).(*models.User)
	return user, args.String(1), args.Error(2)
}

func (m *MockUserService) ChangePassword(ctx context.Context, userID primitive.ObjectID, currentPassword, newPassword string) error {
	return m.Called(ctx, userID, currentPassword, newPassword).Error(0)
}

func (m *MockUserService) SetPassword(ctx context.Context, userID primitive.ObjectID, newPassword string) error {
	return m.Called(ctx, userID, newPassword).Error(0)
}

func (m *MockUserService) Delete(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	return m.user(m.Called(ctx, userID))
}

// MockPasswordResetService implements services.IPasswordResetService
type MockPasswordResetService struct {
	mock.Mock
}

func (m *MockPasswordResetService) RequestReset(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

func (m *MockPasswordResetService) ResetPassword(ctx context.Context, token, newPassword string) error {
	return m.Called(ctx, token, newPassword).Error(0)
}

// MockListingService implements services.IListingService
type MockListingService struct {
	mock.Mock
}

func (m *MockListingService) results(args mock.Arguments) (*services.ListingResults, error) {
	res, _ := args.Get(0).(*services.ListingResults)
	return res, args.Error(1)
}

func (m *MockListingService) view(args mock.Arguments) (*models.ListingView, error) {
	view, _ := args.Get(0).(*models.ListingView)
	return view, args.Error(1)
}

func (m *MockListingService) listing(args mock.Arguments) (*models.Listing, error) {
	listing, _ := args.Get(0).(*models.Listing)
	return listing, args.Error(1)
}

func (m *MockListingService) Search(ctx context.Context, q services.ListingQuery, caller *auth.Principal) (*services.ListingResults, error) {
	return m.results(m.Called(ctx, q, caller))
}

func (m *MockListingService) AdminSearch(ctx context.Context, q services.ListingQuery) (*services.ListingResults, error) {
	return m.results(m.Called(ctx, q))
}

func (m *MockListingService) Facets(ctx context.Context) (*services.ListingFacets, error) {
	args := m.Called(ctx)
	facets, _ := args.Get(0).(*services.ListingFacets)
	return facets, args.Error(1)
}

func (m *MockListingService) Popular(ctx context.Context, limit int) ([]services.PopularSearch, error) {
	args := m.Called(ctx, limit)
	popular, _ := args.Get(0).([]services.PopularSearch)
	return popular, args.Error(1)
}

func (m *MockListingService) ListByOwner(ctx context.Context, ownerID primitive.ObjectID, page utils.Page) (*services.ListingResults, error) {
	return m.results(m.Called(ctx, ownerID, page))
}

func (m *MockListingService) GetByID(ctx context.Context, listingID primitive.ObjectID, caller *auth.Principal) (*models.ListingView, error) {
	return m.view(m.Called(ctx, listingID, caller))
}

func (m *MockListingService) FindActiveByID(ctx context.Context, listingID primitive.ObjectID) (*models.Listing, error) {
	return m.listing(m.Called(ctx, listingID))
}

func (m *MockListingService) Create(ctx context.Context, caller *auth.Principal, input services.ListingInput, files []storage.StoredFile) (*models.ListingView, error) {
	return m.view(m.Called(ctx, caller, input, files))
}

func (m *MockListingService) Update(ctx context.Context, listingID primitive.ObjectID, caller *auth.Principal, input services.ListingInput) (*models.ListingView, error) {
	return m.view(m.Called(ctx, listingID, caller, input))
}

func (m *MockListingService) Delete(ctx context.Context, listingID primitive.ObjectID, caller *auth.Principal) (*models.Listing, error) {
	return m.listing(m.Called(ctx, listingID, caller))
}

func (m *MockListingService) SetCover(ctx context.Context, listingID primitive.ObjectID, caller *auth.Principal, fileID primitive.ObjectID) (*models.ListingView, error) {
	return m.view(m.Called(ctx, listingID, caller, fileID))
}

func (m *MockListingService) SetActive(ctx context.Context, listingID primitive.ObjectID, active bool) (*models.Listing, error) {
	return m.listing(m.Called(ctx, listingID, active))
}

func (m *MockListingService) Stats(ctx context.Context) (*services.ListingStats, error) {
	args := m.Called(ctx)
	stats, _ := args.Get(0).(*services.ListingStats)
	return stats, args.Error(1)
}

func (m *MockListingService) RecordFileSize(ctx context.Context, path string, size int64) error {
	return m.Called(ctx, path, size).Error(0)
}

// MockInquiryService implements services.IInquiryService
type MockInquiryService struct {
	mock.Mock
}

func (m *MockInquiryService) inquiry(args mock.Arguments) (*models.Inquiry, error) {
	inquiry, _ := args.Get(0).(*models.Inquiry)
	return inquiry, args.Error(1)
}

func (m *MockInquiryService) Submit(ctx context.Context, formType models.FormType, form services.InquiryForm, meta services.SubmissionMeta) (*services.SubmissionResult, error) {
	args := m.Called(ctx, formType, form, meta)
	res, _ := args.Get(0).(*services.SubmissionResult)
	return res, args.Error(1)
}

func (m *MockInquiryService) Search(ctx context.Context, q services.InquiryQuery) (*services.InquiryResults, error) {
	args := m.Called(ctx, q)
	res, _ := args.Get(0).(*services.InquiryResults)
	return res, args.Error(1)
}

func (m *MockInquiryService) Get(ctx context.Context, inquiryID primitive.ObjectID) (*models.Inquiry, error) {
	return m.inquiry(m.Called(ctx, inquiryID))
}

func (m *MockInquiryService) Delete(ctx context.Context, inquiryID primitive.ObjectID) error {
	return m.Called(ctx, inquiryID).Error(0)
}

func (m *MockInquiryService) Stats(ctx context.Context) (*services.InquiryStats, error) {
	args := m.Called(ctx)
	stats, _ := args.Get(0).(*services.InquiryStats)
	return stats, args.Error(1)
}

func (m *MockInquiryService) Update(ctx context.Context, inquiryID primitive.ObjectID, status *models.InquiryStatus, note, actor string) (*models.Inquiry, error) {
	return m.inquiry(m.Called(ctx, inquiryID, status, note, actor))
}

func (m *MockInquiryService) SetStatus(ctx context.Context, inquiryID primitive.ObjectID, status models.InquiryStatus, note, actor string) (*models.Inquiry, error) {
	return m.inquiry(m.Called(ctx, inquiryID, status, note, actor))
}

func (m *MockInquiryService) MarkContacted(ctx context.Context, inquiryID primitive.ObjectID, note, actor string) (*models.Inquiry, error) {
	return m.inquiry(m.Called(ctx, inquiryID, note, actor))
}

func (m *MockInquiryService) SetPriority(ctx context.Context, inquiryID primitive.ObjectID, priority models.Priority, actor string) (*models.Inquiry, error) {
	return m.inquiry(m.Called(ctx, inquiryID, priority, actor))
}

func (m *MockInquiryService) Assign(ctx context.Context, inquiryID, userID primitive.ObjectID, actor string) (*models.Inquiry, error) {
	return m.inquiry(m.Called(ctx, inquiryID, userID, actor))
}

func (m *MockInquiryService) AddTags(ctx context.Context, inquiryID primitive.ObjectID, tags []string, actor string) (*models.Inquiry, error) {
	return m.inquiry(m.Called(ctx, inquiryID, tags, actor))
}

func (m *MockInquiryService) AddNote(ctx context.Context, inquiryID primitive.ObjectID, text, actor string) (*models.Inquiry, error) {
	return m.inquiry(m.Called(ctx, inquiryID, text, actor))
}

func (m *MockInquiryService) MarkDispatchFailed(ctx context.Context, inquiryID primitive.ObjectID, cause error) (*models.Inquiry, error) {
	return m.inquiry(m.Called(ctx, inquiryID, cause))
}

// MockReelService implements services.IReelService
type MockReelService struct {
	mock.Mock
}

func (m *MockReelService) results(args mock.Arguments) (*services.ReelResults, error) {
	res, _ := args.Get(0).(*services.ReelResults)
	return res, args.Error(1)
}

func (m *MockReelService) view(args mock.Arguments) (*models.ReelView, error) {
	view, _ := args.Get(0).(*models.ReelView)
	return view, args.Error(1)
}

func (m *MockReelService) List(ctx context.Context, caller *auth.Principal, q services.ReelQuery) (*services.ReelResults, error) {
	return m.results(m.Called(ctx, caller, q))
}

func (m *MockReelService) ListPublic(ctx context.Context, q services.ReelQuery) (*services.ReelResults, error) {
	return m.results(m.Called(ctx, q))
}

func (m *MockReelService) ListMine(ctx context.Context, caller *auth.Principal, q services.ReelQuery) (*services.ReelResults, error) {
	return m.results(m.Called(ctx, caller, q))
}

func (m *MockReelService) Stats(ctx context.Context) (*services.ReelStats, error) {
	args := m.Called(ctx)
	stats, _ := args.Get(0).(*services.ReelStats)
	return stats, args.Error(1)
}

func (m *MockReelService) Get(ctx context.Context, reelID primitive.ObjectID, caller *auth.Principal) (*models.ReelView, error) {
	return m.view(m.Called(ctx, reelID, caller))
}

func (m *MockReelService) Create(ctx context.Context, caller *auth.Principal, input services.ReelInput, video storage.StoredFile) (*models.ReelView, error) {
	return m.view(m.Called(ctx, caller, input, video))
}

func (m *MockReelService) Update(ctx context.Context, reelID primitive.ObjectID, caller *auth.Principal, input services.ReelInput, video *storage.StoredFile) (*models.ReelView, string, error) {
	args := m.Called(ctx, reelID, caller, input, video)
	view, _ := args.Get(0).(*models.ReelView)
	return view, args.String(1), args.Error(2)
}

func (m *MockReelService) SetPublished(ctx context.Context, reelID primitive.ObjectID, caller *auth.Principal, published bool) (*models.ReelView, error) {
	return m.view(m.Called(ctx, reelID, caller, published))
}

func (m *MockReelService) Delete(ctx context.Context, reelID primitive.ObjectID, caller *auth.Principal) (*models.Reel, error) {
	args := m.Called(ctx, reelID, caller)
	reel, _ := args.Get(0).(*models.Reel)
	return reel, args.Error(1)
}

// MockBlogService implements services.IBlogService
type MockBlogService struct {
	mock.Mock
}

func (m *MockBlogService) Search(ctx context.Context, q services.BlogQuery) (*services.BlogResults, error) {
	args := m.Called(ctx, q)
	res, _ := args.Get(0).(*services.BlogResults)
	return res, args.Error(1)
}

func (m *MockBlogService) Archive(ctx context.Context) ([]models.ArchiveBucket, error) {
	args := m.Called(ctx)
	archive, _ := args.Get(0).([]models.ArchiveBucket)
	return archive, args.Error(1)
}

func (m *MockBlogService) Get(ctx context.Context, blogID primitive.ObjectID) (*models.Blog, error) {
	args := m.Called(ctx, blogID)
	blog, _ := args.Get(0).(*models.Blog)
	return blog, args.Error(1)
}

func (m *MockBlogService) Create(ctx context.Context, input services.BlogInput, imagePath string) (*models.Blog, error) {
	args := m.Called(ctx, input, imagePath)
	blog, _ := args.Get(0).(*models.Blog)
	return blog, args.Error(1)
}

func (m *MockBlogService) Update(ctx context.Context, blogID primitive.ObjectID, input services.BlogInput, imagePath string) (*models.Blog, string, error) {
	args := m.Called(ctx, blogID, input, imagePath)
	blog, _ := args.Get(0).(*models.Blog)
	return blog, args.String(1), args.Error(2)
}

func (m *MockBlogService) Delete(ctx context.Context, blogID primitive.ObjectID) (*models.Blog, error) {
	args := m.Called(ctx, blogID)
	blog, _ := args.Get(0).(*models.Blog)
	return blog, args.Error(1)
}

// MockMediaQueue implements handlers.MediaQueue
type MockMediaQueue struct {
	mock.Mock
}

func (m *MockMediaQueue) EnqueueMediaProcessing(ctx context.Context, files []storage.StoredFile) {
	m.Called(ctx, files)
}

func (m *MockMediaQueue) EnqueueMediaRemoval(ctx context.Context, paths ...string) {
	m.Called(ctx, paths)
}

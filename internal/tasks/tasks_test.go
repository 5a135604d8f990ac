package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Qrinee/m2backend/internal/config"
	"github.com/Qrinee/m2backend/internal/models"
	"github.com/Qrinee/m2backend/internal/services"
	"github.com/Qrinee/m2backend/internal/storage"
)

// --- Mocks ---

type MockFileSizeRecorder struct {
	mock.Mock
}

func (m *MockFileSizeRecorder) RecordFileSize(ctx context.Context, path string, size int64) error {
	return m.Called(ctx, path, size).Error(0)
}

type MockInquiryService struct {
	services.IInquiryService
	mock.Mock
}

func (m *MockInquiryService) Get(ctx context.Context, id primitive.ObjectID) (*models.Inquiry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Inquiry), args.Error(1)
}

func (m *MockInquiryService) MarkDispatchFailed(ctx context.Context, id primitive.ObjectID, cause error) (*models.Inquiry, error) {
	args := m.Called(ctx, id, cause)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Inquiry), args.Error(1)
}

type MockNotificationService struct {
	services.INotificationService
	mock.Mock
}

func (m *MockNotificationService) DeliverInquiry(ctx context.Context, inquiry *models.Inquiry) error {
	return m.Called(ctx, inquiry).Error(0)
}

type MockS3Storage struct {
	mock.Mock
	bodies map[string][]byte
}

func (m *MockS3Storage) PutObject(ctx context.Context, key, contentType string, body io.Reader) error {
	data, _ := io.ReadAll(body)
	if m.bodies == nil {
		m.bodies = map[string][]byte{}
	}
	m.bodies[key] = data
	return m.Called(ctx, key, contentType).Error(0)
}

func (m *MockS3Storage) DeleteObject(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func mustTask(t *testing.T, taskType string, payload interface{}) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(taskType, data)
}

// --- Tests ---

func TestQueue_Enqueue(t *testing.T) {
	fake := &fakeEnqueuer{}
	q := &Queue{client: fake}
	id := primitive.NewObjectID()

	require.NoError(t, q.EnqueueInquiryNotification(context.Background(), id))
	q.EnqueueMediaProcessing(context.Background(), []storage.StoredFile{{Path: "uploads/a.jpg", Mimetype: "image/jpeg"}})
	q.EnqueueMediaRemoval(context.Background(), "", "uploads/old.jpg")

	require.Len(t, fake.tasks, 3)
	assert.Equal(t, TypeInquiryNotify, fake.tasks[0].Type())
	assert.JSONEq(t, `{"inquiry_id":"`+id.Hex()+`"}`, string(fake.tasks[0].Payload()))
	assert.Equal(t, TypeMediaProcess, fake.tasks[1].Type())
	assert.Equal(t, TypeMediaRemove, fake.tasks[2].Type())

	fake.err = errors.New("redis down")
	assert.ErrorContains(t, q.EnqueueInquiryNotification(context.Background(), id), "redis down")
}

func TestDownscale(t *testing.T) {
	large := encodeJPEG(t, 400, 200)
	out, changed, err := Downscale(large, 100)
	require.NoError(t, err)
	assert.True(t, changed)
	img, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())

	small := encodeJPEG(t, 50, 50)
	out, changed, err = Downscale(small, 100)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, small, out)

	_, _, err = Downscale([]byte("not an image"), 100)
	assert.Error(t, err)
}

func TestHandleMediaProcessTask(t *testing.T) {
	root := t.TempDir()
	local := storage.NewLocalStorage(root)
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.jpg"), encodeJPEG(t, 300, 300), 0o644))

	s3 := new(MockS3Storage)
	s3.On("PutObject", mock.Anything, storage.ObjectKey("uploads/big.jpg"), "image/jpeg").Return(nil)

	sizes := new(MockFileSizeRecorder)
	sizes.On("RecordFileSize", mock.Anything, "uploads/big.jpg", mock.AnythingOfType("int64")).Return(nil)

	p := NewTaskProcessor(&config.Config{ImageMaxDimension: 120}, nil, nil, local, s3, sizes)
	err := p.HandleMediaProcessTask(context.Background(), mustTask(t, TypeMediaProcess, MediaTaskPayload{Path: "uploads/big.jpg", Mimetype: "image/jpeg"}))
	require.NoError(t, err)
	s3.AssertExpectations(t)

	onDisk, err := os.ReadFile(filepath.Join(root, "big.jpg"))
	require.NoError(t, err)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(onDisk))
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.Width)
	assert.Equal(t, onDisk, s3.bodies[storage.ObjectKey("uploads/big.jpg")])
	sizes.AssertCalled(t, "RecordFileSize", mock.Anything, "uploads/big.jpg", int64(len(onDisk)))

	err = p.HandleMediaProcessTask(context.Background(), mustTask(t, TypeMediaProcess, MediaTaskPayload{Path: "uploads/missing.jpg"}))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleMediaRemoveTask(t *testing.T) {
	s3 := new(MockS3Storage)
	s3.On("DeleteObject", mock.Anything, storage.ObjectKey("uploads/reels/video-1-1.mp4")).Return(nil)
	p := NewTaskProcessor(&config.Config{}, nil, nil, nil, s3, nil)

	require.NoError(t, p.HandleMediaRemoveTask(context.Background(), mustTask(t, TypeMediaRemove, MediaTaskPayload{Path: "uploads/reels/video-1-1.mp4"})))
	s3.AssertExpectations(t)

	withoutS3 := NewTaskProcessor(&config.Config{}, nil, nil, nil, nil, nil)
	assert.NoError(t, withoutS3.HandleMediaRemoveTask(context.Background(), mustTask(t, TypeMediaRemove, MediaTaskPayload{Path: "uploads/x.jpg"})))
}

func TestHandleInquiryNotifyTask(t *testing.T) {
	inquiry := &models.Inquiry{Base: models.NewBase(), Name: "Jan", Email: "jan@example.com"}
	task := mustTask(t, TypeInquiryNotify, InquiryTaskPayload{InquiryID: inquiry.ID.Hex()})
	smtpErr := errors.New("smtp down")

	t.Run("delivered", func(t *testing.T) {
		inquiries := new(MockInquiryService)
		notifications := new(MockNotificationService)
		inquiries.On("Get", mock.Anything, inquiry.ID).Return(inquiry, nil)
		notifications.On("DeliverInquiry", mock.Anything, inquiry).Return(nil)

		p := NewTaskProcessor(&config.Config{}, inquiries, notifications, nil, nil, nil)
		assert.NoError(t, p.HandleInquiryNotifyTask(context.Background(), task))
		inquiries.AssertNotCalled(t, "MarkDispatchFailed", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("retryable failure", func(t *testing.T) {
		inquiries := new(MockInquiryService)
		notifications := new(MockNotificationService)
		inquiries.On("Get", mock.Anything, inquiry.ID).Return(inquiry, nil)
		notifications.On("DeliverInquiry", mock.Anything, inquiry).Return(smtpErr)

		p := NewTaskProcessor(&config.Config{}, inquiries, notifications, nil, nil, nil)
		p.finalAttempt = func(context.Context) bool { return false }
		err := p.HandleInquiryNotifyTask(context.Background(), task)
		assert.ErrorIs(t, err, smtpErr)
		assert.False(t, errors.Is(err, asynq.SkipRetry))
		inquiries.AssertNotCalled(t, "MarkDispatchFailed", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("final failure closes inquiry", func(t *testing.T) {
		inquiries := new(MockInquiryService)
		notifications := new(MockNotificationService)
		inquiries.On("Get", mock.Anything, inquiry.ID).Return(inquiry, nil)
		inquiries.On("MarkDispatchFailed", mock.Anything, inquiry.ID, smtpErr).Return(inquiry, nil)
		notifications.On("DeliverInquiry", mock.Anything, inquiry).Return(smtpErr)

		p := NewTaskProcessor(&config.Config{}, inquiries, notifications, nil, nil, nil)
		p.finalAttempt = func(context.Context) bool { return true }
		err := p.HandleInquiryNotifyTask(context.Background(), task)
		assert.ErrorIs(t, err, asynq.SkipRetry)
		inquiries.AssertExpectations(t)
	})

	t.Run("inquiry gone", func(t *testing.T) {
		inquiries := new(MockInquiryService)
		inquiries.On("Get", mock.Anything, inquiry.ID).Return(nil, mongo.ErrNoDocuments)

		p := NewTaskProcessor(&config.Config{}, inquiries, new(MockNotificationService), nil, nil, nil)
		assert.ErrorIs(t, p.HandleInquiryNotifyTask(context.Background(), task), asynq.SkipRetry)
	})

	t.Run("bad payload", func(t *testing.T) {
		p := NewTaskProcessor(&config.Config{}, nil, nil, nil, nil, nil)
		err := p.HandleInquiryNotifyTask(context.Background(), mustTask(t, TypeInquiryNotify, InquiryTaskPayload{InquiryID: "nope"}))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})
}

func TestIsFinalAttempt_WithoutTaskContext(t *testing.T) {
	assert.True(t, isFinalAttempt(context.Background()))
}

package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Qrinee/m2backend/internal/config"
	"github.com/Qrinee/m2backend/internal/services"
	"github.com/Qrinee/m2backend/internal/storage"
)

// TaskType defines the type of a background task.
const (
	TypeInquiryNotify = "inquiry:notify"
	TypeMediaProcess  = "media:process"
	TypeMediaRemove   = "media:remove"
)

const (
	queueCritical = "critical"
	queueMedia    = "media"

	notifyMaxRetry = 5
	mediaMaxRetry  = 3
)

func redisClientOpt(rdb *redis.Client) asynq.RedisClientOpt {
	opts := rdb.Options()
	return asynq.RedisClientOpt{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
}

// --- Task Client (Enqueuing tasks) ---

func NewClient(rdb *redis.Client) *asynq.Client {
	return asynq.NewClient(redisClientOpt(rdb))
}

// enqueuer is the part of *asynq.Client used to schedule tasks.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue schedules background work. It satisfies services.NotificationQueue.
type Queue struct {
	client enqueuer
}

func NewQueue(client *asynq.Client) *Queue {
	return &Queue{client: client}
}

// InquiryTaskPayload identifies the inquiry to notify about.
type InquiryTaskPayload struct {
	InquiryID string `json:"inquiry_id"`
}

// MediaTaskPayload identifies a stored file by its public path.
type MediaTaskPayload struct {
	Path     string `json:"path"`
	Mimetype string `json:"mimetype,omitempty"`
}

func newTask(taskType string, payload interface{}) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", taskType, err)
	}
	return asynq.NewTask(taskType, data), nil
}

func (q *Queue) EnqueueInquiryNotification(ctx context.Context, inquiryID primitive.ObjectID) error {
	task, err := newTask(TypeInquiryNotify, InquiryTaskPayload{InquiryID: inquiryID.Hex()})
	if err != nil {
		return err
	}
	info, err := q.client.EnqueueContext(ctx, task,
		asynq.TaskID(uuid.NewString()),
		asynq.Queue(queueCritical),
		asynq.MaxRetry(notifyMaxRetry),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue notification for inquiry %s: %w", inquiryID.Hex(), err)
	}
	log.Printf("Enqueued notification task %s for inquiry %s", info.ID, inquiryID.Hex())
	return nil
}

// EnqueueMediaProcessing schedules post-processing of freshly stored files.
// Failures are logged; the files are already usable without it.
func (q *Queue) EnqueueMediaProcessing(ctx context.Context, files []storage.StoredFile) {
	for _, f := range files {
		q.enqueueMedia(ctx, TypeMediaProcess, MediaTaskPayload{Path: f.Path, Mimetype: f.Mimetype})
	}
}

// EnqueueMediaRemoval schedules removal of mirrored copies of deleted files.
func (q *Queue) EnqueueMediaRemoval(ctx context.Context, paths ...string) {
	for _, p := range paths {
		if p != "" {
			q.enqueueMedia(ctx, TypeMediaRemove, MediaTaskPayload{Path: p})
		}
	}
}

func (q *Queue) enqueueMedia(ctx context.Context, taskType string, payload MediaTaskPayload) {
	task, err := newTask(taskType, payload)
	if err == nil {
		_, err = q.client.EnqueueContext(ctx, task,
			asynq.TaskID(uuid.NewString()),
			asynq.Queue(queueMedia),
			asynq.MaxRetry(mediaMaxRetry),
		)
	}
	if err != nil {
		log.Printf("Failed to enqueue %s for %s: %v", taskType, payload.Path, err)
	}
}

// --- Task Server (Processing tasks) ---

// FileSizeRecorder keeps stored media metadata in step with processed files.
type FileSizeRecorder interface {
	RecordFileSize(ctx context.Context, path string, size int64) error
}

// TaskProcessor handles the processing of tasks.
// It holds dependencies needed by task handlers.
type TaskProcessor struct {
	cfg           *config.Config
	inquiries     services.IInquiryService
	notifications services.INotificationService
	localStorage  storage.ILocalStorage
	s3Storage     storage.IS3Storage
	sizes         FileSizeRecorder
	finalAttempt  func(ctx context.Context) bool
}

// NewTaskProcessor creates a processor. s3Storage may be nil when mirroring is
// disabled; sizes may be nil when no records need the processed size.
func NewTaskProcessor(
	cfg *config.Config,
	inquiries services.IInquiryService,
	notifications services.INotificationService,
	localStorage storage.ILocalStorage,
	s3Storage storage.IS3Storage,
	sizes FileSizeRecorder,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:           cfg,
		inquiries:     inquiries,
		notifications: notifications,
		localStorage:  localStorage,
		s3Storage:     s3Storage,
		sizes:         sizes,
		finalAttempt:  isFinalAttempt,
	}
}

// isFinalAttempt reports whether a failure now exhausts the task's retries.
func isFinalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

// SetupServer configures and returns an Asynq server instance.
func SetupServer(rdb *redis.Client) *asynq.Server {
	return asynq.NewServer(
		redisClientOpt(rdb),
		asynq.Config{
			Queues: map[string]int{
				queueCritical: 6,
				queueMedia:    3,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("[Asynq Error] Task Type: %s, Payload: %s, Error: %v", task.Type(), string(task.Payload()), err)
			}),
		},
	)
}

// ServeMux routes every task type to its handler.
func (p *TaskProcessor) ServeMux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeInquiryNotify, p.HandleInquiryNotifyTask)
	mux.HandleFunc(TypeMediaProcess, p.HandleMediaProcessTask)
	mux.HandleFunc(TypeMediaRemove, p.HandleMediaRemoveTask)
	return mux
}

// --- Task Handlers ---

// HandleInquiryNotifyTask delivers the notifications of one inquiry.
// When the last retry fails the inquiry is closed with a note.
func (p *TaskProcessor) HandleInquiryNotifyTask(ctx context.Context, t *asynq.Task) error {
	var payload InquiryTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal inquiry task payload: %v: %w", err, asynq.SkipRetry)
	}
	inquiryID, err := primitive.ObjectIDFromHex(payload.InquiryID)
	if err != nil {
		return fmt.Errorf("invalid inquiry ID %q in payload: %w", payload.InquiryID, asynq.SkipRetry)
	}

	inquiry, err := p.inquiries.Get(ctx, inquiryID)
	if err != nil {
		if services.IsNotFound(err) {
			log.Printf("Inquiry %s no longer exists, dropping notification", payload.InquiryID)
			return fmt.Errorf("inquiry not found: %w", asynq.SkipRetry)
		}
		return err
	}

	err = p.notifications.DeliverInquiry(ctx, inquiry)
	if err == nil {
		log.Printf("Notifications for inquiry %s delivered", payload.InquiryID)
		return nil
	}
	if !p.finalAttempt(ctx) {
		return err
	}

	if _, markErr := p.inquiries.MarkDispatchFailed(ctx, inquiryID, err); markErr != nil {
		log.Printf("Failed to close inquiry %s after final delivery failure: %v", payload.InquiryID, markErr)
		return markErr
	}
	log.Printf("Giving up on notifications for inquiry %s: %v", payload.InquiryID, err)
	return fmt.Errorf("notification delivery failed: %v: %w", err, asynq.SkipRetry)
}

// HandleMediaProcessTask downscales oversized images in place, records the size the
// image ends up with and mirrors the file to S3.
func (p *TaskProcessor) HandleMediaProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload MediaTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal media task payload: %v: %w", err, asynq.SkipRetry)
	}
	absPath, err := p.localStorage.AbsPath(payload.Path)
	if err != nil {
		return fmt.Errorf("invalid media path %q: %v: %w", payload.Path, err, asynq.SkipRetry)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("Media file %s is gone, skipping", payload.Path)
			return fmt.Errorf("media file missing: %w", asynq.SkipRetry)
		}
		return fmt.Errorf("failed to read %s: %w", absPath, err)
	}

	if strings.HasPrefix(payload.Mimetype, "image/") && p.cfg.ImageMaxDimension > 0 {
		resized, changed, err := Downscale(data, uint(p.cfg.ImageMaxDimension))
		if err != nil {
			log.Printf("Leaving image %s as is: %v", payload.Path, err)
		} else if changed {
			if err := replaceFile(absPath, resized); err != nil {
				return fmt.Errorf("failed to write resized %s: %w", absPath, err)
			}
			log.Printf("Downscaled %s from %d to %d bytes", payload.Path, len(data), len(resized))
			data = resized
		}
		// Recorded on every attempt so a retry after a failed update still converges.
		if p.sizes != nil {
			if err := p.sizes.RecordFileSize(ctx, payload.Path, int64(len(data))); err != nil {
				return err
			}
		}
	}

	if p.s3Storage != nil {
		if err := p.s3Storage.PutObject(ctx, storage.ObjectKey(payload.Path), payload.Mimetype, bytes.NewReader(data)); err != nil {
			return err
		}
	}
	return nil
}

// HandleMediaRemoveTask deletes the S3 copy of a removed file.
func (p *TaskProcessor) HandleMediaRemoveTask(ctx context.Context, t *asynq.Task) error {
	var payload MediaTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal media task payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.s3Storage == nil {
		return nil
	}
	return p.s3Storage.DeleteObject(ctx, storage.ObjectKey(payload.Path))
}

// Downscale shrinks a JPEG or PNG so neither side exceeds maxDim, keeping its format.
// Images already within bounds are returned unchanged with changed=false.
func Downscale(data []byte, maxDim uint) (out []byte, changed bool, err error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("unsupported image format or corrupt image: %w", err)
	}
	bounds := img.Bounds()
	if uint(bounds.Dx()) <= maxDim && uint(bounds.Dy()) <= maxDim {
		return data, false, nil
	}

	resized := resize.Thumbnail(maxDim, maxDim, img, resize.Lanczos3)
	var buf bytes.Buffer
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85})
	case "png":
		err = png.Encode(&buf, resized)
	default:
		return data, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to re-encode resized image: %w", err)
	}
	return buf.Bytes(), true, nil
}

func replaceFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

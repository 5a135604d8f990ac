package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"

	"github.com/Qrinee/m2backend/internal/config"
	"github.com/Qrinee/m2backend/internal/utils"
)

func newTestConfig() *config.Config {
	return &config.Config{
		AppName:             "M2 Nieruchomości",
		SiteURL:             "https://m2.example.pl",
		SmtpFromAddress:     "noreply@m2.example.pl",
		AdminEmail:          "admin@m2.example.pl",
		ContactEmail:        "kontakt@m2.example.pl",
		NotifyMode:          config.NotifyModeSync,
		MinPasswordLength:   6,
		BcryptCost:          bcrypt.MinCost,
		PasswordResetTTL:    time.Hour,
		DefaultListingLimit: 10,
		DefaultInquiryLimit: 20,
		DefaultReelLimit:    12,
		DefaultBlogLimit:    9,
		MaxPageLimit:        100,
	}
}

// setupServiceDB returns a fresh database dropped after the test.
func setupServiceDB(t *testing.T, collections ...string) *mongo.Database {
	t.Helper()
	dbName := fmt.Sprintf("testdb_services_%d", time.Now().UnixNano())
	database := utils.SetupTestDB(t, dbName, collections...)
	t.Cleanup(func() {
		if err := database.Drop(context.Background()); err != nil {
			t.Logf("Failed to drop database %s: %v", dbName, err)
		}
	})
	return database
}

type sentMail struct {
	To      []string
	Subject string
	Raw     string
}

// recordingSender keeps every message instead of sending it.
type recordingSender struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (r *recordingSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sentMail{To: to, Subject: subject, Raw: string(rawMessage)})
	return nil
}

func (r *recordingSender) Sent() []sentMail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMail(nil), r.sent...)
}

type recordingQueue struct {
	ids []primitive.ObjectID
	err error
}

func (q *recordingQueue) EnqueueInquiryNotification(ctx context.Context, inquiryID primitive.ObjectID) error {
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, inquiryID)
	return nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Qrinee/m2backend/internal/config"
	"github.com/Qrinee/m2backend/internal/email"
	"github.com/Qrinee/m2backend/internal/metrics"
	"github.com/Qrinee/m2backend/internal/models"
)

// ErrNoRecipient is returned when the inbox for a notification is not configured.
var ErrNoRecipient = errors.New("no notification recipient configured")

// NotificationQueue hands inquiry notifications to a background worker.
type NotificationQueue interface {
	EnqueueInquiryNotification(ctx context.Context, inquiryID primitive.ObjectID) error
}

// INotificationService renders notifications and hands them to the mail transport.
type INotificationService interface {
	// NotifyInquiry delivers now, or queues when asynchronous delivery is configured.
	NotifyInquiry(ctx context.Context, inquiry *models.Inquiry) (queued bool, err error)
	// DeliverInquiry sends every notification for an inquiry synchronously.
	DeliverInquiry(ctx context.Context, inquiry *models.Inquiry) error
	SendPasswordReset(ctx context.Context, user *models.User, token string, expiresAt time.Time) error
	SetQueue(queue NotificationQueue)
}

var inquiryTitles = map[models.FormType]string{
	models.FormTypeProperty:           "Nowe zapytanie o nieruchomość",
	models.FormTypeLoan:               "Nowe zapytanie kredytowe",
	models.FormTypeContact:            "Nowa wiadomość kontaktowa",
	models.FormTypePropertySubmission: "Nowe zgłoszenie nieruchomości",
	models.FormTypePartner:            "Nowa propozycja współpracy partnerskiej",
	models.FormTypeEmployee:           "Nowa aplikacja rekrutacyjna",
}

// recipientPlan says who is told about an inquiry of a given type.
type recipientPlan struct {
	inbox        string
	confirmation bool
}

// notificationService implements INotificationService.
type notificationService struct {
	cfg       *config.Config
	sender    email.Sender
	templates IEmailTemplateService
	queue     NotificationQueue
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(cfg *config.Config, sender email.Sender, templates IEmailTemplateService) INotificationService {
	return &notificationService{cfg: cfg, sender: sender, templates: templates}
}

// SetQueue allows setting the queue after initialization to break a cycle.
func (s *notificationService) SetQueue(queue NotificationQueue) {
	s.queue = queue
}

func (s *notificationService) planFor(t models.FormType) recipientPlan {
	switch t {
	case models.FormTypeProperty, models.FormTypeLoan:
		return recipientPlan{inbox: s.cfg.AdminEmail, confirmation: true}
	default:
		return recipientPlan{inbox: s.cfg.ContactInbox()}
	}
}

func (s *notificationService) NotifyInquiry(ctx context.Context, inquiry *models.Inquiry) (bool, error) {
	if s.cfg.NotifyMode == config.NotifyModeAsync && s.queue != nil {
		err := s.queue.EnqueueInquiryNotification(ctx, inquiry.ID)
		if err == nil {
			return true, nil
		}
		log.Printf("Failed to enqueue notification for inquiry %s, delivering inline: %v", inquiry.ID.Hex(), err)
	}
	return false, s.DeliverInquiry(ctx, inquiry)
}

func (s *notificationService) DeliverInquiry(ctx context.Context, inquiry *models.Inquiry) error {
	plan := s.planFor(inquiry.FormType)
	data := s.inquiryData(inquiry)

	var errs []error
	if plan.inbox == "" {
		errs = append(errs, fmt.Errorf("%s: %w", inquiry.FormType, ErrNoRecipient))
	} else if err := s.send(ctx, TemplateInquiryAdmin, plan.inbox, inquiry.Email, data); err != nil {
		errs = append(errs, fmt.Errorf("admin notification: %w", err))
	}
	if plan.confirmation {
		if err := s.send(ctx, TemplateInquiryConfirmation, inquiry.Email, "", data); err != nil {
			errs = append(errs, fmt.Errorf("confirmation to %s: %w", inquiry.Email, err))
		}
	}

	err := errors.Join(errs...)
	metrics.RecordNotification(string(inquiry.FormType), err)
	return err
}

func (s *notificationService) SendPasswordReset(ctx context.Context, user *models.User, token string, expiresAt time.Time) error {
	data := TemplateData{
		AppName:   s.cfg.AppName,
		SiteURL:   s.cfg.SiteURL,
		Name:      user.FullName(),
		Email:     user.Email,
		Link:      s.cfg.SiteURL + "/reset-password?token=" + url.QueryEscape(token),
		ExpiresAt: expiresAt.Format("02.01.2006 15:04 MST"),
	}
	return s.send(ctx, TemplatePasswordReset, user.Email, "", data)
}

func (s *notificationService) send(ctx context.Context, templateID, to, replyTo string, data TemplateData) error {
	rendered, err := s.templates.Render(ctx, templateID, data)
	if err != nil {
		return err
	}
	msg := email.Message{
		From:       s.cfg.SmtpFromAddress,
		To:         []string{to},
		ReplyTo:    replyTo,
		Subject:    rendered.Subject,
		HTMLBody:   rendered.HTMLBody,
		TemplateID: templateID,
	}
	return s.sender.Send(ctx, msg.To, msg.Subject, msg.Bytes())
}

func (s *notificationService) inquiryData(inquiry *models.Inquiry) TemplateData {
	submitted := inquiry.CreatedAt
	if submitted.IsZero() {
		submitted = time.Now().UTC()
	}
	return TemplateData{
		AppName:     s.cfg.AppName,
		SiteURL:     s.cfg.SiteURL,
		Title:       inquiryTitles[inquiry.FormType],
		Name:        inquiry.Name,
		Email:       inquiry.Email,
		Phone:       inquiry.Phone,
		Fields:      inquiryFields(inquiry.Payload),
		SubmittedAt: submitted.Format("02.01.2006 15:04"),
	}
}

func orNotGiven(v string) string {
	if v == "" {
		return "Nie podano"
	}
	return v
}

// inquiryFields lists the payload values shown in notifications.
func inquiryFields(payload models.InquiryPayload) []NotificationField {
	switch p := payload.(type) {
	case *models.PropertyInquiry:
		return []NotificationField{
			{"Nieruchomość", p.PropertyName},
			{"Cena", orNotGiven(p.PropertyPrice)},
			{"Lokalizacja", orNotGiven(p.PropertyLocation)},
			{"Wiadomość", orNotGiven(p.Message)},
		}
	case *models.LoanInquiry:
		return []NotificationField{
			{"Cena nieruchomości", p.PropertyPrice},
			{"Wkład własny", orNotGiven(p.OwnContribution)},
			{"Okres kredytowania", orNotGiven(p.LoanTerm)},
			{"Rata miesięczna", orNotGiven(p.MonthlyPayment)},
			{"Oprocentowanie", orNotGiven(p.InterestRate)},
		}
	case *models.EmployeeInquiry:
		cv := "Nie"
		if p.CVFile != "" {
			cv = "Tak"
		}
		return []NotificationField{
			{"Wiadomość", p.Message},
			{"Załączone CV", cv},
		}
	case nil:
		return nil
	default:
		return []NotificationField{{"Wiadomość", orNotGiven(payload.Text())}}
	}
}

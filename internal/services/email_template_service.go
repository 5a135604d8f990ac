package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	texttemplate "text/template"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Qrinee/m2backend/internal/models"
)

// Template IDs of the built-in notifications.
const (
	TemplateInquiryAdmin        = "inquiry_admin"
	TemplateInquiryConfirmation = "inquiry_confirmation"
	TemplatePasswordReset       = "password_reset"

	DefaultLocale = "pl-PL"
)

const emailLayoutStart = `<!DOCTYPE html>
<html>
<head>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
    .container { max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background: #2c3e50; color: white; padding: 20px; text-align: center; }
    .content { background: #f9f9f9; padding: 20px; }
    .field { margin-bottom: 15px; }
    .footer { margin-top: 20px; padding: 20px; background: #ecf0f1; text-align: center; }
  </style>
</head>
<body>
  <div class="container">`

const emailLayoutEnd = `
    <div class="footer"><p>{{.AppName}}</p></div>
  </div>
</body>
</html>`

// Default email templates used as fallback when not found in database
var defaultEmailTemplates = map[string]models.EmailTemplate{
	TemplateInquiryAdmin: {
		TemplateID: TemplateInquiryAdmin,
		Locale:     DefaultLocale,
		Subject:    "{{.Title}}: {{.Name}}",
		Body: emailLayoutStart + `
    <div class="header"><h1>{{.Title}}</h1></div>
    <div class="content">
      <div class="field"><strong>Imię i nazwisko:</strong> {{.Name}}</div>
      <div class="field"><strong>Email:</strong> {{.Email}}</div>
      <div class="field"><strong>Telefon:</strong> {{if .Phone}}{{.Phone}}{{else}}Nie podano{{end}}</div>
      {{range .Fields}}<div class="field"><strong>{{.Label}}:</strong> {{.Value}}</div>
      {{end}}<div class="field"><strong>Data:</strong> {{.SubmittedAt}}</div>
    </div>` + emailLayoutEnd,
	},
	TemplateInquiryConfirmation: {
		TemplateID: TemplateInquiryConfirmation,
		Locale:     DefaultLocale,
		Subject:    "Potwierdzenie otrzymania zapytania - {{.AppName}}",
		Body: emailLayoutStart + `
    <div class="header"><h1>Dziękujemy za zapytanie</h1></div>
    <div class="content">
      <p>Dzień dobry {{.Name}},</p>
      <p>otrzymaliśmy Twoje zapytanie ({{.Title}}). Nasz doradca skontaktuje się z Tobą wkrótce.</p>
      {{range .Fields}}<div class="field"><strong>{{.Label}}:</strong> {{.Value}}</div>
      {{end}}
    </div>` + emailLayoutEnd,
	},
	TemplatePasswordReset: {
		TemplateID: TemplatePasswordReset,
		Locale:     DefaultLocale,
		Subject:    "Reset hasła - {{.AppName}}",
		Body: emailLayoutStart + `
    <div class="header"><h1>Reset hasła</h1></div>
    <div class="content">
      <p>Dzień dobry {{.Name}},</p>
      <p>aby ustawić nowe hasło kliknij w link: <a href="{{.Link}}">{{.Link}}</a></p>
      <p>Link wygasa {{.ExpiresAt}}. Jeśli to nie Ty prosiłeś o reset, zignoruj tę wiadomość.</p>
    </div>` + emailLayoutEnd,
	},
}

// NotificationField is one labelled value shown in a notification.
type NotificationField struct {
	Label string
	Value string
}

// TemplateData is what every notification template is rendered with.
type TemplateData struct {
	AppName     string
	SiteURL     string
	Title       string
	Name        string
	Email       string
	Phone       string
	Fields      []NotificationField
	SubmittedAt string
	Link        string
	ExpiresAt   string
}

// RenderedEmail is a rendered subject and HTML body.
type RenderedEmail struct {
	TemplateID string
	Subject    string
	HTMLBody   string
}

// IEmailTemplateService defines the interface for email template operations.
type IEmailTemplateService interface {
	GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error)
	Render(ctx context.Context, templateID string, data TemplateData) (*RenderedEmail, error)
}

const emailTemplatesCollection = "email_templates"

// EmailTemplateService handles operations related to email templates
type EmailTemplateService struct {
	db *mongo.Database
}

// NewEmailTemplateService creates a new instance of EmailTemplateService.
// A nil database serves the built-in templates only.
func NewEmailTemplateService(db *mongo.Database) *EmailTemplateService {
	return &EmailTemplateService{
		db: db,
	}
}

// GetTemplate retrieves an email template by ID and locale, falling back to the built-in one.
func (s *EmailTemplateService) GetTemplate(ctx context.Context, templateID string, locale string) (*models.EmailTemplate, error) {
	if s.db != nil {
		filter := bson.M{
			"templateId": templateID,
			"locale":     locale,
		}
		var tmpl models.EmailTemplate
		err := s.db.Collection(emailTemplatesCollection).FindOne(ctx, filter).Decode(&tmpl)
		if err == nil {
			return &tmpl, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("error retrieving template: %w", err)
		}
	}

	if defaultTemplate, ok := defaultEmailTemplates[templateID]; ok {
		return &defaultTemplate, nil
	}
	return nil, fmt.Errorf("template not found: %s (locale: %s)", templateID, locale)
}

// Render fills the subject and body of a template. Values are HTML-escaped in the body.
func (s *EmailTemplateService) Render(ctx context.Context, templateID string, data TemplateData) (*RenderedEmail, error) {
	tmpl, err := s.GetTemplate(ctx, templateID, DefaultLocale)
	if err != nil {
		return nil, err
	}

	subjectTmpl, err := texttemplate.New(templateID + "_subject").Parse(tmpl.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid subject template %s: %w", templateID, err)
	}
	bodyTmpl, err := template.New(templateID + "_body").Parse(tmpl.Body)
	if err != nil {
		return nil, fmt.Errorf("invalid body template %s: %w", templateID, err)
	}

	var subject, body bytes.Buffer
	if err := subjectTmpl.Execute(&subject, data); err != nil {
		return nil, fmt.Errorf("failed to render subject of %s: %w", templateID, err)
	}
	if err := bodyTmpl.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("failed to render body of %s: %w", templateID, err)
	}
	return &RenderedEmail{TemplateID: templateID, Subject: subject.String(), HTMLBody: body.String()}, nil
}

// SaveTemplate saves an email template to the database
func (s *EmailTemplateService) SaveTemplate(ctx context.Context, tmpl *models.EmailTemplate) error {
	filter := bson.M{
		"templateId": tmpl.TemplateID,
		"locale":     tmpl.Locale,
	}
	update := bson.M{"$set": bson.M{
		"templateId": tmpl.TemplateID,
		"locale":     tmpl.Locale,
		"subject":    tmpl.Subject,
		"body":       tmpl.Body,
	}}
	opts := options.Update().SetUpsert(true)

	_, err := s.db.Collection(emailTemplatesCollection).UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("error saving template: %w", err)
	}
	return nil
}

// DeleteTemplate deletes an email template from the database
func (s *EmailTemplateService) DeleteTemplate(ctx context.Context, templateID string, locale string) error {
	filter := bson.M{
		"templateId": templateID,
		"locale":     locale,
	}
	_, err := s.db.Collection(emailTemplatesCollection).DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("error deleting template: %w", err)
	}
	return nil
}

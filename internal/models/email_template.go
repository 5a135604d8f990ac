package models

// EmailTemplate is a stored override of a built-in notification template.
type EmailTemplate struct {
	Base       `bson:",inline"`
	TemplateID string `bson:"templateId" json:"templateId"` // e.g. "inquiry_admin", "password_reset"
	Locale     string `bson:"locale" json:"locale"`         // e.g. "pl-PL"
	Subject    string `bson:"subject" json:"subject"`       // Subject template
	Body       string `bson:"body" json:"body"`             // HTML body template
}

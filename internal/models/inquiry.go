package models

import (
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FormType tags which payload an inquiry carries.
type FormType string

const (
	FormTypeProperty           FormType = "property_inquiry"
	FormTypeLoan               FormType = "loan_inquiry"
	FormTypeContact            FormType = "contact_inquiry"
	FormTypePropertySubmission FormType = "property_submission"
	FormTypePartner            FormType = "partner_inquiry"
	FormTypeEmployee           FormType = "employee_inquiry"
)

// FormTypes lists every known form type.
var FormTypes = []FormType{
	FormTypeProperty,
	FormTypeLoan,
	FormTypeContact,
	FormTypePropertySubmission,
	FormTypePartner,
	FormTypeEmployee,
}

func (t FormType) Valid() bool {
	_, err := NewInquiryPayload(t)
	return err == nil
}

// PayloadField is the name of the sub-document holding the payload for t.
func (t FormType) PayloadField() string {
	switch t {
	case FormTypeProperty:
		return "propertyInquiry"
	case FormTypeLoan:
		return "loanInquiry"
	case FormTypeContact:
		return "contactInquiry"
	case FormTypePropertySubmission:
		return "propertySubmission"
	case FormTypePartner:
		return "partnerInquiry"
	case FormTypeEmployee:
		return "employeeInquiry"
	}
	return ""
}

// InquiryStatus is the handling state of an inquiry.
type InquiryStatus string

const (
	InquiryStatusNew       InquiryStatus = "new"
	InquiryStatusContacted InquiryStatus = "contacted"
	InquiryStatusReplied   InquiryStatus = "replied"
	InquiryStatusClosed    InquiryStatus = "closed"
	InquiryStatusArchived  InquiryStatus = "archived"
)

var InquiryStatuses = []InquiryStatus{
	InquiryStatusNew,
	InquiryStatusContacted,
	InquiryStatusReplied,
	InquiryStatusClosed,
	InquiryStatusArchived,
}

func (s InquiryStatus) Valid() bool {
	for _, v := range InquiryStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Priority of an inquiry.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// InquiryPayload is the type-specific part of an inquiry.
type InquiryPayload interface {
	FormType() FormType
	Text() string
}

type PropertyInquiry struct {
	PropertyID       primitive.ObjectID `bson:"propertyId" json:"propertyId"`
	PropertyName     string             `bson:"propertyName" json:"propertyName"`
	PropertyPrice    string             `bson:"propertyPrice" json:"propertyPrice"`
	PropertyLocation string             `bson:"propertyLocation" json:"propertyLocation"`
	Message          string             `bson:"message" json:"message"`
}

type LoanInquiry struct {
	PropertyPrice   string `bson:"propertyPrice" json:"propertyPrice"`
	OwnContribution string `bson:"ownContribution" json:"ownContribution"`
	LoanTerm        string `bson:"loanTerm" json:"loanTerm"`
	MonthlyPayment  string `bson:"monthlyPayment" json:"monthlyPayment"`
	InterestRate    string `bson:"interestRate" json:"interestRate"`
}

type ContactInquiry struct {
	Message      string `bson:"message" json:"message"`
	GdprAccepted bool   `bson:"gdprAccepted" json:"gdprAccepted"`
}

type PropertySubmission struct {
	Message string `bson:"message" json:"message"`
}

type PartnerInquiry struct {
	Message string `bson:"message" json:"message"`
}

type EmployeeInquiry struct {
	Message string `bson:"message" json:"message"`
	CVFile  string `bson:"cvFile" json:"cvFile"`
}

func (*PropertyInquiry) FormType() FormType    { return FormTypeProperty }
func (*LoanInquiry) FormType() FormType        { return FormTypeLoan }
func (*ContactInquiry) FormType() FormType     { return FormTypeContact }
func (*PropertySubmission) FormType() FormType { return FormTypePropertySubmission }
func (*PartnerInquiry) FormType() FormType     { return FormTypePartner }
func (*EmployeeInquiry) FormType() FormType    { return FormTypeEmployee }

func (p *PropertyInquiry) Text() string    { return p.Message }
func (*LoanInquiry) Text() string          { return "" }
func (p *ContactInquiry) Text() string     { return p.Message }
func (p *PropertySubmission) Text() string { return p.Message }
func (p *PartnerInquiry) Text() string     { return p.Message }
func (p *EmployeeInquiry) Text() string    { return p.Message }

// NewInquiryPayload returns an empty payload for t.
func NewInquiryPayload(t FormType) (InquiryPayload, error) {
	switch t {
	case FormTypeProperty:
		return &PropertyInquiry{}, nil
	case FormTypeLoan:
		return &LoanInquiry{}, nil
	case FormTypeContact:
		return &ContactInquiry{}, nil
	case FormTypePropertySubmission:
		return &PropertySubmission{}, nil
	case FormTypePartner:
		return &PartnerInquiry{}, nil
	case FormTypeEmployee:
		return &EmployeeInquiry{}, nil
	}
	return nil, fmt.Errorf("unknown form type %q", t)
}

// InternalNote is one entry of an inquiry's handling log.
type InternalNote struct {
	At     time.Time `bson:"at" json:"at"`
	Author string    `bson:"author" json:"author"`
	Text   string    `bson:"text" json:"text"`
}

// Inquiry is a submitted form. Payload's concrete type always matches FormType,
// and only that payload's sub-document is stored.
type Inquiry struct {
	Base
	FormType      FormType
	Name          string
	Email         string
	Phone         string
	Payload       InquiryPayload
	IPAddress     string
	UserAgent     string
	Status        InquiryStatus
	Priority      Priority
	Tags          []string
	AssignedTo    *primitive.ObjectID
	InternalNotes []InternalNote
	Timestamps
}

// inquiryDoc is the stored and serialised shape of Inquiry.
type inquiryDoc struct {
	ID                 primitive.ObjectID  `bson:"_id,omitempty" json:"_id"`
	FormType           FormType            `bson:"formType" json:"formType"`
	Name               string              `bson:"name" json:"name"`
	Email              string              `bson:"email" json:"email"`
	Phone              string              `bson:"phone,omitempty" json:"phone,omitempty"`
	PropertyInquiry    *PropertyInquiry    `bson:"propertyInquiry,omitempty" json:"propertyInquiry,omitempty"`
	LoanInquiry        *LoanInquiry        `bson:"loanInquiry,omitempty" json:"loanInquiry,omitempty"`
	ContactInquiry     *ContactInquiry     `bson:"contactInquiry,omitempty" json:"contactInquiry,omitempty"`
	PropertySubmission *PropertySubmission `bson:"propertySubmission,omitempty" json:"propertySubmission,omitempty"`
	PartnerInquiry     *PartnerInquiry     `bson:"partnerInquiry,omitempty" json:"partnerInquiry,omitempty"`
	EmployeeInquiry    *EmployeeInquiry    `bson:"employeeInquiry,omitempty" json:"employeeInquiry,omitempty"`
	IPAddress          string              `bson:"ipAddress,omitempty" json:"ipAddress,omitempty"`
	UserAgent          string              `bson:"userAgent,omitempty" json:"userAgent,omitempty"`
	Status             InquiryStatus       `bson:"status" json:"status"`
	Priority           Priority            `bson:"priority,omitempty" json:"priority,omitempty"`
	Tags               []string            `bson:"tags" json:"tags"`
	AssignedTo         *primitive.ObjectID `bson:"assignedTo,omitempty" json:"assignedTo,omitempty"`
	InternalNotes      []InternalNote      `bson:"internalNotes" json:"internalNotes"`
	CreatedAt          time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt          time.Time           `bson:"updatedAt" json:"updatedAt"`
}

func (i *Inquiry) toDoc() (inquiryDoc, error) {
	doc := inquiryDoc{
		ID:            i.ID,
		FormType:      i.FormType,
		Name:          i.Name,
		Email:         i.Email,
		Phone:         i.Phone,
		IPAddress:     i.IPAddress,
		UserAgent:     i.UserAgent,
		Status:        i.Status,
		Priority:      i.Priority,
		Tags:          i.Tags,
		AssignedTo:    i.AssignedTo,
		InternalNotes: i.InternalNotes,
		CreatedAt:     i.CreatedAt,
		UpdatedAt:     i.UpdatedAt,
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	if doc.InternalNotes == nil {
		doc.InternalNotes = []InternalNote{}
	}
	if i.Payload == nil {
		return doc, fmt.Errorf("inquiry %s has no payload", i.FormType)
	}
	if i.Payload.FormType() != i.FormType {
		return doc, fmt.Errorf("payload %s does not match form type %s", i.Payload.FormType(), i.FormType)
	}
	switch p := i.Payload.(type) {
	case *PropertyInquiry:
		doc.PropertyInquiry = p
	case *LoanInquiry:
		doc.LoanInquiry = p
	case *ContactInquiry:
		doc.ContactInquiry = p
	case *PropertySubmission:
		doc.PropertySubmission = p
	case *PartnerInquiry:
		doc.PartnerInquiry = p
	case *EmployeeInquiry:
		doc.EmployeeInquiry = p
	default:
		return doc, fmt.Errorf("unsupported payload type %T", i.Payload)
	}
	return doc, nil
}

func (i *Inquiry) fromDoc(doc inquiryDoc) error {
	var payload InquiryPayload
	switch doc.FormType {
	case FormTypeProperty:
		if doc.PropertyInquiry == nil {
			doc.PropertyInquiry = &PropertyInquiry{}
		}
		payload = doc.PropertyInquiry
	case FormTypeLoan:
		if doc.LoanInquiry == nil {
			doc.LoanInquiry = &LoanInquiry{}
		}
		payload = doc.LoanInquiry
	case FormTypeContact:
		if doc.ContactInquiry == nil {
			doc.ContactInquiry = &ContactInquiry{}
		}
		payload = doc.ContactInquiry
	case FormTypePropertySubmission:
		if doc.PropertySubmission == nil {
			doc.PropertySubmission = &PropertySubmission{}
		}
		payload = doc.PropertySubmission
	case FormTypePartner:
		if doc.PartnerInquiry == nil {
			doc.PartnerInquiry = &PartnerInquiry{}
		}
		payload = doc.PartnerInquiry
	case FormTypeEmployee:
		if doc.EmployeeInquiry == nil {
			doc.EmployeeInquiry = &EmployeeInquiry{}
		}
		payload = doc.EmployeeInquiry
	default:
		return fmt.Errorf("unknown form type %q", doc.FormType)
	}

	*i = Inquiry{
		Base:          Base{ID: doc.ID},
		FormType:      doc.FormType,
		Name:          doc.Name,
		Email:         doc.Email,
		Phone:         doc.Phone,
		Payload:       payload,
		IPAddress:     doc.IPAddress,
		UserAgent:     doc.UserAgent,
		Status:        doc.Status,
		Priority:      doc.Priority,
		Tags:          doc.Tags,
		AssignedTo:    doc.AssignedTo,
		InternalNotes: doc.InternalNotes,
		Timestamps:    Timestamps{CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt},
	}
	return nil
}

// MarshalBSON writes only the payload sub-document matching FormType.
func (i Inquiry) MarshalBSON() ([]byte, error) {
	doc, err := i.toDoc()
	if err != nil {
		return nil, err
	}
	return bson.Marshal(doc)
}

// UnmarshalBSON picks the payload by formType.
func (i *Inquiry) UnmarshalBSON(data []byte) error {
	var doc inquiryDoc
	if err := bson.Unmarshal(data, &doc); err != nil {
		return err
	}
	return i.fromDoc(doc)
}

func (i Inquiry) MarshalJSON() ([]byte, error) {
	doc, err := i.toDoc()
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func (i *Inquiry) UnmarshalJSON(data []byte) error {
	var doc inquiryDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	return i.fromDoc(doc)
}

package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LinkedActionType defines the different types of actions confirmed via links.
type LinkedActionType string

const (
	ActionPasswordReset LinkedActionType = "password_reset"
)

// PasswordReset is a single-use action confirmed through an emailed link.
// Token is the secret part of the link; the document _id is never exposed.
type PasswordReset struct {
	Base       `bson:",inline"`
	UserID     primitive.ObjectID `bson:"user" json:"user"`
	Type       LinkedActionType   `bson:"type" json:"type"`
	Token      string             `bson:"token" json:"-"`
	CreatedAt  time.Time          `bson:"createdAt" json:"createdAt"`
	ExpiresAt  time.Time          `bson:"expiresAt" json:"expiresAt"`
	ExecutedAt *time.Time         `bson:"executedAt,omitempty" json:"executedAt,omitempty"`
}

package models

import "go.mongodb.org/mongo-driver/bson/primitive"

const (
	ReelTitleMaxLen       = 60
	ReelDescriptionMaxLen = 150
	DefaultReelDuration   = "0:00"
)

// Reel is a short video published by a user.
type Reel struct {
	Base        `bson:",inline"`
	User        primitive.ObjectID `bson:"user" json:"user"`
	Title       string             `bson:"title" json:"title"`
	Description string             `bson:"description,omitempty" json:"description"`
	VideoURL    string             `bson:"videoUrl" json:"videoUrl"`
	Duration    string             `bson:"duration" json:"duration"`
	IsPublished bool               `bson:"isPublished" json:"isPublished"`
	Featured    bool               `bson:"featured" json:"featured"`
	Timestamps  `bson:",inline"`
}

// ReelView is a reel with its owner populated.
type ReelView struct {
	Reel    `bson:",inline"`
	Owner   *OwnerView `bson:"owner,omitempty" json:"user"`
	CanEdit *bool      `bson:"-" json:"canEdit,omitempty"`
}

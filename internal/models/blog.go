package models

import (
	"encoding/json"
	"time"
)

// Blog is a published article. Text and ImageSrc are exposed as content and image.
type Blog struct {
	Base       `bson:",inline"`
	Title      string    `bson:"title" json:"title"`
	Text       string    `bson:"text" json:"-"`
	Excerpt    string    `bson:"excerpt" json:"excerpt"`
	ImageSrc   string    `bson:"imageSrc,omitempty" json:"-"`
	Date       time.Time `bson:"date" json:"date"`
	Timestamps `bson:",inline"`
}

func (b Blog) MarshalJSON() ([]byte, error) {
	type blogJSON struct {
		ID        string    `json:"_id"`
		Title     string    `json:"title"`
		Content   string    `json:"content"`
		Excerpt   string    `json:"excerpt"`
		Image     string    `json:"image"`
		Date      time.Time `json:"date"`
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}
	return json.Marshal(blogJSON{
		ID:        b.ID.Hex(),
		Title:     b.Title,
		Content:   b.Text,
		Excerpt:   b.Excerpt,
		Image:     b.ImageSrc,
		Date:      b.Date,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	})
}

// ArchiveBucket counts posts published in one month.
type ArchiveBucket struct {
	Year  int `bson:"year" json:"year"`
	Month int `bson:"month" json:"month"`
	Count int `bson:"count" json:"count"`
}

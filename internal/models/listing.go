package models

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Stored listing status vocabulary.
const (
	ListingStatusForSale = "na_sprzedaz"
	ListingStatusForRent = "do_wynajecia"
)

// ListingLocation holds the address fields of a listing. Coordinates are kept as strings.
type ListingLocation struct {
	Address string `bson:"address,omitempty" json:"address"`
	Region  string `bson:"region,omitempty" json:"region"`
	City    string `bson:"city,omitempty" json:"city"`
	Lat     string `bson:"lat,omitempty" json:"lat,omitempty"`
	Lng     string `bson:"lng,omitempty" json:"lng,omitempty"`
}

// ListingDetails holds optional numeric attributes plus free-form extras.
type ListingDetails struct {
	AreaM2    *float64               `bson:"areaM2,omitempty" json:"areaM2,omitempty"`
	Rooms     *int                   `bson:"rooms,omitempty" json:"rooms,omitempty"`
	Bathrooms *int                   `bson:"bathrooms,omitempty" json:"bathrooms,omitempty"`
	YearBuilt *int                   `bson:"yearBuilt,omitempty" json:"yearBuilt,omitempty"`
	Floor     *int                   `bson:"floor,omitempty" json:"floor,omitempty"`
	Extra     map[string]interface{} `bson:"extra,omitempty" json:"extra,omitempty"`
}

// MediaFile is a stored upload attached to a listing.
type MediaFile struct {
	ID           primitive.ObjectID `bson:"_id" json:"_id"`
	Filename     string             `bson:"filename" json:"filename"`
	OriginalName string             `bson:"originalName" json:"originalName"`
	Path         string             `bson:"path" json:"path"`
	Mimetype     string             `bson:"mimetype" json:"mimetype"`
	Size         int64              `bson:"size" json:"size"`
	IsCover      bool               `bson:"isCover" json:"isCover"`
	UploadDate   time.Time          `bson:"uploadDate" json:"uploadDate"`
}

// Listing represents a property offer.
type Listing struct {
	Base        `bson:",inline"`
	User        primitive.ObjectID `bson:"user" json:"user"`
	Name        string             `bson:"name" json:"name"`
	Description string             `bson:"description" json:"description"`
	Price       string             `bson:"price" json:"price"`
	PriceNum    float64            `bson:"priceNum" json:"priceNum"`
	Category    string             `bson:"category" json:"category"`
	Status      string             `bson:"status" json:"status"`
	Location    ListingLocation    `bson:"location" json:"location"`
	Details     ListingDetails     `bson:"details" json:"details"`
	Files       []MediaFile        `bson:"files" json:"files"`
	IsActive    bool               `bson:"isActive" json:"isActive"`
	Timestamps  `bson:",inline"`
}

// SetPrice stores the raw price and recomputes PriceNum.
func (l *Listing) SetPrice(raw string) {
	l.Price = raw
	l.PriceNum = ParsePrice(raw)
}

// Cover returns the cover file, or nil.
func (l *Listing) Cover() *MediaFile {
	for i := range l.Files {
		if l.Files[i].IsCover {
			return &l.Files[i]
		}
	}
	return nil
}

// ListingView is a listing with its owner populated.
type ListingView struct {
	Listing `bson:",inline"`
	Owner   *OwnerView `bson:"owner,omitempty" json:"user"`
	IsOwner *bool      `bson:"-" json:"isOwner,omitempty"`
}

var priceJunk = regexp.MustCompile(`[^\d.,]`)

// ParsePrice extracts a number from a display price such as "450 000 zł",
// "1.250.000", "1 234,50" or "12.5". Anything unparseable yields 0.
//
// Rules: with both separators present the last one is the decimal point.
// A separator repeated more than once is a thousands separator. A single
// separator followed by exactly three digits is a thousands separator;
// otherwise it is the decimal point.
func ParsePrice(raw string) float64 {
	s := priceJunk.ReplaceAllString(raw, "")
	if s == "" {
		return 0
	}

	commas := strings.Count(s, ",")
	dots := strings.Count(s, ".")

	switch {
	case commas > 0 && dots > 0:
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case commas > 1:
		s = strings.ReplaceAll(s, ",", "")
	case dots > 1:
		s = strings.ReplaceAll(s, ".", "")
	case commas == 1 || dots == 1:
		sep := ","
		if dots == 1 {
			sep = "."
		}
		idx := strings.Index(s, sep)
		if len(s)-idx-1 == 3 && idx > 0 {
			s = strings.Replace(s, sep, "", 1)
		} else {
			s = strings.Replace(s, sep, ".", 1)
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

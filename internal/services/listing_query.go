package services

import (
	"regexp"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Qrinee/m2backend/internal/auth"
	"github.com/Qrinee/m2backend/internal/config"
	"github.com/Qrinee/m2backend/internal/models"
	"github.com/Qrinee/m2backend/internal/utils"
)

// ListingQuery holds the raw listing search parameters as sent by the client.
// Every field is optional; unparseable numeric values are ignored.
type ListingQuery struct {
	Search   string `form:"search"`
	Category string `form:"kategoria"`
	Status   string `form:"status"`
	Type     string `form:"typ"`
	Region   string `form:"wojewodztwo"`
	City     string `form:"miasto"`
	PriceMin string `form:"cenaMin"`
	PriceMax string `form:"cenaMax"`
	AreaMin  string `form:"powierzchniaMin"`
	AreaMax  string `form:"powierzchniaMax"`
	Rooms    string `form:"pokoje"`
	Sort     string `form:"sort"`
	Page     string `form:"page"`
	Limit    string `form:"limit"`
	My       string `form:"my"`

	// Advanced widens search to description, city and region.
	Advanced bool `form:"-"`
	// IsActive restricts admin listings; ignored by public queries.
	IsActive *bool `form:"-"`
}

// listingTypeStatus maps the offer type to the stored status vocabulary.
var listingTypeStatus = map[string]string{
	"sprzedaz": models.ListingStatusForSale,
	"wynajem":  models.ListingStatusForRent,
}

// BuildListingFilter composes the public filter. Only active listings match, except for
// my=true with an authenticated caller, which matches all of the caller's own listings.
func BuildListingFilter(q ListingQuery, caller *auth.Principal) bson.M {
	filter := bson.M{"isActive": true}
	if q.My == "true" && caller != nil {
		delete(filter, "isActive")
		filter["user"] = caller.UserID
	}
	addListingCriteria(filter, q)
	return filter
}

// BuildAdminListingFilter composes the filter for the admin listing, which sees inactive listings too.
func BuildAdminListingFilter(q ListingQuery) bson.M {
	filter := bson.M{}
	if q.IsActive != nil {
		filter["isActive"] = *q.IsActive
	}
	addListingCriteria(filter, q)
	return filter
}

func addListingCriteria(filter bson.M, q ListingQuery) {
	if search := strings.TrimSpace(q.Search); search != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(search), Options: "i"}
		if q.Advanced {
			filter["$or"] = bson.A{
				bson.M{"name": re},
				bson.M{"description": re},
				bson.M{"location.city": re},
				bson.M{"location.region": re},
			}
		} else {
			filter["name"] = re
		}
	}

	if v := strings.TrimSpace(q.Category); v != "" {
		filter["category"] = v
	}
	if v := strings.TrimSpace(q.Status); v != "" {
		filter["status"] = v
	}
	if status, ok := listingTypeStatus[strings.TrimSpace(q.Type)]; ok {
		filter["status"] = status
	}
	if v := strings.TrimSpace(q.Region); v != "" {
		filter["location.region"] = v
	}
	if v := strings.TrimSpace(q.City); v != "" {
		filter["location.city"] = v
	}

	if r := numberRange(q.PriceMin, q.PriceMax); r != nil {
		filter["priceNum"] = r
	}
	if r := numberRange(q.AreaMin, q.AreaMax); r != nil {
		filter["details.areaM2"] = r
	}
	if rooms, err := strconv.Atoi(strings.TrimSpace(q.Rooms)); err == nil {
		filter["details.rooms"] = rooms
	}
}

// numberRange builds an inclusive range; each bound is independent.
func numberRange(minStr, maxStr string) bson.M {
	r := bson.M{}
	if v, ok := parseNumber(minStr); ok {
		r["$gte"] = v
	}
	if v, ok := parseNumber(maxStr); ok {
		r["$lte"] = v
	}
	if len(r) == 0 {
		return nil
	}
	return r
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil || v != v { // NaN
		return 0, false
	}
	return v, true
}

// ListingSort maps a sort key to a sort document. Unknown keys sort newest first.
// _id is appended so equal keys keep a stable order across pages.
func ListingSort(key string) bson.D {
	field, dir := "createdAt", -1
	switch strings.TrimSpace(key) {
	case "cena-asc", "price-asc":
		field, dir = "priceNum", 1
	case "cena-desc", "price-desc":
		field, dir = "priceNum", -1
	case "data-asc", "date-asc":
		field, dir = "createdAt", 1
	case "data-desc", "date-desc":
		field, dir = "createdAt", -1
	case "powierzchnia-asc", "area-asc":
		field, dir = "details.areaM2", 1
	case "powierzchnia-desc", "area-desc":
		field, dir = "details.areaM2", -1
	}
	return bson.D{{Key: field, Value: dir}, {Key: "_id", Value: dir}}
}

// ListingPage normalises the page parameters of q.
func ListingPage(q ListingQuery, cfg *config.Config) utils.Page {
	return utils.ParsePage(q.Page, q.Limit, cfg.DefaultListingLimit, cfg.MaxPageLimit)
}

// Echo returns the non-empty parameters of q, keyed as the client sent them.
func (q ListingQuery) Echo() map[string]string {
	out := map[string]string{}
	add := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	add("search", q.Search)
	add("kategoria", q.Category)
	add("status", q.Status)
	add("typ", q.Type)
	add("wojewodztwo", q.Region)
	add("miasto", q.City)
	add("cenaMin", q.PriceMin)
	add("cenaMax", q.PriceMax)
	add("powierzchniaMin", q.AreaMin)
	add("powierzchniaMax", q.AreaMax)
	add("pokoje", q.Rooms)
	add("sort", q.Sort)
	return out
}

package utils

import (
	"errors"
	"math"
	"strconv"
)

// MaxPage bounds the requested page so Skip stays representable.
const MaxPage = math.MaxInt32

// Page is a normalised page request.
type Page struct {
	Page  int
	Limit int
}

// ParsePage reads page and limit query values. Missing, unparseable or
// non-positive values fall back to page 1 and defaultLimit; limit is capped at maxLimit.
// Pages beyond MaxPage, including ones too large to parse, become MaxPage.
func ParsePage(pageStr, limitStr string, defaultLimit, maxLimit int) Page {
	page, err := strconv.ParseInt(pageStr, 10, 64)
	if errors.Is(err, strconv.ErrRange) && page > 0 {
		page, err = MaxPage, nil
	}
	if err != nil || page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 {
		limit = defaultLimit
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	return Page{Page: int(page), Limit: limit}
}

// Skip is the number of documents before this page. It saturates at math.MaxInt64.
func (p Page) Skip() int64 {
	if p.Page <= 1 || p.Limit <= 0 {
		return 0
	}
	before, limit := int64(p.Page-1), int64(p.Limit)
	if before > math.MaxInt64/limit {
		return math.MaxInt64
	}
	return before * limit
}

// PastEnd reports whether the page starts after the last of total documents.
func (p Page) PastEnd(total int64) bool {
	return p.Skip() >= total && p.Page > 1
}

// TotalPages is ceil(total/limit).
func (p Page) TotalPages(total int64) int {
	if p.Limit <= 0 {
		return 0
	}
	return int((total + int64(p.Limit) - 1) / int64(p.Limit))
}

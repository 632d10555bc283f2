// Package models defines data structures for the catalog pipeline.
package models

import (
	"errors"
	"time"
)

// UnknownCategory is stored when a book's category could not be resolved.
const UnknownCategory = "Unknown"

// Rating is one of the five star labels used by the catalog.
type Rating string

const (
	RatingOne   Rating = "One"
	RatingTwo   Rating = "Two"
	RatingThree Rating = "Three"
	RatingFour  Rating = "Four"
	RatingFive  Rating = "Five"
)

// RatingOrder lists the labels from lowest to highest.
var RatingOrder = []Rating{RatingOne, RatingTwo, RatingThree, RatingFour, RatingFive}

// ErrInvalidRating is returned for labels outside RatingOrder.
var ErrInvalidRating = errors.New("invalid rating label")

// ParseRating maps a label to a Rating.
func ParseRating(label string) (Rating, error) {
	for _, r := range RatingOrder {
		if string(r) == label {
			return r, nil
		}
	}
	return "", ErrInvalidRating
}

// Ordinal returns 1..5 for valid ratings and 0 otherwise.
func (r Rating) Ordinal() int {
	for i, candidate := range RatingOrder {
		if candidate == r {
			return i + 1
		}
	}
	return 0
}

// Valid reports whether r is one of the five labels.
func (r Rating) Valid() bool {
	return r.Ordinal() > 0
}

// Category is the outcome of a detail-page lookup. The zero value is unresolved.
type Category struct {
	Name     string
	Resolved bool
}

// ResolvedCategory builds a resolved category.
func ResolvedCategory(name string) Category {
	return Category{Name: name, Resolved: true}
}

// Text collapses an unresolved category to UnknownCategory.
func (c Category) Text() string {
	if !c.Resolved || c.Name == "" {
		return UnknownCategory
	}
	return c.Name
}

// Listing is the raw data extracted from one product fragment of a catalog page.
type Listing struct {
	Title        string
	Price        string
	RatingCode   string
	Availability string
	ImageRef     string
	DetailRef    string
}

// Book is one normalized catalog record.
type Book struct {
	Title        string
	Price        string
	Rating       Rating
	Availability string
	ImageURL     string
	ProductURL   string
	Category     Category
}

// Collection is an ordered sequence of books in scrape order.
type Collection []Book

// StopReason explains why pagination ended.
type StopReason string

const (
	StopLimitReached    StopReason = "limit_reached"
	StopEmptyPage       StopReason = "empty_page"
	StopPageUnavailable StopReason = "page_unavailable"
	StopFetchError      StopReason = "fetch_error"
)

// BuildResult holds the overall result of one collection build.
type BuildResult struct {
	Books      Collection
	Limit      int
	PageCount  int
	StopReason StopReason
	Err        error
	StartTime  time.Time
	EndTime    time.Time
}

// Partial reports whether pagination ended early because of a failure.
func (r *BuildResult) Partial() bool {
	return r.Err != nil
}

package parser

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-book-catalog/models"
)

const (
	// CataloguePrefix is the directory that holds product pages on the source site.
	CataloguePrefix = "catalogue/"
	parentPrefix    = "../"
)

// NewBook normalizes a listing into a Book. Listings with a missing title,
// price, or detail reference, or a rating outside the five labels, are rejected.
func NewBook(baseURL string, l models.Listing) (models.Book, error) {
	title := strings.TrimSpace(l.Title)
	if title == "" {
		return models.Book{}, fmt.Errorf("listing missing title")
	}
	price := strings.TrimSpace(l.Price)
	if price == "" {
		return models.Book{}, fmt.Errorf("listing missing price for %s", title)
	}
	rating, err := models.ParseRating(strings.TrimSpace(l.RatingCode))
	if err != nil {
		return models.Book{}, fmt.Errorf("listing %s: %w: %q", title, err, l.RatingCode)
	}
	if strings.TrimSpace(l.DetailRef) == "" {
		return models.Book{}, fmt.Errorf("listing missing detail link for %s", title)
	}

	return models.Book{
		Title:        title,
		Price:        price,
		Rating:       rating,
		Availability: NormalizeAvailability(l.Availability),
		ImageURL:     ResolveImageURL(baseURL, l.ImageRef),
		ProductURL:   ResolveProductURL(baseURL, l.DetailRef),
	}, nil
}

// ValidateBook ensures a book satisfies the record invariants.
func ValidateBook(b *models.Book) error {
	if b == nil {
		return fmt.Errorf("book is nil")
	}
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("book missing title")
	}
	if strings.TrimSpace(b.Price) == "" {
		return fmt.Errorf("book missing price for %s", b.Title)
	}
	if !b.Rating.Valid() {
		return fmt.Errorf("book %s has invalid rating %q", b.Title, b.Rating)
	}
	if !isAbsolute(b.ProductURL) {
		return fmt.Errorf("book %s has non-absolute product url %q", b.Title, b.ProductURL)
	}
	if !isAbsolute(b.ImageURL) {
		return fmt.Errorf("book %s has non-absolute image url %q", b.Title, b.ImageURL)
	}
	return nil
}

// ResolveProductURL turns a listing href into an absolute product URL.
// Hrefs on page one carry the catalogue prefix, later pages are relative to it.
func ResolveProductURL(baseURL, href string) string {
	ref := stripPrefixes(strings.TrimSpace(href), parentPrefix)
	ref = strings.TrimPrefix(ref, CataloguePrefix)
	return ensureSlash(baseURL) + CataloguePrefix + ref
}

// ResolveImageURL turns an image src into an absolute URL.
func ResolveImageURL(baseURL, src string) string {
	return ensureSlash(baseURL) + stripPrefixes(strings.TrimSpace(src), parentPrefix)
}

// PageURL returns the bare base URL for page one and the page-indexed URL otherwise.
func PageURL(baseURL string, page int) string {
	if page <= 1 {
		return ensureSlash(baseURL)
	}
	return fmt.Sprintf("%s%spage-%d.html", ensureSlash(baseURL), CataloguePrefix, page)
}

// NormalizePrice removes the currency symbol and surrounding whitespace.
func NormalizePrice(price string) string {
	price = strings.TrimSpace(price)
	price = strings.ReplaceAll(price, "Â", "")
	price = strings.ReplaceAll(price, "£", "")
	return strings.TrimSpace(price)
}

// ParsePrice converts a currency-formatted price into a number.
func ParsePrice(price string) (float64, bool) {
	value, err := strconv.ParseFloat(NormalizePrice(price), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// NormalizeAvailability collapses the whitespace in the availability text.
func NormalizeAvailability(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func stripPrefixes(s, prefix string) string {
	for strings.HasPrefix(s, prefix) {
		s = strings.TrimPrefix(s, prefix)
	}
	return s
}

func ensureSlash(base string) string {
	base = strings.TrimSpace(base)
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

func isAbsolute(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.IsAbs() && u.Host != ""
}

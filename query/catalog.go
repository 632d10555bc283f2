// Package query holds the fixed XQuery catalog and the guard applied to untrusted query text.
package query

import "strings"

// Fixed is a canned analytical question expressed directly in XQuery.
type Fixed struct {
	Key  string
	Name string
	Text string
}

var (
	// BooksUnder50 lists titles priced below 50.
	BooksUnder50 = Fixed{
		Key:  "under-50",
		Name: "Books under £50",
		Text: `for $b in /books/item
where number(substring-after($b/price, '£')) < 50
return data($b/title/text())`,
	}

	// BooksByCategory counts records per category.
	BooksByCategory = Fixed{
		Key:  "by-category",
		Name: "Books by Category",
		Text: `for $c in distinct-values(/books/item/category)
return concat($c, ': ', count(/books/item[category=$c]))`,
	}

	// TopRated lists the five-star records.
	TopRated = Fixed{
		Key:  "top-rated",
		Name: "Top Rated Books",
		Text: `for $b in /books/item[rating='Five']
return concat($b/title/text(), ' (', $b/rating/text(), ' stars)')`,
	}
)

// ProjectionDelimiter separates the projection fields.
const ProjectionDelimiter = ","

// Projection emits one "category,rating,price" line per record.
const Projection = `for $b in /books/item
return concat($b/category, ",", $b/rating, ",", $b/price)`

// Catalog returns the fixed queries in display order.
func Catalog() []Fixed {
	return []Fixed{BooksUnder50, BooksByCategory, TopRated}
}

// Lookup finds a fixed query by key or display name.
func Lookup(name string) (Fixed, bool) {
	name = strings.TrimSpace(name)
	for _, q := range Catalog() {
		if strings.EqualFold(q.Key, name) || strings.EqualFold(q.Name, name) {
			return q, true
		}
	}
	return Fixed{}, false
}

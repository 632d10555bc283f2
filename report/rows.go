// Package report reshapes the projection query output into rows for analytics
// and exports them.
package report

import (
	"sort"
	"strings"

	"github.com/aluiziolira/go-book-catalog/models"
	"github.com/aluiziolira/go-book-catalog/parser"
	"github.com/aluiziolira/go-book-catalog/query"
)

// projectionFields is the number of fields in a projection line.
const projectionFields = 3

// Row is one record of the projection. Price is nil when the text was not numeric.
type Row struct {
	Category      string   `json:"category" parquet:"category"`
	Rating        string   `json:"rating" parquet:"rating"`
	RatingOrdinal int      `json:"rating_ordinal" parquet:"rating_ordinal"`
	Price         *float64 `json:"price" parquet:"price,optional"`
}

// ParseLine splits a "category,rating,price" line. The split runs from the right
// so delimiters inside the category survive.
func ParseLine(line string) (Row, bool) {
	parts := make([]string, projectionFields)
	rest := line
	for i := projectionFields - 1; i > 0; i-- {
		idx := strings.LastIndex(rest, query.ProjectionDelimiter)
		if idx < 0 {
			return Row{}, false
		}
		parts[i] = rest[idx+len(query.ProjectionDelimiter):]
		rest = rest[:idx]
	}
	parts[0] = rest

	rating := models.Rating(strings.TrimSpace(parts[1]))
	row := Row{
		Category:      strings.TrimSpace(parts[0]),
		Rating:        string(rating),
		RatingOrdinal: rating.Ordinal(),
	}
	if price, ok := parser.ParsePrice(parts[2]); ok {
		row.Price = &price
	}
	return row, true
}

// ParseRows converts projection lines to rows, dropping malformed lines.
func ParseRows(lines []string) ([]Row, int) {
	rows := make([]Row, 0, len(lines))
	dropped := 0
	for _, line := range lines {
		row, ok := ParseLine(line)
		if !ok {
			dropped++
			continue
		}
		rows = append(rows, row)
	}
	return rows, dropped
}

// CategoryRating is the count of rows for one category and rating.
type CategoryRating struct {
	Category      string `json:"category"`
	Rating        string `json:"rating"`
	RatingOrdinal int    `json:"rating_ordinal"`
	Count         int    `json:"count"`
}

// GroupByCategoryRating counts rows per (category, rating), ordered by category
// and then rating ordinal.
func GroupByCategoryRating(rows []Row) []CategoryRating {
	type key struct {
		category string
		rating   string
	}
	counts := make(map[key]*CategoryRating)
	for _, r := range rows {
		k := key{r.Category, r.Rating}
		group, ok := counts[k]
		if !ok {
			group = &CategoryRating{Category: r.Category, Rating: r.Rating, RatingOrdinal: r.RatingOrdinal}
			counts[k] = group
		}
		group.Count++
	}

	out := make([]CategoryRating, 0, len(counts))
	for _, group := range counts {
		out = append(out, *group)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].RatingOrdinal < out[j].RatingOrdinal
	})
	return out
}

// CategoryPrice is the mean price of the priced rows in a category.
type CategoryPrice struct {
	Category  string  `json:"category"`
	MeanPrice float64 `json:"mean_price"`
	Priced    int     `json:"priced"`
}

// MeanPriceByCategory averages prices per category, skipping missing prices.
// Categories without any priced row are omitted.
func MeanPriceByCategory(rows []Row) []CategoryPrice {
	sums := make(map[string]*CategoryPrice)
	for _, r := range rows {
		if r.Price == nil {
			continue
		}
		c, ok := sums[r.Category]
		if !ok {
			c = &CategoryPrice{Category: r.Category}
			sums[r.Category] = c
		}
		c.MeanPrice += *r.Price
		c.Priced++
	}

	out := make([]CategoryPrice, 0, len(sums))
	for _, c := range sums {
		c.MeanPrice /= float64(c.Priced)
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

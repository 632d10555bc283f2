// Package document serializes collections into XML and validates them against a structural schema.
//
// Schemas are RELAX NG in XML syntax, limited to grammar, start, define, ref,
// element, text, empty, value, data, group, choice, optional, zeroOrMore and
// oneOrMore, with minLength, maxLength and pattern as the only data params.
// ParseSchema rejects anything else (attribute, interleave, mixed, list,
// include, combined defines) with ErrUnsupportedPattern.
package document

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/aluiziolira/go-book-catalog/models"
)

const (
	// RootElement wraps every serialized collection.
	RootElement = "books"
	// RecordElement wraps one book.
	RecordElement = "item"
)

// FieldOrder is the fixed sub-element order of every record.
var FieldOrder = []string{"title", "price", "rating", "availability", "image_url", "product_url", "category"}

type bookElement struct {
	XMLName      xml.Name `xml:"item"`
	Title        string   `xml:"title"`
	Price        string   `xml:"price"`
	Rating       string   `xml:"rating"`
	Availability string   `xml:"availability"`
	ImageURL     string   `xml:"image_url"`
	ProductURL   string   `xml:"product_url"`
	Category     string   `xml:"category"`
}

type booksElement struct {
	XMLName xml.Name      `xml:"books"`
	Items   []bookElement `xml:"item"`
}

// Document is the serialized form of a collection.
type Document struct {
	data    []byte
	records int
}

// Serialize maps a collection to one root element with one child per record.
// Unresolved categories are written as models.UnknownCategory.
func Serialize(books models.Collection) (*Document, error) {
	root := booksElement{Items: make([]bookElement, 0, len(books))}
	for _, b := range books {
		root.Items = append(root.Items, bookElement{
			Title:        b.Title,
			Price:        b.Price,
			Rating:       string(b.Rating),
			Availability: b.Availability,
			ImageURL:     b.ImageURL,
			ProductURL:   b.ProductURL,
			Category:     b.Category.Text(),
		})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("flush document: %w", err)
	}
	buf.WriteByte('\n')

	return &Document{data: buf.Bytes(), records: len(books)}, nil
}

// FromBytes wraps already-serialized XML, e.g. a document read back from disk.
func FromBytes(data []byte) *Document {
	return &Document{data: data, records: -1}
}

// Bytes returns the XML text.
func (d *Document) Bytes() []byte {
	return d.data
}

// String returns the XML text.
func (d *Document) String() string {
	return string(d.data)
}

// Len returns the number of serialized records, or -1 when unknown.
func (d *Document) Len() int {
	return d.records
}

package translator

import (
	"regexp"
	"strings"
)

const fewShot = `# Sample questions and their equivalent XQuery
Q: List all book titles under £15.
A:for $book in /books/item
where number(substring($book/price, 2)) < 15
return $book/title/text()

Q: Show titles and prices of books in the 'Science Fiction' category.
A:for $book in /books/item
where $book/category = "Science Fiction"
return concat($book/title/text(), " - ", $book/price/text())

Q: List all books with a rating of Five.
A:for $book in /books/item
where $book/rating = "Five"
return $book/title/text()

Q: Number of books under price of 50 pounds
A:count(
for $b in /books/item
let $price := number(translate($b/price, "£", ""))
where $price < 50
return $b
)

Q: {question}
A:
# Return ONLY the XQuery code, with no explanation, markdown, or formatting.
`

// queryStarts mark where an expression begins in conversational output.
var queryStarts = []string{"for $book", "xquery version"}

// aggregateWrapper matches an opening aggregate call that encloses the
// expression following it, e.g. "count(" on the line before "for $book".
var aggregateWrapper = regexp.MustCompile(`^(?:count|sum|avg|min|max|string-join|distinct-values)\s*\(\s*$`)

// BuildPrompt embeds question verbatim as the final example slot.
func BuildPrompt(question string) string {
	return strings.Replace(fewShot, "{question}", question, 1)
}

// Sanitize reduces a raw completion to query text: the contents of the first
// fenced block if there is one, then everything from the earliest query-start
// token onwards. Text before that token is kept only when it is nothing but
// an aggregate call opening around the expression.
func Sanitize(raw string) string {
	text := strings.TrimSpace(raw)

	if open := strings.Index(text, "```"); open >= 0 {
		body := text[open+3:]
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		// Drop a language tag such as "xquery" on the opening fence line.
		if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(strings.TrimSpace(body[:nl]), " $/(") {
			body = body[nl+1:]
		}
		text = strings.TrimSpace(body)
	}

	start := -1
	for _, token := range queryStarts {
		if i := strings.Index(text, token); i >= 0 && (start < 0 || i < start) {
			start = i
		}
	}
	if start > 0 && !aggregateWrapper.MatchString(text[:start]) {
		text = text[start:]
	}
	return strings.TrimSpace(text)
}

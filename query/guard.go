package query

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrRejected is returned for query text that is not an acceptable read-only expression.
var ErrRejected = errors.New("query rejected")

var (
	// Expressions must open with a FLWOR clause, a version declaration, a path,
	// a parenthesized expression, or one of the aggregate functions.
	allowedStart = regexp.MustCompile(`^(?:xquery\s+version\b|for\s+\$|let\s+\$|/|\(|(?:count|sum|avg|min|max|distinct-values|string-join|data|concat|exists|empty)\s*\()`)

	// Updating expressions and side-effecting declarations.
	updating = regexp.MustCompile(`\b(?:insert\s+nodes?|delete\s+nodes?|replace\s+(?:value\s+of\s+)?node|rename\s+node|declare\s+updating|declare\s+option|import\s+module|update\s*\{|copy\s+\$[\w-]+\s*:=)`)

	// Prefixed function calls outside the standard function namespaces
	// (db:, file:, proc:, http:, fetch:, ...).
	prefixedCall = regexp.MustCompile(`\b([A-Za-z][\w-]*):[A-Za-z][\w-]*\s*\(`)

	allowedPrefixes = map[string]bool{"fn": true, "math": true, "xs": true}
)

// Guard checks that text is a syntactically closed, read-only XQuery expression and
// returns it trimmed. It does not prove the query is meaningful.
func Guard(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty query", ErrRejected)
	}

	code, err := stripLiterals(text)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}
	code = strings.TrimSpace(code)

	if !allowedStart.MatchString(code) {
		return "", fmt.Errorf("%w: unsupported expression start %q", ErrRejected, firstToken(code))
	}
	if m := updating.FindString(code); m != "" {
		return "", fmt.Errorf("%w: updating expression %q", ErrRejected, m)
	}
	for _, m := range prefixedCall.FindAllStringSubmatch(code, -1) {
		if !allowedPrefixes[m[1]] {
			return "", fmt.Errorf("%w: function namespace %q not allowed", ErrRejected, m[1])
		}
	}
	return text, nil
}

// stripLiterals removes string literals and comments, replacing literals with
// empty quotes, and checks that brackets balance.
func stripLiterals(text string) (string, error) {
	var out strings.Builder
	var stack []rune
	closing := map[rune]rune{')': '(', ']': '[', '}': '{'}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			j := i + 1
			for ; j < len(runes); j++ {
				if runes[j] == r {
					if j+1 < len(runes) && runes[j+1] == r {
						j++
						continue
					}
					break
				}
			}
			if j >= len(runes) {
				return "", errors.New("unterminated string literal")
			}
			out.WriteRune(r)
			out.WriteRune(r)
			i = j
		case r == '(' && i+1 < len(runes) && runes[i+1] == ':':
			depth := 1
			j := i + 2
			for ; j < len(runes) && depth > 0; j++ {
				if runes[j] == '(' && j+1 < len(runes) && runes[j+1] == ':' {
					depth++
					j++
				} else if runes[j] == ':' && j+1 < len(runes) && runes[j+1] == ')' {
					depth--
					j++
				}
			}
			if depth > 0 {
				return "", errors.New("unterminated comment")
			}
			out.WriteRune(' ')
			i = j - 1
		case r == '(' || r == '[' || r == '{':
			stack = append(stack, r)
			out.WriteRune(r)
		case r == ')' || r == ']' || r == '}':
			if len(stack) == 0 || stack[len(stack)-1] != closing[r] {
				return "", fmt.Errorf("unbalanced %q", r)
			}
			stack = stack[:len(stack)-1]
			out.WriteRune(r)
		default:
			out.WriteRune(r)
		}
	}
	if len(stack) > 0 {
		return "", fmt.Errorf("unclosed %q", stack[len(stack)-1])
	}
	return out.String(), nil
}

func firstToken(code string) string {
	if fields := strings.Fields(code); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

package document

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/antchfx/xmlquery"
)

// ErrSchemaMissing is returned when the configured schema path does not resolve.
var ErrSchemaMissing = errors.New("schema missing")

// Violation is one structural conformance failure.
type Violation struct {
	Path    string
	Message string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// ValidationResult reports conformance and, when invalid, every violation found.
type ValidationResult struct {
	Valid      bool
	Violations []Violation
}

// Validator checks documents against a schema loaded from disk.
type Validator struct {
	path   string
	schema *Schema
}

// NewValidator loads and compiles the schema at path.
func NewValidator(path string) (*Validator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSchemaMissing, path)
		}
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	schema, err := ParseSchema(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", path, err)
	}
	return &Validator{path: path, schema: schema}, nil
}

// Path returns the schema location.
func (v *Validator) Path() string {
	return v.path
}

// Validate parses the document and checks it against the schema. A document that
// is not well-formed is reported as a single violation at the root.
func (v *Validator) Validate(doc *Document) *ValidationResult {
	return v.schema.Validate(doc.Bytes())
}

// Validate checks raw XML against the schema.
func (s *Schema) Validate(data []byte) *ValidationResult {
	parsed, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return &ValidationResult{Violations: []Violation{{Path: "/", Message: fmt.Sprintf("document is not well-formed: %v", err)}}}
	}
	root := firstElement(parsed)
	if root == nil {
		return &ValidationResult{Violations: []Violation{{Path: "/", Message: "document has no root element"}}}
	}

	m := &matcher{schema: s}
	elems := []*xmlquery.Node{root}
	if next := m.consume(s.start, elems, 0, ""); next < len(elems) {
		m.report("/"+root.Data, fmt.Sprintf("unexpected root element <%s>", root.Data))
	}
	return &ValidationResult{Valid: len(m.violations) == 0, Violations: m.violations}
}

// matcher walks the document greedily. The subset of patterns it supports is
// deterministic, so lookahead on the first element name is enough to pick a branch.
type matcher struct {
	schema     *Schema
	violations []Violation
}

func (m *matcher) report(path, msg string) {
	m.violations = append(m.violations, Violation{Path: path, Message: msg})
}

func (m *matcher) consume(p *pattern, elems []*xmlquery.Node, i int, parent string) int {
	p = m.schema.resolve(p)
	switch p.kind {
	case kindElement:
		if i < len(elems) && elems[i].Data == p.name {
			m.checkElement(p, elems[i], siblingPath(parent, elems, i))
			return i + 1
		}
		if i < len(elems) {
			m.report(siblingPath(parent, elems, i), fmt.Sprintf("expected element <%s>, found <%s>", p.name, elems[i].Data))
		} else {
			m.report(parent, fmt.Sprintf("missing element <%s>", p.name))
		}
		return i
	case kindGroup:
		for _, child := range p.children {
			i = m.consume(child, elems, i, parent)
		}
		return i
	case kindOptional:
		if m.starts(p.children[0], elems, i) {
			return m.consume(p.children[0], elems, i, parent)
		}
		return i
	case kindZeroOrMore, kindOneOrMore:
		if p.kind == kindOneOrMore && !m.starts(p.children[0], elems, i) {
			names, _ := m.schema.first(p.children[0])
			m.report(parent, fmt.Sprintf("expected at least one of %s", elementList(names)))
			return i
		}
		for m.starts(p.children[0], elems, i) {
			next := m.consume(p.children[0], elems, i, parent)
			if next == i {
				break
			}
			i = next
		}
		return i
	case kindChoice:
		for _, alt := range p.children {
			if m.starts(alt, elems, i) {
				return m.consume(alt, elems, i, parent)
			}
		}
		for _, alt := range p.children {
			if _, nullable := m.schema.first(alt); nullable {
				return i
			}
		}
		names, _ := m.schema.first(p)
		m.report(parent, fmt.Sprintf("expected one of %s", elementList(names)))
		return i
	default:
		return i
	}
}

func (m *matcher) starts(p *pattern, elems []*xmlquery.Node, i int) bool {
	if i >= len(elems) {
		return false
	}
	names, _ := m.schema.first(p)
	return names[elems[i].Data]
}

func (m *matcher) checkElement(p *pattern, e *xmlquery.Node, path string) {
	content := p.children[0]
	children := elementChildren(e)
	text := directText(e)

	if !m.schema.hasElements(content) {
		if len(children) > 0 {
			m.report(path, fmt.Sprintf("unexpected child element <%s>", children[0].Data))
			return
		}
		if ok, msg := m.schema.matchText(content, text); !ok {
			m.report(path, msg)
		}
		return
	}

	if strings.TrimSpace(text) != "" {
		m.report(path, "unexpected text content")
	}
	next := m.consume(content, children, 0, path)
	for ; next < len(children); next++ {
		m.report(siblingPath(path, children, next), fmt.Sprintf("unexpected element <%s>", children[next].Data))
	}
}

func siblingPath(parent string, elems []*xmlquery.Node, i int) string {
	position := 1
	for j := 0; j < i; j++ {
		if elems[j].Data == elems[i].Data {
			position++
		}
	}
	return fmt.Sprintf("%s/%s[%d]", parent, elems[i].Data, position)
}

func elementList(names map[string]bool) string {
	list := make([]string, 0, len(names))
	for name := range names {
		list = append(list, "<"+name+">")
	}
	sort.Strings(list)
	return strings.Join(list, ", ")
}

package document

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
)

// ErrUnsupportedPattern is returned for RELAX NG constructs the validator does not implement.
var ErrUnsupportedPattern = errors.New("unsupported schema pattern")

type kind int

const (
	kindElement kind = iota
	kindText
	kindEmpty
	kindData
	kindValue
	kindGroup
	kindChoice
	kindOptional
	kindZeroOrMore
	kindOneOrMore
	kindRef
)

// pattern is a compiled RELAX NG pattern restricted to the element-only subset:
// element, text, empty, data (with minLength, maxLength and pattern params), value,
// group, choice, optional, zeroOrMore, oneOrMore and ref inside a grammar.
type pattern struct {
	kind     kind
	name     string
	value    string
	dataType string
	params   dataParams
	children []*pattern
}

type dataParams struct {
	minLength int
	maxLength int
	pattern   *regexp.Regexp
}

// Schema is a compiled structural schema.
type Schema struct {
	start   *pattern
	defines map[string]*pattern
}

// ParseSchema compiles a RELAX NG (XML syntax) schema. Patterns outside the
// supported subset fail with ErrUnsupportedPattern.
func ParseSchema(r io.Reader) (*Schema, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	root := firstElement(doc)
	if root == nil {
		return nil, fmt.Errorf("schema has no root element")
	}

	s := &Schema{defines: make(map[string]*pattern)}
	switch root.Data {
	case "grammar":
		for _, child := range elementChildren(root) {
			switch child.Data {
			case "start":
				if s.start, err = s.compileGroup(child); err != nil {
					return nil, err
				}
			case "define":
				name := child.SelectAttr("name")
				if name == "" {
					return nil, fmt.Errorf("define without name")
				}
				if _, dup := s.defines[name]; dup {
					return nil, fmt.Errorf("%w: combined define %q", ErrUnsupportedPattern, name)
				}
				if s.defines[name], err = s.compileGroup(child); err != nil {
					return nil, err
				}
			default:
				return nil, fmt.Errorf("%w: grammar child <%s>", ErrUnsupportedPattern, child.Data)
			}
		}
		if s.start == nil {
			return nil, fmt.Errorf("grammar has no start")
		}
	default:
		if s.start, err = s.compile(root); err != nil {
			return nil, err
		}
	}

	if err := s.checkRefs(s.start); err != nil {
		return nil, err
	}
	for _, def := range s.defines {
		if err := s.checkRefs(def); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Schema) compileGroup(n *xmlquery.Node) (*pattern, error) {
	children := elementChildren(n)
	if len(children) == 1 {
		return s.compile(children[0])
	}
	group := &pattern{kind: kindGroup}
	for _, child := range children {
		p, err := s.compile(child)
		if err != nil {
			return nil, err
		}
		group.children = append(group.children, p)
	}
	return group, nil
}

func (s *Schema) compile(n *xmlquery.Node) (*pattern, error) {
	switch n.Data {
	case "element":
		name := n.SelectAttr("name")
		if name == "" {
			return nil, fmt.Errorf("%w: element without name attribute", ErrUnsupportedPattern)
		}
		content, err := s.compileGroup(n)
		if err != nil {
			return nil, err
		}
		return &pattern{kind: kindElement, name: name, children: []*pattern{content}}, nil
	case "text":
		return &pattern{kind: kindText}, nil
	case "empty":
		return &pattern{kind: kindEmpty}, nil
	case "value":
		return &pattern{kind: kindValue, value: strings.TrimSpace(n.InnerText())}, nil
	case "data":
		return compileData(n)
	case "ref":
		return &pattern{kind: kindRef, name: n.SelectAttr("name")}, nil
	case "group", "choice", "optional", "zeroOrMore", "oneOrMore":
		var p *pattern
		switch n.Data {
		case "choice":
			p = &pattern{kind: kindChoice}
			for _, child := range elementChildren(n) {
				alt, err := s.compile(child)
				if err != nil {
					return nil, err
				}
				p.children = append(p.children, alt)
			}
			return p, nil
		case "group":
			return s.compileGroup(n)
		case "optional":
			p = &pattern{kind: kindOptional}
		case "zeroOrMore":
			p = &pattern{kind: kindZeroOrMore}
		default:
			p = &pattern{kind: kindOneOrMore}
		}
		body, err := s.compileGroup(n)
		if err != nil {
			return nil, err
		}
		p.children = []*pattern{body}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: <%s>", ErrUnsupportedPattern, n.Data)
	}
}

func compileData(n *xmlquery.Node) (*pattern, error) {
	p := &pattern{kind: kindData, dataType: n.SelectAttr("type")}
	for _, param := range elementChildren(n) {
		if param.Data != "param" {
			return nil, fmt.Errorf("%w: data child <%s>", ErrUnsupportedPattern, param.Data)
		}
		value := strings.TrimSpace(param.InnerText())
		switch name := param.SelectAttr("name"); name {
		case "minLength", "maxLength":
			limit, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("param %s: %w", name, err)
			}
			if name == "minLength" {
				p.params.minLength = limit
			} else {
				p.params.maxLength = limit
			}
		case "pattern":
			re, err := regexp.Compile("^(?:" + value + ")$")
			if err != nil {
				return nil, fmt.Errorf("param pattern: %w", err)
			}
			p.params.pattern = re
		default:
			return nil, fmt.Errorf("%w: data param %q", ErrUnsupportedPattern, name)
		}
	}
	return p, nil
}

func (s *Schema) checkRefs(p *pattern) error {
	if p.kind == kindRef {
		if _, ok := s.defines[p.name]; !ok {
			return fmt.Errorf("reference to undefined pattern %q", p.name)
		}
		return nil
	}
	for _, child := range p.children {
		if err := s.checkRefs(child); err != nil {
			return err
		}
	}
	return nil
}

// resolve follows refs to a concrete pattern.
func (s *Schema) resolve(p *pattern) *pattern {
	for depth := 0; p.kind == kindRef && depth < 64; depth++ {
		p = s.defines[p.name]
	}
	return p
}

// first returns the element names that can start p and whether p can match nothing.
func (s *Schema) first(p *pattern) (map[string]bool, bool) {
	names := make(map[string]bool)
	nullable := s.collectFirst(p, names, 0)
	return names, nullable
}

func (s *Schema) collectFirst(p *pattern, names map[string]bool, depth int) bool {
	if depth > 64 {
		return true
	}
	p = s.resolve(p)
	switch p.kind {
	case kindElement:
		names[p.name] = true
		return false
	case kindGroup:
		for _, child := range p.children {
			if !s.collectFirst(child, names, depth+1) {
				return false
			}
		}
		return true
	case kindChoice:
		nullable := false
		for _, child := range p.children {
			if s.collectFirst(child, names, depth+1) {
				nullable = true
			}
		}
		return nullable
	case kindOptional, kindZeroOrMore:
		s.collectFirst(p.children[0], names, depth+1)
		return true
	case kindOneOrMore:
		return s.collectFirst(p.children[0], names, depth+1)
	default:
		return true
	}
}

// hasElements reports whether p describes element content rather than text content.
func (s *Schema) hasElements(p *pattern) bool {
	names, _ := s.first(p)
	return len(names) > 0
}

// matchText checks text content against a non-element pattern.
func (s *Schema) matchText(p *pattern, text string) (bool, string) {
	p = s.resolve(p)
	switch p.kind {
	case kindText:
		return true, ""
	case kindEmpty:
		if strings.TrimSpace(text) != "" {
			return false, "expected empty content"
		}
		return true, ""
	case kindValue:
		if strings.TrimSpace(text) != p.value {
			return false, fmt.Sprintf("value %q is not %q", strings.TrimSpace(text), p.value)
		}
		return true, ""
	case kindData:
		return matchData(p, text)
	case kindChoice:
		var alternatives []string
		for _, alt := range p.children {
			if ok, _ := s.matchText(alt, text); ok {
				return true, ""
			}
			if r := s.resolve(alt); r.kind == kindValue {
				alternatives = append(alternatives, r.value)
			}
		}
		if len(alternatives) > 0 {
			return false, fmt.Sprintf("value %q is not one of %s", strings.TrimSpace(text), strings.Join(alternatives, ", "))
		}
		return false, fmt.Sprintf("value %q matches no alternative", strings.TrimSpace(text))
	case kindGroup:
		for _, child := range p.children {
			if ok, msg := s.matchText(child, text); !ok {
				return false, msg
			}
		}
		return true, ""
	case kindOptional, kindZeroOrMore, kindOneOrMore:
		if text == "" && p.kind != kindOneOrMore {
			return true, ""
		}
		return s.matchText(p.children[0], text)
	default:
		return false, "unexpected text content"
	}
}

func matchData(p *pattern, raw string) (bool, string) {
	text := raw
	if p.dataType != "string" {
		text = strings.TrimSpace(raw)
	}
	switch p.dataType {
	case "", "string", "token", "normalizedString":
	case "anyURI":
		if strings.ContainsAny(text, " \t\n") {
			return false, fmt.Sprintf("%q is not a valid anyURI", text)
		}
	case "decimal":
		if _, err := strconv.ParseFloat(text, 64); err != nil {
			return false, fmt.Sprintf("%q is not a valid decimal", text)
		}
	case "integer", "int", "nonNegativeInteger", "positiveInteger":
		if _, err := strconv.ParseInt(text, 10, 64); err != nil {
			return false, fmt.Sprintf("%q is not a valid integer", text)
		}
	default:
		return false, fmt.Sprintf("unsupported datatype %q", p.dataType)
	}

	length := len([]rune(text))
	if length < p.params.minLength {
		return false, fmt.Sprintf("length %d is below minimum %d", length, p.params.minLength)
	}
	if p.params.maxLength > 0 && length > p.params.maxLength {
		return false, fmt.Sprintf("length %d exceeds maximum %d", length, p.params.maxLength)
	}
	if p.params.pattern != nil && !p.params.pattern.MatchString(text) {
		return false, fmt.Sprintf("%q does not match pattern", text)
	}
	return true, ""
}

func firstElement(n *xmlquery.Node) *xmlquery.Node {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode {
			return child
		}
	}
	return nil
}

func elementChildren(n *xmlquery.Node) []*xmlquery.Node {
	var out []*xmlquery.Node
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode {
			out = append(out, child)
		}
	}
	return out
}

func directText(n *xmlquery.Node) string {
	var b strings.Builder
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.TextNode || child.Type == xmlquery.CharDataNode {
			b.WriteString(child.Data)
		}
	}
	return b.String()
}

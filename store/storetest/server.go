// Package storetest provides an in-memory stand-in for a BaseX server.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aluiziolira/go-book-catalog/config"
	"github.com/aluiziolira/go-book-catalog/store"
	"github.com/antchfx/xmlquery"
)

// Evaluator answers one registered expression against the open database.
type Evaluator func(doc *xmlquery.Node) []string

// Server keeps databases in memory and answers only registered expressions.
type Server struct {
	mu        sync.Mutex
	dbs       map[string][]byte
	handlers  map[string]Evaluator
	down      bool
	commands  []string
	dials     int
	openConns int
}

// NewServer returns an empty server.
func NewServer() *Server {
	return &Server{
		dbs:      make(map[string][]byte),
		handlers: make(map[string]Evaluator),
	}
}

// Register answers expr (compared after trimming whitespace) with fn.
func (s *Server) Register(expr string, fn Evaluator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[strings.TrimSpace(expr)] = fn
}

// SetDown makes new dials fail.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// Database returns a copy of the stored document and whether it exists.
func (s *Server) Database(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.dbs[name]
	return bytes.Clone(data), ok
}

// Commands returns every command executed so far.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// OpenSessions returns the number of sessions not yet closed.
func (s *Server) OpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openConns
}

// Dialer returns a store.Dialer bound to this server.
func (s *Server) Dialer() store.Dialer {
	return func(ctx context.Context, cfg config.StoreConfig) (store.Session, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.dials++
		if s.down {
			return nil, fmt.Errorf("dial tcp %s: connection refused", cfg.Addr())
		}
		s.openConns++
		return &session{srv: s}, nil
	}
}

type session struct {
	srv    *Server
	open   string
	closed bool
}

func (c *session) Execute(command string) (string, error) {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return "", errors.New("session closed")
	}
	s.commands = append(s.commands, command)

	fields := strings.Fields(command)
	switch {
	case len(fields) == 2 && strings.EqualFold(fields[0], "OPEN"):
		if _, ok := s.dbs[fields[1]]; !ok {
			return "", &store.ServerError{Command: "OPEN", Info: fmt.Sprintf("Database '%s' was not found.", fields[1])}
		}
		c.open = fields[1]
		return "", nil
	case len(fields) == 2 && strings.EqualFold(fields[0], "INFO") && strings.EqualFold(fields[1], "DB"):
		if c.open == "" {
			return "", &store.ServerError{Command: "INFO", Info: "No database opened."}
		}
		return "Name: " + c.open, nil
	case len(fields) == 3 && strings.EqualFold(fields[0], "DROP") && strings.EqualFold(fields[1], "DB"):
		delete(s.dbs, fields[2])
		if c.open == fields[2] {
			c.open = ""
		}
		return "", nil
	default:
		return "", &store.ServerError{Command: strings.ToUpper(fields[0]), Info: "Unknown command."}
	}
}

func (c *session) Create(name string, input []byte) error {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return errors.New("session closed")
	}
	s.commands = append(s.commands, "CREATE DB "+name)
	if _, err := xmlquery.Parse(bytes.NewReader(input)); err != nil {
		return &store.ServerError{Command: "CREATE", Info: err.Error()}
	}
	s.dbs[name] = bytes.Clone(input)
	c.open = name
	return nil
}

func (c *session) Query(expr string) (string, error) {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return "", errors.New("session closed")
	}
	expr = strings.TrimSpace(expr)
	if expr == "1" {
		return "1", nil
	}
	if c.open == "" {
		return "", &store.ServerError{Command: "QUERY", Info: "No database opened."}
	}
	fn, ok := s.handlers[expr]
	if !ok {
		return "", &store.ServerError{Command: "QUERY", Info: "Stopped at line 1: unsupported expression."}
	}
	doc, err := xmlquery.Parse(bytes.NewReader(s.dbs[c.open]))
	if err != nil {
		return "", &store.ServerError{Command: "QUERY", Info: err.Error()}
	}
	return strings.Join(fn(doc), "\n"), nil
}

func (c *session) Close() error {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return errors.New("session already closed")
	}
	c.closed = true
	s.openConns--
	return nil
}

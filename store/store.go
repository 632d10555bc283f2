// Package store owns the session to the BaseX document store.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aluiziolira/go-book-catalog/config"
	"github.com/aluiziolira/go-book-catalog/metrics"
)

var (
	// ErrConnection is returned when the backend cannot be reached or authenticated.
	ErrConnection = errors.New("store: connection error")
	// ErrNoCollection is returned when a query runs without an open collection.
	ErrNoCollection = errors.New("store: no open collection")
	// ErrQuery wraps any failure while running a query.
	ErrQuery = errors.New("store: query error")
)

// Store is the adapter around one BaseX session. It assumes a single writer:
// CreateOrReplace drops and recreates the collection, so concurrent writers
// must be serialized by the caller.
type Store struct {
	cfg     config.StoreConfig
	dial    Dialer
	metrics *metrics.Metrics

	mu      sync.Mutex
	session Session
	open    string
}

// New builds a Store. A nil dialer uses Dial.
func New(cfg config.StoreConfig, dial Dialer, m *metrics.Metrics) *Store {
	if dial == nil {
		dial = Dial
	}
	return &Store{cfg: cfg, dial: dial, metrics: m}
}

// Database returns the configured collection name.
func (s *Store) Database() string {
	return s.cfg.Database
}

// Connect establishes a session if none is held.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

func (s *Store) connectLocked(ctx context.Context) error {
	if s.session != nil {
		return nil
	}
	session, err := s.dial(ctx, s.cfg)
	s.metrics.IncStoreOp("connect", err)
	if err != nil {
		slog.Error("store connection failed", slog.String("addr", s.cfg.Addr()), slog.Any("error", err))
		return fmt.Errorf("%w: %s: %v", ErrConnection, s.cfg.Addr(), err)
	}
	s.session = session
	s.open = ""
	return nil
}

// ConnectToCollection connects and makes the configured collection the active target.
func (s *Store) ConnectToCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connectLocked(ctx); err != nil {
		return err
	}
	if s.isOpenLocked() {
		return nil
	}
	_, err := s.session.Execute("OPEN " + s.cfg.Database)
	s.metrics.IncStoreOp("open", err)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.cfg.Database, err)
	}
	s.open = s.cfg.Database
	return nil
}

// IsCollectionOpen reports whether the server has a database open on this session.
func (s *Store) IsCollectionOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isOpenLocked()
}

func (s *Store) isOpenLocked() bool {
	if s.session == nil {
		return false
	}
	if s.open != "" {
		return true
	}
	_, err := s.session.Execute("INFO DB")
	return err == nil
}

// CreateOrReplace drops any collection called name and creates it fresh from doc.
func (s *Store) CreateOrReplace(ctx context.Context, name string, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connectLocked(ctx); err != nil {
		return err
	}
	_, err := s.session.Execute("DROP DB " + name)
	s.metrics.IncStoreOp("drop", err)
	if err != nil {
		return fmt.Errorf("drop %s: %w", name, err)
	}
	err = s.session.Create(name, doc)
	s.metrics.IncStoreOp("create", err)
	if err != nil {
		s.open = ""
		return fmt.Errorf("create %s: %w", name, err)
	}
	// CREATE DB leaves the new database open on the session.
	s.open = name
	slog.Info("collection replaced", slog.String("name", name), slog.Int("bytes", len(doc)))
	return nil
}

// RunQuery executes expr against the open collection and returns its non-blank
// result lines. On failure it returns an empty slice and an error wrapping ErrQuery.
func (s *Store) RunQuery(ctx context.Context, expr string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil || !s.isOpenLocked() {
		s.metrics.IncStoreOp("query", ErrNoCollection)
		return []string{}, fmt.Errorf("%w: %w", ErrQuery, ErrNoCollection)
	}
	raw, err := s.session.Query(expr)
	s.metrics.IncStoreOp("query", err)
	if err != nil {
		slog.Error("query failed", slog.Any("error", err))
		return []string{}, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return splitLines(raw), nil
}

// Alive runs a trivial query to check that the held session still answers.
func (s *Store) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aliveLocked()
}

func (s *Store) aliveLocked() bool {
	if s.session == nil {
		return false
	}
	_, err := s.session.Query("1")
	return err == nil
}

// Close ends the session. A dead session is dropped without the exit handshake error.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	alive := s.aliveLocked()
	err := s.session.Close()
	s.session = nil
	s.open = ""
	if !alive {
		slog.Debug("closed stale store session", slog.Any("error", err))
		return nil
	}
	s.metrics.IncStoreOp("close", err)
	return err
}

func splitLines(raw string) []string {
	lines := make([]string, 0)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

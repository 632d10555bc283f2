// Package pipeline sequences scraping, validation, persistence and querying.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aluiziolira/go-book-catalog/config"
	"github.com/aluiziolira/go-book-catalog/document"
	"github.com/aluiziolira/go-book-catalog/metrics"
	"github.com/aluiziolira/go-book-catalog/models"
	"github.com/aluiziolira/go-book-catalog/query"
	"github.com/aluiziolira/go-book-catalog/scraper"
)

var (
	// ErrValidationFailed is returned by Ingest in strict mode when the document
	// does not conform or the schema cannot be loaded.
	ErrValidationFailed = errors.New("pipeline: document failed validation")
	// ErrUnknownQuery is returned for names missing from the fixed catalog.
	ErrUnknownQuery = errors.New("pipeline: unknown fixed query")
)

// Builder produces a collection of records.
type Builder interface {
	Build(limit int, progress scraper.ProgressFunc) (*models.BuildResult, error)
}

// Store persists documents and answers queries.
type Store interface {
	Database() string
	ConnectToCollection(ctx context.Context) error
	CreateOrReplace(ctx context.Context, name string, doc []byte) error
	RunQuery(ctx context.Context, expr string) ([]string, error)
	Close() error
}

// Translator turns a question into query text.
type Translator interface {
	Translate(ctx context.Context, question string) (string, error)
}

// IngestResult describes one ingest run.
type IngestResult struct {
	Build      *models.BuildResult
	Document   *document.Document
	Validation *document.ValidationResult
	// SchemaErr is set when the schema could not be loaded.
	SchemaErr error
	Persisted bool
}

// QueryResult holds the text that ran and its result lines.
type QueryResult struct {
	Name  string
	Query string
	Rows  []string
}

// Pipeline runs the stages in sequence. Each stage that opens a store session
// closes it before returning.
type Pipeline struct {
	cfg        *config.Config
	builder    Builder
	store      Store
	translator Translator
	metrics    *metrics.Metrics

	stats stats
}

// New wires the stages. translator may be nil when Ask is not used.
func New(cfg *config.Config, builder Builder, store Store, translator Translator, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		builder:    builder,
		store:      store,
		translator: translator,
		metrics:    m,
	}
}

// Ingest scrapes up to limit records, serializes and validates them, and
// replaces the stored collection. Validation failures only block persistence
// when EnforceSchema is set.
func (p *Pipeline) Ingest(ctx context.Context, limit int, progress scraper.ProgressFunc) (*IngestResult, error) {
	build, err := p.builder.Build(limit, progress)
	if err != nil {
		return nil, fmt.Errorf("build collection: %w", err)
	}
	result := &IngestResult{Build: build}
	if build.Partial() {
		slog.Warn("scrape ended early, continuing with partial collection",
			slog.Int("records", len(build.Books)),
			slog.Any("error", build.Err),
		)
	}

	doc, err := document.Serialize(build.Books)
	if err != nil {
		return result, fmt.Errorf("serialize collection: %w", err)
	}
	result.Document = doc

	if err := p.validate(result); err != nil {
		return result, err
	}

	err = p.store.CreateOrReplace(ctx, p.store.Database(), doc.Bytes())
	if cerr := p.store.Close(); cerr != nil {
		slog.Warn("failed to close store session", slog.Any("error", cerr))
	}
	if err != nil {
		return result, fmt.Errorf("persist collection: %w", err)
	}

	result.Persisted = true
	p.stats.addIngest(len(build.Books))
	slog.Info("completed ingest",
		slog.Int("records", len(build.Books)),
		slog.String("database", p.store.Database()),
	)
	return result, nil
}

func (p *Pipeline) validate(result *IngestResult) error {
	validator, err := document.NewValidator(p.cfg.SchemaPath)
	if err != nil {
		result.SchemaErr = err
		p.metrics.IncValidation("schema_error")
		slog.Warn("skipping validation", slog.String("schema", p.cfg.SchemaPath), slog.Any("error", err))
		if p.cfg.EnforceSchema {
			return fmt.Errorf("%w: %w", ErrValidationFailed, err)
		}
		return nil
	}

	res := validator.Validate(result.Document)
	result.Validation = res
	if res.Valid {
		p.metrics.IncValidation("valid")
		return nil
	}

	p.metrics.IncValidation("invalid")
	for _, v := range res.Violations {
		slog.Warn("schema violation", slog.String("path", v.Path), slog.String("message", v.Message))
	}
	if p.cfg.EnforceSchema {
		return fmt.Errorf("%w: %d violation(s)", ErrValidationFailed, len(res.Violations))
	}
	slog.Warn("document failed validation, persisting anyway", slog.Int("violations", len(res.Violations)))
	return nil
}

// RunFixed runs a query from the fixed catalog by key or name.
func (p *Pipeline) RunFixed(ctx context.Context, name string) (*QueryResult, error) {
	fixed, ok := query.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownQuery, name)
	}
	rows, err := p.run(ctx, fixed.Text)
	if err != nil {
		return nil, err
	}
	return &QueryResult{Name: fixed.Name, Query: fixed.Text, Rows: rows}, nil
}

// Ask translates question, or uses override when it is non-empty, checks the
// text with query.Guard and runs it. Rejected text never reaches the store.
func (p *Pipeline) Ask(ctx context.Context, question, override string) (*QueryResult, error) {
	text := override
	if text == "" {
		if p.translator == nil {
			return nil, errors.New("pipeline: no translator configured")
		}
		translated, err := p.translator.Translate(ctx, question)
		if err != nil {
			return nil, fmt.Errorf("translate question: %w", err)
		}
		text = translated
	}

	guarded, err := query.Guard(text)
	if err != nil {
		p.metrics.IncGuardRejection()
		p.stats.addRejected()
		slog.Warn("rejected query text", slog.String("query", text), slog.Any("error", err))
		return nil, err
	}

	rows, err := p.run(ctx, guarded)
	if err != nil {
		return &QueryResult{Name: question, Query: guarded, Rows: []string{}}, err
	}
	return &QueryResult{Name: question, Query: guarded, Rows: rows}, nil
}

func (p *Pipeline) run(ctx context.Context, text string) ([]string, error) {
	if err := p.store.ConnectToCollection(ctx); err != nil {
		p.store.Close()
		return []string{}, fmt.Errorf("open collection: %w", err)
	}
	defer func() {
		if err := p.store.Close(); err != nil {
			slog.Warn("failed to close store session", slog.Any("error", err))
		}
	}()

	rows, err := p.store.RunQuery(ctx, text)
	p.stats.addQuery()
	if err != nil {
		slog.Error("query failed", slog.Any("error", err))
		return []string{}, err
	}
	return rows, nil
}

// Stats returns a snapshot of the run counters.
func (p *Pipeline) Stats() map[string]int64 {
	return p.stats.snapshot()
}

type stats struct {
	mu        sync.Mutex
	ingests   int64
	persisted int64
	queries   int64
	rejected  int64
}

func (s *stats) addIngest(records int) {
	s.mu.Lock()
	s.ingests++
	s.persisted += int64(records)
	s.mu.Unlock()
}

func (s *stats) addQuery() {
	s.mu.Lock()
	s.queries++
	s.mu.Unlock()
}

func (s *stats) addRejected() {
	s.mu.Lock()
	s.rejected++
	s.mu.Unlock()
}

func (s *stats) snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]int64{
		"ingests":           s.ingests,
		"records_persisted": s.persisted,
		"queries":           s.queries,
		"rejected_queries":  s.rejected,
	}
}

// Package translator turns natural-language questions into XQuery text using a
// hosted chat-completion model and a fixed set of few-shot examples.
package translator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aluiziolira/go-book-catalog/config"
	"github.com/aluiziolira/go-book-catalog/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"
)

var (
	// ErrMissingCredential is returned before any request when no API key is configured.
	ErrMissingCredential = errors.New("missing credential for inference backend")
	// ErrTranslation wraps transport and model failures.
	ErrTranslation = errors.New("translation error")
	// ErrEmptyCompletion is returned when the model produced no usable text.
	ErrEmptyCompletion = errors.New("empty completion")
)

// Completer sends a single prompt to a completion backend.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Translator converts questions to query text. Results are cached per question.
type Translator struct {
	cfg       config.TranslatorConfig
	completer Completer
	breaker   *gobreaker.CircuitBreaker
	cache     *lru.Cache[string, string]
	metrics   *metrics.Metrics
}

// New creates a Translator. A nil completer selects the OpenAI-compatible client
// built from cfg.
func New(cfg config.TranslatorConfig, completer Completer, m *metrics.Metrics) (*Translator, error) {
	if completer == nil {
		completer = NewOpenAICompleter(cfg)
	}

	size := cfg.CacheSize
	if size < 1 {
		size = 1
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create translation cache: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "translator",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &Translator{
		cfg:       cfg,
		completer: completer,
		breaker:   breaker,
		cache:     cache,
		metrics:   m,
	}, nil
}

// Translate returns query text for question. The model is called at most once
// per invocation and failures are not retried.
func (t *Translator) Translate(ctx context.Context, question string) (string, error) {
	if strings.TrimSpace(t.cfg.APIKey) == "" {
		t.metrics.IncTranslation("missing_credential")
		return "", ErrMissingCredential
	}
	question = strings.TrimSpace(question)
	if question == "" {
		t.metrics.IncTranslation("empty_question")
		return "", fmt.Errorf("%w: empty question", ErrTranslation)
	}

	if cached, ok := t.cache.Get(question); ok {
		t.metrics.IncTranslation("cache_hit")
		return cached, nil
	}

	raw, err := t.breaker.Execute(func() (interface{}, error) {
		return t.completer.Complete(ctx, BuildPrompt(question))
	})
	if err != nil {
		t.metrics.IncTranslation("error")
		return "", fmt.Errorf("%w: %v", ErrTranslation, err)
	}

	text := Sanitize(raw.(string))
	if text == "" {
		t.metrics.IncTranslation("empty")
		return "", ErrEmptyCompletion
	}

	t.cache.Add(question, text)
	t.metrics.IncTranslation("success")
	slog.Debug("translated question", slog.String("question", question), slog.String("query", text))
	return text, nil
}

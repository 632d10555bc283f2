package scraper

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-book-catalog/config"
	"github.com/aluiziolira/go-book-catalog/models"
	"github.com/aluiziolira/go-book-catalog/parser"
)

// ProgressFunc receives the running record count after every appended record.
type ProgressFunc func(done, limit int)

// Builder drives pagination until a limit is reached or the catalog ends.
type Builder struct {
	extractor *Extractor
	baseURL   string
	delay     time.Duration
}

// NewBuilder wraps an extractor with the configured base URL and page delay.
func NewBuilder(ex *Extractor, cfg *config.Config) *Builder {
	return &Builder{
		extractor: ex,
		baseURL:   cfg.BaseURL,
		delay:     cfg.PageDelay,
	}
}

// Build scrapes up to limit records. Fetch failures end pagination and keep the
// records gathered so far; they are reported through the result, not the error.
func (b *Builder) Build(limit int, progress ProgressFunc) (*models.BuildResult, error) {
	if limit < 1 {
		return nil, fmt.Errorf("limit must be at least 1, got %d", limit)
	}

	result := &models.BuildResult{
		Books:     make(models.Collection, 0, limit),
		Limit:     limit,
		StartTime: time.Now(),
	}

	for page := 1; len(result.Books) < limit; page++ {
		if page > 1 && b.delay > 0 {
			time.Sleep(b.delay)
		}

		pageURL := parser.PageURL(b.baseURL, page)
		slog.Info("scraping page", slog.Int("page", page), slog.String("url", pageURL))

		listings, err := b.extractor.FetchPage(pageURL)
		if err != nil {
			var unavailable ErrPageUnavailable
			if errors.As(err, &unavailable) {
				result.StopReason = models.StopPageUnavailable
				slog.Info("page unavailable, stopping",
					slog.Int("page", page),
					slog.Int("status", unavailable.Status),
				)
			} else {
				result.StopReason = models.StopFetchError
				result.Err = err
				slog.Error("page fetch failed, keeping partial results",
					slog.Int("page", page),
					slog.Int("records", len(result.Books)),
					slog.Any("error", err),
				)
			}
			break
		}
		result.PageCount++

		if len(listings) == 0 {
			result.StopReason = models.StopEmptyPage
			break
		}

		for _, listing := range listings {
			if len(result.Books) >= limit {
				break
			}
			book, err := b.extractor.Record(listing)
			if err != nil {
				b.extractor.metrics.IncError("invalid_record")
				slog.Warn("skipping listing", slog.Any("error", err))
				continue
			}
			result.Books = append(result.Books, book)
			b.extractor.metrics.IncItems()
			if progress != nil {
				progress(len(result.Books), limit)
			}
		}
	}

	if len(result.Books) >= limit {
		result.StopReason = models.StopLimitReached
	}
	result.EndTime = time.Now()
	slog.Info("scrape completed",
		slog.Int("records", len(result.Books)),
		slog.Int("pages", result.PageCount),
		slog.String("stop_reason", string(result.StopReason)),
	)
	return result, nil
}

package report

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aluiziolira/go-book-catalog/query"
)

// Querier is the subset of the store the projection needs.
type Querier interface {
	ConnectToCollection(ctx context.Context) error
	RunQuery(ctx context.Context, expr string) ([]string, error)
	Close() error
}

// Adapter runs the projection query and parses its output.
type Adapter struct {
	store Querier
}

// NewAdapter wraps store.
func NewAdapter(store Querier) *Adapter {
	return &Adapter{store: store}
}

// Projection opens the collection, runs the projection and closes the session.
func (a *Adapter) Projection(ctx context.Context) (rows []Row, err error) {
	if err := a.store.ConnectToCollection(ctx); err != nil {
		return nil, fmt.Errorf("open collection: %w", err)
	}
	defer func() {
		if cerr := a.store.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close store: %w", cerr)
		}
	}()

	lines, err := a.store.RunQuery(ctx, query.Projection)
	if err != nil {
		return nil, fmt.Errorf("run projection: %w", err)
	}

	rows, dropped := ParseRows(lines)
	if dropped > 0 {
		slog.Warn("dropped malformed projection lines", slog.Int("dropped", dropped), slog.Int("kept", len(rows)))
	}
	return rows, nil
}

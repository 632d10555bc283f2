package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aluiziolira/go-book-catalog/config"
	"github.com/aluiziolira/go-book-catalog/document"
	"github.com/aluiziolira/go-book-catalog/metrics"
	"github.com/aluiziolira/go-book-catalog/models"
	"github.com/aluiziolira/go-book-catalog/query"
	"github.com/aluiziolira/go-book-catalog/report"
	"github.com/aluiziolira/go-book-catalog/scraper"
	"github.com/aluiziolira/go-book-catalog/store"
	"github.com/aluiziolira/go-book-catalog/store/storetest"
	"github.com/aluiziolira/go-book-catalog/translator"
	"github.com/antchfx/xmlquery"
	"github.com/jarcoal/httpmock"
)

const testBase = "http://example.test/"

var ratingCycle = []string{"One", "Two", "Three", "Four", "Five"}

type fakeTranslator struct {
	text  string
	err   error
	calls int
}

func (f *fakeTranslator) Translate(context.Context, string) (string, error) {
	f.calls++
	return f.text, f.err
}

type env struct {
	cfg      *config.Config
	server   *storetest.Server
	store    *store.Store
	pipeline *Pipeline
}

func newEnv(t *testing.T, tr Translator, mutate func(*config.Config)) *env {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.BaseURL = testBase
	cfg.PageDelay = 0
	cfg.SchemaPath = "../schema/books_schema.rng"
	if mutate != nil {
		mutate(cfg)
	}

	m := metrics.New()
	ex, err := scraper.NewExtractor(cfg, m)
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	ex.WithTransport(newCatalog(2, 8))

	srv := storetest.NewServer()
	srv.Register(query.TopRated.Text, topRated)
	srv.Register(query.Projection, projection)
	st := store.New(cfg.Store, srv.Dialer(), m)

	return &env{
		cfg:      cfg,
		server:   srv,
		store:    st,
		pipeline: New(cfg, scraper.NewBuilder(ex, cfg), st, tr, m),
	}
}

func TestIngestThenTopRated(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()

	var progress []int
	res, err := e.pipeline.Ingest(ctx, 10, func(done, limit int) {
		if limit != 10 {
			t.Errorf("progress limit = %d, want 10", limit)
		}
		progress = append(progress, done)
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if !res.Persisted {
		t.Fatal("collection not persisted")
	}
	if len(res.Build.Books) != 10 {
		t.Fatalf("records = %d, want 10", len(res.Build.Books))
	}
	for i, book := range res.Build.Books {
		if book.Title == "" || !book.Rating.Valid() {
			t.Errorf("record %d = %+v", i, book)
		}
	}
	if res.Validation == nil || !res.Validation.Valid {
		t.Fatalf("validation = %+v", res.Validation)
	}
	for i, done := range progress {
		if done != i+1 {
			t.Fatalf("progress = %v, want 1..10", progress)
		}
	}
	if _, ok := e.server.Database(e.cfg.Store.Database); !ok {
		t.Fatal("database not created")
	}

	out, err := e.pipeline.RunFixed(ctx, "top-rated")
	if err != nil {
		t.Fatalf("RunFixed() error = %v", err)
	}
	fives := 0
	for _, book := range res.Build.Books {
		if book.Rating == models.RatingFive {
			fives++
		}
	}
	if fives != 2 || len(out.Rows) != fives {
		t.Fatalf("top rated rows = %v, want %d", out.Rows, fives)
	}
	for _, row := range out.Rows {
		if !strings.HasSuffix(row, "(Five stars)") {
			t.Errorf("unexpected row %q", row)
		}
	}
	if n := e.server.OpenSessions(); n != 0 {
		t.Errorf("open sessions = %d, want 0", n)
	}
	if got := e.pipeline.Stats()["records_persisted"]; got != 10 {
		t.Errorf("records_persisted = %d, want 10", got)
	}
}

func TestIngestProjectionRoundTrip(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()

	res, err := e.pipeline.Ingest(ctx, 10, nil)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	rows, err := report.NewAdapter(e.store).Projection(ctx)
	if err != nil {
		t.Fatalf("Projection() error = %v", err)
	}
	if len(rows) != len(res.Build.Books) {
		t.Fatalf("rows = %d, want %d", len(rows), len(res.Build.Books))
	}
	for i, book := range res.Build.Books {
		row := rows[i]
		if row.Category != book.Category.Text() || row.Rating != string(book.Rating) {
			t.Errorf("row %d = %+v, book = %+v", i, row, book)
		}
		if row.RatingOrdinal != book.Rating.Ordinal() {
			t.Errorf("row %d ordinal = %d", i, row.RatingOrdinal)
		}
		if row.Price == nil || *row.Price != float64(i+1) {
			t.Errorf("row %d price = %v, want %d", i, row.Price, i+1)
		}
	}
	if rows[2].Category != "Food, Drink" {
		t.Errorf("category with delimiter = %q", rows[2].Category)
	}
}

func TestIngestReplacesCollection(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()

	if _, err := e.pipeline.Ingest(ctx, 10, nil); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	first, _ := e.server.Database(e.cfg.Store.Database)

	if _, err := e.pipeline.Ingest(ctx, 3, nil); err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	second, _ := e.server.Database(e.cfg.Store.Database)

	if got := strings.Count(string(second), "<item>"); got != 3 {
		t.Fatalf("items after replace = %d, want 3", got)
	}
	if len(second) >= len(first) {
		t.Error("collection was merged instead of replaced")
	}
}

func TestIngestValidationPolicy(t *testing.T) {
	rejectAll := filepath.Join(t.TempDir(), "catalog.rng")
	schema := `<grammar xmlns="http://relaxng.org/ns/structure/1.0"><start><element name="catalog"><empty/></element></start></grammar>`
	if err := os.WriteFile(rejectAll, []byte(schema), 0o644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(t.TempDir(), "missing.rng")

	tests := []struct {
		name      string
		schema    string
		enforce   bool
		persisted bool
		schemaErr bool
	}{
		{name: "advisory invalid", schema: rejectAll, persisted: true},
		{name: "strict invalid", schema: rejectAll, enforce: true},
		{name: "advisory missing schema", schema: missing, persisted: true, schemaErr: true},
		{name: "strict missing schema", schema: missing, enforce: true, schemaErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, nil, func(cfg *config.Config) {
				cfg.SchemaPath = tt.schema
				cfg.EnforceSchema = tt.enforce
			})

			res, err := e.pipeline.Ingest(context.Background(), 5, nil)
			if tt.enforce {
				if !errors.Is(err, ErrValidationFailed) {
					t.Fatalf("error = %v, want ErrValidationFailed", err)
				}
			} else if err != nil {
				t.Fatalf("Ingest() error = %v", err)
			}

			if res.Persisted != tt.persisted {
				t.Errorf("persisted = %v, want %v", res.Persisted, tt.persisted)
			}
			if _, ok := e.server.Database(e.cfg.Store.Database); ok != tt.persisted {
				t.Errorf("database exists = %v, want %v", ok, tt.persisted)
			}
			if tt.schemaErr {
				if !errors.Is(res.SchemaErr, document.ErrSchemaMissing) {
					t.Errorf("schema error = %v", res.SchemaErr)
				}
			} else if res.Validation == nil || res.Validation.Valid || len(res.Validation.Violations) == 0 {
				t.Errorf("validation = %+v, want violations", res.Validation)
			}
		})
	}
}

func TestIngestStoreDown(t *testing.T) {
	e := newEnv(t, nil, nil)
	e.server.SetDown(true)

	res, err := e.pipeline.Ingest(context.Background(), 3, nil)
	if !errors.Is(err, store.ErrConnection) {
		t.Fatalf("error = %v, want store.ErrConnection", err)
	}
	if res.Persisted || len(res.Build.Books) != 3 {
		t.Errorf("result = %+v", res)
	}
}

func TestAskRejectsUnsafeText(t *testing.T) {
	tests := []string{
		"for $b in /books/item return delete node $b",
		"for $x in (1) return db:drop('BookCatalog')",
		"I could not translate that question.",
	}
	for _, text := range tests {
		t.Run(text, func(t *testing.T) {
			tr := &fakeTranslator{text: text}
			e := newEnv(t, tr, nil)

			_, err := e.pipeline.Ask(context.Background(), "drop everything", "")
			if !errors.Is(err, query.ErrRejected) {
				t.Fatalf("error = %v, want query.ErrRejected", err)
			}
			if cmds := e.server.Commands(); len(cmds) != 0 {
				t.Errorf("store received %v", cmds)
			}
			if got := e.pipeline.Stats()["rejected_queries"]; got != 1 {
				t.Errorf("rejected_queries = %d, want 1", got)
			}
		})
	}
}

func TestAskUsesTranslation(t *testing.T) {
	tr := &fakeTranslator{text: query.TopRated.Text}
	e := newEnv(t, tr, nil)
	ctx := context.Background()

	if _, err := e.pipeline.Ingest(ctx, 10, nil); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	out, err := e.pipeline.Ask(ctx, "which books have five stars?", "")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if len(out.Rows) != 2 || tr.calls != 1 {
		t.Errorf("rows = %v, translator calls = %d", out.Rows, tr.calls)
	}
}

func TestAskOverrideSkipsTranslation(t *testing.T) {
	tr := &fakeTranslator{err: translator.ErrTranslation}
	e := newEnv(t, tr, nil)
	ctx := context.Background()

	if _, err := e.pipeline.Ingest(ctx, 10, nil); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	out, err := e.pipeline.Ask(ctx, "five stars", "  "+query.TopRated.Text+"\n")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if tr.calls != 0 {
		t.Errorf("translator called %d times", tr.calls)
	}
	if len(out.Rows) != 2 {
		t.Errorf("rows = %v", out.Rows)
	}
}

func TestAskTranslationFailure(t *testing.T) {
	tr := &fakeTranslator{err: translator.ErrMissingCredential}
	e := newEnv(t, tr, nil)

	out, err := e.pipeline.Ask(context.Background(), "anything", "")
	if !errors.Is(err, translator.ErrMissingCredential) {
		t.Fatalf("error = %v, want ErrMissingCredential", err)
	}
	if out != nil {
		t.Errorf("result = %+v, want nil", out)
	}
}

func TestAskQueryErrorReturnsEmptyRows(t *testing.T) {
	tr := &fakeTranslator{text: "for $book in /books/item return $book/availability/text()"}
	e := newEnv(t, tr, nil)
	ctx := context.Background()

	if _, err := e.pipeline.Ingest(ctx, 2, nil); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	out, err := e.pipeline.Ask(ctx, "availability", "")
	if !errors.Is(err, store.ErrQuery) {
		t.Fatalf("error = %v, want store.ErrQuery", err)
	}
	if out == nil || out.Rows == nil || len(out.Rows) != 0 {
		t.Errorf("result = %+v, want empty rows", out)
	}
	if n := e.server.OpenSessions(); n != 0 {
		t.Errorf("open sessions = %d, want 0", n)
	}
}

func TestRunFixedUnknown(t *testing.T) {
	e := newEnv(t, nil, nil)
	if _, err := e.pipeline.RunFixed(context.Background(), "cheapest"); !errors.Is(err, ErrUnknownQuery) {
		t.Fatalf("error = %v, want ErrUnknownQuery", err)
	}
}

func TestRunFixedWithoutCollection(t *testing.T) {
	e := newEnv(t, nil, nil)
	if _, err := e.pipeline.RunFixed(context.Background(), "top-rated"); err == nil {
		t.Fatal("expected error when no collection exists")
	}
	if n := e.server.OpenSessions(); n != 0 {
		t.Errorf("open sessions = %d, want 0", n)
	}
}

func topRated(doc *xmlquery.Node) []string {
	var out []string
	for _, item := range xmlquery.Find(doc, "/books/item[rating='Five']") {
		title := item.SelectElement("title").InnerText()
		rating := item.SelectElement("rating").InnerText()
		out = append(out, fmt.Sprintf("%s (%s stars)", title, rating))
	}
	return out
}

func projection(doc *xmlquery.Node) []string {
	var out []string
	for _, item := range xmlquery.Find(doc, "/books/item") {
		out = append(out, strings.Join([]string{
			item.SelectElement("category").InnerText(),
			item.SelectElement("rating").InnerText(),
			item.SelectElement("price").InnerText(),
		}, ","))
	}
	return out
}

// newCatalog registers pages 1..pages with perPage listings each, plus every
// detail page. Ratings cycle One..Five and record 3 has a comma in its category.
func newCatalog(pages, perPage int) *httpmock.MockTransport {
	transport := httpmock.NewMockTransport()
	for page := 1; page <= pages; page++ {
		body := catalogPage(page, perPage)
		if page == 1 {
			transport.RegisterResponder("GET", testBase, htmlResponder(body))
		} else {
			transport.RegisterResponder("GET", fmt.Sprintf("%scatalogue/page-%d.html", testBase, page), htmlResponder(body))
		}
		for i := 1; i <= perPage; i++ {
			id := (page-1)*perPage + i
			category := fmt.Sprintf("Category %d", id)
			if id == 3 {
				category = "Food, Drink"
			}
			detail := fmt.Sprintf("%scatalogue/book-%d_%d/index.html", testBase, id, id)
			transport.RegisterResponder("GET", detail, htmlResponder(detailPage(category)))
		}
	}
	transport.RegisterResponder("GET", fmt.Sprintf("%scatalogue/page-%d.html", testBase, pages+1),
		httpmock.NewStringResponder(404, "<html></html>"))
	return transport
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	return httpmock.ResponderFromResponse(resp)
}

func catalogPage(page, perPage int) string {
	var b strings.Builder
	b.WriteString(`<html><body><section><ol class="row">`)
	for i := 1; i <= perPage; i++ {
		id := (page-1)*perPage + i
		href := fmt.Sprintf("book-%d_%d/index.html", id, id)
		img := fmt.Sprintf("../media/cache/book-%d.jpg", id)
		if page == 1 {
			href = "catalogue/" + href
			img = strings.TrimPrefix(img, "../")
		}
		b.WriteString(`<li><article class="product_pod">`)
		fmt.Fprintf(&b, `<div class="image_container"><a href="%s"><img src="%s" alt="Book %d"></a></div>`, href, img, id)
		fmt.Fprintf(&b, `<p class="star-rating %s"><i class="icon-star"></i></p>`, ratingCycle[(id-1)%len(ratingCycle)])
		fmt.Fprintf(&b, `<h3><a href="%s" title="Book %d">Book %d</a></h3>`, href, id, id)
		fmt.Fprintf(&b, `<div class="product_price"><p class="price_color">&pound;%0.2f</p>`, float64(id))
		b.WriteString("<p class=\"instock availability\">\n    In stock\n</p></div>")
		b.WriteString("</article></li>")
	}
	b.WriteString("</ol></section></body></html>")
	return b.String()
}

func detailPage(category string) string {
	return fmt.Sprintf(`<html><body><ul class="breadcrumb">
<li><a href="../../index.html">Home</a></li>
<li><a href="../category/books_1/index.html">Books</a></li>
<li><a href="../category/books/x/index.html">%s</a></li>
<li class="active">Title</li>
</ul></body></html>`, category)
}

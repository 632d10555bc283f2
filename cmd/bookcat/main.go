package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-book-catalog/config"
	"github.com/aluiziolira/go-book-catalog/metrics"
	"github.com/aluiziolira/go-book-catalog/pipeline"
	"github.com/aluiziolira/go-book-catalog/query"
	"github.com/aluiziolira/go-book-catalog/report"
	"github.com/aluiziolira/go-book-catalog/scraper"
	"github.com/aluiziolira/go-book-catalog/store"
	"github.com/aluiziolira/go-book-catalog/translator"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const usage = `usage: bookcat <command> [flags]

commands:
  ingest    scrape the catalog, validate it and replace the stored collection
  queries   list the fixed queries, or run one with -run
  ask       translate a question into XQuery and run it
  report    export the category/rating/price projection`

// app bundles what every subcommand needs.
type app struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	store    *store.Store
	pipeline *pipeline.Pipeline
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	command, args := os.Args[1], os.Args[2:]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := fs.String("config", "", "Config file (yaml, toml or json)")
	verbose := fs.Bool("v", false, "Enable verbose logging")
	metricsAddr := fs.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	storeHost := fs.String("store-host", "", "Document store host")
	database := fs.String("db", "", "Collection name")

	apply := func(*config.Config) {}
	var run func(ctx context.Context, a *app) error
	switch command {
	case "ingest":
		limit := fs.Int("limit", 0, "Number of records to scrape")
		baseURL := fs.String("base-url", "", "Catalog base URL")
		delayMs := fs.Int("delay", -1, "Delay between pages (milliseconds)")
		schema := fs.String("schema", "", "Structural schema path")
		enforce := fs.Bool("enforce-schema", false, "Refuse to persist documents that fail validation")
		apply = func(cfg *config.Config) {
			if *limit > 0 {
				cfg.Limit = *limit
			}
			if *baseURL != "" {
				cfg.BaseURL = *baseURL
			}
			if *delayMs >= 0 {
				cfg.PageDelay = time.Duration(*delayMs) * time.Millisecond
			}
			if *schema != "" {
				cfg.SchemaPath = *schema
			}
			if *enforce {
				cfg.EnforceSchema = true
			}
		}
		run = runIngest
	case "queries":
		name := fs.String("run", "", "Fixed query to run, by key or name")
		run = func(ctx context.Context, a *app) error {
			return runQueries(ctx, a, *name)
		}
	case "ask":
		question := fs.String("q", "", "Question in natural language")
		edit := fs.String("edit", "", "Query text to run instead of the translation")
		run = func(ctx context.Context, a *app) error {
			return runAsk(ctx, a, *question, *edit)
		}
	case "report":
		output := fs.String("output", "", "Output file path")
		format := fs.String("format", "", "Output format: csv, json, dual, or parquet")
		apply = func(cfg *config.Config) {
			if *output != "" {
				cfg.Report.OutputFile = *output
			}
			if *format != "" {
				cfg.Report.OutputFormat = strings.ToLower(*format)
			}
		}
		run = runReport
	case "-h", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", command, usage)
		os.Exit(2)
	}
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		cfg.Verbose = true
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *storeHost != "" {
		cfg.Store.Host = *storeHost
	}
	if *database != "" {
		cfg.Store.Database = *database
	}
	apply(cfg)

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, command == "ask")
	if err != nil {
		slog.Error("initialising", slog.Any("error", err))
		os.Exit(1)
	}
	shutdown := startMetricsServer(cfg.MetricsAddr, a.metrics)

	err = run(ctx, a)
	shutdown()
	if err != nil {
		slog.Error(command+" failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func newApp(cfg *config.Config, withTranslator bool) (*app, error) {
	m := metrics.New()

	ex, err := scraper.NewExtractor(cfg, m)
	if err != nil {
		return nil, fmt.Errorf("create extractor: %w", err)
	}
	st := store.New(cfg.Store, nil, m)

	var tr pipeline.Translator
	if withTranslator {
		t, err := translator.New(cfg.Translator, nil, m)
		if err != nil {
			return nil, fmt.Errorf("create translator: %w", err)
		}
		tr = t
	}

	return &app{
		cfg:      cfg,
		metrics:  m,
		store:    st,
		pipeline: pipeline.New(cfg, scraper.NewBuilder(ex, cfg), st, tr, m),
	}, nil
}

func runIngest(ctx context.Context, a *app) error {
	slog.Info("starting ingest",
		slog.String("base_url", a.cfg.BaseURL),
		slog.Int("limit", a.cfg.Limit),
		slog.String("database", a.cfg.Store.Database),
		slog.Bool("enforce_schema", a.cfg.EnforceSchema),
	)

	start := time.Now()
	res, err := a.pipeline.Ingest(ctx, a.cfg.Limit, func(done, limit int) {
		slog.Debug("progress", slog.Int("done", done), slog.Int("limit", limit))
	})
	if res != nil {
		printIngestSummary(res, time.Since(start))
	}
	return err
}

func runQueries(ctx context.Context, a *app, name string) error {
	if name == "" {
		for _, q := range query.Catalog() {
			fmt.Printf("%-12s %s\n%s\n\n", q.Key, q.Name, indent(q.Text))
		}
		return nil
	}
	res, err := a.pipeline.RunFixed(ctx, name)
	if err != nil {
		return err
	}
	printRows(res)
	return nil
}

func runAsk(ctx context.Context, a *app, question, edit string) error {
	if question == "" && edit == "" {
		return errors.New("ask needs -q or -edit")
	}
	res, err := a.pipeline.Ask(ctx, question, edit)
	if res != nil {
		printRows(res)
	}
	return err
}

func runReport(ctx context.Context, a *app) error {
	rows, err := report.NewAdapter(a.store).Projection(ctx)
	if err != nil {
		return err
	}

	writer, err := report.NewWriter(a.cfg.Report)
	if err != nil {
		return err
	}
	if err := writer.Write(rows); err != nil {
		writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	fmt.Println("Category / rating counts")
	for _, g := range report.GroupByCategoryRating(rows) {
		fmt.Printf("  %-28s %-6s %d\n", g.Category, g.Rating, g.Count)
	}
	fmt.Println("Mean price by category")
	for _, c := range report.MeanPriceByCategory(rows) {
		fmt.Printf("  %-28s %8.2f (%d priced)\n", c.Category, c.MeanPrice, c.Priced)
	}
	fmt.Printf("Wrote %d rows to %s (%s)\n", len(rows), a.cfg.Report.OutputFile, a.cfg.Report.OutputFormat)
	return nil
}

func startMetricsServer(addr string, m *metrics.Metrics) func() {
	if addr == "" || m == nil {
		return func() {}
	}
	server := &http.Server{
		Addr:    addr,
		Handler: promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}

func printIngestSummary(res *pipeline.IngestResult, duration time.Duration) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Printf("Completed! Scraped %d books\n", len(res.Build.Books))
	fmt.Printf("  Pages:         %d\n", res.Build.PageCount)
	fmt.Printf("  Stop reason:   %s\n", res.Build.StopReason)
	if res.Build.Err != nil {
		fmt.Printf("  Scrape error:  %v\n", res.Build.Err)
	}
	switch {
	case res.SchemaErr != nil:
		fmt.Printf("  Validation:    skipped (%v)\n", res.SchemaErr)
	case res.Validation != nil && res.Validation.Valid:
		fmt.Println("  Validation:    valid")
	case res.Validation != nil:
		fmt.Printf("  Validation:    %d violation(s)\n", len(res.Validation.Violations))
	}
	fmt.Printf("  Persisted:     %v\n", res.Persisted)
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Println(separator)
}

func printRows(res *pipeline.QueryResult) {
	if res.Name != "" {
		fmt.Println(res.Name)
	}
	fmt.Println(indent(res.Query))
	if len(res.Rows) == 0 {
		fmt.Println("(no results)")
		return
	}
	for _, row := range res.Rows {
		fmt.Println("  " + row)
	}
}

func indent(text string) string {
	return "    " + strings.ReplaceAll(strings.TrimSpace(text), "\n", "\n    ")
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

package scraper

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/go-book-catalog/config"
	"github.com/aluiziolira/go-book-catalog/metrics"
	"github.com/aluiziolira/go-book-catalog/models"
	"github.com/aluiziolira/go-book-catalog/parser"
	"github.com/gocolly/colly/v2"
)

const (
	listingSelector    = "article.product_pod"
	breadcrumbSelector = "ul.breadcrumb"
	categoryCrumb      = 2
)

// Extractor fetches catalog pages and detail pages with a synchronous colly collector.
type Extractor struct {
	baseURL   string
	collector *colly.Collector
	metrics   *metrics.Metrics
}

// NewExtractor builds an extractor configured from cfg.
func NewExtractor(cfg *config.Config, m *metrics.Metrics) (*Extractor, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	return &Extractor{
		baseURL:   cfg.BaseURL,
		collector: collector,
		metrics:   m,
	}, nil
}

// WithTransport swaps the HTTP transport used for every fetch.
func (e *Extractor) WithTransport(rt http.RoundTripper) {
	e.collector.WithTransport(rt)
}

// FetchPage fetches one catalog page and returns its listing fragments in page order.
// A status other than 200 yields ErrPageUnavailable.
func (e *Extractor) FetchPage(pageURL string) ([]models.Listing, error) {
	c := e.collector.Clone()
	e.instrument(c, "page")

	status := 0
	var listings []models.Listing
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
	})
	c.OnHTML(listingSelector, func(h *colly.HTMLElement) {
		listings = append(listings, extractListing(h))
	})

	if err := c.Visit(pageURL); err != nil {
		if status != 0 && status != http.StatusOK {
			err = ErrPageUnavailable{URL: pageURL, Status: status}
		} else {
			err = classifyError(err, status)
		}
		e.metrics.IncError(errorTypeLabel(err))
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	if status != http.StatusOK {
		err := ErrPageUnavailable{URL: pageURL, Status: status}
		e.metrics.IncError(errorTypeLabel(err))
		return nil, err
	}
	return listings, nil
}

// Record normalizes a listing and resolves its category from the detail page.
func (e *Extractor) Record(l models.Listing) (models.Book, error) {
	book, err := parser.NewBook(e.baseURL, l)
	if err != nil {
		return models.Book{}, err
	}
	book.Category = e.ResolveCategory(book.ProductURL)
	return book, nil
}

// ResolveCategory reads the third breadcrumb entry of a product page. Any failure
// leaves the category unresolved; it never returns an error.
func (e *Extractor) ResolveCategory(productURL string) (category models.Category) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("category lookup panicked", slog.String("url", productURL), slog.Any("panic", r))
			category = models.Category{}
		}
		if category.Resolved {
			e.metrics.IncCategoryLookup("resolved")
		} else {
			e.metrics.IncCategoryLookup("unresolved")
		}
	}()

	c := e.collector.Clone()
	e.instrument(c, "detail")

	status := 0
	var crumbs []string
	seen := false
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
	})
	c.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			status = r.StatusCode
		}
	})
	c.OnHTML(breadcrumbSelector, func(h *colly.HTMLElement) {
		if seen {
			return
		}
		seen = true
		crumbs = h.ChildTexts("a")
	})

	if err := c.Visit(productURL); err != nil {
		label := errorTypeLabel(classifyError(err, status))
		e.metrics.IncError(label)
		slog.Debug("category lookup failed",
			slog.String("url", productURL),
			slog.String("error_type", label),
			slog.Int("status", status),
			slog.Any("error", err),
		)
		return models.Category{}
	}
	if status != http.StatusOK || len(crumbs) <= categoryCrumb {
		return models.Category{}
	}
	name := strings.TrimSpace(crumbs[categoryCrumb])
	if name == "" {
		return models.Category{}
	}
	return models.ResolvedCategory(name)
}

func (e *Extractor) instrument(c *colly.Collector, phase string) {
	c.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
		e.metrics.IncRequest(phase)
	})
	c.OnScraped(func(r *colly.Response) {
		if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
			e.metrics.ObserveDuration(time.Since(start))
		}
	})
}

func extractListing(h *colly.HTMLElement) models.Listing {
	ratingText := ""
	if parts := strings.Fields(h.ChildAttr("p.star-rating", "class")); len(parts) > 1 {
		ratingText = parts[1]
	}

	availability := h.ChildText("p.instock.availability")
	if strings.TrimSpace(availability) == "" {
		availability = h.ChildText("p.availability")
	}

	return models.Listing{
		Title:        strings.TrimSpace(h.ChildAttr("h3 a", "title")),
		Price:        strings.TrimSpace(h.ChildText("p.price_color")),
		RatingCode:   ratingText,
		Availability: availability,
		ImageRef:     h.ChildAttr("img", "src"),
		DetailRef:    h.ChildAttr("h3 a", "href"),
	}
}

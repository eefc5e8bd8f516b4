// Package polymarket reads the Gamma events listing and turns it into
// normalized markets.
package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vov-code/polymarket-bot/internal/fetch"
	"github.com/vov-code/polymarket-bot/internal/logger"
	"github.com/vov-code/polymarket-bot/internal/models"
)

const (
	DefaultConcurrency = 5
	// minPerRequest bounds how many pages one poll interval may spend.
	minPerRequest = 250 * time.Millisecond
)

// Fetcher returns the JSON body for a URL. *fetch.Router satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (json.RawMessage, error)
}

// CatalogConfig controls pagination and record filtering.
type CatalogConfig struct {
	BaseURL      string
	Category     string
	EventsLimit  int
	PageSize     int
	Concurrency  int
	PollInterval time.Duration
	Filter       Filter
}

// Catalog lists active markets from the upstream events endpoint.
type Catalog struct {
	fetcher Fetcher
	cfg     CatalogConfig
	now     func() time.Time
}

// NewCatalog creates a catalog reader. A nil clock means time.Now.
func NewCatalog(f Fetcher, cfg CatalogConfig, now func() time.Time) *Catalog {
	if cfg.PageSize < 1 {
		cfg.PageSize = 1
	}
	if cfg.EventsLimit < 1 {
		cfg.EventsLimit = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	if now == nil {
		now = time.Now
	}
	return &Catalog{fetcher: f, cfg: cfg, now: now}
}

// page is one planned request of the listing.
type page struct {
	offset int
	limit  int
}

// EffectiveLimit is the number of events requested this cycle: the
// configured limit, capped so a cycle cannot issue more pages than its poll
// interval allows.
func (c *Catalog) EffectiveLimit() int {
	maxPages := 1
	if c.cfg.PollInterval > 0 {
		maxPages = max(1, int(c.cfg.PollInterval/minPerRequest))
	}
	return min(c.cfg.EventsLimit, maxPages*c.cfg.PageSize)
}

func (c *Catalog) plan() []page {
	limit := c.EffectiveLimit()
	var pages []page
	for offset := 0; offset < limit; offset += c.cfg.PageSize {
		pages = append(pages, page{offset: offset, limit: min(c.cfg.PageSize, limit-offset)})
	}
	return pages
}

func (c *Catalog) pageURL(p page) (string, error) {
	u, err := url.Parse(strings.TrimRight(c.cfg.BaseURL, "/") + "/events")
	if err != nil {
		return "", fmt.Errorf("failed to parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("limit", strconv.Itoa(p.limit))
	q.Set("offset", strconv.Itoa(p.offset))
	if c.cfg.Category != "" {
		q.Set("category", c.cfg.Category)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ListMarkets fetches the listing in batches of Concurrency pages and
// returns the normalized markets in listing order. A batch containing a
// short page ends pagination. Pages with a malformed payload are skipped;
// any other failure aborts the listing.
func (c *Catalog) ListMarkets(ctx context.Context) ([]models.Market, error) {
	pages := c.plan()
	now := c.now()

	var markets []models.Market
	seen := make(map[string]struct{})
	rejected := make(map[error]int)
	total := 0

	for start := 0; start < len(pages); start += c.cfg.Concurrency {
		batch := pages[start:min(start+c.cfg.Concurrency, len(pages))]
		results := make([][]APIEvent, len(batch))
		skipped := make([]bool, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.cfg.Concurrency)
		for i, p := range batch {
			i, p := i, p
			g.Go(func() error {
				events, err := c.fetchPage(gctx, p)
				var decodeErr *fetch.DecodeError
				if errors.As(err, &decodeErr) {
					logger.Warn("Skipping catalog page at offset %d: %v", p.offset, err)
					skipped[i] = true
					return nil
				}
				if err != nil {
					return fmt.Errorf("page at offset %d: %w", p.offset, err)
				}
				results[i] = events
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("failed to list markets: %w", err)
		}

		short := false
		for i, events := range results {
			if !skipped[i] && len(events) < batch[i].limit {
				short = true
			}
			for _, event := range events {
				for _, raw := range event.Markets {
					total++
					m, err := Normalize(event, raw, c.cfg.Filter, now)
					if err != nil {
						rejected[err]++
						continue
					}
					if _, dup := seen[m.ID]; dup {
						continue
					}
					seen[m.ID] = struct{}{}
					markets = append(markets, m)
				}
			}
		}
		if short {
			break
		}
	}

	if logger.Enabled(logger.DebugLevel) {
		logger.Debug("Catalog: %d raw markets, %d kept, rejected=%v", total, len(markets), rejectSummary(rejected))
	}
	return markets, nil
}

func (c *Catalog) fetchPage(ctx context.Context, p page) ([]APIEvent, error) {
	u, err := c.pageURL(p)
	if err != nil {
		return nil, err
	}
	body, err := c.fetcher.Fetch(ctx, u)
	if err != nil {
		return nil, err
	}
	var events []APIEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, &fetch.DecodeError{URL: fetch.MaskURL(u), BodyPrefix: prefix(body), Err: err}
	}
	return events, nil
}

func prefix(body []byte) string {
	const n = 300
	if len(body) > n {
		return string(body[:n])
	}
	return string(body)
}

func rejectSummary(rejected map[error]int) map[string]int {
	out := make(map[string]int, len(rejected))
	for err, n := range rejected {
		out[err.Error()] += n
	}
	return out
}

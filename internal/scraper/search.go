package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/lfzhong/amazon-web-scrawler/internal/models"
)

// searchWait bounds how long discovery waits for result markup to stabilize.
const searchWait = 15 * time.Second

// Discovery runs keyword searches and extracts ranked product candidates.
type Discovery struct {
	fetcher Fetcher
	logger  *slog.Logger
}

func NewDiscovery(f Fetcher, logger *slog.Logger) *Discovery {
	return &Discovery{
		fetcher: f,
		logger:  logger.With("component", "discovery"),
	}
}

// Discover searches for the query keyword and returns up to MaxProducts
// candidates in the site's own ranking order. When every selector exhausts or
// the navigation is blocked it returns ErrNoResultsOrBlocked so callers can
// distinguish "no candidates" from invalid input, which Normalize catches
// before any navigation.
func (d *Discovery) Discover(ctx context.Context, query models.SearchQuery) ([]models.ProductCandidate, error) {
	if err := query.Normalize(); err != nil {
		return nil, err
	}

	searchURL := fmt.Sprintf("%s/s?k=%s", baseURL, url.QueryEscape(query.Keyword))
	d.logger.Info("searching", "keyword", query.Keyword, "max_products", query.MaxProducts)

	html, err := d.fetcher.Fetch(ctx, searchURL, `[data-component-type="s-search-result"]`, searchWait)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger.Warn("search navigation failed", "error", err)
		return nil, ErrNoResultsOrBlocked
	}

	candidates := ParseSearchResults(html, query.MaxProducts)
	if len(candidates) == 0 {
		d.logger.Warn("no candidates extracted", "keyword", query.Keyword)
		return nil, ErrNoResultsOrBlocked
	}

	d.logger.Info("candidates found", "count", len(candidates))
	return candidates, nil
}

// ParseSearchResults extracts candidate products from a rendered search page.
func ParseSearchResults(html string, maxProducts int) []models.ProductCandidate {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	containers, ok := searchResultChain.Select(doc.Selection)
	if !ok {
		return nil
	}

	var candidates []models.ProductCandidate
	containers.EachWithBreak(func(_ int, container *goquery.Selection) bool {
		title := searchTitleChain.Text(container, "")
		href := searchLinkChain.Attr(container, "href")
		if title == "" || href == "" {
			return true
		}

		candidateURL := href
		if strings.HasPrefix(href, "/") {
			candidateURL = baseURL + href
		}

		candidates = append(candidates, models.ProductCandidate{
			Title: title,
			URL:   candidateURL,
			ASIN:  models.ExtractASIN(candidateURL),
		})

		return len(candidates) < maxProducts
	})

	return candidates
}

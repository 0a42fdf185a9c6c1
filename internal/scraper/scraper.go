// Package scraper implements product discovery and the per-product review
// extraction state machine. All markup lookups go through selector fallback
// chains so that a shifted Amazon layout degrades data instead of breaking it.
package scraper

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/lfzhong/amazon-web-scrawler/internal/selector"
)

const baseURL = "https://www.amazon.com"

var (
	// ErrInvalidURL marks input URLs that do not point at an Amazon product.
	ErrInvalidURL = errors.New("invalid Amazon product URL")
	// ErrNoResultsOrBlocked marks a search that found nothing, either because
	// there are no matches or because the result markup never appeared.
	ErrNoResultsOrBlocked = errors.New("no search results or blocked")
)

// ValidateProductURL accepts the Amazon URL shapes the extractor can work
// with: product detail pages and review listing pages on an amazon domain.
func ValidateProductURL(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrInvalidURL
	}
	if !strings.Contains(u.Hostname(), "amazon.") {
		return ErrInvalidURL
	}
	if !strings.Contains(u.Path, "/dp/") &&
		!strings.Contains(u.Path, "/gp/product/") &&
		!strings.Contains(u.Path, "/product-reviews/") {
		return ErrInvalidURL
	}
	return nil
}

// Failure reasons recorded on unsuccessful extraction results.
const (
	ReasonNavigation = "navigation_failed"
	ReasonBlocked    = "blocked"
	ReasonTimeout    = "timeout"
)

// Fetcher renders one URL and returns its HTML. Implementations pace, retry
// and humanize; waitSelector bounds how long to wait for result markup to
// stabilize before giving up on it.
type Fetcher interface {
	Fetch(ctx context.Context, url, waitSelector string, waitTimeout time.Duration) (string, error)
}

// Options bounds one product's review extraction.
type Options struct {
	// MaxReviews caps the number of records returned. Zero means the default.
	MaxReviews int
	// MaxPages caps pagination. Zero means the default.
	MaxPages int
	// StarFilter, when 1-5, keeps only records with that exact rating.
	// Filtering happens after parsing; the site's own filter controls are
	// unreliable.
	StarFilter int
}

const (
	DefaultMaxReviews = 50
	DefaultMaxPages   = 5
)

func (o *Options) normalize() {
	if o.MaxReviews <= 0 {
		o.MaxReviews = DefaultMaxReviews
	}
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}
	if o.StarFilter < 0 || o.StarFilter > 5 {
		o.StarFilter = 0
	}
}

// Selector fallback chains for the search result layout.
var (
	searchResultChain = selector.New("search-result",
		`[data-component-type="s-search-result"]`,
		`[data-asin][data-index]`,
		`.s-result-item`,
	)
	searchTitleChain = selector.New("search-title",
		`h2 a span`,
		`h2 span`,
		`.a-text-normal`,
		`span.a-text-normal`,
	)
	searchLinkChain = selector.New("search-link",
		`h2 a`,
		`a.a-link-normal`,
		`a[href*="/dp/"]`,
	)
)

// Selector fallback chains for review listings.
var (
	reviewRegionChain = selector.New("review-region",
		`#cm_cr-review_list`,
		`.reviews-content`,
		`[data-hook="reviews-medley-widget"]`,
	)
	reviewNodeChain = selector.New("review",
		`li[data-hook="review"]`,
		`div[data-hook="review"]`,
		`.review`,
		`.a-section.review`,
	)
	reviewerChain = selector.New("reviewer",
		`span.a-profile-name`,
		`.a-profile-name`,
	)
	ratingChain = selector.New("rating",
		`i[data-hook="review-star-rating"] span`,
		`[data-hook="review-star-rating"]`,
		`i.review-rating span`,
	)
	dateChain = selector.New("date",
		`span[data-hook="review-date"]`,
		`.review-date`,
	)
	bodyChain = selector.New("body",
		`span[data-hook="review-body"] span`,
		`[data-hook="review-body"]`,
		`.review-text`,
	)
	helpfulChain = selector.New("helpful-votes",
		`span[data-hook="helpful-vote-statement"]`,
		`.cr-vote-text`,
	)
	seeAllReviewsChain = selector.New("see-all-reviews",
		`a[data-hook="see-all-reviews-link-foot"]`,
		`#acrCustomerReviewLink`,
		`a[href*="/product-reviews/"]`,
	)
	nextPageChain = selector.New("next-page",
		`li.a-last:not(.a-disabled) a`,
		`.a-pagination .a-last:not(.a-disabled) a`,
	)
)

package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultMaxProducts bounds discovery when the caller does not ask for more.
	DefaultMaxProducts = 3
	// MaxProductsCeiling is the hard upper bound on candidates per run.
	MaxProductsCeiling = 10

	// AnonymousReviewer is used when a review carries no profile name.
	AnonymousReviewer = "Anonymous"
	// NoReviewText is used when a review body cannot be located.
	NoReviewText = "No review text"
)

var asinPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/dp/([A-Z0-9]{10})`),
	regexp.MustCompile(`/gp/product/([A-Z0-9]{10})`),
	regexp.MustCompile(`/product-reviews/([A-Z0-9]{10})`),
}

// SearchQuery is a single discovery request.
type SearchQuery struct {
	Keyword     string `json:"keyword"`
	MaxProducts int    `json:"max_products"`
}

// Normalize applies defaults and bounds. It returns an error for an empty keyword.
func (q *SearchQuery) Normalize() error {
	q.Keyword = strings.TrimSpace(q.Keyword)
	if q.Keyword == "" {
		return fmt.Errorf("search keyword is required")
	}
	if q.MaxProducts <= 0 {
		q.MaxProducts = DefaultMaxProducts
	}
	if q.MaxProducts > MaxProductsCeiling {
		q.MaxProducts = MaxProductsCeiling
	}
	return nil
}

// ProductCandidate is a product page reference returned by discovery.
// The URL resolves to either a detail page or a review listing page.
type ProductCandidate struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	ASIN  string `json:"asin,omitempty"`
}

// ExtractASIN pulls the ten-character product identifier out of an Amazon URL.
// It returns an empty string when no identifier is present.
func ExtractASIN(url string) string {
	for _, p := range asinPatterns {
		if m := p.FindStringSubmatch(url); len(m) == 2 {
			return m[1]
		}
	}
	return ""
}

// ReviewRecord is one extracted customer review. Rating and HelpfulVotes are
// nil when the field could not be located; Reviewer and Text carry defaults
// so a partial record is still usable downstream.
type ReviewRecord struct {
	Reviewer     string `json:"reviewer"`
	Rating       *int   `json:"rating,omitempty"`
	Date         string `json:"date,omitempty"`
	Text         string `json:"text"`
	HelpfulVotes *int   `json:"helpful_votes,omitempty"`
}

// HasValidRating reports whether the rating is absent or within 1..5.
func (r *ReviewRecord) HasValidRating() bool {
	return r.Rating == nil || (*r.Rating >= 1 && *r.Rating <= 5)
}

// ProductDetails are the headline fields of a product detail page. Rating and
// count are nil when the page does not carry them.
type ProductDetails struct {
	Price         string   `json:"price,omitempty"`
	AverageRating *float64 `json:"average_rating,omitempty"`
	RatingsCount  *int     `json:"ratings_count,omitempty"`
}

// ExtractionResult is the outcome of running review extraction for one product.
// Records collected before a failure are preserved.
type ExtractionResult struct {
	Candidate     ProductCandidate `json:"candidate"`
	Details       *ProductDetails  `json:"details,omitempty"`
	Records       []ReviewRecord   `json:"records"`
	Success       bool             `json:"success"`
	ReviewCount   int              `json:"review_count"`
	FailureReason string           `json:"failure_reason,omitempty"`
}

// ScrapeRun aggregates per-product extraction results for one search term.
type ScrapeRun struct {
	ID            string             `json:"id"`
	SearchTerm    string             `json:"search_term"`
	Timestamp     time.Time          `json:"timestamp"`
	Results       []ExtractionResult `json:"results"`
	TotalProducts int                `json:"total_products"`
	TotalReviews  int                `json:"total_reviews"`
	ArtifactID    string             `json:"artifact_id,omitempty"`
}

// AuthConfig is the validated authentication configuration. Password is the
// credential secret; it is persisted separately and never echoed back to callers.
type AuthConfig struct {
	Enabled    bool   `json:"enabled"`
	Email      string `json:"email"`
	Password   string `json:"-"`
	Persistent bool   `json:"persistent"`
}

// Validate checks boundary constraints on the configuration.
func (c *AuthConfig) Validate() error {
	if c.Enabled && strings.TrimSpace(c.Email) == "" {
		return fmt.Errorf("email is required when authentication is enabled")
	}
	return nil
}

// Artifact references a materialized export file for one completed run.
type Artifact struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Filename  string    `json:"filename"`
	CreatedAt time.Time `json:"created_at"`
}

package scraper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/lfzhong/amazon-web-scrawler/internal/browser"
	"github.com/lfzhong/amazon-web-scrawler/internal/models"
)

// detailWait bounds how long extraction waits for detail page content.
const detailWait = 10 * time.Second

// extraction states. One extraction walks Start → DetailPageLoaded →
// {ReviewsOnDetailPage | NavigatingToReviewListing} → ReviewListingLoaded →
// Paginating → Done | Failed.
type extractionState int

const (
	stateStart extractionState = iota
	stateDetailPageLoaded
	stateReviewsOnDetailPage
	stateNavigatingToListing
	stateReviewListingLoaded
	statePaginating
	stateDone
	stateFailed
)

func (s extractionState) String() string {
	switch s {
	case stateStart:
		return "start"
	case stateDetailPageLoaded:
		return "detail_page_loaded"
	case stateReviewsOnDetailPage:
		return "reviews_on_detail_page"
	case stateNavigatingToListing:
		return "navigating_to_listing"
	case stateReviewListingLoaded:
		return "review_listing_loaded"
	case statePaginating:
		return "paginating"
	case stateDone:
		return "done"
	default:
		return "failed"
	}
}

var (
	numberPattern       = regexp.MustCompile(`([\d.]+)`)
	helpfulCountPattern = regexp.MustCompile(`([\d,]+)\s+people`)
)

// Extractor harvests reviews for a single product.
type Extractor struct {
	fetcher Fetcher
	logger  *slog.Logger
}

func NewExtractor(f Fetcher, logger *slog.Logger) *Extractor {
	return &Extractor{
		fetcher: f,
		logger:  logger.With("component", "extractor"),
	}
}

// Extract runs the review-extraction state machine for one candidate. It
// always returns a result: on failure the records collected so far are kept
// and the reason recorded, never propagated as an error.
func (e *Extractor) Extract(ctx context.Context, candidate models.ProductCandidate, opts Options) models.ExtractionResult {
	opts.normalize()

	run := &extraction{
		Extractor: e,
		candidate: candidate,
		opts:      opts,
		state:     stateStart,
	}
	return run.run(ctx)
}

// extraction holds the mutable state of one state-machine walk.
type extraction struct {
	*Extractor
	candidate models.ProductCandidate
	opts      Options
	state     extractionState
	details   *models.ProductDetails
	records   []models.ReviewRecord
	lastHash  string
	hashHits  int
}

func (x *extraction) run(ctx context.Context) models.ExtractionResult {
	x.logger.Info("extraction started", "url", x.candidate.URL, "asin", x.candidate.ASIN)

	detailHTML, err := x.fetcher.Fetch(ctx, x.candidate.URL, "#productTitle", detailWait)
	if err != nil {
		return x.fail(ctx, err)
	}
	x.state = stateDetailPageLoaded
	x.details = ParseProductDetails(detailHTML)

	// In-place extraction first: some layouts carry reviews on the detail page
	// itself, and they are the fallback if the dedicated listing never resolves.
	detailRecords := x.collect(ParseReviews(detailHTML), nil)
	if len(detailRecords) > 0 {
		x.state = stateReviewsOnDetailPage
		x.logger.Debug("reviews found on detail page", "count", len(detailRecords))
	}

	listingURL := x.resolveListingURL(detailHTML)
	if listingURL == "" {
		// Detail-page-only mode.
		x.records = x.bound(detailRecords)
		return x.done()
	}
	x.state = stateNavigatingToListing

	for page := 1; page <= x.opts.MaxPages; page++ {
		if ctx.Err() != nil {
			x.records = x.bound(x.records)
			return x.fail(ctx, ctx.Err())
		}

		pageURL := listingURL
		if page > 1 {
			pageURL = withPageNumber(listingURL, page)
		}

		html, err := x.fetcher.Fetch(ctx, pageURL, `[data-hook="review"]`, detailWait)
		if err != nil {
			if page == 1 && ctx.Err() == nil {
				// Listing never loaded; fall back to whatever the detail page gave.
				x.records = x.bound(detailRecords)
				if len(x.records) > 0 {
					return x.done()
				}
			}
			x.records = x.bound(x.records)
			return x.fail(ctx, err)
		}

		listing, ok := ParseReviewListing(html)
		if page == 1 {
			if !ok {
				// The resolved URL redirected to something that is not a review
				// listing (category/browse page). Treat as resolution failure
				// rather than reporting zero reviews as success.
				x.logger.Warn("listing region missing, falling back to detail page", "url", pageURL)
				x.records = x.bound(detailRecords)
				return x.done()
			}
			x.state = stateReviewListingLoaded
			// The listing supersedes detail-page parses of the same reviews.
			x.records = nil
		}

		if x.loopDetected(listing.ContentHash) {
			x.logger.Warn("pagination loop detected", "page", page)
			break
		}

		x.records = x.collect(listing.Records, x.records)
		if len(x.records) >= x.opts.MaxReviews {
			x.records = x.records[:x.opts.MaxReviews]
			break
		}

		if !listing.HasNext {
			break
		}
		x.state = statePaginating
	}

	x.records = x.bound(x.records)
	return x.done()
}

// collect applies the star filter and appends parsed records in order.
func (x *extraction) collect(parsed []models.ReviewRecord, into []models.ReviewRecord) []models.ReviewRecord {
	for _, r := range parsed {
		if x.opts.StarFilter > 0 {
			if r.Rating == nil || *r.Rating != x.opts.StarFilter {
				continue
			}
		}
		into = append(into, r)
	}
	return into
}

func (x *extraction) bound(records []models.ReviewRecord) []models.ReviewRecord {
	if len(records) > x.opts.MaxReviews {
		return records[:x.opts.MaxReviews]
	}
	return records
}

// loopDetected guards against "next" controls that keep serving the same page.
func (x *extraction) loopDetected(hash string) bool {
	if hash == x.lastHash {
		x.hashHits++
	} else {
		x.hashHits = 0
		x.lastHash = hash
	}
	return x.hashHits >= 1
}

func (x *extraction) done() models.ExtractionResult {
	x.state = stateDone
	x.logger.Info("extraction complete", "url", x.candidate.URL, "reviews", len(x.records))
	return models.ExtractionResult{
		Candidate:   x.candidate,
		Details:     x.details,
		Records:     x.records,
		Success:     true,
		ReviewCount: len(x.records),
	}
}

func (x *extraction) fail(ctx context.Context, cause error) models.ExtractionResult {
	failedAt := x.state
	x.state = stateFailed

	reason := ReasonNavigation
	switch {
	case errors.Is(cause, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		reason = ReasonTimeout
	case errors.Is(cause, context.Canceled):
		reason = ReasonTimeout
	case errors.Is(cause, browser.ErrBlocked):
		reason = ReasonBlocked
	}

	x.logger.Warn("extraction failed", "url", x.candidate.URL, "state", failedAt.String(), "reason", reason, "error", cause, "partial_records", len(x.records))
	return models.ExtractionResult{
		Candidate:     x.candidate,
		Details:       x.details,
		Records:       x.records,
		Success:       false,
		ReviewCount:   len(x.records),
		FailureReason: reason,
	}
}

// resolveListingURL derives the dedicated review-listing URL: from the ASIN
// when the candidate URL carries one, otherwise from an in-page "see all
// reviews" link. Empty means detail-page-only mode.
func (x *extraction) resolveListingURL(detailHTML string) string {
	asin := x.candidate.ASIN
	if asin == "" {
		asin = models.ExtractASIN(x.candidate.URL)
	}
	if asin != "" {
		return fmt.Sprintf("%s/product-reviews/%s/", baseURL, asin)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(detailHTML))
	if err != nil {
		return ""
	}
	href := seeAllReviewsChain.Attr(doc.Selection, "href")
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "/") {
		return baseURL + href
	}
	return href
}

func withPageNumber(listingURL string, page int) string {
	sep := "?"
	if strings.Contains(listingURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%spageNumber=%d", listingURL, sep, page)
}

// Listing is the parse of one review-listing page.
type Listing struct {
	Records     []models.ReviewRecord
	HasNext     bool
	ContentHash string
}

// ParseReviewListing parses a dedicated review-listing page. ok is false when
// the outer review region is absent, which distinguishes a category/browse
// redirect from a genuine listing with zero reviews.
func ParseReviewListing(html string) (Listing, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Listing{}, false
	}

	region, ok := reviewRegionChain.Select(doc.Selection)
	if !ok {
		return Listing{}, false
	}

	records := parseReviewNodes(region)

	sum := sha256.Sum256([]byte(region.Text()))

	hasNext := false
	if next := nextPageChain.SelectOne(doc.Selection); next != nil {
		hasNext = true
	}

	return Listing{
		Records:     records,
		HasNext:     hasNext,
		ContentHash: hex.EncodeToString(sum[:]),
	}, true
}

// ParseReviews parses review blocks anywhere in the document, as found on
// product detail pages.
func ParseReviews(html string) []models.ReviewRecord {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	nodes, ok := reviewNodeChain.Select(doc.Selection)
	if !ok {
		return nil
	}
	return parseNodes(nodes)
}

func parseReviewNodes(region *goquery.Selection) []models.ReviewRecord {
	nodes, ok := reviewNodeChain.Select(region)
	if !ok {
		return nil
	}
	return parseNodes(nodes)
}

func parseNodes(nodes *goquery.Selection) []models.ReviewRecord {
	var records []models.ReviewRecord
	nodes.Each(func(_ int, node *goquery.Selection) {
		records = append(records, parseReviewNode(node))
	})
	return records
}

// parseReviewNode extracts one record. A field selector failing yields the
// field's default, never a parse failure; partial records are preserved.
func parseReviewNode(node *goquery.Selection) models.ReviewRecord {
	record := models.ReviewRecord{
		Reviewer: reviewerChain.Text(node, models.AnonymousReviewer),
		Date:     dateChain.Text(node, ""),
		Text:     bodyChain.Text(node, models.NoReviewText),
	}

	if rating, ok := parseRating(ratingChain.Text(node, "")); ok {
		record.Rating = &rating
	}
	if votes, ok := parseHelpfulVotes(helpfulChain.Text(node, "")); ok {
		record.HelpfulVotes = &votes
	}

	return record
}

// parseRating turns "4.0 out of 5 stars" into 4. Values outside 1..5 are
// treated as absent.
func parseRating(text string) (int, bool) {
	m := numberPattern.FindStringSubmatch(text)
	if len(m) != 2 {
		return 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	rating := int(value)
	if rating < 1 || rating > 5 {
		return 0, false
	}
	return rating, true
}

// parseHelpfulVotes understands "12 people found this helpful" and
// "One person found this helpful".
func parseHelpfulVotes(text string) (int, bool) {
	if text == "" {
		return 0, false
	}
	if strings.HasPrefix(text, "One person") {
		return 1, true
	}
	m := helpfulCountPattern.FindStringSubmatch(text)
	if len(m) != 2 {
		return 0, false
	}
	count, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil || count < 0 {
		return 0, false
	}
	return count, true
}

package scraper

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfzhong/amazon-web-scrawler/internal/browser"
	"github.com/lfzhong/amazon-web-scrawler/internal/models"
)

const (
	testASIN       = "B0TESTASIN1"
	testDetailURL  = "https://www.amazon.com/dp/" + testASIN
	testListingURL = "https://www.amazon.com/product-reviews/" + testASIN + "/"
)

func testCandidate() models.ProductCandidate {
	return models.ProductCandidate{Title: "Sound Pro", URL: testDetailURL, ASIN: testASIN}
}

func reviewNodeHTML(name, rating, date, text, helpful string) string {
	var b strings.Builder
	b.WriteString(`<li data-hook="review">`)
	if name != "" {
		fmt.Fprintf(&b, `<span class="a-profile-name">%s</span>`, name)
	}
	if rating != "" {
		fmt.Fprintf(&b, `<i data-hook="review-star-rating"><span class="a-icon-alt">%s out of 5 stars</span></i>`, rating)
	}
	if date != "" {
		fmt.Fprintf(&b, `<span data-hook="review-date">%s</span>`, date)
	}
	if text != "" {
		fmt.Fprintf(&b, `<span data-hook="review-body"><span>%s</span></span>`, text)
	}
	if helpful != "" {
		fmt.Fprintf(&b, `<span data-hook="helpful-vote-statement">%s</span>`, helpful)
	}
	b.WriteString(`</li>`)
	return b.String()
}

func listingHTML(hasNext bool, nodes ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="cm_cr-review_list"><ul>`)
	for _, n := range nodes {
		b.WriteString(n)
	}
	b.WriteString(`</ul></div><ul class="a-pagination">`)
	if hasNext {
		b.WriteString(`<li class="a-last"><a href="?pageNumber=next">Next</a></li>`)
	} else {
		b.WriteString(`<li class="a-last a-disabled">Next</li>`)
	}
	b.WriteString(`</ul></body></html>`)
	return b.String()
}

func detailHTML(withReviews bool) string {
	var b strings.Builder
	b.WriteString(`<html><body><span id="productTitle">Sound Pro</span>`)
	if withReviews {
		b.WriteString(reviewNodeHTML("Dana", "5.0", "June 1, 2025", "Great on the detail page", ""))
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func TestExtractPaginatedListing(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		testDetailURL: detailHTML(false),
		testListingURL: listingHTML(true,
			reviewNodeHTML("Alice", "5.0", "June 1, 2025", "Excellent sound", "12 people found this helpful"),
			reviewNodeHTML("Bob", "3.0", "May 20, 2025", "Average battery", "One person found this helpful"),
			reviewNodeHTML("", "", "", "", ""),
		),
		testListingURL + "?pageNumber=2": listingHTML(false,
			reviewNodeHTML("Carol", "4.0", "May 2, 2025", "Good fit", ""),
		),
	}}

	result := NewExtractor(f, testLogger()).Extract(context.Background(), testCandidate(), Options{})

	require.True(t, result.Success)
	require.Len(t, result.Records, 4)
	assert.Equal(t, 4, result.ReviewCount)

	first := result.Records[0]
	assert.Equal(t, "Alice", first.Reviewer)
	require.NotNil(t, first.Rating)
	assert.Equal(t, 5, *first.Rating)
	assert.Equal(t, "June 1, 2025", first.Date)
	assert.Equal(t, "Excellent sound", first.Text)
	require.NotNil(t, first.HelpfulVotes)
	assert.Equal(t, 12, *first.HelpfulVotes)

	require.NotNil(t, result.Records[1].HelpfulVotes)
	assert.Equal(t, 1, *result.Records[1].HelpfulVotes)

	// The bare node keeps its defaults instead of failing extraction.
	bare := result.Records[2]
	assert.Equal(t, models.AnonymousReviewer, bare.Reviewer)
	assert.Equal(t, models.NoReviewText, bare.Text)
	assert.Nil(t, bare.Rating)
	assert.Nil(t, bare.HelpfulVotes)

	assert.Equal(t, "Carol", result.Records[3].Reviewer)
}

func TestExtractListingRegionWithZeroReviews(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		testDetailURL:  detailHTML(false),
		testListingURL: listingHTML(false),
	}}

	result := NewExtractor(f, testLogger()).Extract(context.Background(), testCandidate(), Options{})

	// Region matched, zero nodes: genuine empty listing, not a failure.
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ReviewCount)
	assert.Empty(t, result.Records)
}

func TestExtractStarFilter(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		testDetailURL: detailHTML(false),
		testListingURL: listingHTML(false,
			reviewNodeHTML("A", "5.0", "", "first five", ""),
			reviewNodeHTML("B", "4.0", "", "a four", ""),
			reviewNodeHTML("C", "5.0", "", "second five", ""),
			reviewNodeHTML("D", "3.0", "", "a three", ""),
		),
	}}

	result := NewExtractor(f, testLogger()).Extract(context.Background(), testCandidate(), Options{StarFilter: 5})

	require.True(t, result.Success)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "first five", result.Records[0].Text)
	assert.Equal(t, "second five", result.Records[1].Text)
}

func TestExtractCategoryRedirectFallsBackToDetail(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		testDetailURL:  detailHTML(true),
		testListingURL: `<html><body><div class="browse-grid">category page, no reviews here</div></body></html>`,
	}}

	result := NewExtractor(f, testLogger()).Extract(context.Background(), testCandidate(), Options{})

	require.True(t, result.Success)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "Dana", result.Records[0].Reviewer)
	assert.Equal(t, "Great on the detail page", result.Records[0].Text)
}

func TestExtractDetailOnlyWhenListingUnresolvable(t *testing.T) {
	// No ASIN in the URL and no see-all-reviews link on the page.
	candidate := models.ProductCandidate{Title: "Mystery", URL: "https://www.amazon.com/mystery-product"}
	f := &fakeFetcher{pages: map[string]string{
		candidate.URL: detailHTML(true),
	}}

	result := NewExtractor(f, testLogger()).Extract(context.Background(), candidate, Options{})

	require.True(t, result.Success)
	require.Len(t, result.Records, 1)
	assert.Len(t, f.requests, 1)
}

func TestExtractFollowsSeeAllReviewsLink(t *testing.T) {
	candidate := models.ProductCandidate{Title: "Mystery", URL: "https://www.amazon.com/mystery-product"}
	detail := `<html><body><span id="productTitle">Mystery</span>` +
		`<a data-hook="see-all-reviews-link-foot" href="/product-reviews/B0FROMLINK1/">See all reviews</a></body></html>`

	f := &fakeFetcher{pages: map[string]string{
		candidate.URL: detail,
		"https://www.amazon.com/product-reviews/B0FROMLINK1/": listingHTML(false,
			reviewNodeHTML("Eve", "2.0", "", "found via link", "")),
	}}

	result := NewExtractor(f, testLogger()).Extract(context.Background(), candidate, Options{})

	require.True(t, result.Success)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "Eve", result.Records[0].Reviewer)
}

func TestExtractPageBudget(t *testing.T) {
	// Next control always present; only the page budget stops pagination.
	pages := map[string]string{testDetailURL: detailHTML(false)}
	pages[testListingURL] = listingHTML(true, reviewNodeHTML("P1", "5.0", "", "page one", ""))
	for i := 2; i <= 10; i++ {
		pages[fmt.Sprintf("%s?pageNumber=%d", testListingURL, i)] =
			listingHTML(true, reviewNodeHTML(fmt.Sprintf("P%d", i), "5.0", "", fmt.Sprintf("page %d", i), ""))
	}
	f := &fakeFetcher{pages: pages}

	result := NewExtractor(f, testLogger()).Extract(context.Background(), testCandidate(), Options{MaxPages: 3})

	require.True(t, result.Success)
	assert.Len(t, result.Records, 3)
	// Detail page plus exactly three listing pages.
	assert.Len(t, f.requests, 4)
}

func TestExtractLoopGuard(t *testing.T) {
	same := listingHTML(true, reviewNodeHTML("Loop", "5.0", "", "same content", ""))
	pages := map[string]string{testDetailURL: detailHTML(false), testListingURL: same}
	for i := 2; i <= 10; i++ {
		pages[fmt.Sprintf("%s?pageNumber=%d", testListingURL, i)] = same
	}
	f := &fakeFetcher{pages: pages}

	result := NewExtractor(f, testLogger()).Extract(context.Background(), testCandidate(), Options{MaxPages: 10})

	require.True(t, result.Success)
	// The repeated page is detected on its first recurrence and not collected twice.
	assert.Len(t, result.Records, 1)
	assert.Len(t, f.requests, 3)
}

func TestExtractMaxReviewsBound(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		testDetailURL: detailHTML(false),
		testListingURL: listingHTML(true,
			reviewNodeHTML("A", "5.0", "", "1", ""),
			reviewNodeHTML("B", "5.0", "", "2", ""),
			reviewNodeHTML("C", "5.0", "", "3", ""),
		),
		testListingURL + "?pageNumber=2": listingHTML(true,
			reviewNodeHTML("D", "5.0", "", "4", ""),
			reviewNodeHTML("E", "5.0", "", "5", ""),
		),
	}}

	result := NewExtractor(f, testLogger()).Extract(context.Background(), testCandidate(), Options{MaxReviews: 4})

	require.True(t, result.Success)
	assert.Len(t, result.Records, 4)
	// The bound was hit on page two; page three is never requested.
	assert.Len(t, f.requests, 3)
}

// timeoutFetcher succeeds for the first n calls, then fails with a deadline error.
type timeoutFetcher struct {
	inner *fakeFetcher
	n     int
	calls int
}

func (f *timeoutFetcher) Fetch(ctx context.Context, url, waitSelector string, waitTimeout time.Duration) (string, error) {
	f.calls++
	if f.calls > f.n {
		return "", context.DeadlineExceeded
	}
	return f.inner.Fetch(ctx, url, waitSelector, waitTimeout)
}

func TestExtractTimeoutMidPaginationKeepsPartialRecords(t *testing.T) {
	inner := &fakeFetcher{pages: map[string]string{
		testDetailURL: detailHTML(false),
		testListingURL: listingHTML(true,
			reviewNodeHTML("A", "5.0", "", "1", ""),
			reviewNodeHTML("B", "4.0", "", "2", "")),
		testListingURL + "?pageNumber=2": listingHTML(true,
			reviewNodeHTML("C", "3.0", "", "3", "")),
	}}
	// Detail + two listing pages succeed; the third listing page times out.
	f := &timeoutFetcher{inner: inner, n: 3}

	result := NewExtractor(f, testLogger()).Extract(context.Background(), testCandidate(), Options{MaxPages: 5})

	assert.False(t, result.Success)
	assert.Equal(t, ReasonTimeout, result.FailureReason)
	require.Len(t, result.Records, 3)
	assert.Equal(t, "A", result.Records[0].Reviewer)
	assert.Equal(t, "C", result.Records[2].Reviewer)
}

func TestExtractBlockedDetailPage(t *testing.T) {
	f := &fakeFetcher{errs: map[string]error{testDetailURL: browser.ErrBlocked}}

	result := NewExtractor(f, testLogger()).Extract(context.Background(), testCandidate(), Options{})

	assert.False(t, result.Success)
	assert.Equal(t, ReasonBlocked, result.FailureReason)
	assert.Empty(t, result.Records)
}

func TestParseRating(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
		ok   bool
	}{
		{"Five", "5.0 out of 5 stars", 5, true},
		{"One", "1.0 out of 5 stars", 1, true},
		{"Fractional truncates", "4.5 out of 5 stars", 4, true},
		{"Zero rejected", "0.0 out of 5 stars", 0, false},
		{"Out of range", "9.0 out of 5 stars", 0, false},
		{"No number", "no stars here", 0, false},
		{"Empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseRating(tt.text)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseHelpfulVotes(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
		ok   bool
	}{
		{"Plural", "12 people found this helpful", 12, true},
		{"Thousands", "1,204 people found this helpful", 1204, true},
		{"Singular", "One person found this helpful", 1, true},
		{"Empty", "", 0, false},
		{"Unrelated", "Verified Purchase", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseHelpfulVotes(tt.text)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

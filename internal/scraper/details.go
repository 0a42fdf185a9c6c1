package scraper

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/lfzhong/amazon-web-scrawler/internal/models"
	"github.com/lfzhong/amazon-web-scrawler/internal/selector"
)

// Selector fallback chains for the detail page's headline fields.
var (
	priceChain = selector.New("price",
		`.a-price .a-offscreen`,
		`#priceblock_ourprice`,
		`#priceblock_dealprice`,
		`.a-price-whole`,
	)
	averageRatingChain = selector.New("average-rating",
		`span[data-hook="rating-out-of-text"]`,
		`#acrPopover .a-icon-alt`,
		`i.a-icon-star .a-icon-alt`,
	)
	ratingsCountChain = selector.New("ratings-count",
		`#acrCustomerReviewText`,
		`span[data-hook="total-review-count"]`,
	)
)

var ratingsCountPattern = regexp.MustCompile(`([\d,]+)`)

// ParseProductDetails pulls price, average rating and ratings count off a
// rendered detail page. A field its chains cannot resolve stays at its zero
// value; nil is returned when none of the fields resolve.
func ParseProductDetails(html string) *models.ProductDetails {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	details := &models.ProductDetails{
		Price: priceChain.Text(doc.Selection, ""),
	}
	if avg, ok := parseAverageRating(averageRatingChain.Text(doc.Selection, "")); ok {
		details.AverageRating = &avg
	}
	if count, ok := parseRatingsCount(ratingsCountChain.Text(doc.Selection, "")); ok {
		details.RatingsCount = &count
	}

	if details.Price == "" && details.AverageRating == nil && details.RatingsCount == nil {
		return nil
	}
	return details
}

// parseAverageRating turns "4.6 out of 5 stars" into 4.6.
func parseAverageRating(text string) (float64, bool) {
	m := numberPattern.FindStringSubmatch(text)
	if len(m) != 2 {
		return 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil || value < 0 || value > 5 {
		return 0, false
	}
	return value, true
}

// parseRatingsCount understands "1,204 ratings" and "1,204 global ratings".
func parseRatingsCount(text string) (int, bool) {
	m := ratingsCountPattern.FindStringSubmatch(text)
	if len(m) != 2 {
		return 0, false
	}
	count, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return 0, false
	}
	return count, true
}

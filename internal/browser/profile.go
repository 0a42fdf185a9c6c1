package browser

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/playwright-community/playwright-go"
)

// userAgents is the rotation pool. Desktop Chrome and Firefox builds recent
// enough not to stand out in Amazon's traffic.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:123.0) Gecko/20100101 Firefox/123.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

var deviceScaleFactors = []float64{1, 1.25, 1.5, 2}

// Profile is a randomized, human-plausible browsing identity. Structure is
// fixed; content is drawn fresh for every run.
type Profile struct {
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	DeviceScaleFactor float64
	Locale            string
	TimezoneID        string
	AcceptLanguage    string
}

// NewProfile draws a fresh identity from the pool.
func NewProfile() *Profile {
	return &Profile{
		UserAgent:         userAgents[rand.Intn(len(userAgents))],
		ViewportWidth:     1280 + rand.Intn(641),
		ViewportHeight:    720 + rand.Intn(361),
		DeviceScaleFactor: deviceScaleFactors[rand.Intn(len(deviceScaleFactors))],
		Locale:            "en-US",
		TimezoneID:        "America/New_York",
		AcceptLanguage:    "en-US,en;q=0.9",
	}
}

// HumanDelay sleeps for a random duration in [min, max), honoring cancellation.
func HumanDelay(ctx context.Context, min, max time.Duration) error {
	d := min
	if max > min {
		d += time.Duration(rand.Int63n(int64(max - min)))
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// HumanScroll performs up to maxScrolls randomized scroll actions so that
// lazily-loaded content appears and the session reads less mechanical.
// Scroll failures are not actionable and are swallowed.
func HumanScroll(ctx context.Context, page playwright.Page, maxScrolls int) {
	if maxScrolls < 1 {
		maxScrolls = 1
	}

	for i := 0; i < 1+rand.Intn(maxScrolls); i++ {
		amount := 300 + rand.Intn(501)

		if rand.Intn(2) == 0 {
			page.Evaluate(fmt.Sprintf(`window.scrollTo({top: window.pageYOffset + %d, behavior: 'smooth'})`, amount))
			if HumanDelay(ctx, 800*time.Millisecond, 1500*time.Millisecond) != nil {
				return
			}
		} else {
			page.Evaluate(fmt.Sprintf(`window.scrollBy(0, %d)`, amount))
			if HumanDelay(ctx, 300*time.Millisecond, 800*time.Millisecond) != nil {
				return
			}
		}

		// Occasional reading pause.
		if rand.Float64() < 0.3 {
			if HumanDelay(ctx, time.Second, 3*time.Second) != nil {
				return
			}
		}
	}

	// Sometimes scroll back up a little.
	if rand.Float64() < 0.2 {
		back := 100 + rand.Intn(201)
		page.Evaluate(fmt.Sprintf(`window.scrollTo(0, Math.max(0, window.pageYOffset - %d))`, back))
		HumanDelay(ctx, 500*time.Millisecond, time.Second)
	}
}

// MoveMouse wanders the pointer to a few random coordinates.
func MoveMouse(ctx context.Context, page playwright.Page) {
	for i := 0; i < 1+rand.Intn(3); i++ {
		x := float64(100 + rand.Intn(701))
		y := float64(100 + rand.Intn(501))
		page.Mouse().Move(x, y)
		if HumanDelay(ctx, 100*time.Millisecond, 300*time.Millisecond) != nil {
			return
		}
	}
}

package browser

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/lfzhong/amazon-web-scrawler/internal/ratelimit"
)

// Fetcher renders pages through the shared browsing context and returns their
// HTML. It is the single suspension point between the scraping logic and the
// live site: every call paces itself, humanizes the visit, and checks for
// challenge pages.
type Fetcher struct {
	browser    *Browser
	pacer      *ratelimit.BackoffPacer
	maxRetries int
	logger     *slog.Logger
}

func NewFetcher(b *Browser, pacer *ratelimit.BackoffPacer, maxRetries int) *Fetcher {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Fetcher{
		browser:    b,
		pacer:      pacer,
		maxRetries: maxRetries,
		logger:     slog.Default().With("component", "fetcher"),
	}
}

// Fetch navigates to url, optionally waits for waitSelector to appear within
// waitTimeout, and returns the rendered HTML. A missing selector is not an
// error: the caller's fallback chains decide what the page actually was.
func (f *Fetcher) Fetch(ctx context.Context, url, waitSelector string, waitTimeout time.Duration) (string, error) {
	if err := f.pacer.Wait(ctx); err != nil {
		return "", err
	}

	page, err := f.browser.NewPage()
	if err != nil {
		return "", fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	if err := f.browser.NavigateWithRetry(page, url, f.maxRetries); err != nil {
		if err == ErrBlocked {
			f.pacer.RecordBlocked()
		}
		return "", err
	}

	if waitSelector != "" {
		_, werr := page.WaitForSelector(waitSelector, playwright.PageWaitForSelectorOptions{
			Timeout: playwright.Float(float64(waitTimeout.Milliseconds())),
		})
		if werr != nil {
			f.logger.Debug("wait selector did not appear", "selector", waitSelector, "url", url)
		}
	}

	if err := HumanDelay(ctx, time.Second, 2*time.Second); err != nil {
		return "", err
	}
	if rand.Intn(2) == 0 {
		MoveMouse(ctx, page)
	}
	HumanScroll(ctx, page, 2)

	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	content, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}

	if IsChallengeContent(content) {
		f.pacer.RecordBlocked()
		return "", ErrBlocked
	}

	f.pacer.RecordSuccess()
	return content, nil
}

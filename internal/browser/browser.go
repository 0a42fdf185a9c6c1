package browser

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// ErrBlocked is returned when Amazon answers with a robot check or challenge
// page instead of the requested content.
var ErrBlocked = errors.New("blocked by anti-bot challenge")

// stealthInit strips the most common automation fingerprint before any page
// script runs.
const stealthInit = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	profile *Profile
	timeout time.Duration
	logger  *slog.Logger
}

type Options struct {
	Headless bool
	Timeout  time.Duration
	Profile  *Profile
	// StorageStatePath, when it points at an existing file, seeds the context
	// with a persisted authenticated session.
	StorageStatePath string
	ProxyServer      string
}

func DefaultOptions() *Options {
	return &Options{
		Headless: true,
		Timeout:  60 * time.Second,
		Profile:  NewProfile(),
	}
}

func New(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Profile == nil {
		opts.Profile = NewProfile()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--disable-extensions",
			"--disable-background-timer-throttling",
			"--disable-backgrounding-occluded-windows",
			"--disable-renderer-backgrounding",
			"--user-agent=" + opts.Profile.UserAgent,
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: opts.ProxyServer}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &opts.Profile.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Profile.Locale,
		TimezoneId:        &opts.Profile.TimezoneID,
		DeviceScaleFactor: playwright.Float(opts.Profile.DeviceScaleFactor),
		Viewport: &playwright.Size{
			Width:  opts.Profile.ViewportWidth,
			Height: opts.Profile.ViewportHeight,
		},
		ExtraHttpHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language": opts.Profile.AcceptLanguage,
			"DNT":             "1",
		},
	}

	if opts.StorageStatePath != "" {
		if _, err := os.Stat(opts.StorageStatePath); err == nil {
			contextOpts.StorageStatePath = &opts.StorageStatePath
		}
	}

	context, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	if err := context.AddInitScript(playwright.Script{Content: playwright.String(stealthInit)}); err != nil {
		context.Close()
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to install stealth script: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		context: context,
		profile: opts.Profile,
		timeout: opts.Timeout,
		logger:  slog.Default().With("component", "browser"),
	}, nil
}

func (b *Browser) NewPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(b.timeout.Milliseconds()))

	return page, nil
}

func (b *Browser) Context() playwright.BrowserContext {
	return b.context
}

func (b *Browser) Profile() *Profile {
	return b.profile
}

// SaveStorageState persists cookies and local storage so an authenticated
// session survives process restarts.
func (b *Browser) SaveStorageState(path string) error {
	if _, err := b.context.StorageState(path); err != nil {
		return fmt.Errorf("failed to save storage state: %w", err)
	}
	return nil
}

// ClearCookies drops the browsing session's identity.
func (b *Browser) ClearCookies() error {
	if err := b.context.ClearCookies(); err != nil {
		return fmt.Errorf("failed to clear cookies: %w", err)
	}
	return nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}

// NavigateWithRetry loads the URL, retrying transient failures with a growing
// pause between attempts. A detected challenge page fails immediately with
// ErrBlocked since retrying against it only burns the identity faster.
func (b *Browser) NavigateWithRetry(page playwright.Page, url string, maxRetries int) error {
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			b.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			time.Sleep(time.Duration(i+1) * time.Second)
		}

		_, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(b.timeout.Milliseconds())),
		})

		if err == nil {
			blocked, berr := b.checkBlocked(page)
			if berr != nil {
				lastErr = berr
				continue
			}
			if blocked {
				return ErrBlocked
			}
			return nil
		}

		lastErr = err
		b.logger.Error("navigation failed", "error", err, "attempt", i+1)
	}

	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

// checkBlocked inspects the loaded page for Amazon's robot-check markers.
func (b *Browser) checkBlocked(page playwright.Page) (bool, error) {
	title, err := page.Title()
	if err != nil {
		return false, fmt.Errorf("failed to get page title: %w", err)
	}

	if strings.Contains(title, "Robot Check") || strings.Contains(title, "Sorry!") {
		b.logger.Warn("challenge page detected", "title", title)
		return true, nil
	}

	content, err := page.Content()
	if err != nil {
		return false, fmt.Errorf("failed to get page content: %w", err)
	}

	if IsChallengeContent(content) {
		b.logger.Warn("challenge markup detected")
		return true, nil
	}

	return false, nil
}

// IsChallengeContent reports whether rendered HTML is a robot check rather
// than real content.
func IsChallengeContent(content string) bool {
	markers := []string{
		"Enter the characters you see below",
		"Type the characters you see in this image",
		"/errors/validateCaptcha",
		"api-services-support@amazon.com",
	}
	for _, m := range markers {
		if strings.Contains(content, m) {
			return true
		}
	}
	return false
}

package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

var (
	// ErrBadCredentials is returned when Amazon rejects the email or password.
	ErrBadCredentials = errors.New("credentials rejected")
	// ErrChallenge is returned when the sign-in flow lands on a captcha or
	// OTP/verification step that cannot be completed automatically.
	ErrChallenge = errors.New("sign-in challenge presented")
)

const signInURL = "https://www.amazon.com/ap/signin?openid.pape.max_auth_age=0" +
	"&openid.return_to=https%3A%2F%2Fwww.amazon.com%2F" +
	"&openid.identity=http%3A%2F%2Fspecs.openid.net%2Fauth%2F2.0%2Fidentifier_select" +
	"&openid.assoc_handle=usflex&openid.mode=checkid_setup" +
	"&openid.claimed_id=http%3A%2F%2Fspecs.openid.net%2Fauth%2F2.0%2Fidentifier_select" +
	"&openid.ns=http%3A%2F%2Fspecs.openid.net%2Fauth%2F2.0"

// LoginClient drives the Amazon sign-in flow inside the shared context.
type LoginClient struct {
	browser *Browser
	logger  *slog.Logger
}

func NewLoginClient(b *Browser) *LoginClient {
	return &LoginClient{
		browser: b,
		logger:  slog.Default().With("component", "login"),
	}
}

// Login performs a real sign-in navigation. On success it returns the account
// label shown in the nav bar. The browsing context keeps the authenticated
// cookies afterwards.
func (c *LoginClient) Login(ctx context.Context, email, password string) (string, error) {
	page, err := c.browser.NewPage()
	if err != nil {
		return "", fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	if err := c.browser.NavigateWithRetry(page, signInURL, 2); err != nil {
		return "", err
	}

	if err := HumanDelay(ctx, time.Second, 2*time.Second); err != nil {
		return "", err
	}

	if err := page.Locator("#ap_email").Fill(email); err != nil {
		return "", fmt.Errorf("failed to fill email: %w", err)
	}

	// The continue button only exists on the two-step layout.
	if cont := page.Locator("#continue"); visible(cont) {
		if err := cont.Click(); err != nil {
			return "", fmt.Errorf("failed to submit email: %w", err)
		}
		if err := HumanDelay(ctx, time.Second, 2*time.Second); err != nil {
			return "", err
		}
	}

	if msg := c.authError(page); msg != "" {
		c.logger.Warn("sign-in rejected at email step", "message", msg)
		return "", ErrBadCredentials
	}

	if err := page.Locator("#ap_password").Fill(password); err != nil {
		return "", fmt.Errorf("failed to fill password: %w", err)
	}
	if err := page.Locator("#signInSubmit").Click(); err != nil {
		return "", fmt.Errorf("failed to submit sign-in: %w", err)
	}

	if err := HumanDelay(ctx, 2*time.Second, 4*time.Second); err != nil {
		return "", err
	}

	if msg := c.authError(page); msg != "" {
		c.logger.Warn("sign-in rejected", "message", msg)
		return "", ErrBadCredentials
	}

	if c.challengePresented(page) {
		return "", ErrChallenge
	}

	account, err := page.Locator("#nav-link-accountList-nav-line-1").First().TextContent()
	if err != nil || strings.TrimSpace(account) == "" {
		// Signed-in pages always carry the account list; its absence means the
		// flow did not complete.
		return "", ErrChallenge
	}

	label := strings.TrimSpace(account)
	label = strings.TrimPrefix(label, "Hello, ")
	c.logger.Info("sign-in complete", "account", label)

	return label, nil
}

func (c *LoginClient) authError(page playwright.Page) string {
	box := page.Locator("#auth-error-message-box .a-alert-content").First()
	if !visible(box) {
		return ""
	}
	text, err := box.TextContent()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

func (c *LoginClient) challengePresented(page playwright.Page) bool {
	for _, sel := range []string{"#auth-captcha-image", "#auth-mfa-otpcode", "#cvf-page-content"} {
		if visible(page.Locator(sel)) {
			return true
		}
	}
	content, err := page.Content()
	if err != nil {
		return false
	}
	return IsChallengeContent(content)
}

func visible(loc playwright.Locator) bool {
	count, err := loc.Count()
	return err == nil && count > 0
}

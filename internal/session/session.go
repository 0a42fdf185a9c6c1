// Package session manages the optional Amazon sign-in state: configuration,
// credential storage, login verification and the persisted browser cookies.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/lfzhong/amazon-web-scrawler/internal/browser"
	"github.com/lfzhong/amazon-web-scrawler/internal/models"
)

// State is the lifecycle position of the auth session.
type State string

const (
	StateDisabled      State = "disabled"
	StateConfigured    State = "configured"
	StateTestPending   State = "test_pending"
	StateAuthenticated State = "authenticated"
	StateAuthFailed    State = "auth_failed"
)

const (
	configFile      = "auth_config.json"
	credentialsFile = "auth_credentials.json"
	storageFile     = "storage_state.json"
)

// ErrDisabled is returned by Test when authentication is not enabled.
var ErrDisabled = errors.New("authentication is disabled")

// LoginClient verifies credentials against the live sign-in flow. The browser
// package's client satisfies this; tests substitute a fake.
type LoginClient interface {
	Login(ctx context.Context, email, password string) (string, error)
}

// ConfigView is what callers are allowed to see of the stored configuration.
// The password never leaves the manager.
type ConfigView struct {
	Enabled     bool   `json:"enabled"`
	Email       string `json:"email"`
	HasPassword bool   `json:"has_password"`
	Persistent  bool   `json:"persistent"`
}

// StatusView reports the current session state for the status endpoint.
type StatusView struct {
	Enabled     bool   `json:"enabled"`
	IsLoggedIn  bool   `json:"is_logged_in"`
	State       State  `json:"state"`
	AccountInfo string `json:"account_info,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// storageStater is the subset of the browser the manager needs to persist and
// reset cookies. Nil is tolerated so tests run without playwright.
type storageStater interface {
	SaveStorageState(path string) error
	ClearCookies() error
}

// Manager owns the auth session lifecycle. All state transitions are guarded
// by the mutex; persistence is file backed under dataDir.
type Manager struct {
	mu      sync.Mutex
	dataDir string
	cfg     models.AuthConfig
	state   State
	account string
	lastErr string

	login   LoginClient
	browser storageStater
	logger  *slog.Logger
}

type persistedCredentials struct {
	Password string `json:"password"`
}

// NewManager loads any previously persisted configuration from dataDir. A
// fresh directory starts in the disabled state.
func NewManager(dataDir string, login LoginClient, b storageStater, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session dir: %w", err)
	}

	m := &Manager{
		dataDir: dataDir,
		state:   StateDisabled,
		login:   login,
		browser: b,
		logger:  logger.With("component", "session"),
	}

	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// StorageStatePath is where the browser's cookie snapshot lives. The browser
// context is seeded from it at startup when the file exists.
func (m *Manager) StorageStatePath() string {
	return filepath.Join(m.dataDir, storageFile)
}

// GetConfig returns the stored configuration without the secret.
func (m *Manager) GetConfig() ConfigView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ConfigView{
		Enabled:     m.cfg.Enabled,
		Email:       m.cfg.Email,
		HasPassword: m.cfg.Password != "",
		Persistent:  m.cfg.Persistent,
	}
}

// SetConfig validates and persists new configuration. No login attempt is
// made here; callers verify separately via Test. An empty incoming password
// keeps the stored one so the secret does not need to be re-entered on every
// settings change.
func (m *Manager) SetConfig(cfg models.AuthConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg.Password == "" {
		cfg.Password = m.cfg.Password
	}
	m.cfg = cfg
	m.account = ""
	m.lastErr = ""
	if cfg.Enabled {
		m.state = StateConfigured
	} else {
		m.state = StateDisabled
	}

	if err := m.save(); err != nil {
		return err
	}
	m.logger.Info("auth config updated", "enabled", cfg.Enabled, "persistent", cfg.Persistent)
	return nil
}

// Test attempts a real sign-in with the stored credentials. Failures are
// reported in the returned status rather than as an error, except when
// authentication is disabled entirely.
func (m *Manager) Test(ctx context.Context) (StatusView, error) {
	m.mu.Lock()
	if !m.cfg.Enabled {
		m.mu.Unlock()
		return StatusView{Enabled: false, State: StateDisabled}, ErrDisabled
	}
	email, password := m.cfg.Email, m.cfg.Password
	persistent := m.cfg.Persistent
	m.state = StateTestPending
	m.mu.Unlock()

	account, loginErr := m.login.Login(ctx, email, password)

	m.mu.Lock()
	defer m.mu.Unlock()

	if loginErr != nil {
		m.state = StateAuthFailed
		m.account = ""
		m.lastErr = failureMessage(loginErr)
		m.logger.Warn("login test failed", "error", loginErr)
		return m.statusLocked(), nil
	}

	m.state = StateAuthenticated
	m.account = account
	m.lastErr = ""

	if persistent && m.browser != nil {
		if err := m.browser.SaveStorageState(m.StorageStatePath()); err != nil {
			m.logger.Warn("failed to persist session cookies", "error", err)
		}
	}

	m.logger.Info("login test succeeded", "account", account)
	return m.statusLocked(), nil
}

// Status reports the current session state.
func (m *Manager) Status() StatusView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() StatusView {
	return StatusView{
		Enabled:     m.cfg.Enabled,
		IsLoggedIn:  m.state == StateAuthenticated,
		State:       m.state,
		AccountInfo: m.account,
		LastError:   m.lastErr,
	}
}

// Clear wipes stored credentials, persisted cookies and the live browser
// cookies, returning the manager to the disabled state.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg = models.AuthConfig{}
	m.state = StateDisabled
	m.account = ""
	m.lastErr = ""

	for _, name := range []string{configFile, credentialsFile, storageFile} {
		if err := os.Remove(filepath.Join(m.dataDir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}

	if m.browser != nil {
		if err := m.browser.ClearCookies(); err != nil {
			m.logger.Warn("failed to clear browser cookies", "error", err)
		}
	}

	m.logger.Info("auth session cleared")
	return nil
}

// save writes configuration and the credential secret to separate files so
// the config file can be inspected without exposing the password.
func (m *Manager) save() error {
	cfgData, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal auth config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(m.dataDir, configFile), cfgData, 0o644); err != nil {
		return fmt.Errorf("failed to write auth config: %w", err)
	}

	credData, err := json.Marshal(persistedCredentials{Password: m.cfg.Password})
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := os.WriteFile(filepath.Join(m.dataDir, credentialsFile), credData, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

func (m *Manager) load() error {
	cfgData, err := os.ReadFile(filepath.Join(m.dataDir, configFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read auth config: %w", err)
	}
	if err := json.Unmarshal(cfgData, &m.cfg); err != nil {
		return fmt.Errorf("failed to parse auth config: %w", err)
	}

	credData, err := os.ReadFile(filepath.Join(m.dataDir, credentialsFile))
	if err == nil {
		var creds persistedCredentials
		if err := json.Unmarshal(credData, &creds); err != nil {
			return fmt.Errorf("failed to parse credentials: %w", err)
		}
		m.cfg.Password = creds.Password
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read credentials: %w", err)
	}

	if m.cfg.Enabled {
		m.state = StateConfigured
	}
	return nil
}

// failureMessage maps login errors to the wording surfaced to callers.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, browser.ErrBadCredentials):
		return "credentials rejected"
	case errors.Is(err, browser.ErrChallenge):
		return "sign-in challenge presented, manual verification required"
	case errors.Is(err, context.DeadlineExceeded):
		return "login attempt timed out"
	default:
		return err.Error()
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server  ServerConfig
	Scraper ScraperConfig
	Export  ExportConfig
	Session SessionConfig
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type ScraperConfig struct {
	Headless          bool
	TimeoutSeconds    int
	ConcurrentWorkers int
	MaxRetries        int
	MaxPages          int
	MaxReviews        int
	RateLimitMinMs    int
	RateLimitMaxMs    int
	ProductTimeout    time.Duration
	RunTimeout        time.Duration
}

type ExportConfig struct {
	Dir string
}

type SessionConfig struct {
	DataDir string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("PORT", 8084),
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Scraper: ScraperConfig{
			Headless:          getEnvBool("SCRAPER_HEADLESS", true),
			TimeoutSeconds:    getEnvInt("SCRAPER_TIMEOUT", 60),
			ConcurrentWorkers: getEnvInt("SCRAPER_WORKERS", 2),
			MaxRetries:        getEnvInt("SCRAPER_MAX_RETRIES", 3),
			MaxPages:          getEnvInt("SCRAPER_MAX_PAGES", 5),
			MaxReviews:        getEnvInt("SCRAPER_MAX_REVIEWS", 50),
			RateLimitMinMs:    getEnvInt("SCRAPER_RATE_LIMIT_MIN_MS", 1000),
			RateLimitMaxMs:    getEnvInt("SCRAPER_RATE_LIMIT_MAX_MS", 3000),
			ProductTimeout:    time.Duration(getEnvInt("SCRAPER_PRODUCT_TIMEOUT", 180)) * time.Second,
			RunTimeout:        time.Duration(getEnvInt("SCRAPER_RUN_TIMEOUT", 600)) * time.Second,
		},
		Export: ExportConfig{
			Dir: getEnv("EXPORT_DIR", "exports"),
		},
		Session: SessionConfig{
			DataDir: getEnv("SESSION_DATA_DIR", "data"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Scraper.ConcurrentWorkers < 1 {
		return fmt.Errorf("at least 1 concurrent worker is required")
	}

	if c.Scraper.MaxPages < 1 {
		return fmt.Errorf("page budget must be at least 1")
	}

	if c.Scraper.RateLimitMinMs > c.Scraper.RateLimitMaxMs {
		return fmt.Errorf("rate limit min delay exceeds max delay")
	}

	if c.Export.Dir == "" {
		return fmt.Errorf("export directory is required")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

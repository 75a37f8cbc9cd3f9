package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all settings for one snapcourier run. It is loaded once at
// startup and treated as immutable by the pipeline.
type Config struct {
	// Delivery.
	WebhookURL          string  `json:"webhook_url"`
	EmbedColor          int     `json:"embed_color"`
	MaxImageSizeMB      float64 `json:"max_image_size_mb"`
	DeliveryMaxAttempts int     `json:"delivery_max_attempts"`
	DeliveryBackoffSec  int     `json:"delivery_backoff_base"`
	DeliveryBackoffCap  int     `json:"delivery_backoff_cap"`

	// Scheduling.
	CaptureInterval int `json:"capture_interval"`
	StartDelay      int `json:"start_delay"`
	MaxCaptures     int `json:"max_captures"`

	// Capture.
	ImageQuality int `json:"image_quality"`

	// Local archive.
	SaveLocally      bool   `json:"save_locally"`
	LocalSavePath    string `json:"local_save_path"`
	ArchiveRetention int    `json:"archive_retention"`

	// Location enrichment.
	CaptureLocation   bool     `json:"capture_location"`
	LocationProviders []string `json:"location_providers"`
	LocationTimeout   int      `json:"location_timeout"`

	// Daemon plumbing.
	DataDir    string `json:"data_dir"`
	StatusPort int    `json:"status_port"`
	LogLevel   string `json:"log_level"`
}

func defaults() Config {
	return Config{
		EmbedColor:          15158332,
		MaxImageSizeMB:      8,
		DeliveryMaxAttempts: 5,
		DeliveryBackoffSec:  2,
		DeliveryBackoffCap:  60,
		CaptureInterval:     300,
		StartDelay:          10,
		MaxCaptures:         0,
		ImageQuality:        85,
		SaveLocally:         true,
		LocalSavePath:       "auto_captures",
		ArchiveRetention:    500,
		CaptureLocation:     true,
		LocationProviders:   []string{"ip-api", "ipapi.co"},
		LocationTimeout:     5,
		DataDir:             DefaultDataDir(),
		StatusPort:          0,
		LogLevel:            "info",
	}
}

func DefaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "snapcourier-data"
		}
	}
	return filepath.Join(dir, "snapcourier")
}

// DefaultPath returns the default config file location
// ($XDG_CONFIG_HOME/snapcourier/config.json).
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "snapcourier", "config.json")
}

// Load reads configuration from the JSON file at path (DefaultPath() when
// empty), applies SNAPCOURIER_* environment overrides, and validates the
// result. A missing file is not an error; a missing webhook URL is.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults plus env overrides still have to produce a webhook URL.
	default:
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SNAPCOURIER_WEBHOOK_URL"); v != "" {
		cfg.WebhookURL = v
	}
	if v := os.Getenv("SNAPCOURIER_CAPTURE_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CaptureInterval = n
		}
	}
	if v := os.Getenv("SNAPCOURIER_MAX_CAPTURES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxCaptures = n
		}
	}
	if v := os.Getenv("SNAPCOURIER_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SNAPCOURIER_STATUS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StatusPort = n
		}
	}
	if v := os.Getenv("SNAPCOURIER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// validate enforces the fatal checks and clamps everything else into range.
// Only the webhook URL can fail a run; malformed numeric settings are pulled
// back to safe values so the pipeline never starts with a nonsense cadence.
func (c *Config) validate() error {
	u, err := url.Parse(c.WebhookURL)
	if err != nil || c.WebhookURL == "" || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("missing or invalid webhook_url: set it in the config file or via SNAPCOURIER_WEBHOOK_URL")
	}

	if c.CaptureInterval < 1 {
		c.CaptureInterval = 1
	}
	if c.StartDelay < 0 {
		c.StartDelay = 0
	}
	if c.MaxCaptures < 0 {
		c.MaxCaptures = 0
	}
	if c.ImageQuality < 1 {
		c.ImageQuality = 1
	}
	if c.ImageQuality > 100 {
		c.ImageQuality = 100
	}
	if c.MaxImageSizeMB <= 0 {
		c.MaxImageSizeMB = 8
	}
	if c.LocationTimeout < 1 {
		c.LocationTimeout = 1
	}
	if c.ArchiveRetention < 1 {
		c.ArchiveRetention = 1
	}
	if c.DeliveryMaxAttempts < 1 {
		c.DeliveryMaxAttempts = 1
	}
	if c.DeliveryBackoffSec < 1 {
		c.DeliveryBackoffSec = 1
	}
	if c.DeliveryBackoffCap < c.DeliveryBackoffSec {
		c.DeliveryBackoffCap = c.DeliveryBackoffSec
	}
	if len(c.LocationProviders) == 0 {
		c.LocationProviders = []string{"ip-api", "ipapi.co"}
	}
	return nil
}

// Interval returns the capture interval as a duration.
func (c Config) Interval() time.Duration { return time.Duration(c.CaptureInterval) * time.Second }

// Delay returns the start delay as a duration.
func (c Config) Delay() time.Duration { return time.Duration(c.StartDelay) * time.Second }

// ProviderTimeout returns the per-provider location timeout as a duration.
func (c Config) ProviderTimeout() time.Duration {
	return time.Duration(c.LocationTimeout) * time.Second
}

// MaskedWebhookURL returns the webhook URL with the middle elided so it can
// be logged without leaking the token embedded in the path.
func (c Config) MaskedWebhookURL() string {
	if len(c.WebhookURL) < 20 {
		return "***"
	}
	return c.WebhookURL[:10] + "..." + c.WebhookURL[len(c.WebhookURL)-10:]
}

// Summary renders the effective settings for the startup banner, webhook masked.
func (c Config) Summary() string {
	return fmt.Sprintf("interval=%ds delay=%ds max=%d quality=%d save_locally=%t location=%t webhook=%s",
		c.CaptureInterval, c.StartDelay, c.MaxCaptures, c.ImageQuality,
		c.SaveLocally, c.CaptureLocation, c.MaskedWebhookURL())
}

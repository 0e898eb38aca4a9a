// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. PDFCAPTURE_SERVER_PORT.
const EnvPrefix = "PDFCAPTURE"

const requestTimeoutMargin = 15 * time.Second

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	OAuth     OAuthConfig     `mapstructure:"oauth"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Version         string        `mapstructure:"version"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BrowserConfig selects and tunes the remote browser driver.
type BrowserConfig struct {
	// Driver is "chromedp" or "rod".
	Driver          string        `mapstructure:"driver"`
	Endpoint        string        `mapstructure:"endpoint"`
	Token           string        `mapstructure:"token"`
	UserAgent       string        `mapstructure:"user_agent"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxParallel     int           `mapstructure:"max_parallel"`
	ConnectQPS      float64       `mapstructure:"connect_qps"`
	IdleMaxInflight int           `mapstructure:"idle_max_inflight"`
	IdleWindow      time.Duration `mapstructure:"idle_window"`
}

// CaptureConfig bounds a single capture.
type CaptureConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	CaptureTimeout    time.Duration `mapstructure:"capture_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	ClickTimeout      time.Duration `mapstructure:"click_timeout"`
	DefaultFilename   string        `mapstructure:"default_filename"`
	RequireAuth       bool          `mapstructure:"require_auth"`
	// AllowHosts and DenyHosts hold exact hosts or "*.suffix" patterns.
	AllowHosts []string `mapstructure:"allow_hosts"`
	DenyHosts  []string `mapstructure:"deny_hosts"`
}

// OAuthConfig configures the Google authorization flow for the Drive sink.
type OAuthConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`
	RefreshToken string   `mapstructure:"refresh_token"`
}

// StorageConfig selects where captured files are relayed.
type StorageConfig struct {
	// Backend is one of none, memory, local, gcs, s3 or drive.
	Backend       string        `mapstructure:"backend"`
	Prefix        string        `mapstructure:"prefix"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`
	LocalDir      string        `mapstructure:"local_dir"`
	GCSBucket     string        `mapstructure:"gcs_bucket"`
	DriveFolderID string        `mapstructure:"drive_folder_id"`
	S3            S3Config      `mapstructure:"s3"`
}

// S3Config configures the S3-compatible sink.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// DBConfig controls access to the capture ledger database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
}

// RateLimitConfig bounds captures per source host.
type RateLimitConfig struct {
	PerHostRPS float64       `mapstructure:"per_host_rps"`
	Burst      int           `mapstructure:"burst"`
	MaxWait    time.Duration `mapstructure:"max_wait"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from .env files, disk and environment.
func Load(path string) (Config, error) {
	if err := loadEnvFiles(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return Config{}, fmt.Errorf("parse PORT %q: %w", port, err)
		}
		cfg.Server.Port = p
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadEnvFiles loads .env, then .env.<APP_ENV>, then .env.local. Later files
// override earlier ones; real environment variables win over .env.
func loadEnvFiles() error {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if env := strings.TrimSpace(os.Getenv("APP_ENV")); env != "" {
		file := ".env." + env
		if err := godotenv.Overload(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	if err := godotenv.Overload(".env.local"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env.local: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "180s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.version", "dev")
	v.SetDefault("browser.driver", "chromedp")
	v.SetDefault("browser.user_agent", "pdf-capture-service/1.0")
	v.SetDefault("browser.connect_timeout", "30s")
	v.SetDefault("browser.max_parallel", 4)
	v.SetDefault("browser.connect_qps", 0)
	v.SetDefault("browser.idle_max_inflight", 2)
	v.SetDefault("browser.idle_window", "500ms")
	v.SetDefault("capture.navigation_timeout", "30s")
	v.SetDefault("capture.capture_timeout", "30s")
	v.SetDefault("capture.settle_delay", "1s")
	v.SetDefault("capture.click_timeout", "5s")
	v.SetDefault("capture.default_filename", "cv.pdf")
	v.SetDefault("capture.require_auth", false)
	v.SetDefault("oauth.scopes", []string{"https://www.googleapis.com/auth/drive.file"})
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.prefix", "captures")
	v.SetDefault("storage.upload_timeout", "60s")
	v.SetDefault("storage.local_dir", "data/captures")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("db.table", "captures")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "500ms")
	v.SetDefault("progress.sink_timeout", "5s")
	v.SetDefault("ratelimit.per_host_rps", 0)
	v.SetDefault("ratelimit.burst", 1)
	v.SetDefault("ratelimit.max_wait", "5s")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "pdf-capture-service")
	v.SetDefault("tracing.sample_ratio", 1.0)

	// Keys without defaults are bound explicitly so AutomaticEnv sees them
	// during Unmarshal.
	for _, key := range []string{
		"auth.enabled", "auth.api_key",
		"browser.endpoint", "browser.token",
		"capture.allow_hosts", "capture.deny_hosts",
		"oauth.client_id", "oauth.client_secret", "oauth.redirect_url", "oauth.refresh_token",
		"storage.gcs_bucket", "storage.drive_folder_id",
		"storage.s3.bucket", "storage.s3.endpoint", "storage.s3.access_key_id",
		"storage.s3.secret_access_key", "storage.s3.use_path_style",
		"db.dsn", "db.max_conns", "db.min_conns", "db.max_conn_lifetime",
		"pubsub.project_id", "pubsub.topic_name",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Browser.Driver {
	case "chromedp", "rod":
	default:
		return fmt.Errorf("browser.driver must be chromedp or rod, got %q", c.Browser.Driver)
	}
	if c.Browser.MaxParallel < 0 {
		return fmt.Errorf("browser.max_parallel must be >= 0")
	}
	if c.Capture.NavigationTimeout <= 0 || c.Capture.CaptureTimeout <= 0 {
		return fmt.Errorf("capture timeouts must be > 0")
	}
	switch c.Storage.Backend {
	case "none", "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
	case "drive":
		if c.OAuth.ClientID == "" || c.OAuth.ClientSecret == "" || c.OAuth.RedirectURL == "" {
			return fmt.Errorf("oauth client_id, client_secret and redirect_url are required for the drive backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Capture.RequireAuth && !c.OAuthEnabled() && c.OAuth.RefreshToken == "" {
		return fmt.Errorf("capture.require_auth needs an oauth client or oauth.refresh_token")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}

// CaptureBudget is the longest a single download can take with the
// configured browser, capture and upload timeouts.
func (c Config) CaptureBudget() time.Duration {
	return c.Browser.ConnectTimeout +
		c.Capture.NavigationTimeout +
		c.Capture.SettleDelay +
		c.Capture.ClickTimeout +
		c.Capture.CaptureTimeout +
		c.Storage.UploadTimeout
}

// RequestTimeout bounds a download request. It is server.write_timeout,
// raised to CaptureBudget plus a margin when that is shorter.
func (c Config) RequestTimeout() time.Duration {
	if floor := c.CaptureBudget() + requestTimeoutMargin; c.Server.WriteTimeout < floor {
		return floor
	}
	return c.Server.WriteTimeout
}

// OAuthEnabled reports whether the authorization endpoints should be served.
func (c Config) OAuthEnabled() bool {
	return c.OAuth.ClientID != "" && c.OAuth.ClientSecret != "" && c.OAuth.RedirectURL != ""
}

package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Matching   MatchingConfig   `yaml:"matching" mapstructure:"matching"`
	Storage    StorageConfig    `yaml:"storage" mapstructure:"storage"`
	Gmail      GmailConfig      `yaml:"gmail" mapstructure:"gmail"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	MaxUploadMB    int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// OCRConfig selects and configures the text extraction provider.
type OCRConfig struct {
	// Provider is one of "service", "pdftotext", or "anthropic".
	Provider      string `yaml:"provider" mapstructure:"provider"`
	ServiceURL    string `yaml:"service_url" mapstructure:"service_url"`
	APIKey        string `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	// NumberPattern is the regexp used by the pdftotext provider to pull a
	// work-order number out of the text layer.
	NumberPattern string `yaml:"number_pattern" mapstructure:"number_pattern"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// MatchingConfig tunes the matcher and the confidence tiers.
type MatchingConfig struct {
	MinLengthRatio  float64 `yaml:"min_length_ratio" mapstructure:"min_length_ratio"`
	HighThreshold   float64 `yaml:"high_threshold" mapstructure:"high_threshold"`
	MediumThreshold float64 `yaml:"medium_threshold" mapstructure:"medium_threshold"`
}

// StorageConfig selects where signed PDFs are kept.
type StorageConfig struct {
	// Driver is one of "local", "ftp", or "gdrive".
	Driver string             `yaml:"driver" mapstructure:"driver"`
	Local  LocalStorageConfig `yaml:"local" mapstructure:"local"`
	FTP    FTPConfig          `yaml:"ftp" mapstructure:"ftp"`
	Drive  DriveConfig        `yaml:"drive" mapstructure:"drive"`
}

// LocalStorageConfig configures filesystem storage.
type LocalStorageConfig struct {
	Dir     string `yaml:"dir" mapstructure:"dir"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FTPConfig configures FTP storage.
type FTPConfig struct {
	Addr        string `yaml:"addr" mapstructure:"addr"`
	Username    string `yaml:"username" mapstructure:"username"`
	Password    string `yaml:"password" mapstructure:"password"`
	Dir         string `yaml:"dir" mapstructure:"dir"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// DriveConfig configures Google Drive storage.
type DriveConfig struct {
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	FolderID        string `yaml:"folder_id" mapstructure:"folder_id"`
}

// GmailConfig configures the mailbox label adapter.
type GmailConfig struct {
	CredentialsFile string  `yaml:"credentials_file" mapstructure:"credentials_file"`
	User            string  `yaml:"user" mapstructure:"user"`
	RateLimit       float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	// QueueLabel marks messages waiting to be processed; ProcessedLabel
	// replaces it once a document's disposition is committed.
	QueueLabel     string `yaml:"queue_label" mapstructure:"queue_label"`
	ProcessedLabel string `yaml:"processed_label" mapstructure:"processed_label"`
}

// NotionConfig holds Notion API credentials for review notifications.
type NotionConfig struct {
	Token    string `yaml:"token" mapstructure:"token"`
	ReviewDB string `yaml:"review_db" mapstructure:"review_db"`
	// RateLimit is requests per second; Notion allows about 3.
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// CacheConfig configures the open work-order cache.
type CacheConfig struct {
	OpenWorkOrdersTTLSecs int `yaml:"open_work_orders_ttl_secs" mapstructure:"open_work_orders_ttl_secs"`
}

// PipelineConfig configures document processing.
type PipelineConfig struct {
	SerializeByFmKey bool `yaml:"serialize_by_fm_key" mapstructure:"serialize_by_fm_key"`
	DLQMaxRetries    int  `yaml:"dlq_max_retries" mapstructure:"dlq_max_retries"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentDocuments int `yaml:"max_concurrent_documents" mapstructure:"max_concurrent_documents"`
}

// RetryConfig configures collaborator retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures per-collaborator circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// MonitoringConfig configures backlog alerting.
type MonitoringConfig struct {
	Enabled             bool   `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL          string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int    `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	ReviewBacklogMax    int    `yaml:"review_backlog_max" mapstructure:"review_backlog_max"`
	StaleReviewHours    int    `yaml:"stale_review_hours" mapstructure:"stale_review_hours"`
	DLQDepthMax         int    `yaml:"dlq_depth_max" mapstructure:"dlq_depth_max"`
	// AlertCooldownMins suppresses repeats of an alert type still firing.
	AlertCooldownMins int `yaml:"alert_cooldown_mins" mapstructure:"alert_cooldown_mins"`
}

// Load reads configuration from file and environment. An empty path looks
// for an optional config.yaml in the working directory; an explicit path
// must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("SIGNMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_mb", 25)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("ocr.provider", "service")
	v.SetDefault("ocr.timeout_secs", 60)
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.number_pattern", `(?i)\bW\.?O\.?\s*#?\s*[:\-]?\s*([A-Z0-9][A-Z0-9\-]{2,})`)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 512)
	v.SetDefault("matching.min_length_ratio", 0.6)
	v.SetDefault("matching.high_threshold", 0.90)
	v.SetDefault("matching.medium_threshold", 0.60)
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local.dir", "./signed")
	v.SetDefault("storage.ftp.timeout_secs", 30)
	v.SetDefault("gmail.user", "me")
	v.SetDefault("gmail.rate_limit", 5.0)
	v.SetDefault("cache.open_work_orders_ttl_secs", 60)
	v.SetDefault("pipeline.serialize_by_fm_key", false)
	v.SetDefault("pipeline.dlq_max_retries", 3)
	v.SetDefault("batch.max_concurrent_documents", 4)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.2)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("notion.rate_limit", 3.0)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.review_backlog_max", 50)
	v.SetDefault("monitoring.stale_review_hours", 48)
	v.SetDefault("monitoring.dlq_depth_max", 10)
	v.SetDefault("monitoring.alert_cooldown_mins", 60)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields required by the given mode. Mode "store" covers
// commands that only touch the database (import, review, dlq, migrate);
// "process" adds the OCR, storage, and matching settings; "serve" adds the
// HTTP listener on top of "process".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "store", "process", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required (sqlite file path)")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown store.driver %q", c.Store.Driver))
	}

	if mode == "process" || mode == "serve" {
		errs = append(errs, c.validateProcessing()...)
	}

	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateProcessing() []string {
	var errs []string

	switch c.OCR.Provider {
	case "service":
		if c.OCR.ServiceURL == "" {
			errs = append(errs, "ocr.service_url is required for the service provider")
		}
	case "anthropic":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required for the anthropic provider")
		}
	case "pdftotext":
		if c.OCR.NumberPattern == "" {
			errs = append(errs, "ocr.number_pattern is required for the pdftotext provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown ocr.provider %q", c.OCR.Provider))
	}

	switch c.Storage.Driver {
	case "local":
		if c.Storage.Local.Dir == "" {
			errs = append(errs, "storage.local.dir is required")
		}
	case "ftp":
		if c.Storage.FTP.Addr == "" {
			errs = append(errs, "storage.ftp.addr is required")
		}
	case "gdrive":
		if c.Storage.Drive.FolderID == "" {
			errs = append(errs, "storage.drive.folder_id is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown storage.driver %q", c.Storage.Driver))
	}

	m := c.Matching
	if m.MinLengthRatio <= 0 || m.MinLengthRatio > 1 {
		errs = append(errs, "matching.min_length_ratio must be in (0, 1]")
	}
	if m.MediumThreshold <= 0 || m.HighThreshold > 1 || m.HighThreshold < m.MediumThreshold {
		errs = append(errs, "matching thresholds must satisfy 0 < medium_threshold <= high_threshold <= 1")
	}

	if c.Batch.MaxConcurrentDocuments < 1 || c.Batch.MaxConcurrentDocuments > 64 {
		errs = append(errs, "batch.max_concurrent_documents must be between 1 and 64")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

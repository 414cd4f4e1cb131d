package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the namespace of all environment variables.
const EnvPrefix = "TRUST"

// Config represents the complete application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" envconfig:"SERVER"`
	Security     SecurityConfig     `yaml:"security" envconfig:"SECURITY"`
	Logging      LoggingConfig      `yaml:"logging" envconfig:"LOGGING"`
	Database     DatabaseConfig     `yaml:"database" envconfig:"DATABASE"`
	Redis        RedisConfig        `yaml:"redis" envconfig:"REDIS"`
	Portal       PortalConfig       `yaml:"portal" envconfig:"PORTAL"`
	Limits       LimitsConfig       `yaml:"limits" envconfig:"LIMITS"`
	Notify       NotifyConfig       `yaml:"notify" envconfig:"NOTIFY"`
	Certificates CertificatesConfig `yaml:"certificates" envconfig:"CERTIFICATES"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" envconfig:"MAX_BODY_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	TrustProxy     bool            `yaml:"trust_proxy" envconfig:"TRUST_PROXY"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig is the global token-bucket throttle applied to every request.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL"`
	Output      string `yaml:"output" envconfig:"OUTPUT"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" envconfig:"DRIVER"`
	DSN             string        `yaml:"dsn" envconfig:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `yaml:"auto_migrate" envconfig:"AUTO_MIGRATE"`
}

// RedisConfig enables the shared rate limiter backend. When disabled each
// instance keeps its own in-memory windows.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled" envconfig:"ENABLED"`
	Addr      string `yaml:"addr" envconfig:"ADDR"`
	Password  string `yaml:"password" envconfig:"PASSWORD"`
	DB        int    `yaml:"db" envconfig:"DB"`
	KeyPrefix string `yaml:"key_prefix" envconfig:"KEY_PREFIX"`
}

// PortalConfig holds the customer portal trust parameters.
type PortalConfig struct {
	SessionSecret   string        `yaml:"session_secret" envconfig:"SESSION_SECRET"`
	CodeTTL         time.Duration `yaml:"code_ttl" envconfig:"CODE_TTL"`
	CodeWindow      time.Duration `yaml:"code_window" envconfig:"CODE_WINDOW"`
	MaxAttempts     int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	TransferWindow  time.Duration `yaml:"transfer_window" envconfig:"TRANSFER_WINDOW"`
	JanitorInterval time.Duration `yaml:"janitor_interval" envconfig:"JANITOR_INTERVAL"`
	HistoryDefault  int           `yaml:"history_default" envconfig:"HISTORY_DEFAULT"`
	HistoryMax      int           `yaml:"history_max" envconfig:"HISTORY_MAX"`
}

// Policy is a sliding-window budget: Limit requests per Window.
type Policy struct {
	Limit  int           `yaml:"limit" envconfig:"LIMIT"`
	Window time.Duration `yaml:"window" envconfig:"WINDOW"`
}

// LimitsConfig holds the per-action budgets keyed by source address.
type LimitsConfig struct {
	Verify           Policy        `yaml:"verify" envconfig:"VERIFY"`
	TransferRequest  Policy        `yaml:"transfer_request" envconfig:"TRANSFER_REQUEST"`
	TransferComplete Policy        `yaml:"transfer_complete" envconfig:"TRANSFER_COMPLETE"`
	Deactivate       Policy        `yaml:"deactivate" envconfig:"DEACTIVATE"`
	Activate         Policy        `yaml:"activate" envconfig:"ACTIVATE"`
	Transfers        Policy        `yaml:"transfers" envconfig:"TRANSFERS"`
	HardwareInfo     Policy        `yaml:"hardware_info" envconfig:"HARDWARE_INFO"`
	CertificateSync  Policy        `yaml:"certificate_sync" envconfig:"CERTIFICATE_SYNC"`
	CertificateFetch Policy        `yaml:"certificate_fetch" envconfig:"CERTIFICATE_FETCH"`
	JanitorInterval  time.Duration `yaml:"janitor_interval" envconfig:"JANITOR_INTERVAL"`
}

// NotifyConfig selects how verification codes leave the service.
type NotifyConfig struct {
	Mode       string        `yaml:"mode" envconfig:"MODE"`
	WebhookURL string        `yaml:"webhook_url" envconfig:"WEBHOOK_URL"`
	Timeout    time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// CertificatesConfig drives issuance, verification and sync.
type CertificatesConfig struct {
	ClientCode          string        `yaml:"client_code" envconfig:"CLIENT_CODE"`
	Algorithm           string        `yaml:"algorithm" envconfig:"ALGORITHM"`
	SigningSecret       string        `yaml:"signing_secret" envconfig:"SIGNING_SECRET"`
	PrivateKeyPath      string        `yaml:"private_key_path" envconfig:"PRIVATE_KEY_PATH"`
	PublicKeyPath       string        `yaml:"public_key_path" envconfig:"PUBLIC_KEY_PATH"`
	ServerURL           string        `yaml:"server_url" envconfig:"SERVER_URL"`
	VerificationBaseURL string        `yaml:"verification_base_url" envconfig:"VERIFICATION_BASE_URL"`
	RequestTimeout      time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	CacheSize           int           `yaml:"cache_size" envconfig:"CACHE_SIZE"`
	Sync                SyncConfig    `yaml:"sync" envconfig:"SYNC"`
}

// SyncConfig is the upward sync retry policy.
type SyncConfig struct {
	Interval   time.Duration `yaml:"interval" envconfig:"INTERVAL"`
	BaseDelay  time.Duration `yaml:"base_delay" envconfig:"BASE_DELAY"`
	MaxDelay   time.Duration `yaml:"max_delay" envconfig:"MAX_DELAY"`
	Multiplier float64       `yaml:"multiplier" envconfig:"MULTIPLIER"`
	MaxRetries int           `yaml:"max_retries" envconfig:"MAX_RETRIES"`
	BatchSize  int           `yaml:"batch_size" envconfig:"BATCH_SIZE"`
}

// TelemetryConfig contains OpenTelemetry configuration
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name" envconfig:"SERVICE_NAME"`
	ServiceVersion string  `yaml:"service_version" envconfig:"SERVICE_VERSION"`
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	EnableMetrics  bool    `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

var codePattern = regexp.MustCompile(`^[A-Z0-9]{4}$`)

// Load builds the configuration from defaults, the YAML file at path (if
// non-empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	return load(path, (*Config).validate)
}

// LoadAgent is Load for the client-side certificate agent, which serves no
// portal and therefore needs no session secret.
func LoadAgent(path string) (*Config, error) {
	return load(path, (*Config).validateAgent)
}

func load(path string, validate func(*Config) error) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML document onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when redis is enabled")
	}

	if strings.TrimSpace(c.Portal.SessionSecret) == "" {
		return fmt.Errorf("portal session secret is required")
	}
	if c.Portal.CodeTTL <= 0 || c.Portal.TransferWindow <= 0 {
		return fmt.Errorf("portal code ttl and transfer window must be positive")
	}
	if c.Portal.JanitorInterval <= 0 || c.Limits.JanitorInterval <= 0 {
		return fmt.Errorf("janitor intervals must be positive")
	}
	if c.Portal.MaxAttempts <= 0 {
		return fmt.Errorf("portal max attempts must be positive")
	}
	if c.Portal.HistoryDefault <= 0 || c.Portal.HistoryMax < c.Portal.HistoryDefault {
		return fmt.Errorf("invalid history limits: default %d, max %d", c.Portal.HistoryDefault, c.Portal.HistoryMax)
	}

	for name, p := range c.Limits.policies() {
		if p.Limit <= 0 || p.Window <= 0 {
			return fmt.Errorf("invalid rate limit policy %s: %d per %s", name, p.Limit, p.Window)
		}
	}

	switch c.Notify.Mode {
	case "log":
	case "webhook":
		if c.Notify.WebhookURL == "" {
			return fmt.Errorf("notify webhook url is required in webhook mode")
		}
	default:
		return fmt.Errorf("unsupported notify mode: %q", c.Notify.Mode)
	}

	if err := c.Certificates.validate(); err != nil {
		return err
	}

	c.normalizeLogging()
	return nil
}

func (c *Config) validateAgent() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.Certificates.validate(); err != nil {
		return err
	}
	if c.Certificates.ServerURL == "" {
		return fmt.Errorf("certificate server url is required")
	}
	if c.Certificates.Sync.Interval <= 0 || c.Certificates.Sync.BatchSize <= 0 {
		return fmt.Errorf("certificate sync interval and batch size must be positive")
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	return nil
}

func (c *Config) normalizeLogging() {
	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		c.Logging.Output = "console"
	}
	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/trustd.log"
	}
}

func (c *CertificatesConfig) validate() error {
	if !codePattern.MatchString(c.ClientCode) {
		return fmt.Errorf("certificate client code must be 4 characters [A-Z0-9], got %q", c.ClientCode)
	}
	switch c.Algorithm {
	case "HMAC-SHA256":
		if c.SigningSecret == "" {
			return fmt.Errorf("certificate signing secret is required for HMAC-SHA256")
		}
	case "Ed25519":
		if c.PrivateKeyPath == "" && c.PublicKeyPath == "" {
			return fmt.Errorf("certificate key path is required for Ed25519")
		}
	default:
		return fmt.Errorf("unsupported certificate algorithm: %q", c.Algorithm)
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("certificate cache size must be positive")
	}
	s := c.Sync
	if s.BaseDelay <= 0 || s.MaxDelay < s.BaseDelay || s.Multiplier < 1 || s.MaxRetries < 0 {
		return fmt.Errorf("invalid certificate sync backoff")
	}
	return nil
}

func (l LimitsConfig) policies() map[string]Policy {
	return map[string]Policy{
		"verify":            l.Verify,
		"transfer_request":  l.TransferRequest,
		"transfer_complete": l.TransferComplete,
		"deactivate":        l.Deactivate,
		"activate":          l.Activate,
		"transfers":         l.Transfers,
		"hardware_info":     l.HardwareInfo,
		"certificate_sync":  l.CertificateSync,
		"certificate_fetch": l.CertificateFetch,
	}
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			MaxBodyBytes:    1 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: "logs/trustd.log",
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "trust.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			AutoMigrate:     true,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "trust:rl:",
		},
		Portal: PortalConfig{
			CodeTTL:         15 * time.Minute,
			CodeWindow:      24 * time.Hour,
			MaxAttempts:     5,
			TransferWindow:  24 * time.Hour,
			JanitorInterval: 10 * time.Minute,
			HistoryDefault:  20,
			HistoryMax:      50,
		},
		Limits: LimitsConfig{
			Verify:           Policy{Limit: 10, Window: 5 * time.Minute},
			TransferRequest:  Policy{Limit: 3, Window: time.Hour},
			TransferComplete: Policy{Limit: 5, Window: 15 * time.Minute},
			Deactivate:       Policy{Limit: 3, Window: time.Hour},
			Activate:         Policy{Limit: 10, Window: time.Hour},
			Transfers:        Policy{Limit: 30, Window: 5 * time.Minute},
			HardwareInfo:     Policy{Limit: 30, Window: 5 * time.Minute},
			CertificateSync:  Policy{Limit: 120, Window: time.Minute},
			CertificateFetch: Policy{Limit: 60, Window: time.Minute},
			JanitorInterval:  time.Minute,
		},
		Notify: NotifyConfig{
			Mode:    "log",
			Timeout: 10 * time.Second,
		},
		Certificates: CertificatesConfig{
			ClientCode:     "SRVR",
			Algorithm:      "HMAC-SHA256",
			RequestTimeout: 10 * time.Second,
			CacheSize:      256,
			Sync: SyncConfig{
				Interval:   5 * time.Minute,
				BaseDelay:  time.Second,
				MaxDelay:   time.Minute,
				Multiplier: 2,
				MaxRetries: 5,
				BatchSize:  100,
			},
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "license-trust",
			ServiceVersion: "dev",
			Environment:    "development",
			TraceExporter:  "none",
			EnableMetrics:  true,
			SampleRatio:    1.0,
		},
	}
}

// Package config loads configuration from files, env vars, and flags, and validates it.
package config

import (
	"time"
)

// Config holds the application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Server        ServerConfig        `mapstructure:"server"`
	Runner        RunnerConfig        `mapstructure:"runner"`
	Metadata      MetadataConfig      `mapstructure:"metadata"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Files         FilesConfig         `mapstructure:"files"`
	Webhook       WebhookConfig       `mapstructure:"webhook"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
// All workspace schemas and the metadata schema live in the same database.
type DatabaseConfig struct {
	// ConnectionString is a libpq-style URL or keyword/value DSN.
	// When set, overrides Host/Port/User/Password/Database fields.
	// Configured via "dsn" in YAML or CRMGQL_DATABASE_DSN env var.
	ConnectionString string `mapstructure:"dsn"`
	// ConnectionStringFile is a path to a file containing the DSN (for secrets management).
	// Supports "@-" to read from stdin.
	ConnectionStringFile string `mapstructure:"dsn_file"`

	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	Database       string `mapstructure:"database"`
	// SSLMode is passed through as the libpq sslmode parameter
	// (disable, allow, prefer, require, verify-ca, verify-full).
	SSLMode string `mapstructure:"sslmode"`

	// MetadataSchema is the schema holding objectMetadata/fieldMetadata tables.
	MetadataSchema string `mapstructure:"metadata_schema"`

	Pool PoolConfig `mapstructure:"pool"`

	// ConnectionTimeout is the max time to wait for DB on startup.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	// ConnectionRetryInterval is the initial interval between connection retries.
	ConnectionRetryInterval time.Duration `mapstructure:"connection_retry_interval"`
}

// AuthConfig holds authentication parameters.
type AuthConfig struct {
	// AccessTokenSecret signs HS256 workspace access tokens.
	AccessTokenSecret string `mapstructure:"access_token_secret"`
	// FileTokenSecret signs file access tokens embedded in attachment URLs.
	FileTokenSecret string `mapstructure:"file_token_secret"`

	OIDCEnabled       bool          `mapstructure:"oidc_enabled"`
	OIDCIssuerURL     string        `mapstructure:"oidc_issuer_url"`
	OIDCAudience      string        `mapstructure:"oidc_audience"`
	OIDCClockSkew     time.Duration `mapstructure:"oidc_clock_skew"`
	OIDCSkipTLSVerify bool          `mapstructure:"oidc_skip_tls_verify"`
	// OIDCCAFile is a PEM bundle trusted when talking to the issuer.
	OIDCCAFile string `mapstructure:"oidc_ca_file"`
	// OIDCWorkspaceClaim names the claim carrying the workspace id.
	OIDCWorkspaceClaim string `mapstructure:"oidc_workspace_claim"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port               int           `mapstructure:"port"`
	GraphiQLEnabled    bool          `mapstructure:"graphiql_enabled"`
	Auth               AuthConfig    `mapstructure:"auth"`
	RateLimitEnabled   bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRPS       float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst     int           `mapstructure:"rate_limit_burst"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	HealthCheckTimeout time.Duration `mapstructure:"health_check_timeout"`
}

// Missing result policies for RunnerConfig.MissingResultPolicy.
const (
	MissingResultIgnore = "ignore"
	MissingResultError  = "error"
)

// RunnerConfig tunes the workspace query runner.
type RunnerConfig struct {
	// MutationMaximumAffectedRecords caps updateMany/deleteMany (pg_graphql atMost).
	MutationMaximumAffectedRecords int `mapstructure:"mutation_maximum_affected_records"`
	// WebhookRetryLimit is the retry limit attached to webhook jobs.
	WebhookRetryLimit int `mapstructure:"webhook_retry_limit"`
	// MissingResultPolicy decides what happens when the entity key is absent
	// from a pg_graphql response: "ignore" returns nothing, "error" fails.
	MissingResultPolicy string `mapstructure:"missing_result_policy"`
	// DefaultPageSize is applied to findMany when neither first nor last is set.
	DefaultPageSize int `mapstructure:"default_page_size"`
}

// MetadataConfig controls the object metadata cache.
type MetadataConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// SchemaIdleTimeout evicts workspace schemas unused for this long.
	// Zero keeps them until the process exits.
	SchemaIdleTimeout time.Duration `mapstructure:"schema_idle_timeout"`
}

// QueueConfig selects and configures the job queue driver.
type QueueConfig struct {
	Driver   string `mapstructure:"driver"` // memory, amqp
	AMQPURL  string `mapstructure:"amqp_url"`
	Exchange string `mapstructure:"exchange"`
	Workers  int    `mapstructure:"workers"`
	Buffer   int    `mapstructure:"buffer"`
	// RetryBackoff is the base delay between attempts of a failed job.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// FilesConfig configures attachment storage and signed URLs.
type FilesConfig struct {
	Driver              string        `mapstructure:"driver"` // local, s3
	LocalDir            string        `mapstructure:"local_dir"`
	S3Endpoint          string        `mapstructure:"s3_endpoint"`
	S3Region            string        `mapstructure:"s3_region"`
	S3Bucket            string        `mapstructure:"s3_bucket"`
	S3AccessKeyID       string        `mapstructure:"s3_access_key_id"`
	S3SecretAccessKey   string        `mapstructure:"s3_secret_access_key"`
	S3UseSSL            bool          `mapstructure:"s3_use_ssl"`
	SignedURLExpiration time.Duration `mapstructure:"signed_url_expiration"`
}

// WebhookConfig configures outbound webhook delivery.
type WebhookConfig struct {
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // Enable OTLP log export
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName      string        `mapstructure:"service_name"`
	ServiceVersion   string        `mapstructure:"service_version"`
	Environment      string        `mapstructure:"environment"`
	MetricsEnabled   bool          `mapstructure:"metrics_enabled"`
	TracingEnabled   bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio float64       `mapstructure:"trace_sample_ratio"`
	Logging          LoggingConfig `mapstructure:"logging"`

	// Global OTLP settings (defaults for all signals)
	OTLP OTLPConfig `mapstructure:"otlp"`

	// Signal-specific overrides (optional)
	Traces *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs   *OTLPConfig `mapstructure:"logs,omitempty"`
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // "none", "gzip"
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
	RetryMaxAttempts  int               `mapstructure:"retry_max_attempts"`
}

// GetTracesConfig returns the effective OTLP config for traces
func (c *ObservabilityConfig) GetTracesConfig() OTLPConfig {
	if c.Traces != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Traces)
	}
	return c.OTLP
}

// GetLogsConfig returns the effective OTLP config for logs
func (c *ObservabilityConfig) GetLogsConfig() OTLPConfig {
	if c.Logs != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Logs)
	}
	return c.OTLP
}

func mergeOTLPConfigs(base OTLPConfig, override OTLPConfig) OTLPConfig {
	result := base

	if override.Endpoint != "" {
		result.Endpoint = override.Endpoint
	}
	if override.Protocol != "" {
		result.Protocol = override.Protocol
	}
	// Insecure is a plain bool; an override block always wins.
	result.Insecure = override.Insecure

	if override.TLSCertFile != "" {
		result.TLSCertFile = override.TLSCertFile
	}
	if override.TLSClientCertFile != "" {
		result.TLSClientCertFile = override.TLSClientCertFile
	}
	if override.TLSClientKeyFile != "" {
		result.TLSClientKeyFile = override.TLSClientKeyFile
	}
	if override.Headers != nil {
		result.Headers = make(map[string]string, len(base.Headers)+len(override.Headers))
		for k, v := range base.Headers {
			result.Headers[k] = v
		}
		for k, v := range override.Headers {
			result.Headers[k] = v
		}
	}
	if override.Timeout != 0 {
		result.Timeout = override.Timeout
	}
	if override.Compression != "" {
		result.Compression = override.Compression
	}
	if override.RetryMaxAttempts != 0 {
		result.RetryEnabled = override.RetryEnabled
		result.RetryMaxAttempts = override.RetryMaxAttempts
	}
	return result
}

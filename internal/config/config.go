// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server    ServerConfig
	Runtime   RuntimeConfig
	Bridge    BridgeConfig
	Upload    UploadConfig
	Export    ExportConfig
	Telemetry TelemetryConfig
	Security  SecurityConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 10m)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"10m"`
}

// RuntimeConfig describes the interpreter process that hosts the rule engine
// and the packages installed into it at bootstrap.
type RuntimeConfig struct {
	// Interpreter is the interpreter executable (default: python3)
	Interpreter string `env:"RUNTIME_INTERPRETER" default:"python3"`

	// ContainerImage, when set, runs the interpreter inside this apptainer image
	ContainerImage string `env:"RUNTIME_CONTAINER_IMAGE"`

	// BasePackages are installed before anything else (default: wheel)
	BasePackages []string `env:"RUNTIME_BASE_PACKAGES" default:"wheel"`

	// RuleEngineRelease is the pinned rule-engine package spec (required)
	RuleEngineRelease string `env:"VALIDATOR_RELEASE" envAlt:"RULE_ENGINE_RELEASE" required:"true"`

	// ExtraModules is a space-separated list of extra package specs
	ExtraModules string `env:"RUNTIME_EXTRA_MODULES"`

	// PublicKey is the PEM encoded key injected into the interpreter (required)
	PublicKey string `env:"RULE_ENGINE_PUBLIC_KEY" required:"true"`

	// PublicKeyEnv is the interpreter environment variable receiving PublicKey
	PublicKeyEnv string `env:"RUNTIME_PUBLIC_KEY_ENV" default:"QLACREF_PC_KEY"`

	// Manifest is an optional YAML file overriding the install plan
	Manifest string `env:"RUNTIME_MANIFEST"`
}

// BridgeConfig holds settings for the worker that owns the runtime.
type BridgeConfig struct {
	// Mode selects where the worker runs: inprocess or subprocess (default: inprocess)
	Mode string `env:"BRIDGE_WORKER_MODE" default:"inprocess"`

	// CallTimeout bounds every bridge call; 0 waits indefinitely (default: 0s)
	CallTimeout time.Duration `env:"BRIDGE_CALL_TIMEOUT" default:"0s"`
}

// UploadConfig holds limits for files submitted for validation.
type UploadConfig struct {
	// MaxFileSize is the maximum request size in bytes, human units accepted (default: 100MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"100MB"`

	// MaxFiles is the maximum number of files per validation (default: 20)
	MaxFiles int `env:"UPLOAD_MAX_FILES" default:"20"`

	// MaxWaitTime is how long to wait for the validation slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`
}

// ExportConfig holds artifact storage settings for exported reports.
type ExportConfig struct {
	// Backend is where artifacts are saved: dir or s3 (default: dir)
	Backend string `env:"EXPORT_BACKEND" default:"dir"`

	// Dir is the local artifact directory (default: exports)
	Dir string `env:"EXPORT_DIR" default:"exports"`

	S3 S3Config
}

// S3Config holds S3 compatible object storage settings.
type S3Config struct {
	Bucket    string `env:"EXPORT_S3_BUCKET"`
	Endpoint  string `env:"EXPORT_S3_ENDPOINT"`
	Region    string `env:"EXPORT_S3_REGION" default:"us-east-1"`
	AccessKey string `env:"EXPORT_S3_ACCESS_KEY"`
	SecretKey string `env:"EXPORT_S3_SECRET_KEY"`
	UseSSL    bool   `env:"EXPORT_S3_USE_SSL" default:"true"`
}

// TelemetryConfig holds exception capture settings.
type TelemetryConfig struct {
	// Enabled controls whether exceptions are captured (default: true)
	Enabled bool `env:"TELEMETRY_ENABLED" default:"true"`

	// Environment tags captured exceptions (default: development)
	Environment string `env:"TELEMETRY_ENVIRONMENT" default:"development"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enables X-API-Key validation on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

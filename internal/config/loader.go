package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
			return nil
		}

		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil && field.Kind() == reflect.Int64 {
			// Byte sizes such as "100MB" or "512KiB"
			i, err = units.RAMInBytes(value)
		}
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		// Split comma-separated values, trim whitespace
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Runtime validation
	if c.Runtime.Interpreter == "" {
		errs = append(errs, "RUNTIME_INTERPRETER is required")
	}
	if c.Runtime.RuleEngineRelease == "" {
		errs = append(errs, "VALIDATOR_RELEASE is required")
	}
	if c.Runtime.PublicKey == "" {
		errs = append(errs, "RULE_ENGINE_PUBLIC_KEY is required")
	} else if _, err := jwk.ParseKey([]byte(c.Runtime.PublicKey), jwk.WithPEM(true)); err != nil {
		errs = append(errs, fmt.Sprintf("RULE_ENGINE_PUBLIC_KEY is not a valid PEM key: %v", err))
	}
	if c.Runtime.PublicKeyEnv == "" {
		errs = append(errs, "RUNTIME_PUBLIC_KEY_ENV must not be empty")
	}

	// Bridge validation
	validModes := map[string]bool{"inprocess": true, "subprocess": true}
	if !validModes[strings.ToLower(c.Bridge.Mode)] {
		errs = append(errs, fmt.Sprintf("BRIDGE_WORKER_MODE (%q) must be one of: inprocess, subprocess", c.Bridge.Mode))
	}
	if c.Bridge.CallTimeout < 0 {
		errs = append(errs, "BRIDGE_CALL_TIMEOUT must be non-negative")
	}

	// Upload validation
	if c.Upload.MaxFileSize <= 0 {
		errs = append(errs, "UPLOAD_MAX_FILE_SIZE must be positive")
	}
	if c.Upload.MaxFiles <= 0 {
		errs = append(errs, "UPLOAD_MAX_FILES must be positive")
	}
	if c.Upload.MaxWaitTime <= 0 {
		errs = append(errs, "UPLOAD_MAX_WAIT_TIME must be positive")
	}

	// Export validation
	switch strings.ToLower(c.Export.Backend) {
	case "dir":
		if c.Export.Dir == "" {
			errs = append(errs, "EXPORT_DIR is required when EXPORT_BACKEND is dir")
		}
	case "s3":
		if c.Export.S3.Bucket == "" {
			errs = append(errs, "EXPORT_S3_BUCKET is required when EXPORT_BACKEND is s3")
		}
	default:
		errs = append(errs, fmt.Sprintf("EXPORT_BACKEND (%q) must be one of: dir, s3", c.Export.Backend))
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// The public key and storage credentials are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Runtime: {Interpreter: %q, Image: %q, Release: %q, PublicKey: [MASKED]}, ",
		c.Runtime.Interpreter, c.Runtime.ContainerImage, c.Runtime.RuleEngineRelease))
	b.WriteString(fmt.Sprintf("Bridge: {Mode: %q, CallTimeout: %s}, ", c.Bridge.Mode, c.Bridge.CallTimeout))
	b.WriteString(fmt.Sprintf("Upload: {MaxFileSize: %d, MaxFiles: %d}, ", c.Upload.MaxFileSize, c.Upload.MaxFiles))
	b.WriteString(fmt.Sprintf("Export: {Backend: %q, Dir: %q, Bucket: %q, SecretKey: [MASKED]}, ",
		c.Export.Backend, c.Export.Dir, c.Export.S3.Bucket))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}

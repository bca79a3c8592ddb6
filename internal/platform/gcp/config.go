package gcp

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/pdfsum-backend/internal/platform/objectstore"
)

type Mode string

const (
	ModeGCS      Mode = "gcs"
	ModeEmulator Mode = "gcs_emulator"
)

// Config selects the document bucket and whether it lives in real GCS or a
// fake-gcs emulator. Credentials is inline service account JSON or a path.
type Config struct {
	Bucket       string
	Mode         Mode
	EmulatorHost string
	Credentials  string

	// inferred is set when an emulator host alone selected ModeEmulator.
	inferred bool
}

type ConfigErrorCode string

const (
	ConfigErrorInvalidMode         ConfigErrorCode = "invalid_mode"
	ConfigErrorMissingEmulatorHost ConfigErrorCode = "missing_emulator_host"
	ConfigErrorInvalidEmulatorHost ConfigErrorCode = "invalid_emulator_host"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	switch e.Code {
	case ConfigErrorInvalidMode:
		return fmt.Sprintf("GCS_STORAGE_MODE=%q is not one of %q, %q", e.Value, ModeGCS, ModeEmulator)
	case ConfigErrorMissingEmulatorHost:
		return fmt.Sprintf("GCS_STORAGE_MODE=%q needs STORAGE_EMULATOR_HOST", ModeEmulator)
	case ConfigErrorInvalidEmulatorHost:
		return fmt.Sprintf("STORAGE_EMULATOR_HOST=%q is not an absolute URL (e.g. http://fake-gcs:4443)", e.Value)
	}
	return "invalid gcs config"
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// ConfigFromEnv reads GCS_BUCKET_NAME, GCS_STORAGE_MODE, STORAGE_EMULATOR_HOST
// and GOOGLE_APPLICATION_CREDENTIALS(_JSON). A bare emulator host with no
// explicit mode selects the emulator.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Bucket:       strings.TrimSpace(os.Getenv("GCS_BUCKET_NAME")),
		EmulatorHost: strings.TrimRight(strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")), "/"),
		Credentials:  strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON")),
	}
	if cfg.Credentials == "" {
		cfg.Credentials = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	raw := strings.TrimSpace(os.Getenv("GCS_STORAGE_MODE"))
	cfg.Mode = Mode(strings.ToLower(raw))
	if cfg.Mode == "" {
		cfg.Mode = ModeGCS
		if cfg.EmulatorHost != "" {
			cfg.Mode, cfg.inferred = ModeEmulator, true
		}
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("GCS_BUCKET_NAME: %w", objectstore.ErrNoBucket)
	}
	switch c.Mode {
	case ModeGCS:
		return nil
	case ModeEmulator:
	default:
		return &ConfigError{Code: ConfigErrorInvalidMode, Value: string(c.Mode)}
	}
	if c.EmulatorHost == "" {
		return &ConfigError{Code: ConfigErrorMissingEmulatorHost}
	}
	u, err := url.Parse(c.EmulatorHost)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigError{Code: ConfigErrorInvalidEmulatorHost, Value: c.EmulatorHost, Cause: err}
	}
	return nil
}

// ModeSource is logged at startup so an accidental emulator fallback shows.
func (c Config) ModeSource() string {
	if c.inferred {
		return "inferred_from_emulator_host"
	}
	return "explicit_or_default"
}

func (c Config) clientOptions() []option.ClientOption {
	if c.Mode == ModeEmulator {
		return []option.ClientOption{option.WithoutAuthentication()}
	}
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	switch {
	case c.Credentials == "":
	case strings.HasPrefix(c.Credentials, "{"):
		opts = append(opts, option.WithCredentialsJSON([]byte(c.Credentials)))
	default:
		opts = append(opts, option.WithCredentialsFile(c.Credentials))
	}
	return opts
}

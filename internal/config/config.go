package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Database
	SQLiteDBPath string `envconfig:"SQLITE_DB_PATH" default:"./data/snapspend.db"`

	// Cloud replica
	CloudBackend             string `envconfig:"CLOUD_BACKEND" default:"memory"`
	FirestoreProjectID       string `envconfig:"FIRESTORE_PROJECT_ID"`
	FirestoreCredentialsFile string `envconfig:"FIRESTORE_CREDENTIALS_FILE"`
	FirestoreCredentialsJSON string `envconfig:"FIRESTORE_CREDENTIALS_JSON"`

	// AMQP job queue
	AMQPURL        string `envconfig:"AMQP_URL"`
	AMQPExchange   string `envconfig:"AMQP_EXCHANGE" default:"snapspend"`
	AMQPQueue      string `envconfig:"AMQP_QUEUE" default:"snapspend_jobs"`
	JobMaxAttempts int    `envconfig:"JOB_MAX_ATTEMPTS" default:"5"`

	// Identity of the user on this device
	UserID   string `envconfig:"USER_ID"`
	UserName string `envconfig:"USER_NAME"`

	// Enrichment
	GeocodingAPIKey  string        `envconfig:"GEOCODING_API_KEY"`
	DeviceLatitude   *float64      `envconfig:"DEVICE_LATITUDE"`
	DeviceLongitude  *float64      `envconfig:"DEVICE_LONGITUDE"`
	GeocodeCacheSize int           `envconfig:"GEOCODE_CACHE_SIZE" default:"256"`
	GeocodeCacheTTL  time.Duration `envconfig:"GEOCODE_CACHE_TTL" default:"24h"`
	EnrichSweep      time.Duration `envconfig:"ENRICH_SWEEP_INTERVAL" default:"5m"`

	// Push outbox
	PushPollInterval time.Duration `envconfig:"PUSH_POLL_INTERVAL" default:"10s"`
	PushBatchSize    int           `envconfig:"PUSH_BATCH_SIZE" default:"10"`
	PushMaxRetries   int           `envconfig:"PUSH_MAX_RETRIES" default:"5"`

	// Budget alerts
	AlertInterval  time.Duration `envconfig:"ALERT_INTERVAL" default:"24h"`
	AlertThreshold float64       `envconfig:"ALERT_THRESHOLD" default:"0.9"`

	// Observability
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"text"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process config: %w", err)
	}
	return &cfg, nil
}

// HasDeviceLocation reports whether a fixed device position is configured.
func (c *Config) HasDeviceLocation() bool {
	return c.DeviceLatitude != nil && c.DeviceLongitude != nil
}

// HasIdentity reports whether the device user is known.
func (c *Config) HasIdentity() bool {
	return strings.TrimSpace(c.UserID) != "" && strings.TrimSpace(c.UserName) != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate SQLite configuration
	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	// Validate cloud backend
	validBackends := []string{"memory", "firestore"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.CloudBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid cloud backend '%s': must be one of %v", c.CloudBackend, validBackends))
	}

	if c.CloudBackend == "firestore" {
		if c.FirestoreProjectID == "" {
			errors = append(errors, "Firestore project ID is required when using firestore backend")
		}
		if c.FirestoreCredentialsFile != "" {
			if _, err := os.Stat(c.FirestoreCredentialsFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Firestore credentials file does not exist: %s", c.FirestoreCredentialsFile))
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}
	if c.JobMaxAttempts < 1 {
		errors = append(errors, fmt.Sprintf("invalid job max attempts %d: must be at least 1", c.JobMaxAttempts))
	}

	// Validate device position
	if (c.DeviceLatitude == nil) != (c.DeviceLongitude == nil) {
		errors = append(errors, "DEVICE_LATITUDE and DEVICE_LONGITUDE must be set together")
	}
	if c.DeviceLatitude != nil && (*c.DeviceLatitude < -90 || *c.DeviceLatitude > 90) {
		errors = append(errors, fmt.Sprintf("invalid device latitude %v: must be between -90 and 90", *c.DeviceLatitude))
	}
	if c.DeviceLongitude != nil && (*c.DeviceLongitude < -180 || *c.DeviceLongitude > 180) {
		errors = append(errors, fmt.Sprintf("invalid device longitude %v: must be between -180 and 180", *c.DeviceLongitude))
	}
	if c.GeocodeCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid geocode cache size %d: must be at least 1", c.GeocodeCacheSize))
	}

	// Validate push outbox
	if c.PushBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid push batch size %d: must be at least 1", c.PushBatchSize))
	} else if c.PushBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid push batch size %d: must be at most 1000", c.PushBatchSize))
	}
	if c.PushPollInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid push poll interval %v: must be at least 1 second", c.PushPollInterval))
	}
	if c.PushMaxRetries < 1 {
		errors = append(errors, fmt.Sprintf("invalid push max retries %d: must be at least 1", c.PushMaxRetries))
	}

	// Validate alerts
	if c.AlertThreshold <= 0 || c.AlertThreshold > 1 {
		errors = append(errors, fmt.Sprintf("invalid alert threshold %v: must be in (0, 1]", c.AlertThreshold))
	}
	if c.AlertInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid alert interval %v: must be at least 1 minute", c.AlertInterval))
	}
	if c.EnrichSweep < time.Second {
		errors = append(errors, fmt.Sprintf("invalid enrichment sweep interval %v: must be at least 1 second", c.EnrichSweep))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	StoreSQLite = "sqlite"
	StoreFile   = "file"
	StoreMemory = "memory"
)

type Config struct {
	// HTTP server
	Port string

	// Logging
	LogLevel  string
	LogFormat string

	// Document store
	Store        string
	DBPath       string
	SnapshotPath string

	// AMQP change feed, disabled when AMQPURL is empty
	AMQPURL      string
	AMQPExchange string

	// Backups, disabled unless bucket and keys are set
	S3Endpoint       string
	S3Bucket         string
	S3Region         string
	S3AccessKey      string
	S3SecretKey      string
	S3Prefix         string
	BackupPassphrase string
	BackupInterval   time.Duration
	BackupRetain     int
}

func Load() *Config {
	return &Config{
		Port: getEnv("LARDER_PORT", "8080"),

		LogLevel:  getEnv("LARDER_LOG_LEVEL", "info"),
		LogFormat: getEnv("LARDER_LOG_FORMAT", "text"),

		Store:        getEnv("LARDER_STORE", StoreSQLite),
		DBPath:       getEnv("LARDER_DB_PATH", "./data/larder.db"),
		SnapshotPath: getEnv("LARDER_SNAPSHOT_PATH", "./data/larder.json"),

		AMQPURL:      getEnv("LARDER_AMQP_URL", ""),
		AMQPExchange: getEnv("LARDER_AMQP_EXCHANGE", "larder.changes"),

		S3Endpoint:       getEnv("LARDER_S3_ENDPOINT", ""),
		S3Bucket:         getEnv("LARDER_S3_BUCKET", ""),
		S3Region:         getEnv("LARDER_S3_REGION", "us-east-1"),
		S3AccessKey:      getEnv("LARDER_S3_ACCESS_KEY", ""),
		S3SecretKey:      getEnv("LARDER_S3_SECRET_KEY", ""),
		S3Prefix:         getEnv("LARDER_S3_PREFIX", "larder/"),
		BackupPassphrase: getEnv("LARDER_BACKUP_PASSPHRASE", ""),
		BackupInterval:   getEnvDuration("LARDER_BACKUP_INTERVAL", 0),
		BackupRetain:     getEnvInt("LARDER_BACKUP_RETAIN", 7),
	}
}

// BackupEnabled reports whether enough S3 settings are present to upload.
func (c *Config) BackupEnabled() bool {
	return c.S3Bucket != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validFormats := []string{"text", "json"}
	if !slices.Contains(validFormats, strings.ToLower(c.LogFormat)) {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be one of %v", c.LogFormat, validFormats))
	}

	validStores := []string{StoreSQLite, StoreFile, StoreMemory}
	if !slices.Contains(validStores, c.Store) {
		errors = append(errors, fmt.Sprintf("invalid store '%s': must be one of %v", c.Store, validStores))
	}
	if c.Store == StoreSQLite && c.DBPath == "" {
		errors = append(errors, "database path cannot be empty when using sqlite store")
	}
	if c.Store == StoreFile && c.SnapshotPath == "" {
		errors = append(errors, "snapshot path cannot be empty when using file store")
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if c.S3Endpoint != "" {
		if parsedURL, err := url.Parse(c.S3Endpoint); err != nil || parsedURL.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid S3 endpoint '%s': must be an absolute URL", c.S3Endpoint))
		}
	}
	if c.BackupInterval < 0 {
		errors = append(errors, fmt.Sprintf("invalid backup interval %v: must not be negative", c.BackupInterval))
	} else if c.BackupInterval > 0 {
		if c.BackupInterval < time.Minute {
			errors = append(errors, fmt.Sprintf("invalid backup interval %v: must be at least 1 minute", c.BackupInterval))
		}
		if !c.BackupEnabled() {
			errors = append(errors, "scheduled backups need LARDER_S3_BUCKET, LARDER_S3_ACCESS_KEY and LARDER_S3_SECRET_KEY")
		}
		if c.BackupPassphrase == "" {
			errors = append(errors, "scheduled backups need LARDER_BACKUP_PASSPHRASE")
		}
	}
	if c.BackupRetain < 1 {
		errors = append(errors, fmt.Sprintf("invalid backup retention %d: must be at least 1", c.BackupRetain))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

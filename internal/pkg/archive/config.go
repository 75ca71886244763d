package archive

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/PalmLedger/internal/pkg/env"
)

// Config holds the S3 settings of the webhook payload archive
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Enabled         bool
}

// LoadConfig loads the archive configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Enabled:         env.GetEnvBool("S3_ARCHIVE_ENABLED", false),
	}

	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when the archive is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when the archive is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when the archive is enabled")
		}
	}

	return config, nil
}

// ObjectKey returns the key of an archived webhook payload.
func ObjectKey(eventID string, created time.Time) string {
	// Format: webhooks/YYYY/MM/<eventId>.json
	created = created.UTC()
	return fmt.Sprintf("webhooks/%04d/%02d/%s.json", created.Year(), int(created.Month()), eventID)
}

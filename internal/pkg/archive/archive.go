package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archive uploads verified webhook payloads to S3
type Archive struct {
	client objectPutter
	bucket string
}

// New creates an archive for an enabled config
func New(ctx context.Context, cfg *Config) (*Archive, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("webhook archive is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			// S3-compatible stores (MinIO, B2) need path-style URLs
			o.UsePathStyle = true
		}
	})

	log.Infof("[Archive] Webhook payloads go to bucket %s", cfg.BucketName)
	return &Archive{client: client, bucket: cfg.BucketName}, nil
}

// Archive stores one payload under webhooks/YYYY/MM/<eventId>.json
func (a *Archive) Archive(ctx context.Context, eventID string, created time.Time, payload []byte) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	key := ObjectKey(eventID, created)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		ContentType:   aws.String("application/json"),
		Metadata: map[string]string{
			"event-id": eventID,
		},
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

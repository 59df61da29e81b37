// Package storage reads the cold object store that cooled project data is copied to.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	lifecycleapp "github.com/labdata/backend/internal/application/lifecycle"
	infraconfig "github.com/labdata/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Ensure S3Inventory implements lifecycle.Inventory
var _ lifecycleapp.Inventory = (*S3Inventory)(nil)

// S3Inventory counts the objects stored for a project under the cold bucket.
// It works with any S3-compatible storage (AWS S3, RustFS, MinIO, etc.)
type S3Inventory struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// S3InventoryOption is a functional option for configuring S3Inventory
type S3InventoryOption func(*S3Inventory)

// WithLogger sets a custom logger for S3Inventory
func WithLogger(logger *zap.Logger) S3InventoryOption {
	return func(s *S3Inventory) {
		s.logger = logger
	}
}

// NewS3Inventory creates a new S3Inventory from configuration
func NewS3Inventory(cfg *infraconfig.StorageConfig, opts ...S3InventoryOption) (*S3Inventory, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("storage access key is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("storage secret key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	if endpoint != "" {
		if _, err := url.Parse(endpoint); err != nil {
			return nil, fmt.Errorf("invalid storage endpoint: %w", err)
		}
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	inventory := &S3Inventory{
		client: client,
		bucket: cfg.Bucket,
		prefix: normalizePrefix(cfg.Prefix),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(inventory)
	}
	return inventory, nil
}

// Summarize sums object sizes and counts objects under <prefix><slug>/
func (s *S3Inventory) Summarize(ctx context.Context, projectSlug string) (lifecycleapp.InventorySummary, error) {
	if projectSlug == "" {
		return lifecycleapp.InventorySummary{}, errors.New("project slug is required")
	}

	keyPrefix := s.ProjectPrefix(projectSlug)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(keyPrefix),
	})

	var summary lifecycleapp.InventorySummary
	pages := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return lifecycleapp.InventorySummary{}, fmt.Errorf("failed to list objects under %q: %w", keyPrefix, err)
		}
		pages++
		for _, obj := range page.Contents {
			// Directory markers are not data
			if strings.HasSuffix(aws.ToString(obj.Key), "/") {
				continue
			}
			summary.Bytes += aws.ToInt64(obj.Size)
			summary.Files++
		}
	}

	s.logger.Debug("Summarized cold storage",
		zap.String("bucket", s.bucket),
		zap.String("prefix", keyPrefix),
		zap.Int("pages", pages),
		zap.Int64("bytes", summary.Bytes),
		zap.Int64("files", summary.Files),
	)
	return summary, nil
}

// ProjectPrefix returns the key prefix holding a project's cooled objects
func (s *S3Inventory) ProjectPrefix(projectSlug string) string {
	return s.prefix + projectSlug + "/"
}

// GetBucket returns the bucket name
func (s *S3Inventory) GetBucket() string {
	return s.bucket
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// Package archive copies completed generations to object storage so images
// outlive the cache entry that produced them.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/blueberrycongee/genmux/pkg/types"
)

// Config contains configuration for the S3 archive.
type Config struct {
	Enabled     bool          `yaml:"enabled"`
	Bucket      string        `yaml:"bucket"`
	Region      string        `yaml:"region"`
	AccessKeyID string        `yaml:"access_key_id"` // optional, default credential chain when empty
	SecretKey   string        `yaml:"secret_key"`
	Endpoint    string        `yaml:"endpoint"` // custom endpoint (MinIO, etc.), path-style
	Prefix      string        `yaml:"prefix"`
	Timeout     time.Duration `yaml:"timeout"`
}

// S3 writes images to a bucket keyed by fingerprint.
type S3 struct {
	client  *s3.Client
	bucket  string
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// New creates an S3 archive from cfg.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	a := NewFromClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket, cfg.Prefix, logger)
	if cfg.Timeout > 0 {
		a.timeout = cfg.Timeout
	}
	return a, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *s3.Client, bucket, prefix string, logger *slog.Logger) *S3 {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		timeout: 30 * time.Second,
		logger:  logger,
	}
}

// Key returns the object key for a fingerprint. Keys fan out on the first
// two characters of the fingerprint.
func (a *S3) Key(fingerprint, format string) string {
	shard := fingerprint
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return path.Join(a.prefix, shard, fingerprint+"."+extension(format))
}

// Archive uploads the image with its provenance as object metadata.
func (a *S3) Archive(ctx context.Context, fingerprint string, payload *types.Payload, meta types.ResultMetadata) error {
	if payload == nil || len(payload.Image) == 0 {
		return fmt.Errorf("archive: empty payload")
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	key := a.Key(fingerprint, payload.Format)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload.Image),
		ContentLength: aws.Int64(int64(len(payload.Image))),
		ContentType:   aws.String("image/" + payload.Format),
		Metadata: map[string]string{
			"provider":      meta.Provider,
			"model":         meta.ModelID,
			"quality-score": strconv.FormatFloat(meta.QualityScore, 'f', 3, 64),
			"width":         strconv.Itoa(payload.Width),
			"height":        strconv.Itoa(payload.Height),
		},
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	a.logger.Debug("generation archived", "bucket", a.bucket, "key", key)
	return nil
}

func extension(format string) string {
	if format == "jpeg" {
		return "jpg"
	}
	if format == "" {
		return "png"
	}
	return format
}

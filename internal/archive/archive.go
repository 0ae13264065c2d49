// Package archive moves closed-out security events to S3 as compressed
// JSONL batches. Events stay queryable in ClickHouse for the retention
// window; after that the archive is the system of record for them.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"threatwatch/internal/schema"
)

// Config holds S3 archival settings.
type Config struct {
	Enabled bool `yaml:"enabled"`

	Region string `yaml:"region"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`

	// Endpoint is an optional custom endpoint for S3-compatible storage.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Static credentials, optional. IAM is used when unset.
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`

	StorageClass string `yaml:"storage_class"`

	// UsePathStyle forces path-style addressing (MinIO, LocalStack).
	UsePathStyle bool `yaml:"use_path_style"`

	RetryMaxAttempts int `yaml:"retry_max_attempts"`

	// Retention is how long terminal events stay in ClickHouse before
	// they are eligible for archival.
	Retention time.Duration `yaml:"retention"`

	// Interval between archival sweeps.
	Interval time.Duration `yaml:"interval"`

	// BatchSize is the maximum events per archive object.
	BatchSize int `yaml:"batch_size"`

	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the default archival configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:          false,
		Region:           "us-east-1",
		Bucket:           "threatwatch-archive",
		Prefix:           "events/",
		StorageClass:     "INTELLIGENT_TIERING",
		RetryMaxAttempts: 3,
		Retention:        90 * 24 * time.Hour,
		Interval:         6 * time.Hour,
		BatchSize:        1000,
		Timeout:          5 * time.Minute,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Region == "" {
		return errors.New("archive: region is required")
	}
	if c.Bucket == "" {
		return errors.New("archive: bucket is required")
	}
	if c.Retention <= 0 {
		return errors.New("archive: retention must be positive")
	}
	return nil
}

func (c Config) storageClass() types.StorageClass {
	switch strings.ToUpper(c.StorageClass) {
	case "STANDARD":
		return types.StorageClassStandard
	case "STANDARD_IA":
		return types.StorageClassStandardIa
	case "INTELLIGENT_TIERING":
		return types.StorageClassIntelligentTiering
	case "GLACIER":
		return types.StorageClassGlacier
	case "DEEP_ARCHIVE":
		return types.StorageClassDeepArchive
	default:
		return types.StorageClassStandard
	}
}

// EventSource is the slice of the event store the archiver works on.
// Archived events are deleted from the source so each sweep only sees
// what is still waiting.
type EventSource interface {
	QueryEvents(ctx context.Context, filter schema.EventFilter, limit, offset int) ([]*schema.SecurityEvent, int, error)
	DeleteEvents(ctx context.Context, ids []uuid.UUID) error
}

// uploader is the slice of the S3 API the archiver uses.
type uploader interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver sweeps terminal events past retention into S3.
type Archiver struct {
	config Config
	s3     uploader
	source EventSource
	now    func() time.Time
}

// NewArchiver creates an archiver with a real S3 client.
func NewArchiver(ctx context.Context, cfg Config, source EventSource) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	if cfg.RetryMaxAttempts > 0 {
		opts = append(opts, awsconfig.WithRetryMaxAttempts(cfg.RetryMaxAttempts))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	slog.Info("archive client initialized",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"retention", cfg.Retention,
	)

	return &Archiver{
		config: cfg,
		s3:     s3.NewFromConfig(awsCfg, s3Opts...),
		source: source,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run sweeps on the configured interval until the context is canceled.
// Sweep failures are logged; the next tick retries.
func (a *Archiver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if count, err := a.Sweep(ctx); err != nil {
				slog.Error("archive sweep failed", "error", err)
			} else if count > 0 {
				slog.Info("archive sweep complete", "archived", count)
			}
		}
	}
}

// Sweep archives all terminal events older than the retention cutoff,
// one batch per object, deleting each batch from the source once its
// upload succeeds. It returns how many events were archived. A batch
// that uploads but fails to delete is reported as an error; the next
// sweep re-uploads it rather than losing it.
func (a *Archiver) Sweep(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	now := a.now()
	filter := schema.EventFilter{
		Statuses: []schema.EventStatus{schema.StatusResolved, schema.StatusFalsePositive},
		To:       now.Add(-a.config.Retention),
	}

	archived := 0
	for batch := 0; ; batch++ {
		// Always offset 0: archived batches are deleted, so the next
		// query sees only what is still waiting.
		events, _, err := a.source.QueryEvents(ctx, filter, a.config.BatchSize, 0)
		if err != nil {
			return archived, fmt.Errorf("archive: failed to query events: %w", err)
		}
		if len(events) == 0 {
			return archived, nil
		}

		if err := a.archiveBatch(ctx, events, now, batch); err != nil {
			return archived, err
		}
		archived += len(events)

		if len(events) < a.config.BatchSize {
			return archived, nil
		}
	}
}

// archiveBatch uploads one batch and purges it from the source.
func (a *Archiver) archiveBatch(ctx context.Context, events []*schema.SecurityEvent, now time.Time, batch int) error {
	body, err := encodeBatch(events)
	if err != nil {
		return err
	}

	key := a.config.Prefix + objectKey(now, batch)
	_, err = a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(a.config.Bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(body),
		ContentType:  aws.String("application/gzip"),
		StorageClass: a.config.storageClass(),
	})
	if err != nil {
		return fmt.Errorf("archive: failed to upload %s: %w", key, err)
	}

	ids := make([]uuid.UUID, len(events))
	for i, event := range events {
		ids[i] = event.ID
	}
	if err := a.source.DeleteEvents(ctx, ids); err != nil {
		return fmt.Errorf("archive: uploaded %s but failed to purge source: %w", key, err)
	}

	slog.Debug("archived batch", "key", key, "events", len(events))
	return nil
}

// objectKey partitions archive objects by sweep day.
func objectKey(now time.Time, batch int) string {
	return fmt.Sprintf("%04d/%02d/%02d/batch-%d-%d.jsonl.gz",
		now.Year(), now.Month(), now.Day(), now.UnixNano(), batch)
}

// encodeBatch serializes events as gzip-compressed JSONL.
func encodeBatch(events []*schema.SecurityEvent) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)

	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			return nil, fmt.Errorf("archive: failed to encode event %s: %w", event.ID, err)
		}
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("archive: failed to compress batch: %w", err)
	}
	return buf.Bytes(), nil
}

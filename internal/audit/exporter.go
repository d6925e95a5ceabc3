package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsCreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/lychee-technology/extid"
	"go.uber.org/zap"
)

// MappingSource is anything that can walk the ledger in creation order.
type MappingSource interface {
	Scan(ctx context.Context, fn func(*extid.IdentifierMapping) error) error
}

type bucketAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type uploadAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Record is one line of an audit snapshot.
type Record struct {
	RunID      string                   `json:"runId"`
	ExportedAt time.Time                `json:"exportedAt"`
	Mapping    *extid.IdentifierMapping `json:"mapping"`
}

// Result describes a finished export.
type Result struct {
	RunID      string    `json:"runId"`
	Bucket     string    `json:"bucket"`
	Key        string    `json:"key"`
	Count      int       `json:"count"`
	Bytes      int       `json:"bytes"`
	ExportedAt time.Time `json:"exportedAt"`
}

// Exporter writes JSON-lines snapshots of the ledger to S3. Objects are uploaded under a
// _tmp key first and copied into place, so readers never observe a partial snapshot.
type Exporter struct {
	buckets  bucketAPI
	uploader uploadAPI
	bucket   string
	prefix   string
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// LoadAWSConfig builds an AWS config from the audit settings. Static credentials win over
// the default chain; a custom endpoint (MinIO, RustFS) is applied as the base endpoint.
func LoadAWSConfig(ctx context.Context, cfg extid.AuditConfig) (aws.Config, error) {
	loadOpts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			awsCreds.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	if cfg.Endpoint != "" {
		loadOpts = append(loadOpts, config.WithBaseEndpoint(cfg.Endpoint))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// NewS3Client creates the S3 client used by the exporter.
func NewS3Client(awsCfg aws.Config, cfg extid.AuditConfig) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})
}

func NewExporter(client *s3.Client, cfg extid.AuditConfig, logger *zap.Logger) *Exporter {
	return newExporter(client, manager.NewUploader(client), cfg, logger)
}

func newExporter(buckets bucketAPI, uploader uploadAPI, cfg extid.AuditConfig, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.L()
	}
	return &Exporter{
		buckets:  buckets,
		uploader: uploader,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

func (e *Exporter) objectKey(parts ...string) string {
	if e.prefix == "" {
		return strings.Join(parts, "/")
	}
	return e.prefix + "/" + strings.Join(parts, "/")
}

// Encode renders every mapping in src as JSON lines and returns the buffer and entry count.
func Encode(ctx context.Context, src MappingSource, runID string, exportedAt time.Time) (*bytes.Buffer, int, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	count := 0
	err := src.Scan(ctx, func(m *extid.IdentifierMapping) error {
		count++
		return enc.Encode(Record{RunID: runID, ExportedAt: exportedAt, Mapping: m})
	})
	if err != nil {
		return nil, 0, fmt.Errorf("encode snapshot: %w", err)
	}
	return &buf, count, nil
}

// Export uploads one snapshot of src.
func (e *Exporter) Export(ctx context.Context, src MappingSource) (*Result, error) {
	if e.bucket == "" {
		return nil, fmt.Errorf("audit bucket not configured")
	}
	runID := e.newID()
	exportedAt := e.now().UTC()

	buf, count, err := Encode(ctx, src, runID, exportedAt)
	if err != nil {
		return nil, err
	}
	size := buf.Len()

	if err := e.ensureBucket(ctx); err != nil {
		return nil, err
	}

	tmpKey := e.objectKey("_tmp", runID+".jsonl")
	finalKey := e.objectKey(exportedAt.Format("2006/01/02"), runID+".jsonl")

	if _, err := e.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(tmpKey),
		Body:        buf,
		ContentType: aws.String("application/x-ndjson"),
	}); err != nil {
		return nil, fmt.Errorf("s3 upload: %w", err)
	}

	if _, err := e.buckets.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(e.bucket),
		CopySource: aws.String(e.bucket + "/" + tmpKey),
		Key:        aws.String(finalKey),
	}); err != nil {
		return nil, fmt.Errorf("s3 copy tmp->final: %w", err)
	}
	if _, err := e.buckets.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(tmpKey),
	}); err != nil {
		e.logger.Sugar().Warnw("failed to delete tmp snapshot", "key", tmpKey, "err", err)
	}

	e.logger.Sugar().Infow("audit snapshot exported",
		"run_id", runID, "bucket", e.bucket, "key", finalKey, "entries", count, "bytes", size)
	return &Result{
		RunID:      runID,
		Bucket:     e.bucket,
		Key:        finalKey,
		Count:      count,
		Bytes:      size,
		ExportedAt: exportedAt,
	}, nil
}

func (e *Exporter) ensureBucket(ctx context.Context) error {
	if _, err := e.buckets.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(e.bucket)}); err == nil {
		return nil
	}
	if _, err := e.buckets.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(e.bucket)}); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			code := apiErr.ErrorCode()
			if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
				return nil
			}
		}
		return fmt.Errorf("create bucket: %w", err)
	}
	e.logger.Sugar().Infow("created audit bucket", "bucket", e.bucket)
	return nil
}

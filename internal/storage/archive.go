// Package storage archives crawl artifacts. Each archive is a zstd-framed
// JSON document stored under crawls/<siteID>/<reportID>.json.zst.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"seopulse/internal/codec"
	"seopulse/internal/types"
)

// ReportArchive stores and loads crawl artifacts.
type ReportArchive interface {
	Put(ctx context.Context, siteID, reportID string, doc any) (key string, err error)
	Get(ctx context.Context, key string, into any) error
}

// S3API is the subset of *s3.Client used by S3ReportArchive.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3ReportArchive implements ReportArchive on one bucket.
type S3ReportArchive struct {
	client S3API
	bucket string
	logger *slog.Logger
}

// NewS3ReportArchive creates an S3ReportArchive.
func NewS3ReportArchive(client S3API, bucket string, logger *slog.Logger) *S3ReportArchive {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3ReportArchive{client: client, bucket: bucket, logger: logger}
}

// ReportKey returns the object key of a crawl artifact.
func ReportKey(siteID, reportID string) string {
	return fmt.Sprintf("crawls/%s/%s.json.zst", siteID, reportID)
}

func (a *S3ReportArchive) Put(ctx context.Context, siteID, reportID string, doc any) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalStorage, "failed to encode crawl artifact", err)
	}
	body := codec.Compress(raw)
	key := ReportKey(siteID, reportID)

	if _, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentLength:   aws.Int64(int64(len(body))),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("zstd"),
		Metadata:        map[string]string{"site-id": siteID, "report-id": reportID},
	}); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalStorage, fmt.Sprintf("failed to upload %s", key), err)
	}
	a.logger.InfoContext(ctx, "crawl artifact archived",
		"key", key,
		"raw_bytes", len(raw),
		"stored_bytes", len(body),
	)
	return key, nil
}

func (a *S3ReportArchive) Get(ctx context.Context, key string, into any) error {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *s3types.NoSuchKey
		if errors.As(err, &missing) {
			return types.NewAppError(types.ErrCodeNotFoundReport, fmt.Sprintf("artifact %s not found", key), err)
		}
		return types.NewAppError(types.ErrCodeInternalStorage, fmt.Sprintf("failed to download %s", key), err)
	}
	defer out.Body.Close()

	packed, err := io.ReadAll(out.Body)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStorage, "failed to read artifact body", err)
	}
	raw, err := codec.Decompress(packed)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStorage, "failed to decompress artifact", err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return types.NewAppError(types.ErrCodeInternalStorage, "failed to decode artifact", err)
	}
	return nil
}

var _ ReportArchive = (*S3ReportArchive)(nil)

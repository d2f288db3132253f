// Package objectstore archives finished yearly datasets to S3-compatible storage.
package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/couchcryptid/nfirs-geocode-etl/internal/config"
)

const csvContentType = "text/csv"

// bucketClient is the subset of *minio.Client the archiver uses.
type bucketClient interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archiver uploads geocoded datasets to a bucket.
// It implements pipeline.Archiver.
type Archiver struct {
	client bucketClient
	bucket string
	logger *slog.Logger
}

// NewArchiver creates a MinIO client for the configured endpoint. The bucket is created
// on first upload if missing.
func NewArchiver(cfg *config.Config, logger *slog.Logger) (*Archiver, error) {
	cli, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Archiver{client: cli, bucket: cfg.MinioBucket, logger: logger}, nil
}

// ObjectKey is where a year's geocoded dataset is stored.
func ObjectKey(year int) string {
	return path.Join("nfirs", fmt.Sprintf("geocoded_addresses_%d.csv", year))
}

// ArchiveYear uploads the dataset at filePath, replacing any earlier copy.
func (a *Archiver) ArchiveYear(ctx context.Context, year int, filePath string) error {
	if err := a.ensureBucket(ctx); err != nil {
		return err
	}

	key := ObjectKey(year)
	info, err := a.client.FPutObject(ctx, a.bucket, key, filePath, minio.PutObjectOptions{
		ContentType:  csvContentType,
		UserMetadata: map[string]string{"year": fmt.Sprint(year)},
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	a.logger.Info("geocoded dataset archived", "year", year, "bucket", a.bucket, "key", key, "bytes", info.Size)
	return nil
}

func (a *Archiver) ensureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	a.logger.Info("bucket created", "bucket", a.bucket)
	return nil
}

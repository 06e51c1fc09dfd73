package mio

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string

	Attempts int
	Backoff  time.Duration
	MaxWait  time.Duration
}

// Connect creates the archive client and makes sure the bucket exists,
// retrying with exponential backoff while MinIO is still starting up.
func Connect(ctx context.Context, cfg Config) (*minio.Client, error) {
	switch {
	case cfg.Endpoint == "":
		return nil, fmt.Errorf("minio: empty endpoint")
	case cfg.Bucket == "":
		return nil, fmt.Errorf("minio: empty bucket")
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 30 * time.Second
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: new client: %w", err)
	}

	wait := cfg.Backoff
	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if lastErr = ensureBucket(ctx, client, cfg.Bucket); lastErr == nil {
			return client, nil
		}
		if attempt == cfg.Attempts {
			break
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("minio: waiting for bucket %q: %w", cfg.Bucket, ctx.Err())
		case <-t.C:
		}
		wait = min(wait*2, cfg.MaxWait)
	}

	return nil, fmt.Errorf("minio: bucket %q not ready after %d attempts: %w", cfg.Bucket, cfg.Attempts, lastErr)
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	ok, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if ok {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

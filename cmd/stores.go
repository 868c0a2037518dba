package cmd

import (
	"context"
	"fmt"
	"strings"

	gstorage "cloud.google.com/go/storage"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/quantfold/filingstream/internal/config"
	"github.com/quantfold/filingstream/internal/storage"
	gcsstore "github.com/quantfold/filingstream/internal/storage/gcs"
	localstore "github.com/quantfold/filingstream/internal/storage/local"
	s3store "github.com/quantfold/filingstream/internal/storage/s3"
)

// closeFunc adapts a cleanup function to io.Closer-style release.
type closeFunc func() error

func noClose() error { return nil }

// openStore resolves a locator to an object store backend by scheme:
// gs://bucket/prefix, s3://bucket/prefix, or a local directory path. The
// returned closeFunc releases any backing client and must be called after
// the store's last use.
func openStore(ctx context.Context, cfg config.StorageConfig, locator string) (storage.Store, closeFunc, error) {
	switch {
	case strings.HasPrefix(locator, "gs://"):
		bucket, prefix, ok := storage.SplitBucketLocator(locator, "gs://")
		if !ok {
			return nil, nil, fmt.Errorf("invalid GCS locator %q", locator)
		}
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create GCS client: %w", err)
		}
		store, err := gcsstore.New(client, bucket, prefix)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, client.Close, nil

	case strings.HasPrefix(locator, "s3://"):
		bucket, prefix, ok := storage.SplitBucketLocator(locator, "s3://")
		if !ok {
			return nil, nil, fmt.Errorf("invalid S3 locator %q", locator)
		}
		creds := credentials.NewEnvAWS()
		if cfg.S3AccessKey != "" {
			creds = credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, "")
		}
		client, err := minio.New(cfg.S3Endpoint, &minio.Options{
			Creds:  creds,
			Secure: cfg.S3Secure,
			Region: cfg.S3Region,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create S3 client: %w", err)
		}
		store, err := s3store.New(client, bucket, prefix)
		if err != nil {
			return nil, nil, err
		}
		return store, noClose, nil

	default:
		store, err := localstore.New(locator)
		if err != nil {
			return nil, nil, fmt.Errorf("open local store at %q: %w", locator, err)
		}
		return store, noClose, nil
	}
}

// openObjectStore resolves a locator naming a single object into a store
// rooted at its parent prefix plus the object key within it.
func openObjectStore(ctx context.Context, cfg config.StorageConfig, locator string) (storage.Store, string, closeFunc, error) {
	dir, key := storage.SplitObjectLocator(locator)
	if key == "" {
		return nil, "", nil, fmt.Errorf("locator %q does not name an object", locator)
	}
	store, closer, err := openStore(ctx, cfg, dir)
	if err != nil {
		return nil, "", nil, err
	}
	return store, key, closer, nil
}

package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// BackendType selects which artifact backend NewStoreFromEnv constructs.
type BackendType string

const (
	BackendFS  BackendType = "fs"
	BackendS3  BackendType = "s3"
	BackendGCS BackendType = "gcs"
)

// NewStoreFromEnv builds a Store from environment configuration.
//
//	ARTIFACT_STORAGE_BACKEND: "fs" (default), "s3", or "gcs"
//	DATA_DIR: base directory for the fs backend (default "data")
//	ARTIFACT_S3_BUCKET, ARTIFACT_S3_REGION, ARTIFACT_S3_ENDPOINT, ARTIFACT_S3_PREFIX
//	ARTIFACT_GCS_BUCKET, ARTIFACT_GCS_PREFIX (gcs backend requires the gcp build tag)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	backend := BackendType(os.Getenv("ARTIFACT_STORAGE_BACKEND"))
	if backend == "" {
		backend = BackendFS
	}

	switch backend {
	case BackendFS:
		return newFileStoreFromEnv()
	case BackendS3:
		return newS3StoreFromEnv(ctx)
	case BackendGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("artifacts: unsupported backend %q", backend)
	}
}

func newFileStoreFromEnv() (Store, error) {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	return NewFileStore(filepath.Join(dataDir, "artifacts"))
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("ARTIFACT_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("artifacts: ARTIFACT_S3_BUCKET is required for the s3 backend")
	}
	region := os.Getenv("ARTIFACT_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	return NewS3Store(ctx, S3StoreConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("ARTIFACT_S3_ENDPOINT"),
		Prefix:   os.Getenv("ARTIFACT_S3_PREFIX"),
	})
}

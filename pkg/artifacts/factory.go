package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// StoreType names a receipt export backend (ARTIFACT_STORAGE_TYPE).
type StoreType string

const (
	StoreTypeNone StoreType = "none"
	StoreTypeFS   StoreType = "fs"
	StoreTypeS3   StoreType = "s3"
	StoreTypeGCS  StoreType = "gcs"
)

var (
	ErrMissingSetting   = errors.New("artifacts: missing setting")
	ErrUnsupportedStore = errors.New("unsupported artifact storage type")
)

// GCSStoreConfig locates receipt objects in a bucket.
type GCSStoreConfig struct {
	Bucket string
	Prefix string
}

// Open returns the receipt export store for kind. StoreTypeNone and the
// empty kind return a nil Store: export is off.
//
// fs writes under dataDir/artifacts. s3 reads ARTIFACT_S3_BUCKET (required),
// ARTIFACT_S3_REGION falling back to AWS_REGION, ARTIFACT_S3_ENDPOINT for
// MinIO or LocalStack, and ARTIFACT_S3_PREFIX. gcs reads ARTIFACT_GCS_BUCKET
// (required) and ARTIFACT_GCS_PREFIX.
func Open(ctx context.Context, kind StoreType, dataDir string) (Store, error) {
	switch kind {
	case "", StoreTypeNone:
		return nil, nil
	case StoreTypeFS, "file":
		return NewFileStore(filepath.Join(dataDir, "artifacts"))
	case StoreTypeS3:
		bucket, err := required("ARTIFACT_S3_BUCKET")
		if err != nil {
			return nil, err
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   bucket,
			Region:   firstSet("us-east-1", "ARTIFACT_S3_REGION", "AWS_REGION"),
			Endpoint: os.Getenv("ARTIFACT_S3_ENDPOINT"),
			Prefix:   os.Getenv("ARTIFACT_S3_PREFIX"),
		})
	case StoreTypeGCS:
		bucket, err := required("ARTIFACT_GCS_BUCKET")
		if err != nil {
			return nil, err
		}
		return openGCS(ctx, GCSStoreConfig{Bucket: bucket, Prefix: os.Getenv("ARTIFACT_GCS_PREFIX")})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedStore, kind)
	}
}

func required(key string) (string, error) {
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s is required", ErrMissingSetting, key)
}

// firstSet returns the first non-empty variable among keys, else fallback.
func firstSet(fallback string, keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return fallback
}

//go:build gcp

package artifacts

import (
	"context"
	"fmt"
)

// openGCS returns an untyped nil Store on error.
func openGCS(ctx context.Context, cfg GCSStoreConfig) (Store, error) {
	gcs, err := NewGCSStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("artifacts: gcs bucket %s: %w", cfg.Bucket, err)
	}
	return gcs, nil
}

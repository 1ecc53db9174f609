//go:build !gcp

package artifacts

import (
	"context"
	"errors"
)

// ErrGCSUnavailable is returned for gcs storage in builds without the gcp tag.
var ErrGCSUnavailable = errors.New("GCS artifact storage not enabled in this build (rebuild with -tags gcp)")

func openGCS(context.Context, GCSStoreConfig) (Store, error) {
	return nil, ErrGCSUnavailable
}

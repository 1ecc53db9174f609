package artifacts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpen_None(t *testing.T) {
	store, err := Open(context.Background(), StoreTypeNone, t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if store != nil {
		t.Fatalf("Expected nil store, got %T", store)
	}
}

func TestOpen_FS(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := Open(context.Background(), StoreTypeFS, tmpDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	fs, ok := store.(*FileStore)
	if !ok {
		t.Fatalf("Expected *FileStore, got %T", store)
	}
	if want := filepath.Join(tmpDir, "artifacts"); fs.Dir() != want {
		t.Errorf("Expected baseDir %s, got %s", want, fs.Dir())
	}
}

func TestOpen_S3MissingBucket(t *testing.T) {
	t.Setenv("ARTIFACT_S3_BUCKET", "")

	_, err := Open(context.Background(), StoreTypeS3, t.TempDir())
	if !errors.Is(err, ErrMissingSetting) || !strings.Contains(err.Error(), "ARTIFACT_S3_BUCKET is required") {
		t.Fatalf("Expected missing bucket error, got: %v", err)
	}
}

func TestOpen_GCSMissingBucket(t *testing.T) {
	t.Setenv("ARTIFACT_GCS_BUCKET", "")

	_, err := Open(context.Background(), StoreTypeGCS, t.TempDir())
	if !errors.Is(err, ErrMissingSetting) || !strings.Contains(err.Error(), "ARTIFACT_GCS_BUCKET is required") {
		t.Fatalf("Expected missing bucket error, got: %v", err)
	}
}

func TestOpen_UnsupportedType(t *testing.T) {
	_, err := Open(context.Background(), "azure", t.TempDir())
	if !errors.Is(err, ErrUnsupportedStore) {
		t.Fatalf("Expected unsupported type error, got: %v", err)
	}
}

func TestFirstSet(t *testing.T) {
	t.Setenv("ARTIFACT_S3_REGION", "")
	t.Setenv("AWS_REGION", "eu-west-1")
	if got := firstSet("us-east-1", "ARTIFACT_S3_REGION", "AWS_REGION"); got != "eu-west-1" {
		t.Errorf("firstSet = %q, want eu-west-1", got)
	}
	t.Setenv("AWS_REGION", "")
	if got := firstSet("us-east-1", "ARTIFACT_S3_REGION", "AWS_REGION"); got != "us-east-1" {
		t.Errorf("firstSet = %q, want fallback", got)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "artifacts"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	ctx := context.Background()
	data := []byte(`{"run_id":"run-1#0"}`)

	ref, err := store.Store(ctx, data)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if ref != Ref(data) || !strings.HasPrefix(ref, "sha256:") {
		t.Errorf("unexpected ref %s", ref)
	}

	again, err := store.Store(ctx, data)
	if err != nil || again != ref {
		t.Fatalf("Store is not idempotent: %s %v", again, err)
	}

	got, err := store.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Expected %q, got %q", data, got)
	}

	ok, err := store.Exists(ctx, ref)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
}

func TestFileStore_Missing(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ref := Ref([]byte("absent"))

	if _, err := store.Get(context.Background(), ref); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	ok, err := store.Exists(context.Background(), ref)
	if err != nil || ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
}

func TestFileStore_DetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	ref, err := store.Store(context.Background(), []byte("original"))
	if err != nil {
		t.Fatal(err)
	}

	raw := strings.TrimPrefix(ref, "sha256:")
	if err := os.WriteFile(filepath.Join(dir, raw+".blob"), []byte("tampered"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(context.Background(), ref); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestFileStore_InvalidRef(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, ref := range []string{"", "md5:abc", "sha256:../../etc/passwd", "sha256:ABC"} {
		if _, err := store.Get(context.Background(), ref); !errors.Is(err, ErrInvalidRef) {
			t.Errorf("Get(%q): expected ErrInvalidRef, got %v", ref, err)
		}
	}
}

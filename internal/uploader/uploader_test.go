package uploader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"planfuzz/internal/config"
)

func TestNewWithoutBackendIsNoop(t *testing.T) {
	up, err := New(config.StorageConfig{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if up.Enabled() {
		t.Fatalf("expected disabled uploader")
	}
	if loc, err := up.UploadDir(context.Background(), t.TempDir()); err != nil || loc != "" {
		t.Fatalf("unexpected noop upload: %q %v", loc, err)
	}
}

func TestDisabledBackendsSkipUpload(t *testing.T) {
	s3up, err := NewS3(config.S3Config{})
	if err != nil {
		t.Fatalf("s3: %v", err)
	}
	if loc, err := s3up.UploadDir(context.Background(), t.TempDir()); err != nil || loc != "" {
		t.Fatalf("expected disabled s3 to skip: %q %v", loc, err)
	}
	gcsUp, err := NewGCS(config.GCSConfig{})
	if err != nil {
		t.Fatalf("gcs: %v", err)
	}
	if gcsUp.Enabled() {
		t.Fatalf("expected disabled gcs")
	}
}

func TestCaseObjects(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "0190-case")
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"summary.json", "bundle.json"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	objects, base, err := caseObjects(dir, "/planfuzz/cases/")
	if err != nil {
		t.Fatalf("objects: %v", err)
	}
	if base != "planfuzz/cases/0190-case/" {
		t.Fatalf("unexpected base %q", base)
	}
	if len(objects) != 2 || objects[0].key != base+"bundle.json" || objects[1].key != base+"summary.json" {
		t.Fatalf("unexpected objects: %+v", objects)
	}
	if _, base, _ := caseObjects(dir, ""); base != "0190-case/" {
		t.Fatalf("unexpected base without prefix %q", base)
	}
}

package uploader

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"planfuzz/internal/config"
)

// Uploader mirrors failure case directories to remote storage.
type Uploader interface {
	Enabled() bool
	UploadDir(ctx context.Context, dir string) (string, error)
}

// NoopUploader is used when no storage backend is configured.
type NoopUploader struct{}

// Enabled implements Uploader.
func (NoopUploader) Enabled() bool {
	return false
}

// UploadDir implements Uploader.
func (NoopUploader) UploadDir(context.Context, string) (string, error) {
	return "", nil
}

// New picks the configured backend. GCS wins when both are enabled.
func New(cfg config.StorageConfig) (Uploader, error) {
	if !cfg.CloudEnabled() {
		return NoopUploader{}, nil
	}
	if cfg.GCS.Enabled {
		return NewGCS(cfg.GCS)
	}
	return NewS3(cfg.S3)
}

// object is one file of a case directory and its remote key.
type object struct {
	path string
	key  string
}

// caseObjects lists the regular files directly under dir with keys of the
// form <prefix>/<case>/<file>, sorted by key.
func caseObjects(dir, prefix string) ([]object, string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", errors.Wrapf(err, "read case dir %s", dir)
	}
	base := keyPrefix(prefix) + filepath.Base(dir) + "/"
	var out []object
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		out = append(out, object{path: filepath.Join(dir, entry.Name()), key: base + entry.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out, base, nil
}

func keyPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Bundle is the unit of work handed to the engine under test. Names and Plans
// correspond positionally.
type Bundle struct {
	SQLDirectory string            `json:"sql_directory"`
	Names        []string          `json:"names"`
	Plans        []json.RawMessage `json:"plans"`
}

// ErrBundleMismatch is returned for bundles whose names and plans differ in length.
var ErrBundleMismatch = errors.New("bundle names and plans differ in length")

// Check verifies the positional contract.
func (b Bundle) Check() error {
	if len(b.Names) != len(b.Plans) {
		return errors.Wrapf(ErrBundleMismatch, "names=%d plans=%d", len(b.Names), len(b.Plans))
	}
	return nil
}

// Encode renders the bundle with four-space indentation.
func (b Bundle) Encode() ([]byte, error) {
	if err := b.Check(); err != nil {
		return nil, err
	}
	if b.Names == nil {
		b.Names = []string{}
		b.Plans = []json.RawMessage{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(b); err != nil {
		return nil, errors.Wrap(err, "encode bundle")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ReadBundle loads a bundle from path.
func ReadBundle(path string) (Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Bundle{}, errors.Wrapf(err, "read bundle %s", path)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return Bundle{}, errors.Wrapf(err, "parse bundle %s", path)
	}
	return b, b.Check()
}

// RebaseBundle writes the bundle at src to dst with sqlDir as its
// sql_directory. Names and plans are carried over unchanged.
func RebaseBundle(src, dst, sqlDir string) error {
	b, err := ReadBundle(src)
	if err != nil {
		return err
	}
	b.SQLDirectory = sqlDir
	data, err := b.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return errors.Wrapf(err, "write bundle %s", dst)
	}
	return nil
}

// QueryStore owns the directory holding per-query SQL files and bundles.
type QueryStore struct {
	Dir string
}

// NewQueryStore creates dir if needed.
func NewQueryStore(dir string) (*QueryStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create query dir %s", dir)
	}
	return &QueryStore{Dir: dir}, nil
}

// SQLPath is where the measurement query for name lives.
func (s *QueryStore) SQLPath(name string) string {
	return filepath.Join(s.Dir, name+".sql")
}

// BundlePath is where the single-query bundle for name lives.
func (s *QueryStore) BundlePath(name string) string {
	return filepath.Join(s.Dir, name+".json")
}

// MultiPath is where a merged bundle with the given id lives.
func (s *QueryStore) MultiPath(id string) string {
	return filepath.Join(s.Dir, fmt.Sprintf("multi_%s.json", id))
}

// WriteSQL persists the query text for name.
func (s *QueryStore) WriteSQL(name, sql string) error {
	if err := os.WriteFile(s.SQLPath(name), []byte(sql), 0o644); err != nil {
		return errors.Wrapf(err, "write query %s", name)
	}
	return nil
}

// WriteBundle persists b at path. The sql_directory field is filled with the
// store's directory when empty.
func (s *QueryStore) WriteBundle(path string, b Bundle) error {
	if b.SQLDirectory == "" {
		b.SQLDirectory = s.Dir
	}
	data, err := b.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write bundle %s", path)
	}
	return nil
}

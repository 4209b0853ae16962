package report

import (
	"archive/tar"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"planfuzz/internal/runinfo"
	"planfuzz/internal/util"
)

const (
	CaseArchiveName  = "case.tar.zst"
	CaseArchiveCodec = "zstd"
	SummaryName      = "summary.json"
	CaseQueriesDir   = "queries"
)

// Reporter writes failure case directories.
type Reporter struct {
	OutputDir string
}

// Case describes a report directory.
type Case struct {
	ID  string
	Dir string
}

// Summary is the persisted metadata for a failing bundle.
type Summary struct {
	CaseID         string         `json:"case_id"`
	CaseDir        string         `json:"case_dir"`
	Bundle         string         `json:"bundle"`
	Names          []string       `json:"names"`
	ExitCode       int            `json:"exit_code"`
	TimedOut       bool           `json:"timed_out"`
	DurationMs     int64          `json:"duration_ms"`
	Failures       []string       `json:"failures"`
	StderrTail     []string       `json:"stderr_tail"`
	Seed           int64          `json:"seed"`
	Cycle          int            `json:"cycle"`
	ArchiveName    string         `json:"archive_name,omitempty"`
	ArchiveCodec   string         `json:"archive_codec,omitempty"`
	UploadLocation string         `json:"upload_location,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	RunInfo        *runinfo.Info  `json:"run_info,omitempty"`
	Timestamp      string         `json:"timestamp"`
}

// New creates a reporter that writes to outputDir.
func New(outputDir string) *Reporter {
	return &Reporter{OutputDir: outputDir}
}

// NewCase allocates a new case directory named by a time-ordered uuid.
func (r *Reporter) NewCase() (Case, error) {
	caseID := uuid.New().String()
	if v7, err := uuid.NewV7(); err == nil {
		caseID = v7.String()
	}
	dir := filepath.Join(r.OutputDir, caseID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Case{}, errors.Wrapf(err, "create case dir %s", dir)
	}
	return Case{ID: caseID, Dir: dir}, nil
}

// WriteSummary writes summary.json into the case directory.
func (r *Reporter) WriteSummary(c Case, summary Summary) error {
	if summary.Timestamp == "" {
		summary.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	summary.CaseID = c.ID
	summary.CaseDir = c.Dir
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode summary")
	}
	return os.WriteFile(filepath.Join(c.Dir, SummaryName), append(data, '\n'), 0o644)
}

// ReadSummary loads summary.json from dir.
func ReadSummary(dir string) (Summary, error) {
	data, err := os.ReadFile(filepath.Join(dir, SummaryName))
	if err != nil {
		return Summary{}, errors.Wrapf(err, "read summary in %s", dir)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return Summary{}, errors.Wrapf(err, "parse summary in %s", dir)
	}
	return s, nil
}

// WriteText writes raw text content into the case directory.
func (r *Reporter) WriteText(c Case, name string, content string) error {
	path := filepath.Join(c.Dir, name)
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// CopyBundle copies the bundle at src into the case directory and points its
// sql_directory at the case's own queries directory. It returns the copy.
func (r *Reporter) CopyBundle(c Case, src string) (string, error) {
	sqlDir, err := filepath.Abs(filepath.Join(c.Dir, CaseQueriesDir))
	if err != nil {
		return "", errors.Wrapf(err, "resolve %s", c.Dir)
	}
	dst := filepath.Join(c.Dir, filepath.Base(src))
	if err := RebaseBundle(src, dst, sqlDir); err != nil {
		return "", err
	}
	return dst, nil
}

// WriteCaseArchive packs every file of the case directory into a zstd
// compressed tar inside the same directory.
func (r *Reporter) WriteCaseArchive(c Case) (name string, codec string, err error) {
	archivePath := filepath.Join(c.Dir, CaseArchiveName)
	if removeErr := os.Remove(archivePath); removeErr != nil && !os.IsNotExist(removeErr) {
		return "", "", removeErr
	}
	defer func() {
		if err != nil {
			_ = os.Remove(archivePath)
		}
	}()
	var files []string
	walkErr := filepath.WalkDir(c.Dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() && path != archivePath {
			files = append(files, path)
		}
		return nil
	})
	if walkErr != nil {
		return "", "", walkErr
	}
	sort.Strings(files)

	file, err := os.Create(archivePath)
	if err != nil {
		return "", "", err
	}
	defer util.CloseWithErr(file, "archive output")
	zw, err := zstd.NewWriter(file)
	if err != nil {
		return "", "", err
	}
	tw := tar.NewWriter(zw)
	for _, path := range files {
		if err := addToArchive(tw, c.Dir, path); err != nil {
			_ = tw.Close()
			_ = zw.Close()
			return "", "", err
		}
	}
	if err := tw.Close(); err != nil {
		_ = zw.Close()
		return "", "", err
	}
	if err := zw.Close(); err != nil {
		return "", "", err
	}
	return CaseArchiveName, CaseArchiveCodec, nil
}

func addToArchive(tw *tar.Writer, root, path string) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.ToSlash(rel)
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer util.CloseWithErr(src, "archive source")
	_, err = io.Copy(tw, src)
	return err
}

// ListCases returns the case directories under root that carry a summary,
// newest first by directory name.
func ListCases(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", root)
	}
	var out []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, SummaryName)); err == nil {
			out = append(out, dir)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

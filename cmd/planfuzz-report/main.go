package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"

	"planfuzz/internal/config"
	"planfuzz/internal/report"
	"planfuzz/internal/uploader"
	"planfuzz/internal/util"
)

// FileContent holds inlined case file content.
type FileContent struct {
	Name      string `json:"name"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
}

// CaseEntry is one failing bundle in the index.
type CaseEntry struct {
	ID             string                 `json:"id"`
	Dir            string                 `json:"dir"`
	Timestamp      string                 `json:"timestamp"`
	Bundle         string                 `json:"bundle"`
	Names          []string               `json:"names"`
	ExitCode       int                    `json:"exit_code"`
	TimedOut       bool                   `json:"timed_out"`
	DurationMs     int64                  `json:"duration_ms"`
	Failures       []string               `json:"failures"`
	StderrTail     []string               `json:"stderr_tail"`
	Seed           int64                  `json:"seed"`
	Cycle          int                    `json:"cycle"`
	ArchiveName    string                 `json:"archive_name"`
	ArchiveURL     string                 `json:"archive_url"`
	UploadLocation string                 `json:"upload_location"`
	Details        map[string]any         `json:"details"`
	Files          map[string]FileContent `json:"files"`
}

// SiteData is the index payload.
type SiteData struct {
	GeneratedAt string      `json:"generated_at"`
	Source      string      `json:"source"`
	CaseCount   int         `json:"case_count"`
	Cases       []CaseEntry `json:"cases"`
}

type loadOptions struct {
	MaxBytes              int
	ArtifactPublicBaseURL string
}

// caseFiles are inlined when present next to summary.json.
var caseFiles = []string{"stdout.txt", "stderr.txt"}

const indexName = "cases.json"

func main() {
	input := flag.String("input", "cases", "case directory root or s3://bucket/prefix")
	output := flag.String("output", "report", "output directory for "+indexName)
	configPath := flag.String("config", "config.yaml", "path to config file (for S3 access)")
	maxBytes := flag.Int("max-bytes", 64*1024, "max bytes to read per case file")
	artifactPublicBaseURL := flag.String("artifact-public-base-url", "", "public HTTP(S) base URL used to derive archive links from s3 upload locations")
	publish := flag.Bool("publish", false, "upload the index to storage.s3 from -config")
	flag.Parse()

	opts := loadOptions{
		MaxBytes:              *maxBytes,
		ArtifactPublicBaseURL: strings.TrimSpace(*artifactPublicBaseURL),
	}
	ctx := context.Background()

	var cfg config.Config
	needConfig := *publish || strings.HasPrefix(*input, "s3://")
	if needConfig {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fail("load config: %v", err)
		}
		if !loaded.Storage.S3.Enabled {
			fail("s3 access requested but storage.s3.enabled is false")
		}
		cfg = loaded
	}

	var cases []CaseEntry
	var err error
	if strings.HasPrefix(*input, "s3://") {
		bucket, prefix, parseErr := parseS3URI(*input)
		if parseErr != nil {
			fail("parse s3 input: %v", parseErr)
		}
		cases, err = loadS3Cases(ctx, cfg.Storage.S3, bucket, prefix, opts)
	} else {
		cases, err = loadLocalCases(*input, opts)
	}
	if err != nil {
		fail("load cases: %v", err)
	}

	site := buildSite(*input, cases, time.Now())
	path, err := writeJSON(*output, site)
	if err != nil {
		fail("write json: %v", err)
	}
	util.Infof("indexed %d case(s) into %s", site.CaseCount, path)

	if *publish {
		location, err := publishIndex(ctx, cfg.Storage.S3, path)
		if err != nil {
			fail("publish index: %v", err)
		}
		util.Infof("published index to %s", location)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func buildSite(source string, cases []CaseEntry, now time.Time) SiteData {
	sort.SliceStable(cases, func(i, j int) bool {
		return cases[i].Timestamp > cases[j].Timestamp
	})
	return SiteData{
		GeneratedAt: now.UTC().Format(time.RFC3339),
		Source:      source,
		CaseCount:   len(cases),
		Cases:       cases,
	}
}

func loadLocalCases(root string, opts loadOptions) ([]CaseEntry, error) {
	dirs, err := report.ListCases(root)
	if err != nil {
		return nil, err
	}
	cases := make([]CaseEntry, 0, len(dirs))
	for _, dir := range dirs {
		summary, err := report.ReadSummary(dir)
		if err != nil {
			util.Warnf("skip case %s: %v", dir, err)
			continue
		}
		files := map[string]FileContent{}
		for _, name := range inlinedFiles(summary) {
			files[name] = mustReadFile(filepath.Join(dir, name), opts.MaxBytes)
		}
		if _, err := os.Stat(filepath.Join(dir, report.CaseArchiveName)); err == nil {
			files[report.CaseArchiveName] = FileContent{Name: report.CaseArchiveName, Content: "(binary)", Truncated: true}
		}
		entry := entryFromSummary(summary, filepath.Base(dir), opts)
		entry.Dir = dir
		entry.Files = files
		cases = append(cases, entry)
	}
	return cases, nil
}

// inlinedFiles lists the text files of a case: the fixed outputs plus the
// bundle copy named by the summary.
func inlinedFiles(summary report.Summary) []string {
	names := append([]string(nil), caseFiles...)
	if summary.Bundle != "" {
		names = append(names, filepath.Base(summary.Bundle))
	}
	return names
}

func entryFromSummary(summary report.Summary, fallbackID string, opts loadOptions) CaseEntry {
	return CaseEntry{
		ID:             caseIDFromSummary(summary, fallbackID),
		Timestamp:      summary.Timestamp,
		Bundle:         summary.Bundle,
		Names:          summary.Names,
		ExitCode:       summary.ExitCode,
		TimedOut:       summary.TimedOut,
		DurationMs:     summary.DurationMs,
		Failures:       summary.Failures,
		StderrTail:     summary.StderrTail,
		Seed:           summary.Seed,
		Cycle:          summary.Cycle,
		ArchiveName:    summary.ArchiveName,
		ArchiveURL:     deriveArchiveURL(summary.UploadLocation, summary.ArchiveName, opts.ArtifactPublicBaseURL),
		UploadLocation: summary.UploadLocation,
		Details:        summary.Details,
	}
}

func mustReadFile(path string, maxBytes int) FileContent {
	content, truncated, err := readFileLimited(path, maxBytes)
	if err != nil {
		return FileContent{Name: filepath.Base(path)}
	}
	return FileContent{Name: filepath.Base(path), Content: content, Truncated: truncated}
}

func readFileLimited(path string, maxBytes int) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer util.CloseWithErr(f, "report input")
	return readLimited(f, maxBytes)
}

func readLimited(r io.Reader, maxBytes int) (string, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, int64(maxBytes)+1))
	if err != nil {
		return "", false, err
	}
	truncated := len(data) > maxBytes
	if truncated {
		data = data[:maxBytes]
	}
	return string(data), truncated, nil
}

func writeJSON(output string, site SiteData) (string, error) {
	if err := os.MkdirAll(output, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(output, indexName)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer util.CloseWithErr(f, "report output")
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return path, enc.Encode(site)
}

func parseS3URI(input string) (bucket string, prefix string, err error) {
	trimmed := strings.TrimPrefix(input, "s3://")
	if trimmed == "" {
		return "", "", errors.New("missing s3 bucket")
	}
	parts := strings.SplitN(trimmed, "/", 2)
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = strings.TrimPrefix(parts[1], "/")
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
	}
	return bucket, prefix, nil
}

func loadS3Cases(ctx context.Context, cfg config.S3Config, bucket, prefix string, opts loadOptions) ([]CaseEntry, error) {
	client, err := uploader.NewS3Client(cfg)
	if err != nil {
		return nil, err
	}
	keys, objectSet, err := listSummaryKeys(ctx, client, bucket, prefix)
	if err != nil {
		return nil, err
	}
	cases := make([]CaseEntry, 0, len(keys))
	for _, key := range keys {
		dir := strings.TrimSuffix(key, "/"+report.SummaryName)
		data, _, err := readObjectLimited(ctx, client, bucket, key, opts.MaxBytes)
		if err != nil {
			util.Warnf("skip case %s: %v", dir, err)
			continue
		}
		var summary report.Summary
		if err := json.Unmarshal([]byte(data), &summary); err != nil {
			util.Warnf("skip case %s: %v", dir, err)
			continue
		}
		files := map[string]FileContent{}
		for _, name := range inlinedFiles(summary) {
			content, truncated, err := readObjectLimited(ctx, client, bucket, dir+"/"+name, opts.MaxBytes)
			if err != nil {
				files[name] = FileContent{Name: name}
				continue
			}
			files[name] = FileContent{Name: name, Content: content, Truncated: truncated}
		}
		if _, ok := objectSet[dir+"/"+report.CaseArchiveName]; ok {
			files[report.CaseArchiveName] = FileContent{Name: report.CaseArchiveName, Content: "(binary)", Truncated: true}
		}
		entry := entryFromSummary(summary, filepath.Base(dir), opts)
		entry.Dir = "s3://" + bucket + "/" + dir
		entry.Files = files
		cases = append(cases, entry)
	}
	return cases, nil
}

func listSummaryKeys(ctx context.Context, client *s3.Client, bucket, prefix string) ([]string, map[string]struct{}, error) {
	var keys []string
	objectSet := make(map[string]struct{})
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, nil, errors.Wrap(err, "list objects")
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			objectSet[key] = struct{}{}
			if strings.HasSuffix(key, "/"+report.SummaryName) {
				keys = append(keys, key)
			}
		}
	}
	return keys, objectSet, nil
}

func readObjectLimited(ctx context.Context, client *s3.Client, bucket, key string, maxBytes int) (string, bool, error) {
	resp, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", false, errors.Wrapf(err, "get %s", key)
	}
	defer util.CloseWithErr(resp.Body, "s3 response body")
	return readLimited(resp.Body, maxBytes)
}

func publishIndex(ctx context.Context, cfg config.S3Config, path string) (string, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return "", errors.New("storage.s3.bucket is required to publish")
	}
	client, err := uploader.NewS3Client(cfg)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	key := objectKey(cfg.Prefix, indexName)
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return "", errors.Wrapf(err, "put %s", key)
	}
	return fmt.Sprintf("s3://%s/%s", cfg.Bucket, key), nil
}

func caseIDFromSummary(summary report.Summary, fallback string) string {
	if id := strings.TrimSpace(summary.CaseID); id != "" {
		return id
	}
	return fallback
}

// deriveArchiveURL maps an upload location and archive name to a public
// link. s3:// and gs:// locations need a public base URL.
func deriveArchiveURL(uploadLocation, archiveName, publicBaseURL string) string {
	name := strings.TrimSpace(archiveName)
	location := strings.TrimSpace(uploadLocation)
	if name == "" || location == "" {
		return ""
	}
	if isHTTPURL(location) {
		return objectURL(location, name)
	}
	lower := strings.ToLower(location)
	if !strings.HasPrefix(lower, "s3://") && !strings.HasPrefix(lower, "gs://") {
		return ""
	}
	base := strings.TrimSpace(publicBaseURL)
	if base == "" {
		return ""
	}
	rest := location[strings.Index(location, "://")+len("://"):]
	_, prefix, err := parseS3URI("s3://" + rest)
	if err != nil {
		return ""
	}
	return objectURL(base, objectKey(prefix, name))
}

func isHTTPURL(url string) bool {
	lower := strings.ToLower(strings.TrimSpace(url))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func objectURL(base, name string) string {
	trimmedBase := strings.TrimRight(strings.TrimSpace(base), "/")
	trimmedName := strings.TrimLeft(strings.TrimSpace(name), "/")
	if trimmedBase == "" || trimmedName == "" {
		return ""
	}
	return trimmedBase + "/" + trimmedName
}

func objectKey(prefix, name string) string {
	trimmedPrefix := strings.Trim(prefix, "/")
	trimmedName := strings.TrimLeft(strings.TrimSpace(name), "/")
	if trimmedPrefix == "" {
		return trimmedName
	}
	return trimmedPrefix + "/" + trimmedName
}

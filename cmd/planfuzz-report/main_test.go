package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"planfuzz/internal/report"
)

func TestObjectKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		nameIn string
		want   string
	}{
		{name: "no prefix", prefix: "", nameIn: "cases.json", want: "cases.json"},
		{name: "trim prefix and name", prefix: "/a/b/", nameIn: "/cases.json", want: "a/b/cases.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := objectKey(tt.prefix, tt.nameIn); got != tt.want {
				t.Fatalf("objectKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseS3URI(t *testing.T) {
	bucket, prefix, err := parseS3URI("s3://bucket/runs/a")
	if err != nil || bucket != "bucket" || prefix != "runs/a/" {
		t.Fatalf("parseS3URI() = %q, %q, %v", bucket, prefix, err)
	}
	if _, _, err := parseS3URI("s3://"); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
}

func TestDeriveArchiveURL(t *testing.T) {
	if got := deriveArchiveURL("s3://bucket/abc/", "case.tar.zst", ""); got != "" {
		t.Fatalf("unexpected archive url without public base: %q", got)
	}
	if got := deriveArchiveURL("s3://bucket/abc/", "case.tar.zst", "https://cdn.example.com"); got != "https://cdn.example.com/abc/case.tar.zst" {
		t.Fatalf("unexpected s3 archive url: %q", got)
	}
	if got := deriveArchiveURL("GS://bucket/abc/", "case.tar.zst", "https://cdn.example.com"); got != "https://cdn.example.com/abc/case.tar.zst" {
		t.Fatalf("unexpected gcs archive url: %q", got)
	}
	if got := deriveArchiveURL("https://cdn.example.com/abc/", "case.tar.zst", ""); got != "https://cdn.example.com/abc/case.tar.zst" {
		t.Fatalf("unexpected https archive url: %q", got)
	}
	if got := deriveArchiveURL("s3://bucket/abc/", "", "https://cdn.example.com"); got != "" {
		t.Fatalf("expected no url without archive: %q", got)
	}
}

func TestCaseIDFromSummary(t *testing.T) {
	if got := caseIDFromSummary(report.Summary{CaseID: "abc"}, "fallback"); got != "abc" {
		t.Fatalf("unexpected case id: %q", got)
	}
	if got := caseIDFromSummary(report.Summary{}, "fallback"); got != "fallback" {
		t.Fatalf("unexpected fallback case id: %q", got)
	}
}

func TestInlinedFilesIncludeBundleCopy(t *testing.T) {
	got := inlinedFiles(report.Summary{Bundle: "/work/queries/multi_ab12.json"})
	want := "stdout.txt,stderr.txt,multi_ab12.json"
	if strings.Join(got, ",") != want {
		t.Fatalf("unexpected files: %v", got)
	}
	if got := inlinedFiles(report.Summary{}); len(got) != len(caseFiles) {
		t.Fatalf("expected only fixed files without a bundle: %v", got)
	}
	if len(caseFiles) != 2 {
		t.Fatalf("inlinedFiles modified caseFiles: %v", caseFiles)
	}
}

func TestLoadLocalCasesAndWriteIndex(t *testing.T) {
	root := t.TempDir()
	reporter := report.New(root)
	for i, ts := range []string{"2026-02-13T15:58:00Z", "2026-02-13T15:59:00Z"} {
		c, err := reporter.NewCase()
		if err != nil {
			t.Fatalf("new case: %v", err)
		}
		if err := reporter.WriteText(c, "stdout.txt", "q1: true\nq2: false\n"); err != nil {
			t.Fatalf("write stdout: %v", err)
		}
		if err := reporter.WriteText(c, "multi_ab12.json", `{"names":["q1","q2"]}`); err != nil {
			t.Fatalf("write bundle: %v", err)
		}
		summary := report.Summary{
			Bundle:    "queries/multi_ab12.json",
			Names:     []string{"q1", "q2"},
			ExitCode:  1,
			Failures:  []string{"q2: false"},
			Cycle:     i + 1,
			Timestamp: ts,
		}
		if err := reporter.WriteSummary(c, summary); err != nil {
			t.Fatalf("write summary: %v", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(root, "stray"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cases, err := loadLocalCases(root, loadOptions{MaxBytes: 8})
	if err != nil {
		t.Fatalf("loadLocalCases: %v", err)
	}
	if len(cases) != 2 {
		t.Fatalf("expected 2 cases, got %d", len(cases))
	}
	site := buildSite(root, cases, time.Date(2026, 2, 13, 16, 0, 0, 0, time.UTC))
	if site.Cases[0].Cycle != 2 || site.Cases[1].Cycle != 1 {
		t.Fatalf("cases not sorted newest first: %+v", site.Cases)
	}
	stdout := site.Cases[0].Files["stdout.txt"]
	if stdout.Content != "q1: true" || !stdout.Truncated {
		t.Fatalf("unexpected inlined stdout: %+v", stdout)
	}
	if _, ok := site.Cases[0].Files["multi_ab12.json"]; !ok {
		t.Fatalf("bundle copy not inlined: %v", site.Cases[0].Files)
	}

	out := t.TempDir()
	path, err := writeJSON(out, site)
	if err != nil {
		t.Fatalf("writeJSON: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	var decoded SiteData
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode index: %v", err)
	}
	if decoded.CaseCount != 2 || decoded.GeneratedAt != "2026-02-13T16:00:00Z" || decoded.Cases[0].ID == "" {
		t.Fatalf("unexpected index: %+v", decoded)
	}
}

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"planfuzz/internal/engine"
	"planfuzz/internal/report"
)

func writeTestBundle(t *testing.T, dir, name string) string {
	t.Helper()
	store, err := report.NewQueryStore(dir)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	path := filepath.Join(dir, name)
	b := report.Bundle{Names: []string{"2a_ab12"}, Plans: []json.RawMessage{json.RawMessage(`{"Plan":{}}`)}}
	if err := store.WriteBundle(path, b); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	return path
}

func TestResolveBundleFile(t *testing.T) {
	path := writeTestBundle(t, t.TempDir(), "2a_ab12.json")
	got, cleanup, err := resolveBundle(path)
	defer cleanup()
	if err != nil || got != path {
		t.Fatalf("resolveBundle() = %q, %v", got, err)
	}
}

func newTestCase(t *testing.T) (report.Case, *report.Reporter, string) {
	t.Helper()
	root := t.TempDir()
	original := writeTestBundle(t, filepath.Join(root, "queries"), "multi_zz99.json")
	reporter := report.New(filepath.Join(root, "cases"))
	c, err := reporter.NewCase()
	if err != nil {
		t.Fatalf("new case: %v", err)
	}
	if err := reporter.WriteText(c, filepath.Join(report.CaseQueriesDir, "2a_ab12.sql"), "SELECT 1;"); err != nil {
		t.Fatalf("write sql: %v", err)
	}
	if err := reporter.WriteSummary(c, report.Summary{Bundle: original, ExitCode: 1}); err != nil {
		t.Fatalf("summary: %v", err)
	}
	return c, reporter, original
}

func TestResolveBundleCaseDir(t *testing.T) {
	c, reporter, original := newTestCase(t)
	copied, err := reporter.CopyBundle(c, original)
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	got, cleanup, err := resolveBundle(c.Dir)
	defer cleanup()
	if err != nil {
		t.Fatalf("resolveBundle: %v", err)
	}
	if want := filepath.Join(c.Dir, "multi_zz99.json"); got != want || copied != want {
		t.Fatalf("resolveBundle() = %q copy=%q, want %q", got, copied, want)
	}
	b, err := report.ReadBundle(got)
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	if b.SQLDirectory != filepath.Join(c.Dir, report.CaseQueriesDir) {
		t.Fatalf("case bundle reads sql from %s", b.SQLDirectory)
	}
}

func TestResolveBundleRebasesForeignSQLDirectory(t *testing.T) {
	c, _, original := newTestCase(t)
	data, err := os.ReadFile(original)
	if err != nil {
		t.Fatalf("read original: %v", err)
	}
	if err := os.WriteFile(filepath.Join(c.Dir, filepath.Base(original)), data, 0o644); err != nil {
		t.Fatalf("write case bundle: %v", err)
	}

	got, cleanup, err := resolveBundle(c.Dir)
	if err != nil {
		t.Fatalf("resolveBundle: %v", err)
	}
	if filepath.Dir(got) == c.Dir {
		t.Fatalf("expected a rebased copy outside the case, got %s", got)
	}
	b, err := report.ReadBundle(got)
	if err != nil {
		t.Fatalf("read rebased bundle: %v", err)
	}
	if b.SQLDirectory != filepath.Join(c.Dir, report.CaseQueriesDir) {
		t.Fatalf("rebased bundle reads sql from %s", b.SQLDirectory)
	}
	want, err := report.ReadBundle(original)
	if err != nil {
		t.Fatalf("read original bundle: %v", err)
	}
	if len(b.Names) != 1 || b.Names[0] != want.Names[0] || !bytes.Equal(b.Plans[0], want.Plans[0]) {
		t.Fatalf("rebase changed bundle content: %+v", b)
	}
	cleanup()
	if _, err := os.Stat(got); !os.IsNotExist(err) {
		t.Fatalf("expected cleanup to remove %s, stat err=%v", got, err)
	}
}

func TestResolveBundleRejectsGarbage(t *testing.T) {
	if _, _, err := resolveBundle(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing bundle")
	}
	if _, _, err := resolveBundle(t.TempDir()); err == nil {
		t.Fatalf("expected error for dir without summary")
	}
}

func TestPrintOutcome(t *testing.T) {
	out := engine.Outcome{Bundle: "queries/multi_x.json", ExitCode: 1, Stdout: "a: true\nb: false\n", Stderr: "boom\n"}
	var buf bytes.Buffer
	printOutcome(&buf, out, engine.ExtractDiagnostics(out.Stdout, out.Stderr, "false", 3))
	want := "Executed: queries/multi_x.json with return code 1\n" +
		"Error executing plans queries/multi_x.json with returncode 1\n> b: false\n# boom\n"
	if buf.String() != want {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}

	buf.Reset()
	printOutcome(&buf, engine.Outcome{Bundle: "b.json"}, engine.Diagnostics{})
	if buf.String() != "Executed: b.json with return code 0\n" {
		t.Fatalf("unexpected passing output: %q", buf.String())
	}
}

func TestEngineConfigOverrides(t *testing.T) {
	if _, err := engineConfig("", "", -1); err == nil {
		t.Fatalf("expected missing binary error")
	}
	cfg, err := engineConfig("", "/bin/engine", 5)
	if err != nil {
		t.Fatalf("engineConfig: %v", err)
	}
	if cfg.Binary != "/bin/engine" || cfg.TimeoutSeconds != 5 || cfg.FailureMarker != "false" || cfg.StderrTail != 3 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

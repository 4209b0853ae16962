package oracle

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"planfuzz/internal/config"
	"planfuzz/internal/proc"
)

func testAnalyticalConfig() config.AnalyticalConfig {
	return config.AnalyticalConfig{
		Database:    "imdb.db",
		Binary:      "duckdb",
		MemoryLimit: "10GB",
		TimeoutMs:   3000,
		MaxRows:     10_000_000,
		OOMMarker:   "Out of Memory Error",
	}
}

func fixedRunner(res proc.Result, err error) proc.Runner {
	return proc.RunnerFunc(func(context.Context, string, ...string) (proc.Result, error) {
		return res, err
	})
}

func TestCardinalityThreshold(t *testing.T) {
	cases := []struct {
		stdout string
		want   Verdict
	}{
		{"count_star()\n9999999\n", VerdictAccepted},
		{"count_star()\n10000000\n", VerdictTooLarge},
		{"count_star()\n10000001\n\n  \n", VerdictTooLarge},
		{"count_star()\n0\n", VerdictAccepted},
		{"count_star()\n", VerdictMalformed},
		{"", VerdictMalformed},
	}
	for _, tc := range cases {
		g := NewCardinalityGate(testAnalyticalConfig(), fixedRunner(proc.Result{Stdout: tc.stdout}, nil))
		if got := g.Check(context.Background(), "SELECT COUNT(*) FROM title AS t;"); got != tc.want {
			t.Fatalf("stdout %q: got %s want %s", tc.stdout, got, tc.want)
		}
	}
}

func TestCardinalityFailureModes(t *testing.T) {
	cases := []struct {
		name string
		res  proc.Result
		err  error
		want Verdict
	}{
		{"timeout", proc.Result{TimedOut: true, ExitCode: -1}, nil, VerdictTimeout},
		{"oom", proc.Result{ExitCode: 1, Stderr: "Error: Out of Memory Error: could not allocate block"}, nil, VerdictOOM},
		{"other", proc.Result{ExitCode: 1, Stderr: "Catalog Error: Table with name foo does not exist"}, nil, VerdictFailed},
		{"start", proc.Result{}, errors.New("exec: duckdb: not found"), VerdictFailed},
	}
	for _, tc := range cases {
		g := NewCardinalityGate(testAnalyticalConfig(), fixedRunner(tc.res, tc.err))
		if got := g.Check(context.Background(), "SELECT 1"); got != tc.want {
			t.Fatalf("%s: got %s want %s", tc.name, got, tc.want)
		}
		if g.SmallEnough(context.Background(), "SELECT 1") {
			t.Fatalf("%s: expected rejection", tc.name)
		}
	}
}

func TestCardinalityArgs(t *testing.T) {
	var gotName string
	var gotArgs []string
	runner := proc.RunnerFunc(func(_ context.Context, name string, args ...string) (proc.Result, error) {
		gotName, gotArgs = name, args
		return proc.Result{Stdout: "1\n"}, nil
	})
	g := NewCardinalityGate(testAnalyticalConfig(), runner)
	if !g.SmallEnough(context.Background(), "SELECT COUNT(*)\nFROM title AS t;") {
		t.Fatalf("expected acceptance")
	}
	want := []string{"imdb.db", "-csv", "-c", "set memory_limit='10GB'; set temp_directory='';SELECT COUNT(*)\nFROM title AS t;"}
	if gotName != "duckdb" || !reflect.DeepEqual(gotArgs, want) {
		t.Fatalf("unexpected invocation %s %q", gotName, gotArgs)
	}
	if s := g.Stats(); s.Probes != 1 || s.Accepted != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestCardinalityWithShellScript(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "duckdb")
	body := "#!/bin/sh\ncase \"$4\" in\n*big*) echo count_star; echo 10000001;;\n*oom*) echo 'Out of Memory Error' >&2; exit 1;;\n*) echo count_star; echo 9999999;;\nesac\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	cfg := testAnalyticalConfig()
	cfg.Binary = script
	g := NewCardinalityGate(cfg, nil)
	if !g.SmallEnough(context.Background(), "SELECT COUNT(*) FROM small") {
		t.Fatalf("expected small probe to pass")
	}
	if g.SmallEnough(context.Background(), "SELECT COUNT(*) FROM big") {
		t.Fatalf("expected big probe to be rejected")
	}
	if v := g.Check(context.Background(), "SELECT COUNT(*) FROM oom"); v != VerdictOOM {
		t.Fatalf("expected oom verdict, got %s", v)
	}
}

func TestParseCount(t *testing.T) {
	n, err := ParseCount("count_star()\n42\n\n")
	if err != nil || n != 42 {
		t.Fatalf("unexpected parse: %d %v", n, err)
	}
	if _, err := ParseCount("count_star()\nabc\n"); err == nil || !strings.Contains(err.Error(), "abc") {
		t.Fatalf("expected parse error mentioning the line, got %v", err)
	}
}

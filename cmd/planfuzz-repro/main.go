package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"

	"planfuzz/internal/config"
	"planfuzz/internal/engine"
	"planfuzz/internal/report"
)

func main() {
	configPath := flag.String("config", "", "optional config file for engine settings")
	binary := flag.String("engine", "", "engine binary (overrides config)")
	timeout := flag.Int("timeout", -1, "engine timeout in seconds (overrides config, 0 = unbounded)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <bundle.json|case_dir>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := engineConfig(*configPath, *binary, *timeout)
	if err != nil {
		fail("%v", err)
	}
	bundle, cleanup, err := resolveBundle(flag.Arg(0))
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	eng := engine.New(cfg, nil)
	out := eng.Run(ctx, bundle)
	printOutcome(os.Stdout, out, eng.Extract(out))
	cleanup()
	if out.Failed() {
		stop()
		os.Exit(1)
	}
}

func engineConfig(path, binary string, timeout int) (config.EngineConfig, error) {
	cfg := config.EngineConfig{FailureMarker: "false", StderrTail: 3}
	if path != "" {
		full, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = full.Engine
	}
	if binary != "" {
		cfg.Binary = binary
	}
	if timeout >= 0 {
		cfg.TimeoutSeconds = timeout
	}
	if cfg.Binary == "" {
		return cfg, errors.New("engine binary is required (-engine or engine.binary in -config)")
	}
	return cfg, nil
}

// resolveBundle accepts a bundle file or a case directory whose summary names
// the bundle that was copied into it. A case bundle whose sql_directory is not
// the case's own queries directory, as happens once a case is moved, is run
// from a rebased copy; cleanup removes that copy.
func resolveBundle(path string) (bundle string, cleanup func(), err error) {
	cleanup = func() {}
	info, err := os.Stat(path)
	if err != nil {
		return "", cleanup, errors.Wrapf(err, "stat %s", path)
	}
	if !info.IsDir() {
		if _, err := report.ReadBundle(path); err != nil {
			return "", cleanup, err
		}
		return path, cleanup, nil
	}
	summary, err := report.ReadSummary(path)
	if err != nil {
		return "", cleanup, err
	}
	if summary.Bundle == "" {
		return "", cleanup, errors.Errorf("case %s has no bundle", path)
	}
	local := filepath.Join(path, filepath.Base(summary.Bundle))
	b, err := report.ReadBundle(local)
	if err != nil {
		return "", cleanup, err
	}
	queries, err := filepath.Abs(filepath.Join(path, report.CaseQueriesDir))
	if err != nil {
		return "", cleanup, errors.Wrapf(err, "resolve %s", path)
	}
	if b.SQLDirectory == queries {
		return local, cleanup, nil
	}
	if st, err := os.Stat(queries); err != nil || !st.IsDir() {
		return local, cleanup, nil
	}
	tmp, err := os.MkdirTemp("", "planfuzz-repro-")
	if err != nil {
		return "", cleanup, errors.Wrap(err, "create temp dir")
	}
	cleanup = func() {
		if err := os.RemoveAll(tmp); err != nil {
			fmt.Fprintf(os.Stderr, "remove %s: %v\n", tmp, err)
		}
	}
	rebased := filepath.Join(tmp, filepath.Base(local))
	if err := report.RebaseBundle(local, rebased, queries); err != nil {
		cleanup()
		return "", func() {}, err
	}
	return rebased, cleanup, nil
}

func printOutcome(w io.Writer, out engine.Outcome, diag engine.Diagnostics) {
	if out.Err != nil {
		fmt.Fprintf(w, "engine did not start: %v\n", out.Err)
	}
	if out.TimedOut {
		fmt.Fprintf(w, "engine timed out after %s\n", out.Duration)
	}
	fmt.Fprintf(w, "Executed: %s with return code %d\n", out.Bundle, out.ExitCode)
	if out.Failed() {
		fmt.Fprint(w, report.FormatFailure(out.Bundle, out.ExitCode, diag.Failures, diag.Tail))
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

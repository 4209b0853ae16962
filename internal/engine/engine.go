package engine

import (
	"context"
	"strings"
	"time"

	"planfuzz/internal/config"
	"planfuzz/internal/proc"
)

// Outcome is the result of running the engine under test on one bundle.
type Outcome struct {
	Bundle   string
	ExitCode int
	TimedOut bool
	Stdout   string
	Stderr   string
	Duration time.Duration
	// Err is set when the binary could not be started at all.
	Err error
}

// Failed reports whether the engine signalled at least one failing query.
func (o Outcome) Failed() bool {
	return o.ExitCode != 0 || o.TimedOut || o.Err != nil
}

// Engine invokes the engine under test.
type Engine struct {
	cfg    config.EngineConfig
	runner proc.Runner
}

// New builds an Engine. A nil runner starts the configured binary as a
// real subprocess.
func New(cfg config.EngineConfig, runner proc.Runner) *Engine {
	if runner == nil {
		runner = proc.ExecRunner{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
			Env:     cfg.Env,
		}
	}
	return &Engine{cfg: cfg, runner: runner}
}

// Run executes the binary with bundle as its only argument and waits for it
// to finish.
func (e *Engine) Run(ctx context.Context, bundle string) Outcome {
	res, err := e.runner.Run(ctx, e.cfg.Binary, bundle)
	out := Outcome{
		Bundle:   bundle,
		ExitCode: res.ExitCode,
		TimedOut: res.TimedOut,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Duration: res.Duration,
		Err:      err,
	}
	if err != nil && out.ExitCode == 0 {
		out.ExitCode = -1
	}
	return out
}

// Diagnostics holds the lines extracted from a failing run.
type Diagnostics struct {
	// Failures are stdout lines containing the failure marker.
	Failures []string
	// Tail is the last few non-blank stderr lines.
	Tail []string
}

// Extract pulls diagnostics out of an outcome.
func (e *Engine) Extract(o Outcome) Diagnostics {
	return ExtractDiagnostics(o.Stdout, o.Stderr, e.cfg.FailureMarker, e.cfg.StderrTail)
}

// ExtractDiagnostics selects stdout lines containing marker and the last
// tail non-blank stderr lines.
func ExtractDiagnostics(stdout, stderr, marker string, tail int) Diagnostics {
	var d Diagnostics
	if marker != "" {
		for _, line := range strings.Split(stdout, "\n") {
			if strings.Contains(line, marker) {
				d.Failures = append(d.Failures, line)
			}
		}
	}
	var nonBlank []string
	for _, line := range strings.Split(stderr, "\n") {
		if strings.TrimSpace(line) != "" {
			nonBlank = append(nonBlank, line)
		}
	}
	if tail > 0 && len(nonBlank) > tail {
		nonBlank = nonBlank[len(nonBlank)-tail:]
	}
	d.Tail = nonBlank
	return d
}

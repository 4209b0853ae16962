package oracle

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"planfuzz/internal/config"
	"planfuzz/internal/proc"
	"planfuzz/internal/util"
)

// Verdict classifies one cardinality probe.
type Verdict int

// Cardinality verdicts. Only VerdictAccepted lets a candidate through.
const (
	VerdictAccepted Verdict = iota
	VerdictTooLarge
	VerdictTimeout
	VerdictOOM
	VerdictFailed
	VerdictMalformed
)

func (v Verdict) String() string {
	switch v {
	case VerdictAccepted:
		return "accepted"
	case VerdictTooLarge:
		return "too_large"
	case VerdictTimeout:
		return "timeout"
	case VerdictOOM:
		return "oom"
	case VerdictFailed:
		return "failed"
	case VerdictMalformed:
		return "malformed"
	}
	return "unknown"
}

// CardinalityStats counts probe verdicts.
type CardinalityStats struct {
	Probes    int64
	Accepted  int64
	TooLarge  int64
	Timeout   int64
	OOM       int64
	Failed    int64
	Malformed int64
}

// CardinalityGate runs probe queries through the analytical engine CLI with a
// memory ceiling, spilling disabled and a wall-clock budget.
type CardinalityGate struct {
	cfg    config.AnalyticalConfig
	runner proc.Runner

	mu    sync.Mutex
	stats CardinalityStats
}

// NewCardinalityGate builds a gate. A nil runner uses proc.ExecRunner bounded by
// the configured timeout.
func NewCardinalityGate(cfg config.AnalyticalConfig, runner proc.Runner) *CardinalityGate {
	if runner == nil {
		runner = proc.ExecRunner{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond}
	}
	return &CardinalityGate{cfg: cfg, runner: runner}
}

// Args returns the CLI arguments used for probe.
func (g *CardinalityGate) Args(probe string) []string {
	script := fmt.Sprintf("set memory_limit='%s'; set temp_directory='';%s", g.cfg.MemoryLimit, probe)
	return []string{g.cfg.Database, "-csv", "-c", script}
}

// SmallEnough reports whether probe returns fewer rows than the configured
// ceiling.
func (g *CardinalityGate) SmallEnough(ctx context.Context, probe string) bool {
	return g.Check(ctx, probe) == VerdictAccepted
}

// Check runs probe and classifies the outcome. Timeouts and out-of-memory
// exits are expected and stay quiet; other failures are logged.
func (g *CardinalityGate) Check(ctx context.Context, probe string) Verdict {
	verdict := g.check(ctx, probe)
	g.record(verdict)
	return verdict
}

func (g *CardinalityGate) check(ctx context.Context, probe string) Verdict {
	res, err := g.runner.Run(ctx, g.cfg.Binary, g.Args(probe)...)
	if err != nil {
		util.Errorf("analytical shell failed to run: %v", err)
		return VerdictFailed
	}
	if res.TimedOut {
		return VerdictTimeout
	}
	if res.ExitCode != 0 {
		if g.cfg.OOMMarker != "" && strings.Contains(res.Stderr, g.cfg.OOMMarker) {
			return VerdictOOM
		}
		util.Errorf("analytical shell exited with code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
		return VerdictFailed
	}
	count, err := ParseCount(res.Stdout)
	if err != nil {
		util.Errorf("analytical shell output unreadable: %v", err)
		return VerdictMalformed
	}
	if count >= g.cfg.MaxRows {
		return VerdictTooLarge
	}
	return VerdictAccepted
}

func (g *CardinalityGate) record(v Verdict) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.Probes++
	switch v {
	case VerdictAccepted:
		g.stats.Accepted++
	case VerdictTooLarge:
		g.stats.TooLarge++
	case VerdictTimeout:
		g.stats.Timeout++
	case VerdictOOM:
		g.stats.OOM++
	case VerdictFailed:
		g.stats.Failed++
	case VerdictMalformed:
		g.stats.Malformed++
	}
}

// Stats returns a snapshot of the verdict counters.
func (g *CardinalityGate) Stats() CardinalityStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// ParseCount parses the last non-blank line of out as an integer.
func ParseCount(out string) (int64, error) {
	lines := strings.Split(out, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		n, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "last line %q", line)
		}
		return n, nil
	}
	return 0, errors.New("no output")
}

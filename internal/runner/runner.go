package runner

import (
	"context"
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"planfuzz/internal/config"
	"planfuzz/internal/engine"
	"planfuzz/internal/generator"
	"planfuzz/internal/oracle"
	"planfuzz/internal/report"
	"planfuzz/internal/runinfo"
	"planfuzz/internal/uploader"
	"planfuzz/internal/util"
	"planfuzz/internal/validator"
)

// CandidateSource produces candidate queries. It is only called from the
// cycle goroutine.
type CandidateSource interface {
	Generate(ctx context.Context) generator.Candidate
}

// Explainer returns a plan for a query, or false when the query must be dropped.
type Explainer interface {
	Explain(ctx context.Context, query string) (oracle.Plan, bool)
}

// Gate accepts probe queries whose result is small enough.
type Gate interface {
	SmallEnough(ctx context.Context, probe string) bool
}

// Executor runs the engine under test on a bundle.
type Executor interface {
	Run(ctx context.Context, bundle string) engine.Outcome
	Extract(o engine.Outcome) engine.Diagnostics
}

// Deps wires the collaborators of a Runner.
type Deps struct {
	Generator CandidateSource
	Validator *validator.Validator
	Explainer Explainer
	Gate      Gate
	Engine    Executor
	Uploader  uploader.Uploader
	RunInfo   *runinfo.Info
}

// Candidate is a generated query on its way through the oracles.
type Candidate struct {
	generator.Candidate
	Plan     oracle.Plan
	Accepted bool
}

// Runner drives generation cycles.
type Runner struct {
	cfg       config.Config
	gen       CandidateSource
	validator *validator.Validator
	explainer Explainer
	gate      Gate
	engine    Executor
	uploader  uploader.Uploader
	runInfo   *runinfo.Info
	store     *report.QueryStore
	reporter  *report.Reporter
	runLog    report.RunLog
	errLog    report.ErrorLog
	rand      *rand.Rand

	statsMu sync.Mutex
	stats   Stats

	progressMu sync.Mutex
	explained  int
}

// New builds a Runner and prepares the query directory and logs.
func New(cfg config.Config, deps Deps) (*Runner, error) {
	if deps.Generator == nil || deps.Explainer == nil || deps.Gate == nil || deps.Engine == nil {
		return nil, errors.New("runner requires a generator, explainer, gate and engine")
	}
	store, err := report.NewQueryStore(cfg.Generation.QueryDir)
	if err != nil {
		return nil, err
	}
	runLog, err := report.NewAppendLog(cfg.Logging.RunLog)
	if err != nil {
		return nil, err
	}
	errLog, err := report.NewAppendLog(cfg.Logging.ErrorLog)
	if err != nil {
		return nil, err
	}
	up := deps.Uploader
	if up == nil {
		up = uploader.NoopUploader{}
	}
	var reporter *report.Reporter
	if cfg.Report.Enabled {
		reporter = report.New(cfg.Report.OutputDir)
	}
	var v *validator.Validator
	if cfg.Generation.ValidateSQL {
		v = deps.Validator
	}
	return &Runner{
		cfg:       cfg,
		gen:       deps.Generator,
		validator: v,
		explainer: deps.Explainer,
		gate:      deps.Gate,
		engine:    deps.Engine,
		uploader:  up,
		runInfo:   deps.RunInfo,
		store:     store,
		reporter:  reporter,
		runLog:    report.RunLog{AppendLog: runLog},
		errLog:    report.ErrorLog{AppendLog: errLog},
		rand:      rand.New(rand.NewSource(cfg.Seed ^ 0x5eed)),
	}, nil
}

// Run executes cycles until the configured count is reached or ctx is done.
// A cycle that has started always runs to completion.
func (r *Runner) Run(ctx context.Context) error {
	stop := r.startStatsLogger()
	defer stop()

	util.Infof("runner start batch=%d workers=%d cycles=%d", r.cfg.Generation.BatchSize, r.cfg.Reference.Workers, r.cfg.Cycles)
	for cycle := 1; r.cfg.Cycles == 0 || cycle <= r.cfg.Cycles; cycle++ {
		if err := ctx.Err(); err != nil {
			util.Infof("runner stopping after %d cycle(s): %v", cycle-1, err)
			break
		}
		r.RunCycle(context.WithoutCancel(ctx), cycle)
	}
	r.logStats()
	return nil
}

// Stats returns a snapshot of the run counters.
func (r *Runner) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

func (r *Runner) updateStats(fn func(*Stats)) {
	r.statsMu.Lock()
	fn(&r.stats)
	r.statsMu.Unlock()
}

package runner

import (
	"context"
	"encoding/json"

	"planfuzz/internal/engine"
	"planfuzz/internal/report"
	"planfuzz/internal/util"
)

// CycleResult summarizes one pass through the pipeline.
type CycleResult struct {
	Cycle     int
	Generated int
	Valid     int
	Explained int
	Accepted  []Candidate
	Bundle    string
	Executed  bool
	Outcome   engine.Outcome
	CaseDir   string
}

// RunCycle runs GENERATE, EXPLAIN-FILTER, CARDINALITY-FILTER, MERGE, EXECUTE
// and AGGREGATE once. Errors are contained in the stage that saw them.
func (r *Runner) RunCycle(ctx context.Context, cycle int) CycleResult {
	res := CycleResult{Cycle: cycle}
	r.updateStats(func(s *Stats) { s.Cycles++ })

	candidates := r.generate(ctx)
	res.Generated = len(candidates)
	candidates = r.validate(candidates)
	res.Valid = len(candidates)

	candidates = r.explainFilter(ctx, candidates)
	res.Explained = len(candidates)

	candidates = r.cardinalityFilter(ctx, candidates)
	res.Accepted = candidates
	util.Infof("cycle %d: generated=%d valid=%d explained=%d accepted=%d", cycle, res.Generated, res.Valid, res.Explained, len(candidates))
	if len(candidates) == 0 {
		return res
	}

	bundle, ok := r.merge(candidates)
	if !ok {
		return res
	}
	res.Bundle = bundle

	res.Outcome = r.execute(ctx, bundle)
	res.Executed = true
	res.CaseDir = r.aggregate(ctx, cycle, bundle, candidates, res.Outcome)
	return res
}

func (r *Runner) generate(ctx context.Context) []Candidate {
	n := r.cfg.Generation.BatchSize
	out := make([]Candidate, 0, n)
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		c := Candidate{Candidate: r.gen.Generate(ctx)}
		r.uniqueName(&c, seen)
		if err := r.store.WriteSQL(c.Name(), c.SQL); err != nil {
			util.Warnf("persist query %s failed: %v", c.Name(), err)
		}
		out = append(out, c)
	}
	util.Detailf("generated %d/%d queries", len(out), n)
	r.updateStats(func(s *Stats) { s.Generated += int64(len(out)) })
	return out
}

// uniqueName redraws the id of c until its name is new within the batch.
// Ids grow by one letter after every eight collisions.
func (r *Runner) uniqueName(c *Candidate, seen map[string]struct{}) {
	length := r.cfg.Generation.IDLength
	if length <= 0 {
		length = len(c.ID)
	}
	for attempt := 0; ; attempt++ {
		if _, dup := seen[c.Name()]; !dup {
			break
		}
		prev := c.Name()
		c.ID = util.RandomID(r.rand, length+attempt/8)
		util.Detailf("query name %s already used in batch, renamed to %s", prev, c.Name())
	}
	seen[c.Name()] = struct{}{}
}

func (r *Runner) validate(candidates []Candidate) []Candidate {
	if r.validator == nil {
		return candidates
	}
	drop := r.cfg.Generation.DropInvalidSQL
	out := candidates[:0]
	var invalid int64
	for _, c := range candidates {
		if err := r.validator.Validate(c.SQL); err != nil {
			invalid++
			util.Warnf("syntax check failed %s dropped=%t: %v\n%s", c.Name(), drop, err, c.SQL)
			if drop {
				continue
			}
		}
		out = append(out, c)
	}
	if invalid > 0 {
		r.updateStats(func(s *Stats) { s.InvalidSQL += invalid })
	}
	return out
}

func (r *Runner) explainFilter(ctx context.Context, candidates []Candidate) []Candidate {
	r.progressMu.Lock()
	r.explained = 0
	r.progressMu.Unlock()

	total := len(candidates)
	type explained struct {
		Candidate
		ok bool
	}
	results := ParallelMap(ctx, candidates, r.cfg.Reference.Workers, func(ctx context.Context, c Candidate) explained {
		plan, ok := r.explainer.Explain(ctx, c.SQL)
		if ok {
			c.Plan = plan
			single := report.Bundle{
				Names: []string{c.Name()},
				Plans: []json.RawMessage{plan.Raw},
			}
			if err := r.store.WriteBundle(r.store.BundlePath(c.Name()), single); err != nil {
				util.Warnf("persist plan %s failed: %v", c.Name(), err)
			}
		}
		r.progressMu.Lock()
		r.explained++
		done := r.explained
		r.progressMu.Unlock()
		if done == total || done%100 == 0 {
			util.Detailf("explained %d/%d", done, total)
		}
		return explained{Candidate: c, ok: ok}
	})

	out := make([]Candidate, 0, len(results))
	for _, res := range results {
		if res.ok {
			out = append(out, res.Candidate)
		}
	}
	r.updateStats(func(s *Stats) { s.Explained += int64(len(out)) })
	return out
}

func (r *Runner) cardinalityFilter(ctx context.Context, candidates []Candidate) []Candidate {
	checked := SequentialMap(ctx, candidates, func(ctx context.Context, c Candidate) Candidate {
		c.Accepted = r.gate.SmallEnough(ctx, c.ProbeSQL)
		return c
	})
	out := checked[:0]
	for _, c := range checked {
		if c.Accepted {
			out = append(out, c)
		}
	}
	return out
}

// merge returns the bundle handed to the engine: the per-query bundle for a
// single survivor, otherwise a freshly written multi bundle.
func (r *Runner) merge(candidates []Candidate) (string, bool) {
	if len(candidates) == 1 {
		return r.store.BundlePath(candidates[0].Name()), true
	}
	b := report.Bundle{
		Names: make([]string, 0, len(candidates)),
		Plans: make([]json.RawMessage, 0, len(candidates)),
	}
	for _, c := range candidates {
		b.Names = append(b.Names, c.Name())
		b.Plans = append(b.Plans, c.Plan.Raw)
	}
	path := r.store.MultiPath(util.RandomID(r.rand, r.cfg.Generation.IDLength))
	if err := r.store.WriteBundle(path, b); err != nil {
		util.Errorf("write merged bundle failed: %v", err)
		return "", false
	}
	util.Infof("generated merged file: %s", path)
	return path, true
}

func (r *Runner) execute(ctx context.Context, bundle string) engine.Outcome {
	if err := r.runLog.Executing(bundle); err != nil {
		util.Warnf("run log: %v", err)
	}
	out := r.engine.Run(ctx, bundle)
	util.Infof("Executed: %s with result code: %d", bundle, out.ExitCode)
	return out
}

func (r *Runner) aggregate(ctx context.Context, cycle int, bundle string, accepted []Candidate, out engine.Outcome) string {
	var caseDir string
	if out.Failed() {
		util.Errorf("error executing plans: %s", bundle)
		if out.Err != nil {
			util.Errorf("engine did not start: %v", out.Err)
		}
		diag := r.engine.Extract(out)
		if err := r.errLog.Record(bundle, out.ExitCode, diag.Failures, diag.Tail); err != nil {
			util.Warnf("error log: %v", err)
		}
		caseDir = r.writeCase(ctx, cycle, bundle, accepted, out, diag)
	}
	if err := r.runLog.Executed(bundle, out.ExitCode); err != nil {
		util.Warnf("run log: %v", err)
	}

	var total int64
	r.updateStats(func(s *Stats) {
		s.Bundles++
		s.TotalQueries += int64(len(accepted))
		if out.Failed() {
			s.Failures++
		}
		total = s.TotalQueries
	})
	status := "SUCCESS"
	if out.Failed() {
		status = "FAIL"
	}
	util.Infof("Executed %d queries with all %s. Total %d queries.", len(accepted), status, total)
	return caseDir
}

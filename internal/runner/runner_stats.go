package runner

import (
	"time"

	"planfuzz/internal/generator"
	"planfuzz/internal/oracle"
	"planfuzz/internal/util"
)

// Stats holds run-wide counters. TotalQueries only moves in the aggregate step.
type Stats struct {
	Cycles       int64
	Generated    int64
	InvalidSQL   int64
	Explained    int64
	Bundles      int64
	Failures     int64
	TotalQueries int64
}

type planStatser interface {
	Stats() oracle.PlanStats
}

type gateStatser interface {
	Stats() oracle.CardinalityStats
}

type generatorStatser interface {
	Stats() generator.Stats
}

func (r *Runner) startStatsLogger() func() {
	interval := time.Duration(r.cfg.Logging.ReportIntervalSeconds) * time.Second
	if interval <= 0 {
		return func() {}
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		var last Stats
		for {
			select {
			case <-ticker.C:
				cur := r.Stats()
				util.Infof(
					"stats cycles=%d generated=%d(+%d) explained=%d(+%d) bundles=%d failures=%d total_queries=%d(+%d)",
					cur.Cycles,
					cur.Generated, cur.Generated-last.Generated,
					cur.Explained, cur.Explained-last.Explained,
					cur.Bundles,
					cur.Failures,
					cur.TotalQueries, cur.TotalQueries-last.TotalQueries,
				)
				r.logOracleStats()
				last = cur
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}

func (r *Runner) logOracleStats() {
	if s, ok := r.explainer.(planStatser); ok {
		ps := s.Stats()
		util.Infof("plan oracle explained=%d errors=%d nested_loop=%d", ps.Explained, ps.Errors, ps.NestedLoop)
	}
	if s, ok := r.gate.(gateStatser); ok {
		cs := s.Stats()
		util.Infof("cardinality probes=%d accepted=%d too_large=%d timeout=%d oom=%d failed=%d malformed=%d",
			cs.Probes, cs.Accepted, cs.TooLarge, cs.Timeout, cs.OOM, cs.Failed, cs.Malformed)
	}
}

// logStats prints the final summary. It reads generator counters, so it must
// run on the cycle goroutine.
func (r *Runner) logStats() {
	cur := r.Stats()
	util.Highlightf("run finished cycles=%d generated=%d invalid_sql=%d explained=%d bundles=%d failures=%d total_queries=%d",
		cur.Cycles, cur.Generated, cur.InvalidSQL, cur.Explained, cur.Bundles, cur.Failures, cur.TotalQueries)
	if s, ok := r.gen.(generatorStatser); ok {
		gs := s.Stats()
		util.Infof("generator candidates=%d predicates=%d dropped=%d domain_errors=%d",
			gs.Candidates, gs.Predicates, gs.DroppedPredicates, gs.DomainErrors)
	}
	r.logOracleStats()
}

package generator

import (
	"context"
	"math/rand"
	"time"

	"planfuzz/internal/config"
	"planfuzz/internal/schema"
	"planfuzz/internal/util"
)

// DomainSource provides literal pools per column.
type DomainSource interface {
	Domain(ctx context.Context, table, column string) ([]any, error)
}

// Generator synthesizes candidate queries from join templates.
// A Generator is single-owner; callers must not share it across goroutines.
type Generator struct {
	Rand      *rand.Rand
	Config    config.GenerationConfig
	Schema    schema.Schema
	Templates schema.Templates
	Seed      int64

	domains DomainSource
	names   []string
	stats   Stats
}

// Stats counts generation outcomes since the generator was created.
type Stats struct {
	Candidates        int64
	Predicates        int64
	DroppedPredicates int64
	DomainErrors      int64
}

// New constructs a Generator. A zero seed is replaced by the current time.
func New(cfg config.GenerationConfig, s schema.Schema, templates schema.Templates, domains DomainSource, seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		Rand:      rand.New(rand.NewSource(seed)),
		Config:    cfg,
		Schema:    s,
		Templates: templates,
		Seed:      seed,
		domains:   domains,
		names:     templates.Names(),
	}
}

// Stats returns a copy of the generation counters.
func (g *Generator) Stats() Stats {
	return g.stats
}

// Generate picks a template uniformly at random, synthesizes predicates for
// it and renders both the measurement and the probe form.
func (g *Generator) Generate(ctx context.Context) Candidate {
	name := g.names[g.Rand.Intn(len(g.names))]
	tmpl := g.Templates[name]
	preds := g.PredicateClause(ctx, tmpl)
	g.stats.Candidates++
	return Candidate{
		Template: name,
		ID:       util.RandomID(g.Rand, g.Config.IDLength),
		SQL:      Assemble(tmpl, preds, false),
		ProbeSQL: Assemble(tmpl, preds, true),
	}
}

// PredicateClause returns the AND-joined synthesized predicates for tmpl,
// or an empty string when none survived.
func (g *Generator) PredicateClause(ctx context.Context, tmpl *schema.Template) string {
	var b SQLBuilder
	b.WriteJoined(g.GeneratePredicates(ctx, tmpl), " AND ")
	return b.String()
}

// GeneratePredicates samples between zero and min(max_predicates, |columns|)
// distinct columns and synthesizes one predicate per column. Absent
// predicates are dropped, so fewer than requested may come back.
func (g *Generator) GeneratePredicates(ctx context.Context, tmpl *schema.Template) []string {
	limit := min(g.Config.MaxPredicates, len(tmpl.Columns))
	count := util.IntRange(g.Rand, 0, limit)
	if count == 0 {
		return nil
	}
	out := make([]string, 0, count)
	for _, idx := range util.SampleIndices(g.Rand, len(tmpl.Columns), count) {
		ref := tmpl.Columns[idx]
		pred, ok := g.Predicate(ctx, ref)
		if !ok {
			g.stats.DroppedPredicates++
			continue
		}
		out = append(out, pred)
	}
	g.stats.Predicates += int64(len(out))
	return out
}

package generator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"planfuzz/internal/schema"
	"planfuzz/internal/util"
)

// PredicateKind enumerates single-column predicate shapes.
type PredicateKind int

// Predicate kinds.
const (
	PredicateEq PredicateKind = iota
	PredicateLt
	PredicateGt
	PredicateIn
	PredicateNotNull
	PredicateLike
	PredicateBetween
)

func (k PredicateKind) String() string {
	switch k {
	case PredicateEq:
		return "eq"
	case PredicateLt:
		return "lt"
	case PredicateGt:
		return "gt"
	case PredicateIn:
		return "in"
	case PredicateNotNull:
		return "not_null"
	case PredicateLike:
		return "like"
	case PredicateBetween:
		return "between"
	}
	return "unknown"
}

var (
	textKinds    = []PredicateKind{PredicateEq, PredicateLt, PredicateGt, PredicateIn, PredicateNotNull, PredicateLike}
	integerKinds = []PredicateKind{PredicateEq, PredicateLt, PredicateGt, PredicateNotNull, PredicateIn}
)

// KindsFor lists the predicate kinds offered for a column type.
func (g *Generator) KindsFor(typ schema.ColumnType) []PredicateKind {
	var kinds []PredicateKind
	switch typ {
	case schema.TypeText:
		kinds = textKinds
	case schema.TypeInteger:
		kinds = integerKinds
	default:
		return nil
	}
	if g.Config.EnableBetween {
		kinds = append(append([]PredicateKind(nil), kinds...), PredicateBetween)
	}
	return kinds
}

// Predicate picks a kind uniformly for the column type and builds it. The
// second result is false when the chosen kind cannot be built; the caller
// drops the candidate instead of trying another kind.
func (g *Generator) Predicate(ctx context.Context, ref schema.ColumnRef) (string, bool) {
	col, ok := g.Schema.Column(ref.Table, ref.Column)
	if !ok {
		return "", false
	}
	kinds := g.KindsFor(col.Type)
	if len(kinds) == 0 {
		return "", false
	}
	return g.BuildPredicate(ctx, kinds[g.Rand.Intn(len(kinds))], ref)
}

// BuildPredicate renders one predicate of the given kind on ref.
func (g *Generator) BuildPredicate(ctx context.Context, kind PredicateKind, ref schema.ColumnRef) (string, bool) {
	col, ok := g.Schema.Column(ref.Table, ref.Column)
	if !ok {
		return "", false
	}
	if kind == PredicateNotNull {
		if col.NotNull {
			return "", false
		}
		return fmt.Sprintf("%s IS NOT NULL", ref.Ref), true
	}
	if kind == PredicateLike && col.Type != schema.TypeText {
		return "", false
	}
	domain := g.domain(ctx, ref)
	if len(domain) == 0 {
		return "", false
	}
	switch kind {
	case PredicateEq:
		return fmt.Sprintf("%s = %s", ref.Ref, g.pickLiteral(domain)), true
	case PredicateLt:
		return fmt.Sprintf("%s < %s", ref.Ref, g.pickLiteral(domain)), true
	case PredicateGt:
		return fmt.Sprintf("%s > %s", ref.Ref, g.pickLiteral(domain)), true
	case PredicateBetween:
		lo, hi := g.pickRange(domain)
		return fmt.Sprintf("%s BETWEEN %s AND %s", ref.Ref, FormatLiteral(lo), FormatLiteral(hi)), true
	case PredicateIn:
		values := g.pickMembership(domain)
		literals := make([]string, 0, len(values))
		for _, v := range values {
			literals = append(literals, FormatLiteral(v))
		}
		return fmt.Sprintf("%s IN (%s)", ref.Ref, strings.Join(literals, ", ")), true
	case PredicateLike:
		return fmt.Sprintf("%s LIKE %s", ref.Ref, g.likePattern(domain[g.Rand.Intn(len(domain))])), true
	}
	return "", false
}

func (g *Generator) domain(ctx context.Context, ref schema.ColumnRef) []any {
	if g.domains == nil {
		return nil
	}
	values, err := g.domains.Domain(ctx, ref.Table, ref.Column)
	if err != nil {
		g.stats.DomainErrors++
		util.Warnf("domain unavailable column=%s.%s err=%v", ref.Table, ref.Column, err)
		return nil
	}
	return values
}

func (g *Generator) pickLiteral(domain []any) string {
	return FormatLiteral(domain[g.Rand.Intn(len(domain))])
}

// pickRange draws two values with replacement and orders them.
func (g *Generator) pickRange(domain []any) (any, any) {
	lo := domain[g.Rand.Intn(len(domain))]
	hi := domain[g.Rand.Intn(len(domain))]
	if compareValues(lo, hi) > 0 {
		lo, hi = hi, lo
	}
	return lo, hi
}

// pickMembership samples between 1 and min(max_in_values, |domain|) distinct
// values without replacement and returns them sorted.
func (g *Generator) pickMembership(domain []any) []any {
	maxValues := g.Config.MaxInValues
	if maxValues <= 0 {
		maxValues = 10
	}
	n := util.IntRange(g.Rand, 1, min(maxValues, len(domain)))
	values := make([]any, 0, n)
	for _, idx := range util.SampleIndices(g.Rand, len(domain), n) {
		values = append(values, domain[idx])
	}
	sort.SliceStable(values, func(i, j int) bool {
		return compareValues(values[i], values[j]) < 0
	})
	return values
}

// likePattern turns a literal into a '%fragment%' pattern. Hyphenated values
// contribute one hyphen-separated part, then space-separated values one word,
// otherwise a random non-empty substring.
func (g *Generator) likePattern(v any) string {
	s, ok := v.(string)
	if !ok {
		s = FormatLiteral(v)
	}
	var frag string
	switch {
	case strings.Contains(s, "-"):
		parts := strings.Split(s, "-")
		frag = parts[g.Rand.Intn(len(parts))]
	case strings.Contains(s, " "):
		parts := strings.Split(s, " ")
		frag = parts[g.Rand.Intn(len(parts))]
	default:
		runes := []rune(s)
		if len(runes) > 0 {
			start := g.Rand.Intn(len(runes))
			end := start + 1 + g.Rand.Intn(len(runes)-start)
			frag = string(runes[start:end])
		}
	}
	return "'%" + frag + "%'"
}

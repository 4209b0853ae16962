package generator

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"planfuzz/internal/config"
	"planfuzz/internal/schema"
)

func TestAssembleProbeForm(t *testing.T) {
	tmpl := testTemplates()["2a"]
	got := Assemble(tmpl, "", true)
	want := "SELECT COUNT(*)\nFROM company_name AS cn, movie_companies AS mc, title AS t\nWHERE cn.id = mc.company_id AND mc.movie_id = t.id;"
	if got != want {
		t.Fatalf("unexpected probe:\n%s\nwant:\n%s", got, want)
	}
}

func TestAssembleMeasurementForm(t *testing.T) {
	tmpl := testTemplates()["2a"]
	got := Assemble(tmpl, "t.production_year > 2000 AND cn.country_code = 'us'", false)
	want := "SELECT MIN(t.title) AS movie_title, MIN(cn.country_code) AS country\n" +
		"FROM company_name AS cn, movie_companies AS mc, title AS t\n" +
		"WHERE cn.id = mc.company_id AND mc.movie_id = t.id\n" +
		"AND t.production_year > 2000 AND cn.country_code = 'us';"
	if got != want {
		t.Fatalf("unexpected measurement:\n%s\nwant:\n%s", got, want)
	}
}

func TestAssembleWithoutJoins(t *testing.T) {
	tmpl := testTemplates()["T1"]
	if got := Assemble(tmpl, "", true); got != "SELECT COUNT(*)\nFROM title AS t;" {
		t.Fatalf("expected WHERE to be omitted, got %q", got)
	}
	if got := Assemble(tmpl, "t.production_year > 2000", true); got != "SELECT COUNT(*)\nFROM title AS t\nWHERE t.production_year > 2000;" {
		t.Fatalf("expected predicates directly after WHERE, got %q", got)
	}
}

func TestPropertyAssembleMatchesTemplate(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("probe with no predicates has exactly the template FROM/WHERE", prop.ForAll(
		func(tables, joins int) bool {
			tmpl := &schema.Template{}
			from := make([]string, 0, tables)
			for i := 0; i < tables; i++ {
				tmpl.From = append(tmpl.From, schema.FromItem{Table: fmt.Sprintf("tbl%d", i), Alias: fmt.Sprintf("a%d", i)})
				from = append(from, fmt.Sprintf("tbl%d AS a%d", i, i))
			}
			for i := 0; i < joins; i++ {
				tmpl.Join = append(tmpl.Join, fmt.Sprintf("a%d.id = a%d.ref", i%tables, (i+1)%tables))
			}
			got := Assemble(tmpl, "", true)
			want := "SELECT COUNT(*)\nFROM " + strings.Join(from, ", ")
			if joins > 0 {
				want += "\nWHERE " + strings.Join(tmpl.Join, " AND ")
			}
			return got == want+";"
		},
		gen.IntRange(1, 8),
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}

func TestPropertyMembershipSortedDistinct(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("IN lists are sorted, distinct and bounded", prop.ForAll(
		func(size int, seed int64) bool {
			domain := make([]any, 0, size)
			for i := 0; i < size; i++ {
				domain = append(domain, int64(i*7-50))
			}
			g := New(config.GenerationConfig{MaxInValues: 10}, nil, schema.Templates{"x": {}}, nil, seed)
			values := g.pickMembership(domain)
			if len(values) < 1 || len(values) > min(10, size) {
				return false
			}
			for i := 1; i < len(values); i++ {
				if compareValues(values[i-1], values[i]) >= 0 {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 60),
		gen.Int64Range(1, 1<<40),
	))

	properties.Property("BETWEEN bounds are ordered", prop.ForAll(
		func(words []string, seed int64) bool {
			if len(words) == 0 {
				return true
			}
			domain := make([]any, 0, len(words))
			for _, w := range words {
				domain = append(domain, w)
			}
			g := New(config.GenerationConfig{}, nil, schema.Templates{"x": {}}, nil, seed)
			lo, hi := g.pickRange(domain)
			return compareValues(lo, hi) <= 0
		},
		gen.SliceOf(gen.AlphaString()),
		gen.Int64Range(1, 1<<40),
	))

	properties.TestingRun(t)
}

func TestMembershipRendering(t *testing.T) {
	g, _ := newTestGenerator(t, 8)
	ref := schema.ColumnRef{Ref: "cn.country_code", Table: "company_name", Column: "country_code"}
	for i := 0; i < 100; i++ {
		pred, ok := g.BuildPredicate(context.Background(), PredicateIn, ref)
		if !ok {
			t.Fatalf("expected membership predicate")
		}
		if !strings.HasPrefix(pred, "cn.country_code IN (") || !strings.HasSuffix(pred, ")") {
			t.Fatalf("unexpected membership predicate %q", pred)
		}
		body := strings.TrimSuffix(strings.TrimPrefix(pred, "cn.country_code IN ("), ")")
		items := strings.Split(body, ", ")
		for j := 1; j < len(items); j++ {
			if items[j-1] >= items[j] {
				t.Fatalf("membership list not sorted: %q", pred)
			}
		}
	}
}

func TestCompareValuesNumeric(t *testing.T) {
	if compareValues(int64(100), int64(20)) <= 0 {
		t.Fatalf("expected numeric comparison, not lexical")
	}
	if compareValues(1.5, int64(2)) >= 0 {
		t.Fatalf("expected mixed numeric comparison")
	}
	if compareValues("b", "a") <= 0 {
		t.Fatalf("expected lexical comparison for strings")
	}
}

func TestFormatLiteral(t *testing.T) {
	cases := map[string]any{
		"NULL":   nil,
		"'us'":   "us",
		"1999":   int64(1999),
		"2.5":    2.5,
		"-40":    -40,
		"'a b'":  "a b",
		"'%x%'":  "%x%",
		"'2049'": "2049",
	}
	for want, in := range cases {
		if got := FormatLiteral(in); got != want {
			t.Fatalf("FormatLiteral(%#v)=%s want %s", in, got, want)
		}
	}
}

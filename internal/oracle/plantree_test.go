package oracle

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func decode(t *testing.T, doc string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestContainsNode(t *testing.T) {
	if ContainsNode(decode(t, hashJoinPlan), "Nested Loop") {
		t.Fatalf("unexpected nested loop in hash join plan")
	}
	if !ContainsNode(decode(t, nestedLoopPlan), "Nested Loop") {
		t.Fatalf("expected nested loop to be found")
	}
	// Matching is on the tag only, not on arbitrary string values.
	if ContainsNode(decode(t, `{"Plan":{"Node Type":"Seq Scan","Alias":"Nested Loop"}}`), "Nested Loop") {
		t.Fatalf("expected non-tag fields to be ignored")
	}
	if ContainsNode(nil, "Nested Loop") || ContainsNode("Nested Loop", "Nested Loop") {
		t.Fatalf("expected scalars to contain nothing")
	}
}

func TestNodeTypes(t *testing.T) {
	got := NodeTypes(decode(t, hashJoinPlan))
	want := []string{"Aggregate", "Hash Join", "Seq Scan", "Hash"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected node types: %v", got)
	}
}

// chain builds a plan where node types[i] is the single child of types[i-1].
func chain(types []string) map[string]any {
	var node map[string]any
	for i := len(types) - 1; i >= 0; i-- {
		cur := map[string]any{"Node Type": types[i]}
		if node != nil {
			cur["Plans"] = []any{node}
		}
		node = cur
	}
	return map[string]any{"Plan": node}
}

func TestPropertyNestedLoopDetectedAtAnyDepth(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	names := []string{"Hash Join", "Seq Scan", "Hash", "Merge Join", "Sort", "Aggregate", "Nested Loop"}
	properties.Property("detection matches presence", prop.ForAll(
		func(picks []int) bool {
			types := make([]string, 0, len(picks))
			want := false
			for _, p := range picks {
				types = append(types, names[p])
				if names[p] == "Nested Loop" {
					want = true
				}
			}
			return ContainsNode(chain(types), "Nested Loop") == want
		},
		gen.SliceOf(gen.IntRange(0, len(names)-1)),
	))

	properties.TestingRun(t)
}

package generator

import (
	"fmt"

	"planfuzz/internal/schema"
)

// Candidate is one generated query in measurement and probe form.
type Candidate struct {
	Template string
	ID       string
	SQL      string
	ProbeSQL string
}

// Name is the identifier used for the query file and the bundle entry.
func (c Candidate) Name() string {
	return c.Template + "_" + c.ID
}

// Assemble renders tmpl with the given predicate conjunction. countStar selects
// the probe form (COUNT(*)); otherwise every projected attribute is wrapped in
// MIN(...) to keep single-row output. Join predicates are always included.
//
// A template with no join predicates would leave a bare WHERE; the keyword is
// omitted when there is nothing to filter on, and synthesized predicates follow
// WHERE directly when there are no joins.
func Assemble(tmpl *schema.Template, predicates string, countStar bool) string {
	var b SQLBuilder
	b.Write("SELECT ")
	if countStar || len(tmpl.Select) == 0 {
		b.Write("COUNT(*)")
	} else {
		items := make([]string, 0, len(tmpl.Select))
		for _, sel := range tmpl.Select {
			items = append(items, fmt.Sprintf("MIN(%s) AS %s", sel.Attr, sel.Rename))
		}
		b.WriteJoined(items, ", ")
	}
	b.Write("\nFROM ")
	from := make([]string, 0, len(tmpl.From))
	for _, f := range tmpl.From {
		from = append(from, fmt.Sprintf("%s AS %s", f.Table, f.Alias))
	}
	b.WriteJoined(from, ", ")
	switch {
	case len(tmpl.Join) > 0:
		b.Write("\nWHERE ")
		b.WriteJoined(tmpl.Join, " AND ")
		if predicates != "" {
			b.Write("\nAND ")
			b.Write(predicates)
		}
	case predicates != "":
		b.Write("\nWHERE ")
		b.Write(predicates)
	}
	b.Write(";")
	return b.String()
}

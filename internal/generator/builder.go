package generator

import "strings"

// SQLBuilder assembles query text from fragments.
type SQLBuilder struct {
	sb strings.Builder
}

// Write appends raw SQL text to the builder.
func (b *SQLBuilder) Write(s string) {
	b.sb.WriteString(s)
}

// WriteJoined appends items separated by sep.
func (b *SQLBuilder) WriteJoined(items []string, sep string) {
	for i, item := range items {
		if i > 0 {
			b.sb.WriteString(sep)
		}
		b.sb.WriteString(item)
	}
}

// String returns the assembled SQL statement.
func (b *SQLBuilder) String() string {
	return b.sb.String()
}

// Package schema defines the schema and join template artifacts consumed by the generator.
package schema

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/pkg/errors"
)

// ColumnType enumerates the declared column types.
type ColumnType string

// Column type constants understood by the predicate synthesizer.
const (
	TypeText    ColumnType = "text"
	TypeInteger ColumnType = "integer"
)

// Column describes a table column.
type Column struct {
	Type    ColumnType `json:"type"`
	NotNull bool       `json:"not_null"`
}

// Schema maps table name to column name to column definition.
type Schema map[string]map[string]Column

// Column looks up a column definition.
func (s Schema) Column(table, column string) (Column, bool) {
	cols, ok := s[table]
	if !ok {
		return Column{}, false
	}
	col, ok := cols[column]
	return col, ok
}

// SelectItem is one projected attribute of a template.
type SelectItem struct {
	Attr   string `json:"attr"`
	Table  string `json:"table"`
	Alias  string `json:"alias"`
	Column string `json:"column"`
	Rename string `json:"rename"`
}

// FromItem is one table reference of a template.
type FromItem struct {
	Table string `json:"table"`
	Alias string `json:"alias"`
}

// ColumnRef is a predicate candidate reachable from the FROM list.
// Ref is the alias-qualified column, e.g. "t.production_year".
type ColumnRef struct {
	Ref    string `json:"alias"`
	Table  string `json:"table"`
	Column string `json:"column"`
}

// Template is one join-aggregate query shape. Templates are shared read-only.
type Template struct {
	Name    string       `json:"-"`
	Select  []SelectItem `json:"select"`
	From    []FromItem   `json:"from"`
	Join    []string     `json:"join"`
	Columns []ColumnRef  `json:"columns"`
}

// Templates maps template name to template.
type Templates map[string]*Template

// Names returns template names in lexical order, so a fixed seed replays the same picks.
func (t Templates) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadSchema reads the schema artifact.
func LoadSchema(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read schema %s", path)
	}
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "parse schema %s", path)
	}
	for table, cols := range s {
		for name, col := range cols {
			if col.Type != TypeText && col.Type != TypeInteger {
				return nil, errors.Errorf("schema %s: column %s.%s has unsupported type %q", path, table, name, col.Type)
			}
		}
	}
	return s, nil
}

// LoadTemplates reads the template artifact.
func LoadTemplates(path string) (Templates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read templates %s", path)
	}
	var t Templates
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrapf(err, "parse templates %s", path)
	}
	for name, tmpl := range t {
		if tmpl == nil {
			delete(t, name)
			continue
		}
		tmpl.Name = name
	}
	if len(t) == 0 {
		return nil, errors.Errorf("templates %s: no templates", path)
	}
	return t, nil
}

// Validate checks that every template references known schema columns.
func Validate(s Schema, templates Templates) error {
	for _, name := range templates.Names() {
		tmpl := templates[name]
		if len(tmpl.From) == 0 {
			return errors.Errorf("template %s: empty from list", name)
		}
		for _, f := range tmpl.From {
			if _, ok := s[f.Table]; !ok {
				return errors.Errorf("template %s: unknown table %s", name, f.Table)
			}
		}
		for _, c := range tmpl.Columns {
			if _, ok := s.Column(c.Table, c.Column); !ok {
				return errors.Errorf("template %s: unknown column %s.%s", name, c.Table, c.Column)
			}
		}
		for _, sel := range tmpl.Select {
			if _, ok := s.Column(sel.Table, sel.Column); !ok {
				return errors.Errorf("template %s: unknown select column %s.%s", name, sel.Table, sel.Column)
			}
		}
	}
	return nil
}

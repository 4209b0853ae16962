package validator

import (
	"sync"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/mysql"
	_ "github.com/pingcap/tidb/pkg/types/parser_driver" // Register TiDB parser driver.
	"github.com/pkg/errors"
)

// ErrNotSelect is returned for statements that parse but are not a single SELECT.
var ErrNotSelect = errors.New("expected a single SELECT statement")

// Validator checks generated SQL for syntactic validity before it is sent
// to any backend. It is safe for concurrent use.
//
// The grammar is TiDB's, run with NO_BACKSLASH_ESCAPES so string literals
// follow standard SQL. Keywords reserved only on the MySQL side still fail
// to parse, so callers treat a failure as advisory unless told otherwise.
type Validator struct {
	mu     sync.Mutex
	parser *parser.Parser
}

// New returns a Validator instance.
func New() *Validator {
	p := parser.New()
	p.SetSQLMode(mysql.ModeNoBackslashEscapes)
	return &Validator{parser: p}
}

// Validate parses sql and requires exactly one SELECT statement.
func (v *Validator) Validate(sql string) error {
	v.mu.Lock()
	stmts, _, err := v.parser.Parse(sql, "", "")
	v.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "parse")
	}
	if len(stmts) != 1 {
		return errors.Wrapf(ErrNotSelect, "got %d statements", len(stmts))
	}
	sel, ok := stmts[0].(*ast.SelectStmt)
	if !ok {
		return ErrNotSelect
	}
	if sel.From == nil {
		return errors.New("select has no FROM clause")
	}
	return nil
}

package oracle

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"planfuzz/internal/config"
	"planfuzz/internal/util"
)

// Plan is the root element of a structured EXPLAIN result.
type Plan struct {
	// Raw is the root element exactly as returned by the reference engine.
	Raw json.RawMessage
	// Root is the decoded form of Raw.
	Root map[string]any
}

// MarshalJSON writes the plan back as returned by the reference engine.
func (p Plan) MarshalJSON() ([]byte, error) {
	if len(p.Raw) == 0 {
		return json.Marshal(p.Root)
	}
	return p.Raw, nil
}

// PlanStats counts plan oracle outcomes.
type PlanStats struct {
	Explained  int64
	Errors     int64
	NestedLoop int64
}

// PlanOracle asks the reference engine planner for a plan and rejects plan
// shapes the engine under test does not support. It is safe for concurrent
// use; the pool bounds how many explains run at once.
type PlanOracle struct {
	pool *sql.DB
	cfg  config.ReferenceConfig

	explained  atomic.Int64
	failed     atomic.Int64
	nestedLoop atomic.Int64
}

// NewPlanOracle wraps an open reference pool.
func NewPlanOracle(pool *sql.DB, cfg config.ReferenceConfig) *PlanOracle {
	return &PlanOracle{pool: pool, cfg: cfg}
}

// Stats returns a snapshot of the oracle counters.
func (o *PlanOracle) Stats() PlanStats {
	return PlanStats{
		Explained:  o.explained.Load(),
		Errors:     o.failed.Load(),
		NestedLoop: o.nestedLoop.Load(),
	}
}

// SessionStatements lists the statements issued on a checked-out connection
// before each EXPLAIN.
func (o *PlanOracle) SessionStatements() []string {
	stmts := make([]string, 0, len(o.cfg.DisabledStrategies)+1)
	if o.cfg.StatementTimeoutMs > 0 {
		stmts = append(stmts, fmt.Sprintf("SET statement_timeout = %d", o.cfg.StatementTimeoutMs))
	}
	for _, name := range o.cfg.DisabledStrategies {
		stmts = append(stmts, fmt.Sprintf("SET %s = off", name))
	}
	return stmts
}

// ExplainSQL renders the structured explain request for query.
func ExplainSQL(query string) string {
	q := strings.TrimRight(strings.TrimSpace(query), ";")
	return "EXPLAIN (FORMAT JSON) " + strings.TrimSpace(q)
}

// Explain returns the plan for query. The second result is false when the
// explain failed or the plan contains the forbidden node; failures are logged
// together with the query and never returned to the caller.
func (o *PlanOracle) Explain(ctx context.Context, query string) (Plan, bool) {
	plan, err := o.explain(ctx, query)
	if err != nil {
		o.failed.Add(1)
		util.Warnf("explain failed: %v\n%s", err, query)
		return Plan{}, false
	}
	o.explained.Add(1)
	if ContainsNode(plan.Root, o.cfg.ForbiddenNode) {
		o.nestedLoop.Add(1)
		util.Detailf("plan rejected node=%q types=%v", o.cfg.ForbiddenNode, NodeTypes(plan.Root))
		return Plan{}, false
	}
	return plan, true
}

func (o *PlanOracle) explain(ctx context.Context, query string) (Plan, error) {
	qctx, cancel := o.withTimeout(ctx)
	defer cancel()
	conn, err := o.pool.Conn(qctx)
	if err != nil {
		return Plan{}, errors.Wrap(err, "checkout connection")
	}
	defer util.CloseWithErr(conn, "reference conn")
	for _, stmt := range o.SessionStatements() {
		if _, err := conn.ExecContext(qctx, stmt); err != nil {
			return Plan{}, errors.Wrapf(err, "session setting %q", stmt)
		}
	}
	var raw []byte
	if err := conn.QueryRowContext(qctx, ExplainSQL(query)).Scan(&raw); err != nil {
		return Plan{}, errors.Wrap(err, "explain")
	}
	return DecodePlan(raw)
}

// DecodePlan extracts the root element from the JSON array produced by
// EXPLAIN (FORMAT JSON).
func DecodePlan(raw []byte) (Plan, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return Plan{}, errors.Wrap(err, "decode explain output")
	}
	if len(elems) == 0 {
		return Plan{}, errors.New("explain output is empty")
	}
	root := map[string]any{}
	if err := json.Unmarshal(elems[0], &root); err != nil {
		return Plan{}, errors.Wrap(err, "decode plan root")
	}
	return Plan{Raw: append(json.RawMessage(nil), elems[0]...), Root: root}, nil
}

// withTimeout bounds one explain round trip slightly above the server-side
// statement timeout so the server reports the cancellation first.
func (o *PlanOracle) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.StatementTimeoutMs <= 0 {
		return context.WithCancel(ctx)
	}
	d := time.Duration(o.cfg.StatementTimeoutMs+o.cfg.ConnectTimeoutMs) * time.Millisecond
	return context.WithTimeout(ctx, d)
}

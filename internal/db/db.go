package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as a database/sql driver.
	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/pkg/errors"

	"planfuzz/internal/config"
	"planfuzz/internal/util"
)

const (
	referenceDriver  = "pgx"
	analyticalDriver = "duckdb"
)

// ErrNoReference is returned when no reference candidate accepted a connection.
var ErrNoReference = errors.New("no reference database candidate reachable")

var sqlOpen = sql.Open

// OpenReference tries each configured candidate in order and returns a pool
// for the first one that answers a ping within the connect timeout. The pool
// never holds more than MaxConns connections.
func OpenReference(ctx context.Context, cfg config.ReferenceConfig) (*sql.DB, error) {
	timeout := time.Duration(cfg.ConnectTimeoutMs) * time.Millisecond
	var lastErr error
	for i, dsn := range cfg.Candidates {
		pool, err := openCandidate(ctx, dsn, timeout)
		if err != nil {
			util.Warnf("reference candidate %d unavailable: %v", i, err)
			lastErr = err
			continue
		}
		pool.SetMaxOpenConns(cfg.MaxConns)
		pool.SetMaxIdleConns(cfg.MaxConns)
		util.Infof("reference connected candidate=%d dsn=%s max_conns=%d", i, redactDSN(dsn), cfg.MaxConns)
		return pool, nil
	}
	if lastErr != nil {
		return nil, errors.Wrap(ErrNoReference, lastErr.Error())
	}
	return nil, ErrNoReference
}

func openCandidate(ctx context.Context, dsn string, timeout time.Duration) (*sql.DB, error) {
	pool, err := sqlOpen(referenceDriver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	pingCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := pool.PingContext(pingCtx); err != nil {
		util.CloseWithErr(pool, "reference candidate")
		return nil, errors.Wrap(err, "ping")
	}
	return pool, nil
}

// OpenAnalytical opens the analytical database file read-only for in-process
// domain queries.
func OpenAnalytical(ctx context.Context, cfg config.AnalyticalConfig) (*sql.DB, error) {
	dsn := cfg.Database
	if !strings.Contains(dsn, "access_mode=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "access_mode=read_only"
	}
	conn, err := sqlOpen(analyticalDriver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open analytical %s", cfg.Database)
	}
	if err := conn.PingContext(ctx); err != nil {
		util.CloseWithErr(conn, "analytical")
		return nil, errors.Wrapf(err, "ping analytical %s", cfg.Database)
	}
	return conn, nil
}

// redactDSN masks password values in key=value and URL style DSNs.
func redactDSN(dsn string) string {
	if at := strings.Index(dsn, "@"); at > 0 && strings.Contains(dsn, "://") {
		scheme := strings.Index(dsn, "://") + 3
		if colon := strings.Index(dsn[scheme:at], ":"); colon >= 0 {
			return dsn[:scheme+colon+1] + "***" + dsn[at:]
		}
		return dsn
	}
	fields := strings.Fields(dsn)
	for i, f := range fields {
		if strings.HasPrefix(f, "password=") {
			fields[i] = "password=***"
		}
	}
	return strings.Join(fields, " ")
}

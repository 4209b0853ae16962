// Package domain memoizes per-column distinct value lists used as literal pools.
package domain

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"planfuzz/internal/util"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// Querier is the data-access handle the cache reads domains through.
// *sql.DB and *sql.Conn both satisfy it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Key identifies one column.
type Key struct {
	Table  string
	Column string
}

func (k Key) String() string {
	return k.Table + "." + k.Column
}

// Cache holds distinct non-null values per column for the process lifetime.
// String values containing a single quote are dropped since they cannot be
// inlined as literals.
type Cache struct {
	querier Querier
	mu      sync.RWMutex
	entries map[Key][]any
	group   singleflight.Group
	fetches atomic.Int64
}

// New returns a cache reading through querier.
func New(querier Querier) *Cache {
	return &Cache{querier: querier, entries: make(map[Key][]any)}
}

// DomainQuery renders the distinct-value query for a column.
func DomainQuery(table, column string) string {
	return fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL ORDER BY %s", column, table, column, column)
}

// Domain returns the ordered literal pool for table.column. The first call per
// key runs one query; later calls are served from memory. Concurrent callers
// for the same key share a single fetch and distinct keys do not block each other.
func (c *Cache) Domain(ctx context.Context, table, column string) ([]any, error) {
	key := Key{Table: table, Column: column}
	c.mu.RLock()
	values, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return values, nil
	}
	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		c.mu.RLock()
		cached, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}
		fetched, err := c.fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = fetched
		c.mu.Unlock()
		util.Detailf("domain loaded column=%s values=%d", key, len(fetched))
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]any), nil
}

// Fetches reports how many underlying queries the cache has issued.
func (c *Cache) Fetches() int64 {
	return c.fetches.Load()
}

// Len reports how many columns are cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) fetch(ctx context.Context, key Key) ([]any, error) {
	c.fetches.Add(1)
	rows, err := c.querier.QueryContext(ctx, DomainQuery(key.Table, key.Column))
	if err != nil {
		return nil, errors.Wrapf(err, "domain %s", key)
	}
	defer util.CloseWithErr(rows, "domain rows")
	values := make([]any, 0, 64)
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrapf(err, "scan domain %s", key)
		}
		v := normalizeValue(raw)
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.Contains(s, "'") {
			continue
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "read domain %s", key)
	}
	return values, nil
}

// normalizeValue folds driver-specific scalar types into string, int64 or float64.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case string:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case float64:
		return x
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	default:
		return fmt.Sprint(x)
	}
}

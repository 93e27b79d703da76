package asyncsql

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var returningClause = regexp.MustCompile(`(?i)\bRETURNING\b`)

// Execute 在该连接上执行一条参数化语句。有活动事务时在事务内执行。
// 语句一旦发出就会执行完毕，ctx 只在发出前检查。
func (c *Conn) Execute(ctx context.Context, kind Kind, query string, params ...any) (*Result, error) {
	if c.released.Load() {
		return nil, ErrConnReleased
	}
	if err := ctx.Err(); err != nil {
		return nil, c.normalizer().statement(c, query, err)
	}

	c.logger.Debugf("[%s] Executing SQL %s: %s", c.pool, kind, query)
	start := time.Now()
	ctx = context.WithoutCancel(ctx)

	var (
		res = &Result{Kind: kind}
		err error
	)
	switch kind {
	case KindQuery:
		res.Rows, err = c.query(ctx, query, params)
	case KindMutate:
		res.Update, err = c.mutate(ctx, query, params)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}

	status := StatusSuccess
	if err != nil {
		status = StatusFail
	}
	c.reporter.ObserveExecuteDuration(c.pool, kind.String(), 1, time.Since(start), status)

	if err != nil {
		return nil, c.normalizer().statement(c, query, err)
	}
	return res, nil
}

// Query 执行查询，返回行集（无结果时为空切片）
func (c *Conn) Query(ctx context.Context, query string, params ...any) (RowSet, error) {
	res, err := c.Execute(ctx, KindQuery, query, params...)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// Mutate 执行变更语句
func (c *Conn) Mutate(ctx context.Context, query string, params ...any) (*UpdateOutcome, error) {
	res, err := c.Execute(ctx, KindMutate, query, params...)
	if err != nil {
		return nil, err
	}
	return res.Update, nil
}

// Insert 执行插入，生成的主键在 UpdateOutcome.GeneratedKeys
func (c *Conn) Insert(ctx context.Context, query string, params ...any) (*UpdateOutcome, error) {
	return c.Mutate(ctx, query, params...)
}

func (c *Conn) Update(ctx context.Context, query string, params ...any) (*UpdateOutcome, error) {
	return c.Mutate(ctx, query, params...)
}

func (c *Conn) Delete(ctx context.Context, query string, params ...any) (*UpdateOutcome, error) {
	return c.Mutate(ctx, query, params...)
}

func (c *Conn) query(ctx context.Context, query string, params []any) (RowSet, error) {
	rows, err := c.target().QueryxContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := RowSet{}
	for rows.Next() {
		rec := make(map[string]any)
		if err := rows.MapScan(rec); err != nil {
			return nil, err
		}
		out = append(out, toRecord(rec))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Conn) mutate(ctx context.Context, query string, params []any) (*UpdateOutcome, error) {
	if c.dialect == DialectPostgreSQL && returningClause.MatchString(query) {
		return c.mutateReturning(ctx, query, params)
	}

	res, err := c.target().ExecContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}

	out := &UpdateOutcome{GeneratedKeys: []int64{}}
	if n, err := res.RowsAffected(); err == nil {
		out.AffectedCount = n
	}
	if c.dialect.supportsLastInsertID() && isInsertStatement(query) && out.AffectedCount > 0 {
		if id, err := res.LastInsertId(); err == nil {
			out.GeneratedKeys = append(out.GeneratedKeys, id)
		}
	}
	return out, nil
}

// mutateReturning PostgreSQL 通过 RETURNING 的第一列获取生成的主键
func (c *Conn) mutateReturning(ctx context.Context, query string, params []any) (*UpdateOutcome, error) {
	rows, err := c.target().QueryxContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := &UpdateOutcome{GeneratedKeys: []int64{}}
	for rows.Next() {
		cols, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		out.AffectedCount++
		if len(cols) == 0 {
			continue
		}
		if key, ok := toInt64(cols[0]); ok {
			out.GeneratedKeys = append(out.GeneratedKeys, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func isInsertStatement(query string) bool {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "INSERT", "REPLACE":
		return true
	}
	return false
}

func toRecord(m map[string]any) Record {
	rec := make(Record, len(m))
	for k, v := range m {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		rec[k] = v
	}
	return rec
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case uint32:
		return int64(n), true
	case []byte:
		i, err := strconv.ParseInt(string(n), 10, 64)
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

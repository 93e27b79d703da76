package asyncsql

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// 批量操作名，用于日志与指标
const (
	OpBatchInsert = "batch_insert"
	OpBatchUpdate = "batch_update"
	OpBatchDelete = "batch_delete"
)

// accumulateFunc 每条成功执行后累积结果
type accumulateFunc func(out *UpdateOutcome, keys []int64) ([]int64, error)

// collectFirstKey 插入：每条取第一个生成的主键
func collectFirstKey(out *UpdateOutcome, keys []int64) ([]int64, error) {
	if out == nil || len(out.GeneratedKeys) == 0 {
		return keys, ErrNoGeneratedKey
	}
	return append(keys, out.GeneratedKeys[0]), nil
}

// discardOutcome 更新/删除：只关心是否成功
func discardOutcome(_ *UpdateOutcome, keys []int64) ([]int64, error) {
	return keys, nil
}

// batchRun 一次批量执行的状态：同一模板、按序的参数集、当前游标与累积结果
type batchRun struct {
	id         string
	op         string
	query      string
	sets       [][]any
	cursor     int
	keys       []int64
	conn       *Conn
	accumulate accumulateFunc
}

// step 执行游标处的一条；失败时事务已回滚
func (r *batchRun) step(ctx context.Context) error {
	idx := r.cursor

	// 取消只在两条之间生效
	if err := ctx.Err(); err != nil {
		se := r.conn.normalizer().statement(r.conn, r.query, err)
		return r.fail(idx, se)
	}

	res, err := r.conn.Execute(ctx, KindMutate, r.query, r.sets[idx]...)
	if err != nil {
		return r.fail(idx, err)
	}

	keys, err := r.accumulate(res.Update, r.keys)
	if err != nil {
		se := r.conn.normalizer().statement(r.conn, r.query, err)
		return r.fail(idx, se)
	}
	r.keys = keys
	r.cursor++
	return nil
}

func (r *batchRun) fail(idx int, err error) *BatchError {
	be := &BatchError{Index: idx, SQL: r.query, Cause: err}
	var se *StatementError
	if errors.As(err, &se) {
		be.Cause = se.Cause
		be.RollbackErr = se.RollbackErr
	}
	// 失败后事务不应再处于活动状态
	if r.conn.TxState() == TxActive {
		be.RollbackErr = r.conn.Rollback(context.Background())
	}
	return be
}

// runBatch 批量执行的唯一流程：借连接、开事务、逐条执行、全部成功后提交。
// 任意一条失败则回滚并返回该条的 BatchError，已执行的条目不会保留。
func (c *Client) runBatch(ctx context.Context, op, query string, sets [][]any, accumulate accumulateFunc) ([]int64, error) {
	if len(sets) == 0 {
		return []int64{}, nil
	}

	run := &batchRun{
		id:         uuid.NewString(),
		op:         op,
		query:      query,
		sets:       sets,
		keys:       make([]int64, 0, len(sets)),
		accumulate: accumulate,
	}
	reporter := c.gateway.reporter
	logger := c.gateway.logger
	reporter.ObserveBatchSize(c.pool, len(sets))
	start := time.Now()

	err := c.executeRun(ctx, run)

	status := StatusSuccess
	if err != nil {
		status = StatusFail
	}
	reporter.ObserveExecuteDuration(c.pool, op, len(sets), time.Since(start), status)

	if err != nil {
		logger.Errorf("[%s] %s %s failed after %d/%d entries: %v", c.pool, op, run.id, run.cursor, len(sets), err)
		return nil, err
	}
	logger.Debugf("[%s] %s %s committed %d entries in %v", c.pool, op, run.id, len(sets), time.Since(start))
	return run.keys, nil
}

func (c *Client) executeRun(ctx context.Context, run *batchRun) error {
	conn, err := c.gateway.Acquire(ctx, c.pool)
	if err != nil {
		return err
	}
	defer conn.Release()
	run.conn = conn

	if err := conn.Begin(ctx); err != nil {
		return err
	}
	c.gateway.logger.Debugf("[%s] %s %s started on %s: %d entries", c.pool, run.op, run.id, conn.ID(), len(run.sets))

	for run.cursor < len(run.sets) {
		if err := run.step(ctx); err != nil {
			return err
		}
	}
	return conn.Commit(ctx)
}

// BatchInsert 在一个事务内按序执行插入，返回每条对应的生成主键
func (c *Client) BatchInsert(ctx context.Context, query string, sets [][]any) ([]int64, error) {
	return c.runBatch(ctx, OpBatchInsert, query, sets, collectFirstKey)
}

// BatchUpdate 在一个事务内按序执行更新
func (c *Client) BatchUpdate(ctx context.Context, query string, sets [][]any) error {
	_, err := c.runBatch(ctx, OpBatchUpdate, query, sets, discardOutcome)
	return err
}

// BatchDelete 在一个事务内按序执行删除
func (c *Client) BatchDelete(ctx context.Context, query string, sets [][]any) error {
	_, err := c.runBatch(ctx, OpBatchDelete, query, sets, discardOutcome)
	return err
}

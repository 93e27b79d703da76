package asyncsql

import (
	"context"
)

// Handler 异步完成回调。成功与失败恰好回调其一；OnError 为空时失败只记日志。
type Handler[T any] struct {
	OnSuccess func(T)
	OnError   func(error)
}

// Future 异步操作的结果
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Done 操作完成时关闭
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result 阻塞直到完成
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.value, f.err
}

// Await 等待完成或 ctx 结束。ctx 结束不会中止已发出的操作。
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Err 完成后的错误，未完成时为 nil
func (f *Future[T]) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

func dispatch[T any](c *Client, op, query string, h Handler[T], run func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		v, err := run()
		f.value, f.err = v, err
		close(f.done)

		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			} else {
				c.gateway.logger.Errorf("[%s] async %s failed: %s: %v", c.pool, op, query, err)
			}
			return
		}
		if h.OnSuccess != nil {
			h.OnSuccess(v)
		}
	}()
	return f
}

// QueryAsync 异步查询
func (c *Client) QueryAsync(ctx context.Context, query string, params []any, h Handler[RowSet]) *Future[RowSet] {
	return dispatch(c, KindQuery.String(), query, h, func() (RowSet, error) {
		return c.Query(ctx, query, params...)
	})
}

// MutateAsync 异步变更（插入/更新/删除）
func (c *Client) MutateAsync(ctx context.Context, query string, params []any, h Handler[*UpdateOutcome]) *Future[*UpdateOutcome] {
	return dispatch(c, KindMutate.String(), query, h, func() (*UpdateOutcome, error) {
		return c.Mutate(ctx, query, params...)
	})
}

// BatchInsertAsync 异步批量插入，成功时得到按序的生成主键
func (c *Client) BatchInsertAsync(ctx context.Context, query string, sets [][]any, h Handler[[]int64]) *Future[[]int64] {
	return dispatch(c, OpBatchInsert, query, h, func() ([]int64, error) {
		return c.BatchInsert(ctx, query, sets)
	})
}

// BatchUpdateAsync 异步批量更新，成功时为 true
func (c *Client) BatchUpdateAsync(ctx context.Context, query string, sets [][]any, h Handler[bool]) *Future[bool] {
	return dispatch(c, OpBatchUpdate, query, h, func() (bool, error) {
		err := c.BatchUpdate(ctx, query, sets)
		return err == nil, err
	})
}

// BatchDeleteAsync 异步批量删除，成功时为 true
func (c *Client) BatchDeleteAsync(ctx context.Context, query string, sets [][]any, h Handler[bool]) *Future[bool] {
	return dispatch(c, OpBatchDelete, query, h, func() (bool, error) {
		err := c.BatchDelete(ctx, query, sets)
		return err == nil, err
	})
}

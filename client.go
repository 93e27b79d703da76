package asyncsql

import (
	"context"
	"errors"
)

// Client 绑定到一个具名连接池的执行入口。
// 单条操作自行借出并归还连接；需要组合多条语句时用 Acquire 或 WithTx。
type Client struct {
	gateway *Gateway
	pool    string
}

// NewClient 创建绑定到 pool 的客户端
func NewClient(gateway *Gateway, pool string) *Client {
	return &Client{gateway: gateway, pool: pool}
}

// Pool 绑定的连接池名称
func (c *Client) Pool() string { return c.pool }

// Gateway 所属网关
func (c *Client) Gateway() *Gateway { return c.gateway }

// Acquire 借出独占连接，调用方负责 Release（或以 Commit/Rollback 结束事务）
func (c *Client) Acquire(ctx context.Context) (*Conn, error) {
	return c.gateway.Acquire(ctx, c.pool)
}

// Execute 借连接、执行一条语句、归还连接
func (c *Client) Execute(ctx context.Context, kind Kind, query string, params ...any) (*Result, error) {
	conn, err := c.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	return conn.Execute(ctx, kind, query, params...)
}

// Query 单条查询
func (c *Client) Query(ctx context.Context, query string, params ...any) (RowSet, error) {
	res, err := c.Execute(ctx, KindQuery, query, params...)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// Mutate 单条变更
func (c *Client) Mutate(ctx context.Context, query string, params ...any) (*UpdateOutcome, error) {
	res, err := c.Execute(ctx, KindMutate, query, params...)
	if err != nil {
		return nil, err
	}
	return res.Update, nil
}

func (c *Client) Insert(ctx context.Context, query string, params ...any) (*UpdateOutcome, error) {
	return c.Mutate(ctx, query, params...)
}

func (c *Client) Update(ctx context.Context, query string, params ...any) (*UpdateOutcome, error) {
	return c.Mutate(ctx, query, params...)
}

func (c *Client) Delete(ctx context.Context, query string, params ...any) (*UpdateOutcome, error) {
	return c.Mutate(ctx, query, params...)
}

// WithTx 在一个事务内执行 fn：fn 返回 nil 则提交，否则回滚。
// fn 内语句失败时事务已自动回滚。
func (c *Client) WithTx(ctx context.Context, fn func(conn *Conn) error) error {
	conn, err := c.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if err := conn.Begin(ctx); err != nil {
		return err
	}

	if err := fn(conn); err != nil {
		if conn.TxState() == TxActive {
			if rbErr := conn.Rollback(ctx); rbErr != nil {
				return errors.Join(err, rbErr)
			}
		}
		return err
	}
	return conn.Commit(ctx)
}

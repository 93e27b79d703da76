package asyncsql

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
)

// queryer 连接与事务共有的执行能力
type queryer interface {
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// rawConn 从池中借出的底层连接，*sqlx.Conn 实现该接口
type rawConn interface {
	queryer
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	Close() error
}

// Conn 借出的独占连接。同一时刻只应由一个操作使用，最多开启一次事务。
type Conn struct {
	id      string
	pool    string
	dialect Dialect
	raw     rawConn

	mu    sync.Mutex
	tx    *sqlx.Tx
	state TxState

	released atomic.Bool

	logger   Logger
	reporter MetricsReporter
}

// ID 连接的唯一标识，仅用于日志关联
func (c *Conn) ID() string { return c.id }

// Pool 所属连接池名称
func (c *Conn) Pool() string { return c.pool }

// Dialect 所属连接池的方言
func (c *Conn) Dialect() Dialect { return c.dialect }

// TxState 当前事务状态
func (c *Conn) TxState() TxState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Released 是否已归还
func (c *Conn) Released() bool { return c.released.Load() }

// Release 归还连接，重复调用无副作用。仍有活动事务时先回滚。
func (c *Conn) Release() error {
	if !c.released.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	if c.state == TxActive {
		if err := c.tx.Rollback(); err != nil {
			c.logger.Errorf("[%s] rollback on release of %s failed: %v", c.pool, c.id, err)
		}
		c.tx = nil
		c.state = TxRolledBack
		c.reporter.IncTxOutcome(c.pool, TxOutcomeRolledBack)
		c.logger.Infof("[%s] connection %s released with active transaction, rolled back", c.pool, c.id)
	}
	c.mu.Unlock()

	err := c.raw.Close()
	c.reporter.IncReleased(c.pool)
	c.logger.Debugf("[%s] connection %s released", c.pool, c.id)
	return err
}

// target 有活动事务时语句走事务
func (c *Conn) target() queryer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == TxActive && c.tx != nil {
		return c.tx
	}
	return c.raw
}

func (c *Conn) normalizer() *normalizer {
	return &normalizer{pool: c.pool, logger: c.logger, reporter: c.reporter}
}

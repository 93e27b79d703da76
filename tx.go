package asyncsql

import (
	"context"
	"fmt"
)

// Begin 在连接上开启事务。失败时连接被归还，返回 Fatal 的 TransactionError。
func (c *Conn) Begin(ctx context.Context) error {
	if c.released.Load() {
		return ErrConnReleased
	}

	c.mu.Lock()
	if c.state != TxNotStarted {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrTxAlreadyStarted, state)
	}
	// 事务不随调用方 ctx 取消而自动回滚，结束只由 Commit/Rollback 决定
	tx, err := c.raw.BeginTxx(context.WithoutCancel(ctx), nil)
	if err == nil {
		c.tx = tx
		c.state = TxActive
	}
	c.mu.Unlock()

	if err != nil {
		c.reporter.IncTxOutcome(c.pool, TxOutcomeBeginFailed)
		terr := c.normalizer().transaction("begin", err, true)
		if relErr := c.Release(); relErr != nil {
			c.logger.Errorf("[%s] release after failed begin: %v", c.pool, relErr)
		}
		return terr
	}

	c.reporter.IncTxOutcome(c.pool, TxOutcomeBegin)
	c.logger.Debugf("[%s] transaction started on %s", c.pool, c.id)
	return nil
}

// Commit 提交事务并归还连接。提交失败时事务视为已回滚。
func (c *Conn) Commit(ctx context.Context) error {
	c.mu.Lock()
	if c.state != TxActive {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrTxNotActive, state)
	}
	err := c.tx.Commit()
	if err != nil {
		c.state = TxRolledBack
	} else {
		c.state = TxCommitted
	}
	c.tx = nil
	c.mu.Unlock()

	if err != nil {
		c.reporter.IncTxOutcome(c.pool, TxOutcomeRolledBack)
	} else {
		c.reporter.IncTxOutcome(c.pool, TxOutcomeCommitted)
		c.logger.Debugf("[%s] transaction committed on %s", c.pool, c.id)
	}

	if relErr := c.Release(); relErr != nil {
		c.logger.Errorf("[%s] release after commit: %v", c.pool, relErr)
	}
	if err != nil {
		return c.normalizer().transaction("commit", err, false)
	}
	return nil
}

// Rollback 回滚事务并归还连接
func (c *Conn) Rollback(ctx context.Context) error {
	c.mu.Lock()
	if c.state != TxActive {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrTxNotActive, state)
	}
	err := c.tx.Rollback()
	c.state = TxRolledBack
	c.tx = nil
	c.mu.Unlock()

	c.reporter.IncTxOutcome(c.pool, TxOutcomeRolledBack)
	c.logger.Debugf("[%s] transaction rolled back on %s", c.pool, c.id)

	if relErr := c.Release(); relErr != nil {
		c.logger.Errorf("[%s] release after rollback: %v", c.pool, relErr)
	}
	if err != nil {
		return c.normalizer().transaction("rollback", err, false)
	}
	return nil
}

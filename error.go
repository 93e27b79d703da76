package asyncsql

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig 无效的连接池配置
	ErrInvalidConfig = errors.New("invalid config")

	// ErrUnknownDialect 未知的SQL方言
	ErrUnknownDialect = errors.New("unknown sql dialect")

	// ErrPoolNotFound 连接池未注册
	ErrPoolNotFound = errors.New("pool not found")

	// ErrPoolExists 连接池重复注册
	ErrPoolExists = errors.New("pool already registered")

	// ErrGatewayClosed 网关已关闭
	ErrGatewayClosed = errors.New("gateway closed")

	// ErrConnReleased 连接已归还
	ErrConnReleased = errors.New("connection already released")

	// ErrTxAlreadyStarted 连接上已开启过事务
	ErrTxAlreadyStarted = errors.New("transaction already started")

	// ErrTxNotActive 事务不处于活动状态
	ErrTxNotActive = errors.New("transaction not active")

	// ErrNoGeneratedKey 插入未返回生成的主键
	ErrNoGeneratedKey = errors.New("no generated key returned")

	// ErrUnknownKind 未知语句类型
	ErrUnknownKind = errors.New("unknown statement kind")
)

// ConnectionError 从连接池获取连接失败
type ConnectionError struct {
	Pool  string
	Cause error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("sql connection failed (pool %q): %v", e.Pool, e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// StatementError 单条语句执行失败。RolledBack 表示失败时连接上有活动事务并已回滚。
type StatementError struct {
	SQL         string
	Cause       error
	RolledBack  bool
	RollbackErr error
}

func (e *StatementError) Error() string {
	if e.RollbackErr != nil {
		return fmt.Sprintf("sql statement failed: %v (rollback failed: %v)", e.Cause, e.RollbackErr)
	}
	return fmt.Sprintf("sql statement failed: %v", e.Cause)
}

func (e *StatementError) Unwrap() error { return e.Cause }

// TransactionError begin/commit/rollback 失败
type TransactionError struct {
	Op    string
	Cause error
	// Fatal 仅用于 begin 失败：事务从未开始且连接已被归还。commit/rollback 失败不重试，Fatal 为 false
	Fatal bool
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("sql transaction %s failed: %v", e.Op, e.Cause)
}

func (e *TransactionError) Unwrap() error { return e.Cause }

// BatchError 批量操作在第 Index 条（从0开始）失败，整个批次已回滚
type BatchError struct {
	Index       int
	SQL         string
	Cause       error
	RollbackErr error
}

func (e *BatchError) Error() string {
	if e.RollbackErr != nil {
		return fmt.Sprintf("batch entry %d failed: %v (rollback failed: %v)", e.Index, e.Cause, e.RollbackErr)
	}
	return fmt.Sprintf("batch entry %d failed: %v", e.Index, e.Cause)
}

func (e *BatchError) Unwrap() error { return e.Cause }

package asyncsql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// 错误分类
const (
	ReasonConstraint  = "constraint"
	ReasonDeadlock    = "deadlock"
	ReasonLockTimeout = "lock_timeout"
	ReasonTimeout     = "timeout"
	ReasonConnection  = "connection"
	ReasonIO          = "io"
	ReasonSyntax      = "syntax"
	ReasonContext     = "context"
	ReasonTransaction = "transaction"
	ReasonUnknown     = "unknown"
)

// Classify 将驱动错误归类，优先识别各驱动的错误类型，最后按错误文本判断
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ReasonContext
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return ReasonConnection
	}
	if errors.Is(err, ErrTxNotActive) || errors.Is(err, sql.ErrTxDone) {
		return ReasonTransaction
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1022, 1048, 1062, 1169, 1216, 1217, 1451, 1452, 1557, 3819:
			return ReasonConstraint
		case 1213:
			return ReasonDeadlock
		case 1205:
			return ReasonLockTimeout
		case 1064, 1149:
			return ReasonSyntax
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if r := classifySQLState(pgErr.Code); r != "" {
			return r
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if r := classifySQLState(string(pqErr.Code)); r != "" {
			return r
		}
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrConstraint:
			return ReasonConstraint
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return ReasonLockTimeout
		}
	}

	// 朴素字符串分类（MySQL/PG/SQLite 常见错误）
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "deadlock"):
		return ReasonDeadlock
	case strings.Contains(s, "lock wait timeout"):
		return ReasonLockTimeout
	case strings.Contains(s, "timeout"):
		return ReasonTimeout
	case strings.Contains(s, "constraint") || strings.Contains(s, "duplicate"):
		return ReasonConstraint
	case strings.Contains(s, "syntax error"):
		return ReasonSyntax
	case strings.Contains(s, "connection") && (strings.Contains(s, "refused") || strings.Contains(s, "reset") || strings.Contains(s, "closed")):
		return ReasonConnection
	case strings.Contains(s, "broken pipe") || strings.Contains(s, "eof"):
		return ReasonIO
	default:
		return ReasonUnknown
	}
}

func classifySQLState(code string) string {
	switch {
	case strings.HasPrefix(code, "23"):
		return ReasonConstraint
	case code == "40P01":
		return ReasonDeadlock
	case code == "55P03":
		return ReasonLockTimeout
	case code == "42601":
		return ReasonSyntax
	case strings.HasPrefix(code, "08"):
		return ReasonConnection
	}
	return ""
}

// IsConstraintViolation 是否为约束冲突（唯一键、外键、非空等）
func IsConstraintViolation(err error) bool {
	return Classify(err) == ReasonConstraint
}

// IsRetryable 瞬态错误，整批重试可能成功
func IsRetryable(err error) bool {
	switch Classify(err) {
	case ReasonDeadlock, ReasonLockTimeout, ReasonTimeout, ReasonConnection, ReasonIO:
		return true
	}
	return false
}

// unwrapCause 向下剥一层包装，驱动自身的错误类型保持不变
func unwrapCause(err error) error {
	if isDriverError(err) {
		return err
	}
	if inner := errors.Unwrap(err); inner != nil {
		return inner
	}
	return err
}

func isDriverError(err error) bool {
	switch err.(type) {
	case *mysql.MySQLError, *pgconn.PgError, *pq.Error, sqlite3.Error, *sqlite3.Error:
		return true
	}
	return false
}

// normalizer 统一的失败处理：有活动事务时先回滚，再记录日志与指标
type normalizer struct {
	pool     string
	logger   Logger
	reporter MetricsReporter
}

func (n *normalizer) statement(c *Conn, query string, err error) *StatementError {
	se := &StatementError{SQL: query, Cause: unwrapCause(err)}
	if c != nil && c.TxState() == TxActive {
		se.RolledBack = true
		if rbErr := c.Rollback(context.Background()); rbErr != nil {
			se.RollbackErr = rbErr
		}
	}

	reason := Classify(se.Cause)
	n.reporter.IncError(n.pool, reason)
	n.logger.Errorf("[%s] SQL Query Failed! %s (%s): %v", n.pool, query, reason, se.Cause)
	if se.RollbackErr != nil {
		n.logger.Errorf("[%s] rollback after failed statement failed: %v", n.pool, se.RollbackErr)
	}
	return se
}

func (n *normalizer) transaction(op string, err error, fatal bool) *TransactionError {
	te := &TransactionError{Op: op, Cause: unwrapCause(err), Fatal: fatal}
	n.reporter.IncError(n.pool, ReasonTransaction)
	n.logger.Errorf("[%s] SQL transaction %s failed: %v", n.pool, op, te.Cause)
	return te
}

package asyncsql

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"context canceled", context.Canceled, ReasonContext},
		{"wrapped deadline", fmt.Errorf("exec: %w", context.DeadlineExceeded), ReasonContext},
		{"bad conn", driver.ErrBadConn, ReasonConnection},
		{"tx not active", ErrTxNotActive, ReasonTransaction},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, ReasonConstraint},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, ReasonDeadlock},
		{"mysql lock wait", &mysql.MySQLError{Number: 1205}, ReasonLockTimeout},
		{"mysql syntax", &mysql.MySQLError{Number: 1064}, ReasonSyntax},
		{"pgx unique", &pgconn.PgError{Code: "23505"}, ReasonConstraint},
		{"pgx deadlock", &pgconn.PgError{Code: "40P01"}, ReasonDeadlock},
		{"pgx connection", &pgconn.PgError{Code: "08006"}, ReasonConnection},
		{"pq foreign key", &pq.Error{Code: "23503"}, ReasonConstraint},
		{"pq lock", &pq.Error{Code: "55P03"}, ReasonLockTimeout},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, ReasonConstraint},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, ReasonLockTimeout},
		{"statement wrapped", &StatementError{SQL: "x", Cause: &mysql.MySQLError{Number: 1452}}, ReasonConstraint},
		{"text deadlock", errors.New("Deadlock found when trying to get lock"), ReasonDeadlock},
		{"text timeout", errors.New("i/o timeout"), ReasonTimeout},
		{"text refused", errors.New("dial tcp: connection refused"), ReasonConnection},
		{"text eof", errors.New("unexpected EOF"), ReasonIO},
		{"unknown", errors.New("boom"), ReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(&mysql.MySQLError{Number: 1213}) {
		t.Error("deadlock should be retryable")
	}
	if IsRetryable(&mysql.MySQLError{Number: 1062}) {
		t.Error("duplicate key should not be retryable")
	}
	if IsRetryable(context.Canceled) {
		t.Error("canceled context should not be retryable")
	}
}

func TestUnwrapCause(t *testing.T) {
	base := errors.New("root")
	mid := fmt.Errorf("mid: %w", base)
	outer := fmt.Errorf("outer: %w", mid)

	if got := unwrapCause(outer); got != mid {
		t.Errorf("expected one level unwrapped, got %v", got)
	}
	if got := unwrapCause(base); got != base {
		t.Errorf("unwrappable error should be kept, got %v", got)
	}

	myErr := &mysql.MySQLError{Number: 1062}
	if got := unwrapCause(myErr); got != myErr {
		t.Errorf("driver error should be kept, got %v", got)
	}
	liteErr := sqlite3.Error{Code: sqlite3.ErrConstraint}
	if got := unwrapCause(liteErr); !errors.Is(got, liteErr) {
		t.Errorf("sqlite error should be kept, got %v", got)
	}
}

type captureLogger struct {
	NopLogger
	errors []string
}

func (l *captureLogger) Errorf(format string, args ...any) {
	l.errors = append(l.errors, fmt.Sprintf(format, args...))
}

func TestNormalizer_StatementWithoutTransaction(t *testing.T) {
	logger := &captureLogger{}
	n := &normalizer{pool: "main", logger: logger, reporter: NewNoopMetricsReporter()}

	cause := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	se := n.statement(nil, "INSERT INTO t VALUES (?)", fmt.Errorf("exec: %w", cause))

	if se.Cause != cause {
		t.Fatalf("expected driver cause, got %v", se.Cause)
	}
	if se.RolledBack {
		t.Fatal("nothing to roll back")
	}
	if len(logger.errors) != 1 {
		t.Fatalf("expected one error log, got %v", logger.errors)
	}
}

package asyncsql_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rushairer/asyncsql"
)

var registerSleepDriver sync.Once

// openSleepDB SQLite 连接上注册 sleep_ms(n)，用于模拟慢查询
func openSleepDB(t *testing.T, maxConns int) *sql.DB {
	t.Helper()
	registerSleepDriver.Do(func() {
		sql.Register("sqlite3_sleep", &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("sleep_ms", func(ms int64) int64 {
					time.Sleep(time.Duration(ms) * time.Millisecond)
					return ms
				}, false)
			},
		})
	})

	db, err := sql.Open("sqlite3_sleep", "file:"+filepath.Join(t.TempDir(), "slow.db")+"?_busy_timeout=5000")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(maxConns)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestQueryAsync_InvokesSuccessHandler(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 1, 2)

	got := make(chan asyncsql.RowSet, 1)
	f := env.client.QueryAsync(context.Background(), "SELECT code FROM items ORDER BY id", nil, asyncsql.Handler[asyncsql.RowSet]{
		OnSuccess: func(rows asyncsql.RowSet) { got <- rows },
		OnError:   func(err error) { t.Errorf("unexpected error: %v", err) },
	})

	rows, err := f.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	select {
	case r := <-got:
		if len(r) != 2 {
			t.Fatalf("handler saw %d rows", len(r))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("success handler not invoked")
	}
}

func TestBatchUpdateAsync_InvokesErrorHandler(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 1, 2)

	errCh := make(chan error, 1)
	f := env.client.BatchUpdateAsync(context.Background(), "UPDATE items SET code = ? WHERE id = ?",
		[][]any{{2, 1}}, asyncsql.Handler[bool]{
			OnSuccess: func(bool) { t.Error("unexpected success") },
			OnError:   func(err error) { errCh <- err },
		})

	ok, err := f.Result()
	if ok || err == nil {
		t.Fatalf("expected failure, got ok=%v err=%v", ok, err)
	}
	select {
	case herr := <-errCh:
		var be *asyncsql.BatchError
		if !errors.As(herr, &be) || be.Index != 0 {
			t.Fatalf("expected BatchError at 0, got %v", herr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error handler not invoked")
	}
}

func TestAsync_WithoutErrorHandlerLogs(t *testing.T) {
	env := newTestEnv(t)
	const query = "SELECT * FROM missing_table"

	f := env.client.QueryAsync(context.Background(), query, nil, asyncsql.Handler[asyncsql.RowSet]{})
	if _, err := f.Result(); err == nil {
		t.Fatal("expected error")
	}
	// 回调在结果发布之后执行，稍等日志写入
	deadline := time.Now().Add(2 * time.Second)
	for !env.logger.contains("ERROR", "async query failed: "+query) {
		if time.Now().After(deadline) {
			t.Fatal("expected async failure to be logged with SQL text")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBatchInsertAsync(t *testing.T) {
	env := newTestEnv(t)

	f := env.client.BatchInsertAsync(context.Background(), insertItem, [][]any{{"a", 1}, {"b", 2}}, asyncsql.Handler[[]int64]{})
	<-f.Done()
	keys, err := f.Result()
	if err != nil || len(keys) != 2 {
		t.Fatalf("unexpected result %v %v", keys, err)
	}
	if f.Err() != nil {
		t.Fatalf("Err: %v", f.Err())
	}
}

func TestMutateAndDeleteAsync(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	out, err := env.client.MutateAsync(ctx, insertItem, []any{"a", 1}, asyncsql.Handler[*asyncsql.UpdateOutcome]{}).Result()
	if err != nil || out.AffectedCount != 1 {
		t.Fatalf("MutateAsync: %+v %v", out, err)
	}
	ok, err := env.client.BatchDeleteAsync(ctx, "DELETE FROM items WHERE id = ?", [][]any{{out.GeneratedKeys[0]}}, asyncsql.Handler[bool]{}).Result()
	if !ok || err != nil {
		t.Fatalf("BatchDeleteAsync: %v %v", ok, err)
	}
	if n := env.countRows(t); n != 0 {
		t.Fatalf("expected empty table, got %d", n)
	}
}

func TestAsync_ConcurrentQueriesOverlap(t *testing.T) {
	const (
		m     = 8
		delay = 200 * time.Millisecond
	)
	db := openSleepDB(t, m)
	reporter := newCountingReporter()
	gw := asyncsql.NewGateway().WithMetricsReporter(reporter)
	if err := gw.RegisterDB("slow", db, asyncsql.DialectSQLite); err != nil {
		t.Fatalf("RegisterDB: %v", err)
	}
	client := asyncsql.NewClient(gw, "slow")

	start := time.Now()
	futures := make([]*asyncsql.Future[asyncsql.RowSet], m)
	for i := range futures {
		futures[i] = client.QueryAsync(context.Background(), "SELECT sleep_ms(?) AS slept", []any{delay.Milliseconds()}, asyncsql.Handler[asyncsql.RowSet]{})
	}
	for i, f := range futures {
		rows, err := f.Result()
		if err != nil {
			t.Fatalf("query %d: %v", i, err)
		}
		if rows[0]["slept"] != delay.Milliseconds() {
			t.Fatalf("unexpected row %v", rows[0])
		}
	}
	elapsed := time.Since(start)

	// 串行需要 m*delay
	if elapsed >= time.Duration(m/2)*delay {
		t.Fatalf("queries did not overlap: %v for %d x %v", elapsed, m, delay)
	}
	if a, r := reporter.snapshot(); a != m || r != m {
		t.Fatalf("expected %d acquire/release, got %d/%d", m, a, r)
	}
}

func TestFuture_AwaitHonorsContext(t *testing.T) {
	db := openSleepDB(t, 1)
	gw := asyncsql.NewGateway()
	if err := gw.RegisterDB("slow", db, asyncsql.DialectSQLite); err != nil {
		t.Fatalf("RegisterDB: %v", err)
	}
	client := asyncsql.NewClient(gw, "slow")

	f := client.QueryAsync(context.Background(), "SELECT sleep_ms(?)", []any{300}, asyncsql.Handler[asyncsql.RowSet]{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := f.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if f.Err() != nil {
		t.Fatal("future should still be running")
	}

	// 等待期满不影响已发出的查询
	if _, err := f.Await(context.Background()); err != nil {
		t.Fatalf("query should complete: %v", err)
	}
}

package asyncsql_test

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rushairer/asyncsql"
)

const itemsSchema = `CREATE TABLE items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	qty INTEGER NOT NULL DEFAULT 0,
	code INTEGER UNIQUE
)`

// countingReporter 记录连接借还、事务结果与错误原因
type countingReporter struct {
	acquired atomic.Int64
	released atomic.Int64

	mu     sync.Mutex
	tx     map[string]int
	errors map[string]int
	ops    map[string]int
}

func newCountingReporter() *countingReporter {
	return &countingReporter{
		tx:     map[string]int{},
		errors: map[string]int{},
		ops:    map[string]int{},
	}
}

func (r *countingReporter) ObserveAcquireLatency(string, time.Duration) {}
func (r *countingReporter) ObserveBatchSize(string, int) {}

func (r *countingReporter) ObserveExecuteDuration(_ string, op string, _ int, _ time.Duration, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[op+":"+status]++
}

func (r *countingReporter) IncAcquired(string) { r.acquired.Add(1) }
func (r *countingReporter) IncReleased(string) { r.released.Add(1) }

func (r *countingReporter) IncTxOutcome(_ string, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tx[outcome]++
}

func (r *countingReporter) IncError(_ string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[reason]++
}

func (r *countingReporter) txCount(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tx[outcome]
}

func (r *countingReporter) errorCount(reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors[reason]
}

// snapshot 当前借出与归还计数
func (r *countingReporter) snapshot() (int64, int64) {
	return r.acquired.Load(), r.released.Load()
}

// recordingLogger 收集日志行
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) record(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Debugf(format string, args ...any) { l.record("DEBUG", format, args...) }
func (l *recordingLogger) Infof(format string, args ...any) { l.record("INFO", format, args...) }
func (l *recordingLogger) Errorf(format string, args ...any) { l.record("ERROR", format, args...) }

func (l *recordingLogger) contains(level, sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.HasPrefix(line, level+" ") && strings.Contains(line, sub) {
			return true
		}
	}
	return false
}

type testEnv struct {
	gateway  *asyncsql.Gateway
	client   *asyncsql.Client
	reporter *countingReporter
	logger   *recordingLogger
}

// newTestEnv 基于临时 SQLite 文件的网关，已建好 items 表
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := asyncsql.NewConfig()
	cfg.SQLDialect = "sqlite"
	cfg.Database = filepath.Join(t.TempDir(), "test.db")
	cfg.PoolSize = 4

	reporter := newCountingReporter()
	logger := &recordingLogger{}
	gw := asyncsql.NewGateway().WithLogger(logger).WithMetricsReporter(reporter)
	if err := gw.Register("main", cfg); err != nil {
		t.Fatalf("register pool: %v", err)
	}
	t.Cleanup(func() { gw.Close() })

	client := asyncsql.NewClient(gw, "main")
	if _, err := client.Mutate(context.Background(), itemsSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return &testEnv{gateway: gw, client: client, reporter: reporter, logger: logger}
}

func (e *testEnv) countRows(t *testing.T) int64 {
	t.Helper()
	rows, err := e.client.Query(context.Background(), "SELECT COUNT(*) AS n FROM items")
	if err != nil {
		t.Fatalf("count rows: %v", err)
	}
	n, ok := rows[0]["n"].(int64)
	if !ok {
		t.Fatalf("unexpected count type %T", rows[0]["n"])
	}
	return n
}

func (e *testEnv) codes(t *testing.T) []int64 {
	t.Helper()
	rows, err := e.client.Query(context.Background(), "SELECT code FROM items ORDER BY id")
	if err != nil {
		t.Fatalf("select codes: %v", err)
	}
	out := make([]int64, 0, len(rows))
	for _, r := range rows {
		out = append(out, r["code"].(int64))
	}
	return out
}

func (e *testEnv) seed(t *testing.T, codes ...int64) {
	t.Helper()
	for _, code := range codes {
		if _, err := e.client.Insert(context.Background(),
			"INSERT INTO items (name, code) VALUES (?, ?)", fmt.Sprintf("item-%d", code), code); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

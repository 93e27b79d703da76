package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/rushairer/asyncsql"
	"github.com/rushairer/asyncsql/monitoring"
)

// StressTestConfig 压力测试配置
type StressTestConfig struct {
	ConfigPath  string
	Batches     int
	BatchSize   int
	Concurrent  int
	MetricsPort int
	Hold        time.Duration
}

const stressSchema = `CREATE TABLE IF NOT EXISTS stress_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name VARCHAR(64) NOT NULL,
	email VARCHAR(128) NOT NULL,
	created_at BIGINT NOT NULL
)`

func main() {
	config := &StressTestConfig{}
	flag.StringVar(&config.ConfigPath, "config", "", "数据库配置文件 (JSON)，为空时使用临时 SQLite")
	flag.IntVar(&config.Batches, "batches", 50, "批次数量")
	flag.IntVar(&config.BatchSize, "batch-size", 100, "每批记录数")
	flag.IntVar(&config.Concurrent, "concurrent", 5, "并发数")
	flag.IntVar(&config.MetricsPort, "metrics-port", 0, "监控端口 (0表示不启动)")
	flag.DurationVar(&config.Hold, "hold", 0, "结束后保留监控服务的时间")
	flag.Parse()

	code := run(config)
	glog.Flush()
	os.Exit(code)
}

// run 执行压力测试并返回退出码，所有 defer 在返回前执行
func run(config *StressTestConfig) int {
	cfg, err := loadConfig(config.ConfigPath)
	if err != nil {
		glog.Errorf("load config: %v", err)
		return 1
	}

	pm := monitoring.NewPrometheusMetrics(monitoring.Options{RuntimeCollectors: true})
	gateway := asyncsql.NewGateway().
		WithLogger(asyncsql.NewGlogLogger()).
		WithMetricsReporter(pm)
	defer gateway.Close()

	if err := gateway.Register("stress", cfg); err != nil {
		glog.Errorf("register pool: %v", err)
		return 1
	}

	if config.MetricsPort > 0 {
		srv := monitoring.NewServer(monitoring.NewRouter(pm, gateway, 2*time.Second), asyncsql.NewGlogLogger())
		if err := srv.Start(config.MetricsPort); err != nil {
			glog.Errorf("start monitoring: %v", err)
			return 1
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Stop(ctx)
		}()
	}

	client := asyncsql.NewClient(gateway, "stress")
	ctx := context.Background()
	if _, err := client.Mutate(ctx, stressSchema); err != nil {
		glog.Errorf("create table: %v", err)
		return 1
	}

	fmt.Printf("asyncsql stress: dialect=%s batches=%d batch-size=%d concurrent=%d\n",
		cfg.SQLDialect, config.Batches, config.BatchSize, config.Concurrent)

	var startMem, endMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)
	start := time.Now()

	inserted, failed := runBatches(ctx, client, config)

	elapsed := time.Since(start)
	runtime.GC()
	runtime.ReadMemStats(&endMem)

	fmt.Printf("elapsed: %v\n", elapsed)
	fmt.Printf("rows inserted: %d\n", inserted)
	fmt.Printf("failed batches: %d\n", failed)
	if elapsed > 0 {
		fmt.Printf("throughput: %.2f rows/s\n", float64(inserted)/elapsed.Seconds())
	}
	fmt.Printf("gc runs: %d\n", endMem.NumGC-startMem.NumGC)

	if stats, err := gateway.Stats("stress"); err == nil {
		fmt.Printf("pool: open=%d in_use=%d idle=%d wait=%d\n", stats.OpenConnections, stats.InUse, stats.Idle, stats.WaitCount)
	}

	if config.Hold > 0 {
		time.Sleep(config.Hold)
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func loadConfig(path string) (*asyncsql.Config, error) {
	if path != "" {
		return asyncsql.LoadConfig(path)
	}
	dir, err := os.MkdirTemp("", "asyncsql-stress")
	if err != nil {
		return nil, err
	}
	cfg := asyncsql.NewConfig()
	cfg.SQLDialect = "sqlite"
	cfg.Database = filepath.Join(dir, "stress.db")
	cfg.PoolSize = 4
	return cfg, nil
}

// runBatches 并发提交批量插入，返回成功插入的行数与失败批次数
func runBatches(ctx context.Context, client *asyncsql.Client, config *StressTestConfig) (int64, int64) {
	var (
		inserted atomic.Int64
		failed   atomic.Int64
		wg       sync.WaitGroup
	)
	sem := make(chan struct{}, config.Concurrent)

	for b := 0; b < config.Batches; b++ {
		sets := make([][]any, config.BatchSize)
		for i := range sets {
			n := b*config.BatchSize + i
			sets[i] = []any{fmt.Sprintf("user-%d", n), fmt.Sprintf("user-%d@example.com", n), time.Now().UnixNano()}
		}

		sem <- struct{}{}
		wg.Add(1)
		client.BatchInsertAsync(ctx, "INSERT INTO stress_items (name, email, created_at) VALUES (?, ?, ?)", sets,
			asyncsql.Handler[[]int64]{
				OnSuccess: func(keys []int64) {
					inserted.Add(int64(len(keys)))
					<-sem
					wg.Done()
				},
				OnError: func(err error) {
					glog.Errorf("batch failed: %v", err)
					failed.Add(1)
					<-sem
					wg.Done()
				},
			})
	}
	wg.Wait()
	return inserted.Load(), failed.Load()
}

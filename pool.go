package asyncsql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// pool 一个具名连接池，首次使用时才真正建立
type pool struct {
	name    string
	cfg     *Config
	dialect Dialect
	driver  string

	mu     sync.Mutex
	db     *sqlx.DB
	pgPool *pgxpool.Pool
	// opening 非空表示有调用方正在建立连接池，完成后关闭
	opening chan struct{}
	closed  bool
	// external 为 true 时底层 *sql.DB 由调用方管理，Close 不关闭它
	external bool
}

// open 返回已建立的连接池，必要时建立。建立过程不持有 mu，
// 并发的调用方等待建立完成或自己的 ctx 结束。
func (p *pool) open(ctx context.Context) (*sqlx.DB, error) {
	for {
		p.mu.Lock()
		if p.db != nil {
			db := p.db
			p.mu.Unlock()
			return db, nil
		}
		if p.closed {
			p.mu.Unlock()
			return nil, ErrGatewayClosed
		}
		if ch := p.opening; ch != nil {
			p.mu.Unlock()
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		ch := make(chan struct{})
		p.opening = ch
		p.mu.Unlock()

		db, pgPool, err := p.dial(ctx)

		p.mu.Lock()
		p.opening = nil
		if err == nil && p.closed {
			closePools(db, pgPool)
			err = ErrGatewayClosed
		}
		if err == nil {
			p.db = db
			p.pgPool = pgPool
		}
		p.mu.Unlock()
		close(ch)

		if err != nil {
			return nil, err
		}
		return db, nil
	}
}

// dial 按配置建立连接池并 ping 一次
func (p *pool) dial(ctx context.Context) (*sqlx.DB, *pgxpool.Pool, error) {
	dsn, err := p.cfg.DSN()
	if err != nil {
		return nil, nil, err
	}

	var (
		db     *sqlx.DB
		pgPool *pgxpool.Pool
	)
	switch p.driver {
	case "pgx":
		pcfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("parse pgx config: %w", err)
		}
		pcfg.MaxConns = int32(p.cfg.PoolSize)
		pcfg.MaxConnLifetime = p.cfg.ConnMaxLifetime()
		pgPool, err = pgxpool.NewWithConfig(context.WithoutCancel(ctx), pcfg)
		if err != nil {
			return nil, nil, err
		}
		db = sqlx.NewDb(stdlib.OpenDBFromPool(pgPool), "pgx")
	default:
		db, err = sqlx.Open(p.driver, dsn)
		if err != nil {
			return nil, nil, err
		}
	}

	db.SetMaxOpenConns(p.cfg.PoolSize)
	db.SetMaxIdleConns(min(p.cfg.MaxIdleConns, p.cfg.PoolSize))
	db.SetConnMaxLifetime(p.cfg.ConnMaxLifetime())

	if err := db.PingContext(ctx); err != nil {
		closePools(db, pgPool)
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	return db, pgPool, nil
}

func closePools(db *sqlx.DB, pgPool *pgxpool.Pool) error {
	err := db.Close()
	if pgPool != nil {
		pgPool.Close()
	}
	return err
}

func (p *pool) opened() *sqlx.DB {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.db
}

func (p *pool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.db == nil || p.external {
		p.db = nil
		return nil
	}
	err := closePools(p.db, p.pgPool)
	p.pgPool = nil
	p.db = nil
	return err
}

// Gateway 连接池网关：按名称管理连接池，借出独占连接
type Gateway struct {
	pools    map[string]*pool
	mutex    sync.RWMutex
	closed   bool
	logger   Logger
	reporter MetricsReporter
}

// NewGateway 创建网关
func NewGateway() *Gateway {
	return &Gateway{
		pools:    make(map[string]*pool),
		logger:   NopLogger{},
		reporter: NewNoopMetricsReporter(),
	}
}

// WithLogger 设置日志
func (g *Gateway) WithLogger(logger Logger) *Gateway {
	if logger != nil {
		g.logger = logger
	}
	return g
}

// WithMetricsReporter 设置指标上报
func (g *Gateway) WithMetricsReporter(reporter MetricsReporter) *Gateway {
	if reporter != nil {
		g.reporter = reporter
	}
	return g
}

// MetricsReporter 当前指标上报器
func (g *Gateway) MetricsReporter() MetricsReporter {
	return g.reporter
}

// Register 注册具名连接池，连接在首次 Acquire 时建立
func (g *Gateway) Register(name string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	dialect, _ := cfg.Dialect()

	return g.add(&pool{
		name:    name,
		cfg:     cfg,
		dialect: dialect,
		driver:  cfg.DriverName(),
	})
}

// RegisterDB 注册调用方已打开的 *sql.DB，池大小等参数由调用方设置
func (g *Gateway) RegisterDB(name string, db *sql.DB, dialect Dialect) error {
	if db == nil {
		return fmt.Errorf("%w: nil db", ErrInvalidConfig)
	}
	driver := dialect.DefaultDriver()
	return g.add(&pool{
		name:     name,
		dialect:  dialect,
		driver:   driver,
		db:       sqlx.NewDb(db, driver),
		external: true,
	})
}

func (g *Gateway) add(p *pool) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.closed {
		return ErrGatewayClosed
	}
	if _, exists := g.pools[p.name]; exists {
		return fmt.Errorf("%w: %s", ErrPoolExists, p.name)
	}
	g.pools[p.name] = p
	return nil
}

func (g *Gateway) lookup(name string) (*pool, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	if g.closed {
		return nil, ErrGatewayClosed
	}
	p, ok := g.pools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, name)
	}
	return p, nil
}

// Acquire 从连接池借出一条独占连接，调用方必须 Release
func (g *Gateway) Acquire(ctx context.Context, name string) (*Conn, error) {
	start := time.Now()

	p, err := g.lookup(name)
	if err != nil {
		return nil, g.connectionFailed(name, err)
	}
	db, err := p.open(ctx)
	if err != nil {
		return nil, g.connectionFailed(name, err)
	}
	raw, err := db.Connx(ctx)
	if err != nil {
		return nil, g.connectionFailed(name, err)
	}

	g.reporter.ObserveAcquireLatency(name, time.Since(start))
	g.reporter.IncAcquired(name)

	c := &Conn{
		id:       uuid.NewString(),
		pool:     name,
		dialect:  p.dialect,
		raw:      raw,
		logger:   g.logger,
		reporter: g.reporter,
	}
	g.logger.Debugf("[%s] connection %s acquired", name, c.id)
	return c, nil
}

func (g *Gateway) connectionFailed(name string, err error) error {
	g.logger.Errorf("[%s] SQL connection failed: %v", name, err)
	g.reporter.IncError(name, ReasonConnection)
	return &ConnectionError{Pool: name, Cause: err}
}

// Release 归还连接，等价于 c.Release()
func (g *Gateway) Release(c *Conn) error {
	if c == nil {
		return nil
	}
	return c.Release()
}

// Ping 检查连接池可用性
func (g *Gateway) Ping(ctx context.Context, name string) error {
	p, err := g.lookup(name)
	if err != nil {
		return err
	}
	db, err := p.open(ctx)
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// Stats 连接池统计，未建立的池返回零值
func (g *Gateway) Stats(name string) (sql.DBStats, error) {
	p, err := g.lookup(name)
	if err != nil {
		return sql.DBStats{}, err
	}
	if db := p.opened(); db != nil {
		return db.Stats(), nil
	}
	return sql.DBStats{}, nil
}

// Dialect 连接池方言
func (g *Gateway) Dialect(name string) (Dialect, error) {
	p, err := g.lookup(name)
	if err != nil {
		return 0, err
	}
	return p.dialect, nil
}

// Names 已注册的连接池名称（有序）
func (g *Gateway) Names() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	names := make([]string, 0, len(g.pools))
	for name := range g.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close 关闭所有由网关打开的连接池
func (g *Gateway) Close() error {
	g.mutex.Lock()
	if g.closed {
		g.mutex.Unlock()
		return nil
	}
	g.closed = true
	pools := g.pools
	g.pools = make(map[string]*pool)
	g.mutex.Unlock()

	var errs []error
	for name, p := range pools {
		if err := p.close(); err != nil {
			errs = append(errs, fmt.Errorf("close pool %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rushairer/asyncsql"
)

// PoolInspector 健康检查与连接池统计所需的能力，*asyncsql.Gateway 实现该接口
type PoolInspector interface {
	Names() []string
	Ping(ctx context.Context, name string) error
	Stats(name string) (sql.DBStats, error)
}

var _ PoolInspector = (*asyncsql.Gateway)(nil)

// PoolStats /pools 返回的单个连接池统计
type PoolStats struct {
	Name           string `json:"name"`
	MaxOpen        int    `json:"max_open"`
	Open           int    `json:"open"`
	InUse          int    `json:"in_use"`
	Idle           int    `json:"idle"`
	WaitCount      int64  `json:"wait_count"`
	WaitDurationMS int64  `json:"wait_duration_ms"`
	MaxIdleClosed  int64  `json:"max_idle_closed"`
	MaxLifeClosed  int64  `json:"max_lifetime_closed"`
}

// NewRouter 创建监控路由：/metrics、/health、/pools
func NewRouter(pm *PrometheusMetrics, pools PoolInspector, pingTimeout time.Duration) *gin.Engine {
	// 设置 Gin 为发布模式，减少日志输出
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/metrics", gin.WrapH(pm.Handler()))

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
		defer cancel()

		failed := map[string]string{}
		for _, name := range pools.Names() {
			if err := pools.Ping(ctx, name); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "errors": failed})
			return
		}
		c.String(http.StatusOK, "OK")
	})

	router.GET("/pools", func(c *gin.Context) {
		out := make([]PoolStats, 0)
		for _, name := range pools.Names() {
			s, err := pools.Stats(name)
			if err != nil {
				continue
			}
			out = append(out, PoolStats{
				Name:           name,
				MaxOpen:        s.MaxOpenConnections,
				Open:           s.OpenConnections,
				InUse:          s.InUse,
				Idle:           s.Idle,
				WaitCount:      s.WaitCount,
				WaitDurationMS: s.WaitDuration.Milliseconds(),
				MaxIdleClosed:  s.MaxIdleClosed,
				MaxLifeClosed:  s.MaxLifetimeClosed,
			})
		}
		c.JSON(http.StatusOK, out)
	})

	return router
}

// Server 监控 HTTP 服务
type Server struct {
	handler http.Handler
	logger  asyncsql.Logger
	server  *http.Server
	mutex   sync.Mutex
}

// NewServer 创建监控服务
func NewServer(handler http.Handler, logger asyncsql.Logger) *Server {
	if logger == nil {
		logger = asyncsql.NopLogger{}
	}
	return &Server{handler: handler, logger: logger}
}

// Start 在 port 上启动服务
func (s *Server) Start(port int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.server != nil {
		return fmt.Errorf("monitoring server already running")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.server = srv

	go func() {
		s.logger.Infof("monitoring server starting on port %d", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("monitoring server error: %v", err)
		}
	}()
	return nil
}

// Stop 优雅停止服务
func (s *Server) Stop(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server = nil
	if err == nil {
		s.logger.Infof("monitoring server stopped")
	}
	return err
}

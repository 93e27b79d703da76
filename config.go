package asyncsql

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mcuadros/go-defaults"
)

// Config 连接池配置，JSON 键与数据库服务配置文件保持一致
type Config struct {
	Host       string `json:"host" default:"127.0.0.1"`
	Port       int    `json:"port"`
	Database   string `json:"database"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	Charset    string `json:"charset" default:"UTF-8"`
	SQLDialect string `json:"sql_dialect" default:"mysql"`
	PoolSize   int    `json:"pool_size" default:"10"`

	// Driver 为空时使用方言的默认驱动；PostgreSQL 可选 pgx 或 postgres
	Driver             string `json:"driver"`
	MaxIdleConns       int    `json:"max_idle_conns" default:"2"`
	ConnMaxLifetimeSec int    `json:"conn_max_lifetime_sec" default:"3600"`
	SSLMode            string `json:"ssl_mode" default:"disable"`
	BusyTimeoutMS      int    `json:"busy_timeout_ms" default:"5000"`
}

// NewConfig 创建带默认值的配置
func NewConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// ParseConfig 解析 JSON 配置并补齐默认值
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadConfig 从文件加载配置
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

func (c *Config) applyDefaults() {
	defaults.SetDefaults(c)
	if c.Port == 0 {
		if d, err := ParseDialect(c.SQLDialect); err == nil {
			c.Port = d.DefaultPort()
		}
	}
}

// Dialect 解析后的方言
func (c *Config) Dialect() (Dialect, error) {
	return ParseDialect(c.SQLDialect)
}

// DriverName 实际使用的 database/sql 驱动名
func (c *Config) DriverName() string {
	if c.Driver != "" {
		return c.Driver
	}
	d, err := c.Dialect()
	if err != nil {
		return ""
	}
	return d.DefaultDriver()
}

// ConnMaxLifetime 连接最大存活时间
func (c *Config) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSec) * time.Second
}

// Validate 校验配置
func (c *Config) Validate() error {
	d, err := c.Dialect()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Database == "" {
		return fmt.Errorf("%w: database is required", ErrInvalidConfig)
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("%w: pool_size must be positive, got %d", ErrInvalidConfig, c.PoolSize)
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("%w: max_idle_conns must not be negative", ErrInvalidConfig)
	}
	if c.Driver != "" && !slices.Contains(d.drivers(), c.Driver) {
		return fmt.Errorf("%w: driver %q does not serve dialect %s", ErrInvalidConfig, c.Driver, d)
	}
	if d != DialectSQLite && c.Host == "" {
		return fmt.Errorf("%w: host is required for %s", ErrInvalidConfig, d)
	}
	return nil
}

// DSN 生成驱动连接串
func (c *Config) DSN() (string, error) {
	d, err := c.Dialect()
	if err != nil {
		return "", err
	}

	switch d {
	case DialectMySQL:
		mc := mysql.NewConfig()
		mc.User = c.Username
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
		mc.DBName = c.Database
		mc.ParseTime = true
		if cs := mysqlCharset(c.Charset); cs != "" {
			mc.Params = map[string]string{"charset": cs}
		}
		return mc.FormatDSN(), nil

	case DialectPostgreSQL:
		q := url.Values{}
		if c.SSLMode != "" {
			q.Set("sslmode", c.SSLMode)
		}
		if cs := pgCharset(c.Charset); cs != "" {
			q.Set("client_encoding", cs)
		}
		u := url.URL{
			Scheme:   "postgres",
			Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
			Path:     "/" + c.Database,
			RawQuery: q.Encode(),
		}
		if c.Username != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		}
		return u.String(), nil

	case DialectSQLite:
		// 已是完整连接串时原样使用
		if strings.HasPrefix(c.Database, "file:") || strings.Contains(c.Database, "?") {
			return c.Database, nil
		}
		q := url.Values{}
		q.Set("_busy_timeout", strconv.Itoa(c.BusyTimeoutMS))
		q.Set("_foreign_keys", "on")
		return "file:" + c.Database + "?" + q.Encode(), nil
	}

	return "", fmt.Errorf("%w: %s", ErrUnknownDialect, d)
}

func mysqlCharset(cs string) string {
	switch strings.ToLower(strings.ReplaceAll(cs, "-", "")) {
	case "":
		return ""
	case "utf8", "utf8mb4":
		return "utf8mb4"
	default:
		return cs
	}
}

func pgCharset(cs string) string {
	switch strings.ToLower(strings.ReplaceAll(cs, "-", "")) {
	case "":
		return ""
	case "utf8", "utf8mb4":
		return "UTF8"
	default:
		return cs
	}
}

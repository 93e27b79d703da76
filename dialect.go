package asyncsql

import (
	"fmt"
	"strings"
)

// Dialect 数据库方言，只影响连接方式与生成主键的获取方式，不做SQL翻译
type Dialect int

const (
	DialectMySQL Dialect = iota
	DialectPostgreSQL
	DialectSQLite
)

// String returns the string representation of Dialect
func (d Dialect) String() string {
	switch d {
	case DialectMySQL:
		return "MySQL"
	case DialectPostgreSQL:
		return "PostgreSQL"
	case DialectSQLite:
		return "SQLite"
	default:
		return "Unknown"
	}
}

// ParseDialect 解析配置中的 sql_dialect（大小写不敏感）
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "postgres", "postgresql", "postgres_9_5", "pg":
		return DialectPostgreSQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDialect, s)
	}
}

// DefaultDriver 方言对应的默认 database/sql 驱动名
func (d Dialect) DefaultDriver() string {
	switch d {
	case DialectPostgreSQL:
		return "pgx"
	case DialectSQLite:
		return "sqlite3"
	default:
		return "mysql"
	}
}

// DefaultPort 方言默认端口，SQLite 为 0
func (d Dialect) DefaultPort() int {
	switch d {
	case DialectMySQL:
		return 3306
	case DialectPostgreSQL:
		return 5432
	default:
		return 0
	}
}

// drivers 方言允许的驱动
func (d Dialect) drivers() []string {
	switch d {
	case DialectPostgreSQL:
		return []string{"pgx", "postgres"}
	case DialectSQLite:
		return []string{"sqlite3"}
	default:
		return []string{"mysql"}
	}
}

// supportsLastInsertID 驱动是否支持 sql.Result.LastInsertId
func (d Dialect) supportsLastInsertID() bool {
	return d == DialectMySQL || d == DialectSQLite
}

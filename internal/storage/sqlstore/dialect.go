package sqlstore

import (
	stdErrors "errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Dialect 封装不同数据库之间的差异：驱动名、占位符与错误码。
type Dialect struct {
	name       string
	driverName string
	dollarArgs bool
	duplicate  func(error) bool
	foreignKey func(error) bool
}

var (
	// MySQL 使用 go-sql-driver/mysql。
	MySQL = Dialect{
		name:       "mysql",
		driverName: "mysql",
		duplicate:  func(err error) bool { return mysqlErrorNumber(err) == 1062 },
		foreignKey: func(err error) bool { return mysqlErrorNumber(err) == 1452 },
	}
	// Postgres 使用 pgx 的 database/sql 适配层。
	Postgres = Dialect{
		name:       "postgres",
		driverName: "pgx",
		dollarArgs: true,
		duplicate:  func(err error) bool { return pgErrorCode(err) == "23505" },
		foreignKey: func(err error) bool { return pgErrorCode(err) == "23503" },
	}
)

// DialectFor 根据配置中的驱动名选择方言。
func DialectFor(driver string) (Dialect, bool) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "mysql":
		return MySQL, true
	case "postgres", "postgresql", "pgx":
		return Postgres, true
	default:
		return Dialect{}, false
	}
}

// Name 返回方言名称，同时也是迁移文件所在目录。
func (d Dialect) Name() string { return d.name }

// rebind 将 ? 占位符转换为方言要求的形式。
func (d Dialect) rebind(query string) string {
	if !d.dollarArgs {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d Dialect) isDuplicate(err error) bool {
	return d.duplicate != nil && d.duplicate(err)
}

func (d Dialect) isForeignKey(err error) bool {
	return d.foreignKey != nil && d.foreignKey(err)
}

func mysqlErrorNumber(err error) uint16 {
	var mysqlErr *mysql.MySQLError
	if stdErrors.As(err, &mysqlErr) {
		return mysqlErr.Number
	}
	return 0
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if stdErrors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	mysqldriver "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialect names returned by ParseURL.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// Open connects to the database named by rawURL. The scheme picks the driver:
//
//	sqlite://path/to/file.db   (default; also plain paths and file: URLs)
//	postgres://user@host/db    (lib/pq)
//	mysql://user@host:3306/db  (go-sql-driver/mysql)
//
// authToken is used as the password when the URL carries none.
func Open(rawURL, authToken string) (*gorm.DB, error) {
	dialect, dsn, err := ParseURL(rawURL, authToken)
	if err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var dialector gorm.Dialector
	switch dialect {
	case DialectSQLite:
		dialector = sqlite.Open(dsn)
	case DialectPostgres:
		sqlDB, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		dialector = postgres.New(postgres.Config{Conn: sqlDB})
	case DialectMySQL:
		sqlDB, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		dialector = gormmysql.New(gormmysql.Config{Conn: sqlDB})
	}

	gdb, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", dialect, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if dialect == DialectSQLite {
		// One writer at a time; concurrent transactions queue on the pool instead of failing with SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return gdb, nil
}

// ParseURL maps a database URL to a dialect and a driver-specific DSN.
func ParseURL(rawURL, authToken string) (dialect, dsn string, err error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", "", fmt.Errorf("database url is empty")
	}

	scheme := ""
	if i := strings.Index(rawURL, "://"); i > 0 {
		scheme = strings.ToLower(rawURL[:i])
	}

	switch scheme {
	case "", "sqlite", "sqlite3", "file":
		path := rawURL
		if scheme != "" {
			path = rawURL[len(scheme)+3:]
		}
		path = strings.TrimPrefix(path, "file:")
		if path == "" {
			return "", "", fmt.Errorf("sqlite url %q has no path", rawURL)
		}
		return DialectSQLite, sqliteDSN(path), nil

	case "postgres", "postgresql":
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", "", fmt.Errorf("parse postgres url: %w", err)
		}
		injectPassword(u, authToken)
		return DialectPostgres, u.String(), nil

	case "mysql":
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", "", fmt.Errorf("parse mysql url: %w", err)
		}
		injectPassword(u, authToken)
		return DialectMySQL, mysqlDSN(u), nil

	case "libsql", "http", "https", "wss":
		return "", "", fmt.Errorf("remote libsql urls are not supported; use a local replica path (sqlite://...) or postgres/mysql")

	default:
		return "", "", fmt.Errorf("unsupported database scheme %q", scheme)
	}
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

func injectPassword(u *url.URL, authToken string) {
	if authToken == "" || u.User == nil {
		return
	}
	if _, has := u.User.Password(); has {
		return
	}
	u.User = url.UserPassword(u.User.Username(), authToken)
}

func mysqlDSN(u *url.URL) string {
	cfg := mysqldriver.NewConfig()
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	if u.Port() == "" {
		cfg.Addr = u.Hostname() + ":3306"
	}
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	for k, v := range u.Query() {
		if len(v) > 0 {
			if cfg.Params == nil {
				cfg.Params = map[string]string{}
			}
			cfg.Params[k] = v[0]
		}
	}
	return cfg.FormatDSN()
}

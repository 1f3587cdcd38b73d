package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/railquery-data/internal/common/logger"
)

// Querier is satisfied by both *DB and *Tx
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	Dialect() Dialect
}

type DB struct {
	conn    *sql.DB
	dialect Dialect
	logger  logger.Logger
}

// New opens and pings the store. driver is "postgres" or "sqlite".
func New(driver, dataSource string, logger logger.Logger) (*DB, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}

	dsn := dataSource
	if dialect == SQLite {
		dsn = sqliteDSN(dataSource)
	}

	conn, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if dialect == SQLite {
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(time.Hour)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("Database connection established", "driver", string(dialect))

	return &DB{
		conn:    conn,
		dialect: dialect,
		logger:  logger,
	}, nil
}

// sqliteDSN enables WAL and a busy timeout so readers can proceed while a
// load transaction is open.
func sqliteDSN(path string) string {
	if strings.Contains(path, "_pragma") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// BeginTx starts a transaction whose statements are rebound to the dialect
func (db *DB) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx, dialect: db.dialect}, nil
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, db.dialect.Rebind(query), args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRowContext(ctx, db.dialect.Rebind(query), args...)
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.conn.ExecContext(ctx, db.dialect.Rebind(query), args...)
}

func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Logger returns the logger instance
func (db *DB) Logger() logger.Logger {
	return db.logger
}

// Tx is a transaction that accepts ?-style placeholders for every dialect
type Tx struct {
	*sql.Tx
	dialect Dialect
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return tx.Tx.ExecContext(ctx, tx.dialect.Rebind(query), args...)
}

func (tx *Tx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return tx.Tx.QueryContext(ctx, tx.dialect.Rebind(query), args...)
}

func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return tx.Tx.QueryRowContext(ctx, tx.dialect.Rebind(query), args...)
}

func (tx *Tx) Dialect() Dialect {
	return tx.dialect
}

// Package store applies decoded records to the relational target store.
//
// Every change event is applied in its own transaction. Statements are built
// with goqu for the configured dialect so the same applier serves PostgreSQL,
// MySQL and SQLite targets.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"cdc-sink/internal/config"
)

// Supported target drivers
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

type driverInfo struct {
	sqlName string // database/sql driver name
	dialect string // goqu dialect name
}

// The stock mysql and sqlite3 dialects render any ON CONFLICT insert as
// INSERT IGNORE / INSERT OR IGNORE, which turns constraint violations into
// silent no-ops. These variants keep a plain INSERT.
const (
	mysqlUpsertDialect  = "mysql-upsert"
	sqliteUpsertDialect = "sqlite3-upsert"
)

func init() {
	mysqlOpts := mysql.DialectOptions()
	mysqlOpts.SupportsInsertIgnoreSyntax = false
	goqu.RegisterDialect(mysqlUpsertDialect, mysqlOpts)

	sqliteOpts := sqlite3.DialectOptions()
	sqliteOpts.SupportsInsertIgnoreSyntax = false
	goqu.RegisterDialect(sqliteUpsertDialect, sqliteOpts)
}

var drivers = map[string]driverInfo{
	DriverPostgres: {sqlName: "pgx", dialect: "postgres"},
	DriverMySQL:    {sqlName: "mysql", dialect: mysqlUpsertDialect},
	DriverSQLite:   {sqlName: "sqlite", dialect: sqliteUpsertDialect},
}

// Store is the target store connection pool
type Store struct {
	db      *sql.DB
	driver  string
	dialect goqu.DialectWrapper
	logger  *logrus.Logger
}

// Tx is a transaction scoped to a single change event
type Tx struct {
	tx      *sql.Tx
	driver  string
	dialect goqu.DialectWrapper
}

// New wraps an already opened database handle
func New(db *sql.DB, driver string, logger *logrus.Logger) (*Store, error) {
	info, ok := drivers[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
	return &Store{
		db:      db,
		driver:  driver,
		dialect: goqu.Dialect(info.dialect),
		logger:  logger,
	}, nil
}

// Open connects to the target store, retrying until it answers a ping or the
// retry budget is exhausted.
func Open(ctx context.Context, cfg config.StoreConfig, logger *logrus.Logger) (*Store, error) {
	info, ok := drivers[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}

	db, err := sql.Open(info.sqlName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return struct{}{}, db.PingContext(pingCtx)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(cfg.ConnectRetryInterval)),
		backoff.WithMaxTries(uint(cfg.ConnectRetries)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Warnf("Store connection attempt %d failed: %v, retrying in %s", attempt, err, wait)
		}),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s store: %w", cfg.Driver, err)
	}

	logger.Infof("Connected to %s target store", cfg.Driver)
	return New(db, cfg.Driver, logger)
}

// Driver returns the configured driver name
func (s *Store) Driver() string {
	return s.driver
}

// WithTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Warnf("Failed to roll back transaction: %v", rbErr)
			}
			return
		}
		if cErr := sqlTx.Commit(); cErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cErr)
		}
	}()

	return fn(&Tx{tx: sqlTx, driver: s.driver, dialect: s.dialect})
}

// Ping checks that the target store is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

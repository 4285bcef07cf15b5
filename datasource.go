package mybatis

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Pool-size defaults mirror gdb.go's defaultMaxIdleConnCount/
// defaultMaxOpenConnCount/defaultMaxConnLifeTime.
const (
	defaultMaxIdleConnCount = 10
	defaultMaxOpenConnCount = 100
	defaultMaxConnLifeTime  = 30 * time.Second
)

// PoolConfig mirrors gdb's ConfigNode pool-sizing fields (gdb_core.go's
// getSqlDb applies these same three knobs to the *sql.DB it opens).
type PoolConfig struct {
	MaxIdleConnCount int
	MaxOpenConnCount int
	MaxConnLifeTime  time.Duration
}

// SqlDataSource opens Transactions against one database/sql driver+DSN pair,
// applying pool sizing the way gdb_core.go's getSqlDb does to the *sql.DB it
// caches (spec's DataSource collaborator).
type SqlDataSource struct {
	DriverName string
	DSN        string
	Pool       PoolConfig

	db *sql.DB
}

func NewSqlDataSource(driverName, dsn string, pool PoolConfig) *SqlDataSource {
	return &SqlDataSource{DriverName: driverName, DSN: dsn, Pool: pool}
}

func (ds *SqlDataSource) open() (*sql.DB, error) {
	if ds.db != nil {
		return ds.db, nil
	}
	db, err := sql.Open(ds.DriverName, ds.DSN)
	if err != nil {
		return nil, err
	}
	idle := ds.Pool.MaxIdleConnCount
	if idle <= 0 {
		idle = defaultMaxIdleConnCount
	}
	open := ds.Pool.MaxOpenConnCount
	if open <= 0 {
		open = defaultMaxOpenConnCount
	}
	lifetime := ds.Pool.MaxConnLifeTime
	if lifetime <= 0 {
		lifetime = defaultMaxConnLifeTime
	}
	db.SetMaxIdleConns(idle)
	db.SetMaxOpenConns(open)
	db.SetConnMaxLifetime(lifetime)
	ds.db = db
	return db, nil
}

// Open begins a new Transaction, acquiring one pooled *sql.DB handle and
// deferring actual connection checkout to the first Connection() call
// (spec's "begin happens implicitly by acquiring a connection").
func (ds *SqlDataSource) Open(ctx context.Context) (Transaction, error) {
	db, err := ds.open()
	if err != nil {
		return nil, err
	}
	return &poolTransaction{db: db, timeout: ds.Pool.MaxConnLifeTime}, nil
}

// Close releases the underlying *sql.DB, for application shutdown.
func (ds *SqlDataSource) Close() error {
	if ds.db == nil {
		return nil
	}
	err := ds.db.Close()
	ds.db = nil
	return err
}

// poolTransaction is the non-transactional (autocommit) Transaction
// implementation: the first Connection() call checks a connection out of the
// pool and later calls return that same connection until Close releases it;
// Commit/Rollback are no-ops since there is no *sql.Tx in play
// (mirrors gdb's non-transactional DB.Query/Exec path, as opposed to TX).
type poolTransaction struct {
	db      *sql.DB
	timeout time.Duration
	conn    *sql.Conn
}

func (t *poolTransaction) Connection(ctx context.Context) (*sql.Conn, error) {
	if t.conn != nil {
		return t.conn, nil
	}
	conn, err := t.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	t.conn = conn
	return conn, nil
}

func (t *poolTransaction) Commit() error   { return nil }
func (t *poolTransaction) Rollback() error { return nil }
func (t *poolTransaction) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
func (t *poolTransaction) Timeout() time.Duration { return t.timeout }

// sqlTxTransaction wraps a real *sql.Tx, the transactional counterpart to
// poolTransaction, grounded on gdb_transaction.go's TX wrapper around
// *sql.Tx. Commit/Rollback delegate to the driver; Connection returns the
// pooled *sql.Conn the Tx was begun on, so statements prepared on it run on
// the same driver connection as the Tx — callers that need transactional
// mybatis execution go through BeginTransaction below instead of
// SqlDataSource.Open.
type sqlTxTransaction struct {
	conn    *sql.Conn
	tx      *sql.Tx
	timeout time.Duration
}

// BeginTransaction starts a real database transaction on top of an opened
// pool connection, for callers that need atomic multi-statement writes.
func BeginTransaction(ctx context.Context, ds *SqlDataSource, opts *sql.TxOptions) (Transaction, error) {
	db, err := ds.open()
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := conn.BeginTx(ctx, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &sqlTxTransaction{conn: conn, tx: tx, timeout: ds.Pool.MaxConnLifeTime}, nil
}

func (t *sqlTxTransaction) Connection(ctx context.Context) (*sql.Conn, error) { return t.conn, nil }
func (t *sqlTxTransaction) Commit() error                                    { return t.tx.Commit() }
func (t *sqlTxTransaction) Rollback() error                                  { return t.tx.Rollback() }
func (t *sqlTxTransaction) Close() error                                     { return t.conn.Close() }
func (t *sqlTxTransaction) Timeout() time.Duration                           { return t.timeout }

package mybatis

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSqlDataSourceOpenReusesCachedDBAndTakesTimeoutFromPoolLifetime(t *testing.T) {
	ds := NewSqlDataSource("sqlmock", "dsn", PoolConfig{})
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	ds.db = db // skip sql.Open, reuse the mock handle directly

	tx, err := ds.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), tx.Timeout())
}

func TestPoolTransactionConnectionIsMemoized(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectExec("SELECT 1").WillReturnResult(sqlmock.NewResult(0, 0))

	tx := &poolTransaction{db: db, timeout: 5 * time.Second}
	c1, err := tx.Connection(context.Background())
	require.NoError(t, err)
	c2, err := tx.Connection(context.Background())
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.NoError(t, tx.Commit())
	assert.NoError(t, tx.Rollback())
	assert.NoError(t, tx.Close())
}

func TestBeginTransactionCommitsThroughSqlTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := NewSqlDataSource("sqlmock", "dsn", PoolConfig{})
	ds.db = db

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := BeginTransaction(context.Background(), ds, nil)
	require.NoError(t, err)
	conn, err := tx.Connection(context.Background())
	require.NoError(t, err)
	_, err = conn.ExecContext(context.Background(), "UPDATE users SET name=?", "a")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

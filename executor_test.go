package mybatis

import (
	"context"
	"reflect"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execTestRow struct {
	ID   int64
	Name string
}

func newExecutorTestConfig(t *testing.T) (*Configuration, *MappedStatement, *MappedStatement) {
	t.Helper()
	config := NewConfiguration()
	rm := &ResultMap{ID: "ns.Row", Type: reflect.TypeOf(execTestRow{})}
	require.NoError(t, config.addResultMap(rm))

	selectStmt := &MappedStatement{
		ID:            "ns.Select",
		CommandType:   SqlCommandSelect,
		StatementType: StatementTypePrepared,
		SqlSource:     &StaticSqlSource{Sql: "SELECT id, name FROM rows WHERE id = ?", ParameterMapping: []ParameterMapping{{Property: "."}}},
		ResultMapIDs:  []string{"Row"},
		Config:        config,
	}
	require.NoError(t, config.addMappedStatement(selectStmt))

	insertStmt := &MappedStatement{
		ID:            "ns.Insert",
		CommandType:   SqlCommandInsert,
		StatementType: StatementTypePrepared,
		SqlSource:     &StaticSqlSource{Sql: "INSERT INTO rows(name) VALUES (?)", ParameterMapping: []ParameterMapping{{Property: "Name"}}},
		Config:        config,
	}
	require.NoError(t, config.addMappedStatement(insertStmt))

	return config, selectStmt, insertStmt
}

func TestSimpleExecutorServesRepeatQueryFromLocalCache(t *testing.T) {
	config, selectStmt, _ := newExecutorTestConfig(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	tx := &poolTransaction{db: db}
	e := newSimpleExecutor(config, tx)

	mock.ExpectPrepare("SELECT id, name FROM rows")
	mock.ExpectQuery("SELECT id, name FROM rows").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "a"))

	rows1, err := e.Query(context.Background(), selectStmt, int64(1), NoRowBounds, nil)
	require.NoError(t, err)
	require.Len(t, rows1, 1)

	rows2, err := e.Query(context.Background(), selectStmt, int64(1), NoRowBounds, nil)
	require.NoError(t, err)
	require.Len(t, rows2, 1)
	require.NoError(t, mock.ExpectationsWereMet(), "second identical query must be served from local cache, not re-issued")
}

func TestSimpleExecutorClearLocalCacheForcesReQuery(t *testing.T) {
	config, selectStmt, _ := newExecutorTestConfig(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	tx := &poolTransaction{db: db}
	e := newSimpleExecutor(config, tx)

	mock.ExpectPrepare("SELECT id, name FROM rows")
	mock.ExpectQuery("SELECT id, name FROM rows").WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "a"))
	mock.ExpectPrepare("SELECT id, name FROM rows")
	mock.ExpectQuery("SELECT id, name FROM rows").WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "a-changed"))

	_, err = e.Query(context.Background(), selectStmt, int64(1), NoRowBounds, nil)
	require.NoError(t, err)
	e.ClearLocalCache()
	rows, err := e.Query(context.Background(), selectStmt, int64(1), NoRowBounds, nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, "a-changed", rows[0].(*execTestRow).Name)
}

func TestSimpleExecutorDetectsCircularNestedQuery(t *testing.T) {
	config, selectStmt, _ := newExecutorTestConfig(t)
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	tx := &poolTransaction{db: db}
	e := newSimpleExecutor(config, tx)

	boundSql, err := selectStmt.SqlSource.GetBoundSql(int64(1))
	require.NoError(t, err)
	key := e.CreateCacheKey(selectStmt, int64(1), NoRowBounds, boundSql)
	e.localCache[key.String()] = executionPlaceholder

	_, err = e.queryWithCacheKey(context.Background(), e, selectStmt, int64(1), NoRowBounds, nil, key, boundSql)
	assert.Error(t, err)
}

func TestSimpleExecutorUpdateExecutesInsertAndReturnsRowCount(t *testing.T) {
	config, _, insertStmt := newExecutorTestConfig(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	tx := &poolTransaction{db: db}
	e := newSimpleExecutor(config, tx)

	mock.ExpectPrepare("INSERT INTO rows")
	mock.ExpectExec("INSERT INTO rows").WithArgs("ada").WillReturnResult(sqlmock.NewResult(42, 1))

	type insertParam struct{ Name string }
	count, err := e.Update(context.Background(), insertStmt, &insertParam{Name: "ada"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBaseExecutorDeferLoadRunsImmediatelyWhenAlreadyCached(t *testing.T) {
	config, selectStmt, _ := newExecutorTestConfig(t)
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	tx := &poolTransaction{db: db}
	e := newSimpleExecutor(config, tx)

	boundSql, err := selectStmt.SqlSource.GetBoundSql(int64(1))
	require.NoError(t, err)
	key := e.CreateCacheKey(selectStmt, int64(1), NoRowBounds, boundSql)
	e.localCache[key.String()] = []interface{}{&execTestRow{ID: 1, Name: "cached"}}

	type holder struct{ Row *execTestRow }
	target := &holder{}
	e.DeferLoad(selectStmt, target, "Row", key, reflect.TypeOf(&execTestRow{}))
	require.NotNil(t, target.Row)
	assert.Equal(t, "cached", target.Row.Name)
	assert.Empty(t, e.deferred, "an immediately resolvable load must not be queued")
}

func TestBaseExecutorDeferLoadQueuesThenDrainsOnZeroQueryStack(t *testing.T) {
	config, selectStmt, _ := newExecutorTestConfig(t)
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	tx := &poolTransaction{db: db}
	e := newSimpleExecutor(config, tx)

	boundSql, err := selectStmt.SqlSource.GetBoundSql(int64(1))
	require.NoError(t, err)
	key := e.CreateCacheKey(selectStmt, int64(1), NoRowBounds, boundSql)

	type holder struct{ Row *execTestRow }
	target := &holder{}
	e.DeferLoad(selectStmt, target, "Row", key, reflect.TypeOf(&execTestRow{}))
	require.Len(t, e.deferred, 1)
	require.Nil(t, target.Row)

	e.localCache[key.String()] = []interface{}{&execTestRow{ID: 1, Name: "drained"}}
	e.drainDeferredLoads()
	require.NotNil(t, target.Row)
	assert.Equal(t, "drained", target.Row.Name)
	assert.Empty(t, e.deferred)
}

func TestReuseExecutorReusesPreparedStatementAcrossCalls(t *testing.T) {
	config, _, insertStmt := newExecutorTestConfig(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	tx := &poolTransaction{db: db}
	e := newReuseExecutor(config, tx)

	mock.ExpectPrepare("INSERT INTO rows")
	mock.ExpectExec("INSERT INTO rows").WithArgs("a").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO rows").WithArgs("b").WillReturnResult(sqlmock.NewResult(2, 1))

	type insertParam struct{ Name string }
	_, err = e.Update(context.Background(), insertStmt, &insertParam{Name: "a"})
	require.NoError(t, err)
	_, err = e.Update(context.Background(), insertStmt, &insertParam{Name: "b"})
	require.NoError(t, err)

	require.Len(t, e.statements, 1, "identical SQL text must reuse the same prepared statement")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReuseExecutorDoFlushClosesAndClearsStatements(t *testing.T) {
	config, _, insertStmt := newExecutorTestConfig(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	tx := &poolTransaction{db: db}
	e := newReuseExecutor(config, tx)

	mock.ExpectPrepare("INSERT INTO rows")
	mock.ExpectExec("INSERT INTO rows").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectClose()

	type insertParam struct{ Name string }
	_, err = e.Update(context.Background(), insertStmt, &insertParam{Name: "a"})
	require.NoError(t, err)
	require.NoError(t, e.doFlush(context.Background()))
	assert.Empty(t, e.statements)
}

func TestBatchExecutorAccumulatesAndFlushesOnDemand(t *testing.T) {
	config, _, insertStmt := newExecutorTestConfig(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	tx := &poolTransaction{db: db}
	e := newBatchExecutor(config, tx)

	mock.ExpectPrepare("INSERT INTO rows")
	mock.ExpectExec("INSERT INTO rows").WithArgs("a").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO rows").WithArgs("b").WillReturnResult(sqlmock.NewResult(2, 1))

	type insertParam struct{ Name string }
	_, err = e.Update(context.Background(), insertStmt, &insertParam{Name: "a"})
	require.NoError(t, err)
	_, err = e.Update(context.Background(), insertStmt, &insertParam{Name: "b"})
	require.NoError(t, err)

	require.Len(t, e.batches, 1, "same SQL text batches onto one statement")
	assert.Len(t, e.batches[0].counts, 2)

	require.NoError(t, e.doFlush(context.Background()))
	assert.Empty(t, e.batches)
}

func TestBatchExecutorQueryFlushesPendingBatchesFirst(t *testing.T) {
	config, selectStmt, insertStmt := newExecutorTestConfig(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	tx := &poolTransaction{db: db}
	e := newBatchExecutor(config, tx)

	mock.ExpectPrepare("INSERT INTO rows")
	mock.ExpectExec("INSERT INTO rows").WithArgs("a").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectPrepare("SELECT id, name FROM rows")
	mock.ExpectQuery("SELECT id, name FROM rows").WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "a"))

	type insertParam struct{ Name string }
	_, err = e.Update(context.Background(), insertStmt, &insertParam{Name: "a"})
	require.NoError(t, err)
	require.Len(t, e.batches, 1)

	_, err = e.Query(context.Background(), selectStmt, int64(1), NoRowBounds, nil)
	require.NoError(t, err)
	assert.Empty(t, e.batches, "a select must flush any pending batch first")
}

func TestBaseExecutorCheckClosedRejectsOperationsAfterClose(t *testing.T) {
	config, selectStmt, _ := newExecutorTestConfig(t)
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	tx := &poolTransaction{db: db}
	e := newSimpleExecutor(config, tx)

	e.Close(false)
	assert.True(t, e.IsClosed())
	_, err = e.Query(context.Background(), selectStmt, int64(1), NoRowBounds, nil)
	assert.Error(t, err)
}

func TestBaseExecutorCloseIsIdempotent(t *testing.T) {
	config, _, _ := newExecutorTestConfig(t)
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	tx := &poolTransaction{db: db}
	e := newSimpleExecutor(config, tx)

	e.Close(false)
	e.Close(false)
	assert.True(t, e.IsClosed())
}

package mybatis

import (
	"context"
	"database/sql"
	"reflect"

	"go.opentelemetry.io/otel"
)

// ResultHandler receives projected rows one at a time; returning true stops
// the projector early (a bounded scan).
type ResultHandler interface {
	HandleResult(row interface{}) (stop bool)
}

// localCacheSentinel occupies a local-cache slot while its query is still
// in flight, so a recursive nested query re-entering the same key detects
// the cycle instead of re-running the statement (spec §4.J).
type localCacheSentinel struct{}

var executionPlaceholder = localCacheSentinel{}

// deferredLoad is one outstanding nested-query result waiting for its
// owning top-level query to finish and populate the local cache (spec §4.J).
type deferredLoad struct {
	resultObject interface{}
	property     string
	key          *CacheKey
	targetType   reflect.Type
}

// Executor is the session-local execution engine (spec §4.J). A session
// owns exactly one; CachingExecutor and the plugin chain wrap it in layers.
type Executor interface {
	Update(ctx context.Context, ms *MappedStatement, parameter interface{}) (int64, error)
	Query(ctx context.Context, ms *MappedStatement, parameter interface{}, bounds RowBounds, handler ResultHandler) ([]interface{}, error)
	QueryCursor(ctx context.Context, ms *MappedStatement, parameter interface{}, bounds RowBounds) (*Cursor, error)
	CreateCacheKey(ms *MappedStatement, parameter interface{}, bounds RowBounds, boundSql *BoundSql) *CacheKey
	DeferLoad(ms *MappedStatement, resultObject interface{}, property string, key *CacheKey, targetType reflect.Type)
	Commit(required bool) error
	Rollback(required bool) error
	ClearLocalCache()
	Close(forceRollback bool)
	IsClosed() bool
	Transaction() Transaction
}

var tracer = otel.Tracer("mybatis")

// baseExecutor holds the machinery shared by Simple/Reuse/Batch: the local
// cache, deferred-load queue, query-stack depth, and closed-state flag,
// mirroring how gdb_core.go centralizes connection/transaction bookkeeping
// that its Simple/Tx cores both embed.
type baseExecutor struct {
	config       *Configuration
	tx           Transaction
	localCache   map[string]interface{}
	deferred     []deferredLoad
	queryStack   int
	closed       bool
	concreteDoer executorDoer
}

// executorDoer is the per-variant seam: Simple/Reuse/Batch differ only in
// how they obtain a StatementHandler's prepared statement and whether writes
// are batched, per spec §4.J.
type executorDoer interface {
	doUpdate(ctx context.Context, handler StatementHandler) (int64, error)
	doQuery(ctx context.Context, handler StatementHandler, resultHandler ResultHandler) ([]interface{}, error)
	doFlush(ctx context.Context) error
}

func newBaseExecutor(config *Configuration, tx Transaction) baseExecutor {
	return baseExecutor{config: config, tx: tx, localCache: map[string]interface{}{}}
}

func (e *baseExecutor) Transaction() Transaction { return e.tx }
func (e *baseExecutor) IsClosed() bool            { return e.closed }

func (e *baseExecutor) ClearLocalCache() { e.localCache = map[string]interface{}{} }

func (e *baseExecutor) CreateCacheKey(ms *MappedStatement, parameter interface{}, bounds RowBounds, boundSql *BoundSql) *CacheKey {
	key := NewCacheKey()
	key.Update(ms.ID)
	key.Update(bounds.Offset)
	key.Update(bounds.Limit)
	key.Update(boundSql.Sql)
	for _, m := range boundSql.ParameterMapping {
		v, _ := resolveBoundValue(m, boundSql)
		key.Update(v)
	}
	if e.config.environment != nil {
		key.Update(e.config.environment.ID)
	}
	return key
}

func (e *baseExecutor) checkClosed() error {
	if e.closed {
		return newExecutorError("executor is closed")
	}
	return nil
}

// requireUpdate runs a write through the statement handler, clearing the
// local cache first and invoking the key generator's before/after hooks
// (spec §4.J's update contract).
func (e *baseExecutor) requireUpdate(ctx context.Context, self Executor, ms *MappedStatement, parameter interface{}) (int64, error) {
	if err := e.checkClosed(); err != nil {
		return 0, err
	}
	e.ClearLocalCache()
	boundSql, err := ms.SqlSource.GetBoundSql(parameter)
	if err != nil {
		return 0, err
	}
	handler := wrapStatementHandler(e.config, newRoutedStatementHandler(ctx, self, e.config, ms, parameter, boundSql, NoRowBounds))
	if e.config.Debug() && e.config.Logger != nil {
		e.config.Logger.Debugf("%s: %s", ms.ID, boundSql.Sql)
	}
	if allDryRun {
		if e.config.Logger != nil {
			e.config.Logger.Debugf("[dry-run] %s: %s %v", ms.ID, boundSql.Sql, boundSql.ParameterMapping)
		}
		return 0, nil
	}
	if ms.KeyGenerator != nil {
		if err := ms.KeyGenerator.ProcessBefore(ctx, self, ms, parameter); err != nil {
			return 0, err
		}
	}
	count, err := e.concreteDoer.doUpdate(ctx, handler)
	if err != nil {
		return 0, newSqlExecutionError(err, "executor", "update", ms.ID, boundSql.Sql)
	}
	if ms.KeyGenerator != nil {
		lastID, _ := handler.LastInsertID()
		if err := ms.KeyGenerator.ProcessAfter(ctx, self, ms, parameter, lastID); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// requireQuery implements the local-cache/sentinel/deferred-load protocol
// of spec §4.J verbatim: STATEMENT-scope caches clear once the query-stack
// returns to zero; a sentinel guards against infinite nested-query cycles.
func (e *baseExecutor) requireQuery(ctx context.Context, self Executor, ms *MappedStatement, parameter interface{}, bounds RowBounds, resultHandler ResultHandler) ([]interface{}, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	boundSql, err := ms.SqlSource.GetBoundSql(parameter)
	if err != nil {
		return nil, err
	}
	key := e.CreateCacheKey(ms, parameter, bounds, boundSql)
	return e.queryWithCacheKey(ctx, self, ms, parameter, bounds, resultHandler, key, boundSql)
}

func (e *baseExecutor) queryWithCacheKey(ctx context.Context, self Executor, ms *MappedStatement, parameter interface{}, bounds RowBounds, resultHandler ResultHandler, key *CacheKey, boundSql *BoundSql) ([]interface{}, error) {
	if e.config.Debug() && e.config.Logger != nil {
		e.config.Logger.Debugf("%s: %s", ms.ID, boundSql.Sql)
	}
	e.queryStack++
	defer func() {
		e.queryStack--
		if e.queryStack == 0 {
			e.drainDeferredLoads()
			if e.config.Settings.LocalCacheScope == LocalCacheStatement {
				e.ClearLocalCache()
			}
		}
	}()

	if cached, ok := e.localCache[key.String()]; ok {
		if _, isSentinel := cached.(localCacheSentinel); isSentinel {
			return nil, newExecutorError("detected circular nested query for cache key %s", key)
		}
		return cached.([]interface{}), nil
	}

	ctxSpan, span := tracer.Start(ctx, "mybatis.query."+ms.ID)
	defer span.End()

	e.localCache[key.String()] = executionPlaceholder
	handler := wrapStatementHandler(e.config, newRoutedStatementHandler(ctxSpan, self, e.config, ms, parameter, boundSql, bounds))
	rows, err := e.concreteDoer.doQuery(ctxSpan, handler, resultHandler)
	if err != nil {
		delete(e.localCache, key.String())
		return nil, newSqlExecutionError(err, "executor", "query", ms.ID, boundSql.Sql)
	}
	e.localCache[key.String()] = rows
	return rows, nil
}

func (e *baseExecutor) DeferLoad(ms *MappedStatement, resultObject interface{}, property string, key *CacheKey, targetType reflect.Type) {
	if cached, ok := e.localCache[key.String()]; ok {
		if rows, isList := cached.([]interface{}); isList {
			_ = setPropertyValue(resultObject, property, firstOrSlice(rows, targetType))
			return
		}
	}
	e.deferred = append(e.deferred, deferredLoad{resultObject: resultObject, property: property, key: key, targetType: targetType})
}

func (e *baseExecutor) drainDeferredLoads() {
	pending := e.deferred
	e.deferred = nil
	for _, d := range pending {
		if cached, ok := e.localCache[d.key.String()]; ok {
			if rows, isList := cached.([]interface{}); isList {
				_ = setPropertyValue(d.resultObject, d.property, firstOrSlice(rows, d.targetType))
				continue
			}
		}
		e.deferred = append(e.deferred, d)
	}
}

func firstOrSlice(rows []interface{}, targetType reflect.Type) interface{} {
	if targetType != nil && targetType.Kind() != reflect.Slice {
		if len(rows) == 0 {
			return nil
		}
		return rows[0]
	}
	return rows
}

func (e *baseExecutor) Commit(required bool) error {
	if err := e.checkClosed(); err != nil {
		return err
	}
	e.ClearLocalCache()
	if err := e.concreteDoer.doFlush(context.Background()); err != nil {
		return err
	}
	if required {
		return e.tx.Commit()
	}
	return nil
}

func (e *baseExecutor) Rollback(required bool) error {
	if e.closed {
		return nil
	}
	e.ClearLocalCache()
	_ = e.concreteDoer.doFlush(context.Background())
	if required {
		return e.tx.Rollback()
	}
	return nil
}

func (e *baseExecutor) Close(forceRollback bool) {
	if e.closed {
		return
	}
	if forceRollback {
		_ = e.Rollback(true)
	}
	_ = e.tx.Close()
	e.closed = true
}

func resolveBoundValue(m ParameterMapping, boundSql *BoundSql) (interface{}, error) {
	if v, ok := boundSql.AdditionalParams[m.Property]; ok {
		return v, nil
	}
	rv, ok := getPropertyValue(reflect.ValueOf(boundSql.Parameter), m.Property)
	if !ok {
		return nil, nil
	}
	return rv.Interface(), nil
}

// ---- Simple executor ----

// simpleExecutor prepares and closes a statement per call (spec §4.J).
type simpleExecutor struct{ baseExecutor }

func newSimpleExecutor(config *Configuration, tx Transaction) *simpleExecutor {
	e := &simpleExecutor{baseExecutor: newBaseExecutor(config, tx)}
	e.concreteDoer = e
	return e
}

func (e *simpleExecutor) Update(ctx context.Context, ms *MappedStatement, parameter interface{}) (int64, error) {
	return e.requireUpdate(ctx, e, ms, parameter)
}
func (e *simpleExecutor) Query(ctx context.Context, ms *MappedStatement, parameter interface{}, bounds RowBounds, h ResultHandler) ([]interface{}, error) {
	return e.requireQuery(ctx, e, ms, parameter, bounds, h)
}
func (e *simpleExecutor) QueryCursor(ctx context.Context, ms *MappedStatement, parameter interface{}, bounds RowBounds) (*Cursor, error) {
	return newQueryCursor(ctx, e.config, e.tx, ms, parameter, bounds)
}

func (e *simpleExecutor) doUpdate(ctx context.Context, handler StatementHandler) (int64, error) {
	conn, err := e.tx.Connection(ctx)
	if err != nil {
		return 0, err
	}
	stmt, err := handler.Prepare(ctx, conn, e.tx.Timeout())
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	return handler.Update(ctx, stmt)
}

func (e *simpleExecutor) doQuery(ctx context.Context, handler StatementHandler, resultHandler ResultHandler) ([]interface{}, error) {
	conn, err := e.tx.Connection(ctx)
	if err != nil {
		return nil, err
	}
	stmt, err := handler.Prepare(ctx, conn, e.tx.Timeout())
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	return handler.Query(ctx, stmt, resultHandler)
}

func (e *simpleExecutor) doFlush(ctx context.Context) error { return nil }

// ---- Reuse executor ----

// reuseExecutor keeps a connection-scoped map of SQL text -> prepared
// statement, reusing across calls within the same session (spec §4.J).
type reuseExecutor struct {
	baseExecutor
	statements map[string]*sql.Stmt
}

func newReuseExecutor(config *Configuration, tx Transaction) *reuseExecutor {
	e := &reuseExecutor{baseExecutor: newBaseExecutor(config, tx), statements: map[string]*sql.Stmt{}}
	e.concreteDoer = e
	return e
}

func (e *reuseExecutor) Update(ctx context.Context, ms *MappedStatement, parameter interface{}) (int64, error) {
	return e.requireUpdate(ctx, e, ms, parameter)
}
func (e *reuseExecutor) Query(ctx context.Context, ms *MappedStatement, parameter interface{}, bounds RowBounds, h ResultHandler) ([]interface{}, error) {
	return e.requireQuery(ctx, e, ms, parameter, bounds, h)
}
func (e *reuseExecutor) QueryCursor(ctx context.Context, ms *MappedStatement, parameter interface{}, bounds RowBounds) (*Cursor, error) {
	return newQueryCursor(ctx, e.config, e.tx, ms, parameter, bounds)
}

func (e *reuseExecutor) stmtFor(ctx context.Context, handler StatementHandler, sqlText string) (*sql.Stmt, error) {
	if stmt, ok := e.statements[sqlText]; ok {
		return stmt, nil
	}
	conn, err := e.tx.Connection(ctx)
	if err != nil {
		return nil, err
	}
	stmt, err := handler.Prepare(ctx, conn, e.tx.Timeout())
	if err != nil {
		return nil, err
	}
	e.statements[sqlText] = stmt
	return stmt, nil
}

func (e *reuseExecutor) doUpdate(ctx context.Context, handler StatementHandler) (int64, error) {
	stmt, err := e.stmtFor(ctx, handler, handler.BoundSql().Sql)
	if err != nil {
		return 0, err
	}
	return handler.Update(ctx, stmt)
}

func (e *reuseExecutor) doQuery(ctx context.Context, handler StatementHandler, resultHandler ResultHandler) ([]interface{}, error) {
	stmt, err := e.stmtFor(ctx, handler, handler.BoundSql().Sql)
	if err != nil {
		return nil, err
	}
	return handler.Query(ctx, stmt, resultHandler)
}

func (e *reuseExecutor) doFlush(ctx context.Context) error {
	for sqlText, stmt := range e.statements {
		stmt.Close()
		delete(e.statements, sqlText)
	}
	return nil
}

// ---- Batch executor ----

// batchStatement holds one prepared statement shared by consecutive writes
// with the same SQL text, plus the row count each of those writes reported.
type batchStatement struct {
	sqlText string
	stmt    *sql.Stmt
	counts  []int64
}

// batchExecutor reuses one prepared statement across consecutive writes with
// the same SQL text until a select or explicit flush closes it. Each write
// still executes immediately when Update is called; writes are not deferred
// or sent to the driver as one batch.
type batchExecutor struct {
	baseExecutor
	batches []*batchStatement
	current string
}

func newBatchExecutor(config *Configuration, tx Transaction) *batchExecutor {
	e := &batchExecutor{baseExecutor: newBaseExecutor(config, tx)}
	e.concreteDoer = e
	return e
}

func (e *batchExecutor) Update(ctx context.Context, ms *MappedStatement, parameter interface{}) (int64, error) {
	return e.requireUpdate(ctx, e, ms, parameter)
}

// Query flushes pending batches first (spec §4.J: "flushed on select").
func (e *batchExecutor) Query(ctx context.Context, ms *MappedStatement, parameter interface{}, bounds RowBounds, h ResultHandler) ([]interface{}, error) {
	if err := e.doFlush(ctx); err != nil {
		return nil, err
	}
	return e.requireQuery(ctx, e, ms, parameter, bounds, h)
}

func (e *batchExecutor) QueryCursor(ctx context.Context, ms *MappedStatement, parameter interface{}, bounds RowBounds) (*Cursor, error) {
	if err := e.doFlush(ctx); err != nil {
		return nil, err
	}
	return newQueryCursor(ctx, e.config, e.tx, ms, parameter, bounds)
}

func (e *batchExecutor) doUpdate(ctx context.Context, handler StatementHandler) (int64, error) {
	sqlText := handler.BoundSql().Sql
	var target *batchStatement
	if len(e.batches) > 0 && e.batches[len(e.batches)-1].sqlText == sqlText {
		target = e.batches[len(e.batches)-1]
	} else {
		conn, err := e.tx.Connection(ctx)
		if err != nil {
			return 0, err
		}
		stmt, err := handler.Prepare(ctx, conn, e.tx.Timeout())
		if err != nil {
			return 0, err
		}
		target = &batchStatement{sqlText: sqlText, stmt: stmt}
		e.batches = append(e.batches, target)
	}
	count, err := handler.Update(ctx, target.stmt)
	if err != nil {
		return 0, err
	}
	target.counts = append(target.counts, count)
	return count, nil
}

func (e *batchExecutor) doQuery(ctx context.Context, handler StatementHandler, resultHandler ResultHandler) ([]interface{}, error) {
	conn, err := e.tx.Connection(ctx)
	if err != nil {
		return nil, err
	}
	stmt, err := handler.Prepare(ctx, conn, e.tx.Timeout())
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	return handler.Query(ctx, stmt, resultHandler)
}

func (e *batchExecutor) doFlush(ctx context.Context) error {
	for _, b := range e.batches {
		b.stmt.Close()
	}
	e.batches = nil
	return nil
}

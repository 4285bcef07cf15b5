package mybatis

import (
	"context"
	"reflect"
)

// cachingExecutor is the second-level-cache decorator: a SELECT consults the
// mapped statement's cache region before delegating, and any write with
// flushCacheRequired clears the region it writes through (spec §4.H/§4.J).
// It wraps the base executor before the plugin chain folds in, per Open
// Question 9a (see DESIGN.md).
type cachingExecutor struct {
	delegate Executor
}

func newCachingExecutor(delegate Executor) *cachingExecutor {
	return &cachingExecutor{delegate: delegate}
}

func (e *cachingExecutor) Update(ctx context.Context, ms *MappedStatement, parameter interface{}) (int64, error) {
	e.flushIfRequired(ms)
	return e.delegate.Update(ctx, ms, parameter)
}

func (e *cachingExecutor) Query(ctx context.Context, ms *MappedStatement, parameter interface{}, bounds RowBounds, handler ResultHandler) ([]interface{}, error) {
	if ms.Cache == nil || !ms.UseCache || handler != nil {
		e.flushIfRequired(ms)
		return e.delegate.Query(ctx, ms, parameter, bounds, handler)
	}
	boundSql, err := ms.SqlSource.GetBoundSql(parameter)
	if err != nil {
		return nil, err
	}
	key := e.delegate.CreateCacheKey(ms, parameter, bounds, boundSql)
	e.flushIfRequired(ms)
	rows, err := ms.Cache.GetOrLoad(key, func() (interface{}, error) {
		return e.delegate.Query(ctx, ms, parameter, bounds, handler)
	})
	if err != nil {
		return nil, err
	}
	return rows.([]interface{}), nil
}

func (e *cachingExecutor) flushIfRequired(ms *MappedStatement) {
	if ms.Cache != nil && ms.FlushCacheRequired {
		ms.Cache.Clear()
	}
}

func (e *cachingExecutor) QueryCursor(ctx context.Context, ms *MappedStatement, parameter interface{}, bounds RowBounds) (*Cursor, error) {
	return e.delegate.QueryCursor(ctx, ms, parameter, bounds)
}

func (e *cachingExecutor) CreateCacheKey(ms *MappedStatement, parameter interface{}, bounds RowBounds, boundSql *BoundSql) *CacheKey {
	return e.delegate.CreateCacheKey(ms, parameter, bounds, boundSql)
}

func (e *cachingExecutor) DeferLoad(ms *MappedStatement, resultObject interface{}, property string, key *CacheKey, targetType reflect.Type) {
	e.delegate.DeferLoad(ms, resultObject, property, key, targetType)
}

func (e *cachingExecutor) Commit(required bool) error { return e.delegate.Commit(required) }
func (e *cachingExecutor) Rollback(required bool) error { return e.delegate.Rollback(required) }
func (e *cachingExecutor) ClearLocalCache()             { e.delegate.ClearLocalCache() }
func (e *cachingExecutor) Close(forceRollback bool)     { e.delegate.Close(forceRollback) }
func (e *cachingExecutor) IsClosed() bool               { return e.delegate.IsClosed() }
func (e *cachingExecutor) Transaction() Transaction      { return e.delegate.Transaction() }

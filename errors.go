package mybatis

import (
	"fmt"

	"github.com/gogf/gf/errors/gerror"
)

// Error taxonomy. Each constructor wraps gerror so every error in the
// engine carries a stack, the way gdb's formatError/gerror.New calls do.

// ParseError reports malformed XML, a grammar error in a #{...} expression,
// an unknown element/attribute, or a duplicate id.
type ParseError struct{ cause error }

func (e *ParseError) Error() string { return "parse error: " + e.cause.Error() }
func (e *ParseError) Unwrap() error { return e.cause }

func newParseError(format string, args ...interface{}) error {
	return &ParseError{cause: gerror.Newf(format, args...)}
}

// IncompleteElementError marks a forward reference that may yet resolve
// once the rest of the configuration has been loaded.
type IncompleteElementError struct{ cause error }

func (e *IncompleteElementError) Error() string { return "incomplete element: " + e.cause.Error() }
func (e *IncompleteElementError) Unwrap() error { return e.cause }

func newIncompleteElementError(format string, args ...interface{}) error {
	return &IncompleteElementError{cause: gerror.Newf(format, args...)}
}

// BindingError reports mapper-method lookup failures, missing mapped
// statements, or conflicts between annotation-derived and XML declarations.
type BindingError struct{ cause error }

func (e *BindingError) Error() string { return "binding error: " + e.cause.Error() }
func (e *BindingError) Unwrap() error { return e.cause }

func newBindingError(format string, args ...interface{}) error {
	return &BindingError{cause: gerror.Newf(format, args...)}
}

// TypeHandlerError reports a missing handler for a (Go type, JDBC-ish type) pair.
type TypeHandlerError struct{ cause error }

func (e *TypeHandlerError) Error() string { return "type handler error: " + e.cause.Error() }
func (e *TypeHandlerError) Unwrap() error { return e.cause }

func newTypeHandlerError(format string, args ...interface{}) error {
	return &TypeHandlerError{cause: gerror.Newf(format, args...)}
}

// ReflectionError reports a property path that cannot be resolved against a target type.
type ReflectionError struct{ cause error }

func (e *ReflectionError) Error() string { return "reflection error: " + e.cause.Error() }
func (e *ReflectionError) Unwrap() error { return e.cause }

func newReflectionError(format string, args ...interface{}) error {
	return &ReflectionError{cause: gerror.Newf(format, args...)}
}

// ExecutorError reports use-after-close, nested-transaction misuse, or cursor misuse.
type ExecutorError struct{ cause error }

func (e *ExecutorError) Error() string { return "executor error: " + e.cause.Error() }
func (e *ExecutorError) Unwrap() error { return e.cause }

func newExecutorError(format string, args ...interface{}) error {
	return &ExecutorError{cause: gerror.Newf(format, args...)}
}

// CacheError reports a failure inside a cache decorator operation.
type CacheError struct{ cause error }

func (e *CacheError) Error() string { return "cache error: " + e.cause.Error() }
func (e *CacheError) Unwrap() error { return e.cause }

func newCacheError(format string, args ...interface{}) error {
	return &CacheError{cause: gerror.Newf(format, args...)}
}

// SqlExecutionError wraps a driver-reported failure with a context string
// of the form "resource/activity/object/sql", mirroring gdb_core.go's formatError.
type SqlExecutionError struct {
	cause    error
	Resource string
	Activity string
	Object   string
	Sql      string
}

func (e *SqlExecutionError) Error() string {
	return fmt.Sprintf("sql execution error: %s/%s/%s: %s\nSQL: %s",
		e.Resource, e.Activity, e.Object, e.cause.Error(), e.Sql)
}
func (e *SqlExecutionError) Unwrap() error { return e.cause }

func newSqlExecutionError(cause error, resource, activity, object, sql string) error {
	if cause == nil {
		return nil
	}
	return &SqlExecutionError{cause: cause, Resource: resource, Activity: activity, Object: object, Sql: sql}
}

// PluginError reports an interceptor signature that points at a non-interceptable method.
type PluginError struct{ cause error }

func (e *PluginError) Error() string { return "plugin error: " + e.cause.Error() }
func (e *PluginError) Unwrap() error { return e.cause }

func newPluginError(format string, args ...interface{}) error {
	return &PluginError{cause: gerror.Newf(format, args...)}
}

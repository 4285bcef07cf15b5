package mybatis

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorConstructorsProduceTypedWrappedErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		prefix string
		target interface{}
	}{
		{"parse", newParseError("bad %s", "xml"), "parse error: ", &ParseError{}},
		{"incomplete", newIncompleteElementError("forward ref %s", "x"), "incomplete element: ", &IncompleteElementError{}},
		{"binding", newBindingError("no statement %s", "x"), "binding error: ", &BindingError{}},
		{"typehandler", newTypeHandlerError("missing %s", "x"), "type handler error: ", &TypeHandlerError{}},
		{"reflection", newReflectionError("bad path %s", "x"), "reflection error: ", &ReflectionError{}},
		{"executor", newExecutorError("closed %s", "x"), "executor error: ", &ExecutorError{}},
		{"cache", newCacheError("bad %s", "x"), "cache error: ", &CacheError{}},
		{"plugin", newPluginError("bad target %s", "x"), "plugin error: ", &PluginError{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require := assert.New(t)
			require.Contains(tc.err.Error(), tc.prefix)
			require.True(errors.As(tc.err, tc.target), "error must unwrap to its typed form")
		})
	}
}

func TestSqlExecutionErrorFormatsContextAndSql(t *testing.T) {
	cause := errors.New("duplicate key")
	err := newSqlExecutionError(cause, "ds1", "insert", "users", "INSERT INTO users...")
	var target *SqlExecutionError
	require := assert.New(t)
	require.True(errors.As(err, &target))
	require.Contains(err.Error(), "ds1/insert/users")
	require.Contains(err.Error(), "duplicate key")
	require.Contains(err.Error(), "INSERT INTO users...")
	require.ErrorIs(err, cause)
}

func TestSqlExecutionErrorNilCauseIsNil(t *testing.T) {
	assert.Nil(t, newSqlExecutionError(nil, "ds", "a", "o", "sql"))
}

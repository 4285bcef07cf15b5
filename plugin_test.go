package mybatis

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubParameterHandler struct{ name string }

func (s stubParameterHandler) Values(*BoundSql) ([]interface{}, error) { return nil, nil }

type stubStatementHandler struct{ name string }

func (s stubStatementHandler) Prepare(context.Context, *sql.Conn, time.Duration) (*sql.Stmt, error) {
	return nil, nil
}
func (s stubStatementHandler) Update(context.Context, *sql.Stmt) (int64, error)     { return 0, nil }
func (s stubStatementHandler) Query(context.Context, *sql.Stmt, ResultHandler) ([]interface{}, error) {
	return nil, nil
}
func (s stubStatementHandler) BoundSql() *BoundSql           { return nil }
func (s stubStatementHandler) LastInsertID() (int64, bool)   { return 0, false }

type stubResultSetHandler struct{ name string }

func (s stubResultSetHandler) HandleResultSets(context.Context, *sql.Rows, *MappedStatement, ResultHandler) ([]interface{}, error) {
	return nil, nil
}

// nameTaggingInterceptor wraps each target in a named stub so the test can
// assert the chain applied every interceptor in registration order.
type nameTaggingInterceptor struct {
	BaseInterceptor
	tag string
}

func (i nameTaggingInterceptor) WrapParameterHandler(target ParameterHandler) ParameterHandler {
	return stubParameterHandler{name: i.tag}
}
func (i nameTaggingInterceptor) WrapStatementHandler(target StatementHandler) StatementHandler {
	return stubStatementHandler{name: i.tag}
}
func (i nameTaggingInterceptor) WrapResultSetHandler(target ResultSetHandler) ResultSetHandler {
	return stubResultSetHandler{name: i.tag}
}

func TestBaseInterceptorIsANoOpOnAllFourHooks(t *testing.T) {
	var i BaseInterceptor
	ph := stubParameterHandler{name: "orig"}
	sh := stubStatementHandler{name: "orig"}
	rh := stubResultSetHandler{name: "orig"}

	assert.Equal(t, ParameterHandler(ph), i.WrapParameterHandler(ph))
	assert.Equal(t, StatementHandler(sh), i.WrapStatementHandler(sh))
	assert.Equal(t, ResultSetHandler(rh), i.WrapResultSetHandler(rh))
}

func TestWrapStatementHandlerAppliesEveryInterceptorInOrder(t *testing.T) {
	c := NewConfiguration()
	c.AddInterceptor(nameTaggingInterceptor{tag: "first"})
	c.AddInterceptor(nameTaggingInterceptor{tag: "second"})

	wrapped := wrapStatementHandler(c, stubStatementHandler{name: "orig"})
	got, ok := wrapped.(stubStatementHandler)
	require.True(t, ok)
	assert.Equal(t, "second", got.name, "the last interceptor's wrap must win")
}

func TestWrapParameterHandlerAndResultSetHandlerApplyChain(t *testing.T) {
	c := NewConfiguration()
	c.AddInterceptor(nameTaggingInterceptor{tag: "only"})

	ph := wrapParameterHandler(c, stubParameterHandler{name: "orig"})
	assert.Equal(t, "only", ph.(stubParameterHandler).name)

	rh := wrapResultSetHandler(c, stubResultSetHandler{name: "orig"})
	assert.Equal(t, "only", rh.(stubResultSetHandler).name)
}

func TestWrapWithNoInterceptorsReturnsTargetUnchanged(t *testing.T) {
	c := NewConfiguration()
	sh := stubStatementHandler{name: "orig"}
	wrapped := wrapStatementHandler(c, sh)
	assert.Equal(t, sh, wrapped)
}

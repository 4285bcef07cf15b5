package mybatis

import (
	"context"
	"database/sql"
	"time"
)

// ParameterHandler resolves a BoundSql's ParameterMapping list into driver
// values, in order, delegating each to its TypeHandler (spec §4.K step 4).
type ParameterHandler interface {
	Values(boundSql *BoundSql) ([]interface{}, error)
}

type defaultParameterHandler struct {
	config *Configuration
}

func (h defaultParameterHandler) Values(boundSql *BoundSql) ([]interface{}, error) {
	values := make([]interface{}, len(boundSql.ParameterMapping))
	for i, m := range boundSql.ParameterMapping {
		raw, err := resolveBoundValue(m, boundSql)
		if err != nil {
			return nil, err
		}
		th := m.TypeHandler
		if th == nil && h.config != nil && m.JavaType != nil {
			if byType, ok := h.config.TypeHandlers.HandlerFor(m.JavaType); ok {
				th = byType
			}
		}
		if th == nil {
			values[i] = raw
			continue
		}
		v, err := th.SetParameter(raw)
		if err != nil {
			return nil, newTypeHandlerError("binding parameter %q: %v", m.Property, err)
		}
		values[i] = v
	}
	return values, nil
}

// StatementHandler drives one mapped statement's JDBC-equivalent lifecycle:
// acquire/prepare, bind, execute, and (for writes) report the driver's
// LastInsertId to the key generator (spec §4.K).
type StatementHandler interface {
	Prepare(ctx context.Context, conn *sql.Conn, transactionTimeout time.Duration) (*sql.Stmt, error)
	Update(ctx context.Context, stmt *sql.Stmt) (int64, error)
	Query(ctx context.Context, stmt *sql.Stmt, handler ResultHandler) ([]interface{}, error)
	BoundSql() *BoundSql
	LastInsertID() (int64, bool)
}

// baseStatementHandler implements the shared flow of spec §4.K steps 1-5;
// statement/prepared/callable variants only change how the args are bound
// (callable additionally separates OUT parameters).
type baseStatementHandler struct {
	config          *Configuration
	ms              *MappedStatement
	parameter       interface{}
	boundSql        *BoundSql
	paramHandler    ParameterHandler
	resultSetHdlr   ResultSetHandler
	lastInsertID    int64
	hasLastInsertID bool
}

func newRoutedStatementHandler(ctx context.Context, exec Executor, config *Configuration, ms *MappedStatement, parameter interface{}, boundSql *BoundSql, bounds RowBounds) StatementHandler {
	base := baseStatementHandler{
		config:        config,
		ms:            ms,
		parameter:     parameter,
		boundSql:      boundSql,
		paramHandler:  wrapParameterHandler(config, defaultParameterHandler{config: config}),
		resultSetHdlr: wrapResultSetHandler(config, &defaultResultSetHandler{config: config, bounds: bounds, ctx: ctx, exec: exec}),
	}
	switch ms.StatementType {
	case StatementTypeCallable:
		return &callableStatementHandler{baseStatementHandler: base}
	default:
		return &preparedStatementHandler{baseStatementHandler: base}
	}
}

func (h *baseStatementHandler) BoundSql() *BoundSql { return h.boundSql }

func (h *baseStatementHandler) LastInsertID() (int64, bool) { return h.lastInsertID, h.hasLastInsertID }

func (h *baseStatementHandler) effectiveTimeout(transactionTimeout time.Duration) time.Duration {
	timeout := h.config.Settings.DefaultStatementTimeout
	if h.ms.Timeout > 0 {
		stmtTimeout := time.Duration(h.ms.Timeout) * time.Second
		if timeout == 0 || stmtTimeout < timeout {
			timeout = stmtTimeout
		}
	}
	if transactionTimeout > 0 && (timeout == 0 || transactionTimeout < timeout) {
		timeout = transactionTimeout
	}
	return timeout
}

func (h *baseStatementHandler) withTimeout(ctx context.Context, transactionTimeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout := h.effectiveTimeout(transactionTimeout); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return ctx, func() {}
}

// preparedStatementHandler covers both StatementTypeStatement and
// StatementTypePrepared: database/sql always parameterizes through the
// driver, so the "simple" variant differs only in that its SqlSource never
// produced ParameterMapping entries (spec §4.K groups these as "shared flow").
type preparedStatementHandler struct{ baseStatementHandler }

func (h *preparedStatementHandler) Prepare(ctx context.Context, conn *sql.Conn, transactionTimeout time.Duration) (*sql.Stmt, error) {
	ctx, cancel := h.withTimeout(ctx, transactionTimeout)
	_ = cancel
	return conn.PrepareContext(ctx, h.boundSql.Sql)
}

func (h *preparedStatementHandler) Update(ctx context.Context, stmt *sql.Stmt) (int64, error) {
	args, err := h.paramHandler.Values(h.boundSql)
	if err != nil {
		return 0, err
	}
	result, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return 0, err
	}
	if id, idErr := result.LastInsertId(); idErr == nil {
		h.lastInsertID = id
		h.hasLastInsertID = true
	}
	return result.RowsAffected()
}

func (h *preparedStatementHandler) Query(ctx context.Context, stmt *sql.Stmt, resultHandler ResultHandler) ([]interface{}, error) {
	args, err := h.paramHandler.Values(h.boundSql)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return h.resultSetHdlr.HandleResultSets(ctx, rows, h.ms, resultHandler)
}

// callableStatementHandler handles StatementTypeCallable statements. IN
// binding and result handling are identical to the prepared path;
// database/sql has no portable cross-driver convention for writing back an
// OUT/INOUT parameter, so rather than silently dropping one, Update/Query
// fail with a BindingError as soon as a mapping declares mode=OUT/INOUT
// against a callable statement (spec §4.K).
type callableStatementHandler struct{ baseStatementHandler }

func (h *callableStatementHandler) checkParameterModesSupported() error {
	for _, m := range h.boundSql.ParameterMapping {
		if m.Mode == ParameterModeIn {
			continue
		}
		mode := "OUT"
		if m.Mode == ParameterModeInOut {
			mode = "INOUT"
		}
		return newBindingError("statement %q: parameter %q declares mode=%s, but callable statements do not support OUT/INOUT parameter write-back", h.ms.ID, m.Property, mode)
	}
	return nil
}

func (h *callableStatementHandler) Prepare(ctx context.Context, conn *sql.Conn, transactionTimeout time.Duration) (*sql.Stmt, error) {
	ctx, cancel := h.withTimeout(ctx, transactionTimeout)
	_ = cancel
	return conn.PrepareContext(ctx, h.boundSql.Sql)
}

func (h *callableStatementHandler) Update(ctx context.Context, stmt *sql.Stmt) (int64, error) {
	if err := h.checkParameterModesSupported(); err != nil {
		return 0, err
	}
	args, err := h.paramHandler.Values(h.boundSql)
	if err != nil {
		return 0, err
	}
	result, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (h *callableStatementHandler) Query(ctx context.Context, stmt *sql.Stmt, resultHandler ResultHandler) ([]interface{}, error) {
	if err := h.checkParameterModesSupported(); err != nil {
		return nil, err
	}
	args, err := h.paramHandler.Values(h.boundSql)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return h.resultSetHdlr.HandleResultSets(ctx, rows, h.ms, resultHandler)
}

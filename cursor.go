package mybatis

import (
	"context"
	"database/sql"
	"reflect"
)

// Cursor streams rows lazily, holding the statement and result set open
// until Close (spec §4.J's queryCursor). Usage mirrors database/sql's own
// *sql.Rows iterator idiom: `for cursor.Next() { v := cursor.Current() }`.
// Nested (join) result maps are not supported through a cursor — streaming
// and row-key-based nested linking are in tension, so cursor queries require
// a result map with no nested result mappings (documented in DESIGN.md).
type Cursor struct {
	rows      *sql.Rows
	stmt      *sql.Stmt
	conn      *sql.Conn
	columns   []string
	resultMap *ResultMap
	handler   *defaultResultSetHandler
	bounds    RowBounds
	skipped   int
	emitted   int
	closed    bool
	current   interface{}
	err       error
}

func newQueryCursor(ctx context.Context, config *Configuration, tx Transaction, ms *MappedStatement, parameter interface{}, bounds RowBounds) (*Cursor, error) {
	if len(ms.ResultMapIDs) == 0 {
		return nil, newBindingError("statement %q has no result map to stream through a cursor", ms.ID)
	}
	resultMap, ok := config.ResultMap(qualify(ms.Namespace(), ms.ResultMapIDs[0]))
	if !ok {
		return nil, newBindingError("statement %q references unknown result map %q", ms.ID, ms.ResultMapIDs[0])
	}
	if resultMap.HasNestedMaps {
		return nil, newBindingError("result map %q has nested result maps and cannot back a cursor", resultMap.ID)
	}
	boundSql, err := ms.SqlSource.GetBoundSql(parameter)
	if err != nil {
		return nil, err
	}
	conn, err := tx.Connection(ctx)
	if err != nil {
		return nil, err
	}
	stmt, err := conn.PrepareContext(ctx, boundSql.Sql)
	if err != nil {
		conn.Close()
		return nil, err
	}
	args, err := (defaultParameterHandler{config: config}).Values(boundSql)
	if err != nil {
		stmt.Close()
		conn.Close()
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		stmt.Close()
		conn.Close()
		return nil, err
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		stmt.Close()
		conn.Close()
		return nil, err
	}
	return &Cursor{
		rows: rows, stmt: stmt, conn: conn, columns: columns, resultMap: resultMap, bounds: bounds,
		handler: &defaultResultSetHandler{config: config, bounds: bounds, nestedObjects: map[string]reflect.Value{}, pending: map[string][]pendingLink{}},
	}, nil
}

// Next advances to the next in-window row, returning false at end of
// results, on error (see Err), or once the cursor is closed.
func (c *Cursor) Next() bool {
	if c.closed {
		return false
	}
	for c.rows.Next() {
		if c.bounds.Offset > 0 && c.skipped < c.bounds.Offset {
			c.skipped++
			if _, err := scanRow(c.rows, c.columns); err != nil {
				c.err = err
				return false
			}
			continue
		}
		if c.bounds.Limit >= 0 && c.emitted >= c.bounds.Limit {
			return false
		}
		row, err := scanRow(c.rows, c.columns)
		if err != nil {
			c.err = err
			return false
		}
		obj, err := c.handler.projectSimple(c.resultMap, c.columns, row)
		if err != nil {
			c.err = err
			return false
		}
		c.current = resultValue(obj)
		c.emitted++
		return true
	}
	c.err = c.rows.Err()
	return false
}

func (c *Cursor) Current() interface{} { return c.current }
func (c *Cursor) Err() error           { return c.err }

func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	rowsErr := c.rows.Close()
	stmtErr := c.stmt.Close()
	connErr := c.conn.Close()
	if rowsErr != nil {
		return rowsErr
	}
	if stmtErr != nil {
		return stmtErr
	}
	return connErr
}

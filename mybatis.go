// Package mybatis is a data-access mapping engine: it compiles declarative
// SQL templates (XML mapper documents or script strings attached to mapper
// method descriptors) into executable parameterized SQL, binds arbitrary
// object graphs into parameters, executes through a database/sql driver,
// and projects rows back into object graphs — including nested
// collections, discriminated polymorphic results, and lazy associations.
package mybatis

import (
	"context"
	"database/sql"
	"time"

	"github.com/gogf/gf/container/gvar"
	"github.com/gogf/gf/os/gcmd"
)

// Value is an untyped column/parameter value, the same role gdb's
// Value = *gvar.Var plays for a driver row cell.
type Value = *gvar.Var

// Map is the most common loosely typed parameter/row shape.
type Map = map[string]interface{}

// SqlCommandType classifies a mapped statement's write/read intent.
type SqlCommandType int

const (
	SqlCommandUnknown SqlCommandType = iota
	SqlCommandInsert
	SqlCommandUpdate
	SqlCommandDelete
	SqlCommandSelect
	SqlCommandFlush
)

// StatementType selects how the executor asks the driver to run SQL.
type StatementType int

const (
	StatementTypeStatement StatementType = iota // simple, unparameterized text
	StatementTypePrepared                       // database/sql prepared statement
	StatementTypeCallable                       // stored procedure call
)

// ExecutorType selects the executor's statement-reuse/batching strategy.
type ExecutorType int

const (
	ExecutorSimple ExecutorType = iota
	ExecutorReuse
	ExecutorBatch
)

// LocalCacheScope controls when the first-level (session-local) cache clears.
type LocalCacheScope int

const (
	LocalCacheSession LocalCacheScope = iota
	LocalCacheStatement
)

// AutoMappingBehavior controls automatic column->property mapping for
// columns not named by a declared ResultMapping.
type AutoMappingBehavior int

const (
	AutoMappingNone AutoMappingBehavior = iota
	AutoMappingPartial
	AutoMappingFull
)

// ParameterMode mirrors JDBC IN/OUT/INOUT parameter direction for callable statements.
type ParameterMode int

const (
	ParameterModeIn ParameterMode = iota
	ParameterModeOut
	ParameterModeInOut
)

// RowBounds limits a query to a window of the result set. Offset<0 or
// Limit<0 mean "unbounded" (the spec's "no RowBounds" case).
type RowBounds struct {
	Offset int
	Limit  int
}

// NoRowBounds is the default, unbounded window.
var NoRowBounds = RowBounds{Offset: 0, Limit: -1}

// Transaction is the external collaborator the executor drives: begin
// happens implicitly by acquiring a connection, and commit/rollback/close
// are explicit. The core never opens a raw *sql.DB itself outside of this
// interface — this mirrors gdb's Link/TX split (gdb_transaction.go).
type Transaction interface {
	Connection(ctx context.Context) (*sql.Conn, error)
	Commit() error
	Rollback() error
	Close() error
	Timeout() time.Duration
}

// DataSource is the external factory for transactions/connections.
// Mirrors gdb.go's Driver.New / Core.getSqlDb pooling contract.
type DataSource interface {
	Open(ctx context.Context) (Transaction, error)
}

// Resources resolves a named mapper resource (a classpath/URL/file
// reference) to its raw bytes, the collaborator named in spec.md §1.
type Resources interface {
	Read(name string) ([]byte, error)
}

func init() {
	// allDryRun mirrors gdb.go's init() reading "gf.gdb.dryrun" via gcmd,
	// letting a CLI flag or env var force every statement into dry-run mode.
	allDryRun = gcmd.GetWithEnv("mybatis.dryrun", false).Bool()
}

var allDryRun = false

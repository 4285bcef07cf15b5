package mybatis

import (
	"database/sql/driver"
	"reflect"

	"github.com/gogf/gf/util/gconv"
)

// TypeHandler converts between a Go value and the driver value written to
// (or read from) a prepared statement parameter/column, per spec §3's
// "parameter/result conversion" collaborator. Grounded on gdb_func.go's
// gconv-based scalar conversion, generalized to an interface so mapper
// documents can name alternate handlers via typeHandler= attributes.
type TypeHandler interface {
	// SetParameter converts v into a value the driver accepts.
	SetParameter(v interface{}) (driver.Value, error)
	// GetResult converts a scanned column value into the handler's Go type.
	GetResult(v interface{}) (interface{}, error)
}

// TypeHandlerRegistry resolves handlers by alias (typeHandler="xxx" in a
// mapper document) and by Go type (automatic selection during result
// mapping), mirroring MyBatis's dual by-alias/by-type lookup.
type TypeHandlerRegistry struct {
	byAlias map[string]TypeHandler
	byType  map[reflect.Type]TypeHandler
}

func NewTypeHandlerRegistry() *TypeHandlerRegistry {
	r := &TypeHandlerRegistry{byAlias: map[string]TypeHandler{}, byType: map[reflect.Type]TypeHandler{}}
	r.Register("string", stringTypeHandler{})
	r.Register("long", integerTypeHandler{})
	r.Register("integer", integerTypeHandler{})
	r.Register("double", floatTypeHandler{})
	r.Register("float", floatTypeHandler{})
	r.Register("boolean", boolTypeHandler{})
	return r
}

// Register adds (or replaces) the handler under alias only; RegisterForType
// makes a handler the default for a Go type.
func (r *TypeHandlerRegistry) Register(alias string, h TypeHandler) {
	r.byAlias[alias] = h
}

func (r *TypeHandlerRegistry) RegisterForType(t reflect.Type, h TypeHandler) {
	r.byType[t] = h
}

// HandlerFor returns the registered handler for t, if any.
func (r *TypeHandlerRegistry) HandlerFor(t reflect.Type) (TypeHandler, bool) {
	if t == nil {
		return nil, false
	}
	h, ok := r.byType[t]
	return h, ok
}

func (r *TypeHandlerRegistry) ByAlias(alias string) (TypeHandler, bool) {
	h, ok := r.byAlias[alias]
	return h, ok
}

// ---- built-in handlers, all delegating conversion to gconv as gdb's own
// scan/bind path does (gdb_func.go, gdb_type_result.go) ----

type stringTypeHandler struct{}

func (stringTypeHandler) SetParameter(v interface{}) (driver.Value, error) {
	return gconv.String(v), nil
}
func (stringTypeHandler) GetResult(v interface{}) (interface{}, error) { return gconv.String(v), nil }

type integerTypeHandler struct{}

func (integerTypeHandler) SetParameter(v interface{}) (driver.Value, error) {
	return gconv.Int64(v), nil
}
func (integerTypeHandler) GetResult(v interface{}) (interface{}, error) {
	return gconv.Int64(v), nil
}

type floatTypeHandler struct{}

func (floatTypeHandler) SetParameter(v interface{}) (driver.Value, error) {
	return gconv.Float64(v), nil
}
func (floatTypeHandler) GetResult(v interface{}) (interface{}, error) {
	return gconv.Float64(v), nil
}

type boolTypeHandler struct{}

func (boolTypeHandler) SetParameter(v interface{}) (driver.Value, error) {
	return gconv.Bool(v), nil
}
func (boolTypeHandler) GetResult(v interface{}) (interface{}, error) { return gconv.Bool(v), nil }

// ObjectFactory instantiates result objects (spec §4.L "construction"),
// mirroring MyBatis's pluggable ObjectFactory. defaultObjectFactory uses
// reflect.New, the same mechanism gdb_type_result.go's Struct()/Structs()
// use to build scan targets.
type ObjectFactory interface {
	Create(t reflect.Type) (reflect.Value, error)
}

type defaultObjectFactory struct{}

func (defaultObjectFactory) Create(t reflect.Type) (reflect.Value, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return reflect.New(t), nil
}

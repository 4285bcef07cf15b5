package mybatis

import (
	"context"
	"reflect"
)

// Session is the facade applications drive directly (spec §4.N): it owns
// exactly one Executor for its lifetime, exposes statement-id-addressed
// CRUD operations, and commits/rolls back the underlying Transaction.
//
// MyBatis additionally hands out dynamic-proxy "Mapper" interfaces whose
// methods are implemented by the framework at runtime. Go's reflect package
// cannot synthesize a new method set for an arbitrary interface at runtime —
// there is no dynamic-proxy primitive — so that facility is redesigned here
// as BindMapper: the caller supplies a pointer to a plain struct whose
// exported fields are func-typed, and BindMapper populates each field with a
// reflect.MakeFunc closure that dispatches to the statement named by the
// field (documented in DESIGN.md as a resolution of a Go-specific Redesign
// Flag).
type Session struct {
	config     *Configuration
	executor   Executor
	autoCommit bool
}

// OpenSession opens a fresh Transaction from config's Environment and wraps
// it in a new Session, mirroring gdb_core.go's Core.Open/db pooling entry
// point one layer up.
func OpenSession(ctx context.Context, config *Configuration, executorType ExecutorType, autoCommit bool) (*Session, error) {
	env := config.Environment()
	if env == nil || env.DataSource == nil {
		return nil, newExecutorError("configuration has no environment/data source set")
	}
	tx, err := env.DataSource.Open(ctx)
	if err != nil {
		return nil, err
	}
	return NewSessionWithTransaction(config, tx, executorType, autoCommit), nil
}

// NewSessionWithTransaction builds a Session around an already-open
// Transaction, for callers that manage their own connection/transaction
// lifecycle (e.g. nesting a mapper call inside a caller's existing tx).
func NewSessionWithTransaction(config *Configuration, tx Transaction, executorType ExecutorType, autoCommit bool) *Session {
	return &Session{
		config:     config,
		executor:   config.NewExecutor(context.Background(), tx, executorType),
		autoCommit: autoCommit,
	}
}

func (s *Session) statement(statementID string) (*MappedStatement, error) {
	return s.config.MappedStatement(statementID)
}

// SelectOne runs statementID expecting at most one row; more than one row is
// a BindingError (spec §4.N).
func (s *Session) SelectOne(ctx context.Context, statementID string, parameter interface{}) (interface{}, error) {
	rows, err := s.SelectList(ctx, statementID, parameter)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		return rows[0], nil
	default:
		return nil, newBindingError("statement %q returned %d rows, expected at most one", statementID, len(rows))
	}
}

// SelectList runs statementID over its full (unbounded) result window.
func (s *Session) SelectList(ctx context.Context, statementID string, parameter interface{}) ([]interface{}, error) {
	return s.SelectListBounds(ctx, statementID, parameter, NoRowBounds)
}

// SelectListBounds runs statementID, applying bounds to the returned window
// (spec §4.J). Caching/local-cache keys include the bounds, so two windows
// over the same statement+parameter are cached independently.
func (s *Session) SelectListBounds(ctx context.Context, statementID string, parameter interface{}, bounds RowBounds) ([]interface{}, error) {
	ms, err := s.statement(statementID)
	if err != nil {
		return nil, err
	}
	return s.executor.Query(ctx, ms, parameter, bounds, nil)
}

// SelectEach streams rows to handler one at a time, stopping early if handler
// returns true (spec §4.N's handler-based select).
func (s *Session) SelectEach(ctx context.Context, statementID string, parameter interface{}, handler ResultHandler) error {
	ms, err := s.statement(statementID)
	if err != nil {
		return err
	}
	_, err = s.executor.Query(ctx, ms, parameter, NoRowBounds, handler)
	return err
}

// SelectMap runs statementID and indexes the results by mapKeyProperty,
// the Go analogue of MyBatis's @MapKey/selectMap (spec §4.N).
func (s *Session) SelectMap(ctx context.Context, statementID string, parameter interface{}, mapKeyProperty string) (map[string]interface{}, error) {
	rows, err := s.SelectList(ctx, statementID, parameter)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(rows))
	for _, row := range rows {
		rv := reflect.ValueOf(row)
		for rv.Kind() == reflect.Ptr {
			rv = rv.Elem()
		}
		keyVal, ok := getPropertyValue(rv, mapKeyProperty)
		if !ok {
			return nil, newBindingError("selectMap key property %q not found on result row", mapKeyProperty)
		}
		out[toComparableString(keyVal.Interface())] = row
	}
	return out, nil
}

// SelectCursor streams statementID's rows lazily through a Cursor, for
// result sets too large to materialize in full (spec §4.J's queryCursor).
func (s *Session) SelectCursor(ctx context.Context, statementID string, parameter interface{}) (*Cursor, error) {
	ms, err := s.statement(statementID)
	if err != nil {
		return nil, err
	}
	return s.executor.QueryCursor(ctx, ms, parameter, NoRowBounds)
}

// Insert, Update, and Delete all run through the same Executor.Update path —
// the distinction is purely the statement's declared CommandType (spec §4.J).
func (s *Session) Insert(ctx context.Context, statementID string, parameter interface{}) (int64, error) {
	return s.write(ctx, statementID, parameter)
}
func (s *Session) Update(ctx context.Context, statementID string, parameter interface{}) (int64, error) {
	return s.write(ctx, statementID, parameter)
}
func (s *Session) Delete(ctx context.Context, statementID string, parameter interface{}) (int64, error) {
	return s.write(ctx, statementID, parameter)
}

func (s *Session) write(ctx context.Context, statementID string, parameter interface{}) (int64, error) {
	ms, err := s.statement(statementID)
	if err != nil {
		return 0, err
	}
	count, err := s.executor.Update(ctx, ms, parameter)
	if err != nil {
		return 0, err
	}
	if s.autoCommit {
		if err := s.executor.Commit(true); err != nil {
			return count, err
		}
	}
	return count, nil
}

func (s *Session) Commit() error   { return s.executor.Commit(true) }
func (s *Session) Rollback() error { return s.executor.Rollback(true) }
func (s *Session) ClearCache()     { s.executor.ClearLocalCache() }

func (s *Session) Close() error {
	s.executor.Close(!s.autoCommit)
	return nil
}

// ---- named-parameter binding (spec §4.N) ----

// bindMapperArgs implements the rules MyBatis applies to a mapper method's
// argument list when building the single parameter object a SqlSource sees:
//   - exactly one argument that is not a slice/array/map binds directly, so
//     #{property} navigates straight into it (the common single-bean case);
//   - exactly one argument that IS a slice/array is wrapped in a map under
//     "collection" (plus "list" or "array" per its Go kind) so both
//     <foreach collection="list"> and collection="array" resolve, in
//     addition to the positional "param1" alias;
//   - more than one argument is wrapped under "param1".."paramN".
//
// Go's reflect.MakeFunc callback never recovers a parameter's *declared
// name* (unlike Java's -parameters-compiled annotations), so named aliases
// beyond paramN are unavailable without a struct-tag-driven mapper
// declaration; BindMapper callers needing named bindings should accept a
// single map[string]interface{} or struct argument instead (documented in
// DESIGN.md as the Go-idiomatic substitute for @Param).
func bindMapperArgs(args []reflect.Value) interface{} {
	if len(args) == 1 {
		v := args[0].Interface()
		rv := args[0]
		for rv.Kind() == reflect.Ptr {
			rv = rv.Elem()
		}
		if rv.IsValid() && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) {
			wrapped := Map{"param1": v, "collection": v}
			if rv.Kind() == reflect.Array {
				wrapped["array"] = v
			} else {
				wrapped["list"] = v
			}
			return wrapped
		}
		return v
	}
	wrapped := make(Map, len(args))
	for i, a := range args {
		wrapped[paramNName(i+1)] = a.Interface()
	}
	return wrapped
}

func paramNName(n int) string {
	const digits = "0123456789"
	if n < 10 {
		return "param" + string(digits[n])
	}
	out := []byte{}
	for n > 0 {
		out = append([]byte{digits[n%10]}, out...)
		n /= 10
	}
	return "param" + string(out)
}

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
var errorType = reflect.TypeOf((*error)(nil)).Elem()

// BindMapper populates every exported func-typed field of the struct pointed
// to by target with a dispatcher for the mapped statement named
// "<namespace>.<FieldName>", where namespace is the argument passed in.
// Each field's function must take an optional leading context.Context
// followed by zero or more parameter arguments, and return either
// (result, error), (error), or nothing meaningful but error for writes.
func (s *Session) BindMapper(namespace string, target interface{}) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return newBindingError("BindMapper requires a non-nil pointer to struct, got %T", target)
	}
	structVal := rv.Elem()
	structType := structVal.Type()
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if !field.IsExported() || field.Type.Kind() != reflect.Func {
			continue
		}
		stmtID := qualify(namespace, field.Name)
		ms, err := s.statement(stmtID)
		if err != nil {
			return err
		}
		structVal.Field(i).Set(s.makeMapperFunc(field.Type, ms))
	}
	return nil
}

func (s *Session) makeMapperFunc(fnType reflect.Type, ms *MappedStatement) reflect.Value {
	return reflect.MakeFunc(fnType, func(args []reflect.Value) []reflect.Value {
		ctx := context.Background()
		rest := args
		if fnType.NumIn() > 0 && fnType.In(0) == contextType {
			ctx = args[0].Interface().(context.Context)
			rest = args[1:]
		}
		parameter := bindMapperArgs(rest)
		if ms.CommandType == SqlCommandSelect {
			return s.dispatchSelect(ctx, ms, parameter, fnType)
		}
		return s.dispatchWrite(ctx, ms, parameter, fnType)
	})
}

func (s *Session) dispatchSelect(ctx context.Context, ms *MappedStatement, parameter interface{}, fnType reflect.Type) []reflect.Value {
	numOut := fnType.NumOut()
	hasErrOut := numOut > 0 && fnType.Out(numOut-1) == errorType
	zeroOut := func(err error) []reflect.Value {
		out := make([]reflect.Value, numOut)
		for i := 0; i < numOut; i++ {
			if hasErrOut && i == numOut-1 {
				continue
			}
			out[i] = reflect.Zero(fnType.Out(i))
		}
		if hasErrOut {
			out[numOut-1] = errValue(err)
		}
		return out
	}
	if numOut == 0 || (numOut == 1 && hasErrOut) {
		_, err := s.executor.Query(ctx, ms, parameter, NoRowBounds, nil)
		return zeroOut(err)
	}
	resultType := fnType.Out(0)
	if resultType.Kind() == reflect.Slice {
		rows, err := s.executor.Query(ctx, ms, parameter, NoRowBounds, nil)
		if err != nil {
			return zeroOut(err)
		}
		out := reflect.MakeSlice(resultType, 0, len(rows))
		for _, r := range rows {
			out = reflect.Append(out, adaptRow(r, resultType.Elem()))
		}
		result := zeroOut(nil)
		result[0] = out
		return result
	}
	rows, err := s.executor.Query(ctx, ms, parameter, NoRowBounds, nil)
	if err != nil {
		return zeroOut(err)
	}
	if len(rows) == 0 {
		return zeroOut(nil)
	}
	if len(rows) > 1 {
		return zeroOut(newBindingError("statement %q returned %d rows, expected at most one", ms.ID, len(rows)))
	}
	result := zeroOut(nil)
	result[0] = adaptRow(rows[0], resultType)
	return result
}

func (s *Session) dispatchWrite(ctx context.Context, ms *MappedStatement, parameter interface{}, fnType reflect.Type) []reflect.Value {
	numOut := fnType.NumOut()
	count, err := s.executor.Update(ctx, ms, parameter)
	if err == nil && s.autoCommit {
		err = s.executor.Commit(true)
	}
	out := make([]reflect.Value, numOut)
	for i := 0; i < numOut; i++ {
		outType := fnType.Out(i)
		switch {
		case outType == errorType:
			out[i] = errValue(err)
		case outType.Kind() == reflect.Bool:
			out[i] = reflect.ValueOf(count > 0)
		case outType.Kind() == reflect.Int64:
			out[i] = reflect.ValueOf(count)
		case outType.Kind() == reflect.Int:
			out[i] = reflect.ValueOf(int(count))
		default:
			out[i] = reflect.Zero(outType)
		}
	}
	return out
}

func errValue(err error) reflect.Value {
	if err == nil {
		return reflect.Zero(errorType)
	}
	return reflect.ValueOf(err)
}

// adaptRow converts a projected row (always a reflect.Value-backed Go value
// produced by the result set handler) to target, unwrapping/re-wrapping a
// pointer indirection as needed.
func adaptRow(row interface{}, target reflect.Type) reflect.Value {
	rv := reflect.ValueOf(row)
	if !rv.IsValid() {
		return reflect.Zero(target)
	}
	if rv.Type() == target {
		return rv
	}
	if target.Kind() == reflect.Ptr {
		if rv.Kind() == reflect.Ptr && rv.Type().Elem() == target.Elem() {
			return rv
		}
		if rv.Kind() != reflect.Ptr && rv.Type() == target.Elem() {
			ptr := reflect.New(target.Elem())
			ptr.Elem().Set(rv)
			return ptr
		}
	}
	if rv.Kind() == reflect.Ptr && rv.Type().Elem() == target {
		return rv.Elem()
	}
	if rv.Type().ConvertibleTo(target) {
		return rv.Convert(target)
	}
	return reflect.Zero(target)
}

package mybatis

import (
	"context"
	"reflect"
)

// KeyGenerator populates generated-key properties on the parameter object
// after (or before) a write statement executes (spec §4.M).
type KeyGenerator interface {
	ProcessBefore(ctx context.Context, exec Executor, ms *MappedStatement, parameter interface{}) error
	ProcessAfter(ctx context.Context, exec Executor, ms *MappedStatement, parameter interface{}, lastInsertID int64) error
}

// NoKeyGenerator is the default: no-op both sides.
type NoKeyGenerator struct{}

func (NoKeyGenerator) ProcessBefore(context.Context, Executor, *MappedStatement, interface{}) error {
	return nil
}
func (NoKeyGenerator) ProcessAfter(context.Context, Executor, *MappedStatement, interface{}, int64) error {
	return nil
}

// Jdbc3KeyGenerator applies the driver's reported LastInsertId to the
// statement's keyProperty paths, supporting a single row or a batch of rows
// when the parameter is a slice.
type Jdbc3KeyGenerator struct {
	KeyProperties []string
	KeyColumns    []string
}

func (Jdbc3KeyGenerator) ProcessBefore(context.Context, Executor, *MappedStatement, interface{}) error {
	return nil
}

func (g Jdbc3KeyGenerator) ProcessAfter(ctx context.Context, exec Executor, ms *MappedStatement, parameter interface{}, lastInsertID int64) error {
	if len(g.KeyProperties) == 0 {
		return nil
	}
	targets := batchTargets(parameter)
	for i, target := range targets {
		id := lastInsertID + int64(i)
		for _, prop := range g.KeyProperties {
			if err := setPropertyValue(target, prop, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// SelectKeyGenerator runs ms.SelectKeyStatement before or after the parent
// statement and stores its single scalar result under KeyProperty (spec §4.M).
type SelectKeyGenerator struct {
	SelectKeyStatement *MappedStatement
	KeyProperty        string
	ExecuteBefore      bool
}

func (g SelectKeyGenerator) ProcessBefore(ctx context.Context, exec Executor, ms *MappedStatement, parameter interface{}) error {
	if !g.ExecuteBefore {
		return nil
	}
	return g.run(ctx, exec, parameter)
}

func (g SelectKeyGenerator) ProcessAfter(ctx context.Context, exec Executor, ms *MappedStatement, parameter interface{}, lastInsertID int64) error {
	if g.ExecuteBefore {
		return nil
	}
	return g.run(ctx, exec, parameter)
}

func (g SelectKeyGenerator) run(ctx context.Context, exec Executor, parameter interface{}) error {
	if g.SelectKeyStatement == nil {
		return nil
	}
	rows, err := exec.Query(ctx, g.SelectKeyStatement, parameter, NoRowBounds, nil)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return newExecutorError("select key statement %q produced no rows", g.SelectKeyStatement.ID)
	}
	return setPropertyValue(parameter, g.KeyProperty, rows[0])
}

// batchTargets expands a slice parameter (batch insert) into its addressable
// element pointers; a scalar parameter yields itself as the sole target.
func batchTargets(parameter interface{}) []interface{} {
	rv := reflect.ValueOf(parameter)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice {
		return []interface{}{parameter}
	}
	targets := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i)
		if elem.Kind() != reflect.Ptr {
			elem = elem.Addr()
		}
		targets[i] = elem.Interface()
	}
	return targets
}

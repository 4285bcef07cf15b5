package mybatis

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// evalContext is the layered lookup used by the expression evaluator: the
// per-evaluation binding map (foreach item/index, <bind> names) wins, then
// the parameter object's own properties, then a "_parameter" fallback that
// exposes the raw parameter itself — the same three-tier lookup gdb_func.go's
// formatWhere uses (explicit key, struct-tag lookup, then raw value).
type evalContext struct {
	bindings  map[string]interface{}
	parameter interface{}
}

func newEvalContext(parameter interface{}, bindings map[string]interface{}) *evalContext {
	if bindings == nil {
		bindings = map[string]interface{}{}
	}
	return &evalContext{bindings: bindings, parameter: parameter}
}

func (c *evalContext) lookup(name string) (interface{}, bool) {
	if name == "_parameter" {
		return c.parameter, true
	}
	if v, ok := c.bindings[name]; ok {
		return v, true
	}
	if c.parameter == nil {
		return nil, false
	}
	rv, ok := getPropertyValue(reflect.ValueOf(c.parameter), name)
	if !ok {
		return nil, false
	}
	return rv.Interface(), true
}

// resolvePath evaluates a dotted/indexed expression (e.g. "user.age" or
// "ids[0]") against the context's three-tier lookup, honoring "_parameter".
func (c *evalContext) resolvePath(expr string) (interface{}, bool) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, false
	}
	head := expr
	rest := ""
	if idx := strings.IndexAny(expr, ".["); idx >= 0 {
		head = expr[:idx]
		rest = expr[idx:]
		if strings.HasPrefix(rest, ".") {
			rest = rest[1:]
		}
	}
	base, ok := c.lookup(head)
	if !ok {
		return nil, false
	}
	if rest == "" {
		return base, true
	}
	rv, ok := getPropertyValue(reflect.ValueOf(base), rest)
	if !ok {
		return nil, false
	}
	return rv.Interface(), true
}

// evaluateBoolean implements spec §4.B's boolean rule:
//   - a bool value maps directly
//   - a numeric value is true iff non-zero, compared via decimal.Decimal
//     to dodge float-equality pitfalls
//   - any other non-nil value is true
//   - nil is false
//
// The expression itself is a tiny comparison grammar: "<path> <op> <literal>"
// (==, !=, >, >=, <, <=) or a bare path for truthiness.
func evaluateBoolean(expr string, ctx *evalContext) (bool, error) {
	expr = strings.TrimSpace(expr)
	if op, lhs, rhs, ok := splitComparison(expr); ok {
		return evaluateComparison(lhs, op, rhs, ctx)
	}
	v, ok := ctx.resolvePath(expr)
	if !ok || v == nil {
		return false, nil
	}
	return truthy(v), nil
}

var comparisonOps = []string{"==", "!=", ">=", "<=", ">", "<"}

func splitComparison(expr string) (op, lhs, rhs string, ok bool) {
	for _, candidate := range comparisonOps {
		if idx := strings.Index(expr, candidate); idx >= 0 {
			return candidate, strings.TrimSpace(expr[:idx]), strings.TrimSpace(expr[idx+len(candidate):]), true
		}
	}
	return "", "", "", false
}

func evaluateComparison(lhsExpr, op, rhsExpr string, ctx *evalContext) (bool, error) {
	lhs, lhsOK := ctx.resolvePath(lhsExpr)
	rhs := literalOrPath(rhsExpr, ctx)
	if !lhsOK {
		lhs = nil
	}
	if lhsDec, lhsIsNum, rhsDec, rhsIsNum := asDecimals(lhs, rhs); lhsIsNum && rhsIsNum {
		cmp := lhsDec.Cmp(rhsDec)
		switch op {
		case "==":
			return cmp == 0, nil
		case "!=":
			return cmp != 0, nil
		case ">":
			return cmp > 0, nil
		case ">=":
			return cmp >= 0, nil
		case "<":
			return cmp < 0, nil
		case "<=":
			return cmp <= 0, nil
		}
	}
	lhsStr, rhsStr := toComparableString(lhs), toComparableString(rhs)
	switch op {
	case "==":
		return lhsStr == rhsStr, nil
	case "!=":
		return lhsStr != rhsStr, nil
	default:
		return false, newParseError("operator %q is only supported between numeric operands", op)
	}
}

func literalOrPath(expr string, ctx *evalContext) interface{} {
	expr = strings.TrimSpace(expr)
	if expr == "null" {
		return nil
	}
	if expr == "true" {
		return true
	}
	if expr == "false" {
		return false
	}
	if len(expr) >= 2 && (expr[0] == '\'' || expr[0] == '"') && expr[len(expr)-1] == expr[0] {
		return expr[1 : len(expr)-1]
	}
	if _, err := strconv.ParseFloat(expr, 64); err == nil {
		return expr
	}
	if v, ok := ctx.resolvePath(expr); ok {
		return v
	}
	return expr
}

func asDecimals(lhs, rhs interface{}) (decimal.Decimal, bool, decimal.Decimal, bool) {
	lhsDec, lhsOK := toDecimal(lhs)
	rhsDec, rhsOK := toDecimal(rhs)
	return lhsDec, lhsOK, rhsDec, rhsOK
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case nil:
		return decimal.Zero, false
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case decimal.Decimal:
		return t, true
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return decimal.NewFromInt(rv.Int()), true
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return decimal.NewFromInt(int64(rv.Uint())), true
		case reflect.Float32, reflect.Float64:
			return decimal.NewFromFloat(rv.Float()), true
		}
	}
	return decimal.Zero, false
}

func toComparableString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return reflectString(reflect.ValueOf(v))
	}
}

func reflectString(rv reflect.Value) string {
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	default:
		return strconv.Quote(rv.Type().String())
	}
}

// truthy implements the non-boolean branches of the §4.B boolean rule.
func truthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	if d, ok := toDecimal(v); ok {
		return !d.IsZero()
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Slice || rv.Kind() == reflect.Map {
		return !rv.IsNil()
	}
	return true
}

// evaluateIterable implements spec §4.B's iterable rule: sequences pass
// through, arrays become a random-access list preserving order, and maps
// yield their entry set as (key, value) pairs. If nullable is false a nil
// collection is an error; otherwise it yields zero elements.
type iterableEntry struct {
	key   interface{} // the element index for plain sequences, the map key otherwise
	value interface{}
}

func evaluateIterable(expr string, ctx *evalContext, nullable bool) ([]iterableEntry, error) {
	v, ok := ctx.resolvePath(expr)
	if !ok || v == nil {
		if nullable {
			return nil, nil
		}
		return nil, newBindingError("foreach collection %q is nil and nullableOnForEach is false", expr)
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			if nullable {
				return nil, nil
			}
			return nil, newBindingError("foreach collection %q is nil and nullableOnForEach is false", expr)
		}
		rv = rv.Elem()
	}
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Map) && rv.IsNil() {
		if nullable {
			return nil, nil
		}
		return nil, newBindingError("foreach collection %q is nil and nullableOnForEach is false", expr)
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		entries := make([]iterableEntry, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			entries[i] = iterableEntry{key: i, value: rv.Index(i).Interface()}
		}
		return entries, nil
	case reflect.Map:
		entries := make([]iterableEntry, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			entries = append(entries, iterableEntry{key: iter.Key().Interface(), value: iter.Value().Interface()})
		}
		return entries, nil
	default:
		return nil, newBindingError("expression %q does not yield an iterable (got %s)", expr, rv.Type())
	}
}

package mybatis

import (
	"reflect"
	"regexp"
	"strings"
)

// ParameterMapping is one slot of a prepared statement (spec §3).
type ParameterMapping struct {
	Property     string
	JavaType     reflect.Type
	JdbcType     string
	TypeHandler  TypeHandler
	Mode         ParameterMode
	NumericScale int
	ResultMapID  string
}

// BoundSql is the final per-invocation artifact: text with '?' placeholders,
// the ordered parameter mappings, the original parameter object, and any
// additional named bindings produced by <bind>/<foreach> during evaluation.
type BoundSql struct {
	Sql              string
	ParameterMapping []ParameterMapping
	Parameter        interface{}
	AdditionalParams map[string]interface{}
}

// SqlSource produces a BoundSql for a given parameter object. Static sources
// clone a prebuilt artifact; dynamic sources evaluate their node tree and
// then run the placeholder rewriter, per spec §3.
type SqlSource interface {
	GetBoundSql(parameter interface{}) (*BoundSql, error)
}

// StaticSqlSource is the output of the placeholder rewriter: plain text plus
// an already-resolved mapping list, cloned (not re-scanned) on every call.
type StaticSqlSource struct {
	Sql              string
	ParameterMapping []ParameterMapping
}

func (s *StaticSqlSource) GetBoundSql(parameter interface{}) (*BoundSql, error) {
	return &BoundSql{Sql: s.Sql, ParameterMapping: append([]ParameterMapping(nil), s.ParameterMapping...), Parameter: parameter}, nil
}

// DynamicSqlSource holds a root SqlNode tree; every call evaluates it fresh
// against the parameter, then rewrites placeholders.
type DynamicSqlSource struct {
	config *Configuration
	root   SqlNode
}

func (s *DynamicSqlSource) GetBoundSql(parameter interface{}) (*BoundSql, error) {
	ctx := newNodeContext(parameter)
	if _, err := s.root.apply(ctx); err != nil {
		return nil, err
	}
	sqlText := ctx.buffer.String()
	if s.config != nil && s.config.Settings.ShrinkWhitespacesInSql {
		sqlText = shrinkWhitespace(sqlText)
	}
	return rewritePlaceholders(s.config, sqlText, parameter, ctx.bindings)
}

func shrinkWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// placeholderPattern matches #{...} occurrences (spec §4.F).
var placeholderPattern = regexp.MustCompile(`#\{\s*([^}]+?)\s*\}`)

// rewritePlaceholders is the Placeholder Rewriter (§4.F): it walks the
// evaluated SQL text, parses each #{...} occurrence via the §4.E grammar,
// resolves the property's Go type (additional bindings first — this is
// where per-iteration __frch_* variables live — else the parameter type's
// metadata), builds a ParameterMapping, and emits '?' in its place.
func rewritePlaceholders(config *Configuration, sqlText string, parameter interface{}, additional map[string]interface{}) (*BoundSql, error) {
	var mappings []ParameterMapping
	var parseErr error
	out := placeholderPattern.ReplaceAllStringFunc(sqlText, func(match string) string {
		if parseErr != nil {
			return match
		}
		inner := placeholderPattern.FindStringSubmatch(match)[1]
		pe, err := parseParamExpression(inner)
		if err != nil {
			parseErr = err
			return match
		}
		propPath := pe.Property
		if propPath == "" {
			propPath = pe.Expression
		}
		mapping := ParameterMapping{Property: propPath, JdbcType: pe.JdbcType, Mode: parseParamMode(pe.Mode), ResultMapID: pe.ResultMap}
		mapping.JavaType = resolveParamJavaType(config, propPath, parameter, additional)
		if pe.TypeHandler != "" && config != nil {
			if th, ok := config.TypeHandlers.byAlias[pe.TypeHandler]; ok {
				mapping.TypeHandler = th
			}
		}
		mappings = append(mappings, mapping)
		return "?"
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return &BoundSql{Sql: out, ParameterMapping: mappings, Parameter: parameter, AdditionalParams: additional}, nil
}

func parseParamMode(mode string) ParameterMode {
	switch strings.ToUpper(mode) {
	case "OUT":
		return ParameterModeOut
	case "INOUT":
		return ParameterModeInOut
	default:
		return ParameterModeIn
	}
}

// resolveParamJavaType resolves a property's declared type, consulting
// additional bindings first (so foreach's renamed __frch_* variables are
// found) and otherwise the parameter type's reflection metadata. A map
// parameter maps every path to the map's element type (interface{} for an
// untyped Map), since individual keys carry no static type of their own.
func resolveParamJavaType(config *Configuration, propPath string, parameter interface{}, additional map[string]interface{}) reflect.Type {
	if v, ok := additional[propPath]; ok {
		if v == nil {
			return nil
		}
		return reflect.TypeOf(v)
	}
	if parameter == nil {
		return nil
	}
	pt := reflect.TypeOf(parameter)
	for pt != nil && pt.Kind() == reflect.Ptr {
		pt = pt.Elem()
	}
	if pt != nil && pt.Kind() == reflect.Map {
		return pt.Elem()
	}
	t, err := getPropertyType(reflect.TypeOf(parameter), propPath)
	if err != nil {
		return nil
	}
	return t
}

package mybatis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sqlSourceTestUser struct {
	Name string
	Age  int
}

func TestStaticSqlSourceClonesMappingsPerCall(t *testing.T) {
	s := &StaticSqlSource{
		Sql:              "SELECT * FROM t WHERE id = ?",
		ParameterMapping: []ParameterMapping{{Property: "id"}},
	}
	b1, err := s.GetBoundSql(1)
	require.NoError(t, err)
	b1.ParameterMapping[0].Property = "mutated"

	b2, err := s.GetBoundSql(2)
	require.NoError(t, err)
	assert.Equal(t, "id", b2.ParameterMapping[0].Property, "mutating one call's mapping slice must not affect the next")
}

func TestRewritePlaceholdersReplacesEachOccurrenceWithQuestionMark(t *testing.T) {
	config := NewConfiguration()
	boundSql, err := rewritePlaceholders(config, "SELECT * FROM users WHERE name = #{name} AND age > #{age}", &sqlSourceTestUser{Name: "ada", Age: 30}, nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM users WHERE name = ? AND age > ?", boundSql.Sql)
	require.Len(t, boundSql.ParameterMapping, 2)
	assert.Equal(t, "name", boundSql.ParameterMapping[0].Property)
	assert.Equal(t, "age", boundSql.ParameterMapping[1].Property)
}

func TestRewritePlaceholdersResolvesJavaTypeFromParameterStruct(t *testing.T) {
	config := NewConfiguration()
	boundSql, err := rewritePlaceholders(config, "#{age}", &sqlSourceTestUser{Age: 30}, nil)
	require.NoError(t, err)
	require.Len(t, boundSql.ParameterMapping, 1)
	assert.Equal(t, "int", boundSql.ParameterMapping[0].JavaType.Name())
}

func TestRewritePlaceholdersPrefersAdditionalBindingsOverParameter(t *testing.T) {
	config := NewConfiguration()
	additional := map[string]interface{}{"__frch_id_0": int64(7)}
	boundSql, err := rewritePlaceholders(config, "#{__frch_id_0}", nil, additional)
	require.NoError(t, err)
	require.Len(t, boundSql.ParameterMapping, 1)
	assert.Equal(t, "int64", boundSql.ParameterMapping[0].JavaType.Name())
}

func TestRewritePlaceholdersPropagatesLegacyJdbcTypeSuffix(t *testing.T) {
	config := NewConfiguration()
	boundSql, err := rewritePlaceholders(config, "#{age:INTEGER}", &sqlSourceTestUser{Age: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, "INTEGER", boundSql.ParameterMapping[0].JdbcType)
}

func TestRewritePlaceholdersPropagatesOutMode(t *testing.T) {
	config := NewConfiguration()
	boundSql, err := rewritePlaceholders(config, "#{result, mode=OUT}", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ParameterModeOut, boundSql.ParameterMapping[0].Mode)
}

func TestRewritePlaceholdersSurfacesMalformedExpressionError(t *testing.T) {
	config := NewConfiguration()
	_, err := rewritePlaceholders(config, "#{(unterminated}", nil, nil)
	assert.Error(t, err)
}

func TestParseParamModeDefaultsToIn(t *testing.T) {
	assert.Equal(t, ParameterModeIn, parseParamMode(""))
	assert.Equal(t, ParameterModeIn, parseParamMode("IN"))
	assert.Equal(t, ParameterModeOut, parseParamMode("out"))
	assert.Equal(t, ParameterModeInOut, parseParamMode("InOut"))
}

func TestResolveParamJavaTypeMapParameterReturnsElementType(t *testing.T) {
	params := map[string]int{"x": 1}
	typ := resolveParamJavaType(NewConfiguration(), "x", params, nil)
	require.NotNil(t, typ)
	assert.Equal(t, "int", typ.Name())
}

func TestResolveParamJavaTypeNilParameterReturnsNil(t *testing.T) {
	typ := resolveParamJavaType(NewConfiguration(), "x", nil, nil)
	assert.Nil(t, typ)
}

func TestResolveParamJavaTypeUnresolvablePathReturnsNil(t *testing.T) {
	typ := resolveParamJavaType(NewConfiguration(), "noSuchField", &sqlSourceTestUser{}, nil)
	assert.Nil(t, typ)
}

func TestShrinkWhitespaceCollapsesRepeatedWhitespace(t *testing.T) {
	assert.Equal(t, "SELECT 1 FROM t", shrinkWhitespace("SELECT   1\nFROM\t t"))
}

func TestDynamicSqlSourceAppliesShrinkWhitespaceSetting(t *testing.T) {
	config := NewConfiguration()
	config.Settings.ShrinkWhitespacesInSql = true
	source := &DynamicSqlSource{config: config, root: &MixedNode{Children: []SqlNode{
		&StaticNode{Text: "SELECT  *"},
		&StaticNode{Text: "FROM   t"},
	}}}
	boundSql, err := source.GetBoundSql(nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t", boundSql.Sql)
}

func TestDynamicSqlSourceRewritesPlaceholdersFromEvaluatedTree(t *testing.T) {
	config := NewConfiguration()
	source := &DynamicSqlSource{config: config, root: &MixedNode{Children: []SqlNode{
		&StaticNode{Text: "SELECT * FROM users WHERE name ="},
		&StaticNode{Text: "#{name}"},
	}}}
	boundSql, err := source.GetBoundSql(&sqlSourceTestUser{Name: "grace"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM users WHERE name = ?", boundSql.Sql)
	require.Len(t, boundSql.ParameterMapping, 1)
	assert.Equal(t, "name", boundSql.ParameterMapping[0].Property)
}

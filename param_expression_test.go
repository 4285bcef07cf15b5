package mybatis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParamExpressionPlainProperty(t *testing.T) {
	pe, err := parseParamExpression("id")
	require.NoError(t, err)
	assert.Equal(t, "id", pe.Property)
	assert.Empty(t, pe.JdbcType)
}

func TestParseParamExpressionLegacyJdbcTypeForm(t *testing.T) {
	pe, err := parseParamExpression("id:VARCHAR")
	require.NoError(t, err)
	assert.Equal(t, "id", pe.Property)
	assert.Equal(t, "VARCHAR", pe.JdbcType)
}

func TestParseParamExpressionAttributeList(t *testing.T) {
	pe, err := parseParamExpression("name, javaType=string, jdbcType=VARCHAR, mode=IN")
	require.NoError(t, err)
	assert.Equal(t, "name", pe.Property)
	assert.Equal(t, "string", pe.JavaType)
	assert.Equal(t, "VARCHAR", pe.JdbcType)
	assert.Equal(t, "IN", pe.Mode)
}

func TestParseParamExpressionPropertyAttributeOverridesBareProperty(t *testing.T) {
	pe, err := parseParamExpression("id, property=realId")
	require.NoError(t, err)
	assert.Equal(t, "realId", pe.Property)
}

func TestParseParamExpressionParenthesizedExpression(t *testing.T) {
	pe, err := parseParamExpression("(1 + (2 * 3))")
	require.NoError(t, err)
	assert.Equal(t, "1 + (2 * 3)", pe.Expression)
	assert.Empty(t, pe.Property)
}

func TestParseParamExpressionUnbalancedParensIsAnError(t *testing.T) {
	_, err := parseParamExpression("(1 + 2")
	assert.Error(t, err)
}

func TestParseParamExpressionEmptyPropertyIsAnError(t *testing.T) {
	_, err := parseParamExpression("")
	assert.Error(t, err)
}

func TestParseParamExpressionUnrecognizedAttributeIsAnError(t *testing.T) {
	_, err := parseParamExpression("id, bogus=1")
	assert.Error(t, err)
}

func TestParseParamExpressionExpressionAttributeIsUnsupported(t *testing.T) {
	_, err := parseParamExpression("id, expression=foo")
	assert.Error(t, err)
}

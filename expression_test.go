package mybatis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type expressionTestParam struct {
	Name string
	Age  int
	Tags []string
}

func TestEvaluateBooleanBarePathTruthiness(t *testing.T) {
	ctx := newEvalContext(expressionTestParam{Name: "ada", Age: 0}, nil)

	ok, err := evaluateBoolean("Name", ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = evaluateBoolean("Age", ctx)
	require.NoError(t, err)
	assert.False(t, ok, "zero numeric value must be falsy")
}

func TestEvaluateBooleanNilIsFalse(t *testing.T) {
	ctx := newEvalContext(expressionTestParam{}, nil)
	ok, err := evaluateBoolean("Missing", ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateBooleanNumericComparisonIgnoresFloatRepresentation(t *testing.T) {
	ctx := newEvalContext(expressionTestParam{Age: 30}, nil)

	ok, err := evaluateBoolean("Age == 30", ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = evaluateBoolean("Age >= 30.0", ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = evaluateBoolean("Age < 30", ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateBooleanStringComparisonAgainstLiteral(t *testing.T) {
	ctx := newEvalContext(expressionTestParam{Name: "ada"}, nil)

	ok, err := evaluateBoolean("Name == 'ada'", ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = evaluateBoolean("Name != 'grace'", ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateBooleanNonNumericOrderingIsRejected(t *testing.T) {
	ctx := newEvalContext(expressionTestParam{Name: "ada"}, nil)
	_, err := evaluateBoolean("Name > 'a'", ctx)
	assert.Error(t, err)
}

func TestEvaluateBooleanAgainstNullLiteral(t *testing.T) {
	ctx := newEvalContext(map[string]interface{}{"x": nil}, nil)
	ok, err := evaluateBoolean("x == null", ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateIterableOverSliceAndMap(t *testing.T) {
	ctx := newEvalContext(expressionTestParam{Tags: []string{"a", "b"}}, nil)
	entries, err := evaluateIterable("Tags", ctx, false)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 0, entries[0].key)
	assert.Equal(t, "a", entries[0].value)

	ctx = newEvalContext(map[string]interface{}{"m": map[string]int{"k": 1}}, nil)
	entries, err = evaluateIterable("m", ctx, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "k", entries[0].key)
	assert.Equal(t, 1, entries[0].value)
}

func TestEvaluateIterableNilCollectionHonorsNullableFlag(t *testing.T) {
	ctx := newEvalContext(expressionTestParam{}, nil)

	entries, err := evaluateIterable("Tags", ctx, true)
	require.NoError(t, err)
	assert.Nil(t, entries)

	_, err = evaluateIterable("Tags", ctx, false)
	assert.Error(t, err)
}

func TestEvaluateIterableNonIterableExpressionIsAnError(t *testing.T) {
	ctx := newEvalContext(expressionTestParam{Age: 5}, nil)
	_, err := evaluateIterable("Age", ctx, false)
	assert.Error(t, err)
}

func TestEvalContextBindingsShadowParameterProperties(t *testing.T) {
	ctx := newEvalContext(expressionTestParam{Name: "param-name"}, map[string]interface{}{"Name": "bound-name"})
	v, ok := ctx.lookup("Name")
	require.True(t, ok)
	assert.Equal(t, "bound-name", v)
}

func TestEvalContextUnderscoreParameterExposesRawParameter(t *testing.T) {
	param := expressionTestParam{Name: "ada"}
	ctx := newEvalContext(param, nil)
	v, ok := ctx.lookup("_parameter")
	require.True(t, ok)
	assert.Equal(t, param, v)
}

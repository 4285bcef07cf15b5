package mybatis

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reflectorTestAddress struct {
	City string
}

type reflectorTestUser struct {
	Name    string
	Age     int
	Address *reflectorTestAddress
	Tags    []string
	Meta    map[string]string
	Label   string `orm:"display_label"`
}

func TestTokenizePropertySplitsDottedAndIndexedSegments(t *testing.T) {
	tokens := tokenizeProperty("a.b[2].c")
	require.Len(t, tokens, 3)
	assert.Equal(t, propertyToken{name: "a"}, tokens[0])
	assert.Equal(t, propertyToken{name: "b", index: "2"}, tokens[1])
	assert.Equal(t, propertyToken{name: "c"}, tokens[2])
}

func TestTokenizePropertyEmptyPathYieldsWholeParameterConvention(t *testing.T) {
	assert.Empty(t, tokenizeProperty(""))
	assert.Empty(t, tokenizeProperty("."))
}

func TestGetPropertyValueNavigatesNestedPointerAndMap(t *testing.T) {
	u := reflectorTestUser{
		Name:    "ada",
		Address: &reflectorTestAddress{City: "london"},
		Tags:    []string{"x", "y"},
		Meta:    map[string]string{"k": "v"},
	}
	rv, ok := getPropertyValue(reflect.ValueOf(u), "Address.City")
	require.True(t, ok)
	assert.Equal(t, "london", rv.Interface())

	rv, ok = getPropertyValue(reflect.ValueOf(u), "Tags[1]")
	require.True(t, ok)
	assert.Equal(t, "y", rv.Interface())

	rv, ok = getPropertyValue(reflect.ValueOf(u), "Meta[k]")
	require.True(t, ok)
	assert.Equal(t, "v", rv.Interface())
}

func TestGetPropertyValueMissingIntermediateIsNotFoundNotPanic(t *testing.T) {
	u := reflectorTestUser{}
	_, ok := getPropertyValue(reflect.ValueOf(u), "Address.City")
	assert.False(t, ok)
}

func TestGetPropertyValueLooksUpOrmTagCaseInsensitively(t *testing.T) {
	u := reflectorTestUser{Label: "hi"}
	rv, ok := getPropertyValue(reflect.ValueOf(u), "display_label")
	require.True(t, ok)
	assert.Equal(t, "hi", rv.Interface())

	rv, ok = getPropertyValue(reflect.ValueOf(u), "DISPLAY_LABEL")
	require.True(t, ok)
	assert.Equal(t, "hi", rv.Interface())
}

func TestSetPropertyValueCreatesIntermediatePointers(t *testing.T) {
	u := &reflectorTestUser{}
	err := setPropertyValue(u, "Address.City", "paris")
	require.NoError(t, err)
	require.NotNil(t, u.Address)
	assert.Equal(t, "paris", u.Address.City)
}

func TestSetPropertyValueRejectsNonPointerTarget(t *testing.T) {
	u := reflectorTestUser{}
	err := setPropertyValue(u, "Name", "x")
	assert.Error(t, err)
}

func TestHasGetterAndHasSetterReflectResolvability(t *testing.T) {
	u := reflectorTestUser{}
	assert.True(t, hasGetter(u, "Name"))
	assert.False(t, hasGetter(u, "NoSuchField"))
	assert.True(t, hasSetter(u, "Address.City"))
}

package mybatis

import (
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/gogf/gf/text/gstr"
)

// propertyToken is one segment of a dotted/indexed property path such as
// "a.b[2].c" -> [{name:"a"} {name:"b", index:"2"} {name:"c"}].
type propertyToken struct {
	name  string
	index string // "" when this segment is not indexed
}

// tokenizeProperty splits a property path on '.' and pulls any "[idx]"
// suffix off each segment, grounded on gdb_func.go's dotted-path handling
// in formatWhereKeyValue/doHandleTableName which use gstr for the same kind
// of lightweight lexical splitting.
func tokenizeProperty(path string) []propertyToken {
	parts := gstr.Split(path, ".")
	tokens := make([]propertyToken, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		name := part
		index := ""
		if open := strings.IndexByte(part, '['); open >= 0 && strings.HasSuffix(part, "]") {
			name = part[:open]
			index = part[open+1 : len(part)-1]
		}
		tokens = append(tokens, propertyToken{name: name, index: index})
	}
	return tokens
}

// reflector caches per-type get/set metadata for property paths so repeated
// navigation of the same struct type during template evaluation and result
// projection doesn't re-walk reflect.Type on every call.
type reflector struct {
	mu    sync.RWMutex
	types map[reflect.Type]*typeMeta
}

var globalReflector = &reflector{types: map[reflect.Type]*typeMeta{}}

type typeMeta struct {
	fieldsByOrmName map[string]reflect.StructField
	fieldsByName    map[string]reflect.StructField
}

// OrmTagForStruct names the struct tag this engine consults first when
// resolving a property name to a struct field, mirroring gdb_func.go's
// OrmTagForStruct/structTagPriority precedence list.
const OrmTagForStruct = "orm"

func (r *reflector) metaFor(t reflect.Type) *typeMeta {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.mu.RLock()
	m, ok := r.types[t]
	r.mu.RUnlock()
	if ok {
		return m
	}
	m = &typeMeta{fieldsByOrmName: map[string]reflect.StructField{}, fieldsByName: map[string]reflect.StructField{}}
	if t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			m.fieldsByName[strings.ToLower(f.Name)] = f
			if tag, ok := f.Tag.Lookup(OrmTagForStruct); ok {
				tagName := tag
				if idx := strings.IndexByte(tag, ','); idx >= 0 {
					tagName = tag[:idx]
				}
				if tagName != "" && tagName != "-" {
					m.fieldsByOrmName[strings.ToLower(tagName)] = f
				}
			}
		}
	}
	r.mu.Lock()
	r.types[t] = m
	r.mu.Unlock()
	return m
}

func (m *typeMeta) lookup(name string) (reflect.StructField, bool) {
	key := strings.ToLower(name)
	if f, ok := m.fieldsByOrmName[key]; ok {
		return f, true
	}
	f, ok := m.fieldsByName[key]
	return f, ok
}

// hasGetter reports whether path can be resolved (read) against target's type.
// Pure and cached per target type, as spec §4.A requires.
func hasGetter(target interface{}, path string) bool {
	_, err := getPropertyType(reflect.TypeOf(target), path)
	return err == nil
}

// hasSetter reports whether path can be resolved (written) against target's type.
func hasSetter(target interface{}, path string) bool {
	_, err := getPropertyType(reflect.TypeOf(target), path)
	return err == nil
}

// getPropertyType resolves the declared type of a dotted/indexed property
// path against t, descending into struct fields, map value types, slice/array
// element types, and pointer indirections. It does not silently fall back:
// an unresolvable intermediate node raises a ReflectionError, per §4.A.
func getPropertyType(t reflect.Type, path string) (reflect.Type, error) {
	if t == nil {
		return nil, newReflectionError("cannot resolve property %q on a nil type", path)
	}
	cur := t
	for _, tok := range tokenizeProperty(path) {
		for cur.Kind() == reflect.Ptr {
			cur = cur.Elem()
		}
		switch cur.Kind() {
		case reflect.Struct:
			meta := globalReflector.metaFor(cur)
			f, ok := meta.lookup(tok.name)
			if !ok {
				return nil, newReflectionError("no such property %q on struct %s", tok.name, cur)
			}
			cur = f.Type
		case reflect.Map:
			cur = cur.Elem()
		default:
			return nil, newReflectionError("cannot descend into %q on non-navigable type %s", tok.name, cur)
		}
		if tok.index != "" {
			for cur.Kind() == reflect.Ptr {
				cur = cur.Elem()
			}
			switch cur.Kind() {
			case reflect.Slice, reflect.Array:
				cur = cur.Elem()
			case reflect.Map:
				cur = cur.Elem()
			default:
				return nil, newReflectionError("index [%s] used on non-indexable type %s", tok.index, cur)
			}
		}
	}
	return cur, nil
}

// getPropertyValue navigates path against a live value (struct, pointer, map,
// slice) and returns the resolved reflect.Value plus whether every segment
// existed (a missing map key or nil intermediate pointer is "not found", not
// an error — callers decide whether that's fatal).
func getPropertyValue(v reflect.Value, path string) (reflect.Value, bool) {
	cur := v
	for _, tok := range tokenizeProperty(path) {
		for cur.IsValid() && cur.Kind() == reflect.Ptr {
			if cur.IsNil() {
				return reflect.Value{}, false
			}
			cur = cur.Elem()
		}
		if !cur.IsValid() {
			return reflect.Value{}, false
		}
		switch cur.Kind() {
		case reflect.Struct:
			meta := globalReflector.metaFor(cur.Type())
			f, ok := meta.lookup(tok.name)
			if !ok {
				return reflect.Value{}, false
			}
			cur = cur.FieldByIndex(f.Index)
		case reflect.Map:
			mv := cur.MapIndex(reflect.ValueOf(tok.name))
			if !mv.IsValid() {
				return reflect.Value{}, false
			}
			cur = mv
			if cur.Kind() == reflect.Interface {
				cur = cur.Elem()
			}
		default:
			return reflect.Value{}, false
		}
		if tok.index != "" {
			for cur.IsValid() && cur.Kind() == reflect.Ptr {
				cur = cur.Elem()
			}
			if !cur.IsValid() {
				return reflect.Value{}, false
			}
			switch cur.Kind() {
			case reflect.Slice, reflect.Array:
				idx, err := strconv.Atoi(tok.index)
				if err != nil || idx < 0 || idx >= cur.Len() {
					return reflect.Value{}, false
				}
				cur = cur.Index(idx)
			case reflect.Map:
				mv := cur.MapIndex(reflect.ValueOf(tok.index))
				if !mv.IsValid() {
					return reflect.Value{}, false
				}
				cur = mv
			default:
				return reflect.Value{}, false
			}
		}
	}
	return cur, cur.IsValid()
}

// setPropertyValue writes value at path against a struct pointer, creating
// intermediate pointers as needed. Used by the result projector to populate
// nested properties and by the deferred-load queue to set resolved associations.
func setPropertyValue(target interface{}, path string, value interface{}) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return newReflectionError("setPropertyValue requires a non-nil pointer, got %T", target)
	}
	tokens := tokenizeProperty(path)
	cur := rv.Elem()
	for i, tok := range tokens {
		for cur.Kind() == reflect.Ptr {
			if cur.IsNil() {
				cur.Set(reflect.New(cur.Type().Elem()))
			}
			cur = cur.Elem()
		}
		if cur.Kind() != reflect.Struct {
			return newReflectionError("cannot set %q: %s is not a struct", tok.name, cur.Type())
		}
		meta := globalReflector.metaFor(cur.Type())
		f, ok := meta.lookup(tok.name)
		if !ok {
			return newReflectionError("no such settable property %q on struct %s", tok.name, cur.Type())
		}
		field := cur.FieldByIndex(f.Index)
		last := i == len(tokens)-1 && tok.index == ""
		if last {
			return assignValue(field, value)
		}
		cur = field
	}
	return nil
}

func assignValue(field reflect.Value, value interface{}) error {
	if value == nil {
		return nil
	}
	rv := reflect.ValueOf(value)
	if field.Kind() == reflect.Ptr {
		if rv.Type().AssignableTo(field.Type()) {
			field.Set(rv)
			return nil
		}
		if rv.Type() != field.Type().Elem() {
			if !rv.Type().ConvertibleTo(field.Type().Elem()) {
				return newReflectionError("cannot assign %s to %s", rv.Type(), field.Type())
			}
			rv = rv.Convert(field.Type().Elem())
		}
		ptr := reflect.New(field.Type().Elem())
		ptr.Elem().Set(rv)
		field.Set(ptr)
		return nil
	}
	if !rv.Type().AssignableTo(field.Type()) {
		if !rv.Type().ConvertibleTo(field.Type()) {
			return newReflectionError("cannot assign %s to %s", rv.Type(), field.Type())
		}
		rv = rv.Convert(field.Type())
	}
	field.Set(rv)
	return nil
}


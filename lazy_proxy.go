package mybatis

import (
	"fmt"
	"reflect"
	"sync"
)

// Lazy[T] is the Go-idiomatic stand-in for spec §4.L's lazy-loading proxy.
// MyBatis wraps the whole result object in a dynamic proxy that intercepts
// property access; Go has no equivalent to a transparent dynamic proxy over
// an arbitrary struct, so a mapper document that marks a property lazy maps
// onto a field of this type instead, and the loader fires on the first call
// to Get() rather than on first field access (documented redesign, see
// DESIGN.md).
type Lazy[T any] struct {
	mu     sync.Mutex
	loaded bool
	value  T
	err    error
	loader func() (interface{}, error)
}

// setLoader is unexported so only the result projector (via the lazyTarget
// interface) can install a loader; user code only ever calls Get.
func (l *Lazy[T]) setLoader(loader func() (interface{}, error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loader = loader
	l.loaded = false
}

// Get triggers the nested query on first call and memoizes the result,
// mirroring the proxy's "trigger methods load once" contract.
func (l *Lazy[T]) Get() (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return l.value, l.err
	}
	l.loaded = true
	if l.loader == nil {
		return l.value, nil
	}
	raw, err := l.loader()
	if err != nil {
		l.err = err
		return l.value, err
	}
	if raw == nil {
		return l.value, nil
	}
	if v, ok := raw.(T); ok {
		l.value = v
		return l.value, nil
	}
	rv := reflect.ValueOf(raw)
	zt := reflect.TypeOf(l.value)
	if zt != nil && rv.Type().ConvertibleTo(zt) {
		reflect.ValueOf(&l.value).Elem().Set(rv.Convert(zt))
	}
	return l.value, nil
}

// Loaded reports whether Get has already run, without triggering it.
func (l *Lazy[T]) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// String never triggers the loader — it is one of the default "trigger
// methods" spec §4.L exempts (equals/clone/hashCode/toString).
func (l *Lazy[T]) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.loaded {
		return "mybatis.Lazy(unresolved)"
	}
	return fmt.Sprint(l.value)
}

// lazyTarget is implemented by every Lazy[T] instantiation regardless of T,
// letting the result projector install a loader without knowing T.
type lazyTarget interface {
	setLoader(loader func() (interface{}, error))
}

// installLazyLoader finds obj's Lazy[T]-typed property and installs loader,
// invoked by the result projector when a mapping has nestedQueryId+lazy
// (spec §4.L).
func installLazyLoader(obj reflect.Value, property string, loader func() (interface{}, error)) error {
	fv, ok := getPropertyValue(obj, property)
	if !ok {
		return newReflectionError("cannot install lazy loader: no such property %q", property)
	}
	if fv.Kind() != reflect.Ptr {
		if !fv.CanAddr() {
			return newReflectionError("property %q is not addressable for lazy loading", property)
		}
		fv = fv.Addr()
	}
	target, ok := fv.Interface().(lazyTarget)
	if !ok {
		return newReflectionError("property %q must be declared as mybatis.Lazy[T] to support lazy=true", property)
	}
	target.setLoader(loader)
	return nil
}

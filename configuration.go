package mybatis

import (
	"context"
	"reflect"
	"time"

	"github.com/gogf/gf/container/gmap"
	"github.com/gogf/gf/container/gtype"
	"github.com/gogf/gf/os/glog"
	"gopkg.in/yaml.v3"
)

// Settings holds the process-wide flags named in spec §3's Configuration
// section, mirroring the flat-flags-on-one-struct shape of gdb's ConfigNode
// (gdb_core_config.go).
type Settings struct {
	MapUnderscoreToCamelCase    bool
	UseGeneratedKeys            bool
	CacheEnabled                bool
	LazyLoadingEnabled          bool
	DefaultExecutorType         ExecutorType
	DefaultStatementTimeout     time.Duration
	DefaultFetchSize            int
	LocalCacheScope             LocalCacheScope
	SafeRowBoundsEnabled        bool
	AutoMappingBehavior         AutoMappingBehavior
	CallSettersOnNulls          bool
	ShrinkWhitespacesInSql      bool
	NullableOnForEach           bool
	UseActualParamName          bool
	ArgNameBasedCtorAutoMapping bool
}

// DefaultSettings mirrors MyBatis's documented defaults.
func DefaultSettings() Settings {
	return Settings{
		CacheEnabled:        true,
		LazyLoadingEnabled:  false,
		DefaultExecutorType: ExecutorSimple,
		LocalCacheScope:     LocalCacheSession,
		AutoMappingBehavior: AutoMappingPartial,
	}
}

// Configuration is the process-wide, long-lived registry (spec §3). It
// outlives every Session; Sessions exclusively own their Executor.
type Configuration struct {
	Settings  Settings
	Variables map[string]string
	Logger    *glog.Logger

	TypeHandlers *TypeHandlerRegistry
	ObjectFactory ObjectFactory

	environment *Environment

	caches            *gmap.StrAnyMap // namespace -> *Cache
	parameterMaps     *gmap.StrAnyMap // id -> *ParameterMap
	resultMaps        *gmap.StrAnyMap // id -> *ResultMap
	mappedStatements  *gmap.StrAnyMap // id -> *MappedStatement
	keyGenerators     *gmap.StrAnyMap // id -> KeyGenerator
	sqlFragments      *gmap.StrAnyMap // id -> xmlNode (raw fragment, pre-expansion)
	loadedResources   *gmap.StrAnyMap // resource name -> true

	interceptors []Interceptor

	interfaceParents map[reflect.Type][]reflect.Type

	incomplete incompleteQueues

	debug *gtype.Bool
}

// Environment names the (id, data source) pair that mapped statements
// execute against, mirroring gdb's ConfigNode grouping.
type Environment struct {
	ID         string
	DataSource DataSource
}

func NewConfiguration() *Configuration {
	return &Configuration{
		Settings:         DefaultSettings(),
		Variables:        map[string]string{},
		Logger:           glog.New(),
		TypeHandlers:     NewTypeHandlerRegistry(),
		ObjectFactory:    defaultObjectFactory{},
		caches:           gmap.NewStrAnyMap(true),
		parameterMaps:    gmap.NewStrAnyMap(true),
		resultMaps:       gmap.NewStrAnyMap(true),
		mappedStatements: gmap.NewStrAnyMap(true),
		keyGenerators:    gmap.NewStrAnyMap(true),
		sqlFragments:     gmap.NewStrAnyMap(true),
		loadedResources:  gmap.NewStrAnyMap(true),
		debug:            gtype.NewBool(),
	}
}

func (c *Configuration) SetEnvironment(env *Environment) { c.environment = env }
func (c *Configuration) Environment() *Environment       { return c.environment }

// SetDebug toggles verbose per-statement SQL logging, mirroring gdb's
// Core.debug flag (gdb_core_config.go's SetDebug/IsDebug pair).
func (c *Configuration) SetDebug(on bool) { c.debug.Set(on) }
func (c *Configuration) Debug() bool      { return c.debug.Val() }

// LoadVariablesYAML reads a YAML-formatted properties resource (the
// mapper-document equivalent of MyBatis's <properties resource="...">) and
// merges its flat string map into c.Variables. Values already set take
// precedence, the same override order MyBatis documents for <properties>
// vs. a resource file.
func (c *Configuration) LoadVariablesYAML(r Resources, name string) error {
	data, err := r.Read(name)
	if err != nil {
		return err
	}
	loaded := map[string]string{}
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return newParseError("variables resource %q: %v", name, err)
	}
	for k, v := range loaded {
		if _, exists := c.Variables[k]; !exists {
			c.Variables[k] = v
		}
	}
	return nil
}

func (c *Configuration) AddInterceptor(i Interceptor) { c.interceptors = append(c.interceptors, i) }

// ParameterMap, MappedStatement, ResultMap registration — duplicate ids are
// a ParseError, mirroring spec §3's "each key unique within its store".

func (c *Configuration) addParameterMap(pm *ParameterMap) error {
	if c.parameterMaps.Contains(pm.ID) {
		return newParseError("duplicate parameter map id %q", pm.ID)
	}
	c.parameterMaps.Set(pm.ID, pm)
	return nil
}

func (c *Configuration) ParameterMap(id string) (*ParameterMap, bool) {
	v := c.parameterMaps.Get(id)
	if v == nil {
		return nil, false
	}
	return v.(*ParameterMap), true
}

func (c *Configuration) addResultMap(rm *ResultMap) error {
	if c.resultMaps.Contains(rm.ID) {
		return newParseError("duplicate result map id %q", rm.ID)
	}
	c.resultMaps.Set(rm.ID, rm)
	return nil
}

func (c *Configuration) ResultMap(id string) (*ResultMap, bool) {
	v := c.resultMaps.Get(id)
	if v == nil {
		return nil, false
	}
	return v.(*ResultMap), true
}

func (c *Configuration) addMappedStatement(ms *MappedStatement) error {
	if c.mappedStatements.Contains(ms.ID) {
		return newParseError("duplicate statement id %q", ms.ID)
	}
	c.mappedStatements.Set(ms.ID, ms)
	return nil
}

// MappedStatement returns the statement registered under exactly id. It does
// not qualify a bare id with a namespace and does not search parent
// interfaces; resolveInterfaceStatement does that walk on top of it.
func (c *Configuration) MappedStatement(id string) (*MappedStatement, error) {
	if v := c.mappedStatements.Get(id); v != nil {
		return v.(*MappedStatement), nil
	}
	return nil, newBindingError("mapped statement %q is not known to this configuration", id)
}

func (c *Configuration) cacheForNamespace(namespace string) (*Cache, bool) {
	v := c.caches.Get(namespace)
	if v == nil {
		return nil, false
	}
	return v.(*Cache), true
}

func (c *Configuration) addCache(namespace string, cache *Cache) {
	c.caches.Set(namespace, cache)
}

// NewExecutor builds an Executor of the configured type against tx, wraps it
// in the second-level caching decorator, then folds the plugin chain around
// the result — cache-wrap happens before plugin-wrap, resolving Open
// Question 9a (documented in DESIGN.md).
func (c *Configuration) NewExecutor(ctx context.Context, tx Transaction, executorType ExecutorType) Executor {
	var base Executor
	switch executorType {
	case ExecutorBatch:
		base = newBatchExecutor(c, tx)
	case ExecutorReuse:
		base = newReuseExecutor(c, tx)
	default:
		base = newSimpleExecutor(c, tx)
	}
	wrapped := Executor(base)
	if c.Settings.CacheEnabled {
		wrapped = newCachingExecutor(base)
	}
	for _, interceptor := range c.interceptors {
		wrapped = interceptor.WrapExecutor(wrapped)
	}
	return wrapped
}

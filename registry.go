package mybatis

import (
	"reflect"
	"strings"
)

// ParameterMap is a named, explicit list of ParameterMapping entries,
// referenced from a statement's parameterMap= attribute (the less common
// alternative to inline #{} parameter expressions), per spec §3.
type ParameterMap struct {
	ID       string
	Type     reflect.Type
	Mappings []ParameterMapping
}

// ResultMap is spec §3's ResultMap: identity, target type, optional parent
// (extension), the declared mapping list plus its derived partitions.
type ResultMap struct {
	ID              string
	Type            reflect.Type
	ExtendsID       string
	Mappings        []ResultMapping
	Discriminator   *Discriminator
	IDMappings      []ResultMapping
	ConstructorArgs []ResultMapping
	PropertyMaps    []ResultMapping
	MappedColumns   map[string]bool
	MappedProps     map[string]bool
	HasNestedMaps   bool
	HasNestedQuery  bool
	AutoMapping     *AutoMappingBehavior // nil = inherit configuration default
}

// ResultMapping is spec §3's ResultMapping.
type ResultMapping struct {
	Property        string
	Column          string
	JavaType        reflect.Type
	JdbcType        string
	TypeHandler     TypeHandler
	IsID            bool
	IsConstructor   bool
	NestedQueryID   string
	NestedResultMap string
	ResultSet       string
	ForeignColumn   string
	ColumnPrefix    string
	Composite       []ResultMapping // composite key sub-mappings: {id=pid,state=ps}
	NotNullColumns  []string
	Lazy            bool
}

// Discriminator is a distinguished column plus a value->result-map-id table,
// resolved recursively at row time (spec §3/§4.L).
type Discriminator struct {
	Column  ResultMapping
	Cases   map[string]string // raw column value -> result map id
	Default string
}

// MappedStatement is spec §3's MappedStatement: namespace.id identity plus
// the compiled SqlSource and execution metadata.
type MappedStatement struct {
	ID                 string
	CommandType        SqlCommandType
	StatementType      StatementType
	SqlSource          SqlSource
	ParameterMapID     string
	ResultMapIDs       []string
	FetchSize          int
	Timeout            int
	UseCache           bool
	FlushCacheRequired bool
	ResultOrdered      bool
	KeyGenerator       KeyGenerator
	KeyProperties      []string
	KeyColumns         []string
	ResultSets         []string
	Cache              *Cache
	Config             *Configuration
}

func (ms *MappedStatement) Namespace() string {
	if idx := strings.LastIndex(ms.ID, "."); idx >= 0 {
		return ms.ID[:idx]
	}
	return ms.ID
}

// qualify applies the name-resolution rule of spec §4.G: an id without a '.'
// is qualified with the current namespace.
func qualify(namespace, id string) string {
	if strings.Contains(id, ".") {
		return id
	}
	return namespace + "." + id
}

// ---- two-phase build / incomplete-element queues (spec §3, §4.G) ----

// incompleteCacheRef, incompleteResultMap, incompleteStatement, and
// incompleteMethod each carry a resolve closure; the builder retries every
// queue until a pass makes no progress, then fails visibly with whatever
// remains (spec §4.G).
type incompleteEntry struct {
	description string
	resolve     func() error
}

type incompleteQueues struct {
	cacheRefs   []incompleteEntry
	resultMaps  []incompleteEntry
	statements  []incompleteEntry
	methods     []incompleteEntry
}

func (c *Configuration) addIncompleteCacheRef(description string, resolve func() error) {
	c.incomplete.cacheRefs = append(c.incomplete.cacheRefs, incompleteEntry{description, resolve})
}
func (c *Configuration) addIncompleteResultMap(description string, resolve func() error) {
	c.incomplete.resultMaps = append(c.incomplete.resultMaps, incompleteEntry{description, resolve})
}
func (c *Configuration) addIncompleteStatement(description string, resolve func() error) {
	c.incomplete.statements = append(c.incomplete.statements, incompleteEntry{description, resolve})
}
func (c *Configuration) addIncompleteMethod(description string, resolve func() error) {
	c.incomplete.methods = append(c.incomplete.methods, incompleteEntry{description, resolve})
}

// ResolveIncomplete drains all four queues repeatedly until a pass resolves
// nothing, then reports every entry that still failed — the two-phase build
// of spec §4.G.
func (c *Configuration) ResolveIncomplete() error {
	queues := []*[]incompleteEntry{
		&c.incomplete.cacheRefs, &c.incomplete.resultMaps,
		&c.incomplete.statements, &c.incomplete.methods,
	}
	for {
		progress := false
		for _, q := range queues {
			remaining := (*q)[:0]
			for _, entry := range *q {
				if err := entry.resolve(); err != nil {
					remaining = append(remaining, entry)
					continue
				}
				progress = true
			}
			*q = remaining
		}
		if !progress {
			break
		}
	}
	var stuck []string
	for _, q := range queues {
		for _, entry := range *q {
			stuck = append(stuck, entry.description)
		}
	}
	if len(stuck) > 0 {
		return newIncompleteElementError("could not resolve: %s", strings.Join(stuck, "; "))
	}
	return nil
}

// resolveResultMapExtension merges parent into child per spec §4.G: the
// child's constructor mappings suppress the parent's entirely; other
// mappings are unioned with child priority (a child ResultMapping for a
// property already named by the parent replaces it); the child's
// discriminator (if any) replaces the parent's.
func resolveResultMapExtension(child, parent *ResultMap) *ResultMap {
	merged := &ResultMap{
		ID:   child.ID,
		Type: child.Type,
	}
	byProp := map[string]int{}
	var out []ResultMapping
	addOrReplace := func(m ResultMapping) {
		if idx, ok := byProp[m.Property]; ok && m.Property != "" {
			out[idx] = m
			return
		}
		byProp[m.Property] = len(out)
		out = append(out, m)
	}
	if len(child.ConstructorArgs) == 0 {
		for _, m := range parent.ConstructorArgs {
			out = append(out, m)
		}
	}
	for _, m := range parent.Mappings {
		if m.IsConstructor {
			continue
		}
		addOrReplace(m)
	}
	for _, m := range child.Mappings {
		addOrReplace(m)
	}
	merged.Mappings = out
	if child.Discriminator != nil {
		merged.Discriminator = child.Discriminator
	} else {
		merged.Discriminator = parent.Discriminator
	}
	partitionResultMap(merged)
	return merged
}

// partitionResultMap derives the id/constructor/property partitions and the
// mapped-column/property sets from merged.Mappings, per spec §3.
func partitionResultMap(rm *ResultMap) {
	rm.MappedColumns = map[string]bool{}
	rm.MappedProps = map[string]bool{}
	rm.IDMappings = nil
	rm.ConstructorArgs = nil
	rm.PropertyMaps = nil
	for _, m := range rm.Mappings {
		if m.Column != "" {
			rm.MappedColumns[strings.ToLower(m.Column)] = true
		}
		if m.Property != "" {
			rm.MappedProps[m.Property] = true
		}
		if m.NestedResultMap != "" {
			rm.HasNestedMaps = true
		}
		if m.NestedQueryID != "" {
			rm.HasNestedQuery = true
		}
		switch {
		case m.IsConstructor:
			rm.ConstructorArgs = append(rm.ConstructorArgs, m)
		case m.IsID:
			rm.IDMappings = append(rm.IDMappings, m)
			rm.PropertyMaps = append(rm.PropertyMaps, m)
		default:
			rm.PropertyMaps = append(rm.PropertyMaps, m)
		}
	}
}

// compileDiscriminatorCases builds one synthetic result-map per case, ids of
// form "{parent}-{value}", each inheriting parent's mapping list as an
// additional-mapping set (spec §4.G).
func compileDiscriminatorCases(config *Configuration, parent *ResultMap) error {
	if parent.Discriminator == nil {
		return nil
	}
	for value, targetID := range parent.Discriminator.Cases {
		qualifiedTarget := qualify(parent.Namespace(), targetID)
		target, ok := config.ResultMap(qualifiedTarget)
		if !ok {
			return newIncompleteElementError("discriminator case %q references unresolved result map %q", value, qualifiedTarget)
		}
		caseID := parent.ID + "-" + value
		if _, exists := config.ResultMap(caseID); exists {
			continue
		}
		merged := resolveResultMapExtension(target, parent)
		merged.ID = caseID
		if err := config.addResultMap(merged); err != nil {
			return err
		}
	}
	return nil
}

func (rm *ResultMap) Namespace() string {
	if idx := strings.LastIndex(rm.ID, "."); idx >= 0 {
		return rm.ID[:idx]
	}
	return rm.ID
}

// resolveInterfaceStatement implements spec §4.G's interface-inheritance
// resolution: look up iface.method directly; on miss recurse into each
// embedded (super-)interface that declares method, skipping bridge/default
// methods (Go has neither, so the only work here is the embedding walk).
func resolveInterfaceStatement(config *Configuration, ifaceType reflect.Type, method string) (*MappedStatement, error) {
	direct := qualify(ifaceType.Name(), method)
	if ms, err := config.MappedStatement(direct); err == nil {
		return ms, nil
	}
	for i := 0; i < ifaceType.NumMethod(); i++ {
		// Go interfaces do not expose embedded-interface identity once
		// flattened into the Method set, so super-interface recursion is
		// driven by the explicit parent chain that callers record through
		// RegisterInterfaceParent; see Configuration.interfaceParents.
		_ = i
	}
	if parents, ok := config.interfaceParentsOf(ifaceType); ok {
		for _, parent := range parents {
			if ms, err := resolveInterfaceStatement(config, parent, method); err == nil {
				return ms, nil
			}
		}
	}
	return nil, newBindingError("no mapped statement found for %s.%s", ifaceType.Name(), method)
}

func (c *Configuration) interfaceParentsOf(t reflect.Type) ([]reflect.Type, bool) {
	if c.interfaceParents == nil {
		return nil, false
	}
	parents, ok := c.interfaceParents[t]
	return parents, ok
}

// RegisterInterfaceParent records that child's mapper interface embeds
// parent, so method resolution can recurse into it (spec §4.G).
func (c *Configuration) RegisterInterfaceParent(child, parent reflect.Type) {
	if c.interfaceParents == nil {
		c.interfaceParents = map[reflect.Type][]reflect.Type{}
	}
	c.interfaceParents[child] = append(c.interfaceParents[child], parent)
}

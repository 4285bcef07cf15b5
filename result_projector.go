package mybatis

import (
	"context"
	"database/sql"
	"reflect"
	"strings"

	"github.com/gogf/gf/text/gstr"
)

// ResultSetHandler projects a driver's result set(s) into Go values using a
// mapped statement's ResultMap chain (spec §4.L).
type ResultSetHandler interface {
	HandleResultSets(ctx context.Context, rows *sql.Rows, ms *MappedStatement, handler ResultHandler) ([]interface{}, error)
}

// pendingLink is a postponed multi-result-set relation recorded when a
// property mapping declares `resultSet="name"` (spec §4.L).
type pendingLink struct {
	parent      reflect.Value
	mapping     ResultMapping
	rowKeyValue string
}

type defaultResultSetHandler struct {
	config *Configuration
	bounds RowBounds

	// ctx/exec let nested-select property mappings run their referenced
	// statement through the same session executor (local cache, sentinel
	// cycle guard, second-level cache all apply uniformly). Both are nil
	// when a result set handler is built for a cursor, which only supports
	// result maps without nested selects or joins (see cursor.go).
	ctx  context.Context
	exec Executor

	nestedObjects map[string]reflect.Value
	pending       map[string][]pendingLink // resultSet name -> pending relations awaiting that result set
}

func (h *defaultResultSetHandler) HandleResultSets(ctx context.Context, rows *sql.Rows, ms *MappedStatement, resultHandler ResultHandler) ([]interface{}, error) {
	h.nestedObjects = map[string]reflect.Value{}
	h.pending = map[string][]pendingLink{}

	var primary []interface{}
	resultSetIndex := 0
	for {
		resultMap, err := h.resultMapFor(ms, resultSetIndex)
		if err != nil {
			return nil, err
		}
		resultSetName := ""
		if resultSetIndex < len(ms.ResultSets) {
			resultSetName = ms.ResultSets[resultSetIndex]
		}
		rowsOut, rawRowsOut, err := h.projectOne(rows, resultMap)
		if err != nil {
			return nil, err
		}
		if resultSetIndex == 0 {
			primary = rowsOut
			if resultHandler != nil {
				for _, r := range primary {
					if resultHandler.HandleResult(r) {
						break
					}
				}
			}
		} else if resultSetName != "" {
			h.resolvePending(resultSetName, rowsOut, rawRowsOut)
		}
		resultSetIndex++
		if !rows.NextResultSet() {
			break
		}
	}
	return primary, nil
}

func (h *defaultResultSetHandler) resultMapFor(ms *MappedStatement, index int) (*ResultMap, error) {
	if index >= len(ms.ResultMapIDs) {
		return nil, newBindingError("statement %q has no result map for result set %d", ms.ID, index)
	}
	id := qualify(ms.Namespace(), ms.ResultMapIDs[index])
	rm, ok := h.config.ResultMap(id)
	if !ok {
		return nil, newBindingError("statement %q references unknown result map %q", ms.ID, id)
	}
	return rm, nil
}

// projectOne runs the row loop of spec §4.L against one *sql.Rows result
// set, honoring RowBounds (forward-only skip), discriminator resolution,
// and the simple/nested construction paths.
func (h *defaultResultSetHandler) projectOne(rows *sql.Rows, resultMap *ResultMap) ([]interface{}, []map[string]interface{}, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var out []interface{}
	var rawOut []map[string]interface{}
	skipped := 0
	emitted := 0
	for rows.Next() {
		if h.bounds.Offset > 0 && skipped < h.bounds.Offset {
			skipped++
			if _, err := scanRow(rows, columns); err != nil {
				return nil, nil, err
			}
			continue
		}
		if h.bounds.Limit >= 0 && emitted >= h.bounds.Limit {
			break
		}
		rawRow, err := scanRow(rows, columns)
		if err != nil {
			return nil, nil, err
		}
		effectiveMap, err := h.resolveDiscriminator(resultMap, columns, rawRow)
		if err != nil {
			return nil, nil, err
		}
		if effectiveMap.HasNestedMaps {
			obj, isNew, err := h.projectNested(effectiveMap, columns, rawRow)
			if err != nil {
				return nil, nil, err
			}
			if isNew {
				out = append(out, resultValue(obj))
				rawOut = append(rawOut, rawRow)
				emitted++
			}
			continue
		}
		obj, err := h.projectSimple(effectiveMap, columns, rawRow)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, resultValue(obj))
		rawOut = append(rawOut, rawRow)
		emitted++
	}
	return out, rawOut, rows.Err()
}

// resultValue is what a projected row is handed out as: a pointer to the
// built struct, so that links made into it afterwards (nested rows, later
// result sets) stay visible to the caller; non-struct values as they are.
func resultValue(obj reflect.Value) interface{} {
	if obj.Kind() == reflect.Struct && obj.CanAddr() {
		return obj.Addr().Interface()
	}
	return obj.Interface()
}

func scanRow(rows *sql.Rows, columns []string) (map[string]interface{}, error) {
	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	row := make(map[string]interface{}, len(columns))
	for i, col := range columns {
		row[strings.ToLower(col)] = values[i]
	}
	return row, nil
}

// resolveDiscriminator walks the discriminator chain (bounded by a
// visited-set to guard against cycles) and returns the effective result map
// for this row (spec §4.L step 3).
func (h *defaultResultSetHandler) resolveDiscriminator(resultMap *ResultMap, columns []string, row map[string]interface{}) (*ResultMap, error) {
	current := resultMap
	visited := map[string]bool{}
	for current.Discriminator != nil {
		if visited[current.ID] {
			return nil, newBindingError("cyclic discriminator chain starting at %q", resultMap.ID)
		}
		visited[current.ID] = true
		col := current.Discriminator.Column
		raw := row[strings.ToLower(col.Column)]
		value := toComparableString(raw)
		targetID, ok := current.Discriminator.Cases[value]
		if !ok {
			targetID = current.Discriminator.Default
		}
		if targetID == "" {
			break
		}
		caseID := current.ID + "-" + value
		next, ok := h.config.ResultMap(caseID)
		if !ok {
			next, ok = h.config.ResultMap(qualify(current.Namespace(), targetID))
			if !ok {
				return nil, newBindingError("discriminator on %q references unknown result map %q", current.ID, targetID)
			}
		}
		current = next
	}
	return current, nil
}

// projectSimple builds one result object with auto-mapping (gated by
// autoMappingBehavior) plus declared property mappings (spec §4.L "Simple path").
func (h *defaultResultSetHandler) projectSimple(rm *ResultMap, columns []string, row map[string]interface{}) (reflect.Value, error) {
	obj, err := h.construct(rm, columns, row)
	if err != nil {
		return reflect.Value{}, err
	}
	if err := h.applyAutoMapping(rm, obj, columns, row); err != nil {
		return reflect.Value{}, err
	}
	if err := h.applyPropertyMappings(rm, obj, row); err != nil {
		return reflect.Value{}, err
	}
	return obj, nil
}

// projectNested implements the "Nested path": rows sharing a computed row
// key contribute to the same parent object; nested property mappings
// recurse against the same row with an optional columnPrefix, linking into
// (lazily instantiated) collections (spec §4.L).
func (h *defaultResultSetHandler) projectNested(rm *ResultMap, columns []string, row map[string]interface{}) (reflect.Value, bool, error) {
	rowKey := computeRowKey(rm, row, "")
	fullKey := rm.ID + "#" + rowKey
	if existing, ok := h.nestedObjects[fullKey]; ok {
		if err := h.linkNested(rm, existing, row, ""); err != nil {
			return reflect.Value{}, false, err
		}
		return existing, false, nil
	}
	obj, err := h.construct(rm, columns, row)
	if err != nil {
		return reflect.Value{}, false, err
	}
	if err := h.applyAutoMapping(rm, obj, columns, row); err != nil {
		return reflect.Value{}, false, err
	}
	if err := h.applyPropertyMappings(rm, obj, row); err != nil {
		return reflect.Value{}, false, err
	}
	h.nestedObjects[fullKey] = obj
	if err := h.linkNested(rm, obj, row, ""); err != nil {
		return reflect.Value{}, false, err
	}
	return obj, true, nil
}

func (h *defaultResultSetHandler) linkNested(rm *ResultMap, parent reflect.Value, row map[string]interface{}, prefix string) error {
	for _, m := range rm.Mappings {
		if m.NestedResultMap == "" {
			continue
		}
		if !notNullColumnsPresent(m.NotNullColumns, row, prefix) {
			continue
		}
		nestedID := qualify(rm.Namespace(), m.NestedResultMap)
		nestedMap, ok := h.config.ResultMap(nestedID)
		if !ok {
			return newBindingError("nested result map %q not found", nestedID)
		}
		childPrefix := prefix + m.ColumnPrefix
		childRowKey := computeRowKey(nestedMap, row, childPrefix)
		combinedKey := rm.ID + "#" + computeRowKey(rm, row, prefix) + "^" + nestedMap.ID + "#" + childRowKey
		childVal, exists := h.nestedObjects[combinedKey]
		if !exists {
			obj, err := h.constructWithPrefix(nestedMap, row, childPrefix)
			if err != nil {
				return err
			}
			if err := h.applyPropertyMappingsWithPrefix(nestedMap, obj, row, childPrefix); err != nil {
				return err
			}
			h.nestedObjects[combinedKey] = obj
			childVal = obj
			if err := h.linkNested(nestedMap, obj, row, childPrefix); err != nil {
				return err
			}
		}
		if err := linkIntoParent(parent, m.Property, childVal); err != nil {
			return err
		}
	}
	return nil
}

// linkIntoParent sets a scalar association directly, or lazily instantiates
// and appends to a slice-valued collection property (spec §4.L: "Collection-
// valued properties are instantiated lazily when the first element is seen").
func linkIntoParent(parent reflect.Value, property string, child reflect.Value) error {
	fieldType, err := getPropertyType(parent.Addr().Type(), property)
	if err != nil {
		return err
	}
	if fieldType.Kind() == reflect.Slice {
		existing, _ := getPropertyValue(parent, property)
		var slice reflect.Value
		if existing.IsValid() && !existing.IsNil() {
			slice = existing
		} else {
			slice = reflect.MakeSlice(fieldType, 0, 4)
		}
		elem := child
		if fieldType.Elem().Kind() != reflect.Ptr && elem.Kind() == reflect.Ptr {
			elem = elem.Elem()
		} else if fieldType.Elem().Kind() == reflect.Ptr && elem.Kind() != reflect.Ptr && elem.CanAddr() {
			elem = elem.Addr()
		}
		slice = reflect.Append(slice, elem)
		return setPropertyValue(parent.Addr().Interface(), property, slice.Interface())
	}
	val := child
	if fieldType.Kind() != reflect.Ptr && val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	return setPropertyValue(parent.Addr().Interface(), property, val.Interface())
}

// notNullColumnsPresent implements the not-null guard: if any declared
// notNullColumns value is null, the nested object is considered absent for
// this row (spec §4.L).
func notNullColumnsPresent(notNull []string, row map[string]interface{}, prefix string) bool {
	for _, col := range notNull {
		if row[strings.ToLower(prefix+col)] == nil {
			return false
		}
	}
	return true
}

// computeRowKey hashes the ID-role columns (or, absent any, every mapped
// column) of rm against row, honoring columnPrefix (spec §4.L).
func computeRowKey(rm *ResultMap, row map[string]interface{}, prefix string) string {
	key := NewCacheKey()
	idCols := rm.IDMappings
	if len(idCols) == 0 {
		for col := range rm.MappedColumns {
			key.Update(row[strings.ToLower(prefix+col)])
		}
		return key.String()
	}
	for _, m := range idCols {
		key.Update(row[strings.ToLower(prefix+m.Column)])
	}
	return key.String()
}

// construct implements spec §4.L's "Construction" rule: a single-column
// type-handler shortcut, else constructor mappings, else default
// construction via the object factory followed by auto-mapping/property
// mappings (applied by the caller).
func (h *defaultResultSetHandler) construct(rm *ResultMap, columns []string, row map[string]interface{}) (reflect.Value, error) {
	return h.constructWithPrefix(rm, row, "")
}

func (h *defaultResultSetHandler) constructWithPrefix(rm *ResultMap, row map[string]interface{}, prefix string) (reflect.Value, error) {
	targetType := rm.Type
	for targetType.Kind() == reflect.Ptr {
		targetType = targetType.Elem()
	}
	if len(row) == 1 && len(rm.ConstructorArgs) == 0 {
		if th, ok := h.config.TypeHandlers.HandlerFor(targetType); ok {
			for _, raw := range row {
				converted, err := th.GetResult(raw)
				if err != nil {
					return reflect.Value{}, newTypeHandlerError("constructing scalar result: %v", err)
				}
				rv := reflect.New(targetType).Elem()
				rv.Set(reflect.ValueOf(converted).Convert(targetType))
				return rv, nil
			}
		}
	}
	obj, err := h.config.ObjectFactory.Create(targetType)
	if err != nil {
		return reflect.Value{}, err
	}
	elem := obj.Elem()
	for _, arg := range rm.ConstructorArgs {
		raw := row[strings.ToLower(prefix+arg.Column)]
		converted, err := h.convert(arg, raw)
		if err != nil {
			return reflect.Value{}, err
		}
		if converted != nil {
			_ = setPropertyValue(elem.Addr().Interface(), arg.Property, converted)
		}
	}
	return elem, nil
}

func (h *defaultResultSetHandler) convert(m ResultMapping, raw interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	th := m.TypeHandler
	if th == nil && m.JavaType != nil {
		if byType, ok := h.config.TypeHandlers.HandlerFor(m.JavaType); ok {
			th = byType
		}
	}
	if th == nil {
		return raw, nil
	}
	return th.GetResult(raw)
}

// applyAutoMapping fills unmapped columns by column->property name matching,
// gated by autoMappingBehavior (spec §4.L).
func (h *defaultResultSetHandler) applyAutoMapping(rm *ResultMap, obj reflect.Value, columns []string, row map[string]interface{}) error {
	behavior := h.config.Settings.AutoMappingBehavior
	if rm.AutoMapping != nil {
		behavior = *rm.AutoMapping
	}
	if behavior == AutoMappingNone {
		return nil
	}
	if behavior == AutoMappingPartial && rm.HasNestedMaps {
		return nil
	}
	for _, col := range columns {
		lower := strings.ToLower(col)
		if rm.MappedColumns[lower] {
			continue
		}
		propName := col
		if h.config.Settings.MapUnderscoreToCamelCase {
			propName = gstr.CaseCamel(col)
		}
		if !hasSetter(obj.Addr().Interface(), propName) {
			continue
		}
		if row[lower] == nil && !h.config.Settings.CallSettersOnNulls {
			continue
		}
		_ = setPropertyValue(obj.Addr().Interface(), propName, row[lower])
	}
	return nil
}

// applyPropertyMappings runs declared (non-constructor) property mappings,
// including nestedQueryId recursion (deferred/lazy per spec §4.L).
func (h *defaultResultSetHandler) applyPropertyMappings(rm *ResultMap, obj reflect.Value, row map[string]interface{}) error {
	return h.applyPropertyMappingsWithPrefix(rm, obj, row, "")
}

func (h *defaultResultSetHandler) applyPropertyMappingsWithPrefix(rm *ResultMap, obj reflect.Value, row map[string]interface{}, prefix string) error {
	for _, m := range rm.PropertyMaps {
		if m.NestedResultMap != "" {
			continue // handled by linkNested
		}
		if m.ResultSet != "" {
			h.recordPendingLink(obj, m, row, prefix)
			continue
		}
		if m.NestedQueryID != "" {
			if err := h.applyNestedQuery(rm, obj, m, row, prefix); err != nil {
				return err
			}
			continue
		}
		raw := row[strings.ToLower(prefix+m.Column)]
		converted, err := h.convert(m, raw)
		if err != nil {
			return err
		}
		if converted == nil && !h.config.Settings.CallSettersOnNulls {
			continue
		}
		if err := setPropertyValue(obj.Addr().Interface(), m.Property, converted); err != nil {
			return err
		}
	}
	return nil
}

// applyNestedQuery executes (or lazily proxies) another mapped statement per
// row for a nestedQueryId property mapping (spec §4.L).
func (h *defaultResultSetHandler) applyNestedQuery(rm *ResultMap, obj reflect.Value, m ResultMapping, row map[string]interface{}, prefix string) error {
	nestedID := qualify(rm.Namespace(), m.NestedQueryID)
	ms, err := h.config.MappedStatement(nestedID)
	if err != nil {
		return err
	}
	paramValue := row[strings.ToLower(prefix+m.Column)]
	targetType, err := getPropertyType(obj.Addr().Type(), m.Property)
	if err != nil {
		return err
	}
	if m.Lazy && h.config.Settings.LazyLoadingEnabled {
		installLazyLoader(obj, m.Property, func() (interface{}, error) {
			return h.runNestedQuery(ms, paramValue, targetType)
		})
		return nil
	}
	result, err := h.runNestedQuery(ms, paramValue, targetType)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return setPropertyValue(obj.Addr().Interface(), m.Property, result)
}

// runNestedQuery runs ms through the owning session's executor, so a nested
// select participates in the same local cache, sentinel cycle guard, and
// second-level cache as any top-level query (spec §4.J/§4.L). targetType
// picks single-row vs. list shape the way DeferLoad's firstOrSlice does.
func (h *defaultResultSetHandler) runNestedQuery(ms *MappedStatement, parameter interface{}, targetType reflect.Type) (interface{}, error) {
	if h.exec == nil {
		return nil, newExecutorError("nested select %q requires a session executor, none is available in this context", ms.ID)
	}
	rows, err := h.exec.Query(h.ctx, ms, parameter, NoRowBounds, nil)
	if err != nil {
		return nil, err
	}
	return firstOrSlice(rows, targetType), nil
}

// joinKey hashes the comma-separated columnsCSV (each optionally prefixed by
// a nested-result-map column prefix) off row, for matching a parent row to
// its cross-linked result set rows (spec §4.L "Multi-result-set linking").
func joinKey(row map[string]interface{}, columnsCSV string, prefix string) string {
	key := NewCacheKey()
	for _, c := range strings.Split(columnsCSV, ",") {
		key.Update(row[strings.ToLower(prefix+strings.TrimSpace(c))])
	}
	return key.String()
}

func (h *defaultResultSetHandler) recordPendingLink(parent reflect.Value, m ResultMapping, row map[string]interface{}, prefix string) {
	rowKeyValue := joinKey(row, m.Column, prefix)
	h.pending[m.ResultSet] = append(h.pending[m.ResultSet], pendingLink{parent: parent, mapping: m, rowKeyValue: rowKeyValue})
}

// resolvePending matches raw rows of a cross-linked result set to their
// pending relations by foreign-column key (spec §4.L "Multi-result-set
// linking"): the parent's recorded key (over its own `column` set) is
// matched against each secondary row's `foreignColumn` set.
func (h *defaultResultSetHandler) resolvePending(resultSetName string, rows []interface{}, rawRows []map[string]interface{}) {
	relations := h.pending[resultSetName]
	if len(relations) == 0 {
		return
	}
	// Index rows once per distinct foreignColumn set: several pending
	// relations (one per parent row) typically share the same
	// ResultMapping and thus the same foreignColumn, and must not key the
	// same rows into the index twice.
	byForeignColumns := map[string]map[string][]interface{}{}
	for _, rel := range relations {
		byKey, ok := byForeignColumns[rel.mapping.ForeignColumn]
		if ok {
			continue
		}
		byKey = map[string][]interface{}{}
		for i, rawRow := range rawRows {
			key := joinKey(rawRow, rel.mapping.ForeignColumn, "")
			byKey[key] = append(byKey[key], rows[i])
		}
		byForeignColumns[rel.mapping.ForeignColumn] = byKey
	}
	for _, rel := range relations {
		matches := byForeignColumns[rel.mapping.ForeignColumn][rel.rowKeyValue]
		if len(matches) == 0 {
			continue
		}
		_ = linkForeignResults(rel.parent, rel.mapping, matches)
	}
}

func linkForeignResults(parent reflect.Value, m ResultMapping, matches []interface{}) error {
	fieldType, err := getPropertyType(parent.Addr().Type(), m.Property)
	if err != nil {
		return err
	}
	if fieldType.Kind() == reflect.Slice {
		slice := reflect.MakeSlice(fieldType, 0, len(matches))
		for _, match := range matches {
			elem := reflect.ValueOf(match)
			if fieldType.Elem().Kind() != reflect.Ptr && elem.Kind() == reflect.Ptr {
				elem = elem.Elem()
			}
			slice = reflect.Append(slice, elem)
		}
		return setPropertyValue(parent.Addr().Interface(), m.Property, slice.Interface())
	}
	return setPropertyValue(parent.Addr().Interface(), m.Property, matches[0])
}

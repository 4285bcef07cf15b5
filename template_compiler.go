package mybatis

import (
	"bytes"
	"encoding/xml"
	"io"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// xmlElem is a minimal, order-preserving DOM built over the stdlib decoder.
// No ecosystem XML DOM parser turned up anywhere in the retrieved pack (only
// a formatter), so this walks xml.Token directly — the one component of the
// template compiler that falls back to the standard library (see DESIGN.md).
type xmlElem struct {
	tag      string
	attrs    map[string]string
	children []xmlNode
}

type xmlNode interface{ isXMLNode() }

type xmlText struct{ text string }
type xmlChildElem struct{ elem *xmlElem }

func (xmlText) isXMLNode()      {}
func (xmlChildElem) isXMLNode() {}

func parseXMLTree(data []byte) (*xmlElem, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var stack []*xmlElem
	var root *xmlElem
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, newParseError("mapper document: %v", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := &xmlElem{tag: t.Name.Local, attrs: map[string]string{}}
			for _, a := range t.Attr {
				el.attrs[a.Name.Local] = a.Value
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, xmlChildElem{elem: el})
			} else {
				root = el
			}
			stack = append(stack, el)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, xmlText{text: string(t)})
			}
		}
	}
	if root == nil {
		return nil, newParseError("mapper document has no root element")
	}
	return root, nil
}

func cloneXMLElem(el *xmlElem) *xmlElem {
	clone := &xmlElem{tag: el.tag, attrs: map[string]string{}}
	for k, v := range el.attrs {
		clone.attrs[k] = v
	}
	for _, c := range el.children {
		switch t := c.(type) {
		case xmlText:
			clone.children = append(clone.children, t)
		case xmlChildElem:
			clone.children = append(clone.children, xmlChildElem{elem: cloneXMLElem(t.elem)})
		}
	}
	return clone
}

var varPattern = regexp.MustCompile(`\$\{\s*([\w.]+)\s*\}`)

func substituteVars(s string, vars map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := varPattern.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
}

func substituteElemVars(el *xmlElem, vars map[string]string) {
	for k, v := range el.attrs {
		el.attrs[k] = substituteVars(v, vars)
	}
	for i, c := range el.children {
		switch t := c.(type) {
		case xmlText:
			el.children[i] = xmlText{text: substituteVars(t.text, vars)}
		case xmlChildElem:
			substituteElemVars(t.elem, vars)
		}
	}
}

// expandIncludes is spec §4.D.1's separate pass: resolve <include refid=…>
// against the SQL-fragment registry, clone the fragment into the owning
// document, evaluate <property> children into an include-local variables
// frame, recurse, and substitute ${var} in the included subtree.
func expandIncludes(config *Configuration, namespace string, el *xmlElem, vars map[string]string) error {
	var out []xmlNode
	for _, child := range el.children {
		ce, ok := child.(xmlChildElem)
		if !ok {
			out = append(out, child)
			continue
		}
		if ce.elem.tag != "include" {
			if err := expandIncludes(config, namespace, ce.elem, vars); err != nil {
				return err
			}
			out = append(out, ce)
			continue
		}
		refID := qualify(namespace, substituteVars(ce.elem.attrs["refid"], vars))
		fragmentV := config.sqlFragments.Get(refID)
		if fragmentV == nil {
			return newIncompleteElementError("include refid %q not found", refID)
		}
		localVars := map[string]string{}
		for k, v := range vars {
			localVars[k] = v
		}
		for _, pc := range ce.elem.children {
			if pe, ok := pc.(xmlChildElem); ok && pe.elem.tag == "property" {
				localVars[pe.elem.attrs["name"]] = substituteVars(pe.elem.attrs["value"], localVars)
			}
		}
		cloned := cloneXMLElem(fragmentV.(*xmlElem))
		if err := expandIncludes(config, namespace, cloned, localVars); err != nil {
			return err
		}
		substituteElemVars(cloned, localVars)
		out = append(out, cloned.children...)
	}
	el.children = out
	return nil
}

// compileMixedContent is spec §4.D's walk: CDATA/TEXT become Text (if it
// contains "${") or Static; element children dispatch by tag name. Seeing
// any element marks the source dynamic.
func compileMixedContent(el *xmlElem, dynamic *bool) (SqlNode, error) {
	var nodes []SqlNode
	for _, child := range el.children {
		switch c := child.(type) {
		case xmlText:
			if strings.TrimSpace(c.text) == "" {
				continue
			}
			if strings.Contains(c.text, "${") {
				*dynamic = true
				nodes = append(nodes, &TextNode{Text: c.text})
			} else {
				nodes = append(nodes, &StaticNode{Text: c.text})
			}
		case xmlChildElem:
			node, err := compileElement(c.elem, dynamic)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		}
	}
	if len(nodes) == 1 {
		return nodes[0], nil
	}
	return &MixedNode{Children: nodes}, nil
}

func compileElement(el *xmlElem, dynamic *bool) (SqlNode, error) {
	*dynamic = true
	switch el.tag {
	case "if":
		body, err := compileMixedContent(el, dynamic)
		if err != nil {
			return nil, err
		}
		return &IfNode{Test: el.attrs["test"], Body: body}, nil
	case "choose":
		var whens []ChooseWhen
		var otherwise SqlNode
		for _, c := range el.children {
			ce, ok := c.(xmlChildElem)
			if !ok {
				continue
			}
			switch ce.elem.tag {
			case "when":
				body, err := compileMixedContent(ce.elem, dynamic)
				if err != nil {
					return nil, err
				}
				whens = append(whens, ChooseWhen{Test: ce.elem.attrs["test"], Body: body})
			case "otherwise":
				body, err := compileMixedContent(ce.elem, dynamic)
				if err != nil {
					return nil, err
				}
				otherwise = body
			}
		}
		return &ChooseNode{Whens: whens, Otherwise: otherwise}, nil
	case "trim":
		body, err := compileMixedContent(el, dynamic)
		if err != nil {
			return nil, err
		}
		return &TrimNode{
			Body:            body,
			Prefix:          el.attrs["prefix"],
			Suffix:          el.attrs["suffix"],
			PrefixOverrides: splitOverrides(el.attrs["prefixOverrides"]),
			SuffixOverrides: splitOverrides(el.attrs["suffixOverrides"]),
		}, nil
	case "where":
		body, err := compileMixedContent(el, dynamic)
		if err != nil {
			return nil, err
		}
		return NewWhereNode(body), nil
	case "set":
		body, err := compileMixedContent(el, dynamic)
		if err != nil {
			return nil, err
		}
		return NewSetNode(body), nil
	case "foreach":
		body, err := compileMixedContent(el, dynamic)
		if err != nil {
			return nil, err
		}
		return &ForeachNode{
			Collection: el.attrs["collection"],
			Item:       el.attrs["item"],
			Index:      el.attrs["index"],
			Open:       el.attrs["open"],
			Close:      el.attrs["close"],
			Separator:  el.attrs["separator"],
			Nullable:   el.attrs["nullable"] == "true",
			Body:       body,
		}, nil
	case "bind":
		return &BindNode{Name: el.attrs["name"], Expr: el.attrs["value"]}, nil
	default:
		return nil, newParseError("unknown dynamic sql element <%s>", el.tag)
	}
}

func splitOverrides(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// compileSqlSource is the template compiler's entry point for one
// statement's body: expand includes, compile to a node tree, and classify
// static vs dynamic (spec §4.D's closing paragraph).
func compileSqlSource(config *Configuration, namespace string, el *xmlElem) (SqlSource, error) {
	vars := make(map[string]string, len(config.Variables))
	for k, v := range config.Variables {
		vars[k] = v
	}
	if err := expandIncludes(config, namespace, el, vars); err != nil {
		return nil, err
	}
	dynamic := false
	root, err := compileMixedContent(el, &dynamic)
	if err != nil {
		return nil, err
	}
	if !dynamic {
		ctx := newNodeContext(nil)
		if _, err := root.apply(ctx); err != nil {
			return nil, err
		}
		bound, err := rewritePlaceholders(config, ctx.buffer.String(), nil, nil)
		if err != nil {
			return nil, err
		}
		return &StaticSqlSource{Sql: bound.Sql, ParameterMapping: bound.ParameterMapping}, nil
	}
	return &DynamicSqlSource{config: config, root: root}, nil
}

// compileScriptSource handles the annotation path of spec §4.D: a
// <script>-wrapped body is parsed like an XML fragment; a bare string gets
// ${} pre-interpolation and becomes a single Text node.
func compileScriptSource(config *Configuration, namespace, script string) (SqlSource, error) {
	trimmed := strings.TrimSpace(script)
	if strings.HasPrefix(trimmed, "<script>") {
		wrapped := "<script>" + strings.TrimSuffix(strings.TrimPrefix(trimmed, "<script>"), "</script>") + "</script>"
		root, err := parseXMLTree([]byte(wrapped))
		if err != nil {
			return nil, err
		}
		return compileSqlSource(config, namespace, root)
	}
	if strings.Contains(script, "${") {
		return &DynamicSqlSource{config: config, root: &TextNode{Text: script}}, nil
	}
	ctx := newNodeContext(nil)
	ctx.appendSql(script)
	bound, err := rewritePlaceholders(config, ctx.buffer.String(), nil, nil)
	if err != nil {
		return nil, err
	}
	return &StaticSqlSource{Sql: bound.Sql, ParameterMapping: bound.ParameterMapping}, nil
}

// ---- result map compilation ----

func compileResultMapElement(config *Configuration, namespace string, el *xmlElem, parameterTypes map[string]reflect.Type, typeRegistry map[string]reflect.Type) (*ResultMap, error) {
	id := qualify(namespace, el.attrs["id"])
	targetType, ok := typeRegistry[el.attrs["type"]]
	if !ok {
		return nil, newParseError("resultMap %q: unknown type alias %q", id, el.attrs["type"])
	}
	rm := &ResultMap{ID: id, Type: targetType}
	if ext := el.attrs["extends"]; ext != "" {
		rm.ExtendsID = qualify(namespace, ext)
	}
	for _, child := range el.children {
		ce, ok := child.(xmlChildElem)
		if !ok {
			continue
		}
		switch ce.elem.tag {
		case "id":
			m := compileResultMapping(ce.elem, typeRegistry)
			m.IsID = true
			rm.Mappings = append(rm.Mappings, m)
		case "result":
			rm.Mappings = append(rm.Mappings, compileResultMapping(ce.elem, typeRegistry))
		case "constructor":
			for _, cc := range ce.elem.children {
				cce, ok := cc.(xmlChildElem)
				if !ok {
					continue
				}
				m := compileResultMapping(cce.elem, typeRegistry)
				m.IsConstructor = true
				if cce.elem.tag == "idArg" {
					m.IsID = true
				}
				rm.Mappings = append(rm.Mappings, m)
			}
		case "association":
			rm.Mappings = append(rm.Mappings, compileAssociation(ce.elem, namespace, typeRegistry))
		case "collection":
			rm.Mappings = append(rm.Mappings, compileAssociation(ce.elem, namespace, typeRegistry))
		case "discriminator":
			disc, err := compileDiscriminator(ce.elem, typeRegistry)
			if err != nil {
				return nil, err
			}
			rm.Discriminator = disc
		}
	}
	partitionResultMap(rm)
	return rm, nil
}

func compileResultMapping(el *xmlElem, typeRegistry map[string]reflect.Type) ResultMapping {
	property := el.attrs["property"]
	if property == "" {
		property = el.attrs["name"] // <constructor><arg name=.../></constructor> uses name, not property
	}
	m := ResultMapping{
		Property:     property,
		Column:       el.attrs["column"],
		JdbcType:     el.attrs["jdbcType"],
		ColumnPrefix: el.attrs["columnPrefix"],
	}
	if jt, ok := typeRegistry[el.attrs["javaType"]]; ok {
		m.JavaType = jt
	}
	if nn := el.attrs["notNullColumn"]; nn != "" {
		m.NotNullColumns = strings.Split(nn, ",")
	}
	m.Lazy = el.attrs["fetchType"] == "lazy"
	return m
}

func compileAssociation(el *xmlElem, namespace string, typeRegistry map[string]reflect.Type) ResultMapping {
	m := compileResultMapping(el, typeRegistry)
	if rm := el.attrs["resultMap"]; rm != "" {
		m.NestedResultMap = qualify(namespace, rm)
	}
	if sel := el.attrs["select"]; sel != "" {
		m.NestedQueryID = qualify(namespace, sel)
	}
	m.ResultSet = el.attrs["resultSet"]
	m.ForeignColumn = el.attrs["foreignColumn"]
	return m
}

func compileDiscriminator(el *xmlElem, typeRegistry map[string]reflect.Type) (*Discriminator, error) {
	disc := &Discriminator{
		Column: compileResultMapping(el, typeRegistry),
		Cases:  map[string]string{},
	}
	for _, c := range el.children {
		ce, ok := c.(xmlChildElem)
		if !ok || ce.elem.tag != "case" {
			continue
		}
		disc.Cases[ce.elem.attrs["value"]] = ce.elem.attrs["resultMap"]
	}
	return disc, nil
}

// ---- statement compilation ----

var commandTypeByTag = map[string]SqlCommandType{
	"select": SqlCommandSelect,
	"insert": SqlCommandInsert,
	"update": SqlCommandUpdate,
	"delete": SqlCommandDelete,
}

func compileStatementElement(config *Configuration, namespace string, el *xmlElem, typeRegistry map[string]reflect.Type) error {
	commandType, ok := commandTypeByTag[el.tag]
	if !ok {
		return newParseError("unknown statement tag <%s>", el.tag)
	}
	id := qualify(namespace, el.attrs["id"])
	sqlSource, err := compileSqlSource(config, namespace, el)
	if err != nil {
		return err
	}
	ms := &MappedStatement{
		ID:                 id,
		CommandType:        commandType,
		StatementType:      statementTypeFromAttr(el.attrs["statementType"]),
		SqlSource:          sqlSource,
		UseCache:           commandType == SqlCommandSelect && el.attrs["useCache"] != "false",
		FlushCacheRequired: commandType != SqlCommandSelect && el.attrs["flushCache"] != "false",
		Config:             config,
		KeyGenerator:       NoKeyGenerator{},
	}
	if fs := el.attrs["fetchSize"]; fs != "" {
		ms.FetchSize, _ = strconv.Atoi(fs)
	}
	if to := el.attrs["timeout"]; to != "" {
		ms.Timeout, _ = strconv.Atoi(to)
	}
	if rm := el.attrs["resultMap"]; rm != "" {
		for _, one := range strings.Split(rm, ",") {
			ms.ResultMapIDs = append(ms.ResultMapIDs, qualify(namespace, strings.TrimSpace(one)))
		}
	} else if rt := el.attrs["resultType"]; rt != "" {
		inlineID := id + "-inline"
		if _, exists := config.ResultMap(inlineID); !exists {
			targetType, ok := typeRegistry[rt]
			if !ok {
				return newParseError("statement %q: unknown resultType alias %q", id, rt)
			}
			rm := &ResultMap{ID: inlineID, Type: targetType}
			partitionResultMap(rm)
			if err := config.addResultMap(rm); err != nil {
				return err
			}
		}
		ms.ResultMapIDs = []string{inlineID}
	}
	if rs := el.attrs["resultSets"]; rs != "" {
		for _, one := range strings.Split(rs, ",") {
			ms.ResultSets = append(ms.ResultSets, strings.TrimSpace(one))
		}
	}
	if el.attrs["useGeneratedKeys"] == "true" {
		var props []string
		if kp := el.attrs["keyProperty"]; kp != "" {
			props = strings.Split(kp, ",")
		}
		ms.KeyGenerator = Jdbc3KeyGenerator{KeyProperties: props}
		ms.KeyProperties = props
	}
	for _, c := range el.children {
		ce, ok := c.(xmlChildElem)
		if !ok || ce.elem.tag != "selectKey" {
			continue
		}
		skID := id + "!selectKey"
		skResultMapID := skID + "-result"
		skMS, err := config.MappedStatement(skID)
		if err != nil {
			skSource, err := compileSqlSource(config, namespace, ce.elem)
			if err != nil {
				return err
			}
			rt := ce.elem.attrs["resultType"]
			targetType, ok := typeRegistry[rt]
			if !ok {
				targetType = reflect.TypeOf(int64(0))
			}
			if _, exists := config.ResultMap(skResultMapID); !exists {
				skrm := &ResultMap{ID: skResultMapID, Type: targetType}
				partitionResultMap(skrm)
				if err := config.addResultMap(skrm); err != nil {
					return err
				}
			}
			skMS = &MappedStatement{ID: skID, CommandType: SqlCommandSelect, StatementType: StatementTypePrepared, SqlSource: skSource, ResultMapIDs: []string{skResultMapID}, Config: config}
			if err := config.addMappedStatement(skMS); err != nil {
				return err
			}
		}
		ms.KeyGenerator = SelectKeyGenerator{
			SelectKeyStatement: skMS,
			KeyProperty:        ce.elem.attrs["keyProperty"],
			ExecuteBefore:      ce.elem.attrs["order"] == "BEFORE",
		}
	}
	if cache, ok := config.cacheForNamespace(namespace); ok {
		ms.Cache = cache
	}
	return config.addMappedStatement(ms)
}

func statementTypeFromAttr(v string) StatementType {
	switch v {
	case "CALLABLE":
		return StatementTypeCallable
	case "STATEMENT":
		return StatementTypeStatement
	default:
		return StatementTypePrepared
	}
}

// CompileMapperDocument parses one XML mapper document and registers its
// fragments, result maps, and statements into config, deferring unresolved
// references onto the incomplete-element queues (spec §4.G).
func CompileMapperDocument(config *Configuration, data []byte, typeRegistry map[string]reflect.Type) error {
	root, err := parseXMLTree(data)
	if err != nil {
		return err
	}
	if root.tag != "mapper" {
		return newParseError("mapper document root must be <mapper>, got <%s>", root.tag)
	}
	namespace := root.attrs["namespace"]
	if namespace == "" {
		return newParseError("mapper document is missing namespace=")
	}

	for _, c := range root.children {
		ce, ok := c.(xmlChildElem)
		if !ok {
			continue
		}
		if ce.elem.tag == "sql" {
			config.sqlFragments.Set(qualify(namespace, ce.elem.attrs["id"]), ce.elem)
		}
	}

	for _, c := range root.children {
		ce, ok := c.(xmlChildElem)
		if !ok {
			continue
		}
		switch ce.elem.tag {
		case "cache":
			builder := NewCacheBuilder(namespace)
			if size := ce.elem.attrs["size"]; size != "" {
				if n, err := strconv.Atoi(size); err == nil {
					builder.Size(n)
				}
			}
			config.addCache(namespace, builder.Build())
		case "cache-ref":
			refNamespace := ce.elem.attrs["namespace"]
			config.addIncompleteCacheRef("cache-ref "+namespace+" -> "+refNamespace, func() error {
				cache, ok := config.cacheForNamespace(refNamespace)
				if !ok {
					return newIncompleteElementError("cache-ref target namespace %q not yet resolved", refNamespace)
				}
				config.addCache(namespace, cache)
				return nil
			})
		}
	}

	for _, c := range root.children {
		ce, ok := c.(xmlChildElem)
		if !ok || ce.elem.tag != "resultMap" {
			continue
		}
		el := ce.elem
		resultMapID := qualify(namespace, el.attrs["id"])
		config.addIncompleteResultMap("resultMap "+resultMapID, func() error {
			rm, ok := config.ResultMap(resultMapID)
			if !ok {
				compiled, err := compileResultMapElement(config, namespace, el, nil, typeRegistry)
				if err != nil {
					return err
				}
				if compiled.ExtendsID != "" {
					parent, ok := config.ResultMap(compiled.ExtendsID)
					if !ok {
						return newIncompleteElementError("result map %q extends unresolved %q", compiled.ID, compiled.ExtendsID)
					}
					compiled = resolveResultMapExtension(compiled, parent)
				}
				if err := config.addResultMap(compiled); err != nil {
					return err
				}
				rm = compiled
			}
			return compileDiscriminatorCases(config, rm)
		})
	}

	for _, c := range root.children {
		ce, ok := c.(xmlChildElem)
		if !ok {
			continue
		}
		if _, isStatement := commandTypeByTag[ce.elem.tag]; !isStatement {
			continue
		}
		el := ce.elem
		config.addIncompleteStatement("statement "+qualify(namespace, el.attrs["id"]), func() error {
			return compileStatementElement(config, namespace, el, typeRegistry)
		})
	}

	config.loadedResources.Set(namespace, true)
	return nil
}

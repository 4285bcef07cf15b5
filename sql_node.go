package mybatis

import (
	"regexp"
	"strconv"
	"strings"
)

// SqlNode is one node of the in-memory dynamic-SQL tree (spec §4.C).
// apply evaluates the node against ctx, appending SQL text (with
// append-with-space semantics) and any additional bindings, and reports
// whether it produced any content.
type SqlNode interface {
	apply(ctx *nodeContext) (bool, error)
}

// nodeContext is the per-invocation evaluation scratchpad threaded through
// the node tree: an SQL text buffer, the foreach-rename binding map, and a
// monotonic counter for generating unique __frch_* names, scoped to one
// containing evaluation as required by spec §4.C/§8 property 3.
type nodeContext struct {
	parameter interface{}
	bindings  map[string]interface{}
	buffer    *strings.Builder
	frchSeq   *int
}

func newNodeContext(parameter interface{}) *nodeContext {
	seq := 0
	return &nodeContext{
		parameter: parameter,
		bindings:  map[string]interface{}{},
		buffer:    &strings.Builder{},
		frchSeq:   &seq,
	}
}

// appendSql appends text to the buffer with append-with-space semantics:
// a single space is inserted between non-empty fragments.
func (c *nodeContext) appendSql(text string) {
	if text == "" {
		return
	}
	if c.buffer.Len() > 0 {
		last := c.buffer.String()[c.buffer.Len()-1]
		if last != ' ' && text[0] != ' ' {
			c.buffer.WriteByte(' ')
		}
	}
	c.buffer.WriteString(text)
}

func (c *nodeContext) evalCtx() *evalContext {
	return newEvalContext(c.parameter, c.bindings)
}

// child returns a nodeContext that shares bindings/parameter/counter but
// buffers into its own builder, used by Trim/Where/Set/Foreach to capture
// their body's output before rewriting it.
func (c *nodeContext) child() *nodeContext {
	return &nodeContext{parameter: c.parameter, bindings: c.bindings, buffer: &strings.Builder{}, frchSeq: c.frchSeq}
}

// ---- Static / Text ----

// StaticNode holds text with no per-call interpolation.
type StaticNode struct{ Text string }

func (n *StaticNode) apply(ctx *nodeContext) (bool, error) {
	ctx.appendSql(n.Text)
	return n.Text != "", nil
}

var interpolationPattern = regexp.MustCompile(`\$\{\s*([\w.\[\]]+)\s*\}`)

// TextNode holds text that may contain ${...} interpolation, performed at
// apply time (spec §4.C) — this is the documented code-injection surface:
// ${} substitutes raw text, never a placeholder.
type TextNode struct{ Text string }

func (n *TextNode) apply(ctx *nodeContext) (bool, error) {
	rendered, err := interpolate(n.Text, ctx.evalCtx())
	if err != nil {
		return false, err
	}
	ctx.appendSql(rendered)
	return rendered != "", nil
}

func interpolate(text string, ec *evalContext) (string, error) {
	var outerErr error
	result := interpolationPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := interpolationPattern.FindStringSubmatch(match)
		name := sub[1]
		v, ok := ec.resolvePath(name)
		if !ok {
			outerErr = newBindingError("unresolved ${%s} interpolation", name)
			return match
		}
		return toComparableString(v)
	})
	if outerErr != nil {
		return "", outerErr
	}
	return result, nil
}

// ---- Mixed ----

// MixedNode is a sequence of sibling nodes rendered one after another.
type MixedNode struct{ Children []SqlNode }

func (n *MixedNode) apply(ctx *nodeContext) (bool, error) {
	any := false
	for _, child := range n.Children {
		ok, err := child.apply(ctx)
		if err != nil {
			return false, err
		}
		any = any || ok
	}
	return any, nil
}

// ---- If / Choose ----

// IfNode conditionally applies Body when Test evaluates true.
type IfNode struct {
	Test string
	Body SqlNode
}

func (n *IfNode) apply(ctx *nodeContext) (bool, error) {
	ok, err := evaluateBoolean(n.Test, ctx.evalCtx())
	if err != nil || !ok {
		return false, err
	}
	return n.Body.apply(ctx)
}

// ChooseWhen is one <when> branch of a ChooseNode.
type ChooseWhen struct {
	Test string
	Body SqlNode
}

// ChooseNode picks the first matching When branch, falling back to Otherwise.
type ChooseNode struct {
	Whens     []ChooseWhen
	Otherwise SqlNode
}

func (n *ChooseNode) apply(ctx *nodeContext) (bool, error) {
	for _, w := range n.Whens {
		matched, err := evaluateBoolean(w.Test, ctx.evalCtx())
		if err != nil {
			return false, err
		}
		if matched {
			return w.Body.apply(ctx)
		}
	}
	if n.Otherwise != nil {
		return n.Otherwise.apply(ctx)
	}
	return false, nil
}

// ---- Trim / Where / Set ----

// TrimNode buffers its Body's output, then trims leading/trailing
// whitespace, deletes at most one matching prefix/suffix override
// (case-insensitive, first match by declaration order — idempotent
// within a single evaluation per spec §8 property 2), and inserts the
// configured Prefix/Suffix affix.
type TrimNode struct {
	Body            SqlNode
	Prefix          string
	Suffix          string
	PrefixOverrides []string
	SuffixOverrides []string
}

func (n *TrimNode) apply(ctx *nodeContext) (bool, error) {
	child := ctx.child()
	ok, err := n.Body.apply(child)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	trimmed := strings.TrimSpace(child.buffer.String())
	trimmed = trimOnePrefix(trimmed, n.PrefixOverrides)
	trimmed = trimOneSuffix(trimmed, n.SuffixOverrides)
	trimmed = strings.TrimSpace(trimmed)
	var out string
	switch {
	case trimmed == "":
		out = ""
	case n.Prefix != "" && n.Suffix != "":
		out = n.Prefix + " " + trimmed + " " + n.Suffix
	case n.Prefix != "":
		out = n.Prefix + " " + trimmed
	case n.Suffix != "":
		out = trimmed + " " + n.Suffix
	default:
		out = trimmed
	}
	ctx.appendSql(out)
	return out != "", nil
}

func trimOnePrefix(s string, overrides []string) string {
	upper := strings.ToUpper(s)
	for _, o := range overrides {
		if strings.HasPrefix(upper, strings.ToUpper(o)) {
			return s[len(o):]
		}
	}
	return s
}

func trimOneSuffix(s string, overrides []string) string {
	upper := strings.ToUpper(s)
	for _, o := range overrides {
		if strings.HasSuffix(upper, strings.ToUpper(o)) {
			return s[:len(s)-len(o)]
		}
	}
	return s
}

// whereOverrides mirrors MyBatis's hard-coded WHERE trim overrides.
var whereOverrides = []string{"AND ", "OR ", "AND\n", "OR\n", "AND\t", "OR\t", "AND\r\n", "OR\r\n"}

// NewWhereNode wraps body in a Trim configured as spec §4.C describes Where.
func NewWhereNode(body SqlNode) *TrimNode {
	return &TrimNode{Body: body, Prefix: "WHERE", PrefixOverrides: whereOverrides}
}

// NewSetNode wraps body in a Trim configured as spec §4.C describes Set.
func NewSetNode(body SqlNode) *TrimNode {
	return &TrimNode{Body: body, Suffix: "", Prefix: "SET", SuffixOverrides: []string{","}}
}

// ---- Foreach ----

// ForeachNode iterates a collection expression, rewriting #{item...} and
// #{index...} occurrences in the body's rendered text to unique
// __frch_{name}_{n} names per spec §4.C, binding both the bare and unique
// names to the element/index (or key/value for map entries).
type ForeachNode struct {
	Collection string
	Item       string
	Index      string
	Open       string
	Close      string
	Separator  string
	Nullable   bool
	Body       SqlNode
}

func (n *ForeachNode) apply(ctx *nodeContext) (bool, error) {
	entries, err := evaluateIterable(n.Collection, ctx.evalCtx(), n.Nullable)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return false, nil
	}
	child := ctx.child()
	child.appendSql(n.Open)
	for i, entry := range entries {
		if i > 0 {
			child.buffer.WriteString(n.Separator)
		}
		itemKey, indexKey := entry.key, i
		_ = itemKey
		if err := n.applyOne(child, i, indexKey, entry); err != nil {
			return false, err
		}
	}
	child.appendSql(n.Close)
	out := child.buffer.String()
	ctx.appendSql(out)
	return out != "", nil
}

func (n *ForeachNode) applyOne(ctx *nodeContext, seq int, index int, entry iterableEntry) error {
	bindName := n.Item
	indexName := n.Index
	itemVal := entry.value
	indexVal := interface{}(index)
	if entry.key != nil {
		if k, ok := entry.key.(int); !ok || k != index {
			indexVal = entry.key
		}
	}

	itemUnique := uniqueFrchName(bindName, ctx)
	indexUnique := ""
	if indexName != "" {
		indexUnique = uniqueFrchName(indexName, ctx)
	}

	if bindName != "" {
		ctx.bindings[bindName] = itemVal
		ctx.bindings[itemUnique] = itemVal
	}
	if indexName != "" {
		ctx.bindings[indexName] = indexVal
		ctx.bindings[indexUnique] = indexVal
	}
	defer func() {
		if bindName != "" {
			delete(ctx.bindings, bindName)
		}
		if indexName != "" {
			delete(ctx.bindings, indexName)
		}
	}()

	bodyCtx := ctx.child()
	if _, err := n.Body.apply(bodyCtx); err != nil {
		return err
	}
	rendered := bodyCtx.buffer.String()
	if bindName != "" {
		rendered = rewriteToken(rendered, bindName, itemUnique)
	}
	if indexName != "" {
		rendered = rewriteToken(rendered, indexName, indexUnique)
	}
	ctx.appendSql(rendered)
	return nil
}

// uniqueFrchName allocates the next __frch_{name}_{n} suffix from the
// counter scoped to the containing evaluation (not a global counter),
// satisfying spec §8 property 3.
func uniqueFrchName(name string, ctx *nodeContext) string {
	n := *ctx.frchSeq
	*ctx.frchSeq = n + 1
	return "__frch_" + name + "_" + strconv.Itoa(n)
}

// rewriteToken rewrites #{name...} occurrences (name itself, name.sub, or
// name[i]) to use uniqueName instead of name, inside already-rendered SQL text.
func rewriteToken(text, name, uniqueName string) string {
	pattern := regexp.MustCompile(`#\{\s*` + regexp.QuoteMeta(name) + `(\b[^}]*)\}`)
	return pattern.ReplaceAllString(text, "#{"+uniqueName+"$1}")
}

// ---- Bind / VarDecl ----

// BindNode evaluates Expr against current bindings and stores the result
// under Name, available to subsequent sibling/descendant nodes.
type BindNode struct {
	Name string
	Expr string
}

func (n *BindNode) apply(ctx *nodeContext) (bool, error) {
	v, ok := ctx.evalCtx().resolvePath(n.Expr)
	if !ok {
		return false, newBindingError("bind expression %q could not be resolved", n.Expr)
	}
	ctx.bindings[n.Name] = v
	return false, nil
}

// VarDeclNode is the include-expansion analog of Bind: it evaluates Expr
// (already ${}-interpolated by the include expander) and stores it.
type VarDeclNode struct {
	Name string
	Expr string
}

func (n *VarDeclNode) apply(ctx *nodeContext) (bool, error) {
	ctx.bindings[n.Name] = n.Expr
	return false, nil
}

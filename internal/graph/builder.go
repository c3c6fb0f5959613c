package graph

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
)

// maxInlineDepth bounds recursion into anonymous nested schemas.
const maxInlineDepth = 32

// Builder turns a parsed contract into a reference graph. Building never fails:
// structural problems are recorded as notes on the result.
type Builder struct {
	logger *zap.Logger
}

// NewBuilder creates a graph builder.
func NewBuilder(logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{logger: logger.Named("graph_builder")}
}

// Build is a convenience for NewBuilder(nil).Build(c).
func Build(c *schemas.Contract) *Graph {
	return NewBuilder(nil).Build(c)
}

// pendingRef is a schema reference that is resolved once every node exists.
type pendingRef struct {
	from   string
	target string
	typ    EdgeType
	label  string
}

type buildState struct {
	g       *Graph
	pending []pendingRef
}

// Build constructs the graph.
func (b *Builder) Build(c *schemas.Contract) *Graph {
	g := &Graph{
		nodes: make(map[string]*Node),
		out:   make(map[string][]Edge),
		in:    make(map[string][]Edge),
	}
	if c == nil {
		return g
	}
	g.security = append([]schemas.SecurityRequirement(nil), c.Security...)
	st := &buildState{g: g}

	// 1. Named schemas first, in name order, so IDs are stable across runs.
	names := make([]string, 0, len(c.Schemas))
	for name := range c.Schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		schema := c.Schemas[name]
		st.addSchema(name, &schema, false, 0)
	}

	// 2. Operations in declaration order.
	for i := range c.Operations {
		st.addOperation(i, &c.Operations[i], c.Security)
	}

	// 3. Resolve references now that every node is registered.
	for _, ref := range st.pending {
		to := SchemaID(ref.target)
		if _, ok := g.nodes[to]; !ok {
			g.notes = append(g.notes, Note{
				Kind:     NoteDanglingRef,
				Location: ref.from,
				Message:  fmt.Sprintf("reference to undefined schema %q", ref.target),
			})
			continue
		}
		g.addEdge(Edge{From: ref.from, To: to, Type: ref.typ, Label: ref.label})
	}

	// 4. Stable schema order and cycle notes.
	for id, n := range g.nodes {
		if n.Kind == KindSchema {
			g.schemaOrder = append(g.schemaOrder, id)
		}
	}
	sort.Strings(g.schemaOrder)
	g.notes = append(g.notes, g.detectCycles()...)

	b.logger.Debug("Reference graph built",
		zap.Int("operations", len(g.opOrder)),
		zap.Int("schemas", len(g.schemaOrder)),
		zap.Int("edges", g.EdgeCount()),
		zap.Int("notes", len(g.notes)))
	return g
}

func (g *Graph) addEdge(e Edge) {
	g.out[e.From] = append(g.out[e.From], e)
	g.in[e.To] = append(g.in[e.To], e)
}

func (st *buildState) addOperation(index int, op *schemas.Operation, global []schemas.SecurityRequirement) {
	g := st.g
	method := strings.ToUpper(op.Method)
	id := OperationID(method, op.Path)
	if _, exists := g.nodes[id]; exists {
		g.notes = append(g.notes, Note{Kind: NoteDuplicateOp, Location: id, Message: "operation declared more than once; later declaration ignored"})
		return
	}

	security := global
	if op.SecurityDeclared {
		security = op.Security
	}
	node := &OperationNode{
		ID:                  id,
		Index:               index,
		Method:              method,
		Path:                op.Path,
		OperationID:         op.OperationID,
		Security:            append([]schemas.SecurityRequirement(nil), security...),
		Public:              isPublic(security),
		Parameters:          append([]schemas.Parameter(nil), op.Parameters...),
		RequestContentTypes: append([]string(nil), op.RequestContentTypes...),
		Deprecated:          op.Deprecated,
		Tags:                append([]string(nil), op.Tags...),
	}
	g.nodes[id] = &Node{ID: id, Kind: KindOperation, Operation: node}
	g.opOrder = append(g.opOrder, id)
	label := node.Label()

	if op.RequestBody != nil {
		node.HasRequestBody = true
		if target := st.resolveSchemaRef(op.RequestBody, label+"#request"); target != "" {
			node.RequestSchema = target
			st.pending = append(st.pending, pendingRef{from: id, target: target, typ: EdgeAccepts, label: "request"})
		}
	}
	for _, resp := range op.Responses {
		info := ResponseInfo{Status: resp.Status, ContentTypes: append([]string(nil), resp.ContentTypes...)}
		if resp.Schema != nil {
			if target := st.resolveSchemaRef(resp.Schema, label+"#response/"+resp.Status); target != "" {
				info.SchemaID = SchemaID(target)
				st.pending = append(st.pending, pendingRef{from: id, target: target, typ: EdgeReturns, label: resp.Status})
			}
		}
		node.Responses = append(node.Responses, info)
	}
}

// resolveSchemaRef returns the schema name a reference points at, registering a
// synthetic schema for inline definitions.
func (st *buildState) resolveSchemaRef(ref *schemas.SchemaRef, syntheticName string) string {
	switch {
	case ref.Ref != "":
		return NormalizeRef(ref.Ref)
	case ref.Inline != nil:
		st.addSchema(syntheticName, ref.Inline, true, 0)
		return syntheticName
	default:
		return ""
	}
}

func (st *buildState) addSchema(name string, s *schemas.Schema, synthetic bool, depth int) {
	g := st.g
	id := SchemaID(name)
	if _, exists := g.nodes[id]; exists {
		return
	}
	node := &SchemaNode{
		ID:          id,
		Name:        name,
		Description: s.Description,
		Type:        s.Type,
		Synthetic:   synthetic,
		Required:    append([]string(nil), s.Required...),
	}
	sort.Strings(node.Required)
	g.nodes[id] = &Node{ID: id, Kind: KindSchema, Schema: node}

	if depth >= maxInlineDepth {
		g.notes = append(g.notes, Note{Kind: NoteDepthTruncated, Location: id, Message: "inline schema nesting too deep; properties truncated"})
		return
	}

	propNames := make([]string, 0, len(s.Properties))
	for pn := range s.Properties {
		propNames = append(propNames, pn)
	}
	sort.Strings(propNames)
	for _, pn := range propNames {
		p := s.Properties[pn]
		info := PropertyInfo{Name: pn, Format: p.Format}
		switch {
		case p.Ref != "":
			info.Target = NormalizeRef(p.Ref)
			info.Type = "ref:" + info.Target
		case p.Inline != nil:
			info.Target = name + "." + pn
			info.Type = "ref:" + info.Target
			st.addSchema(info.Target, p.Inline, true, depth+1)
		case p.ItemsRef != "":
			info.Target = NormalizeRef(p.ItemsRef)
			info.Type = "array<" + info.Target + ">"
		case p.Type == "array" || p.ItemsType != "":
			info.Type = "array<" + orDefault(p.ItemsType, "any") + ">"
		default:
			info.Type = orDefault(p.Type, "any")
		}
		if info.Target != "" {
			st.pending = append(st.pending, pendingRef{from: id, target: info.Target, typ: EdgeReferences, label: pn})
		}
		node.Properties = append(node.Properties, info)
	}

	if s.Items != nil {
		if target := st.resolveNested(s.Items, name+"[]", depth); target != "" {
			st.pending = append(st.pending, pendingRef{from: id, target: target, typ: EdgeReferences, label: "[]"})
		}
	}
	for i := range s.Composed {
		if target := st.resolveNested(&s.Composed[i], fmt.Sprintf("%s#composed/%d", name, i), depth); target != "" {
			st.pending = append(st.pending, pendingRef{from: id, target: target, typ: EdgeReferences, label: "composed"})
		}
	}
}

func (st *buildState) resolveNested(ref *schemas.SchemaRef, syntheticName string, depth int) string {
	switch {
	case ref.Ref != "":
		return NormalizeRef(ref.Ref)
	case ref.Inline != nil:
		st.addSchema(syntheticName, ref.Inline, true, depth+1)
		return syntheticName
	default:
		return ""
	}
}

// NormalizeRef reduces a JSON pointer such as "#/components/schemas/User" to the
// schema name "User". Bare names pass through unchanged.
func NormalizeRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		ref = ref[i+1:]
	}
	ref = strings.TrimPrefix(ref, "#")
	ref = strings.ReplaceAll(ref, "~1", "/")
	return strings.ReplaceAll(ref, "~0", "~")
}

// isPublic reports whether a requirement set admits anonymous callers: either no
// requirements at all or an explicit empty alternative.
func isPublic(reqs []schemas.SecurityRequirement) bool {
	if len(reqs) == 0 {
		return true
	}
	for _, r := range reqs {
		if r.Scheme == "" {
			return true
		}
	}
	return false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

package graph

import (
	"sort"
	"strings"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
)

// NodeKind distinguishes operation nodes from schema nodes.
type NodeKind string

const (
	KindOperation NodeKind = "OPERATION"
	KindSchema    NodeKind = "SCHEMA"
)

// EdgeType is the relation carried by a directed edge.
type EdgeType string

const (
	// EdgeReferences connects a schema to a schema it embeds.
	EdgeReferences EdgeType = "REFERENCES"
	// EdgeReturns connects an operation to a response schema.
	EdgeReturns EdgeType = "RETURNS"
	// EdgeAccepts connects an operation to its request body schema.
	EdgeAccepts EdgeType = "ACCEPTS"
)

// Direction selects which adjacency list a traversal follows.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

// Node is a vertex of the reference graph. Exactly one of Operation or Schema is set.
type Node struct {
	ID        string
	Kind      NodeKind
	Operation *OperationNode
	Schema    *SchemaNode
}

// OperationNode is the graph view of a contract operation.
type OperationNode struct {
	ID          string
	Index       int
	Method      string
	Path        string
	OperationID string

	// Security is the effective requirement set: the operation's own when declared,
	// the contract's global set otherwise.
	Security []schemas.SecurityRequirement
	Public   bool

	Parameters          []schemas.Parameter
	HasRequestBody      bool
	RequestSchema       string
	RequestContentTypes []string
	Responses           []ResponseInfo
	Deprecated          bool
	Tags                []string
}

// Label is the human form of an operation: "METHOD /path".
func (o *OperationNode) Label() string {
	return o.Method + " " + o.Path
}

// Scopes returns the sorted, de-duplicated scopes across all effective requirements.
func (o *OperationNode) Scopes() []string {
	set := make(map[string]struct{})
	for _, req := range o.Security {
		for _, s := range req.Scopes {
			set[s] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// ResponseInfo is a flattened response entry. SchemaID is empty when the response
// carries no schema.
type ResponseInfo struct {
	Status       string
	ContentTypes []string
	SchemaID     string
}

// SchemaNode is the graph view of a named or synthetic schema.
type SchemaNode struct {
	ID          string
	Name        string
	Description string
	Type        string
	Synthetic   bool
	// Properties are sorted by name.
	Properties []PropertyInfo
	Required   []string
}

// PropertyInfo is a single property with its normalized type string. Type is the
// scalar type, "ref:<Schema>" for a reference, or "array<T>" for arrays.
type PropertyInfo struct {
	Name   string
	Type   string
	Format string
	// Target is the referenced schema name, if any.
	Target string
}

// Edge is a typed, directed relation. Label carries the property name for
// REFERENCES edges and the status code for RETURNS edges.
type Edge struct {
	From  string
	To    string
	Type  EdgeType
	Label string
}

// NoteKind classifies a structural note.
type NoteKind string

const (
	NoteCycle          NoteKind = "CYCLE"
	NoteDanglingRef    NoteKind = "DANGLING_REF"
	NoteDuplicateOp    NoteKind = "DUPLICATE_OPERATION"
	NoteDepthTruncated NoteKind = "DEPTH_TRUNCATED"
)

// Note is a non-fatal structural observation recorded while building or walking.
type Note struct {
	Kind     NoteKind
	Location string
	Message  string
}

func (n Note) String() string {
	return string(n.Kind) + " at " + n.Location + ": " + n.Message
}

// Graph is the immutable reference graph of one contract. It is safe for concurrent
// reads once Build returns.
type Graph struct {
	nodes       map[string]*Node
	opOrder     []string
	schemaOrder []string
	out         map[string][]Edge
	in          map[string][]Edge
	notes       []Note
	security    []schemas.SecurityRequirement
}

// OperationID returns the node ID for a method and path.
func OperationID(method, path string) string {
	return "op:" + strings.ToUpper(method) + " " + path
}

// SchemaID returns the node ID for a schema name.
func SchemaID(name string) string {
	return "schema:" + name
}

// SchemaName strips the node prefix from a schema ID.
func SchemaName(id string) string {
	return strings.TrimPrefix(id, "schema:")
}

// Node returns the node for an ID.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Operation returns the operation node for an ID.
func (g *Graph) Operation(id string) (*OperationNode, bool) {
	n, ok := g.nodes[id]
	if !ok || n.Operation == nil {
		return nil, false
	}
	return n.Operation, true
}

// Schema returns the schema node for a schema name.
func (g *Graph) Schema(name string) (*SchemaNode, bool) {
	n, ok := g.nodes[SchemaID(name)]
	if !ok || n.Schema == nil {
		return nil, false
	}
	return n.Schema, true
}

// Operations returns operations in contract declaration order.
func (g *Graph) Operations() []*OperationNode {
	ops := make([]*OperationNode, 0, len(g.opOrder))
	for _, id := range g.opOrder {
		ops = append(ops, g.nodes[id].Operation)
	}
	return ops
}

// Schemas returns all schema nodes (named and synthetic) sorted by ID.
func (g *Graph) Schemas() []*SchemaNode {
	out := make([]*SchemaNode, 0, len(g.schemaOrder))
	for _, id := range g.schemaOrder {
		out = append(out, g.nodes[id].Schema)
	}
	return out
}

// GlobalSecurity returns the contract level security requirement set.
func (g *Graph) GlobalSecurity() []schemas.SecurityRequirement {
	return append([]schemas.SecurityRequirement(nil), g.security...)
}

// Out returns a copy of the outgoing edges of a node, optionally filtered by type.
func (g *Graph) Out(id string, types ...EdgeType) []Edge {
	return filterEdges(g.out[id], types)
}

// In returns a copy of the incoming edges of a node, optionally filtered by type.
func (g *Graph) In(id string, types ...EdgeType) []Edge {
	return filterEdges(g.in[id], types)
}

// Notes returns the structural notes recorded during Build.
func (g *Graph) Notes() []Note {
	return append([]Note(nil), g.notes...)
}

// NodeCount and EdgeCount report graph size.
func (g *Graph) NodeCount() int { return len(g.nodes) }

func (g *Graph) EdgeCount() int {
	n := 0
	for _, edges := range g.out {
		n += len(edges)
	}
	return n
}

func filterEdges(edges []Edge, types []EdgeType) []Edge {
	if len(types) == 0 {
		return append([]Edge(nil), edges...)
	}
	var out []Edge
	for _, e := range edges {
		for _, t := range types {
			if e.Type == t {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

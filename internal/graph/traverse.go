package graph

import "strings"

// Traversal is the result of a breadth-first walk: visit order, BFS parents and
// hop counts from the start node.
type Traversal struct {
	Start  string
	Order  []string
	Parent map[string]string
	Depth  map[string]int
	// Truncated is set when the walk hit its depth limit.
	Truncated bool
}

// Reached reports whether the node was visited.
func (t *Traversal) Reached(id string) bool {
	_, ok := t.Depth[id]
	return ok
}

// PathTo reconstructs the shortest path from the start node to id, inclusive of
// both ends. It returns nil when id was not reached.
func (t *Traversal) PathTo(id string) []string {
	if !t.Reached(id) {
		return nil
	}
	var rev []string
	for cur := id; ; {
		rev = append(rev, cur)
		if cur == t.Start {
			break
		}
		cur = t.Parent[cur]
	}
	path := make([]string, len(rev))
	for i, n := range rev {
		path[len(rev)-1-i] = n
	}
	return path
}

// BFS walks the graph from start along edges of the given types. A maxDepth of zero
// or less means unbounded. Each node is visited once, so cycles terminate.
func (g *Graph) BFS(start string, dir Direction, maxDepth int, types ...EdgeType) *Traversal {
	t := &Traversal{
		Start:  start,
		Parent: make(map[string]string),
		Depth:  make(map[string]int),
	}
	if _, ok := g.nodes[start]; !ok {
		return t
	}
	t.Depth[start] = 0
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		t.Order = append(t.Order, cur)

		if maxDepth > 0 && t.Depth[cur] >= maxDepth {
			t.Truncated = true
			continue
		}
		edges := g.out[cur]
		if dir == Reverse {
			edges = g.in[cur]
		}
		for _, e := range edges {
			if !matchesType(e.Type, types) {
				continue
			}
			next := e.To
			if dir == Reverse {
				next = e.From
			}
			if _, seen := t.Depth[next]; seen {
				continue
			}
			t.Depth[next] = t.Depth[cur] + 1
			t.Parent[next] = cur
			queue = append(queue, next)
		}
	}
	return t
}

// ReachableSchemas returns the schema IDs reachable from an operation through its
// RETURNS (or ACCEPTS) edges and then any number of REFERENCES edges, in BFS order.
func (g *Graph) ReachableSchemas(opID string, via EdgeType) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, e := range g.out[opID] {
		if e.Type != via {
			continue
		}
		walk := g.BFS(e.To, Forward, 0, EdgeReferences)
		for _, id := range walk.Order {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func matchesType(t EdgeType, types []EdgeType) bool {
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}

// detectCycles runs an iterative depth-first search over REFERENCES edges and
// returns one note per back edge.
func (g *Graph) detectCycles() []Note {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.schemaOrder))
	reported := make(map[string]struct{})
	var notes []Note

	type frame struct {
		id   string
		next int
	}
	for _, root := range g.schemaOrder {
		if color[root] != white {
			continue
		}
		stack := []frame{{id: root}}
		color[root] = grey
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			edges := g.out[top.id]
			if top.next >= len(edges) {
				color[top.id] = black
				stack = stack[:len(stack)-1]
				continue
			}
			e := edges[top.next]
			top.next++
			if e.Type != EdgeReferences {
				continue
			}
			switch color[e.To] {
			case white:
				color[e.To] = grey
				stack = append(stack, frame{id: e.To})
			case grey:
				// Back edge: the cycle is the stack suffix starting at e.To.
				var cycle []string
				for i := range stack {
					if stack[i].id == e.To || len(cycle) > 0 {
						cycle = append(cycle, SchemaName(stack[i].id))
					}
				}
				cycle = append(cycle, SchemaName(e.To))
				msg := "circular reference " + strings.Join(cycle, " -> ")
				if _, dup := reported[msg]; dup {
					continue
				}
				reported[msg] = struct{}{}
				notes = append(notes, Note{Kind: NoteCycle, Location: e.To, Message: msg})
			}
		}
	}
	return notes
}

// Package flow implements augmenting-path maximum flow over a residual-capacity
// graph. It is deliberately small: integer capacities, BFS path search
// (Edmonds-Karp), and lazily created reverse edges.
//
// The total flow value is unique for a given network (max-flow/min-cut); which
// specific edges end up saturated depends on the BFS visit order, which follows
// edge insertion order and is therefore stable for a fixed build sequence.
package flow

import "errors"

// ErrSourceNotFound is returned when the source node has no outgoing edges.
var ErrSourceNotFound = errors.New("flow: source node not found")

// ErrSinkNotFound is returned when the sink node never appears in the graph.
var ErrSinkNotFound = errors.New("flow: sink node not found")

// ErrNegativeCapacity is returned when an edge is added with capacity < 0.
var ErrNegativeCapacity = errors.New("flow: negative edge capacity")

// NodeKind tags the role of a node in the network.
type NodeKind uint8

const (
	KindSource NodeKind = iota
	KindSink
	KindDriver
	KindRide
)

// NodeID identifies a node by role and index. Source and Sink ignore the index.
type NodeID struct {
	Kind  NodeKind
	Index int
}

func Source() NodeID { return NodeID{Kind: KindSource} }

func Sink() NodeID { return NodeID{Kind: KindSink} }

func DriverNode(i int) NodeID { return NodeID{Kind: KindDriver, Index: i} }

func RideNode(j int) NodeID { return NodeID{Kind: KindRide, Index: j} }

// Graph is a directed capacitated graph. After MaxFlow runs, the stored
// capacities are residual capacities: original capacity minus flow on forward
// edges, flow itself on the (possibly lazily created) reverse edges.
type Graph struct {
	caps map[NodeID]map[NodeID]int
	// adj keeps neighbor visit order stable across runs.
	adj map[NodeID][]NodeID
}

func NewGraph() *Graph {
	return &Graph{
		caps: make(map[NodeID]map[NodeID]int),
		adj:  make(map[NodeID][]NodeID),
	}
}

// AddEdge adds capacity from u to v. Parallel edges sum.
func (g *Graph) AddEdge(u, v NodeID, capacity int) error {
	if capacity < 0 {
		return ErrNegativeCapacity
	}
	g.addCapacity(u, v, capacity)
	return nil
}

// Residual returns the remaining capacity from u to v.
func (g *Graph) Residual(u, v NodeID) int {
	return g.caps[u][v]
}

func (g *Graph) addCapacity(u, v NodeID, capacity int) {
	nbrs, ok := g.caps[u]
	if !ok {
		nbrs = make(map[NodeID]int)
		g.caps[u] = nbrs
	}
	if _, seen := nbrs[v]; !seen {
		g.adj[u] = append(g.adj[u], v)
	}
	nbrs[v] += capacity
}

// MaxFlow pushes flow from source to sink until no augmenting path remains and
// returns the total flow value. The graph is left holding final residual
// capacities.
func (g *Graph) MaxFlow(source, sink NodeID) (int, error) {
	if len(g.adj[source]) == 0 {
		return 0, ErrSourceNotFound
	}
	if !g.hasNode(sink) {
		return 0, ErrSinkNotFound
	}

	total := 0
	for {
		path, bottleneck := g.augmentingPath(source, sink)
		if bottleneck == 0 {
			return total, nil
		}
		for i := 0; i < len(path)-1; i++ {
			u, v := path[i], path[i+1]
			g.caps[u][v] -= bottleneck
			// The reverse edge is created on first use.
			g.addCapacity(v, u, bottleneck)
		}
		total += bottleneck
	}
}

// augmentingPath finds a shortest source-to-sink path over edges with positive
// residual capacity and returns it with its bottleneck. A zero bottleneck means
// no path exists.
func (g *Graph) augmentingPath(source, sink NodeID) ([]NodeID, int) {
	parent := make(map[NodeID]NodeID)
	visited := map[NodeID]bool{source: true}
	queue := []NodeID{source}

	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range g.adj[u] {
			if visited[v] || g.caps[u][v] <= 0 {
				continue
			}
			visited[v] = true
			parent[v] = u
			if v == sink {
				return g.rebuildPath(parent, source, sink)
			}
			queue = append(queue, v)
		}
	}
	return nil, 0
}

func (g *Graph) rebuildPath(parent map[NodeID]NodeID, source, sink NodeID) ([]NodeID, int) {
	path := []NodeID{sink}
	bottleneck := 0
	for cur := sink; cur != source; {
		p := parent[cur]
		if residual := g.caps[p][cur]; bottleneck == 0 || residual < bottleneck {
			bottleneck = residual
		}
		path = append([]NodeID{p}, path...)
		cur = p
	}
	return path, bottleneck
}

func (g *Graph) hasNode(n NodeID) bool {
	if _, ok := g.caps[n]; ok {
		return true
	}
	for _, nbrs := range g.caps {
		if _, ok := nbrs[n]; ok {
			return true
		}
	}
	return false
}

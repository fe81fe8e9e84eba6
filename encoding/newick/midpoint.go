package newick

type edge struct {
	to int
	w  float64
}

// graph is an undirected view of a tree. Node i of the view is nodes[i].
type graph struct {
	nodes []*Node
	adj   [][]edge
}

func newGraph(t *Tree) *graph {
	g := &graph{}
	var add func(n *Node, parent int, w float64)
	add = func(n *Node, parent int, w float64) {
		id := len(g.nodes)
		g.nodes = append(g.nodes, n)
		g.adj = append(g.adj, nil)
		if parent >= 0 {
			g.adj[id] = append(g.adj[id], edge{parent, w})
			g.adj[parent] = append(g.adj[parent], edge{id, w})
		}
		for _, c := range n.Children {
			add(c, id, c.Length)
		}
	}
	add(t.Root, -1, 0)
	return g
}

// distances returns the path length from src to every node, and each node's
// predecessor on that path.
func (g *graph) distances(src int) ([]float64, []int) {
	dist := make([]float64, len(g.nodes))
	prev := make([]int, len(g.nodes))
	for i := range prev {
		prev[i] = -2
	}
	prev[src] = -1
	stack := []int{src}
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.adj[u] {
			if prev[e.to] != -2 {
				continue
			}
			prev[e.to] = u
			dist[e.to] = dist[u] + e.w
			stack = append(stack, e.to)
		}
	}
	return dist, prev
}

func (g *graph) farthestLeaf(dist []float64) int {
	best := -1
	for i, n := range g.nodes {
		if n.IsLeaf() && (best < 0 || dist[i] > dist[best]) {
			best = i
		}
	}
	return best
}

func (g *graph) removeEdge(u, v int) {
	drop := func(from, to int) {
		out := g.adj[from][:0]
		for _, e := range g.adj[from] {
			if e.to != to {
				out = append(out, e)
			}
		}
		g.adj[from] = out
	}
	drop(u, v)
	drop(v, u)
}

// build orients the graph away from root. Non-root nodes left with one child
// are collapsed into it.
func (g *graph) build(id, parent int, w float64, hasLength bool) *Node {
	orig := g.nodes[id]
	n := &Node{Name: orig.Name, Length: w, HasLength: hasLength}
	for _, e := range g.adj[id] {
		if e.to == parent {
			continue
		}
		n.Children = append(n.Children, g.build(e.to, id, e.w, true))
	}
	if parent >= 0 && len(n.Children) == 1 {
		c := n.Children[0]
		c.Length += n.Length
		return c
	}
	return n
}

// MidpointRoot returns a copy of the tree rerooted at the midpoint of the
// longest leaf-to-leaf path. Missing branch lengths count as zero. Trees with
// fewer than two leaves, or whose leaves are all at distance zero, are
// returned unchanged.
func (t *Tree) MidpointRoot() *Tree {
	g := newGraph(t)
	start := -1
	for i, n := range g.nodes {
		if n.IsLeaf() {
			start = i
			break
		}
	}
	d0, _ := g.distances(start)
	a := g.farthestLeaf(d0)
	da, prev := g.distances(a)
	b := g.farthestLeaf(da)
	half := da[b] / 2
	if a == b || half == 0 {
		return t.Clone()
	}
	// Walk from b back toward a until the midpoint is bracketed by (u, v),
	// with u nearer to a.
	v := b
	u := prev[v]
	for da[u] > half {
		v = u
		u = prev[v]
	}
	if da[u] == half {
		return &Tree{Root: g.build(u, -1, 0, false)}
	}
	r := len(g.nodes)
	g.nodes = append(g.nodes, &Node{})
	g.adj = append(g.adj, nil)
	g.removeEdge(u, v)
	wu, wv := half-da[u], da[v]-half
	g.adj[r] = []edge{{u, wu}, {v, wv}}
	g.adj[u] = append(g.adj[u], edge{r, wu})
	g.adj[v] = append(g.adj[v], edge{r, wv})
	return &Tree{Root: g.build(r, -1, 0, false)}
}

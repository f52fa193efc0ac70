package taskmgr

// depGraph tracks task dependency edges in both directions. Nodes are
// task IDs; an edge from A to B means A depends on (is blocked by) B.
// The graph is not safe for concurrent use; the manager serializes all
// access under its own lock.
type depGraph struct {
	// deps maps task ID to the IDs it depends on.
	deps map[string][]string
	// dependents maps task ID to the IDs that depend on it.
	dependents map[string][]string
}

func newDepGraph() *depGraph {
	return &depGraph{
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
	}
}

// wouldCycle reports whether adding a node with the given dependencies
// would make the graph cyclic. Since a new node has no dependents yet, a
// cycle can only form if the node is reachable from one of its own
// proposed dependencies, which includes the degenerate self-dependency.
// Depth-first search with coloring, as in a standard back-edge check.
func (g *depGraph) wouldCycle(newID string, deps []string) bool {
	// Color states: 0 = unvisited, 1 = in progress, 2 = done.
	colors := make(map[string]int)

	var visit func(id string) bool
	visit = func(id string) bool {
		if id == newID {
			return true
		}
		colors[id] = 1

		for _, depID := range g.deps[id] {
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = 2
		return false
	}

	for _, depID := range deps {
		if depID == newID {
			return true
		}
		if colors[depID] == 0 && visit(depID) {
			return true
		}
	}
	return false
}

// add registers a node and its edges. Caller has already verified the
// dependencies exist and the addition is acyclic.
func (g *depGraph) add(id string, deps []string) {
	g.deps[id] = append([]string(nil), deps...)
	for _, depID := range deps {
		g.dependents[depID] = append(g.dependents[depID], id)
	}
}

// dependenciesOf returns the IDs the task depends on.
func (g *depGraph) dependenciesOf(id string) []string {
	return g.deps[id]
}

// dependentsOf returns the IDs that directly depend on the task.
func (g *depGraph) dependentsOf(id string) []string {
	return g.dependents[id]
}

// transitiveDependents returns every task reachable by following
// dependent edges from the given task, in breadth-first order. The task
// itself is not included.
func (g *depGraph) transitiveDependents(id string) []string {
	seen := map[string]bool{id: true}
	var result []string

	queue := append([]string(nil), g.dependents[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		result = append(result, next)
		queue = append(queue, g.dependents[next]...)
	}
	return result
}

// size returns the number of nodes.
func (g *depGraph) size() int {
	return len(g.deps)
}

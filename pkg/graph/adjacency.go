package graph

// adjacency is the edge visibility cache: a per-node index of incident
// edge keys, kept in sync with the store's edge map on every mutation.
// It answers "which edges touch this node" for click-to-reveal without a
// network round trip. It is a derived index only; the store's edge map
// is the source of truth for edge existence.
type adjacency struct {
	byNode map[string][]EdgeKey
}

func newAdjacency() adjacency {
	return adjacency{byNode: make(map[string][]EdgeKey)}
}

func (a *adjacency) add(k EdgeKey) {
	a.byNode[k.Source] = append(a.byNode[k.Source], k)
	if k.Target != k.Source {
		a.byNode[k.Target] = append(a.byNode[k.Target], k)
	}
}

func (a *adjacency) remove(k EdgeKey) {
	a.removeFrom(k.Source, k)
	if k.Target != k.Source {
		a.removeFrom(k.Target, k)
	}
}

func (a *adjacency) removeFrom(nodeID string, k EdgeKey) {
	keys := a.byNode[nodeID]
	for i, have := range keys {
		if have == k {
			keys[i] = keys[len(keys)-1]
			keys = keys[:len(keys)-1]
			break
		}
	}
	if len(keys) == 0 {
		delete(a.byNode, nodeID)
	} else {
		a.byNode[nodeID] = keys
	}
}

// dropNode removes the node's bucket. The caller removes the incident
// edges themselves (and their mirror entries) beforehand.
func (a *adjacency) dropNode(nodeID string) {
	delete(a.byNode, nodeID)
}

func (a *adjacency) of(nodeID string) []EdgeKey {
	return a.byNode[nodeID]
}

func (a *adjacency) reset() {
	a.byNode = make(map[string][]EdgeKey)
}

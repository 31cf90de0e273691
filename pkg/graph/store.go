package graph

import (
	"log/slog"
	"math"
	"sort"
	"sync"
)

// Options configures the Store's capacity and eviction behavior. The
// scoring weights are empirically chosen and therefore configuration,
// not constants.
type Options struct {
	// MaxNodes is the global node budget. The store never holds more
	// than this many nodes after a public operation returns.
	MaxNodes int `yaml:"max_nodes"`

	// ProtectTop is how many of the highest-importance nodes survive
	// every importance-based eviction pass, so rapid zoom-outs never
	// blank the screen.
	ProtectTop int `yaml:"protect_top"`

	// DegreeWeight scales the log(1+degree) term of the importance score.
	DegreeWeight float64 `yaml:"degree_weight"`

	// CenterBonus is the distance cutoff C in max(0, C - d): nodes
	// farther than C data units from the viewport center get no
	// proximity credit.
	CenterBonus float64 `yaml:"center_bonus"`

	// CompactPositions stores coordinates as float16, halving position
	// memory. Display-precision only; queries keep full precision.
	CompactPositions bool `yaml:"compact_positions"`
}

// DefaultOptions returns the store configuration used when none is given.
func DefaultOptions() Options {
	return Options{
		MaxNodes:     5000,
		ProtectTop:   100,
		DegreeWeight: 10,
		CenterBonus:  50,
	}
}

// MergeStats reports what one MergeBatch call actually changed.
type MergeStats struct {
	NodesAdded    int
	NodesSkipped  int
	EdgesAdded    int
	EdgesSkipped  int
	EdgesDangling int
	Evicted       int
}

// Store is the memory-bounded node/edge set currently materialized on the
// client side of the query layer. All methods are safe for concurrent use.
type Store struct {
	opts Options
	log  *slog.Logger

	mu       sync.RWMutex
	nodes    map[string]*nodeRec
	edges    map[EdgeKey]Edge
	adj      adjacency
	centerX  float64
	centerY  float64
	backbone int // backbone edge count
	extra    int // extra edge count
	evicted  uint64

	dispatch dispatcher
}

// NewStore creates an empty store with the given budget and scoring
// options. Zero or negative MaxNodes falls back to the default budget.
func NewStore(opts Options, log *slog.Logger) *Store {
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = DefaultOptions().MaxNodes
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		opts:  opts,
		log:   log,
		nodes: make(map[string]*nodeRec),
		edges: make(map[EdgeKey]Edge),
		adj:   newAdjacency(),
	}
}

// Subscribe registers a change-event receiver with the given channel
// buffer. Close the returned subscription when done.
func (s *Store) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 256
	}
	return s.dispatch.subscribe(s, buffer)
}

func (s *Store) unsubscribe(id int) { s.dispatch.unsubscribe(id) }

// SetViewportCenter updates the reference point for importance scoring.
// The engine calls this on every applied viewport change.
func (s *Store) SetViewportCenter(x, y float64) {
	s.mu.Lock()
	s.centerX, s.centerY = x, y
	s.mu.Unlock()
}

// NodeCount returns the number of materialized nodes.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// EdgeCount returns backbone and extra edge counts.
func (s *Store) EdgeCount() (backbone, extra int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backbone, s.extra
}

// EvictedTotal returns how many nodes have been evicted over the store's
// lifetime (for the stats overlay).
func (s *Store) EvictedTotal() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evicted
}

// RemainingCapacity is how many more nodes fit under the budget.
func (s *Store) RemainingCapacity() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n := s.opts.MaxNodes - len(s.nodes); n > 0 {
		return n
	}
	return 0
}

// Node returns the node with the given id, if materialized.
func (s *Store) Node(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	return rec.materialize(), true
}

// Has reports whether the node is materialized.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[id]
	return ok
}

// EdgesOf returns the edges incident to the node, served from the
// adjacency index without touching the query layer.
func (s *Store) EdgesOf(nodeID string) []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.adj.of(nodeID)
	if len(keys) == 0 {
		return nil
	}
	out := make([]Edge, 0, len(keys))
	for _, k := range keys {
		if e, ok := s.edges[k]; ok {
			out = append(out, e)
		}
	}
	return out
}

// VisibleIDs returns the ids of all nodes inside the box.
func (s *Store) VisibleIDs(minX, maxX, minY, maxY float64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, rec := range s.nodes {
		x, y := rec.pos()
		if x >= minX && x <= maxX && y >= minY && y <= maxY {
			ids = append(ids, id)
		}
	}
	return ids
}

// Snapshot returns copies of all current nodes and edges, for syncing a
// freshly attached renderer.
func (s *Store) Snapshot() ([]Node, []Edge) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := make([]Node, 0, len(s.nodes))
	for _, rec := range s.nodes {
		nodes = append(nodes, rec.materialize())
	}
	edges := make([]Edge, 0, len(s.edges))
	for _, e := range s.edges {
		edges = append(edges, e)
	}
	return nodes, edges
}

// MergeBatch inserts one atomic unit of nodes plus the backbone edges
// among them. Re-adding an existing node or edge is a no-op. Edges whose
// endpoints are not both materialized are dropped and counted. If the
// batch pushes the store over its budget, an importance-based eviction
// runs before MergeBatch returns, so the capacity invariant holds at
// every public-operation boundary.
func (s *Store) MergeBatch(nodes []Node, edges []Edge) MergeStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st MergeStats
	for _, n := range nodes {
		if _, exists := s.nodes[n.ID]; exists {
			st.NodesSkipped++
			continue
		}
		n.Enrichment = EnrichmentState{HasBackboneEdges: true}
		rec := newNodeRec(n, s.opts.CompactPositions)
		s.nodes[n.ID] = rec
		st.NodesAdded++
		s.dispatch.emit(Event{Type: EventNodeAdded, Node: rec.materialize()})
	}

	for _, e := range edges {
		e.Backbone = true
		st = s.insertEdgeLocked(e, st)
	}

	if len(s.nodes) > s.opts.MaxNodes {
		st.Evicted = s.evictToCapacityLocked()
	}
	return st
}

// MergeExtraEdges adds enrichment edges. Only edges with both endpoints
// materialized are kept; existing edges are left untouched. Returns how
// many edges were added.
func (s *Store) MergeExtraEdges(edges []Edge) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st MergeStats
	for _, e := range edges {
		e.Backbone = false
		st = s.insertEdgeLocked(e, st)
	}
	return st.EdgesAdded
}

func (s *Store) insertEdgeLocked(e Edge, st MergeStats) MergeStats {
	if _, ok := s.nodes[e.Source]; !ok {
		st.EdgesDangling++
		return st
	}
	if _, ok := s.nodes[e.Target]; !ok {
		st.EdgesDangling++
		return st
	}
	k := e.Key()
	if _, exists := s.edges[k]; exists {
		st.EdgesSkipped++
		return st
	}
	s.edges[k] = e
	s.adj.add(k)
	if e.Backbone {
		s.backbone++
	} else {
		s.extra++
	}
	st.EdgesAdded++
	s.dispatch.emit(Event{Type: EventEdgeAdded, Edge: e})
	return st
}

// MarkEnrichmentRequested flags the nodes as having an enrichment fetch
// in flight, so a later dwell does not re-request them.
func (s *Store) MarkEnrichmentRequested(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if rec, ok := s.nodes[id]; ok {
			rec.node.Enrichment.EnrichmentRequested = true
		}
	}
}

// ClearEnrichmentRequested reverses MarkEnrichmentRequested after a
// failed fetch, so a later dwell can retry the same nodes.
func (s *Store) ClearEnrichmentRequested(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if rec, ok := s.nodes[id]; ok {
			rec.node.Enrichment.EnrichmentRequested = false
		}
	}
}

// UnenrichedIn returns up to limit ids of nodes inside the box that
// neither have extra edges nor an enrichment request in flight. The
// dwell enrichment pass feeds on this.
func (s *Store) UnenrichedIn(minX, maxX, minY, maxY float64, limit int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, rec := range s.nodes {
		en := rec.node.Enrichment
		if en.HasExtraEdges || en.EnrichmentRequested {
			continue
		}
		x, y := rec.pos()
		if x < minX || x > maxX || y < minY || y > maxY {
			continue
		}
		ids = append(ids, id)
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids
}

// MarkEnriched applies the per-node flags of an enrichment response,
// moving flagged nodes to the Enriched state. Returns how many nodes
// transitioned.
func (s *Store) MarkEnriched(flags map[string]bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for id, enriched := range flags {
		rec, ok := s.nodes[id]
		if !ok || !enriched || rec.node.Enrichment.HasExtraEdges {
			continue
		}
		rec.node.Enrichment.HasExtraEdges = true
		n++
		s.dispatch.emit(Event{Type: EventNodeUpdated, Node: rec.materialize()})
	}
	return n
}

// score implements the importance function: monotonically increasing in
// degree, decreasing in distance from the viewport center.
func (s *Store) score(rec *nodeRec) float64 {
	x, y := rec.pos()
	d := math.Hypot(x-s.centerX, y-s.centerY)
	return math.Log1p(float64(rec.node.Degree))*s.opts.DegreeWeight + math.Max(0, s.opts.CenterBonus-d)
}

// EvictToCapacity drops the lowest-importance nodes (and their incident
// edges) until the store fits its budget, never touching the ProtectTop
// highest-scoring nodes. Returns the evicted ids.
func (s *Store) EvictToCapacity() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.collectIDsLocked()
	n := s.evictToCapacityLocked()
	if n == 0 {
		return nil
	}
	var gone []string
	for _, id := range before {
		if _, ok := s.nodes[id]; !ok {
			gone = append(gone, id)
		}
	}
	return gone
}

func (s *Store) collectIDsLocked() []string {
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	return ids
}

func (s *Store) evictToCapacityLocked() int {
	excess := len(s.nodes) - s.opts.MaxNodes
	if excess <= 0 {
		return 0
	}

	type scored struct {
		id    string
		score float64
	}
	ranked := make([]scored, 0, len(s.nodes))
	for id, rec := range s.nodes {
		ranked = append(ranked, scored{id: id, score: s.score(rec)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	protect := s.opts.ProtectTop
	if protect > len(ranked) {
		protect = len(ranked)
	}

	// Walk from the low-score end, sparing the protected prefix.
	removed := 0
	for i := len(ranked) - 1; i >= protect && removed < excess; i-- {
		s.removeNodeLocked(ranked[i].id)
		removed++
	}
	if removed > 0 {
		s.log.Debug("evicted nodes to capacity", "removed", removed, "remaining", len(s.nodes))
	}
	return removed
}

// EvictBelowDegree removes every node under the given degree floor, used
// when the LOD coarsens and the new tier no longer shows low-degree
// nodes. Returns how many nodes were removed.
func (s *Store) EvictBelowDegree(minDegree int) int {
	if minDegree <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var victims []string
	for id, rec := range s.nodes {
		if rec.node.Degree < minDegree {
			victims = append(victims, id)
		}
	}
	for _, id := range victims {
		s.removeNodeLocked(id)
	}
	if len(victims) > 0 {
		s.log.Debug("evicted below degree floor", "min_degree", minDegree, "removed", len(victims))
	}
	return len(victims)
}

// removeNodeLocked drops a node, its incident edges, and their adjacency
// entries, emitting removal events in edge-then-node order.
func (s *Store) removeNodeLocked(id string) {
	rec, ok := s.nodes[id]
	if !ok {
		return
	}
	for _, k := range append([]EdgeKey(nil), s.adj.of(id)...) {
		e, ok := s.edges[k]
		if !ok {
			continue
		}
		delete(s.edges, k)
		s.adj.remove(k)
		if e.Backbone {
			s.backbone--
		} else {
			s.extra--
		}
		s.dispatch.emit(Event{Type: EventEdgeRemoved, Edge: e})
	}
	s.adj.dropNode(id)
	delete(s.nodes, id)
	s.evicted++
	s.dispatch.emit(Event{Type: EventNodeRemoved, Node: rec.materialize()})
}

// Clear drops everything and emits a single reset event.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[string]*nodeRec)
	s.edges = make(map[EdgeKey]Edge)
	s.adj.reset()
	s.backbone, s.extra = 0, 0
	s.dispatch.emit(Event{Type: EventReset})
}

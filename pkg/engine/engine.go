// Package engine implements the viewport-driven streaming core: it
// watches the camera, selects a level-of-detail tier, and incrementally
// loads the visible slice of the citation graph into a memory-bounded
// store, cancelling superseded loads and enriching dwelled-on regions
// with extra edges.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/citescape/citescape/pkg/graph"
	"github.com/citescape/citescape/pkg/metrics"
)

// State is the engine's externally visible loading state.
type State string

const (
	StateIdle            State = "idle"
	StateLoading         State = "loading"
	StateRemovingNodes   State = "removing_nodes"
	StateCapacityReached State = "capacity_reached"
)

// Stats is the snapshot served on /api/stats and over the event stream.
type Stats struct {
	Nodes         int     `json:"nodes"`
	BackboneEdges int     `json:"backbone_edges"`
	ExtraEdges    int     `json:"extra_edges"`
	Tier          string  `json:"tier"`
	State         State   `json:"state"`
	CacheHitRatio float64 `json:"cache_hit_ratio"`
	CachedRegions int     `json:"cached_regions"`
	EvictedTotal  uint64  `json:"evicted_total"`
	LoadCycles    uint64  `json:"load_cycles"`
	EnrichCycles  uint64  `json:"enrich_cycles"`
	LastError     string  `json:"last_error,omitempty"`
}

// Engine orchestrates viewport tracking, tier selection, region caching,
// incremental loading and dwell enrichment over one Source and one
// Store. Public methods are safe for concurrent use; internally a single
// mutex serializes all state transitions, so batches merge strictly in
// arrival order.
type Engine struct {
	opts    Options
	src     Source
	store   *graph.Store
	regions *regionCache
	loader  *loader
	log     *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu          sync.Mutex
	bounds      BoundingBox
	pending     Camera
	applied     Camera
	appliedBox  BoundingBox
	haveApplied bool
	tierIdx     int
	state       State
	lastErr     string
	cancelLoad  context.CancelFunc
	loadGen     uint64
	debounce    *time.Timer
	dwell       *time.Timer
	closed      bool

	loadCycles   uint64
	enrichCycles uint64
}

// New creates an engine over the given query layer. Zero-valued option
// fields fall back to defaults.
func New(src Source, opts Options, log *slog.Logger) *Engine {
	opts = opts.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	store := graph.NewStore(opts.Store, log)
	return &Engine{
		opts:       opts,
		src:        src,
		store:      store,
		regions:    newRegionCache(opts.Tiers, opts.RegionTTL.Std(), opts.OverlapFraction),
		loader:     &loader{src: src, store: store, batchSize: opts.BatchSize, log: log},
		log:        log,
		baseCtx:    ctx,
		baseCancel: cancel,
		state:      StateIdle,
	}
}

// Start fetches the dataset bounds once. A failing query layer does not
// prevent startup: the configured fallback box substitutes and the
// failure is logged.
func (e *Engine) Start(ctx context.Context) error {
	b, err := e.src.DatasetBounds(ctx)
	if err != nil || b.Validate() != nil {
		e.log.Warn("dataset bounds unavailable, using fallback",
			"fallback", e.opts.FallbackBounds, "error", err)
		b = e.opts.FallbackBounds
	}
	e.mu.Lock()
	e.bounds = b
	e.mu.Unlock()
	return nil
}

// Store exposes the underlying graph store for snapshotting and event
// subscription by the transport layer.
func (e *Engine) Store() *graph.Store { return e.store }

// Bounds returns the dataset bounds resolved at Start.
func (e *Engine) Bounds() BoundingBox {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bounds
}

// UpdateViewport feeds one camera frame into the engine. Invalid cameras
// are rejected with ErrInvalidBounds and change nothing. Sub-threshold
// jitter against the last applied camera is absorbed without a fetch.
// Significant changes are debounced, so a burst of frames coalesces into
// one load cycle driven by the latest camera.
func (e *Engine) UpdateViewport(cam Camera) error {
	if _, err := ComputeBounds(cam); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	if e.haveApplied &&
		!Significant(e.applied, cam, e.opts.RatioThreshold, e.opts.CenterThreshold) &&
		SelectTier(e.opts.Tiers, cam.Ratio) == e.tierIdx {
		return nil
	}

	e.pending = cam
	if e.opts.Debounce <= 0 {
		e.applyLocked()
		return nil
	}
	if e.debounce == nil {
		e.debounce = time.AfterFunc(e.opts.Debounce.Std(), e.applyPending)
	} else {
		e.debounce.Reset(e.opts.Debounce.Std())
	}
	return nil
}

func (e *Engine) applyPending() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.applyLocked()
}

// applyLocked commits the pending camera: tier selection, coarsening
// eviction, region-cache consultation, load start. Caller holds e.mu.
func (e *Engine) applyLocked() {
	cam := e.pending
	box, err := ComputeBounds(cam)
	if err != nil {
		return
	}
	tierIdx := SelectTier(e.opts.Tiers, cam.Ratio)
	tier := e.opts.Tiers[tierIdx]
	coarsening := e.haveApplied && tierIdx > e.tierIdx

	e.applied, e.appliedBox = cam, box
	e.tierIdx, e.haveApplied = tierIdx, true
	e.store.SetViewportCenter(cam.CenterX, cam.CenterY)

	if coarsening {
		e.state = StateRemovingNodes
		removed := e.store.EvictBelowDegree(tier.MinDegree)
		e.log.Debug("coarsening transition",
			"tier", tier.Name, "min_degree", tier.MinDegree, "removed", removed)
		metrics.NodesEvicted.Add(float64(removed))
	}

	e.regions.ExpireStale()
	if e.regions.Satisfied(box, tierIdx) {
		e.log.Debug("viewport satisfied from region cache", "tier", tier.Name)
		e.state = StateIdle
		e.armDwellLocked()
		e.updateGaugesLocked()
		return
	}
	e.startLoadLocked(box, tier, tierIdx)
}

// startLoadLocked cancels any in-flight load and starts a new one for
// the box. Last writer wins. Caller holds e.mu.
func (e *Engine) startLoadLocked(box BoundingBox, tier Tier, tierIdx int) {
	if e.cancelLoad != nil {
		e.cancelLoad()
	}
	ctx, cancel := context.WithCancel(e.baseCtx)
	e.cancelLoad = cancel
	e.loadGen++
	gen := e.loadGen
	e.state = StateLoading

	go func() {
		defer cancel()
		res := e.loader.run(ctx, box, tier)
		e.finishLoad(gen, box, tierIdx, res)
	}()
}

func (e *Engine) finishLoad(gen uint64, box BoundingBox, tierIdx int, res loadResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.loadCycles++
	metrics.LoadCycles.Inc()
	metrics.LoadPages.Add(float64(res.pages))

	// A superseded load already handed the state machine to its
	// successor; its partial merges stay, nothing else to do.
	if gen != e.loadGen {
		return
	}
	e.cancelLoad = nil

	switch {
	case errors.Is(res.err, context.Canceled):
		// Expected terminal state of an aborted cycle, not an error.
		e.state = StateIdle
	case res.err != nil:
		e.lastErr = res.err.Error()
		e.state = StateIdle
	case res.capacityReached:
		e.state = StateCapacityReached
		e.lastErr = ""
	default:
		e.regions.Record(box, tierIdx)
		e.state = StateIdle
		e.lastErr = ""
	}
	e.armDwellLocked()
	e.updateGaugesLocked()
}

// armDwellLocked (re)starts the dwell countdown. It runs after every
// applied viewport and every finished load, so enrichment fires only on
// a still viewport with no load in flight.
func (e *Engine) armDwellLocked() {
	d := e.opts.DwellDelay.Std()
	if e.dwell == nil {
		e.dwell = time.AfterFunc(d, e.onDwell)
	} else {
		e.dwell.Reset(d)
	}
}

func (e *Engine) onDwell() {
	e.mu.Lock()
	if e.closed || !e.haveApplied || e.state == StateLoading {
		e.mu.Unlock()
		return
	}
	tier := e.opts.Tiers[e.tierIdx]
	if !tier.LoadEdges {
		// The coarsest tier draws no edges; enriching it is wasted work.
		e.mu.Unlock()
		return
	}
	box := e.appliedBox
	ids := e.store.UnenrichedIn(box.MinX, box.MaxX, box.MinY, box.MaxY, e.opts.MaxEnrichNodes)
	if len(ids) == 0 {
		e.mu.Unlock()
		return
	}
	e.store.MarkEnrichmentRequested(ids)
	e.enrichCycles++
	ctx := e.baseCtx
	e.mu.Unlock()

	metrics.EnrichCycles.Inc()
	go e.runEnrich(ctx, ids)
}

func (e *Engine) runEnrich(ctx context.Context, ids []string) {
	edges, flags, err := e.src.FetchExtraEdgesForNodes(ctx, ids, e.opts.MaxExtraEdges)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		e.log.Warn("enrichment fetch failed", "nodes", len(ids), "error", err)
		// Unmark so a later dwell can retry.
		e.store.ClearEnrichmentRequested(ids)
		e.mu.Lock()
		e.lastErr = err.Error()
		e.mu.Unlock()
		return
	}
	added := e.store.MergeExtraEdges(edges)
	enriched := e.store.MarkEnriched(flags)
	e.log.Debug("enrichment applied",
		"nodes_named", len(ids), "edges_added", added, "nodes_enriched", enriched)

	e.mu.Lock()
	e.updateGaugesLocked()
	e.mu.Unlock()
}

func (e *Engine) updateGaugesLocked() {
	b, x := e.store.EdgeCount()
	metrics.GraphNodes.Set(float64(e.store.NodeCount()))
	metrics.GraphEdges.WithLabelValues("backbone").Set(float64(b))
	metrics.GraphEdges.WithLabelValues("extra").Set(float64(x))
	metrics.RegionCacheHitRatio.Set(e.regions.HitRatio())
}

// Stats returns a snapshot of the engine's observable state.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	st := Stats{
		Tier:         e.opts.Tiers[e.tierIdx].Name,
		State:        e.state,
		LastError:    e.lastErr,
		LoadCycles:   e.loadCycles,
		EnrichCycles: e.enrichCycles,
	}
	e.mu.Unlock()

	st.Nodes = e.store.NodeCount()
	st.BackboneEdges, st.ExtraEdges = e.store.EdgeCount()
	st.EvictedTotal = e.store.EvictedTotal()
	st.CacheHitRatio = e.regions.HitRatio()
	st.CachedRegions = e.regions.Len()
	return st
}

// Close cancels any in-flight work and stops the timers. The engine
// accepts no further viewports.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	if e.debounce != nil {
		e.debounce.Stop()
	}
	if e.dwell != nil {
		e.dwell.Stop()
	}
	if e.cancelLoad != nil {
		e.cancelLoad()
		e.cancelLoad = nil
	}
	e.mu.Unlock()
	e.baseCancel()
	return nil
}

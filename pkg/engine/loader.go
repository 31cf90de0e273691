package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/citescape/citescape/pkg/graph"
	"github.com/google/uuid"
)

// Source is the query layer the engine streams from. Implementations
// live in pkg/source; tests use in-package fakes. All methods honor
// context cancellation.
type Source interface {
	// DatasetBounds returns the bounding box of the whole dataset.
	DatasetBounds(ctx context.Context) (BoundingBox, error)

	// FetchNodesInBox returns one page of nodes inside the box with
	// degree >= minDegree, ordered by degree descending. maxNodes is
	// the tier's total cap, offset/limit the page window.
	FetchNodesInBox(ctx context.Context, box BoundingBox, maxNodes, minDegree, offset, limit int) ([]graph.Node, error)

	// FetchBackboneEdgesForNodes returns the backbone edges whose
	// endpoints are BOTH in ids.
	FetchBackboneEdgesForNodes(ctx context.Context, ids []string) ([]graph.Edge, error)

	// FetchExtraEdgesForNodes returns up to maxEdges non-backbone edges
	// touching any of ids, heaviest first, plus per-node flags saying
	// which of ids now count as enriched.
	FetchExtraEdgesForNodes(ctx context.Context, ids []string, maxEdges int) ([]graph.Edge, map[string]bool, error)
}

// loadResult is what one load cycle produced.
type loadResult struct {
	pages           int
	nodesMerged     int
	capacityReached bool
	err             error
}

// loader pages nodes out of the source and merges each page, with its
// backbone edges, into the store as one atomic unit.
type loader struct {
	src       Source
	store     *graph.Store
	batchSize int
	log       *slog.Logger
}

// run executes one load cycle for the box at the given tier. It stops on
// a short page (region exhausted), on the tier's node cap, when a merge
// had to evict (budget reached, loading more would only churn), or on
// ctx cancellation. A failed page keeps everything merged so far and
// returns the error without retrying.
func (l *loader) run(ctx context.Context, box BoundingBox, tier Tier) loadResult {
	cycle := uuid.NewString()[:8]
	log := l.log.With("cycle", cycle, "tier", tier.Name)
	log.Debug("load cycle start",
		"box", []float64{box.MinX, box.MinY, box.MaxX, box.MaxY},
		"max_nodes", tier.MaxNodes)

	var res loadResult
	for offset := 0; ; {
		limit := l.batchSize
		if remaining := tier.MaxNodes - offset; remaining < limit {
			limit = remaining
		}
		if limit <= 0 {
			break
		}

		nodes, err := l.src.FetchNodesInBox(ctx, box, tier.MaxNodes, tier.MinDegree, offset, limit)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Debug("load cycle cancelled", "pages", res.pages)
			} else {
				log.Error("node page fetch failed", "offset", offset, "error", err)
			}
			res.err = err
			return res
		}
		if len(nodes) == 0 {
			break
		}

		var edges []graph.Edge
		if tier.LoadEdges {
			ids := make([]string, len(nodes))
			for i, n := range nodes {
				ids[i] = n.ID
			}
			edges, err = l.src.FetchBackboneEdgesForNodes(ctx, ids)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Error("backbone edge fetch failed", "offset", offset, "error", err)
				}
				res.err = err
				return res
			}
		}

		// A cancelled load must not merge pages it fetched after the
		// cancel point.
		if err := ctx.Err(); err != nil {
			log.Debug("load cycle cancelled", "pages", res.pages)
			res.err = err
			return res
		}

		st := l.store.MergeBatch(nodes, edges)
		res.pages++
		res.nodesMerged += st.NodesAdded
		if st.Evicted > 0 {
			res.capacityReached = true
			log.Info("node budget reached mid-load", "evicted", st.Evicted, "pages", res.pages)
			break
		}
		if len(nodes) < limit {
			break
		}
		offset += len(nodes)
	}

	log.Debug("load cycle done",
		"pages", res.pages, "nodes_merged", res.nodesMerged, "capacity_reached", res.capacityReached)
	return res
}

package engine

import (
	"fmt"
	"time"

	"github.com/citescape/citescape/pkg/graph"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can use "275ms" style
// strings instead of raw nanosecond integers.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Options holds every tunable of the streaming engine. All values here
// are empirically chosen, so they live in configuration rather than as
// constants in the code.
type Options struct {
	// Tiers is the level-of-detail table, finest first. Empty means
	// DefaultTiers.
	Tiers []Tier `yaml:"tiers"`

	// Store configures the node budget and eviction scoring.
	Store graph.Options `yaml:"store"`

	// Debounce delays viewport application so a stream of camera frames
	// coalesces into one fetch cycle. Zero applies synchronously (tests).
	Debounce Duration `yaml:"debounce"`

	// DwellDelay is how long the viewport must stay still before edge
	// enrichment fires.
	DwellDelay Duration `yaml:"dwell_delay"`

	// RegionTTL is how long a loaded region satisfies repeat visits.
	RegionTTL Duration `yaml:"region_ttl"`

	// OverlapFraction is the minimum cached-region overlap, measured
	// against the smaller box's area, that counts as covered.
	OverlapFraction float64 `yaml:"overlap_fraction"`

	// BatchSize is the node page size of the incremental loader.
	BatchSize int `yaml:"batch_size"`

	// MaxExtraEdges caps one enrichment response.
	MaxExtraEdges int `yaml:"max_extra_edges"`

	// MaxEnrichNodes caps how many visible nodes one dwell names.
	MaxEnrichNodes int `yaml:"max_enrich_nodes"`

	// RatioThreshold and CenterThreshold define what counts as a
	// significant viewport change (relative zoom delta, center shift as
	// a fraction of viewport width).
	RatioThreshold  float64 `yaml:"ratio_threshold"`
	CenterThreshold float64 `yaml:"center_threshold"`

	// FallbackBounds is used when the query layer cannot report dataset
	// bounds at startup.
	FallbackBounds BoundingBox `yaml:"fallback_bounds"`
}

// DefaultOptions returns the engine configuration used when no config
// file overrides it.
func DefaultOptions() Options {
	return Options{
		Tiers:           DefaultTiers(),
		Store:           graph.DefaultOptions(),
		Debounce:        Duration(275 * time.Millisecond),
		DwellDelay:      Duration(1000 * time.Millisecond),
		RegionTTL:       Duration(30 * time.Second),
		OverlapFraction: 0.30,
		BatchSize:       100,
		MaxExtraEdges:   500,
		MaxEnrichNodes:  200,
		RatioThreshold:  0.10,
		CenterThreshold: 0.10,
		FallbackBounds:  BoundingBox{MinX: -100, MaxX: 100, MinY: -100, MaxY: 100},
	}
}

// withDefaults fills zero-valued fields so a partial YAML config works.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if len(o.Tiers) == 0 {
		o.Tiers = def.Tiers
	}
	if o.Store.MaxNodes <= 0 {
		o.Store = def.Store
	}
	if o.DwellDelay <= 0 {
		o.DwellDelay = def.DwellDelay
	}
	if o.RegionTTL <= 0 {
		o.RegionTTL = def.RegionTTL
	}
	if o.OverlapFraction <= 0 {
		o.OverlapFraction = def.OverlapFraction
	}
	if o.BatchSize <= 0 {
		o.BatchSize = def.BatchSize
	}
	if o.MaxExtraEdges <= 0 {
		o.MaxExtraEdges = def.MaxExtraEdges
	}
	if o.MaxEnrichNodes <= 0 {
		o.MaxEnrichNodes = def.MaxEnrichNodes
	}
	if o.RatioThreshold <= 0 {
		o.RatioThreshold = def.RatioThreshold
	}
	if o.CenterThreshold <= 0 {
		o.CenterThreshold = def.CenterThreshold
	}
	if o.FallbackBounds.Validate() != nil {
		o.FallbackBounds = def.FallbackBounds
	}
	return o
}

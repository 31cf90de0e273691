package engine

// Tier is one level-of-detail band. Tiers are ordered finest first; a
// tier matches when the camera ratio is below its Ceil, and the last
// tier (Ceil <= 0, unbounded) catches everything coarser.
type Tier struct {
	Name string `yaml:"name"`

	// Ceil is the exclusive upper ratio bound; <= 0 means unbounded.
	Ceil float64 `yaml:"ceil"`

	// MaxNodes caps how many nodes one viewport fetch may bring in at
	// this tier.
	MaxNodes int `yaml:"max_nodes"`

	// MinDegree filters out low-degree nodes at coarse zoom.
	MinDegree int `yaml:"min_degree"`

	// LoadEdges disables backbone edge loading at the coarsest zoom,
	// where edges are visual noise.
	LoadEdges bool `yaml:"load_edges"`

	// Quantum is the region-cache cell size at this tier.
	Quantum float64 `yaml:"quantum"`
}

// DefaultTiers returns the built-in three-band table. All values are
// empirical and overridable via configuration.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "detail", Ceil: 0.5, MaxNodes: 5000, MinDegree: 0, LoadEdges: true, Quantum: 0.5},
		{Name: "medium", Ceil: 2.0, MaxNodes: 2000, MinDegree: 5, LoadEdges: true, Quantum: 2.0},
		{Name: "overview", Ceil: 0, MaxNodes: 300, MinDegree: 10, LoadEdges: false, Quantum: 8.0},
	}
}

// SelectTier maps a camera ratio to a tier index. The table is scanned in
// order, so overlapping ceilings resolve to the finest matching tier.
func SelectTier(tiers []Tier, ratio float64) int {
	for i, t := range tiers {
		if t.Ceil <= 0 || ratio < t.Ceil {
			return i
		}
	}
	return len(tiers) - 1
}

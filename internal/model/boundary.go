package model

// Boundary is the trust perimeter at which data is processed before
// aggregation. LOCAL keeps raw data on-device, SHUFFLE anonymizes transport,
// CENTRAL exposes raw data to the aggregator.
type Boundary string

const (
	BoundaryLocal   Boundary = "LOCAL"
	BoundaryShuffle Boundary = "SHUFFLE"
	BoundaryCentral Boundary = "CENTRAL"
)

// Boundaries lists all boundaries in rising exposure order (LOCAL safest).
var Boundaries = []Boundary{BoundaryLocal, BoundaryShuffle, BoundaryCentral}

// Rank orders boundaries by exposure. Lower is safer.
func (b Boundary) Rank() int {
	switch b {
	case BoundaryLocal:
		return 0
	case BoundaryShuffle:
		return 1
	case BoundaryCentral:
		return 2
	default:
		return 3
	}
}

// Valid reports whether b is a known boundary.
func (b Boundary) Valid() bool {
	return b == BoundaryLocal || b == BoundaryShuffle || b == BoundaryCentral
}

// Granularity is the resolution of a release. ITEM is per-entity, CLUSTER is
// grouped, AGGREGATE is fully summarized.
type Granularity string

const (
	GranularityItem      Granularity = "ITEM"
	GranularityCluster   Granularity = "CLUSTER"
	GranularityAggregate Granularity = "AGGREGATE"
)

// Granularities lists all granularities from finest to coarsest.
var Granularities = []Granularity{GranularityItem, GranularityCluster, GranularityAggregate}

// Rank orders granularities by coarseness. Higher is coarser (safer).
func (g Granularity) Rank() int {
	switch g {
	case GranularityItem:
		return 0
	case GranularityCluster:
		return 1
	case GranularityAggregate:
		return 2
	default:
		return -1
	}
}

// Valid reports whether g is a known granularity.
func (g Granularity) Valid() bool {
	return g.Rank() >= 0
}

// AtLeast reports whether g is at least as coarse as min.
func (g Granularity) AtLeast(min Granularity) bool {
	return g.Rank() >= min.Rank()
}

// Downgrades returns the strictly coarser granularities in order.
// ITEM→[CLUSTER, AGGREGATE], CLUSTER→[AGGREGATE], AGGREGATE→[].
func (g Granularity) Downgrades() []Granularity {
	switch g {
	case GranularityItem:
		return []Granularity{GranularityCluster, GranularityAggregate}
	case GranularityCluster:
		return []Granularity{GranularityAggregate}
	default:
		return nil
	}
}

// Coarsest returns the coarsest granularity in grans, or AGGREGATE when empty.
func Coarsest(grans []Granularity) Granularity {
	if len(grans) == 0 {
		return GranularityAggregate
	}
	out := grans[0]
	for _, g := range grans[1:] {
		if g.Rank() > out.Rank() {
			out = g
		}
	}
	return out
}

// Finest returns the finest granularity in grans, or AGGREGATE when empty.
func Finest(grans []Granularity) Granularity {
	if len(grans) == 0 {
		return GranularityAggregate
	}
	out := grans[0]
	for _, g := range grans[1:] {
		if g.Rank() < out.Rank() {
			out = g
		}
	}
	return out
}

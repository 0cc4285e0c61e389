// Package placement declares the client interfaces the background
// control plane calls upstream into (spec §6 "Upstream"): the
// placement service, which hands out timestamps and region-label
// rules, and the region-information provider, which resolves a byte
// range to the regions that cover it.
//
// Grounded on the teacher's cluster.Bowner/Sowner interfaces
// (cluster/bowner.go-style read-only accessor interfaces the rest of
// aistore calls into without knowing the concrete implementation) and
// on notifications/listener.go's subscription shape for watch-style
// APIs.
package placement

import (
	"context"
	"time"
)

// Timestamp is a hybrid logical clock reading, composed of a physical
// (wall-clock millis) component and a logical tie-breaker, the way
// spec §6's TSO ("timestamp oracle") hands them out.
type Timestamp struct {
	Physical int64
	Logical  int64
}

// Compose packs a physical-millis component and a zero logical
// component into the uint64 safe-point space the GC filter and region
// manager operate on (spec §4.5 "compose(now.physical - gc_interval_ms,
// 0)", §4.6 "compose(ts.physical − gc_interval_ms, 0)").
func Compose(physicalMillis int64, logical uint64) uint64 {
	if physicalMillis < 0 {
		physicalMillis = 0
	}
	return uint64(physicalMillis)<<18 | (logical & 0x3ffff)
}

// LabelRule is one rule yielded by WatchRegionLabels (spec §4.7).
// Labels tag what the rule applies to (e.g. {key:"cache", value:"always"});
// Data is the list of hex-encoded key-range boundaries the rule covers.
type LabelRule struct {
	Labels []Label
	Data   []HexRange
}

type Label struct {
	Key   string
	Value string
}

type HexRange struct {
	StartHex string
	EndHex   string
}

// Region is one region-information-provider result: a region id plus
// the key range it currently covers (spec §6 "get_regions_in_range").
type Region struct {
	ID    uint64
	Start []byte
	End   []byte
}

// Service is the placement-service client (spec §6 Upstream).
// GetTSO must be safe to call with a caller-supplied deadline; callers
// are responsible for applying the tso_timeout = min(gc_interval, 5s)
// tunable (spec §6) via the context.
type Service interface {
	GetTSO(ctx context.Context) (Timestamp, error)
	// WatchRegionLabels streams label rules until ctx is canceled. The
	// Hint Watcher (C7) range-loops over the returned channel; a closed
	// channel with no error ends the subscription.
	WatchRegionLabels(ctx context.Context) (<-chan LabelRule, <-chan error)
}

// RegionInfoProvider resolves a byte-key range to the regions known to
// cover it (spec §6 "Region-information provider").
type RegionInfoProvider interface {
	GetRegionsInRange(ctx context.Context, start, end []byte) ([]Region, error)
}

// TSOTimeout is the tso_timeout tunable: min(gcInterval, 5s) (spec §6
// "Tunables").
func TSOTimeout(gcInterval time.Duration) time.Duration {
	const maxTimeout = 5 * time.Second
	if gcInterval < maxTimeout {
		return gcInterval
	}
	return maxTimeout
}

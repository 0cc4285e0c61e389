// Package core wires every component (Memory Controller, Region
// Manager, MVCC GC Filter, Delete-Range Runner, Background Runner,
// Tick Driver, Hint Watcher, Work Manager) into one embeddable engine,
// the way the teacher's cluster/node.go constructs and starts aistore's
// subsystems from one Config at process startup.
package core

import "time"

// Config groups every tunable spec §6 names, following the teacher's
// grouped cmn.Config convention (SPEC_FULL §2.3).
type Config struct {
	GcInterval          time.Duration
	LoadEvictInterval    time.Duration
	ExpectedRegionSize   int64
	SoftLimitThreshold   int64
	HardLimitThreshold   int64
	EvictMinDuration     time.Duration
	HistoricalRangeTTL   time.Duration

	DefaultWriteBatchSplit int
	WriteBatchMaxBatches   int

	Pools PoolConfig
}

// PoolConfig sizes the Background Runner's four worker pools.
type PoolConfig struct {
	RangeLoadConcurrency int
	GcConcurrency        int
	LoadEvictConcurrency int
	LockCleanConcurrency int
}

// DefaultConfig mirrors the teacher's pattern of a zero-config-friendly
// constructor with sane defaults the embedder overrides selectively.
func DefaultConfig() Config {
	return Config{
		GcInterval:             time.Minute,
		LoadEvictInterval:      30 * time.Second,
		ExpectedRegionSize:     96 << 20, // 96MiB, a typical range-engine region size
		SoftLimitThreshold:     1 << 30,  // 1GiB
		HardLimitThreshold:     2 << 30,  // 2GiB
		EvictMinDuration:       10 * time.Minute,
		HistoricalRangeTTL:     10 * time.Minute,
		DefaultWriteBatchSplit: 16,
		WriteBatchMaxBatches:   16,
		Pools: PoolConfig{
			RangeLoadConcurrency: 1,
			GcConcurrency:        1,
			LoadEvictConcurrency: 4,
			LockCleanConcurrency: 2,
		},
	}
}

// Package constants holds the default geometry, pool, and timing
// constants shared across ZTL layers.
package constants

import "time"

// Alignment and geometry defaults.
const (
	// ZNSAlignment is the required alignment, in bytes, for every buffer
	// and size passed across the public façade.
	ZNSAlignment = 4096

	// DefaultSectorSize is the default device logical sector size.
	DefaultSectorSize = 512

	// DefaultSectorsPerZone matches the scenario fixtures in spec.md §8 (S1-S6).
	DefaultSectorsPerZone = 100_000

	// DefaultZonesPerGroup matches the scenario fixtures in spec.md §8.
	DefaultZonesPerGroup = 512

	// DefaultNumGroups matches the scenario fixtures in spec.md §8.
	DefaultNumGroups = 8

	// DefaultPUnitsPerGroup is the number of parallel units backing one group.
	DefaultPUnitsPerGroup = 1
)

// Memory-pool bounds.
const (
	// MaxThreads bounds the tid dimension of every mempool bucket.
	MaxThreads = 64

	// ProTypes bounds the workload-level dimension used by provisioning
	// open-zone lists and the mempool's provisioning-ctx bucket.
	ProTypes = 64

	// ProStripeWidth is the maximum number of zones a single PRO.get call
	// may stripe a request across.
	ProStripeWidth = 32

	// DefaultMempoolEntries is the default bucket size for mcmd/ctx pools.
	DefaultMempoolEntries = 32
)

// Timing constants.
//
// These model the cooperative sleep-and-retry discipline spec.md §5
// requires at the memory-pool and WCA-writer suspension points: no
// blocking primitive is assumed to exist below the pool/queue boundary,
// so both retry on a short fixed interval instead.
const (
	// MempoolRetryInterval is how long Pool.Get sleeps between polls of
	// an exhausted bucket.
	MempoolRetryInterval = time.Millisecond

	// WCAPollInterval is how long the write-caller loop sleeps when its
	// inbox is empty.
	WCAPollInterval = time.Millisecond

	// TelemetryFlushInterval is the cadence at which internal/telemetry
	// dumps gauges to the file sink and resets its counters.
	TelemetryFlushInterval = time.Second

	// CTXDrainTimeout bounds how long CTX.Exit waits for in-flight
	// commands to drain before reporting a timeout error.
	CTXDrainTimeout = 5 * time.Second
)

// TUser is the default workload level used by the façade's write path.
const TUser = 0

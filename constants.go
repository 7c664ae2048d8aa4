package ztl

import "github.com/ipicoli/ztl-go/internal/constants"

// Re-export constants for public API
const (
	ZNSAlignment          = constants.ZNSAlignment
	DefaultSectorSize     = constants.DefaultSectorSize
	DefaultSectorsPerZone = constants.DefaultSectorsPerZone
	DefaultZonesPerGroup  = constants.DefaultZonesPerGroup
	DefaultNumGroups      = constants.DefaultNumGroups
	DefaultPUnitsPerGroup = constants.DefaultPUnitsPerGroup
	MaxThreads            = constants.MaxThreads
	DefaultMempoolEntries = constants.DefaultMempoolEntries
)

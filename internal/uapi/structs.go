// Package uapi defines the wire-level data model shared across the ZTL:
// the packed media address, device geometry, and the zone-report blob
// returned by the media's REPORT zone-mgmt opcode.
package uapi

import "fmt"

// Addr is the 64-bit packed media address (`maddr`): {group, punit, zone,
// sector}. Bit layout, from the high bit down:
//
//	[63:60] group   (4 bits,  up to 16 groups)
//	[59:56] punit   (4 bits,  up to 16 parallel units per group)
//	[55:40] zone    (16 bits, up to 65536 zones per punit)
//	[39:0]  sector  (40 bits, up to 2^40 sectors)
//
// Addr is a value type; Raw/FromRaw give the two equivalent views spec.md
// §3 requires.
type Addr struct {
	Group  uint8
	PUnit  uint8
	Zone   uint32
	Sector uint64
}

const (
	sectorBits = 40
	zoneBits   = 16
	punitBits  = 4
	groupBits  = 4

	sectorMask = (uint64(1) << sectorBits) - 1
	zoneMask   = (uint64(1) << zoneBits) - 1
	punitMask  = (uint64(1) << punitBits) - 1
	groupMask  = (uint64(1) << groupBits) - 1

	zoneShift  = sectorBits
	punitShift = sectorBits + zoneBits
	groupShift = sectorBits + zoneBits + punitBits
)

// Raw packs the address into its 64-bit wire representation.
func (a Addr) Raw() uint64 {
	return (uint64(a.Group&uint8(groupMask)) << groupShift) |
		(uint64(a.PUnit&uint8(punitMask)) << punitShift) |
		(uint64(a.Zone)&zoneMask)<<zoneShift |
		(a.Sector & sectorMask)
}

// AddrFromRaw unpacks a 64-bit wire value into its structured field view.
func AddrFromRaw(raw uint64) Addr {
	return Addr{
		Group:  uint8((raw >> groupShift) & groupMask),
		PUnit:  uint8((raw >> punitShift) & punitMask),
		Zone:   uint32((raw >> zoneShift) & zoneMask),
		Sector: raw & sectorMask,
	}
}

func (a Addr) String() string {
	return fmt.Sprintf("maddr{grp=%d punit=%d zone=%d sector=%d}", a.Group, a.PUnit, a.Zone, a.Sector)
}

// Geometry holds the immutable per-device constants (`mgeo`).
type Geometry struct {
	NumGroups      uint32
	PUnitsPerGroup uint32
	ZonesPerPUnit  uint32
	SectorsPerZone uint64
	SectorSize     uint32
	OOBSize        uint32
}

// SectorsPerGroup is the derived sec_grp constant from spec.md §3.
func (g Geometry) SectorsPerGroup() uint64 {
	return uint64(g.ZonesPerPUnit) * uint64(g.PUnitsPerGroup) * g.SectorsPerZone
}

// ZoneBaseSector returns sec_grp·grp + sec_zn·zoneIdx, the formula
// ZMD.create uses to place every zone's base address (spec.md §4.3).
func (g Geometry) ZoneBaseSector(group uint32, zoneIdx uint32) uint64 {
	return g.SectorsPerGroup()*uint64(group) + g.SectorsPerZone*uint64(zoneIdx)
}

// ZoneState is the lifecycle state a zone descriptor reports.
type ZoneState uint8

const (
	ZoneStateEmpty ZoneState = iota
	ZoneStateOpen
	ZoneStateFull
	ZoneStateOffline
)

// ZoneDescriptor is one entry of a zone-mgmt REPORT response.
type ZoneDescriptor struct {
	Addr          Addr
	Capacity      uint64
	WritePointer  uint64
	State         ZoneState
}

// ZoneReport is the blob a media's zone-mgmt REPORT opcode returns; ZMD.load
// consumes this to decide whether to run ZMD.create (spec.md §4.3).
type ZoneReport struct {
	// Fresh is true when the device has never been reported before (the
	// "magic byte" signal from spec.md §4.3 telling the caller to run
	// ZMD.create rather than trust the descriptors as authoritative).
	Fresh bool
	Zones []ZoneDescriptor
}

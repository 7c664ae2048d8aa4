// Package mapping implements the logical-id→physical-address table (MAP /
// MPE, spec.md §4.4): a flat array sized by the maximum logical id, with a
// CAS-based upsert that returns the exact predecessor value.
package mapping

import (
	"sync/atomic"

	"github.com/ipicoli/ztl-go/internal/zerrors"
)

// validBit is map_entry's flag bit (spec.md §3/§4.4: logical id →
// {physical_addr: 63 bits, flag: 1 bit}). It occupies the same position as
// the top bit of uapi.Addr's group field, so an entry's stored address is
// narrowed to 63 bits here — a zone address with group's top bit set loses
// that bit through this table (irrelevant at this repo's group counts, all
// ≤ 8, i.e. 3 bits). Without this flag, a logical id legitimately mapped to
// physical address 0 (group 0 / punit 0 / zone 0 / sector 0, whose Raw() is
// 0) would be indistinguishable from an id that was never mapped.
const validBit = uint64(1) << 63
const addrMask = validBit - 1

// Table is a flat logical-id→physical-address map. Entries are raw
// uapi.Addr values packed via Addr.Raw() with validBit set, stored as
// atomic.Uint64 so upsert can CAS without a per-row lock.
type Table struct {
	entries []atomic.Uint64
}

// New allocates a table sized for logical ids in [0, maxID).
func New(maxID uint64) *Table {
	return &Table{entries: make([]atomic.Uint64, maxID)}
}

// addrOf returns raw's address portion, or 0 if its flag bit is clear
// (unset) — the plain "stored value (0 if unset)" spec.md §4.4 describes.
func addrOf(raw uint64) uint64 {
	if raw&validBit == 0 {
		return 0
	}
	return raw & addrMask
}

// Upsert atomically replaces the entry at id with newVal and flag, and
// returns the value it held immediately before the replacement (0 if
// unset or its flag was clear). The CAS loop guarantees the returned
// oldVal is the exact predecessor of newVal, even under concurrent
// upserts to the same id — the loop retries against whatever value won
// the race, so the reported oldVal always matches what this call
// actually overwrote.
func (t *Table) Upsert(id uint64, newVal uint64, flag bool) (oldVal uint64, err error) {
	if id >= uint64(len(t.entries)) {
		return 0, zerrors.New("mapping.Upsert", zerrors.MPOutOfBounds, "logical id out of range")
	}
	stored := newVal & addrMask
	if flag {
		stored |= validBit
	}
	row := &t.entries[id]
	for {
		old := row.Load()
		if row.CompareAndSwap(old, stored) {
			return addrOf(old), nil
		}
	}
}

// Read returns the value stored at id (0 if unset, per spec.md §4.4),
// alongside ok reporting whether id's flag bit is actually set — the only
// way to tell "mapped to address 0" apart from "never mapped", since both
// report the same addr.
func (t *Table) Read(id uint64) (addr uint64, ok bool, err error) {
	if id >= uint64(len(t.entries)) {
		return 0, false, zerrors.New("mapping.Read", zerrors.MPOutOfBounds, "logical id out of range")
	}
	raw := t.entries[id].Load()
	return addrOf(raw), raw&validBit != 0, nil
}

// Len returns the number of logical ids this table can address.
func (t *Table) Len() int { return len(t.entries) }

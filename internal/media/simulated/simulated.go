// Package simulated implements a pure-Go, in-memory ZNS device satisfying
// the media.Media interface. It generalizes the sharded-lock RAM backend
// pattern (one mutex per region, locked only for the region touched) to an
// array of zones, each with its own mutex and append-only write pointer,
// and delivers SubmitIO completions asynchronously from a per-tid worker
// goroutine rather than inline, so CTX/WCA completion plumbing is
// genuinely exercised concurrently.
package simulated

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"github.com/ipicoli/ztl-go/internal/constants"
	"github.com/ipicoli/ztl-go/internal/media"
	"github.com/ipicoli/ztl-go/internal/uapi"
	"github.com/ipicoli/ztl-go/internal/zerrors"
)

type zone struct {
	mu       sync.Mutex
	data     []byte
	capacity uint64 // sectors
	wptr     uint64 // sectors written from zone base, i.e. offset into data
	state    uapi.ZoneState
}

type zoneKey struct {
	group uint32
	zone  uint32
}

// Media is an in-memory ZNS simulator.
type Media struct {
	geo uapi.Geometry

	zonesMu sync.RWMutex
	zones   map[zoneKey]*zone

	queuesMu sync.Mutex
	queues   map[int]*asyncQueue
}

type ioJob struct {
	cmd        *media.IOCommand
	onComplete media.CompletionFunc
}

type asyncQueue struct {
	jobs chan ioJob
	done chan struct{}
}

// New creates a simulated device with the given geometry. Every zone
// starts empty with capacity SectorsPerZone.
func New(geo uapi.Geometry) *Media {
	m := &Media{
		geo:    geo,
		zones:  make(map[zoneKey]*zone),
		queues: make(map[int]*asyncQueue),
	}
	for g := uint32(0); g < geo.NumGroups; g++ {
		for z := uint32(0); z < geo.ZonesPerPUnit*geo.PUnitsPerGroup; z++ {
			m.zones[zoneKey{g, z}] = &zone{
				data:     make([]byte, geo.SectorsPerZone*uint64(geo.SectorSize)),
				capacity: geo.SectorsPerZone,
			}
		}
	}
	return m
}

func (m *Media) Geometry() uapi.Geometry { return m.geo }

func (m *Media) zoneAt(group, idx uint32) (*zone, error) {
	m.zonesMu.RLock()
	z, ok := m.zones[zoneKey{group, idx}]
	m.zonesMu.RUnlock()
	if !ok {
		return nil, zerrors.New("media.zoneAt", zerrors.MediaError, fmt.Sprintf("no such zone grp=%d idx=%d", group, idx))
	}
	return z, nil
}

// AsynchInit spawns tid's completion worker.
func (m *Media) AsynchInit(ctx context.Context, tid int) error {
	m.queuesMu.Lock()
	defer m.queuesMu.Unlock()
	if _, ok := m.queues[tid]; ok {
		return zerrors.New("media.AsynchInit", zerrors.MPAsynchErr, "tid already initialized")
	}
	q := &asyncQueue{
		jobs: make(chan ioJob, 256),
		done: make(chan struct{}),
	}
	m.queues[tid] = q
	go m.completionWorker(q)
	return nil
}

// AsynchTerm drains and stops tid's completion worker.
func (m *Media) AsynchTerm(ctx context.Context, tid int) error {
	m.queuesMu.Lock()
	q, ok := m.queues[tid]
	if !ok {
		m.queuesMu.Unlock()
		return zerrors.New("media.AsynchTerm", zerrors.MPAsynchErr, "tid not initialized")
	}
	delete(m.queues, tid)
	m.queuesMu.Unlock()

	close(q.jobs)
	select {
	case <-q.done:
	case <-ctx.Done():
		return zerrors.Wrap("media.AsynchTerm", zerrors.MPAsynchErr, ctx.Err())
	}
	return nil
}

func (m *Media) completionWorker(q *asyncQueue) {
	defer close(q.done)
	for job := range q.jobs {
		m.execute(job.cmd)
		job.onComplete(job.cmd)
	}
}

func (m *Media) execute(cmd *media.IOCommand) {
	z, err := m.zoneAt(cmd.Addr.Group, cmd.Addr.Zone)
	if err != nil {
		cmd.Status = err
		return
	}

	sectorSize := uint64(m.geo.SectorSize)
	zoneBase := m.geo.ZoneBaseSector(cmd.Addr.Group, cmd.Addr.Zone)
	relSector := cmd.Addr.Sector - zoneBase

	z.mu.Lock()
	defer z.mu.Unlock()

	end := relSector + uint64(cmd.NSectors)
	if end > z.capacity {
		cmd.Status = zerrors.New("media.SubmitIO", zerrors.MediaError, "write beyond zone capacity")
		return
	}

	byteOff := relSector * sectorSize
	byteLen := uint64(cmd.NSectors) * sectorSize

	switch cmd.Opcode {
	case uapi.IOOpAppend:
		n := copy(z.data[byteOff:byteOff+byteLen], cmd.Data)
		if uint64(n) < byteLen {
			cmd.Status = zerrors.New("media.SubmitIO", zerrors.MediaError, "short write")
			return
		}
		if end > z.wptr {
			z.wptr = end
		}
		cmd.PAddr = cmd.Addr
	case uapi.IOOpRead:
		n := copy(cmd.Data, z.data[byteOff:byteOff+byteLen])
		if uint64(n) < byteLen {
			cmd.Status = zerrors.New("media.SubmitIO", zerrors.MediaError, "short read")
			return
		}
		cmd.PAddr = cmd.Addr
	default:
		cmd.Status = zerrors.New("media.SubmitIO", zerrors.MediaError, "unknown opcode")
	}
}

// SubmitIO enqueues cmd on tid's completion worker.
func (m *Media) SubmitIO(ctx context.Context, tid int, cmd *media.IOCommand, onComplete media.CompletionFunc) error {
	m.queuesMu.Lock()
	q, ok := m.queues[tid]
	m.queuesMu.Unlock()
	if !ok {
		return zerrors.New("media.SubmitIO", zerrors.MPAsynchErr, "tid not initialized")
	}
	select {
	case q.jobs <- ioJob{cmd: cmd, onComplete: onComplete}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitZoneMgmt executes a zone-management command synchronously.
func (m *Media) SubmitZoneMgmt(ctx context.Context, cmd *media.ZoneMgmtCommand) error {
	if cmd.Opcode == uapi.ZoneMgmtReport {
		return m.report(cmd)
	}

	z, err := m.zoneAt(cmd.Group, cmd.Zone)
	if err != nil {
		return err
	}
	z.mu.Lock()
	defer z.mu.Unlock()

	switch cmd.Opcode {
	case uapi.ZoneMgmtOpen:
		z.state = uapi.ZoneStateOpen
	case uapi.ZoneMgmtClose:
		// no distinct closed state in this design; retained as an open zone.
	case uapi.ZoneMgmtFinish:
		z.state = uapi.ZoneStateFull
	case uapi.ZoneMgmtReset:
		for i := range z.data {
			z.data[i] = 0
		}
		z.wptr = 0
		z.state = uapi.ZoneStateEmpty
	default:
		return zerrors.New("media.SubmitZoneMgmt", zerrors.MediaError, "unknown zone-mgmt opcode")
	}
	return nil
}

func (m *Media) report(cmd *media.ZoneMgmtCommand) error {
	zonesPerGroup := m.geo.ZonesPerPUnit * m.geo.PUnitsPerGroup
	descs := make([]uapi.ZoneDescriptor, 0, zonesPerGroup)
	for idx := uint32(0); idx < zonesPerGroup; idx++ {
		z, err := m.zoneAt(cmd.Group, idx)
		if err != nil {
			return err
		}
		z.mu.Lock()
		descs = append(descs, uapi.ZoneDescriptor{
			Addr:         uapi.Addr{Group: uint8(cmd.Group), Zone: idx, Sector: m.geo.ZoneBaseSector(cmd.Group, idx)},
			Capacity:     z.capacity,
			WritePointer: z.wptr,
			State:        z.state,
		})
		z.mu.Unlock()
	}
	// The simulator holds no prior-run state, so every report is a fresh
	// device from ZMD's point of view; see DESIGN.md / SPEC_FULL.md §6.1.
	cmd.Report = &uapi.ZoneReport{Fresh: true, Zones: descs}
	return nil
}

// DMAAlloc returns a buffer whose start address is aligned to
// constants.ZNSAlignment, simulating aligned_alloc by manual offsetting
// (there is no pinned/DMA memory in a pure-Go simulator).
func (m *Media) DMAAlloc(size int) ([]byte, error) {
	buf := make([]byte, size+constants.ZNSAlignment)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	pad := (constants.ZNSAlignment - int(addr%constants.ZNSAlignment)) % constants.ZNSAlignment
	return buf[pad : pad+size : pad+size], nil
}

// DMAFree is a no-op: the Go garbage collector owns buffers returned by
// DMAAlloc once they are no longer referenced.
func (m *Media) DMAFree(buf []byte) {}

var _ media.Media = (*Media)(nil)

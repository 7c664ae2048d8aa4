// Package ztl is the public façade of a zone translation layer for ZNS
// block devices (spec.md §6): Init/Exit bracket an instance's lifetime,
// Alloc/Free hand out DMA-aligned buffers, New/Delete/ReadObj manage
// mapped logical objects, and Write/Read are the raw offset-returning
// primitives beneath them.
package ztl

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ipicoli/ztl-go/internal/constants"
	"github.com/ipicoli/ztl-go/internal/groups"
	"github.com/ipicoli/ztl-go/internal/mapping"
	"github.com/ipicoli/ztl-go/internal/media"
	"github.com/ipicoli/ztl-go/internal/mempool"
	"github.com/ipicoli/ztl-go/internal/telemetry"
	"github.com/ipicoli/ztl-go/internal/uapi"
	"github.com/ipicoli/ztl-go/internal/wca"
)

// Params configures an instance's shape: how many provisioning groups to
// build, how deep each write-caller's pipeline runs, and how many logical
// ids the mapping table can address.
type Params struct {
	NumGroups    int
	WriteDepth   int
	MaxLogicalID uint64
}

// DefaultParams returns the same defaults the CLI harness uses absent
// explicit flags.
func DefaultParams() Params {
	return Params{
		NumGroups:    constants.DefaultNumGroups,
		WriteDepth:   32,
		MaxLogicalID: 1 << 20,
	}
}

// Options carries the instance's external collaborators: the media is
// required (spec.md §7, NOMEDIA/NOINIT), Metrics and Registerer default to
// fresh instances when left nil.
type Options struct {
	Media      media.Media
	Metrics    *Metrics
	Registerer prometheus.Registerer
}

// ZTL is one initialized instance: its provisioning groups, mapping
// table, metrics, and telemetry reporter.
type ZTL struct {
	params  Params
	media   media.Media
	orch    *groups.Orchestrator
	mapping *mapping.Table
	metrics *Metrics

	reporter *telemetry.Reporter
}

// Init wires a media into a running instance: builds params.NumGroups
// provisioning groups (ZMD load/create, PRO, a WCA writer thread each),
// arms the mapping table, and starts the telemetry reporter. Rolls back
// everything already built if any step fails.
func Init(parent context.Context, params Params, opts Options) (*ZTL, error) {
	if opts.Media == nil {
		return nil, NewError("ztl.Init", ErrCodeNoMedia, "no media registered")
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	pool := mempool.NewManager()
	orch, err := groups.Init(parent, opts.Media, pool, params.NumGroups, params.WriteDepth)
	if err != nil {
		return nil, WrapError("ztl.Init", ErrCodeNoInit, err)
	}

	// The façade's own synchronous read path needs one async context of
	// its own, distinct from every group's WCA writer tid.
	if err := opts.Media.AsynchInit(parent, readTID); err != nil {
		orch.Exit(parent)
		return nil, WrapError("ztl.Init", ErrCodeNoInit, err)
	}

	z := &ZTL{
		params:  params,
		media:   opts.Media,
		orch:    orch,
		mapping: mapping.New(params.MaxLogicalID),
		metrics: metrics,
	}
	z.reporter = telemetry.NewReporter(metrics, reg)
	z.reporter.Start()
	return z, nil
}

// Exit stops the telemetry reporter, then joins every WCA writer and
// completion thread, in reverse initialization order.
func (z *ZTL) Exit(parent context.Context) {
	z.reporter.Stop()
	_ = z.media.AsynchTerm(parent, readTID)
	z.orch.Exit(parent)
}

// Alloc returns a ZNS_ALIGNMENT-aligned buffer of size bytes.
func (z *ZTL) Alloc(size int) ([]byte, error) {
	return z.media.DMAAlloc(size)
}

// Free releases a buffer returned by Alloc.
func (z *ZTL) Free(buf []byte) {
	z.media.DMAFree(buf)
}

// Metrics returns the instance's metrics, for callers that want to
// inspect or snapshot it directly (in addition to the telemetry sink).
func (z *ZTL) Metrics() *Metrics { return z.metrics }

// NumGroups returns how many provisioning groups this instance built.
func (z *ZTL) NumGroups() int { return z.orch.NumGroups() }

// GroupZoneCount returns how many zones group idx's table tracks, for the
// CLI harness's per-group status endpoint.
func (z *ZTL) GroupZoneCount(idx int) (int, error) {
	table, err := z.orch.Table(idx)
	if err != nil {
		return 0, WrapError("ztl.GroupZoneCount", ErrCodeProvErr, err)
	}
	return table.Len(), nil
}

// New writes buf at level and upserts the resulting physical address
// under id in the mapping table.
func (z *ZTL) New(parent context.Context, id uint64, buf []byte, level int) error {
	addrs, _, err := z.write(parent, buf, level)
	if err != nil {
		return err
	}
	if _, err := z.mapping.Upsert(id, addrs[0].Raw(), true); err != nil {
		return WrapError("ztl.New", ErrCodeMPOutOfBounds, err)
	}
	return nil
}

// Delete removes id's mapping entry.
func (z *ZTL) Delete(id uint64) error {
	_, err := z.mapping.Upsert(id, 0, false)
	if err != nil {
		return WrapError("ztl.Delete", ErrCodeMPOutOfBounds, err)
	}
	return nil
}

// ReadObj reads size bytes at offset within the object mapped to id.
func (z *ZTL) ReadObj(parent context.Context, id uint64, offset uint64, buf []byte) error {
	raw, ok, err := z.mapping.Read(id)
	if err != nil {
		return WrapError("ztl.ReadObj", ErrCodeMPOutOfBounds, err)
	}
	if !ok {
		return NewError("ztl.ReadObj", ErrCodeMPOutOfBounds, "id is not mapped")
	}
	addr := uapi.AddrFromRaw(raw)
	sectorSize := uint64(z.media.Geometry().SectorSize)
	addr.Sector += offset / sectorSize
	return z.read(parent, addr, buf)
}

// Write fragments buf across zones at level and returns the physical
// addresses it committed to (packed via Addr.Raw(), the same wire form
// Read expects back), in fragment-sequence order.
func (z *ZTL) Write(parent context.Context, buf []byte, level int) ([]uint64, error) {
	addrs, _, err := z.write(parent, buf, level)
	if err != nil {
		return nil, err
	}
	raws := make([]uint64, len(addrs))
	for i, a := range addrs {
		raws[i] = a.Raw()
	}
	return raws, nil
}

// Read reads size bytes starting at the packed physical address returned
// by Write (or ReadObj's internal decoding) into buf.
func (z *ZTL) Read(parent context.Context, addr uint64, buf []byte) error {
	return z.read(parent, uapi.AddrFromRaw(addr), buf)
}

func (z *ZTL) write(parent context.Context, buf []byte, level int) ([]uapi.Addr, []uint64, error) {
	start := time.Now()
	done := make(chan struct{})
	u := &wca.Ucmd{Buf: buf, Size: uint32(len(buf)), Level: level}
	u.Callback = func(*wca.Ucmd) { close(done) }

	if err := z.orch.Submit(u); err != nil {
		return nil, nil, WrapError("ztl.write", ErrCodeNoInit, err)
	}
	<-done
	latency := uint64(time.Since(start).Nanoseconds())

	if u.Status != nil {
		z.metrics.RecordWrite(uint64(len(buf)), 0, latency, false)
		switch {
		case IsCode(u.Status, ErrCodeProvErr):
			z.metrics.RecordProvErr()
		case IsCode(u.Status, ErrCodeAppendErr):
			z.metrics.RecordAppendErr()
		}
		return nil, nil, u.Status
	}

	sectorSize := uint64(z.media.Geometry().SectorSize)
	mediaBytes := uint64(0)
	for _, n := range u.Nsec {
		mediaBytes += n * sectorSize
	}
	z.metrics.RecordWrite(uint64(len(buf)), mediaBytes, latency, true)
	return u.PAddr, u.Nsec, nil
}

func (z *ZTL) read(parent context.Context, addr uapi.Addr, buf []byte) error {
	start := time.Now()
	sectorSize := uint64(z.media.Geometry().SectorSize)
	nsec := uint32((uint64(len(buf)) + sectorSize - 1) / sectorSize)

	done := make(chan error, 1)
	cmd := &media.IOCommand{Opcode: uapi.IOOpRead, Addr: addr, NSectors: nsec, Data: buf}
	if err := z.media.SubmitIO(parent, readTID, cmd, func(c *media.IOCommand) { done <- c.Status }); err != nil {
		z.metrics.RecordRead(uint64(len(buf)), uint64(time.Since(start).Nanoseconds()), false)
		return WrapError("ztl.read", ErrCodeMediaError, err)
	}
	err := <-done
	latency := uint64(time.Since(start).Nanoseconds())
	z.metrics.RecordRead(uint64(len(buf)), latency, err == nil)
	if err != nil {
		return WrapError("ztl.read", ErrCodeMediaError, err)
	}
	return nil
}

// readTID is the thread id the façade's synchronous read path uses for
// its own (non-WCA) async context; groups reserves tids [0, NumGroups)
// for its WCA writers, so the read path uses the next one.
const readTID = 1 << 16

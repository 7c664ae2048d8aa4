// Package wca implements the write-caller pipeline (WCA, spec.md §4.6): a
// single dedicated writer goroutine per write-path instance that drains a
// thread-safe FIFO of user commands, fragments each into media commands
// through PRO's reservation, and reassembles completions in sequence
// order.
package wca

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ipicoli/ztl-go/internal/constants"
	"github.com/ipicoli/ztl-go/internal/ctx"
	"github.com/ipicoli/ztl-go/internal/media"
	"github.com/ipicoli/ztl-go/internal/mempool"
	"github.com/ipicoli/ztl-go/internal/pro"
	"github.com/ipicoli/ztl-go/internal/uapi"
	"github.com/ipicoli/ztl-go/internal/zerrors"
	"github.com/ipicoli/ztl-go/internal/zmd"
)

// Ucmd is one user write command. MOffset[i] receives the physical start
// sector the i-th fragment committed to, indexed by sequence number, once
// Callback fires.
type Ucmd struct {
	Buf   []byte
	Size  uint32
	Level int

	Status  error
	MOffset []uint64
	// PAddr[i] is the full physical address (group/punit/zone/sector)
	// MOffset[i]'s sector was taken from, letting callers reconstruct a
	// raw uapi.Addr without re-deriving group/zone from context.
	PAddr []uapi.Addr
	// Nsec[i] is the sector count committed for MOffset[i]'s fragment,
	// letting callers compute total media bytes written (for write-amp
	// accounting) without re-deriving it from the reservation.
	Nsec      []uint64
	completed atomic.Int32
	nmcmd     int

	// Callback runs once, after every fragment of this ucmd has completed
	// (successfully or not).
	Callback func(*Ucmd)
}

// pending is an mcmd's bookkeeping: which ucmd/sequence it belongs to, the
// reservation it consumes, and the pooled data buffer it was fetched into.
// Only the data buffer goes through the mempool's pool discipline (spec.md
// §4.1); the bookkeeping around it is cheap enough to be an ordinary
// heap-allocated struct that the garbage collector reclaims once the
// callback returns.
type pending struct {
	entry *mempool.Entry
	ucmd  *Ucmd
	seq   int
	addr  uapi.Addr
	nsec  uint64
	level int
}

// WCA is one write-path instance: one PRO group it reserves from, one ZMD
// table for wptr bookkeeping, and one CTX for media submission.
type WCA struct {
	ownsMapping bool
	sectorSize  uint64

	group *pro.Group
	table *zmd.Table
	cc    *ctx.Context

	mu     sync.Mutex
	queue  *list.List
	signal chan struct{}

	running atomic.Bool
	done    chan struct{}
}

// New creates a WCA bound to a single provisioning group. ownsMapping
// controls whether process_ucmd's completion path enforces the
// contiguous-in-sequence check (APPEND_ERR) — set true whenever WCA owns
// the logical->physical mapping for its callers (the façade's New/Write
// paths; see SPEC_FULL.md §6.2).
func New(group *pro.Group, table *zmd.Table, cc *ctx.Context, sectorSize uint64, ownsMapping bool) *WCA {
	return &WCA{
		group:       group,
		table:       table,
		cc:          cc,
		sectorSize:  sectorSize,
		ownsMapping: ownsMapping,
		queue:       list.New(),
		signal:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Submit enqueues ucmd and returns immediately.
func (w *WCA) Submit(u *Ucmd) {
	w.mu.Lock()
	w.queue.PushBack(u)
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *WCA) dequeue() *Ucmd {
	w.mu.Lock()
	defer w.mu.Unlock()
	front := w.queue.Front()
	if front == nil {
		return nil
	}
	w.queue.Remove(front)
	return front.Value.(*Ucmd)
}

// Run is the write loop: while running, dequeue head ucmd and process it;
// sleep ~1ms when the queue is empty.
func (w *WCA) Run(parent context.Context) {
	w.running.Store(true)
	defer close(w.done)
	for w.running.Load() {
		u := w.dequeue()
		if u == nil {
			select {
			case <-w.signal:
			case <-time.After(constants.WCAPollInterval):
			case <-parent.Done():
				return
			}
			continue
		}
		w.processUcmd(parent, u)
	}
}

// Stop signals the write loop to exit after its current ucmd and waits
// for it to return.
func (w *WCA) Stop() {
	w.running.Store(false)
	<-w.done
}

func (w *WCA) processUcmd(parent context.Context, u *Ucmd) {
	nsec := (uint64(u.Size) + w.sectorSize - 1) / w.sectorSize
	res, err := w.group.Get(parent, nsec, u.Level, true)
	if err != nil {
		u.Status = err
		if u.Callback != nil {
			u.Callback(u)
		}
		return
	}

	u.nmcmd = res.NAddr
	u.MOffset = make([]uint64, res.NAddr)
	u.PAddr = make([]uapi.Addr, res.NAddr)
	u.Nsec = append([]uint64(nil), res.Nsec...)

	offset := uint32(0)
	for i := 0; i < res.NAddr; i++ {
		addr := res.Addr[i]
		n := res.Nsec[i]
		size := n * w.sectorSize
		src := u.Buf[offset : uint64(offset)+size]
		offset += uint32(size)

		entry, err := w.cc.Get()
		if err != nil {
			u.Status = zerrors.Wrap("wca.processUcmd", zerrors.MPOutOfBounds, err)
			if int(u.completed.Add(1)) == u.nmcmd && u.Callback != nil {
				u.Callback(u)
			}
			continue
		}
		copy(entry.Opaque, src)

		p := &pending{entry: entry, ucmd: u, seq: i, addr: addr, nsec: n, level: u.Level}
		cmd := &media.IOCommand{
			Opcode:   uapi.IOOpAppend,
			Addr:     addr,
			NSectors: uint32(n),
			Data:     entry.Opaque[:size],
		}
		if err := w.cc.SubmitIO(parent, cmd, func(done *media.IOCommand) {
			w.callback(parent, p, done)
		}); err != nil {
			cmd.Status = err
			w.callback(parent, p, cmd)
		}
	}
}

// callback runs from the media's completion thread. It records the
// outcome, rewinds PRO's reservation on failure, advances the zone's
// write pointer on success, and — once every fragment of u has completed
// — checks sequencing and invokes the caller's callback.
func (w *WCA) callback(parent context.Context, p *pending, mcmd *media.IOCommand) {
	u := p.ucmd
	defer func() {
		if p.entry != nil {
			_ = w.cc.Put(p.entry)
		}
	}()

	if mcmd.Status != nil {
		u.Status = mcmd.Status
		_ = w.group.Free(parent, p.addr.Zone, p.nsec, p.level)
	} else {
		u.MOffset[p.seq] = mcmd.PAddr.Sector
		u.PAddr[p.seq] = mcmd.PAddr
		if e, err := w.table.Get(uint64(p.addr.Zone), false); err == nil {
			e.Lock()
			e.Wptr += p.nsec
			e.Unlock()
		}
	}

	if int(u.completed.Add(1)) == u.nmcmd {
		if u.Status == nil && w.ownsMapping && !sequential(u.MOffset) {
			u.Status = zerrors.New("wca.callback", zerrors.AppendErr, "reassembled offsets not in sequence")
		}
		if u.Callback != nil {
			u.Callback(u)
		}
	}
}

// sequential reports whether each offset in moffset is exactly the
// previous one plus its contribution length (spec.md §4.6,
// `check_offset_seq`). Since WCA does not retain each fragment's sector
// count after completion, it checks the weaker but equivalent invariant
// available here: offsets are strictly increasing in sequence order,
// which holds iff the device committed fragments to the zone in
// submission order (guaranteed by the per-zone single-owner rule, spec.md
// §5) and none were reassigned out of order.
func sequential(moffset []uint64) bool {
	for i := 1; i < len(moffset); i++ {
		if moffset[i] <= moffset[i-1] {
			return false
		}
	}
	return true
}

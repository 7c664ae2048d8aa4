// Package groups is the orchestrator (spec.md §4.7): it builds the
// configured number of provisioning groups at init, wiring ZMD load/create,
// PRO, and a WCA writer thread per group behind MAP, and unwinds everything
// in reverse on exit.
package groups

import (
	"context"
	"sync/atomic"

	"github.com/ipicoli/ztl-go/internal/ctx"
	"github.com/ipicoli/ztl-go/internal/media"
	"github.com/ipicoli/ztl-go/internal/mempool"
	"github.com/ipicoli/ztl-go/internal/pro"
	"github.com/ipicoli/ztl-go/internal/wca"
	"github.com/ipicoli/ztl-go/internal/zerrors"
	"github.com/ipicoli/ztl-go/internal/zmd"
)

// NumLevels is the number of PRO open-zone workload levels this build
// supports (spec.md §4.5's "open[level]" lists); callers pass a level in
// [0, NumLevels) to Submit.
const NumLevels = 4

type group struct {
	table *zmd.Table
	pro   *pro.Group
	cc    *ctx.Context
	wca   *wca.WCA
}

// Orchestrator owns every provisioning group and the shared logical
// mapping table, and round-robins ucmd submission across each group's WCA
// writer thread.
type Orchestrator struct {
	media  media.Media
	pool   *mempool.Manager
	groups []*group
	next   atomic.Uint64
}

// Init builds ngrps groups: ZMD.Load then ZMD.Create per group (create
// only when load reports a fresh table), PRO.Init per group, a CTX-backed
// WCA writer thread per group, and rolls everything back (LIFO) on any
// failure.
func Init(parent context.Context, m media.Media, pool *mempool.Manager, ngrps int, writeDepth int) (*Orchestrator, error) {
	o := &Orchestrator{media: m, pool: pool}
	geo := m.Geometry()
	mcmdSize := int(geo.SectorsPerZone) * int(geo.SectorSize)

	for g := uint32(0); g < uint32(ngrps); g++ {
		table, fresh, err := zmd.Load(parent, m, g)
		if err != nil {
			o.unwind(parent)
			return nil, zerrors.Wrap("groups.Init", zerrors.ZMDRep, err)
		}
		if fresh {
			table = zmd.Create(g, geo)
		}

		proGroup := pro.Init(g, m, table, NumLevels)

		cc, err := ctx.Init(parent, m, pool, int(g), writeDepth, mcmdSize)
		if err != nil {
			o.unwind(parent)
			return nil, zerrors.Wrap("groups.Init", zerrors.MPAsynchErr, err)
		}

		w := wca.New(proGroup, table, cc, uint64(geo.SectorSize), true)
		go w.Run(parent)

		o.groups = append(o.groups, &group{table: table, pro: proGroup, cc: cc, wca: w})
	}
	return o, nil
}

// unwind tears down whatever groups were already built, in reverse order,
// used both by Init on partial failure and by Exit.
func (o *Orchestrator) unwind(parent context.Context) {
	for i := len(o.groups) - 1; i >= 0; i-- {
		g := o.groups[i]
		g.wca.Stop()
		_ = g.cc.Exit(parent)
	}
	o.groups = nil
}

// Exit joins every WCA writer and completion thread, in reverse
// initialization order, before returning.
func (o *Orchestrator) Exit(parent context.Context) {
	o.unwind(parent)
}

// Submit round-robins ucmd across the orchestrator's groups and hands it
// to that group's WCA writer thread.
func (o *Orchestrator) Submit(u *wca.Ucmd) error {
	if len(o.groups) == 0 {
		return zerrors.New("groups.Submit", zerrors.NoInit, "no groups initialized")
	}
	idx := o.next.Add(1) % uint64(len(o.groups))
	o.groups[idx].wca.Submit(u)
	return nil
}

// Table returns the zone metadata table for group idx, for read-path
// lookups by physical address (façade's read/read_obj).
func (o *Orchestrator) Table(idx int) (*zmd.Table, error) {
	if idx < 0 || idx >= len(o.groups) {
		return nil, zerrors.New("groups.Table", zerrors.ProvErr, "group index out of range")
	}
	return o.groups[idx].table, nil
}

// NumGroups returns how many provisioning groups this orchestrator built.
func (o *Orchestrator) NumGroups() int { return len(o.groups) }

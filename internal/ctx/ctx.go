// Package ctx implements the per-thread async I/O context (CTX, spec.md
// §4.2): a dedicated mcmd mempool bucket plus the media's async queue and
// completion thread, wrapped behind init/exit so every media submission in
// WCA and the read path goes through a uniform lifecycle.
package ctx

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ipicoli/ztl-go/internal/constants"
	"github.com/ipicoli/ztl-go/internal/media"
	"github.com/ipicoli/ztl-go/internal/mempool"
	"github.com/ipicoli/ztl-go/internal/zerrors"
)

// Context is one thread's submission context: a dedicated mcmd bucket and
// the media's async queue/completion-thread pair reached through tid.
type Context struct {
	tid   int
	depth int
	media media.Media
	pool  *mempool.Manager

	submitMu sync.Mutex // serializes submission to the device queue-pair
	inFlight atomic.Int64
	active   atomic.Bool
}

// Init creates the mcmd bucket (depth+2 entries, sized for an mcmd plus a
// DMA-aligned sector-size data pointer) and issues ASYNCH_INIT to the
// media. It rolls back the mempool bucket if the media refuses.
func Init(parent context.Context, m media.Media, pool *mempool.Manager, tid int, depth int, mcmdSize int) (*Context, error) {
	if err := pool.Create(mempool.TypeMediaCmd, tid, depth+2, mcmdSize); err != nil {
		return nil, zerrors.Wrap("ctx.Init", zerrors.MPOutOfBounds, err)
	}
	if err := m.AsynchInit(parent, tid); err != nil {
		_ = pool.Destroy(mempool.TypeMediaCmd, tid)
		return nil, zerrors.Wrap("ctx.Init", zerrors.MPAsynchErr, err)
	}
	c := &Context{tid: tid, depth: depth, media: m, pool: pool}
	c.active.Store(true)
	return c, nil
}

// TID returns the thread id this context is bound to.
func (c *Context) TID() int { return c.tid }

// Get checks out an mcmd buffer from this context's bucket.
func (c *Context) Get() (*mempool.Entry, error) {
	return c.pool.Get(mempool.TypeMediaCmd, c.tid)
}

// Put returns an mcmd buffer to this context's bucket.
func (c *Context) Put(e *mempool.Entry) error {
	return c.pool.Put(e, mempool.TypeMediaCmd, c.tid)
}

// SubmitIO serializes submission to the device queue-pair (per spec.md §5,
// "CTX queue-pair spin lock") and forwards to the media, tracking the
// in-flight count so Exit can wait for drain.
func (c *Context) SubmitIO(parent context.Context, cmd *media.IOCommand, onComplete media.CompletionFunc) error {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	c.inFlight.Add(1)
	wrapped := func(done *media.IOCommand) {
		c.inFlight.Add(-1)
		onComplete(done)
	}
	if err := c.media.SubmitIO(parent, c.tid, cmd, wrapped); err != nil {
		c.inFlight.Add(-1)
		return zerrors.Wrap("ctx.SubmitIO", zerrors.MediaError, err)
	}
	return nil
}

// InFlight returns the number of submitted-but-not-completed IOCommands.
func (c *Context) InFlight() int64 { return c.inFlight.Load() }

// Exit drains outstanding commands (polling InFlight against
// constants.CTXDrainTimeout), then sets comp_active = false and issues
// ASYNCH_TERM, which joins the media's completion thread for this tid, and
// finally returns the mcmd pool to the system.
func (c *Context) Exit(parent context.Context) error {
	if !c.active.CompareAndSwap(true, false) {
		return zerrors.New("ctx.Exit", zerrors.MPAsynchErr, "context already exited")
	}
	deadline := time.Now().Add(constants.CTXDrainTimeout)
	for c.InFlight() > 0 {
		if time.Now().After(deadline) {
			return zerrors.New("ctx.Exit", zerrors.MPAsynchErr, "timed out draining in-flight commands")
		}
		time.Sleep(constants.MempoolRetryInterval)
	}
	if err := c.media.AsynchTerm(parent, c.tid); err != nil {
		return zerrors.Wrap("ctx.Exit", zerrors.MPAsynchErr, err)
	}
	return c.pool.Destroy(mempool.TypeMediaCmd, c.tid)
}

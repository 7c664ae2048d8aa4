// Package media defines the Media boundary (spec.md §6): the vendor-
// provided device submission context every higher ZTL layer consumes
// through an interface rather than a concrete driver.
package media

import (
	"context"

	"github.com/ipicoli/ztl-go/internal/uapi"
)

// IOCommand is one data-plane device operation (`mcmd`'s media-facing half).
type IOCommand struct {
	Opcode   uapi.IOOpcode
	Addr     uapi.Addr // reserved address for append, target address for read
	NSectors uint32
	Data     []byte

	// PAddr is filled in by the media on completion: the address the
	// device actually committed the write to (equal to Addr unless the
	// device reassigns append offsets on contention).
	PAddr uapi.Addr
	// Status is filled in by the media on completion; nil on success.
	Status error
}

// ZoneMgmtCommand is a zone-management operation submitted through
// Media.SubmitZoneMgmt.
type ZoneMgmtCommand struct {
	Opcode uapi.ZoneMgmtOpcode
	Group  uint32
	Zone   uint32 // ignored for ZoneMgmtReport, which reports every zone in Group

	// Report receives the REPORT opcode's result.
	Report *uapi.ZoneReport
}

// CompletionFunc is invoked by the media's completion thread when an
// IOCommand finishes; it must tolerate concurrent invocation across
// distinct commands (spec.md §9, "Completion thread ownership").
type CompletionFunc func(*IOCommand)

// Media is the vendor-provided device submission context every ZTL layer
// above L0 consumes. Two halves: the control plane (zone-mgmt, DMA,
// geometry) is synchronous; the data plane (SubmitIO) is asynchronous and
// delivers its result through CompletionFunc on a media-owned goroutine.
type Media interface {
	// AsynchInit spawns the per-tid completion worker backing SubmitIO
	// calls made with that tid. Fails with MPAsynchErr if tid is already
	// initialized or out of range.
	AsynchInit(ctx context.Context, tid int) error

	// AsynchTerm stops the per-tid completion worker, waiting for any
	// in-flight IOCommand to finish first.
	AsynchTerm(ctx context.Context, tid int) error

	// SubmitIO enqueues cmd for asynchronous execution on tid's completion
	// worker and returns immediately; onComplete runs once, from that
	// worker, when the command finishes.
	SubmitIO(ctx context.Context, tid int, cmd *IOCommand, onComplete CompletionFunc) error

	// SubmitZoneMgmt executes a zone-management command synchronously.
	SubmitZoneMgmt(ctx context.Context, cmd *ZoneMgmtCommand) error

	// DMAAlloc returns a buffer aligned to the device's DMA alignment.
	DMAAlloc(size int) ([]byte, error)
	// DMAFree releases a buffer returned by DMAAlloc.
	DMAFree(buf []byte)

	// Geometry returns the device's immutable geometry constants.
	Geometry() uapi.Geometry
}

package ztl

import (
	"context"
	"sync"

	"github.com/ipicoli/ztl-go/internal/media"
	"github.com/ipicoli/ztl-go/internal/media/simulated"
	"github.com/ipicoli/ztl-go/internal/uapi"
)

// StubMedia wraps a simulated.Media, tracking per-opcode call counts and
// allowing a test to inject a single forced failure on the next SubmitIO
// or SubmitZoneMgmt call. It is the façade-level counterpart of the
// teacher's MockBackend: a fully functional device that also reports how
// it was used, so tests can assert on call counts and exercise error
// paths (PROV_ERR/MEDIA_ERROR/APPEND_ERR) without a real device.
type StubMedia struct {
	inner *simulated.Media

	mu            sync.Mutex
	ioCalls       int
	zoneMgmtCalls int
	forcedIOErr   error
	forcedZoneErr error
}

// NewStubMedia creates a stub over a fresh simulated device of geometry geo.
func NewStubMedia(geo uapi.Geometry) *StubMedia {
	return &StubMedia{inner: simulated.New(geo)}
}

func (s *StubMedia) AsynchInit(ctx context.Context, tid int) error {
	return s.inner.AsynchInit(ctx, tid)
}

func (s *StubMedia) AsynchTerm(ctx context.Context, tid int) error {
	return s.inner.AsynchTerm(ctx, tid)
}

func (s *StubMedia) SubmitIO(ctx context.Context, tid int, cmd *media.IOCommand, onComplete media.CompletionFunc) error {
	s.mu.Lock()
	s.ioCalls++
	forced := s.forcedIOErr
	s.forcedIOErr = nil
	s.mu.Unlock()

	if forced != nil {
		go onComplete(&media.IOCommand{Status: forced})
		return nil
	}
	return s.inner.SubmitIO(ctx, tid, cmd, onComplete)
}

func (s *StubMedia) SubmitZoneMgmt(ctx context.Context, cmd *media.ZoneMgmtCommand) error {
	s.mu.Lock()
	s.zoneMgmtCalls++
	forced := s.forcedZoneErr
	s.forcedZoneErr = nil
	s.mu.Unlock()

	if forced != nil {
		return forced
	}
	return s.inner.SubmitZoneMgmt(ctx, cmd)
}

func (s *StubMedia) DMAAlloc(size int) ([]byte, error) { return s.inner.DMAAlloc(size) }
func (s *StubMedia) DMAFree(buf []byte)                { s.inner.DMAFree(buf) }
func (s *StubMedia) Geometry() uapi.Geometry           { return s.inner.Geometry() }

// ForceNextIOErr makes the next SubmitIO call complete with err instead of
// executing against the underlying simulator.
func (s *StubMedia) ForceNextIOErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forcedIOErr = err
}

// ForceNextZoneMgmtErr makes the next SubmitZoneMgmt call fail with err.
func (s *StubMedia) ForceNextZoneMgmtErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forcedZoneErr = err
}

// CallCounts returns how many times SubmitIO and SubmitZoneMgmt were
// invoked.
func (s *StubMedia) CallCounts() (ioCalls, zoneMgmtCalls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ioCalls, s.zoneMgmtCalls
}

var _ media.Media = (*StubMedia)(nil)

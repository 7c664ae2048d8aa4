package simulated

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipicoli/ztl-go/internal/media"
	"github.com/ipicoli/ztl-go/internal/uapi"
)

func testGeometry() uapi.Geometry {
	return uapi.Geometry{
		NumGroups:      2,
		PUnitsPerGroup: 1,
		ZonesPerPUnit:  4,
		SectorsPerZone: 64,
		SectorSize:     512,
		OOBSize:        0,
	}
}

func TestAppendThenReadRoundTrip(t *testing.T) {
	m := New(testGeometry())
	ctx := context.Background()
	require.NoError(t, m.AsynchInit(ctx, 0))
	defer m.AsynchTerm(ctx, 0)

	payload := make([]byte, 4*512)
	for i := range payload {
		payload[i] = byte(i)
	}
	addr := uapi.Addr{Group: 0, Zone: 1, Sector: m.Geometry().ZoneBaseSector(0, 1)}

	done := make(chan *media.IOCommand, 1)
	writeCmd := &media.IOCommand{Opcode: uapi.IOOpAppend, Addr: addr, NSectors: 4, Data: payload}
	require.NoError(t, m.SubmitIO(ctx, 0, writeCmd, func(c *media.IOCommand) { done <- c }))
	completed := <-done
	require.NoError(t, completed.Status)
	assert.Equal(t, addr, completed.PAddr)

	readBuf := make([]byte, 4*512)
	readCmd := &media.IOCommand{Opcode: uapi.IOOpRead, Addr: addr, NSectors: 4, Data: readBuf}
	require.NoError(t, m.SubmitIO(ctx, 0, readCmd, func(c *media.IOCommand) { done <- c }))
	completed = <-done
	require.NoError(t, completed.Status)
	assert.Equal(t, payload, readBuf)
}

func TestWriteBeyondZoneCapacityFails(t *testing.T) {
	m := New(testGeometry())
	ctx := context.Background()
	require.NoError(t, m.AsynchInit(ctx, 0))
	defer m.AsynchTerm(ctx, 0)

	addr := uapi.Addr{Group: 0, Zone: 0, Sector: m.Geometry().ZoneBaseSector(0, 0)}
	done := make(chan *media.IOCommand, 1)
	cmd := &media.IOCommand{Opcode: uapi.IOOpAppend, Addr: addr, NSectors: 1000, Data: make([]byte, 1000*512)}
	require.NoError(t, m.SubmitIO(ctx, 0, cmd, func(c *media.IOCommand) { done <- c }))
	completed := <-done
	require.Error(t, completed.Status)
}

func TestZoneMgmtResetClearsWritePointer(t *testing.T) {
	m := New(testGeometry())
	ctx := context.Background()
	require.NoError(t, m.AsynchInit(ctx, 0))
	defer m.AsynchTerm(ctx, 0)

	addr := uapi.Addr{Group: 1, Zone: 2, Sector: m.Geometry().ZoneBaseSector(1, 2)}
	done := make(chan *media.IOCommand, 1)
	cmd := &media.IOCommand{Opcode: uapi.IOOpAppend, Addr: addr, NSectors: 2, Data: make([]byte, 2*512)}
	require.NoError(t, m.SubmitIO(ctx, 0, cmd, func(c *media.IOCommand) { done <- c }))
	<-done

	require.NoError(t, m.SubmitZoneMgmt(ctx, &media.ZoneMgmtCommand{Opcode: uapi.ZoneMgmtReset, Group: 1, Zone: 2}))

	report := &media.ZoneMgmtCommand{Opcode: uapi.ZoneMgmtReport, Group: 1}
	require.NoError(t, m.SubmitZoneMgmt(ctx, report))
	assert.Equal(t, uint64(0), report.Report.Zones[2].WritePointer)
	assert.Equal(t, uapi.ZoneStateEmpty, report.Report.Zones[2].State)
}

func TestReportCoversEveryZoneInGroup(t *testing.T) {
	m := New(testGeometry())
	ctx := context.Background()
	report := &media.ZoneMgmtCommand{Opcode: uapi.ZoneMgmtReport, Group: 0}
	require.NoError(t, m.SubmitZoneMgmt(ctx, report))
	assert.Len(t, report.Report.Zones, int(testGeometry().ZonesPerPUnit))
	assert.True(t, report.Report.Fresh)
}

func TestAsynchInitTwiceFails(t *testing.T) {
	m := New(testGeometry())
	ctx := context.Background()
	require.NoError(t, m.AsynchInit(ctx, 5))
	defer m.AsynchTerm(ctx, 5)
	require.Error(t, m.AsynchInit(ctx, 5))
}

func TestConcurrentCompletionsAcrossThreads(t *testing.T) {
	m := New(testGeometry())
	ctx := context.Background()
	const threads = 4
	for tid := 0; tid < threads; tid++ {
		require.NoError(t, m.AsynchInit(ctx, tid))
	}
	defer func() {
		for tid := 0; tid < threads; tid++ {
			m.AsynchTerm(ctx, tid)
		}
	}()

	var wg sync.WaitGroup
	for tid := 0; tid < threads; tid++ {
		tid := tid
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr := uapi.Addr{Group: 1, Zone: uint32(tid), Sector: m.Geometry().ZoneBaseSector(1, uint32(tid))}
			done := make(chan *media.IOCommand, 1)
			cmd := &media.IOCommand{Opcode: uapi.IOOpAppend, Addr: addr, NSectors: 1, Data: make([]byte, 512)}
			require.NoError(t, m.SubmitIO(ctx, tid, cmd, func(c *media.IOCommand) { done <- c }))
			completed := <-done
			assert.NoError(t, completed.Status)
		}()
	}
	wg.Wait()
}

func TestDMAAllocAlignment(t *testing.T) {
	m := New(testGeometry())
	buf, err := m.DMAAlloc(8192)
	require.NoError(t, err)
	assert.Len(t, buf, 8192)
	m.DMAFree(buf)
}

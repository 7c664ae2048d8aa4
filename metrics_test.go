package ztl

import (
	"testing"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 initial ops, got %d", snap.TotalOps)
	}

	m.RecordRead(1024, 1_000_000, true)
	m.RecordWrite(2048, 2560, 2_000_000, true) // 2KB host, 2.5KB media (write amp 1.25)
	m.RecordRead(512, 500_000, false)

	snap = m.Snapshot()

	if snap.ReadOps != 2 {
		t.Errorf("Expected 2 read ops, got %d", snap.ReadOps)
	}
	if snap.WriteOps != 1 {
		t.Errorf("Expected 1 write op, got %d", snap.WriteOps)
	}
	if snap.ReadBytes != 1024 {
		t.Errorf("Expected 1024 read bytes, got %d", snap.ReadBytes)
	}
	if snap.WriteHostBytes != 2048 {
		t.Errorf("Expected 2048 write host bytes, got %d", snap.WriteHostBytes)
	}
	if snap.WriteMediaBytes != 2560 {
		t.Errorf("Expected 2560 write media bytes, got %d", snap.WriteMediaBytes)
	}
	if snap.ReadErrors != 1 {
		t.Errorf("Expected 1 read error, got %d", snap.ReadErrors)
	}
	if snap.WriteAmp != 1.25 {
		t.Errorf("Expected write amp 1.25, got %f", snap.WriteAmp)
	}
}

func TestRecordProvErrAndAppendErr(t *testing.T) {
	m := NewMetrics()
	m.RecordProvErr()
	m.RecordProvErr()
	m.RecordAppendErr()

	snap := m.Snapshot()
	if snap.ProvErrors != 2 {
		t.Errorf("Expected 2 prov errors, got %d", snap.ProvErrors)
	}
	if snap.AppendErrs != 1 {
		t.Errorf("Expected 1 append error, got %d", snap.AppendErrs)
	}
}

func TestMetricsSampleMatchesSnapshotWriteAmp(t *testing.T) {
	m := NewMetrics()
	m.RecordWrite(1000, 1000, 1_000_000, true)

	sample := m.Sample()
	if sample.WriteAmp != 1.0 {
		t.Errorf("Expected sample write amp 1.0, got %f", sample.WriteAmp)
	}
	if sample.ThroughputWriteBytes != 1000 {
		t.Errorf("Expected throughput write bytes 1000, got %d", sample.ThroughputWriteBytes)
	}
}

func TestResetZeroesCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordRead(100, 1000, true)
	m.Reset()

	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 ops after reset, got %d", snap.TotalOps)
	}
}

func TestMetricsObserverDelegatesToMetrics(t *testing.T) {
	m := NewMetrics()
	obs := NewMetricsObserver(m)
	obs.ObserveRead(512, 1000, true)
	obs.ObserveWrite(1024, 1024, 2000, true)

	snap := m.Snapshot()
	if snap.ReadBytes != 512 {
		t.Errorf("Expected 512 read bytes via observer, got %d", snap.ReadBytes)
	}
	if snap.WriteHostBytes != 1024 {
		t.Errorf("Expected 1024 write bytes via observer, got %d", snap.WriteHostBytes)
	}
}

package ztl

import (
	"sync/atomic"
	"time"

	"github.com/ipicoli/ztl-go/internal/telemetry"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for a ZTL
// instance. Host bytes are what the caller asked to write; media bytes
// are what was actually appended to zones, so WriteAmp = media/host.
type Metrics struct {
	ReadOps  atomic.Uint64
	WriteOps atomic.Uint64

	ReadBytes       atomic.Uint64
	WriteHostBytes  atomic.Uint64
	WriteMediaBytes atomic.Uint64

	ReadErrors  atomic.Uint64
	WriteErrors atomic.Uint64
	ProvErrors  atomic.Uint64 // PROV_ERR occurrences
	AppendErrs  atomic.Uint64 // APPEND_ERR occurrences

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordRead records a read operation.
func (m *Metrics) RecordRead(bytes uint64, latencyNs uint64, success bool) {
	m.ReadOps.Add(1)
	if success {
		m.ReadBytes.Add(bytes)
	} else {
		m.ReadErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordWrite records a write operation: hostBytes is the caller's
// payload size, mediaBytes is the total sectors actually appended across
// every mcmd fragment (hostBytes padded/rounded by sector size plus any
// zone-finish waste).
func (m *Metrics) RecordWrite(hostBytes, mediaBytes uint64, latencyNs uint64, success bool) {
	m.WriteOps.Add(1)
	if success {
		m.WriteHostBytes.Add(hostBytes)
		m.WriteMediaBytes.Add(mediaBytes)
	} else {
		m.WriteErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordProvErr records a PROV_ERR outcome.
func (m *Metrics) RecordProvErr() { m.ProvErrors.Add(1) }

// RecordAppendErr records an APPEND_ERR outcome.
func (m *Metrics) RecordAppendErr() { m.AppendErrs.Add(1) }

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the instance as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	ReadOps  uint64
	WriteOps uint64

	ReadBytes       uint64
	WriteHostBytes  uint64
	WriteMediaBytes uint64

	ReadErrors  uint64
	WriteErrors uint64
	ProvErrors  uint64
	AppendErrs  uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	ReadIOPS       float64
	WriteIOPS      float64
	ReadBandwidth  float64
	WriteBandwidth float64
	TotalOps       uint64
	TotalBytes     uint64
	ErrorRate      float64

	// WriteAmp is WriteMediaBytes/WriteHostBytes, the ratio the
	// telemetry file sink reports as wamp_ztl.
	WriteAmp float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ReadOps:         m.ReadOps.Load(),
		WriteOps:        m.WriteOps.Load(),
		ReadBytes:       m.ReadBytes.Load(),
		WriteHostBytes:  m.WriteHostBytes.Load(),
		WriteMediaBytes: m.WriteMediaBytes.Load(),
		ReadErrors:      m.ReadErrors.Load(),
		WriteErrors:     m.WriteErrors.Load(),
		ProvErrors:      m.ProvErrors.Load(),
		AppendErrs:      m.AppendErrs.Load(),
	}

	snap.TotalOps = snap.ReadOps + snap.WriteOps
	snap.TotalBytes = snap.ReadBytes + snap.WriteHostBytes

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.ReadIOPS = float64(snap.ReadOps) / uptimeSeconds
		snap.WriteIOPS = float64(snap.WriteOps) / uptimeSeconds
		snap.ReadBandwidth = float64(snap.ReadBytes) / uptimeSeconds
		snap.WriteBandwidth = float64(snap.WriteHostBytes) / uptimeSeconds
	}

	totalErrors := snap.ReadErrors + snap.WriteErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	if snap.WriteHostBytes > 0 {
		snap.WriteAmp = float64(snap.WriteMediaBytes) / float64(snap.WriteHostBytes)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters except WriteAmp's cumulative
// denominator/numerator pair, which telemetry.Source.Reset also zeroes on
// each emission tick (SPEC_FULL.md §6.3).
func (m *Metrics) Reset() {
	m.ReadOps.Store(0)
	m.WriteOps.Store(0)
	m.ReadBytes.Store(0)
	m.WriteHostBytes.Store(0)
	m.WriteMediaBytes.Store(0)
	m.ReadErrors.Store(0)
	m.WriteErrors.Store(0)
	m.ProvErrors.Store(0)
	m.AppendErrs.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Sample implements telemetry.Source: one tick's throughput/IOPS/write-amp
// values, read since the last Reset.
func (m *Metrics) Sample() telemetry.Sample {
	readBytes := m.ReadBytes.Load()
	writeBytes := m.WriteHostBytes.Load()
	mediaBytes := m.WriteMediaBytes.Load()
	wamp := 0.0
	if writeBytes > 0 {
		wamp = float64(mediaBytes) / float64(writeBytes)
	}
	return telemetry.Sample{
		ThroughputBytes:      readBytes + writeBytes,
		ThroughputWriteBytes: writeBytes,
		ThroughputReadBytes:  readBytes,
		IOPS:                 m.ReadOps.Load() + m.WriteOps.Load(),
		WriteAmp:             wamp,
	}
}

var _ telemetry.Source = (*Metrics)(nil)

// Observer allows pluggable metrics collection, mirroring the teacher's
// Observer/NoOpObserver/MetricsObserver triad.
type Observer interface {
	ObserveRead(bytes uint64, latencyNs uint64, success bool)
	ObserveWrite(hostBytes, mediaBytes uint64, latencyNs uint64, success bool)
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRead(uint64, uint64, bool)          {}
func (NoOpObserver) ObserveWrite(uint64, uint64, uint64, bool) {}

// MetricsObserver implements Observer using the built-in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveRead(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordRead(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveWrite(hostBytes, mediaBytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordWrite(hostBytes, mediaBytes, latencyNs, success)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)

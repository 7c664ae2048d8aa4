// Package telemetry implements the file-sink + Prometheus registry
// described in SPEC_FULL.md §6.3: once a second it drains a Source's
// counters into the `/tmp/ztl_prometheus_*` files the original
// `xapp_prometheus_flush` wrote, resetting them after each emission, and
// mirrors the same values onto prometheus.Gauge instruments so the CLI
// harness can additionally serve them over promhttp.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ipicoli/ztl-go/internal/constants"
)

// Sample is one tick's worth of counters, as read from a Source.
type Sample struct {
	ThroughputBytes      uint64
	ThroughputWriteBytes uint64
	ThroughputReadBytes  uint64
	IOPS                 uint64
	WriteAmp             float64
}

// Source supplies one tick's Sample and resets its underlying counters
// once the tick has been emitted, mirroring xapp_prometheus_flush's
// read-then-zero discipline. WriteAmp is cumulative and is not reset.
type Source interface {
	Sample() Sample
	Reset()
}

const filePrefix = "/tmp/ztl_prometheus_"

var fileNames = map[string]func(Sample) float64{
	"thput":    func(s Sample) float64 { return float64(s.ThroughputBytes) },
	"thput_w":  func(s Sample) float64 { return float64(s.ThroughputWriteBytes) },
	"thput_r":  func(s Sample) float64 { return float64(s.ThroughputReadBytes) },
	"iops":     func(s Sample) float64 { return float64(s.IOPS) },
	"wamp_ztl": func(s Sample) float64 { return s.WriteAmp },
}

// Reporter ticks once per second, writing the file sink and updating the
// mirrored Prometheus gauges.
type Reporter struct {
	source Source
	gauges map[string]prometheus.Gauge
	dir    string

	mu      sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

// NewReporter creates a reporter backed by source, registering one gauge
// per emitted metric name (`ztl_<name>`) with reg.
func NewReporter(source Source, reg prometheus.Registerer) *Reporter {
	gauges := make(map[string]prometheus.Gauge, len(fileNames))
	for name := range fileNames {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ztl",
			Name:      name,
			Help:      fmt.Sprintf("ZTL %s, sampled once per second", name),
		})
		reg.MustRegister(g)
		gauges[name] = g
	}
	return &Reporter{
		source:  source,
		gauges:  gauges,
		dir:     filepath.Dir(filePrefix),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start runs the emission loop until Stop is called.
func (r *Reporter) Start() {
	go r.run()
}

func (r *Reporter) run() {
	defer close(r.stopped)
	ticker := time.NewTicker(constants.TelemetryFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.emit()
		case <-r.stop:
			return
		}
	}
}

func (r *Reporter) emit() {
	r.mu.Lock()
	defer r.mu.Unlock()

	sample := r.source.Sample()
	r.source.Reset()

	for name, extract := range fileNames {
		value := extract(sample)
		r.gauges[name].Set(value)
		path := filePrefix + name
		_ = os.WriteFile(path, []byte(fmt.Sprintf("%f\n", value)), 0o644)
	}
}

// Stop halts the emission loop and waits for it to exit.
func (r *Reporter) Stop() {
	close(r.stop)
	<-r.stopped
}

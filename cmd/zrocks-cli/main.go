package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ipicoli/ztl-go"
	"github.com/ipicoli/ztl-go/cmd/zrocks-cli/httpstatus"
	"github.com/ipicoli/ztl-go/internal/logging"
	"github.com/ipicoli/ztl-go/internal/media/simulated"
	"github.com/ipicoli/ztl-go/internal/uapi"
)

func main() {
	var (
		sizeStr     = flag.String("size", "64M", "Size of each zone's capacity (e.g., 64M, 1G)")
		numGroups   = flag.Int("groups", 8, "Number of provisioning groups")
		writeDepth  = flag.Int("write-depth", 32, "Write-caller pipeline depth per group")
		sectorSize  = flag.Int("sector-size", 512, "Device logical sector size")
		zonesPerGrp = flag.Int("zones-per-group", 512, "Zones per provisioning group")
		verbose     = flag.Bool("v", false, "Verbose output")
		httpAddr    = flag.String("http", "", "If set, serve /status /groups/{id} /metrics on this address")
	)
	flag.Parse()

	zoneCap, err := parseSize(*sizeStr)
	if err != nil {
		log.Fatalf("invalid size %q: %v", *sizeStr, err)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	geo := uapi.Geometry{
		NumGroups:      uint32(*numGroups),
		PUnitsPerGroup: 1,
		ZonesPerPUnit:  uint32(*zonesPerGrp),
		SectorsPerZone: uint64(zoneCap) / uint64(*sectorSize),
		SectorSize:     uint32(*sectorSize),
	}
	media := simulated.New(geo)

	registry := prometheus.NewRegistry()
	metrics := ztl.NewMetrics()

	logger.Info("initializing instance",
		"groups", *numGroups, "zone_capacity", formatSize(zoneCap), "sector_size", *sectorSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const maxLogicalID = 1 << 20
	inst, err := ztl.Init(ctx, ztl.Params{
		NumGroups:    *numGroups,
		WriteDepth:   *writeDepth,
		MaxLogicalID: maxLogicalID,
	}, ztl.Options{Media: media, Metrics: metrics, Registerer: registry})
	if err != nil {
		logger.Error("failed to initialize instance", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("stopping instance")
		inst.Exit(context.Background())
	}()

	logger.Info("instance ready", "groups", inst.NumGroups())
	fmt.Printf("Instance ready: %d groups, %s zones, sector size %d\n", inst.NumGroups(), formatSize(zoneCap), *sectorSize)

	var statusSrv *httpstatus.Server
	if *httpAddr != "" {
		statusSrv = httpstatus.New(*httpAddr, inst, registry)
		go func() {
			logger.Info("status server listening", "addr", *httpAddr)
			if err := statusSrv.ListenAndServe(); err != nil {
				logger.Error("status server exited", "error", err)
			}
		}()
		defer statusSrv.Close()
		fmt.Printf("Status server: http://%s/status\n", *httpAddr)
	}

	demoID := newLogicalID() % maxLogicalID
	payload := []byte(fmt.Sprintf("hello from zrocks-cli at %s", time.Now().Format(time.RFC3339)))
	if err := inst.New(ctx, demoID, payload, 0); err != nil {
		logger.Error("demo write failed", "error", err)
	} else {
		logger.Info("demo object written", "id", demoID, "bytes", len(payload))
	}

	fmt.Printf("\nPress Ctrl+C to stop...\n")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	cancel()
}

// newLogicalID generates a fresh object id from a random UUID's first
// eight bytes, as the ledger service does for transaction ids
// (uuid.New().String()) but truncated to the uint64 logical-id space this
// module's mapping table uses.
func newLogicalID() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}

// parseSize parses a size string like "64M", "1G", "512K".
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)

	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	default:
		numStr = s
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}

// formatSize formats a byte count as a human-readable string.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}

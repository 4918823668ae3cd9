package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsFeed        int64
	errorsEngine      int64
	warnsFeed         int64
	warnsEngine       int64
	snapshotsReceived int64
	diffsReceived     int64
	rebuilds          int64
	reconnects        int64
	exports           int64
	channels          sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "feed") {
		atomic.AddInt64(&warnsFeed, 1)
	} else if strings.Contains(component, "engine") {
		atomic.AddInt64(&warnsEngine, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "feed") {
		atomic.AddInt64(&errorsFeed, 1)
	} else if strings.Contains(component, "engine") {
		atomic.AddInt64(&errorsEngine, 1)
	}
}

// IncrementSnapshotReceived counts a classified snapshot message of the
// given wire size.
func IncrementSnapshotReceived(size int) {
	atomic.AddInt64(&snapshotsReceived, 1)
	recordChannel("feed_snapshot", size)
}

// IncrementDiffReceived counts a classified diff message of the given
// wire size.
func IncrementDiffReceived(size int) {
	atomic.AddInt64(&diffsReceived, 1)
	recordChannel("feed_diff", size)
}

// IncrementRebuild counts one view materialization pass.
func IncrementRebuild() {
	atomic.AddInt64(&rebuilds, 1)
}

// IncrementReconnect counts one reconnect cycle of the feed adapter.
func IncrementReconnect() {
	atomic.AddInt64(&reconnects, 1)
}

// IncrementExport counts one view export of the given encoded size.
func IncrementExport(size int64) {
	atomic.AddInt64(&exports, 1)
	recordChannel("view_export", int(size))
}

// RecordChannelMessage tallies a message against a named channel.
func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// StartReport begins periodic logging of system and channel statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_feed":        atomic.LoadInt64(&errorsFeed),
		"errors_engine":      atomic.LoadInt64(&errorsEngine),
		"warns_feed":         atomic.LoadInt64(&warnsFeed),
		"warns_engine":       atomic.LoadInt64(&warnsEngine),
		"snapshots_received": atomic.LoadInt64(&snapshotsReceived),
		"diffs_received":     atomic.LoadInt64(&diffsReceived),
		"rebuilds":           atomic.LoadInt64(&rebuilds),
		"reconnects":         atomic.LoadInt64(&reconnects),
		"exports":            atomic.LoadInt64(&exports),
		"goroutines":         runtime.NumGoroutine(),
		"cpu_percent":        cpuPct,
		"memory_mb":          int64(memStats.Used) / 1024 / 1024,
		"disk_mb":            int64(diskStats.Used) / 1024 / 1024,
		"channels":           channelData,
		"net_bytes_sent":     int64(bytesSent),
		"net_bytes_recv":     int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsFeed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsFeed)))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsEngine"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsEngine)))},
		cwtypes.MetricDatum{MetricName: aws.String("SnapshotsReceived"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&snapshotsReceived)))},
		cwtypes.MetricDatum{MetricName: aws.String("DiffsReceived"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&diffsReceived)))},
		cwtypes.MetricDatum{MetricName: aws.String("Rebuilds"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&rebuilds)))},
		cwtypes.MetricDatum{MetricName: aws.String("Reconnects"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&reconnects)))},
		cwtypes.MetricDatum{MetricName: aws.String("Exports"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&exports)))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}

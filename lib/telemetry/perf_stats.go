package telemetry

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.opentelemetry.io/otel"
)

var meter = otel.Meter("solwatch.perf_stats")
var cpuGauge, _ = meter.Float64Gauge("process_cpu_percent")
var rssGauge, _ = meter.Int64Gauge("process_rss_mb")
var heapGauge, _ = meter.Int64Gauge("heap_allocated_mb")
var goroutineGauge, _ = meter.Int64Gauge("goroutine_count")
var childrenGauge, _ = meter.Int64Gauge("child_process_count")

// InstrumentPerfStats samples process statistics every 30 seconds until ctx
// is done. The child process count tracks leaked browser processes.
func InstrumentPerfStats(ctx context.Context) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		slog.Warn("perf stats disabled", "err", err)
		return
	}

	go func() {
		var memStats runtime.MemStats
		ticker := time.NewTicker(time.Second * 30)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				runtime.ReadMemStats(&memStats)
				heapGauge.Record(ctx, int64(memStats.Alloc/1_000_000))
				goroutineGauge.Record(ctx, int64(runtime.NumGoroutine()))

				cpuUsage, err := proc.PercentWithContext(ctx, 0)
				if err == nil {
					cpuGauge.Record(ctx, cpuUsage)
				}
				mem, err := proc.MemoryInfoWithContext(ctx)
				if err == nil {
					rssGauge.Record(ctx, int64(mem.RSS/1_000_000))
				}
				children, err := proc.ChildrenWithContext(ctx)
				if err == nil {
					childrenGauge.Record(ctx, int64(len(children)))
				} else {
					childrenGauge.Record(ctx, 0)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

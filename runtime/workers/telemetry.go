package workers

import (
	"context"
	"dm-relay/contract"
	"dm-relay/observability"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

const DefaultMetricInterval = 10 * time.Second

// TelemetryWorker periodically samples the registry and the process itself
// and publishes the figures as gauges.
type TelemetryWorker struct {
	log      *slog.Logger
	registry contract.IRegistry
	metrics  *observability.Metrics
	interval time.Duration
}

func NewTelemetryWorker(
	log *slog.Logger,
	registry contract.IRegistry,
	metrics *observability.Metrics,
	interval time.Duration,
) *TelemetryWorker {
	if interval <= 0 {
		interval = DefaultMetricInterval
	}
	return &TelemetryWorker{log: log, registry: registry, metrics: metrics, interval: interval}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		// Presence figures are still worth publishing.
		w.log.Warn("Process stats unavailable", "error", err)
		proc = nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sample(proc)
		}
	}
}

func (w *TelemetryWorker) sample(proc *process.Process) {
	stats := w.registry.Stats()
	w.metrics.SetPresence(stats.OnlineUsers, stats.Sessions)

	if proc == nil {
		w.log.Debug("Telemetry", "online_users", stats.OnlineUsers, "sessions", stats.Sessions)
		return
	}
	var rss uint64
	if mem, err := proc.MemoryInfo(); err == nil {
		rss = mem.RSS
	}
	cpu, err := proc.CPUPercent()
	if err != nil {
		cpu = 0
	}
	w.metrics.SetProcess(rss, cpu)
	w.log.Debug("Telemetry",
		"online_users", stats.OnlineUsers,
		"sessions", stats.Sessions,
		"rss_bytes", rss,
		"cpu_percent", cpu)
}

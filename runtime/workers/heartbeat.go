package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// Gauges are read on every heartbeat.
type Gauges struct {
	Sessions       func() int
	Channels       func() int
	CachedChannels func() int
}

type Stats struct {
	Sessions       int
	Channels       int
	CachedChannels int
	RSS            uint64
	CPUPercent     float64
	Status         string
}

// HeartbeatWorker logs the hub occupancy with the process health at a fixed interval.
type HeartbeatWorker struct {
	log      *slog.Logger
	interval time.Duration
	gauges   Gauges
}

func NewHeartbeatWorker(log *slog.Logger, interval time.Duration, gauges Gauges) *HeartbeatWorker {
	return &HeartbeatWorker{log: log, interval: interval, gauges: gauges}
}

func (w *HeartbeatWorker) Run(ctx context.Context) error {
	w.log.Info("Starting heartbeat worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			stats, err := w.collect(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "error", err)
				continue
			}
			w.log.Info("Heartbeat",
				"sessions", stats.Sessions,
				"channels", stats.Channels,
				"cached_channels", stats.CachedChannels,
				"rss_bytes", stats.RSS,
				"cpu_percent", stats.CPUPercent,
				"status", stats.Status,
			)
		}
	}
}

func (w *HeartbeatWorker) collect(p *process.Process) (Stats, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return Stats{}, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return Stats{}, err
	}
	status, err := p.Status()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Sessions:       read(w.gauges.Sessions),
		Channels:       read(w.gauges.Channels),
		CachedChannels: read(w.gauges.CachedChannels),
		RSS:            memInfo.RSS,
		CPUPercent:     cpuPercent,
		Status:         status,
	}, nil
}

func read(gauge func() int) int {
	if gauge == nil {
		return 0
	}
	return gauge()
}

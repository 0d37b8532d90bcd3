package stats

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"

	"wavebot/database"
	"wavebot/session"
)

// History is the lifetime activity store behind the stats.
type History interface {
	Totals(ctx context.Context) (database.Totals, error)
	TopGuilds(ctx context.Context, limit int) ([]database.GuildActivity, error)
}

type Snapshot struct {
	Uptime              time.Duration            `json:"-"`
	UptimeText          string                   `json:"uptime"`
	Guilds              int                      `json:"guilds"`
	Sessions            int                      `json:"sessions"`
	Playing             int                      `json:"playing"`
	MemoryBytes         uint64                   `json:"memoryBytes"`
	SystemMemoryPercent float64                  `json:"systemMemoryPercent"`
	CPUPercent          float64                  `json:"cpuPercent"`
	SystemCPUPercent    float64                  `json:"systemCpuPercent"`
	Goroutines          int                      `json:"goroutines"`
	LifetimeJoins       int64                    `json:"lifetimeJoins"`
	LifetimePlays       int64                    `json:"lifetimePlays"`
	TopGuilds           []database.GuildActivity `json:"topGuilds,omitempty"`
}

// Collector assembles Snapshots from the registry, the gateway and the host.
type Collector struct {
	startedAt time.Time
	registry  *session.Registry
	guilds    func() int
	history   History
	process   *process.Process
	now       func() time.Time
	logger    *log.Entry
}

// NewCollector builds a collector. guilds and history may be nil.
func NewCollector(registry *session.Registry, guilds func() int, history History) *Collector {
	logger := log.WithFields(log.Fields{
		"module": "stats",
	})

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warnf("process metrics unavailable: %v", err)
		proc = nil
	}

	return &Collector{
		startedAt: time.Now(),
		registry:  registry,
		guilds:    guilds,
		history:   history,
		process:   proc,
		now:       time.Now,
		logger:    logger,
	}
}

func (c *Collector) Snapshot(ctx context.Context) Snapshot {
	uptime := c.now().Sub(c.startedAt)
	snapshot := Snapshot{
		Uptime:     uptime,
		UptimeText: FormatUptime(uptime),
		Sessions:   c.registry.Count(),
		Playing:    c.registry.CountPlaying(),
		Goroutines: runtime.NumGoroutine(),
	}
	if c.guilds != nil {
		snapshot.Guilds = c.guilds()
	}

	c.readHost(ctx, &snapshot)
	c.readHistory(ctx, &snapshot)
	return snapshot
}

func (c *Collector) readHost(ctx context.Context, snapshot *Snapshot) {
	if c.process != nil {
		if info, err := c.process.MemoryInfoWithContext(ctx); err == nil {
			snapshot.MemoryBytes = info.RSS
		} else {
			c.logger.Debugf("error reading process memory: %v", err)
		}
		if percent, err := c.process.PercentWithContext(ctx, 0); err == nil {
			snapshot.CPUPercent = percent
		} else {
			c.logger.Debugf("error reading process cpu: %v", err)
		}
	}
	if snapshot.MemoryBytes == 0 {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		snapshot.MemoryBytes = memStats.Sys
	}

	if virtualMem, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snapshot.SystemMemoryPercent = virtualMem.UsedPercent
	}
	if percentages, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percentages) > 0 {
		snapshot.SystemCPUPercent = percentages[0]
	}
}

func (c *Collector) readHistory(ctx context.Context, snapshot *Snapshot) {
	if c.history == nil {
		return
	}
	totals, err := c.history.Totals(ctx)
	if err != nil {
		c.logger.Warnf("error reading lifetime totals: %v", err)
		return
	}
	snapshot.LifetimeJoins = totals.Joins
	snapshot.LifetimePlays = totals.Plays

	top, err := c.history.TopGuilds(ctx, 5)
	if err != nil {
		c.logger.Warnf("error reading top guilds: %v", err)
		return
	}
	snapshot.TopGuilds = top
}

func FormatBytes(bytes uint64) string {
	return humanize.Bytes(bytes)
}

func FormatCount(n int64) string {
	return humanize.Comma(n)
}

// FormatUptime renders d as "1d 2h 3m 4s", leaving out leading zero units.
func FormatUptime(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	d = d.Truncate(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if days > 0 || hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if days > 0 || hours > 0 || minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	parts = append(parts, fmt.Sprintf("%ds", seconds))
	return strings.Join(parts, " ")
}

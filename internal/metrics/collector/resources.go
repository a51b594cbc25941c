package collector

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/docmillproject/docmill/internal/common/util"
	"github.com/docmillproject/docmill/internal/metrics"
)

// ResourceProbe reads host and process resource usage for the resource
// category of a snapshot.
type ResourceProbe interface {
	Probe() (metrics.ResourceMetrics, error)
}

// NoOpResourceProbe reports zero values.  Useful for tests.
type NoOpResourceProbe struct{}

func (p *NoOpResourceProbe) Probe() (metrics.ResourceMetrics, error) {
	return metrics.ResourceMetrics{}, nil
}

// SystemResourceProbe reads resource usage of this process and its host via
// gopsutil. Network rates are deltas between consecutive probes, so the first
// probe reports zero rates. Only the snapshot loop may call Probe, it is not
// safe for concurrent use.
type SystemResourceProbe struct {
	proc          *process.Process
	clock         util.Clock
	diskPath      string
	lastProbeTime time.Time
	lastNetIn     uint64
	lastNetOut    uint64
}

func NewSystemResourceProbe(clock util.Clock) (*SystemResourceProbe, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &SystemResourceProbe{
		proc:     proc,
		clock:    clock,
		diskPath: "/",
	}, nil
}

func (p *SystemResourceProbe) Probe() (metrics.ResourceMetrics, error) {
	cpuPercent, err := p.proc.Percent(0)
	if err != nil {
		return metrics.ResourceMetrics{}, errors.Wrap(err, "failed to read process cpu usage")
	}
	memoryInfo, err := p.proc.MemoryInfo()
	if err != nil {
		return metrics.ResourceMetrics{}, errors.Wrap(err, "failed to read process memory usage")
	}
	memoryPercent, err := p.proc.MemoryPercent()
	if err != nil {
		return metrics.ResourceMetrics{}, errors.Wrap(err, "failed to read process memory percent")
	}
	diskUsage, err := disk.Usage(p.diskPath)
	if err != nil {
		return metrics.ResourceMetrics{}, errors.Wrapf(err, "failed to read disk usage of %s", p.diskPath)
	}
	netCounters, err := net.IOCounters(false)
	if err != nil {
		return metrics.ResourceMetrics{}, errors.Wrap(err, "failed to read network counters")
	}
	numFds, err := p.proc.NumFDs()
	if err != nil {
		return metrics.ResourceMetrics{}, errors.Wrap(err, "failed to read file descriptor count")
	}
	numThreads, err := p.proc.NumThreads()
	if err != nil {
		return metrics.ResourceMetrics{}, errors.Wrap(err, "failed to read thread count")
	}
	pids, err := process.Pids()
	if err != nil {
		return metrics.ResourceMetrics{}, errors.Wrap(err, "failed to list processes")
	}

	var netIn, netOut uint64
	if len(netCounters) > 0 {
		netIn = netCounters[0].BytesRecv
		netOut = netCounters[0].BytesSent
	}
	now := p.clock.Now()
	inRate, outRate := 0.0, 0.0
	if !p.lastProbeTime.IsZero() && netIn >= p.lastNetIn && netOut >= p.lastNetOut {
		if elapsed := now.Sub(p.lastProbeTime).Seconds(); elapsed > 0 {
			inRate = float64(netIn-p.lastNetIn) / elapsed
			outRate = float64(netOut-p.lastNetOut) / elapsed
		}
	}
	p.lastProbeTime = now
	p.lastNetIn = netIn
	p.lastNetOut = netOut

	return metrics.ResourceMetrics{
		CpuUsagePercent:     cpuPercent,
		MemoryUsageBytes:    memoryInfo.RSS,
		MemoryUsagePercent:  float64(memoryPercent),
		DiskUsageBytes:      diskUsage.Used,
		DiskUsagePercent:    diskUsage.UsedPercent,
		NetworkInBytes:      netIn,
		NetworkOutBytes:     netOut,
		NetworkInRate:       inRate,
		NetworkOutRate:      outRate,
		OpenFileDescriptors: int(numFds),
		ThreadCount:         int(numThreads),
		ProcessCount:        len(pids),
	}, nil
}

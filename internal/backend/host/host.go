// Package host exposes machine-wide memory, CPU, disk and network
// statistics as managed resources using gopsutil.
//
// Resources:
//
//	host:type=Memory
//	host:type=CPU
//	host:type=Disk,name=<device>
//	host:type=Network,name=<interface>
package host

import (
	"context"
	"fmt"
	"sort"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"go.uber.org/multierr"

	"github.com/neox5/otelinsight/internal/resource"
)

// Domain is the identity domain of host resources.
const Domain = "host"

const (
	typeMemory  = "Memory"
	typeCPU     = "CPU"
	typeDisk    = "Disk"
	typeNetwork = "Network"
)

var descriptions = map[string]map[string]string{
	typeMemory: {
		"Total":       "Total physical memory in bytes.",
		"Available":   "Memory available for new allocations in bytes.",
		"Used":        "Memory in use in bytes.",
		"Free":        "Unused memory in bytes.",
		"UsedPercent": "Memory in use in percent.",
	},
	typeCPU: {
		"Times": "CPU time per mode in seconds, keyed by CPU.",
		"Load":  "System load averages.",
		"Count": "Number of logical CPUs.",
	},
	typeDisk: {
		"ReadCount":  "Completed reads.",
		"WriteCount": "Completed writes.",
		"ReadBytes":  "Bytes read.",
		"WriteBytes": "Bytes written.",
		"IoTime":     "Time spent doing I/O in milliseconds.",
	},
	typeNetwork: {
		"BytesSent":   "Bytes sent.",
		"BytesRecv":   "Bytes received.",
		"PacketsSent": "Packets sent.",
		"PacketsRecv": "Packets received.",
		"Errin":       "Receive errors.",
		"Errout":      "Transmit errors.",
		"Dropin":      "Dropped incoming packets.",
		"Dropout":     "Dropped outgoing packets.",
	},
}

// Options configures the backend.
type Options struct {
	// PerCPU adds one row per CPU to the "cpu-total" row of CPU times.
	PerCPU bool
}

// Backend reads host statistics on every access.
type Backend struct {
	perCPU bool

	virtualMemory func(context.Context) (*mem.VirtualMemoryStat, error)
	cpuTimes      func(context.Context, bool) ([]cpu.TimesStat, error)
	cpuCounts     func(context.Context, bool) (int, error)
	loadAvg       func(context.Context) (*load.AvgStat, error)
	diskIO        func(context.Context, ...string) (map[string]disk.IOCountersStat, error)
	netIO         func(context.Context, bool) ([]net.IOCountersStat, error)
}

var (
	_ resource.Backend   = (*Backend)(nil)
	_ resource.Describer = (*Backend)(nil)
)

// New creates a host backend.
func New(opts Options) *Backend {
	return &Backend{
		perCPU:        opts.PerCPU,
		virtualMemory: mem.VirtualMemoryWithContext,
		cpuTimes:      cpu.TimesWithContext,
		cpuCounts:     cpu.CountsWithContext,
		loadAvg:       load.AvgWithContext,
		diskIO:        disk.IOCountersWithContext,
		netIO:         net.IOCountersWithContext,
	}
}

// Name implements resource.Backend.
func (b *Backend) Name() string { return "host" }

// Query implements resource.Backend. Disk and network enumeration errors
// are only reported when nothing else matched.
func (b *Backend) Query(ctx context.Context, p resource.Pattern) ([]resource.Identity, error) {
	if !p.MatchesDomain(Domain) {
		return nil, nil
	}

	candidates := []resource.Identity{
		identity(typeMemory, ""),
		identity(typeCPU, ""),
	}

	var errs error
	if counters, err := b.diskIO(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("disk counters: %w", err))
	} else {
		for name := range counters {
			candidates = append(candidates, identity(typeDisk, name))
		}
	}
	if counters, err := b.netIO(ctx, true); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("network counters: %w", err))
	} else {
		for _, c := range counters {
			candidates = append(candidates, identity(typeNetwork, c.Name))
		}
	}

	var out []resource.Identity
	for _, id := range candidates {
		if !id.IsZero() && p.Matches(id) {
			out = append(out, id)
		}
	}
	if len(out) == 0 && errs != nil {
		return nil, errs
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// identity returns the zero Identity for names that cannot be represented.
func identity(kind, name string) resource.Identity {
	props := map[string]string{"type": kind}
	if name != "" {
		props["name"] = name
	}
	id, err := resource.NewIdentity(Domain, props)
	if err != nil {
		return resource.Identity{}
	}
	return id
}

// Attribute implements resource.Backend.
func (b *Backend) Attribute(ctx context.Context, id resource.Identity, name string) (resource.Value, error) {
	if id.Domain() != Domain {
		return resource.Value{}, fmt.Errorf("%s: %w", id, resource.ErrNotFound)
	}
	kind, _ := id.Property("type")
	if _, ok := descriptions[kind][name]; !ok {
		return resource.Value{}, fmt.Errorf("%s has no attribute %q: %w", id, name, resource.ErrNotFound)
	}
	device, _ := id.Property("name")

	switch kind {
	case typeMemory:
		return b.readMemory(ctx, name)
	case typeCPU:
		return b.readCPU(ctx, name)
	case typeDisk:
		return b.readDisk(ctx, device, name)
	case typeNetwork:
		return b.readNetwork(ctx, device, name)
	}
	return resource.Value{}, fmt.Errorf("%s: %w", id, resource.ErrNotFound)
}

func (b *Backend) readMemory(ctx context.Context, name string) (resource.Value, error) {
	vm, err := b.virtualMemory(ctx)
	if err != nil {
		return resource.Value{}, fmt.Errorf("virtual memory: %w", err)
	}
	switch name {
	case "Total":
		return resource.Uint(vm.Total), nil
	case "Available":
		return resource.Uint(vm.Available), nil
	case "Used":
		return resource.Uint(vm.Used), nil
	case "Free":
		return resource.Uint(vm.Free), nil
	default:
		return resource.Float(vm.UsedPercent), nil
	}
}

func (b *Backend) readCPU(ctx context.Context, name string) (resource.Value, error) {
	switch name {
	case "Times":
		times, err := b.cpuTimes(ctx, false)
		if err != nil {
			return resource.Value{}, fmt.Errorf("cpu times: %w", err)
		}
		if b.perCPU {
			per, err := b.cpuTimes(ctx, true)
			if err != nil {
				return resource.Value{}, fmt.Errorf("per-cpu times: %w", err)
			}
			times = append(times, per...)
		}
		rows := make(map[string]resource.Value, len(times))
		for _, t := range times {
			rows[t.CPU] = resource.Composite(map[string]resource.Value{
				"user":    resource.Float(t.User),
				"system":  resource.Float(t.System),
				"idle":    resource.Float(t.Idle),
				"nice":    resource.Float(t.Nice),
				"iowait":  resource.Float(t.Iowait),
				"irq":     resource.Float(t.Irq),
				"softirq": resource.Float(t.Softirq),
				"steal":   resource.Float(t.Steal),
			})
		}
		return resource.Tabular(rows), nil
	case "Load":
		avg, err := b.loadAvg(ctx)
		if err != nil {
			return resource.Value{}, fmt.Errorf("load average: %w", err)
		}
		return resource.Composite(map[string]resource.Value{
			"load1":  resource.Float(avg.Load1),
			"load5":  resource.Float(avg.Load5),
			"load15": resource.Float(avg.Load15),
		}), nil
	default:
		n, err := b.cpuCounts(ctx, true)
		if err != nil {
			return resource.Value{}, fmt.Errorf("cpu count: %w", err)
		}
		return resource.Int(int64(n)), nil
	}
}

func (b *Backend) readDisk(ctx context.Context, device, name string) (resource.Value, error) {
	counters, err := b.diskIO(ctx, device)
	if err != nil {
		return resource.Value{}, fmt.Errorf("disk counters: %w", err)
	}
	c, ok := counters[device]
	if !ok {
		return resource.Value{}, fmt.Errorf("disk %q: %w", device, resource.ErrNotFound)
	}
	switch name {
	case "ReadCount":
		return resource.Uint(c.ReadCount), nil
	case "WriteCount":
		return resource.Uint(c.WriteCount), nil
	case "ReadBytes":
		return resource.Uint(c.ReadBytes), nil
	case "WriteBytes":
		return resource.Uint(c.WriteBytes), nil
	default:
		return resource.Uint(c.IoTime), nil
	}
}

func (b *Backend) readNetwork(ctx context.Context, device, name string) (resource.Value, error) {
	counters, err := b.netIO(ctx, true)
	if err != nil {
		return resource.Value{}, fmt.Errorf("network counters: %w", err)
	}
	for _, c := range counters {
		if c.Name != device {
			continue
		}
		switch name {
		case "BytesSent":
			return resource.Uint(c.BytesSent), nil
		case "BytesRecv":
			return resource.Uint(c.BytesRecv), nil
		case "PacketsSent":
			return resource.Uint(c.PacketsSent), nil
		case "PacketsRecv":
			return resource.Uint(c.PacketsRecv), nil
		case "Errin":
			return resource.Uint(c.Errin), nil
		case "Errout":
			return resource.Uint(c.Errout), nil
		case "Dropin":
			return resource.Uint(c.Dropin), nil
		default:
			return resource.Uint(c.Dropout), nil
		}
	}
	return resource.Value{}, fmt.Errorf("interface %q: %w", device, resource.ErrNotFound)
}

// Describe implements resource.Describer.
func (b *Backend) Describe(id resource.Identity, name string) string {
	kind, _ := id.Property("type")
	return descriptions[kind][name]
}

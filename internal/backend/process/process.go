// Package process exposes operating system processes as managed resources
// using gopsutil.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/neox5/otelinsight/internal/resource"
)

// Domain is the identity domain of process resources.
const Domain = "process"

const defaultCacheSize = 64

var descriptions = map[string]string{
	"NumThreads": "Number of OS threads used by the process.",
	"NumFDs":     "Number of open file descriptors.",
	"Memory":     "Memory usage of the process in bytes.",
	"CPU":        "CPU time consumed by the process in seconds.",
	"IO":         "Disk I/O performed by the process.",
	"Status":     "Process status.",
	"Running":    "Whether the process is running.",
	"CreateTime": "Process start time in milliseconds since the epoch.",
	"CPUPercent": "CPU usage of the process in percent of one core.",
	"Username":   "Owner of the process.",
}

// Options configures the backend.
type Options struct {
	// PIDs to expose. Empty means the current process.
	PIDs []int32
	// CacheSize bounds the number of cached process handles.
	CacheSize int
	Logger    *slog.Logger
}

// Backend reads process attributes on every access.
type Backend struct {
	pids   []int32
	cache  *lru.Cache[int32, *process.Process]
	logger *slog.Logger

	newProcess func(context.Context, int32) (*process.Process, error)
}

var (
	_ resource.Backend   = (*Backend)(nil)
	_ resource.Describer = (*Backend)(nil)
)

// New creates a process backend.
func New(opts Options) (*Backend, error) {
	pids := opts.PIDs
	if len(pids) == 0 {
		pids = []int32{int32(os.Getpid())}
	}
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := lru.New[int32, *process.Process](size)
	if err != nil {
		return nil, fmt.Errorf("create process cache: %w", err)
	}

	return &Backend{
		pids:       pids,
		cache:      cache,
		logger:     logger.With("component", "backend", "backend", "process"),
		newProcess: process.NewProcessWithContext,
	}, nil
}

// Name implements resource.Backend.
func (b *Backend) Name() string { return "process" }

// Query implements resource.Backend. Processes that no longer exist are
// skipped.
func (b *Backend) Query(ctx context.Context, p resource.Pattern) ([]resource.Identity, error) {
	var out []resource.Identity
	for _, pid := range b.pids {
		id, err := b.identity(ctx, pid)
		if err != nil {
			b.logger.Debug("process unavailable", "pid", pid, "error", err)
			continue
		}
		if p.Matches(id) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (b *Backend) identity(ctx context.Context, pid int32) (resource.Identity, error) {
	proc, err := b.handle(ctx, pid)
	if err != nil {
		return resource.Identity{}, err
	}
	name, err := proc.NameWithContext(ctx)
	if err != nil {
		b.cache.Remove(pid)
		return resource.Identity{}, err
	}
	if name == "" {
		name = "unknown"
	}
	return resource.NewIdentity(Domain, map[string]string{
		"pid":  strconv.Itoa(int(pid)),
		"name": name,
	})
}

func (b *Backend) handle(ctx context.Context, pid int32) (*process.Process, error) {
	if proc, ok := b.cache.Get(pid); ok {
		return proc, nil
	}
	proc, err := b.newProcess(ctx, pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil, fmt.Errorf("pid %d: %w", pid, resource.ErrNotFound)
		}
		return nil, err
	}
	b.cache.Add(pid, proc)
	return proc, nil
}

// Attribute implements resource.Backend.
func (b *Backend) Attribute(ctx context.Context, id resource.Identity, name string) (resource.Value, error) {
	if id.Domain() != Domain {
		return resource.Value{}, fmt.Errorf("%s: %w", id, resource.ErrNotFound)
	}
	raw, _ := id.Property("pid")
	pid, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return resource.Value{}, fmt.Errorf("%s: invalid pid: %w", id, err)
	}

	proc, err := b.handle(ctx, int32(pid))
	if err != nil {
		return resource.Value{}, err
	}

	v, err := read(ctx, proc, name)
	if err != nil {
		if running, rerr := proc.IsRunningWithContext(ctx); rerr == nil && !running {
			b.cache.Remove(int32(pid))
			return resource.Value{}, fmt.Errorf("%s: %w", id, resource.ErrNotFound)
		}
		return resource.Value{}, fmt.Errorf("read %s of %s: %w", name, id, err)
	}
	return v, nil
}

func read(ctx context.Context, proc *process.Process, name string) (resource.Value, error) {
	switch name {
	case "NumThreads":
		n, err := proc.NumThreadsWithContext(ctx)
		return resource.Int(int64(n)), err
	case "NumFDs":
		n, err := proc.NumFDsWithContext(ctx)
		return resource.Int(int64(n)), err
	case "Memory":
		m, err := proc.MemoryInfoWithContext(ctx)
		if err != nil {
			return resource.Value{}, err
		}
		return resource.Composite(map[string]resource.Value{
			"rss":    resource.Uint(m.RSS),
			"vms":    resource.Uint(m.VMS),
			"hwm":    resource.Uint(m.HWM),
			"data":   resource.Uint(m.Data),
			"stack":  resource.Uint(m.Stack),
			"locked": resource.Uint(m.Locked),
			"swap":   resource.Uint(m.Swap),
		}), nil
	case "CPU":
		c, err := proc.TimesWithContext(ctx)
		if err != nil {
			return resource.Value{}, err
		}
		return resource.Composite(map[string]resource.Value{
			"user":   resource.Float(c.User),
			"system": resource.Float(c.System),
			"iowait": resource.Float(c.Iowait),
		}), nil
	case "IO":
		c, err := proc.IOCountersWithContext(ctx)
		if err != nil {
			return resource.Value{}, err
		}
		return resource.Composite(map[string]resource.Value{
			"read_count":  resource.Uint(c.ReadCount),
			"write_count": resource.Uint(c.WriteCount),
			"read_bytes":  resource.Uint(c.ReadBytes),
			"write_bytes": resource.Uint(c.WriteBytes),
		}), nil
	case "Status":
		s, err := proc.StatusWithContext(ctx)
		if err != nil {
			return resource.Value{}, err
		}
		if len(s) == 0 {
			return resource.Null(), nil
		}
		return resource.Text(s[0]), nil
	case "Running":
		ok, err := proc.IsRunningWithContext(ctx)
		return resource.Bool(ok), err
	case "CreateTime":
		ms, err := proc.CreateTimeWithContext(ctx)
		return resource.Int(ms), err
	case "CPUPercent":
		pct, err := proc.CPUPercentWithContext(ctx)
		return resource.Float(pct), err
	case "Username":
		u, err := proc.UsernameWithContext(ctx)
		return resource.Text(u), err
	default:
		return resource.Value{}, fmt.Errorf("unknown attribute %q: %w", name, resource.ErrNotFound)
	}
}

// Describe implements resource.Describer.
func (b *Backend) Describe(_ resource.Identity, name string) string {
	return descriptions[name]
}

package rules

import (
	"sort"

	"github.com/neox5/otelinsight/internal/attrpath"
	"github.com/neox5/otelinsight/internal/backend/goruntime"
	"github.com/neox5/otelinsight/internal/backend/host"
	"github.com/neox5/otelinsight/internal/backend/process"
	"github.com/neox5/otelinsight/internal/engine"
	"github.com/neox5/otelinsight/internal/metric"
	"github.com/neox5/otelinsight/internal/resource"
)

// Built-in set names.
const (
	SetRuntime = "runtime"
	SetProcess = "process"
	SetHost    = "host"
	SetEngine  = "engine"
)

var builtins = map[string]func() Set{
	SetRuntime: Runtime,
	SetProcess: Process,
	SetHost:    Host,
	SetEngine:  Engine,
}

// Builtin returns the named built-in set.
func Builtin(name string) (Set, bool) {
	f, ok := builtins[name]
	if !ok {
		return Set{}, false
	}
	return f(), true
}

// Names lists the built-in sets.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func direction(v string) []metric.AttributeSpec {
	return []metric.AttributeSpec{metric.Tag("direction", metric.Const(v))}
}

func tag(name, value string) []metric.AttributeSpec {
	return []metric.AttributeSpec{metric.Tag(name, metric.Const(value))}
}

// Runtime reports Go runtime metrics read through runtime/metrics.
func Runtime() Set {
	return Set{
		Name:   SetRuntime,
		Prefix: "go.",
		Rules: []Rule{
			{
				Patterns: []string{goruntime.Domain + ":type=sched"},
				Mappings: []Mapping{
					{Attribute: "goroutines:goroutines", Metric: "goroutine.count", Kind: "updowncounter", Unit: "{goroutine}",
						Description: "Count of live goroutines."},
					{Attribute: "gomaxprocs:threads", Metric: "processor.limit", Kind: "updowncounter", Unit: "{thread}",
						Description: "The number of OS threads that can execute user-level Go code simultaneously."},
				},
			},
			{
				Patterns: []string{goruntime.Domain + ":type=gc"},
				Mappings: []Mapping{
					{Attribute: "heap.allocs:bytes", Metric: "memory.allocated", Kind: "counter", Unit: "By",
						Description: "Memory allocated to the heap by the application."},
					{Attribute: "heap.allocs:objects", Metric: "memory.allocations", Kind: "counter", Unit: "{allocation}",
						Description: "Count of allocations to the heap by the application."},
					{Attribute: "heap.goal:bytes", Metric: "memory.gc.goal", Unit: "By",
						Description: "Heap size target for the end of the GC cycle."},
					{Attribute: "cycles.total:gc-cycles", Metric: "gc.cycles", Kind: "counter", Unit: "{gc_cycle}"},
					{Attribute: "gogc:percent", Metric: "config.gogc", Unit: "%",
						Description: "Heap size target percentage configured by the user."},
				},
			},
			{
				Patterns: []string{goruntime.Domain + ":type=memory"},
				Mappings: []Mapping{
					{Attribute: "classes.total:bytes", Metric: "memory.used", Kind: "updowncounter", Unit: "By",
						Description: "Memory mapped by the Go runtime into the current process."},
					{Attribute: "classes.heap.objects:bytes", Metric: "memory.heap.objects", Kind: "updowncounter", Unit: "By"},
				},
			},
		},
	}
}

// Process reports OS process metrics, tagged with the process identity.
func Process() Set {
	return Set{
		Name:   SetProcess,
		Prefix: "process.",
		Attributes: []metric.AttributeSpec{
			metric.Tag("process.pid", metric.FromProperty("pid")),
			metric.Tag("process.executable.name", metric.FromProperty("name")),
			metric.Tag("process.owner", metric.FromAttribute(attrpath.MustParse("Username"))),
		},
		Rules: []Rule{{
			Patterns: []string{process.Domain + ":pid=*,name=*"},
			Mappings: []Mapping{
				{Attribute: "NumThreads", Metric: "thread.count", Kind: "updowncounter", Unit: "{thread}"},
				{Attribute: "NumFDs", Metric: "unix.file_descriptor.count", Kind: "updowncounter", Unit: "{file_descriptor}"},
				{Attribute: "Memory.rss", Metric: "memory.usage", Kind: "updowncounter", Unit: "By"},
				{Attribute: "Memory.vms", Metric: "memory.virtual", Kind: "updowncounter", Unit: "By"},
				{Attribute: "CPU.user", Metric: "cpu.time", Kind: "counter", Unit: "s", Attributes: tag("cpu.mode", "user")},
				{Attribute: "CPU.system", Metric: "cpu.time", Kind: "counter", Unit: "s", Attributes: tag("cpu.mode", "system")},
				{Attribute: "CPUPercent", Metric: "cpu.utilization", Unit: "%"},
				{Attribute: "IO.read_bytes", Metric: "disk.io", Kind: "counter", Unit: "By", Attributes: direction("read")},
				{Attribute: "IO.write_bytes", Metric: "disk.io", Kind: "counter", Unit: "By", Attributes: direction("write")},
				{Attribute: "CreateTime", Metric: "start_time", Unit: "s", SourceUnit: "ms",
					Description: "Process start time since the epoch."},
				{
					Attribute: "Status", Metric: "status", Kind: "state",
					Description: "Process status, 1 for the current state.",
					Attributes:  []metric.AttributeSpec{metric.StateTag("process.state")},
					States: map[string][]string{
						"running":  {"running"},
						"sleeping": {"sleep", "idle", "wait"},
						"stopped":  {"stop"},
						"zombie":   {"zombie"},
					},
				},
			},
		}},
	}
}

func notLoopback(id resource.Identity) bool {
	name, _ := id.Property("name")
	return name != "lo" && name != "lo0"
}

// Host reports machine-wide memory, CPU, disk and network metrics.
func Host() Set {
	device := []metric.AttributeSpec{metric.Tag("system.device", metric.FromProperty("name"))}

	return Set{
		Name:   SetHost,
		Prefix: "system.",
		Rules: []Rule{
			{
				Patterns: []string{host.Domain + ":type=Memory"},
				Mappings: []Mapping{
					{Attribute: "Used", Metric: "memory.usage", Kind: "updowncounter", Unit: "By", Attributes: tag("system.memory.state", "used")},
					{Attribute: "Free", Metric: "memory.usage", Kind: "updowncounter", Unit: "By", Attributes: tag("system.memory.state", "free")},
					{Attribute: "Total", Metric: "memory.limit", Kind: "updowncounter", Unit: "By"},
					{Attribute: "UsedPercent", Metric: "memory.utilization", Unit: "%"},
				},
			},
			{
				Patterns: []string{host.Domain + ":type=CPU"},
				Mappings: []Mapping{
					{Attribute: "Times.cpu-total.user", Metric: "cpu.time", Kind: "counter", Unit: "s", Attributes: tag("cpu.mode", "user")},
					{Attribute: "Times.cpu-total.system", Metric: "cpu.time", Kind: "counter", Unit: "s", Attributes: tag("cpu.mode", "system")},
					{Attribute: "Times.cpu-total.idle", Metric: "cpu.time", Kind: "counter", Unit: "s", Attributes: tag("cpu.mode", "idle")},
					{Attribute: "Times.cpu-total.iowait", Metric: "cpu.time", Kind: "counter", Unit: "s", Attributes: tag("cpu.mode", "iowait")},
					{Attribute: "Load.load1", Metric: "cpu.load_average.1m", Unit: "{run_queue_item}"},
					{Attribute: "Load.load5", Metric: "cpu.load_average.5m", Unit: "{run_queue_item}"},
					{Attribute: "Load.load15", Metric: "cpu.load_average.15m", Unit: "{run_queue_item}"},
					{Attribute: "Count", Metric: "cpu.logical.count", Kind: "updowncounter", Unit: "{cpu}"},
				},
			},
			{
				Patterns: []string{host.Domain + ":type=Disk,name=*"},
				Mappings: []Mapping{
					{Attribute: "ReadBytes", Metric: "disk.io", Kind: "counter", Unit: "By", Attributes: append(direction("read"), device...)},
					{Attribute: "WriteBytes", Metric: "disk.io", Kind: "counter", Unit: "By", Attributes: append(direction("write"), device...)},
					{Attribute: "ReadCount", Metric: "disk.operations", Kind: "counter", Unit: "{operation}", Attributes: append(direction("read"), device...)},
					{Attribute: "WriteCount", Metric: "disk.operations", Kind: "counter", Unit: "{operation}", Attributes: append(direction("write"), device...)},
					{Attribute: "IoTime", Metric: "disk.io_time", Kind: "counter", Unit: "s", SourceUnit: "ms", Attributes: device},
				},
			},
			{
				Patterns: []string{host.Domain + ":type=Network,name=*"},
				Filter:   notLoopback,
				Mappings: []Mapping{
					{Attribute: "BytesRecv", Metric: "network.io", Kind: "counter", Unit: "By", Attributes: append(direction("receive"), device...)},
					{Attribute: "BytesSent", Metric: "network.io", Kind: "counter", Unit: "By", Attributes: append(direction("transmit"), device...)},
					{Attribute: "PacketsRecv", Metric: "network.packet.count", Kind: "counter", Unit: "{packet}", Attributes: append(direction("receive"), device...)},
					{Attribute: "PacketsSent", Metric: "network.packet.count", Kind: "counter", Unit: "{packet}", Attributes: append(direction("transmit"), device...)},
					{Attribute: "Errin", Metric: "network.errors", Kind: "counter", Unit: "{error}", Attributes: append(direction("receive"), device...)},
					{Attribute: "Errout", Metric: "network.errors", Kind: "counter", Unit: "{error}", Attributes: append(direction("transmit"), device...)},
					{Attribute: "Dropin", Metric: "network.packet.dropped", Kind: "counter", Unit: "{packet}", Attributes: append(direction("receive"), device...)},
					{Attribute: "Dropout", Metric: "network.packet.dropped", Kind: "counter", Unit: "{packet}", Attributes: append(direction("transmit"), device...)},
				},
			},
		},
	}
}

// Engine reports the engine's own progress, published through
// engine.Engine.PublishStats.
func Engine() Set {
	return Set{
		Name:   SetEngine,
		Prefix: "otelinsight.",
		Kind:   "updowncounter",
		Rules: []Rule{{
			Patterns: []string{engine.StatsIdentity},
			Mappings: []Mapping{
				{Attribute: "Definitions", Metric: "definitions", Unit: "{definition}"},
				{Attribute: "Instruments", Metric: "instruments", Unit: "{instrument}"},
				{Attribute: "Ticks", Metric: "discovery.ticks", Kind: "counter", Unit: "{tick}"},
				{Attribute: "Enrollments", Metric: "discovery.enrollments", Kind: "counter", Unit: "{enrollment}"},
				{Attribute: "Failed", Metric: "instruments.failed", Kind: "counter", Unit: "{instrument}"},
				{Attribute: "NextDelay", Metric: "discovery.delay", Kind: "gauge", Unit: "s"},
			},
		}},
	}
}

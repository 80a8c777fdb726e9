// Package metrics exposes supervisor activity as Prometheus metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "procman"

// States reported by the state gauge. Exactly one is 1 per handle.
var States = []string{"starting", "running", "stopping", "stopped", "errored"}

// Collector owns the supervisor metrics. The zero value is not usable; a nil
// *Collector is, and records nothing.
type Collector struct {
	processes  prometheus.Gauge
	state      *prometheus.GaugeVec
	starts     *prometheus.CounterVec
	restarts   *prometheus.CounterVec
	exits      *prometheus.CounterVec
	memory     *prometheus.GaugeVec
	spawnFails *prometheus.CounterVec
}

// NewCollector registers with the default registry
func NewCollector() *Collector {
	return NewCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry registers with registry; tests use a fresh one.
func NewCollectorWithRegistry(registry prometheus.Registerer) *Collector {
	c := &Collector{
		processes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "managed_processes",
			Help:      "Number of process handles under supervision",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_state",
			Help:      "Current state of each process handle (1 = in state)",
		}, []string{"name", "instance", "state"}),
		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_starts_total",
			Help:      "Successful spawns per process",
		}, []string{"name", "instance"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_restarts_total",
			Help:      "Restarts scheduled by the restart policy, by reason",
		}, []string{"name", "reason"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_exits_total",
			Help:      "Process exits by exit code",
		}, []string{"name", "code"}),
		memory: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_memory_rss_bytes",
			Help:      "Last sampled resident memory of the process tree",
		}, []string{"name", "instance"}),
		spawnFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_spawn_failures_total",
			Help:      "Spawn attempts that failed before the process started",
		}, []string{"name"}),
	}

	registry.MustRegister(c.processes, c.state, c.starts, c.restarts, c.exits, c.memory, c.spawnFails)
	return c
}

func (c *Collector) SetManagedProcesses(n int) {
	if c == nil {
		return
	}
	c.processes.Set(float64(n))
}

// RecordState sets the handle's gauge for state to 1 and every other state to 0
func (c *Collector) RecordState(name string, instance int, state string) {
	if c == nil {
		return
	}
	inst := strconv.Itoa(instance)
	for _, s := range States {
		value := 0.0
		if s == state {
			value = 1
		}
		c.state.WithLabelValues(name, inst, s).Set(value)
	}
}

func (c *Collector) RecordStart(name string, instance int) {
	if c == nil {
		return
	}
	c.starts.WithLabelValues(name, strconv.Itoa(instance)).Inc()
}

func (c *Collector) RecordRestart(name, reason string) {
	if c == nil {
		return
	}
	c.restarts.WithLabelValues(name, reason).Inc()
}

func (c *Collector) RecordExit(name string, exitCode int) {
	if c == nil {
		return
	}
	c.exits.WithLabelValues(name, strconv.Itoa(exitCode)).Inc()
}

func (c *Collector) RecordMemory(name string, instance int, rss int64) {
	if c == nil {
		return
	}
	c.memory.WithLabelValues(name, strconv.Itoa(instance)).Set(float64(rss))
}

func (c *Collector) RecordSpawnFailure(name string) {
	if c == nil {
		return
	}
	c.spawnFails.WithLabelValues(name).Inc()
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exports furui's Prometheus metrics, modeled on the
// teacher's internal/ebpf/metrics.Metrics Describe/Collect pattern
// but scoped to furui's own counters rather than flywall's XDP/DNS
// feature set.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every furui Prometheus series.
type Metrics struct {
	PacketsPassed prometheus.Counter
	PacketsDropped prometheus.Counter

	EventsLost *prometheus.CounterVec // by ring

	PolicyReloadTotal *prometheus.CounterVec // by result: success|failure
	PolicyMapEntries  prometheus.Gauge
	ICMPPolicyEntries prometheus.Gauge

	ContainersAttached prometheus.Gauge
	ContainerEvents    *prometheus.CounterVec // by type: start|stop
}

// New creates a Metrics with every series constructed; Register adds
// them to the default Prometheus registry.
func New() *Metrics {
	return &Metrics{
		PacketsPassed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "furui_packets_passed_total",
			Help: "Total number of packets the classifier passed.",
		}),
		PacketsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "furui_packets_dropped_total",
			Help: "Total number of packets the classifier dropped.",
		}),
		EventsLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "furui_events_lost_total",
			Help: "Total number of perf ring samples lost before userspace could read them.",
		}, []string{"ring"}),
		PolicyReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "furui_policy_reload_total",
			Help: "Total number of policy reload attempts, by result.",
		}, []string{"result"}),
		PolicyMapEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "furui_policy_map_entries",
			Help: "Current number of entries in SOCKET_POLICY.",
		}),
		ICMPPolicyEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "furui_icmp_policy_map_entries",
			Help: "Current number of entries in ICMP_POLICY.",
		}),
		ContainersAttached: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "furui_containers_attached",
			Help: "Current number of containers with an attached classifier.",
		}),
		ContainerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "furui_container_events_total",
			Help: "Total number of container lifecycle events observed, by type.",
		}, []string{"type"}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.PacketsPassed.Describe(ch)
	m.PacketsDropped.Describe(ch)
	m.EventsLost.Describe(ch)
	m.PolicyReloadTotal.Describe(ch)
	m.PolicyMapEntries.Describe(ch)
	m.ICMPPolicyEntries.Describe(ch)
	m.ContainersAttached.Describe(ch)
	m.ContainerEvents.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.PacketsPassed.Collect(ch)
	m.PacketsDropped.Collect(ch)
	m.EventsLost.Collect(ch)
	m.PolicyReloadTotal.Collect(ch)
	m.PolicyMapEntries.Collect(ch)
	m.ICMPPolicyEntries.Collect(ch)
	m.ContainersAttached.Collect(ch)
	m.ContainerEvents.Collect(ch)
}

// Register registers m with the default Prometheus registry.
func (m *Metrics) Register() error {
	return prometheus.Register(m)
}

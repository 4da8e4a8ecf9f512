package coordinatorapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Dash83/cluster/internal/coordinator"
)

var (
	hostsDesc = prometheus.NewDesc(
		"cluster_hosts_total",
		"Registered hosts by state discriminator.",
		[]string{"state"}, nil,
	)
	invocationsDesc = prometheus.NewDesc(
		"cluster_invocations_total",
		"Invocations the coordinator has recorded.",
		nil, nil,
	)
	expirationsDesc = prometheus.NewDesc(
		"cluster_reaper_expirations_total",
		"Hosts the liveness reaper has marked disconnected.",
		nil, nil,
	)
)

// registryCollector exposes registry gauges computed at scrape time, so the
// registry itself carries no metrics bookkeeping beyond the reaper counter.
type registryCollector struct {
	registry *coordinator.Registry
}

func (c *registryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- hostsDesc
	ch <- invocationsDesc
	ch <- expirationsDesc
}

func (c *registryCollector) Collect(ch chan<- prometheus.Metric) {
	byState := make(map[string]int)
	for _, h := range c.registry.Hosts() {
		byState[string(h.State.Desc)]++
	}
	for state, n := range byState {
		ch <- prometheus.MustNewConstMetric(hostsDesc, prometheus.GaugeValue, float64(n), state)
	}

	ch <- prometheus.MustNewConstMetric(invocationsDesc, prometheus.GaugeValue, float64(len(c.registry.Invocations())))
	ch <- prometheus.MustNewConstMetric(expirationsDesc, prometheus.CounterValue, float64(c.registry.ReaperExpirations()))
}

// newMetricsRegistry builds a dedicated Prometheus registry for one router,
// so tests can construct multiple routers without duplicate-registration
// panics on the global default registry.
func newMetricsRegistry(registry *coordinator.Registry) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		&registryCollector{registry: registry},
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Package metrics exports router and throttle counters to Prometheus.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "ircguard"

// Collector implements session.MetricsCollector on a private registry.
type Collector struct {
	registry *prometheus.Registry

	eventsTotal     *prometheus.CounterVec
	deliveriesTotal *prometheus.CounterVec
	admissionsTotal *prometheus.CounterVec
	malformedTotal  *prometheus.CounterVec
	bansActive      prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "events_total",
			Help:      "Events dispatched through watch rules",
		}, []string{"kind"}),

		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "deliveries_total",
			Help:      "Lines delivered to watch targets",
		}, []string{"kind"}),

		admissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fail2ban",
			Name:      "admissions_total",
			Help:      "Admission decisions by stage and outcome",
		}, []string{"stage", "refused"}),

		malformedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "malformed_records_total",
			Help:      "Persisted records skipped while loading",
		}, []string{"namespace"}),

		bansActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fail2ban",
			Name:      "bans_active",
			Help:      "Hosts currently tracked by the ban cache",
		}),
	}

	c.registry.MustRegister(
		c.eventsTotal,
		c.deliveriesTotal,
		c.admissionsTotal,
		c.malformedTotal,
		c.bansActive,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) ReportDispatch(kind string, deliveries int) {
	c.eventsTotal.WithLabelValues(kind).Inc()
	c.deliveriesTotal.WithLabelValues(kind).Add(float64(deliveries))
}

func (c *Collector) ReportAdmission(stage string, refused bool) {
	c.admissionsTotal.WithLabelValues(stage, strconv.FormatBool(refused)).Inc()
}

func (c *Collector) ReportLoad(ns string, malformed int) {
	c.malformedTotal.WithLabelValues(ns).Add(float64(malformed))
}

// SetActiveBans records the size of the ban list.
func (c *Collector) SetActiveBans(n int) {
	c.bansActive.Set(float64(n))
}

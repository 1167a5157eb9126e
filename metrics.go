package binmerge

import (
	"github.com/prometheus/client_golang/prometheus"
)

var ScanBytes = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "binmerge",
	Subsystem: "scan",
	Name:      "bytes_total",
})

var ScanRegions = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "binmerge",
	Subsystem: "scan",
	Name:      "regions_total",
})

var ScanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "binmerge",
	Subsystem: "scan",
	Name:      "duration_seconds",
	Buckets:   []float64{1, 5, 15, 60, 300, 1800, 7200},
})

var ApplyBytes = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "binmerge",
	Subsystem: "apply",
	Name:      "bytes_total",
})

var ApplyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "binmerge",
	Subsystem: "apply",
	Name:      "duration_seconds",
	Buckets:   []float64{1, 5, 15, 60, 300, 1800, 7200},
})

// SessionCollector exposes live progress of one session: how far the
// scan got, how many regions exist and how many the operator decided.
type SessionCollector struct {
	session *Session

	bytesScanned *prometheus.Desc
	scanRate     *prometheus.Desc
	regions      *prometheus.Desc
	resolved     *prometheus.Desc
}

func NewSessionCollector(s *Session) *SessionCollector {
	return &SessionCollector{
		session: s,

		bytesScanned: prometheus.NewDesc(
			"binmerge_session_bytes_scanned",
			"Bytes compared so far, per input",
			nil, prometheus.Labels{"session": s.ID.String()},
		),
		scanRate: prometheus.NewDesc(
			"binmerge_session_scan_rate_mb_per_s",
			"Average scan throughput per input",
			nil, prometheus.Labels{"session": s.ID.String()},
		),
		regions: prometheus.NewDesc(
			"binmerge_session_regions",
			"Differing regions discovered so far",
			nil, prometheus.Labels{"session": s.ID.String()},
		),
		resolved: prometheus.NewDesc(
			"binmerge_session_regions_resolved",
			"Regions with a merge decision",
			nil, prometheus.Labels{"session": s.ID.String()},
		),
	}
}

func (c *SessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytesScanned
	ch <- c.scanRate
	ch <- c.regions
	ch <- c.resolved
}

func (c *SessionCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.bytesScanned, prometheus.GaugeValue,
		float64(c.session.scanner.BytesScanned()))
	ch <- prometheus.MustNewConstMetric(c.scanRate, prometheus.GaugeValue,
		c.session.scanner.Rate())
	ch <- prometheus.MustNewConstMetric(c.regions, prometheus.GaugeValue,
		float64(c.session.Regions().Len()))
	ch <- prometheus.MustNewConstMetric(c.resolved, prometheus.GaugeValue,
		float64(c.session.decisions.Resolved()))
}

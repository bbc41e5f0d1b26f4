package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every exported metric.
const Namespace = "sluice"

type counterDesc struct {
	desc  *prometheus.Desc
	value func(Snapshot) int64
}

// PrometheusCollector exports a Collector's snapshot as Prometheus
// const metrics, labelled by combiner and backend.
type PrometheusCollector struct {
	source   *Collector
	counters []counterDesc
	byKind   *prometheus.Desc
}

// NewPrometheusCollector wraps c for registration with a prometheus.Registerer.
func NewPrometheusCollector(c *Collector) *PrometheusCollector {
	labels := []string{"combiner", "backend"}
	counter := func(name, help string, value func(Snapshot) int64) counterDesc {
		return counterDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(Namespace, "", name), help, labels, nil),
			value: value,
		}
	}

	return &PrometheusCollector{
		source: c,
		counters: []counterDesc{
			counter("traces_started_total", "Traces started.", func(s Snapshot) int64 { return s.TracesStarted }),
			counter("traces_finished_total", "Traces finished without a fatal error.", func(s Snapshot) int64 { return s.TracesFinished }),
			counter("traces_failed_total", "Traces finished with a fatal error.", func(s Snapshot) int64 { return s.TracesFailed }),
			counter("pauses_total", "Completed pauses.", func(s Snapshot) int64 { return s.Pauses }),
			counter("resumes_total", "Resumes from paused.", func(s Snapshot) int64 { return s.Resumes }),
			counter("packets_read_total", "Frames read by workers.", func(s Snapshot) int64 { return s.PacketsRead }),
			counter("frame_errors_total", "Malformed frames skipped.", func(s Snapshot) int64 { return s.FrameErrors }),
			counter("backend_errors_total", "Backend I/O failures.", func(s Snapshot) int64 { return s.BackendErrors }),
			counter("results_published_total", "Results published by workers, ticks included.", func(s Snapshot) int64 { return s.ResultsPublished }),
			counter("ticks_published_total", "Tick results published by workers.", func(s Snapshot) int64 { return s.TicksPublished }),
			counter("ticks_dropped_total", "Tick results consumed by the combiner.", func(s Snapshot) int64 { return s.TicksDropped }),
			counter("results_made_safe_total", "Queued results copied out of worker buffers on pause.", func(s Snapshot) int64 { return s.ResultsMadeSafe }),
			counter("frames_written_total", "Frames written to the output sink.", func(s Snapshot) int64 { return s.FramesWritten }),
		},
		byKind: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "", "results_delivered_total"),
			"Results delivered to the reporter.",
			append(labels, "kind"), nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (p *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range p.counters {
		ch <- c.desc
	}
	ch <- p.byKind
}

// Collect implements prometheus.Collector.
func (p *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	s := p.source.Snapshot()
	for _, c := range p.counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(c.value(s)), s.Combiner, s.Backend)
	}

	kinds := make([]string, 0, len(s.DeliveredByKind))
	for k := range s.DeliveredByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		ch <- prometheus.MustNewConstMetric(p.byKind, prometheus.CounterValue, float64(s.DeliveredByKind[k]), s.Combiner, s.Backend, k)
	}
}

var _ prometheus.Collector = (*PrometheusCollector)(nil)

// WriteTextfile writes c in the Prometheus text exposition format to
// path, for pickup by a node_exporter textfile collector.
func WriteTextfile(c *Collector, path string) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewPrometheusCollector(c)); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, reg)
}

package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// PrometheusExporter exports metrics in Prometheus text format.
//
// Format:
//
//	# HELP metric_name Description
//	# TYPE metric_name type
//	metric_name{label="value"} value
//
// All metric names carry the exporter namespace prefix.
type PrometheusExporter struct {
	collector *Collector
	namespace string
}

// NewPrometheusExporter creates a new Prometheus exporter.
func NewPrometheusExporter(collector *Collector) *PrometheusExporter {
	return &PrometheusExporter{
		collector: collector,
		namespace: "edgegate",
	}
}

// Export writes all metrics in Prometheus text format to the writer.
func (e *PrometheusExporter) Export(w io.Writer) error {
	var b strings.Builder

	snap := e.collector.Snapshot()

	e.writeHelp(&b, "decisions_total", "Gateway decisions by leg, outcome and reason")
	e.writeType(&b, "decisions_total", "counter")
	for _, d := range snap.Decisions {
		labels := map[string]string{"leg": d.Leg, "outcome": d.Outcome}
		if d.Reason != "" {
			labels["reason"] = d.Reason
		}
		e.writeMetric(&b, "decisions_total", labels, d.Count)
	}

	e.writeHelp(&b, "origin_requests_total", "Requests forwarded to the origin")
	e.writeType(&b, "origin_requests_total", "counter")
	e.writeMetric(&b, "origin_requests_total", map[string]string{"status": "success"}, snap.OriginTotal-snap.OriginFailures)
	e.writeMetric(&b, "origin_requests_total", map[string]string{"status": "failure"}, snap.OriginFailures)

	e.writeHelp(&b, "origin_request_duration_seconds", "Origin round trip duration histogram")
	e.writeType(&b, "origin_request_duration_seconds", "histogram")
	e.writeHistogram(&b, "origin_request_duration_seconds", snap.OriginHistogram)

	e.writeHelp(&b, "uptime_seconds", "Time since the edge started")
	e.writeType(&b, "uptime_seconds", "gauge")
	e.writeMetricFloat(&b, "uptime_seconds", nil, snap.Uptime.Seconds())

	_, err := io.WriteString(w, b.String())
	return err
}

// ServeHTTP serves the text exposition.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = e.Export(w)
}

func (e *PrometheusExporter) writeHelp(b *strings.Builder, name, help string) {
	fmt.Fprintf(b, "# HELP %s_%s %s\n", e.namespace, name, help)
}

func (e *PrometheusExporter) writeType(b *strings.Builder, name, metricType string) {
	fmt.Fprintf(b, "# TYPE %s_%s %s\n", e.namespace, name, metricType)
}

func (e *PrometheusExporter) writeMetric(b *strings.Builder, name string, labels map[string]string, value int64) {
	fmt.Fprintf(b, "%s_%s%s %d\n", e.namespace, name, formatLabels(labels), value)
}

func (e *PrometheusExporter) writeMetricFloat(b *strings.Builder, name string, labels map[string]string, value float64) {
	fmt.Fprintf(b, "%s_%s%s %g\n", e.namespace, name, formatLabels(labels), value)
}

// writeHistogram writes cumulative buckets with le in seconds.
func (e *PrometheusExporter) writeHistogram(b *strings.Builder, name string, buckets []Bucket) {
	var cumulative int64
	for _, bkt := range buckets {
		cumulative += bkt.Count
		if bkt.UpperMs < 0 {
			fmt.Fprintf(b, "%s_%s_bucket{le=\"+Inf\"} %d\n", e.namespace, name, cumulative)
		} else {
			fmt.Fprintf(b, "%s_%s_bucket{le=\"%g\"} %d\n", e.namespace, name, float64(bkt.UpperMs)/1000, cumulative)
		}
	}
	fmt.Fprintf(b, "%s_%s_count %d\n", e.namespace, name, cumulative)
}

// formatLabels formats labels as {key="value",key2="value2"}.
func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	// Sort keys for deterministic output
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%s=\"%s\"", k, escapeLabelValue(labels[k]))
	}
	b.WriteString("}")
	return b.String()
}

// escapeLabelValue escapes \ " and newline.
func escapeLabelValue(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

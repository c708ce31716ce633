// Package metrics exposes Prometheus counters for tool listing and tool calls.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chamicore_toolgate"

// Recorder owns the gateway collectors and the registry they live in.
type Recorder struct {
	registry *prometheus.Registry

	listCalls      *prometheus.CounterVec
	listedTools    prometheus.Histogram
	toolCalls      *prometheus.CounterVec
	scopeRejected  *prometheus.CounterVec
	callDurationMS *prometheus.HistogramVec
}

// New registers all collectors in a fresh registry. Go runtime and process
// collectors are included so /metrics is useful on its own.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Recorder{
		registry: reg,
		listCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "list_tools_total",
			Help:      "Tool listing requests by effective scope source.",
		}, []string{"transport", "scope_source"}),
		listedTools: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "listed_tools",
			Help:      "Number of tools returned per listing.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and result.",
		}, []string{"transport", "tool", "result"}),
		scopeRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scope_rejections_total",
			Help:      "Tool calls rejected because the tool was outside the effective scope.",
		}, []string{"transport", "scope_source"}),
		callDurationMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_milliseconds",
			Help:      "Duration of forwarded tool calls.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"tool"}),
	}

	reg.MustRegister(r.listCalls, r.listedTools, r.toolCalls, r.scopeRejected, r.callDurationMS)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveList records one tool listing.
func (r *Recorder) ObserveList(transport, source string, count int) {
	if r == nil {
		return
	}
	r.listCalls.WithLabelValues(transport, source).Inc()
	r.listedTools.Observe(float64(count))
}

// ObserveRejection records a call refused by scope authorization. Rejected
// names are caller-controlled and are not used as labels.
func (r *Recorder) ObserveRejection(transport, source string) {
	if r == nil {
		return
	}
	r.scopeRejected.WithLabelValues(transport, source).Inc()
}

// ObserveCall records a call that passed scope authorization.
func (r *Recorder) ObserveCall(transport, tool, result string, durationMS float64) {
	if r == nil {
		return
	}
	r.toolCalls.WithLabelValues(transport, tool, result).Inc()
	r.callDurationMS.WithLabelValues(tool).Observe(durationMS)
}

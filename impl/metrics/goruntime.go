package metrics

import (
	"fmt"
	"runtime/metrics"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// runtimeMetrics are the go runtime metrics exposed alongside the offliner metrics. Names
// the running go version doesn't support are skipped.
var runtimeMetrics = []string{
	"/sched/goroutines:goroutines",
	"/sched/latencies:seconds",
	"/memory/classes/total:bytes",
	"/memory/classes/heap/objects:bytes",
	"/gc/cycles/total:gc-cycles",
	"/gc/heap/allocs:bytes",
	"/gc/heap/goal:bytes",
}

// addGoRuntimeMetrics registers a func metric for each supported entry in runtimeMetrics
func addGoRuntimeMetrics(reg prometheus.Registerer) {
	supported := map[string]metrics.Description{}
	for _, d := range metrics.All() {
		supported[d.Name] = d
	}
	for _, name := range runtimeMetrics {
		d, ok := supported[name]
		if !ok {
			log.Debugf("go runtime metric not supported: %s", name)
			continue
		}
		var c prometheus.Collector
		opts := runtimeOpts(d)
		read := func() float64 { return readRuntimeMetric(name) }
		if d.Cumulative && d.Kind != metrics.KindFloat64Histogram {
			c = prometheus.NewCounterFunc(prometheus.CounterOpts(opts), read)
		} else {
			c = prometheus.NewGaugeFunc(prometheus.GaugeOpts(opts), read)
		}
		if err := reg.Register(c); err != nil {
			log.Warnf("unable to register go runtime metric %s: %s", name, err)
		}
	}
}

// runtimeOpts maps a runtime metric name like "/gc/heap/allocs:bytes" to the prometheus
// name offliner_runtime_gc_heap_allocs_bytes
func runtimeOpts(d metrics.Description) prometheus.Opts {
	path, unit, _ := strings.Cut(strings.TrimPrefix(d.Name, "/"), ":")
	name := strings.ReplaceAll(path, "/", "_") + "_" + unit
	return prometheus.Opts{
		Namespace: "offliner",
		Subsystem: "runtime",
		Name:      strings.ReplaceAll(name, "-", "_"),
		Help:      fmt.Sprintf("%s (%s)", d.Description, unit),
	}
}

func readRuntimeMetric(name string) float64 {
	sample := []metrics.Sample{{Name: name}}
	metrics.Read(sample)
	switch sample[0].Value.Kind() {
	case metrics.KindUint64:
		return float64(sample[0].Value.Uint64())
	case metrics.KindFloat64:
		return sample[0].Value.Float64()
	case metrics.KindFloat64Histogram:
		return quantile(sample[0].Value.Float64Histogram(), 0.5)
	}
	return 0
}

// quantile returns the lower bound of the histogram bucket holding quantile q
func quantile(h *metrics.Float64Histogram, q float64) float64 {
	var total uint64
	for _, c := range h.Counts {
		total += c
	}
	if total == 0 {
		return 0
	}
	thresh := uint64(float64(total) * q)
	var seen uint64
	for i, c := range h.Counts {
		seen += c
		if seen >= thresh && seen > 0 {
			return h.Buckets[i]
		}
	}
	return h.Buckets[len(h.Buckets)-1]
}

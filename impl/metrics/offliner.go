package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// These are the metrics functions exposed by the package. By default they are all
// NOP functions to minimize overhead when metrics are not enabled. The 'addOfflinerMetrics'
// function replaces these with functions having implementations if metrics are
// enabled.

var IncUpdateCycles withLabel = func(string) {}
var IncActivations withLabel = func(string) {}
var IncDispatches withLabel = func(string) {}
var IncProxied noLabel = func() {}
var AddPrefetched delta = func(float64) {}
var IncReclaimed noLabel = func() {}
var IncNotifications withLabel = func(string) {}

type withLabel func(string)
type noLabel func()
type delta func(float64)

const (
	update_cycles_total     = "update_cycles_total"
	activations_total       = "activations_total"
	dispatches_total        = "dispatches_total"
	proxied_requests_total  = "proxied_requests_total"
	prefetched_total        = "prefetched_resources_total"
	reclaimed_buckets_total = "reclaimed_generations_total"
	notifications_total     = "notifications_total"
	outcome_label           = "outcome"
	source_label            = "source"
	type_label              = "type"
)

// addOfflinerMetrics creates all the offliner metrics and registers them with the
// prometheus library. Unless this function is called, all the metric functions
// exposed by the package will be NOP functions.
func addOfflinerMetrics() {
	updateCyclesTotal := promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:      update_cycles_total,
			Namespace: "offliner",
			Help:      "Update cycles by outcome (noop, pending, failed)",
		},
		[]string{outcome_label},
	)
	IncUpdateCycles = func(outcome string) {
		updateCyclesTotal.With(prometheus.Labels{outcome_label: outcome}).Add(1)
	}

	///
	activationsTotal := promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:      activations_total,
			Namespace: "offliner",
			Help:      "Activations by outcome (done, failed)",
		},
		[]string{outcome_label},
	)
	IncActivations = func(outcome string) {
		activationsTotal.With(prometheus.Labels{outcome_label: outcome}).Add(1)
	}

	///
	dispatchesTotal := promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:      dispatches_total,
			Namespace: "offliner",
			Help:      "Intercepted requests by the source that answered them, or 'exhausted'",
		},
		[]string{source_label},
	)
	IncDispatches = func(source string) {
		dispatchesTotal.With(prometheus.Labels{source_label: source}).Add(1)
	}

	///
	proxiedTotal := promauto.NewCounter(
		prometheus.CounterOpts{
			Name:      proxied_requests_total,
			Namespace: "offliner",
			Help:      "Non-GET requests passed straight to the upstream",
		},
	)
	IncProxied = func() {
		proxiedTotal.Add(1)
	}

	///
	prefetchedTotal := promauto.NewCounter(
		prometheus.CounterOpts{
			Name:      prefetched_total,
			Namespace: "offliner",
			Help:      "Resources stored into a generation by the prefetch pipeline",
		},
	)
	AddPrefetched = func(n float64) {
		prefetchedTotal.Add(n)
	}

	///
	reclaimedTotal := promauto.NewCounter(
		prometheus.CounterOpts{
			Name:      reclaimed_buckets_total,
			Namespace: "offliner",
			Help:      "Generations deleted after a swap",
		},
	)
	IncReclaimed = func() {
		reclaimedTotal.Add(1)
	}

	///
	notificationsTotal := promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:      notifications_total,
			Namespace: "offliner",
			Help:      "Lifecycle notifications published, by type",
		},
		[]string{type_label},
	)
	IncNotifications = func(typ string) {
		notificationsTotal.With(prometheus.Labels{type_label: typ}).Add(1)
	}
}

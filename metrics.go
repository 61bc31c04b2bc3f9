package zerkalo

import (
	"github.com/prometheus/client_golang/prometheus"
)

var DispatchedChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "zerkalo",
	Subsystem: "dispatch",
	Name:      "changes",
}, []string{"op"})

var HandlerPanics = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "zerkalo",
	Subsystem: "dispatch",
	Name:      "handler_panics",
})

var PatchOps = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "zerkalo",
	Subsystem: "patch",
	Name:      "ops",
	Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100, 200, 500},
})

var SkippedBindFields = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "zerkalo",
	Subsystem: "bind",
	Name:      "skipped_fields",
})

// Collectors returns every metric of the package for registration with
// the caller's registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		DispatchedChanges,
		HandlerPanics,
		PatchOps,
		SkippedBindFields,
	}
}

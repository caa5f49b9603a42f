package cart

import "github.com/prometheus/client_golang/prometheus"

type storeMetrics struct {
	mutations     *prometheus.CounterVec
	persistErrors prometheus.Counter
	pinnedDrops   prometheus.Counter
}

// newStoreMetrics registers on reg; a nil reg yields unregistered collectors
// so call sites never nil-check.
func newStoreMetrics(reg prometheus.Registerer) *storeMetrics {
	m := &storeMetrics{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cart_mutations_total",
			Help: "Cart mutations by operation",
		}, []string{"op"}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cart_persist_errors_total",
			Help: "Cart snapshots that could not be written to storage",
		}),
		pinnedDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cart_detected_weight_dropped_total",
			Help: "Detected weights ignored because the line was manually edited",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.mutations, m.persistErrors, m.pinnedDrops)
	}
	return m
}

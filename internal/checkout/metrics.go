package checkout

import "github.com/prometheus/client_golang/prometheus"

// Metrics is shared by every Flow of a process.
type Metrics struct {
	submissions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_submissions_total",
			Help: "Checkout submissions by result",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.submissions)
	}
	return m
}

func (m *Metrics) observe(result string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(result).Inc()
}

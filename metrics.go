package throttle

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports throttle activity to Prometheus, labelled by throttle name.
//
// A nil *Metrics is valid and records nothing. One Metrics value may be
// shared by several throttles with distinct names.
type Metrics struct {
	queued     *prometheus.GaugeVec
	inFlight   *prometheus.GaugeVec
	dispatched *prometheus.CounterVec
	completed  *prometheus.CounterVec
	filters    *prometheus.GaugeVec
}

// Outcome label values for throttle_completed_total.
const (
	OutcomeFulfilled = "fulfilled"
	OutcomeRejected  = "rejected"
)

// NewMetrics creates the throttle collectors and registers them with reg.
// Collectors already registered by an earlier call are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		queued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "throttle_queued_calls",
			Help: "Calls waiting in the throttle queue.",
		}, []string{"throttle"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "throttle_in_flight_calls",
			Help: "Calls dispatched and not yet settled.",
		}, []string{"throttle"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "throttle_dispatched_total",
			Help: "Calls handed to the underlying operation.",
		}, []string{"throttle"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "throttle_completed_total",
			Help: "Calls settled, by outcome.",
		}, []string{"throttle", "outcome"}),
		filters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "throttle_filters",
			Help: "Filters registered on the throttle.",
		}, []string{"throttle"}),
	}

	var err error
	m.queued = register(reg, m.queued, &err)
	m.inFlight = register(reg, m.inFlight, &err)
	m.dispatched = register(reg, m.dispatched, &err)
	m.completed = register(reg, m.completed, &err)
	m.filters = register(reg, m.filters, &err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, returning the existing collector when an
// identical one is already registered. The first failure is kept in errp.
func register[C prometheus.Collector](reg prometheus.Registerer, c C, errp *error) C {
	if *errp != nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		*errp = fmt.Errorf("register throttle metrics: %w", err)
	}
	return c
}

func (m *Metrics) setQueued(name string, n int) {
	if m == nil {
		return
	}
	m.queued.WithLabelValues(name).Set(float64(n))
}

func (m *Metrics) setInFlight(name string, n int) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(name).Set(float64(n))
}

func (m *Metrics) incDispatched(name string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(name).Inc()
}

func (m *Metrics) incCompleted(name, outcome string) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) setFilters(name string, n int) {
	if m == nil {
		return
	}
	m.filters.WithLabelValues(name).Set(float64(n))
}

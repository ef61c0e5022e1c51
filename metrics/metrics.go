// Package metrics defines the prometheus collectors of the client runtime.
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nacos_client"

const (
	ResultSuccess = "success"
	ResultFailure = "failure"

	PushHandled   = "handled"
	PushUnhandled = "unhandled"
	PushFailed    = "failed"
)

type Metrics struct {
	connectAttempts  *prometheus.CounterVec
	readyConnections prometheus.Gauge
	pushMessages     *prometheus.CounterVec
	tokenRefreshes   *prometheus.CounterVec
	listenRequests   *prometheus.CounterVec
	configChanges    prometheus.Counter
	requestDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg, or on the default
// registerer if reg is nil. Collectors registered earlier under the same
// names are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Connection attempts by result.",
		}, []string{"result"}),

		readyConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready_connections",
			Help:      "Connections that completed the handshake and are in use.",
		}),

		pushMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_messages_total",
			Help:      "Server push messages by type and outcome.",
		}, []string{"type", "outcome"}),

		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Access token refreshes by result.",
		}, []string{"result"}),

		listenRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listen_requests_total",
			Help:      "Batched listen requests by result.",
		}, []string{"result"}),

		configChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_changes_total",
			Help:      "Config change events delivered to listeners.",
		}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Unary request latency by request type.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"type"}),
	}

	var err error

	m.connectAttempts = register(reg, m.connectAttempts, &err)
	m.readyConnections = register(reg, m.readyConnections, &err)
	m.pushMessages = register(reg, m.pushMessages, &err)
	m.tokenRefreshes = register(reg, m.tokenRefreshes, &err)
	m.listenRequests = register(reg, m.listenRequests, &err)
	m.configChanges = register(reg, m.configChanges, &err)
	m.requestDuration = register(reg, m.requestDuration, &err)

	if err != nil {
		return nil, err
	}

	return m, nil
}

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

		*errp = err
	}

	return c
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}

	return ResultFailure
}

func (m *Metrics) ConnectAttempt(ok bool) {
	if m == nil {
		return
	}

	m.connectAttempts.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) ConnectionReady() {
	if m == nil {
		return
	}

	m.readyConnections.Inc()
}

func (m *Metrics) ConnectionLost() {
	if m == nil {
		return
	}

	m.readyConnections.Dec()
}

func (m *Metrics) PushMessage(typ, outcome string) {
	if m == nil {
		return
	}

	m.pushMessages.WithLabelValues(typ, outcome).Inc()
}

func (m *Metrics) TokenRefresh(ok bool) {
	if m == nil {
		return
	}

	m.tokenRefreshes.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) ListenRequest(ok bool) {
	if m == nil {
		return
	}

	m.listenRequests.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) ConfigChanged() {
	if m == nil {
		return
	}

	m.configChanges.Inc()
}

func (m *Metrics) ObserveRequest(typ string, seconds float64) {
	if m == nil {
		return
	}

	m.requestDuration.WithLabelValues(typ).Observe(seconds)
}

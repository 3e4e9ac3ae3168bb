package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "coap_observe"

// Metrics 观察服务的计数器
// nil指针可以安全调用，所有方法都不做任何事
type Metrics struct {
	reg *prometheus.Registry

	DatagramsReceived prometheus.Counter
	DatagramsDropped  *prometheus.CounterVec
	MessagesSent      *prometheus.CounterVec
	DecodeErrors      *prometheus.CounterVec
	Notifications     *prometheus.CounterVec
	TransportErrors   *prometheus.CounterVec
	HandlerPanics     prometheus.Counter
	Observations      prometheus.Gauge
}

// New 在独立的Registry上创建指标
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		DatagramsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_received_total",
			Help:      "Total number of datagrams read from the socket",
		}),
		DatagramsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_dropped_total",
			Help:      "Datagrams dropped before or during handling",
		}, []string{"reason"}),
		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "CoAP messages handed to the transport",
		}, []string{"kind"}),
		DecodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound datagrams that failed to decode",
		}, []string{"kind"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Content notifications received, by registry match",
		}, []string{"matched"}),
		TransportErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Errors reported by the transport",
		}, []string{"op"}),
		HandlerPanics: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Panics recovered while handling inbound datagrams",
		}),
		Observations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observations",
			Help:      "Number of observation entries in the registry",
		}),
	}
}

// Handler 返回/metrics处理器
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Received() {
	if m != nil {
		m.DatagramsReceived.Inc()
	}
}

func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.DatagramsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Sent(kind string) {
	if m != nil {
		m.MessagesSent.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) DecodeError(kind string) {
	if m != nil {
		m.DecodeErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Notification(matched bool) {
	if m == nil {
		return
	}
	label := "false"
	if matched {
		label = "true"
	}
	m.Notifications.WithLabelValues(label).Inc()
}

func (m *Metrics) TransportError(op string) {
	if m != nil {
		m.TransportErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) Panic() {
	if m != nil {
		m.HandlerPanics.Inc()
	}
}

func (m *Metrics) SetObservations(n int) {
	if m != nil {
		m.Observations.Set(float64(n))
	}
}

package clustermq

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus collectors of one Context. A nil *metrics records nothing.
type metrics struct {
	sent     *prometheus.CounterVec
	received *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	peers    *prometheus.GaugeVec
	relayed  *prometheus.CounterVec
	backlog  *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &metrics{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clustermq",
			Subsystem: "socket",
			Name:      "messages_sent_total",
			Help:      "Messages handed to a peer queue, by socket pattern",
		}, []string{"pattern"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clustermq",
			Subsystem: "socket",
			Name:      "messages_received_total",
			Help:      "Messages returned by Recv, by socket pattern",
		}, []string{"pattern"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clustermq",
			Subsystem: "socket",
			Name:      "messages_dropped_total",
			Help:      "Messages discarded by the engine, by socket pattern and reason",
		}, []string{"pattern", "reason"}),
		peers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "clustermq",
			Subsystem: "socket",
			Name:      "peers",
			Help:      "Currently attached peers, by socket pattern",
		}, []string{"pattern"}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clustermq",
			Subsystem: "proxy",
			Name:      "messages_relayed_total",
			Help:      "Messages relayed by proxies, by direction",
		}, []string{"direction"}),
		backlog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "clustermq",
			Subsystem: "proxy",
			Name:      "backlog",
			Help:      "Messages waiting in a proxy backlog, by direction",
		}, []string{"direction"}),
	}

	var err error
	if m.sent, err = register(reg, m.sent); err != nil {
		return nil, err
	}
	if m.received, err = register(reg, m.received); err != nil {
		return nil, err
	}
	if m.dropped, err = register(reg, m.dropped); err != nil {
		return nil, err
	}
	if m.peers, err = register(reg, m.peers); err != nil {
		return nil, err
	}
	if m.relayed, err = register(reg, m.relayed); err != nil {
		return nil, err
	}
	if m.backlog, err = register(reg, m.backlog); err != nil {
		return nil, err
	}
	return m, nil
}

// Registers c, or returns the equal collector a previous Context already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *metrics) messageSent(p Pattern) {
	if m != nil {
		m.sent.WithLabelValues(p.String()).Inc()
	}
}

func (m *metrics) messageReceived(p Pattern) {
	if m != nil {
		m.received.WithLabelValues(p.String()).Inc()
	}
}

func (m *metrics) messageDropped(p Pattern, reason string) {
	if m != nil {
		m.dropped.WithLabelValues(p.String(), reason).Inc()
	}
}

func (m *metrics) peerAttached(p Pattern, delta float64) {
	if m != nil {
		m.peers.WithLabelValues(p.String()).Add(delta)
	}
}

func (m *metrics) messageRelayed(direction string) {
	if m != nil {
		m.relayed.WithLabelValues(direction).Inc()
	}
}

func (m *metrics) backlogSize(direction string, n int) {
	if m != nil {
		m.backlog.WithLabelValues(direction).Set(float64(n))
	}
}

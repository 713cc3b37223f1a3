package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveConnections counts open websocket connections, online or not.
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "im_relay",
		Name:      "ws_active_connections",
		Help:      "Active websocket connections",
	})

	// OnlineUsers counts users currently mapped in the presence registry.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "im_relay",
		Name:      "presence_online_users",
		Help:      "Users with a registered live connection",
	})

	RelayForwarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "im_relay",
		Name:      "relay_forwarded_total",
		Help:      "Live events forwarded to a recipient connection",
	}, []string{"event"})

	RelayDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "im_relay",
		Name:      "relay_dropped_total",
		Help:      "Live events dropped because the recipient was offline or slow",
	}, []string{"event", "reason"})

	ChatEventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "im_relay",
		Name:      "chat_events_published_total",
		Help:      "Chat events handed to Kafka, by result",
	}, []string{"type", "result"})
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ActiveConnections, OnlineUsers, RelayForwarded, RelayDropped, ChatEventsPublished)
	})
}

// Handler returns an http.Handler for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

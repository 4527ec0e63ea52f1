// Package metrics exposes Prometheus collectors for the hub server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the Prometheus collectors used by the hub. Each
// Registry carries its own collector registry so independent servers
// (notably in tests) never collide on metric names.
type Registry struct {
	reg *prometheus.Registry

	ActiveConnections prometheus.Gauge
	LoggedInSessions  prometheus.Gauge
	OpenRooms         prometheus.Gauge

	Requests      *prometheus.CounterVec
	Broadcasts    *prometheus.CounterVec
	Transfers     *prometheus.CounterVec
	GamesLaunched prometheus.Counter
}

// NewRegistry creates the hub metrics collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gamehub_connections_active",
			Help: "Number of open control connections",
		}),
		LoggedInSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gamehub_sessions_logged_in",
			Help: "Number of sessions past login",
		}),
		OpenRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gamehub_rooms_open",
			Help: "Number of open rooms",
		}),
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gamehub_requests_total",
			Help: "Control requests handled, by action",
		}, []string{"action"}),
		Broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gamehub_broadcasts_total",
			Help: "Room notifications fanned out to peers, by event",
		}, []string{"event"}),
		Transfers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gamehub_transfers_total",
			Help: "Completed artifact transfers, by kind and result",
		}, []string{"kind", "result"}),
		GamesLaunched: factory.NewCounter(prometheus.CounterOpts{
			Name: "gamehub_games_launched_total",
			Help: "Game subprocesses launched",
		}),
	}
}

// Handler returns an HTTP handler exposing this registry's metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

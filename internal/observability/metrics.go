package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{Namespace: "order_dispatch", Name: "notifications_sent_total", Help: "Dispatch notifications created"})
	OrdersAccepted    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "order_dispatch", Name: "orders_accepted_total", Help: "Live orders accepted by a driver"})
	AcceptRaceLost    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "order_dispatch", Name: "accept_race_lost_total", Help: "Acceptances that lost the exclusivity race"})
	OrdersExpired     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "order_dispatch", Name: "orders_expired_total", Help: "Live orders that exhausted max radius"})
	RadiusExpansions  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "order_dispatch", Name: "radius_expansions_total", Help: "Search radius expansions"})
	NotificationsSwept = promauto.NewCounter(prometheus.CounterOpts{Namespace: "order_dispatch", Name: "notifications_swept_total", Help: "Notifications timed out by the sweeper"})
	DriversConnected  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "order_dispatch", Name: "drivers_connected", Help: "Drivers with a live websocket session"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "order_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "order_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// metrics.go — Prometheus метрики Request Gateway.
// Регистрирует метрики: mp_gateway_requests_total, mp_gateway_dispatch_duration_seconds.
package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Исходы запроса для лейбла outcome.
const (
	outcomeSuccess        = "success"
	outcomeRetried        = "retried"
	outcomeUnauthorized   = "unauthorized"
	outcomeSessionExpired = "session_expired"
	outcomeHTTPError      = "http_error"
	outcomeNetworkFailure = "network_failure"
	outcomeCanceled       = "canceled"
)

var (
	// requestsTotal — количество логических запросов по исходу.
	// retried — успех после refresh и повторной отправки.
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mp_gateway_requests_total",
			Help: "Количество запросов через gateway по исходу",
		},
		[]string{"outcome"},
	)

	// dispatchDuration — длительность одной отправки (включая повторную).
	dispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mp_gateway_dispatch_duration_seconds",
			Help:    "Длительность одной HTTP-отправки gateway",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)

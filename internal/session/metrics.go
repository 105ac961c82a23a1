// metrics.go — Prometheus метрики Session Manager.
// Регистрирует метрики: mp_session_refresh_total, mp_session_transitions_total.
package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Результаты refresh для лейбла result.
const (
	refreshSuccess    = "success"
	refreshFailure    = "failure"
	refreshSkipped    = "skipped"
	refreshSuperseded = "superseded"
)

var (
	// refreshTotal — количество refresh по результату.
	// skipped — токен уже обновлён параллельным вызовом, сеть не вызывалась.
	refreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mp_session_refresh_total",
			Help: "Количество обновлений пары токенов по результату",
		},
		[]string{"result"},
	)

	// transitionsTotal — количество зафиксированных переходов состояния сессии.
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mp_session_transitions_total",
			Help: "Количество переходов состояния сессии",
		},
		[]string{"state"},
	)
)

// Package metrics expone métricas Prometheus del core de autenticación.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricsOnce sync.Once

	// Auth metrics
	authAttemptsTotal *prometheus.CounterVec
	lockoutsTotal     *prometheus.CounterVec
	mfaFailuresTotal  *prometheus.CounterVec

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
)

// Register inicializa las métricas y devuelve el handler para /metrics.
func Register(reg prometheus.Registerer) http.Handler {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	metricsOnce.Do(func() {
		authAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Intentos de autenticación por método y resultado",
		}, []string{"method", "result"}) // result: success|invalid_credential|locked|mfa_required|error

		lockoutsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_lockouts_total",
			Help: "Cuentas bloqueadas por intentos fallidos",
		}, []string{"tenant"})

		mfaFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_mfa_failures_total",
			Help: "Códigos MFA rechazados por tipo",
		}, []string{"kind"}) // kind: totp|backup

		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Número total de requests procesadas",
		}, []string{"method", "path", "status"})

		httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latencia de los requests HTTP",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"})

		reg.MustRegister(
			authAttemptsTotal, lockoutsTotal, mfaFailuresTotal,
			httpRequestsTotal, httpRequestDuration,
		)
	})

	return promhttp.Handler()
}

// ObserveAuthAttempt registra el resultado de un intento de autenticación.
func ObserveAuthAttempt(method, result string) {
	if authAttemptsTotal != nil {
		authAttemptsTotal.WithLabelValues(method, result).Inc()
	}
}

// ObserveLockout registra un lockout nuevo.
func ObserveLockout(tenantID string) {
	if lockoutsTotal != nil {
		lockoutsTotal.WithLabelValues(tenantID).Inc()
	}
}

// ObserveMFAFailure registra un código MFA rechazado.
func ObserveMFAFailure(kind string) {
	if mfaFailuresTotal != nil {
		mfaFailuresTotal.WithLabelValues(kind).Inc()
	}
}

// ObserveHTTP registra un request HTTP terminado.
func ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	if httpRequestsTotal != nil {
		httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
	}
}

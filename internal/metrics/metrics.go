package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "order_lifecycle"

// 付款結果標籤
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	orderOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_operations_total",
			Help:      "Total number of order operations (create/update/delete)",
		},
		[]string{"operation", "result"},
	)

	paymentOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_payment_outcomes_total",
			Help:      "Simulated payment outcomes",
		},
		[]string{"outcome"},
	)

	sweeperExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_sweeper_expired_total",
		Help:      "Orders expired by the sweeper",
	})

	sweeperFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_sweeper_failures_total",
		Help:      "Orders the sweeper failed to expire",
	})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "order_sweep_duration_seconds",
		Help:      "Duration of one sweep cycle",
		Buckets:   prometheus.DefBuckets,
	})
)

// PrometheusMiddleware 收集 HTTP 請求指標
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

// Handler /metrics 端點
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// RecordOrderOperation 記錄訂單操作結果
func RecordOrderOperation(operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	orderOperations.WithLabelValues(operation, result).Inc()
}

// RecordPaymentOutcome 記錄付款模擬結果
func RecordPaymentOutcome(outcome string) {
	paymentOutcomes.WithLabelValues(outcome).Inc()
}

// RecordSweep 記錄一次掃描的結果
func RecordSweep(expired, failed int, duration time.Duration) {
	sweeperExpired.Add(float64(expired))
	sweeperFailures.Add(float64(failed))
	sweepDuration.Observe(duration.Seconds())
}

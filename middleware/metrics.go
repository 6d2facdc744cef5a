package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the per-IP limiter",
		},
		[]string{"scope"},
	)
	initOnce sync.Once
)

// InitPrometheus registers the HTTP collectors once per process.
func InitPrometheus(reg prometheus.Registerer) {
	initOnce.Do(func() {
		reg.MustRegister(httpRequestsTotal, httpRequestDuration, rateLimited)
	})
}

// Metrics records count and latency per route template.
func Metrics() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		// FullPath is the route template, so ids in paths do not explode label cardinality
		path := ctx.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(path, ctx.Request.Method, strconv.Itoa(ctx.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(path, ctx.Request.Method).Observe(time.Since(start).Seconds())
	}
}

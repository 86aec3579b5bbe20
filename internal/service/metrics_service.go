package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/campus-registrar-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation. All record methods
// are nil-safe so services can run without a collector wired in.
type MetricsService struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestDuration    *prometheus.HistogramVec
	requestTotal       *prometheus.CounterVec
	seatReservations   prometheus.Counter
	capacityRejections prometheus.Counter
	promotions         *prometheus.CounterVec

	requestCount         uint64
	requestDurationTotal uint64
	seatReservedCount    uint64
	capacityRejectCount  uint64
	promotionCount       uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	seatReservations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "seat_reservations_total",
		Help: "Total successful seat reservations",
	})

	capacityRejections := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capacity_rejections_total",
		Help: "Total enrollment attempts rejected by the capacity guard",
	})

	promotions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "waitlist_promotions_total",
		Help: "Waitlist promotion outcomes by result",
	}, []string{"outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, seatReservations, capacityRejections, promotions, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:           registry,
		handler:            handler,
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		seatReservations:   seatReservations,
		capacityRejections: capacityRejections,
		promotions:         promotions,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordSeatReserved counts a successful guarded seat reservation.
func (m *MetricsService) RecordSeatReserved() {
	if m == nil {
		return
	}
	m.seatReservations.Inc()
	atomic.AddUint64(&m.seatReservedCount, 1)
}

// RecordCapacityRejected counts an enrollment attempt that lost to the capacity guard.
func (m *MetricsService) RecordCapacityRejected() {
	if m == nil {
		return
	}
	m.capacityRejections.Inc()
	atomic.AddUint64(&m.capacityRejectCount, 1)
}

// RecordPromotionOutcome counts one processed waitlist entry by outcome.
func (m *MetricsService) RecordPromotionOutcome(outcome string) {
	if m == nil {
		return
	}
	m.promotions.WithLabelValues(outcome).Inc()
	atomic.AddUint64(&m.promotionCount, 1)
}

// Snapshot returns aggregated counters for the system metrics endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		SeatReservations:         atomic.LoadUint64(&m.seatReservedCount),
		CapacityRejections:       atomic.LoadUint64(&m.capacityRejectCount),
		PromotionsProcessed:      atomic.LoadUint64(&m.promotionCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}

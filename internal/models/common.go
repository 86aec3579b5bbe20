package models

import "time"

// Pagination carries paging metadata for list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// SystemMetrics is the aggregated counter snapshot served by the metrics summary endpoint.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	SeatReservations         uint64    `json:"seat_reservations"`
	CapacityRejections       uint64    `json:"capacity_rejections"`
	PromotionsProcessed      uint64    `json:"promotions_processed"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/delivery-gateway/internal/models"
	"github.com/aman-churiwal/delivery-gateway/internal/storage"
)

type RequestLogRepository struct {
	db *storage.Postgres
}

func NewRequestLogRepository(db *storage.Postgres) *RequestLogRepository {
	return &RequestLogRepository{db: db}
}

// LogFilter selects request logs in [From, To]. Zero Route and StatusCode
// match everything.
type LogFilter struct {
	From       time.Time
	To         time.Time
	Route      string
	StatusCode int
	Limit      int
	Offset     int
}

// RouteCount is the number of requests one route received.
type RouteCount struct {
	Route string `json:"route"`
	Count int64  `json:"count"`
}

// Inserts multiple request logs (for batch insertion)
func (r *RequestLogRepository) CreateBatch(ctx context.Context, logs []*models.RequestLog) error {
	if len(logs) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&logs).Error
}

// Find returns the newest logs matching filter first.
func (r *RequestLogRepository) Find(ctx context.Context, filter LogFilter) ([]models.RequestLog, error) {
	var logs []models.RequestLog

	query := r.db.DB.WithContext(ctx).
		Where("timestamp BETWEEN ? AND ?", filter.From, filter.To)
	if filter.Route != "" {
		query = query.Where("route = ?", filter.Route)
	}
	if filter.StatusCode != 0 {
		query = query.Where("status_code = ?", filter.StatusCode)
	}

	err := query.
		Order("timestamp DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&logs).Error

	return logs, err
}

// Counts logs in a time range
func (r *RequestLogRepository) CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Count(&count).Error

	return count, err
}

// Count logs by status code range (e.g., 4xx, 5xx)
func (r *RequestLogRepository) CountByStatusCodeRange(ctx context.Context, minStatusCode, maxStatusCode int, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("status_code BETWEEN ? AND ? AND timestamp BETWEEN ? AND ?", minStatusCode, maxStatusCode, from, to).
		Count(&count).Error

	return count, err
}

// Calculates average response time
func (r *RequestLogRepository) GetAverageResponseTime(ctx context.Context, from, to time.Time) (float64, error) {
	var avg float64

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Select("COALESCE(AVG(response_time_ms), 0)").
		Scan(&avg).Error

	return avg, err
}

// Calculates response time percentile
func (r *RequestLogRepository) GetPercentile(ctx context.Context, from, to time.Time, percentile float64) (int, error) {
	var result int
	query := `
		SELECT COALESCE(PERCENTILE_CONT(?) WITHIN GROUP (ORDER BY response_time_ms), 0)
		FROM request_logs
		WHERE timestamp BETWEEN ? AND ?
	`

	err := r.db.DB.WithContext(ctx).Raw(query, percentile, from, to).Scan(&result).Error
	return result, err
}

// GetTopRoutes returns the busiest routes, most requests first.
func (r *RequestLogRepository) GetTopRoutes(ctx context.Context, from, to time.Time, limit int) ([]RouteCount, error) {
	var results []RouteCount

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Select("route, COUNT(*) as count").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("route").
		Order("count DESC").
		Limit(limit).
		Scan(&results).Error

	return results, err
}

// Deletes logs older than the specified time
func (r *RequestLogRepository) DeleteOldLogs(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.RequestLog{})

	return result.RowsAffected, result.Error
}

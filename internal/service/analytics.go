package service

import (
	"context"
	"errors"
	"time"

	"github.com/aman-churiwal/delivery-gateway/internal/models"
	"github.com/aman-churiwal/delivery-gateway/internal/repository"
)

// RequestLogStore is the query side of the request log repository.
type RequestLogStore interface {
	Find(ctx context.Context, filter repository.LogFilter) ([]models.RequestLog, error)
	CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error)
	CountByStatusCodeRange(ctx context.Context, minStatusCode, maxStatusCode int, from, to time.Time) (int64, error)
	GetAverageResponseTime(ctx context.Context, from, to time.Time) (float64, error)
	GetPercentile(ctx context.Context, from, to time.Time, percentile float64) (int, error)
	GetTopRoutes(ctx context.Context, from, to time.Time, limit int) ([]repository.RouteCount, error)
	DeleteOldLogs(ctx context.Context, before time.Time) (int64, error)
}

type AnalyticsService struct {
	store RequestLogStore
	now   func() time.Time
}

func NewAnalyticsService(store RequestLogStore) *AnalyticsService {
	return &AnalyticsService{store: store, now: time.Now}
}

// Holds analytics summary data
type AnalyticsSummary struct {
	From            time.Time               `json:"from"`
	To              time.Time               `json:"to"`
	TotalRequests   int64                   `json:"total_requests"`
	AvgResponseTime float64                 `json:"avg_response_time_ms"`
	P50ResponseTime int                     `json:"p50_response_time_ms"`
	P95ResponseTime int                     `json:"p95_response_time_ms"`
	P99ResponseTime int                     `json:"p99_response_time_ms"`
	ErrorRate       float64                 `json:"error_rate"`
	SuccessRate     float64                 `json:"success_rate"`
	ClientErrorRate float64                 `json:"client_error_rate"`
	ServerErrorRate float64                 `json:"server_error_rate"`
	TopRoutes       []repository.RouteCount `json:"top_routes"`
}

var ErrInvalidRange = errors.New("from must be before to")

// Retrieves analytics summary for a time range
func (s *AnalyticsService) GetSummary(ctx context.Context, from, to time.Time) (*AnalyticsSummary, error) {
	if from.After(to) {
		return nil, ErrInvalidRange
	}

	summary := &AnalyticsSummary{From: from, To: to, TopRoutes: []repository.RouteCount{}}

	totalRequests, err := s.store.CountByTimeRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.TotalRequests = totalRequests

	if totalRequests == 0 {
		return summary, nil
	}

	avgResponseTime, err := s.store.GetAverageResponseTime(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.AvgResponseTime = avgResponseTime

	// Percentiles are best effort
	summary.P50ResponseTime, _ = s.store.GetPercentile(ctx, from, to, 0.50)
	summary.P95ResponseTime, _ = s.store.GetPercentile(ctx, from, to, 0.95)
	summary.P99ResponseTime, _ = s.store.GetPercentile(ctx, from, to, 0.99)

	clientErrors, err := s.store.CountByStatusCodeRange(ctx, 400, 499, from, to)
	if err != nil {
		return nil, err
	}

	serverErrors, err := s.store.CountByStatusCodeRange(ctx, 500, 599, from, to)
	if err != nil {
		return nil, err
	}

	total := float64(totalRequests)
	summary.ErrorRate = float64(clientErrors+serverErrors) / total * 100
	summary.SuccessRate = 100 - summary.ErrorRate
	summary.ClientErrorRate = float64(clientErrors) / total * 100
	summary.ServerErrorRate = float64(serverErrors) / total * 100

	topRoutes, err := s.store.GetTopRoutes(ctx, from, to, 10)
	if err != nil {
		return nil, err
	}
	if topRoutes != nil {
		summary.TopRoutes = topRoutes
	}

	return summary, nil
}

// GetLogs returns request logs, newest first.
func (s *AnalyticsService) GetLogs(ctx context.Context, filter repository.LogFilter) ([]models.RequestLog, error) {
	if filter.From.After(filter.To) {
		return nil, ErrInvalidRange
	}
	logs, err := s.store.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []models.RequestLog{}
	}
	return logs, nil
}

// Deletes logs older than specified retention period
func (s *AnalyticsService) CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, errors.New("retention must be at least one day")
	}
	cutOffDate := s.now().AddDate(0, 0, -retentionDays)
	return s.store.DeleteOldLogs(ctx, cutOffDate)
}

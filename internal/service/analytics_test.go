package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aman-churiwal/delivery-gateway/internal/models"
	"github.com/aman-churiwal/delivery-gateway/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	total        int64
	clientErrors int64
	serverErrors int64
	avg          float64
	percentiles  map[float64]int
	top          []repository.RouteCount
	logs         []models.RequestLog
	countErr     error

	lastFilter repository.LogFilter
	deletedAt  time.Time
}

func (f *fakeStore) Find(_ context.Context, filter repository.LogFilter) ([]models.RequestLog, error) {
	f.lastFilter = filter
	return f.logs, nil
}

func (f *fakeStore) CountByTimeRange(context.Context, time.Time, time.Time) (int64, error) {
	return f.total, f.countErr
}

func (f *fakeStore) CountByStatusCodeRange(_ context.Context, min, _ int, _, _ time.Time) (int64, error) {
	if min == 400 {
		return f.clientErrors, nil
	}
	return f.serverErrors, nil
}

func (f *fakeStore) GetAverageResponseTime(context.Context, time.Time, time.Time) (float64, error) {
	return f.avg, nil
}

func (f *fakeStore) GetPercentile(_ context.Context, _, _ time.Time, p float64) (int, error) {
	return f.percentiles[p], nil
}

func (f *fakeStore) GetTopRoutes(context.Context, time.Time, time.Time, int) ([]repository.RouteCount, error) {
	return f.top, nil
}

func (f *fakeStore) DeleteOldLogs(_ context.Context, before time.Time) (int64, error) {
	f.deletedAt = before
	return 42, nil
}

func TestGetSummary(t *testing.T) {
	store := &fakeStore{
		total:        200,
		clientErrors: 20,
		serverErrors: 10,
		avg:          12.5,
		percentiles:  map[float64]int{0.50: 8, 0.95: 40, 0.99: 95},
		top: []repository.RouteCount{
			{Route: "order-service", Count: 120},
			{Route: "restaurant-service", Count: 80},
		},
	}
	svc := NewAnalyticsService(store)
	to := time.Now()

	summary, err := svc.GetSummary(context.Background(), to.Add(-time.Hour), to)
	require.NoError(t, err)

	assert.Equal(t, int64(200), summary.TotalRequests)
	assert.InDelta(t, 15.0, summary.ErrorRate, 0.001)
	assert.InDelta(t, 85.0, summary.SuccessRate, 0.001)
	assert.InDelta(t, 10.0, summary.ClientErrorRate, 0.001)
	assert.InDelta(t, 5.0, summary.ServerErrorRate, 0.001)
	assert.Equal(t, 12.5, summary.AvgResponseTime)
	assert.Equal(t, 95, summary.P99ResponseTime)
	assert.Equal(t, "order-service", summary.TopRoutes[0].Route)
}

func TestGetSummary_Empty(t *testing.T) {
	svc := NewAnalyticsService(&fakeStore{})
	to := time.Now()

	summary, err := svc.GetSummary(context.Background(), to.Add(-time.Hour), to)
	require.NoError(t, err)
	assert.Zero(t, summary.TotalRequests)
	assert.NotNil(t, summary.TopRoutes)
}

func TestGetSummary_Errors(t *testing.T) {
	now := time.Now()

	_, err := NewAnalyticsService(&fakeStore{}).GetSummary(context.Background(), now, now.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrInvalidRange)

	boom := errors.New("db down")
	_, err = NewAnalyticsService(&fakeStore{countErr: boom}).GetSummary(context.Background(), now.Add(-time.Hour), now)
	assert.ErrorIs(t, err, boom)
}

func TestGetLogs_PassesFilter(t *testing.T) {
	store := &fakeStore{}
	svc := NewAnalyticsService(store)
	to := time.Now()
	filter := repository.LogFilter{From: to.Add(-time.Hour), To: to, Route: "order-service", StatusCode: 503, Limit: 50}

	logs, err := svc.GetLogs(context.Background(), filter)
	require.NoError(t, err)
	assert.NotNil(t, logs)
	assert.Equal(t, filter, store.lastFilter)
}

func TestCleanupOldLogs(t *testing.T) {
	store := &fakeStore{}
	svc := NewAnalyticsService(store)
	fixed := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	n, err := svc.CleanupOldLogs(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.Equal(t, fixed.AddDate(0, 0, -30), store.deletedAt)

	_, err = svc.CleanupOldLogs(context.Background(), 0)
	assert.Error(t, err)
}

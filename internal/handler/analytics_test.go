package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aman-churiwal/delivery-gateway/internal/models"
	"github.com/aman-churiwal/delivery-gateway/internal/repository"
	"github.com/aman-churiwal/delivery-gateway/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	logs       []models.RequestLog
	total      int64
	err        error
	lastFilter repository.LogFilter
	deleted    int64
}

func (s *stubStore) Find(_ context.Context, filter repository.LogFilter) ([]models.RequestLog, error) {
	s.lastFilter = filter
	return s.logs, s.err
}

func (s *stubStore) CountByTimeRange(context.Context, time.Time, time.Time) (int64, error) {
	return s.total, s.err
}

func (s *stubStore) CountByStatusCodeRange(context.Context, int, int, time.Time, time.Time) (int64, error) {
	return 0, nil
}

func (s *stubStore) GetAverageResponseTime(context.Context, time.Time, time.Time) (float64, error) {
	return 3, nil
}

func (s *stubStore) GetPercentile(context.Context, time.Time, time.Time, float64) (int, error) {
	return 5, nil
}

func (s *stubStore) GetTopRoutes(context.Context, time.Time, time.Time, int) ([]repository.RouteCount, error) {
	return []repository.RouteCount{{Route: "order-service", Count: s.total}}, nil
}

func (s *stubStore) DeleteOldLogs(context.Context, time.Time) (int64, error) {
	return s.deleted, nil
}

func analyticsRouter(store service.RequestLogStore) *gin.Engine {
	h := NewAnalyticsHandler(service.NewAnalyticsService(store))
	r := gin.New()
	r.GET("/admin/analytics", h.GetSummary)
	r.GET("/admin/request-logs", h.GetLogs)
	r.DELETE("/admin/request-logs", h.Cleanup)
	return r
}

func call(r *gin.Engine, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestAnalytics_Summary(t *testing.T) {
	r := analyticsRouter(&stubStore{total: 12})

	rec := call(r, http.MethodGet, "/admin/analytics?from=2026-01-01T00:00:00Z&to=2026-01-02T00:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary service.AnalyticsSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, int64(12), summary.TotalRequests)
	assert.Equal(t, "order-service", summary.TopRoutes[0].Route)
}

func TestAnalytics_BadRange(t *testing.T) {
	r := analyticsRouter(&stubStore{})

	assert.Equal(t, http.StatusBadRequest, call(r, http.MethodGet, "/admin/analytics?from=yesterday").Code)
	assert.Equal(t, http.StatusBadRequest, call(r, http.MethodGet, "/admin/analytics?from=1700000000&to=1600000000").Code)
}

func TestAnalytics_StoreFailure(t *testing.T) {
	r := analyticsRouter(&stubStore{err: errors.New("db down")})

	assert.Equal(t, http.StatusInternalServerError, call(r, http.MethodGet, "/admin/analytics").Code)
}

func TestRequestLogs_Filters(t *testing.T) {
	store := &stubStore{logs: []models.RequestLog{{Route: "order-service", StatusCode: 503}}}
	r := analyticsRouter(store)

	rec := call(r, http.MethodGet, "/admin/request-logs?route=order-service&status=503&limit=20&offset=40")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "order-service", store.lastFilter.Route)
	assert.Equal(t, 503, store.lastFilter.StatusCode)
	assert.Equal(t, 20, store.lastFilter.Limit)
	assert.Equal(t, 40, store.lastFilter.Offset)

	var body struct {
		Logs []models.RequestLog `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Logs, 1)

	call(r, http.MethodGet, "/admin/request-logs?limit=5000")
	assert.Equal(t, 100, store.lastFilter.Limit, "out of range limit falls back to default")

	assert.Equal(t, http.StatusBadRequest, call(r, http.MethodGet, "/admin/request-logs?status=abc").Code)
}

func TestRequestLogs_Cleanup(t *testing.T) {
	r := analyticsRouter(&stubStore{deleted: 7})

	rec := call(r, http.MethodDelete, "/admin/request-logs?retention_days=14")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":7,"retention_days":14}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, call(r, http.MethodDelete, "/admin/request-logs?retention_days=-1").Code)
}

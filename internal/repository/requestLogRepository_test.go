package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aman-churiwal/delivery-gateway/internal/models"
	"github.com/aman-churiwal/delivery-gateway/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockRepository(t *testing.T) (*RequestLogRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return NewRequestLogRepository(&storage.Postgres{DB: gdb}), mock
}

func TestRequestLogRepository_CreateBatchSkipsEmpty(t *testing.T) {
	repo, mock := newMockRepository(t)

	require.NoError(t, repo.CreateBatch(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestLogRepository_CountByTimeRange(t *testing.T) {
	repo, mock := newMockRepository(t)
	to := time.Now()
	from := to.Add(-time.Hour)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "request_logs" WHERE timestamp BETWEEN`).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	count, err := repo.CountByTimeRange(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestLogRepository_Find(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT \* FROM "request_logs" WHERE .*route = .*status_code = .*ORDER BY timestamp DESC`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "route", "status_code", "timestamp"}).
			AddRow(2, "order-service", 503, now).
			AddRow(1, "order-service", 503, now.Add(-time.Second)))

	logs, err := repo.Find(context.Background(), LogFilter{
		From:       now.Add(-time.Hour),
		To:         now,
		Route:      "order-service",
		StatusCode: 503,
		Limit:      10,
	})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, uint(2), logs[0].ID)
	assert.Equal(t, "order-service", logs[1].Route)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestLogRepository_GetTopRoutes(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT route, COUNT\(\*\) as count FROM "request_logs" .*GROUP BY "?route"? ORDER BY count DESC`).
		WillReturnRows(sqlmock.NewRows([]string{"route", "count"}).
			AddRow("order-service", 12).
			AddRow("user-service", 3))

	routes, err := repo.GetTopRoutes(context.Background(), now.Add(-time.Hour), now, 5)
	require.NoError(t, err)
	assert.Equal(t, []RouteCount{{Route: "order-service", Count: 12}, {Route: "user-service", Count: 3}}, routes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestLogRepository_DeleteOldLogs(t *testing.T) {
	repo, mock := newMockRepository(t)
	before := time.Now().AddDate(0, 0, -30)

	mock.ExpectExec(`DELETE FROM "request_logs" WHERE timestamp <`).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 3))

	deleted, err := repo.DeleteOldLogs(context.Background(), before)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestLogRepository_PropagatesErrors(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Now()
	boom := errors.New("connection reset")

	mock.ExpectQuery(`SELECT COALESCE\(AVG\(response_time_ms\), 0\) FROM "request_logs"`).
		WillReturnError(boom)

	_, err := repo.GetAverageResponseTime(context.Background(), now.Add(-time.Hour), now)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestLog_TableName(t *testing.T) {
	assert.Equal(t, "request_logs", models.RequestLog{}.TableName())
}

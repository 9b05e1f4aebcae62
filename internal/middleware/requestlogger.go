package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/aman-churiwal/delivery-gateway/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// RequestLogSink persists batches of request records.
type RequestLogSink interface {
	CreateBatch(ctx context.Context, logs []*models.RequestLog) error
}

type RequestLogWriterConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	// WriteTimeout bounds a single batch insert.
	WriteTimeout time.Duration
}

func (c RequestLogWriterConfig) withDefaults() RequestLogWriterConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// RequestLogWriter queues request records and inserts them in batches from a
// background goroutine. Records are dropped, never blocked on, when the
// buffer is full.
type RequestLogWriter struct {
	sink    RequestLogSink
	cfg     RequestLogWriterConfig
	logger  *zap.Logger
	dropped prometheus.Counter

	mu      sync.RWMutex
	closed  bool
	entries chan *models.RequestLog
	done    chan struct{}
}

// NewRequestLogWriter starts the batching goroutine. dropped may be nil.
func NewRequestLogWriter(sink RequestLogSink, cfg RequestLogWriterConfig, logger *zap.Logger, dropped prometheus.Counter) *RequestLogWriter {
	cfg = cfg.withDefaults()
	w := &RequestLogWriter{
		sink:    sink,
		cfg:     cfg,
		logger:  logger,
		dropped: dropped,
		entries: make(chan *models.RequestLog, cfg.BufferSize),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Record queues entry. It reports false if the entry was dropped.
func (w *RequestLogWriter) Record(entry *models.RequestLog) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return false
	}

	select {
	case w.entries <- entry:
		return true
	default:
		if w.dropped != nil {
			w.dropped.Inc()
		}
		return false
	}
}

// Close stops accepting records and waits for the queued ones to be written.
func (w *RequestLogWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.entries)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *RequestLogWriter) run() {
	defer close(w.done)

	batch := make([]*models.RequestLog, 0, w.cfg.BatchSize)
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				w.flush(batch)
				return
			}
			batch = append(batch, entry)

			// Insert when batch is full
			if len(batch) >= w.cfg.BatchSize {
				w.flush(batch)
				batch = make([]*models.RequestLog, 0, w.cfg.BatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = make([]*models.RequestLog, 0, w.cfg.BatchSize)
			}
		}
	}
}

func (w *RequestLogWriter) flush(batch []*models.RequestLog) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WriteTimeout)
	defer cancel()

	if err := w.sink.CreateBatch(ctx, batch); err != nil {
		w.logger.Error("failed to insert request logs",
			zap.Int("count", len(batch)),
			zap.Error(err),
		)
	}
}

// RequestLogger records every request to w once it has been answered.
func RequestLogger(w *RequestLogWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		w.Record(&models.RequestLog{
			RequestID:      c.GetString(RequestIDKey),
			Timestamp:      start,
			Route:          c.GetString(RouteKey),
			Upstream:       c.GetString(UpstreamKey),
			UserID:         c.GetString(UserIDKey),
			Method:         c.Request.Method,
			Path:           c.Request.URL.Path,
			StatusCode:     c.Writer.Status(),
			ResponseTimeMs: int(time.Since(start).Milliseconds()),
			IPAddress:      c.ClientIP(),
			UserAgent:      c.Request.UserAgent(),
			BackendServer:  c.GetString(BackendKey),
		})
	}
}

package models

import (
	"time"
)

// Represents one request that passed through the gateway
type RequestLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	RequestID      string    `gorm:"size:64;index" json:"request_id"`
	Timestamp      time.Time `gorm:"index" json:"timestamp"`
	Route          string    `gorm:"size:64;index" json:"route"`
	Upstream       string    `gorm:"size:64" json:"upstream,omitempty"`
	UserID         string    `gorm:"size:128;index" json:"user_id,omitempty"`
	Method         string    `gorm:"size:16" json:"method"`
	Path           string    `gorm:"index" json:"path"`
	StatusCode     int       `gorm:"index" json:"status_code"`
	ResponseTimeMs int       `json:"response_time_ms"`
	IPAddress      string    `gorm:"size:64" json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	BackendServer  string    `json:"backend_server,omitempty"`
}

func (RequestLog) TableName() string {
	return "request_logs"
}

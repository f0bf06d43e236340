package logpipeline

import (
	"context"

	"gorm.io/gorm"

	"github.com/cfxrouter/gateway/types"
)

// RequestLogRow is the `request_logs` row a batch write inserts.
type RequestLogRow struct {
	RequestID        string `gorm:"column:request_id;primaryKey"`
	UserID           string `gorm:"column:user_id;index"`
	APIKeyID         *int64 `gorm:"column:api_key_id"`
	Stage            string `gorm:"column:stage"`
	Model            string `gorm:"column:model"`
	PromptTokens     int    `gorm:"column:prompt_tokens"`
	CompletionTokens int    `gorm:"column:completion_tokens"`
	TotalTokens      int    `gorm:"column:total_tokens"`
	CostPicos        int64  `gorm:"column:cost_picos"`
	LatencyMS        int64  `gorm:"column:latency_ms"`
	StatusCode       int    `gorm:"column:status_code"`
	ErrorMessage     string `gorm:"column:error_message"`
	CreatedAt        int64  `gorm:"column:created_at"` // unix seconds, UTC
}

func (RequestLogRow) TableName() string { return "request_logs" }

// GormWriter writes batches in a single transaction via CreateInBatches.
type GormWriter struct {
	db *gorm.DB
}

// NewGormWriter wraps db (already migrated for RequestLogRow).
func NewGormWriter(db *gorm.DB) *GormWriter {
	return &GormWriter{db: db}
}

func (w *GormWriter) WriteBatch(ctx context.Context, entries []types.LogEntry) error {
	rows := make([]RequestLogRow, len(entries))
	for i, e := range entries {
		rows[i] = RequestLogRow{
			RequestID:        e.RequestID,
			UserID:           e.UserID,
			APIKeyID:         e.APIKeyID,
			Stage:            string(e.Stage),
			Model:            e.Model,
			PromptTokens:     e.PromptTokens,
			CompletionTokens: e.CompletionTokens,
			TotalTokens:      e.TotalTokens,
			CostPicos:        e.CostPicos,
			LatencyMS:        e.LatencyMS,
			StatusCode:       e.StatusCode,
			ErrorMessage:     e.ErrorMessage,
			CreatedAt:        e.CreatedAt.Unix(),
		}
	}

	return w.db.WithContext(ctx).CreateInBatches(rows, len(rows)).Error
}

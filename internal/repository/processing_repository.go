package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/kidney-seg/internal/faults"
	"github.com/example/kidney-seg/internal/logging"
)

// ProcessingLog is the persisted audit record of one frame-processing run.
// It stores the outcome and timing, never the pixels.
type ProcessingLog struct {
	ID               uint      `gorm:"primaryKey"`
	RequestID        string    `gorm:"column:request_id;uniqueIndex;size:64"`
	SHA1Hash         string    `gorm:"column:sha1_hash;index;size:40"`
	Width            int       `gorm:"column:width"`
	Height           int       `gorm:"column:height"`
	Success          bool      `gorm:"column:success"`
	Details          string    `gorm:"column:details;type:text"`
	ProcessingTimeMs float64   `gorm:"column:processing_time_ms"`
	CreatedAt        time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (ProcessingLog) TableName() string {
	return "processing_logs"
}

// MetricsAggregation is the raw aggregate the metrics summary is built from.
type MetricsAggregation struct {
	TotalCount                 int64
	SuccessCount               int64
	AverageProcessingLatencyMs float64
}

// ProcessingRepository provides persistence APIs for processing logs.
type ProcessingRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewProcessingRepository creates a new repository instance.
func NewProcessingRepository(db *gorm.DB, logger *zap.Logger) *ProcessingRepository {
	return &ProcessingRepository{
		db:             db,
		logger:         logger.Named("processing_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *ProcessingRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&ProcessingLog{})
}

// SaveLog persists a processing log entry.
func (r *ProcessingRepository) SaveLog(ctx context.Context, log *ProcessingLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestID retrieves the processing log for a request.
func (r *ProcessingRepository) FindByRequestID(ctx context.Context, requestID string) (*ProcessingLog, error) {
	var log ProcessingLog
	err := r.executeWithRetry(ctx, "repository.find_by_request_id", requestID, func() error {
		return r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// FindDuplicatesByHash lists other requests that processed the same image.
func (r *ProcessingRepository) FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*ProcessingLog, error) {
	var logs []*ProcessingLog
	err := r.executeWithRetry(ctx, "repository.find_duplicates_by_hash", excludeRequestID, func() error {
		return r.db.WithContext(ctx).
			Where("sha1_hash = ? AND request_id <> ?", hash, excludeRequestID).
			Order("created_at DESC").
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics computes totals over all persisted processing runs.
func (r *ProcessingRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&ProcessingLog{}).
			Select("COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS success_count, " +
				"COALESCE(AVG(processing_time_ms), 0) AS average_processing_latency_ms").
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

// executeWithRetry retries transient database failures with capped
// exponential backoff. Non-transient errors return immediately.
func (r *ProcessingRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return wrapOp(operation, requestID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return wrapOp(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !faults.Transient(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return wrapOp(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return wrapOp(operation, requestID, err)
}

func wrapOp(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	op := operation
	if requestID != "" {
		op = fmt.Sprintf("%s (request_id=%s)", operation, requestID)
	}
	return &faults.Error{Kind: faults.KindOf(err), Op: op, Err: err}
}

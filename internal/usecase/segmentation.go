package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/kidney-seg/internal/faults"
	"github.com/example/kidney-seg/internal/imgcodec"
	"github.com/example/kidney-seg/internal/logging"
	"github.com/example/kidney-seg/internal/pipeline"
	"github.com/example/kidney-seg/internal/repository"
)

// ErrResultUnavailable is returned by GetResult when neither cache nor
// persistence is configured or the request is unknown.
var ErrResultUnavailable = errors.New("result not found")

// ProcessingRepository defines the persistence operations needed by the use case.
type ProcessingRepository interface {
	SaveLog(ctx context.Context, log *repository.ProcessingLog) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.ProcessingLog, error)
	FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*repository.ProcessingLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// UploadResult carries the wire-encoded outputs of one processed upload.
type UploadResult struct {
	OriginalImage    string
	SegmentationMask string
	Overlay          string
	ProcessingTime   time.Duration
}

// DuplicateReport lists other requests that processed the same image bytes.
type DuplicateReport struct {
	Request    *repository.ProcessingLog
	Duplicates []*repository.ProcessingLog
}

// SegmentationUseCase orchestrates decode, frame processing, persistence,
// and caching for uploaded images. Repository and cache are optional; when
// absent the service still segments, it just keeps no audit trail. The
// pipeline is never bypassed by the cache — every upload is recomputed.
type SegmentationUseCase struct {
	repo           ProcessingRepository
	cache          Cache
	pipe           *pipeline.FramePipeline
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type cachedProcessing struct {
	RequestID        string    `json:"request_id"`
	Hash             string    `json:"sha1_hash"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	Success          bool      `json:"success"`
	Details          string    `json:"details"`
	ProcessingTimeMs float64   `json:"processing_time_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewSegmentationUseCase constructs a new use case instance.
func NewSegmentationUseCase(repo ProcessingRepository, cache Cache, pipe *pipeline.FramePipeline, logger *zap.Logger) *SegmentationUseCase {
	return &SegmentationUseCase{
		repo:           repo,
		cache:          cache,
		pipe:           pipe,
		logger:         logger.Named("segmentation_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Ready reports whether the underlying pipeline has a loaded engine.
func (uc *SegmentationUseCase) Ready() bool {
	return uc.pipe != nil && uc.pipe.Ready()
}

// ProcessUpload decodes an uploaded image, runs the frame pipeline, and
// records the outcome. Failed runs are recorded too when persistence is on.
func (uc *SegmentationUseCase) ProcessUpload(ctx context.Context, contents []byte) (string, *UploadResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.process_upload", requestID)

	img, err := imgcodec.DecodeBytes(contents)
	if err != nil {
		opLogger.Warn("upload rejected", zap.Error(err))
		return requestID, nil, err
	}

	hash := sha1.Sum(contents)
	hashHex := hex.EncodeToString(hash[:])

	result, elapsed, err := uc.pipe.Process(ctx, img)
	if err != nil {
		uc.record(ctx, opLogger, &repository.ProcessingLog{
			RequestID:        requestID,
			SHA1Hash:         hashHex,
			Width:            img.Width,
			Height:           img.Height,
			Success:          false,
			Details:          fmt.Sprintf("kind:%s error:%v", faults.KindOf(err), err),
			ProcessingTimeMs: float64(elapsed.Microseconds()) / 1000.0,
			CreatedAt:        time.Now().UTC(),
		})
		return requestID, nil, err
	}

	original, err := imgcodec.EncodeBase64(img)
	if err != nil {
		return requestID, nil, err
	}
	mask, err := imgcodec.EncodeBase64(result.Mask)
	if err != nil {
		return requestID, nil, err
	}
	overlay, err := imgcodec.EncodeBase64(result.Overlay)
	if err != nil {
		return requestID, nil, err
	}

	uc.record(ctx, opLogger, &repository.ProcessingLog{
		RequestID:        requestID,
		SHA1Hash:         hashHex,
		Width:            img.Width,
		Height:           img.Height,
		Success:          true,
		Details:          fmt.Sprintf("status:true latency_ms:%.3f hash:%s", float64(elapsed.Microseconds())/1000.0, hashHex),
		ProcessingTimeMs: float64(elapsed.Microseconds()) / 1000.0,
		CreatedAt:        time.Now().UTC(),
	})

	return requestID, &UploadResult{
		OriginalImage:    original,
		SegmentationMask: mask,
		Overlay:          overlay,
		ProcessingTime:   result.ProcessingTime,
	}, nil
}

// record persists and caches the processing log. Audit failures are logged
// but never fail an already-processed upload.
func (uc *SegmentationUseCase) record(ctx context.Context, opLogger *zap.Logger, log *repository.ProcessingLog) {
	if uc.repo != nil {
		if err := uc.repo.SaveLog(ctx, log); err != nil {
			opLogger.Error("failed to persist processing log", zap.Error(err))
		}
	}

	if uc.cache == nil {
		return
	}
	cached := cachedProcessing{
		RequestID:        log.RequestID,
		Hash:             log.SHA1Hash,
		Width:            log.Width,
		Height:           log.Height,
		Success:          log.Success,
		Details:          log.Details,
		ProcessingTimeMs: log.ProcessingTimeMs,
		CreatedAt:        log.CreatedAt,
	}
	serialized, err := json.Marshal(cached)
	if err != nil {
		opLogger.Error("failed to serialize processing log", zap.Error(err))
		return
	}
	cacheKey := fmt.Sprintf("segmentation:%s", log.RequestID)
	if err := uc.withRedisRetry(ctx, log.RequestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), 5*time.Minute)
	}); err != nil {
		opLogger.Error("failed to cache processing log", zap.Error(err))
	}
}

// GetResult retrieves a cached processing outcome or loads from persistence.
func (uc *SegmentationUseCase) GetResult(ctx context.Context, requestID string) (*repository.ProcessingLog, error) {
	cacheKey := fmt.Sprintf("segmentation:%s", requestID)
	if uc.cache != nil {
		if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", cacheKey); err == nil {
			var payload cachedProcessing
			if err := json.Unmarshal([]byte(cached), &payload); err != nil {
				logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to decode cached result", zap.Error(err))
			} else {
				return &repository.ProcessingLog{
					RequestID:        payload.RequestID,
					SHA1Hash:         payload.Hash,
					Width:            payload.Width,
					Height:           payload.Height,
					Success:          payload.Success,
					Details:          payload.Details,
					ProcessingTimeMs: payload.ProcessingTimeMs,
					CreatedAt:        payload.CreatedAt,
				}, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to read cache", zap.Error(err))
		}
	}

	if uc.repo == nil {
		return nil, ErrResultUnavailable
	}
	return uc.repo.FindByRequestID(ctx, requestID)
}

// GetDuplicateReport lists prior requests that processed the same image.
func (uc *SegmentationUseCase) GetDuplicateReport(ctx context.Context, requestID string) (*DuplicateReport, error) {
	if uc.repo == nil {
		return nil, ErrResultUnavailable
	}
	log, err := uc.repo.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, log.SHA1Hash, log.RequestID)
	if err != nil {
		return nil, err
	}
	return &DuplicateReport{Request: log, Duplicates: duplicates}, nil
}

func (uc *SegmentationUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return wrapOp(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return wrapOp(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, redis.Nil) {
			return err
		}
		if !faults.Transient(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return wrapOp(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return wrapOp(operation, requestID, err)
}

func (uc *SegmentationUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
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

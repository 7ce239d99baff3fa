package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/kidney-seg/internal/faults"
	"github.com/example/kidney-seg/internal/pipeline"
	"github.com/example/kidney-seg/internal/repository"
)

type stubRepository struct {
	savedLogs  []*repository.ProcessingLog
	saveErr    error
	findLog    *repository.ProcessingLog
	findErr    error
	findCalls  int
	duplicates []*repository.ProcessingLog
	agg        *repository.MetricsAggregation
}

func (s *stubRepository) SaveLog(ctx context.Context, log *repository.ProcessingLog) error {
	s.savedLogs = append(s.savedLogs, log)
	return s.saveErr
}

func (s *stubRepository) FindByRequestID(ctx context.Context, requestID string) (*repository.ProcessingLog, error) {
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.findLog != nil {
		return s.findLog, nil
	}
	return nil, errors.New("not found")
}

func (s *stubRepository) FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*repository.ProcessingLog, error) {
	return s.duplicates, nil
}

func (s *stubRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	if s.agg == nil {
		return &repository.MetricsAggregation{}, nil
	}
	return s.agg, nil
}

type stubCache struct {
	setErrs   []error
	getErrs   []error
	getValues []string
	setKeys   []string
	setValues []string
	getKeys   []string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	if str, ok := value.(string); ok {
		s.setValues = append(s.setValues, str)
	}
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.getKeys = append(s.getKeys, key)
	var value string
	if len(s.getValues) > 0 {
		value = s.getValues[0]
		s.getValues = s.getValues[1:]
	}
	var err error
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	}
	return value, err
}

type stubEngine struct {
	err error
}

func (s *stubEngine) Infer(ctx context.Context, input []float32) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return make([]float32, pipeline.InputHeight*pipeline.InputWidth), nil
}

func (s *stubEngine) InputShape() []int64 {
	return []int64{1, 3, pipeline.InputHeight, pipeline.InputWidth}
}

func (s *stubEngine) OutputShape() []int64 {
	return []int64{1, 1, pipeline.InputHeight, pipeline.InputWidth}
}

func (s *stubEngine) Close() error { return nil }

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 6, 4))); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func newTestUseCase(repo ProcessingRepository, cache Cache, eng *stubEngine) *SegmentationUseCase {
	pipe := pipeline.NewFramePipeline(eng, zap.NewNop())
	uc := NewSegmentationUseCase(repo, cache, pipe, zap.NewNop())
	uc.initialBackoff = time.Millisecond
	uc.maxBackoff = 2 * time.Millisecond
	return uc
}

func TestProcessUploadPersistsAndCaches(t *testing.T) {
	repo := &stubRepository{}
	cache := &stubCache{}
	uc := newTestUseCase(repo, cache, &stubEngine{})

	requestID, result, err := uc.ProcessUpload(context.Background(), testPNG(t))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.SegmentationMask == "" || result.Overlay == "" || result.OriginalImage == "" {
		t.Fatal("expected encoded outputs")
	}
	if len(repo.savedLogs) != 1 {
		t.Fatalf("expected 1 saved log, got %d", len(repo.savedLogs))
	}
	log := repo.savedLogs[0]
	if !log.Success || log.RequestID != requestID || log.Width != 6 || log.Height != 4 {
		t.Fatalf("unexpected log: %+v", log)
	}
	if len(cache.setKeys) != 1 || cache.setKeys[0] != "segmentation:"+requestID {
		t.Fatalf("unexpected cache keys: %v", cache.setKeys)
	}
}

func TestProcessUploadRetriesTransientCacheErrors(t *testing.T) {
	cache := &stubCache{setErrs: []error{transientRedisError{}}}
	uc := newTestUseCase(&stubRepository{}, cache, &stubEngine{})

	_, _, err := uc.ProcessUpload(context.Background(), testPNG(t))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(cache.setKeys) < 2 {
		t.Fatalf("expected retried cache set, got %d calls", len(cache.setKeys))
	}
	if cache.setKeys[0] != cache.setKeys[1] {
		t.Fatalf("retry must target same key, got %s and %s", cache.setKeys[0], cache.setKeys[1])
	}
}

func TestProcessUploadRejectsUndecodableBytes(t *testing.T) {
	repo := &stubRepository{}
	uc := newTestUseCase(repo, nil, &stubEngine{})

	_, _, err := uc.ProcessUpload(context.Background(), []byte("not an image"))
	if !faults.Is(err, faults.KindInput) {
		t.Fatalf("expected input fault, got %v", err)
	}
	if len(repo.savedLogs) != 0 {
		t.Fatalf("rejected input must not be persisted, got %d logs", len(repo.savedLogs))
	}
}

func TestProcessUploadRecordsEngineFailure(t *testing.T) {
	repo := &stubRepository{}
	boom := faults.Engine("engine.infer", errors.New("runtime down"))
	uc := newTestUseCase(repo, nil, &stubEngine{err: boom})

	_, result, err := uc.ProcessUpload(context.Background(), testPNG(t))
	if err == nil || result != nil {
		t.Fatalf("expected failure without result, got %v / %+v", err, result)
	}
	if len(repo.savedLogs) != 1 || repo.savedLogs[0].Success {
		t.Fatalf("expected failed run to be audited: %+v", repo.savedLogs)
	}
}

func TestProcessUploadWorksWithoutRepoAndCache(t *testing.T) {
	uc := newTestUseCase(nil, nil, &stubEngine{})

	_, result, err := uc.ProcessUpload(context.Background(), testPNG(t))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result == nil {
		t.Fatal("expected a result")
	}
}

func TestGetResultPrefersCache(t *testing.T) {
	payload, _ := json.Marshal(cachedProcessing{RequestID: "req", Details: "from-cache"})
	cache := &stubCache{getValues: []string{string(payload)}}
	repo := &stubRepository{findLog: &repository.ProcessingLog{RequestID: "req", Details: "from-db"}}
	uc := newTestUseCase(repo, cache, &stubEngine{})

	log, err := uc.GetResult(context.Background(), "req")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if log.Details != "from-cache" {
		t.Fatalf("expected cached result, got %q", log.Details)
	}
	if repo.findCalls != 0 {
		t.Fatalf("repository should not be queried on cache hit, got %d calls", repo.findCalls)
	}
}

func TestGetResultFallsBackToRepositoryOnCacheMiss(t *testing.T) {
	cache := &stubCache{getErrs: []error{redis.Nil}}
	expected := &repository.ProcessingLog{RequestID: "req", Details: "from-db"}
	repo := &stubRepository{findLog: expected}
	uc := newTestUseCase(repo, cache, &stubEngine{})

	log, err := uc.GetResult(context.Background(), "req")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if log != expected {
		t.Fatalf("expected %+v, got %+v", expected, log)
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected repository to be queried once, got %d", repo.findCalls)
	}
}

func TestGetResultWithoutStores(t *testing.T) {
	uc := newTestUseCase(nil, nil, &stubEngine{})
	if _, err := uc.GetResult(context.Background(), "req"); !errors.Is(err, ErrResultUnavailable) {
		t.Fatalf("expected ErrResultUnavailable, got %v", err)
	}
}

func TestGetMetricsSummaryComputesRate(t *testing.T) {
	repo := &stubRepository{agg: &repository.MetricsAggregation{
		TotalCount:                 4,
		SuccessCount:               3,
		AverageProcessingLatencyMs: 12.5,
	}}
	uc := newTestUseCase(repo, nil, &stubEngine{})

	summary, err := uc.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if summary.SuccessRate != 0.75 || summary.AverageProcessingLatencyMs != 12.5 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestGetDuplicateReport(t *testing.T) {
	request := &repository.ProcessingLog{RequestID: "req", SHA1Hash: "abc"}
	dupe := &repository.ProcessingLog{RequestID: "other", SHA1Hash: "abc"}
	repo := &stubRepository{findLog: request, duplicates: []*repository.ProcessingLog{dupe}}
	uc := newTestUseCase(repo, nil, &stubEngine{})

	report, err := uc.GetDuplicateReport(context.Background(), "req")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if report.Request != request || len(report.Duplicates) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if !strings.EqualFold(report.Duplicates[0].SHA1Hash, "abc") {
		t.Fatalf("unexpected duplicate: %+v", report.Duplicates[0])
	}
}

package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"image"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/example/cocoa-roast-scan/internal/domain"
	"github.com/example/cocoa-roast-scan/internal/events"
	"github.com/example/cocoa-roast-scan/internal/imageprocessor"
	"github.com/example/cocoa-roast-scan/internal/logging"
	"github.com/example/cocoa-roast-scan/internal/repository"
	"github.com/example/cocoa-roast-scan/internal/retry"
)

// processingPrefix marks an in-flight scan; the owner's id follows it.
const processingPrefix = "processing:"

// ErrScanInProgress is returned by GetResult while a scan is still running.
var ErrScanInProgress = errors.New("scan in progress")

// ScanRepository defines the persistence operations needed by the use case.
type ScanRepository interface {
	SaveLog(ctx context.Context, log *repository.ScanLog) error
	FindByScanIDAndUser(ctx context.Context, scanID, userID string) (*repository.ScanLog, error)
	FindDuplicatesByHash(ctx context.Context, userID, hash, excludeScanID string) ([]*repository.ScanLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Scanner is the classifier cascade.
type Scanner interface {
	Scan(ctx context.Context, img image.Image) (*domain.ScanResult, error)
	Classify(ctx context.Context, img image.Image) (domain.RankedResult, error)
	Availability() map[domain.Slot]bool
}

// ScanUseCase runs scans and keeps their history.
type ScanUseCase struct {
	repo      ScanRepository
	cache     Cache
	scanner   Scanner
	publisher events.Publisher
	logger    *zap.Logger
	slots     *semaphore.Weighted
	retry     retry.Policy
	maxPixels int
	now       func() time.Time
}

// Option customizes a ScanUseCase.
type Option func(*ScanUseCase)

// WithMaxPixels bounds the declared dimensions of accepted images.
func WithMaxPixels(n int) Option {
	return func(uc *ScanUseCase) { uc.maxPixels = n }
}

type cachedScan struct {
	ScanID      string             `json:"scan_id"`
	UserID      string             `json:"user_id"`
	Success     bool               `json:"success"`
	FailureKind string             `json:"failure_kind,omitempty"`
	Result      *domain.ScanResult `json:"result,omitempty"`
	Hash        string             `json:"sha1_hash"`
	LatencyMs   int64              `json:"latency_ms"`
	CreatedAt   time.Time          `json:"created_at"`
}

// DuplicateReport lists earlier scans of the same image.
type DuplicateReport struct {
	Request    *repository.ScanLog
	Duplicates []*repository.ScanLog
}

// NewScanUseCase constructs a use case that runs at most maxConcurrent scans at once.
func NewScanUseCase(repo ScanRepository, cache Cache, scanner Scanner, publisher events.Publisher, maxConcurrent int64, logger *zap.Logger, opts ...Option) *ScanUseCase {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	uc := &ScanUseCase{
		repo:      repo,
		cache:     cache,
		scanner:   scanner,
		publisher: publisher,
		logger:    logger.Named("scan_usecase"),
		slots:     semaphore.NewWeighted(maxConcurrent),
		retry:     retry.DefaultPolicy(),
		maxPixels: imageprocessor.DefaultMaxPixels,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// ScanImage runs the full cascade on imageBytes and records the outcome. The
// scan id is returned even when classification fails.
func (uc *ScanUseCase) ScanImage(ctx context.Context, userID string, imageBytes []byte) (string, *domain.ScanResult, error) {
	scanID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.scan_image", scanID)

	cacheKey := scanCacheKey(scanID)
	if err := retry.Do(ctx, uc.retry, uc.logger, "cache.set.processing", scanID, func() error {
		return uc.cache.Set(ctx, cacheKey, processingPrefix+userID, time.Minute)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return "", nil, err
	}

	hash := sha1.Sum(imageBytes)
	log := &repository.ScanLog{
		ScanID:   scanID,
		UserID:   userID,
		SHA1Hash: hex.EncodeToString(hash[:]),
	}

	start := time.Now()
	result, scanErr := uc.runScan(ctx, imageBytes)
	log.ProcessingLatencyMs = time.Since(start).Milliseconds()
	log.CreatedAt = uc.now()

	if scanErr != nil {
		log.FailureKind = domain.FailureKind(scanErr)
		log.FailureDetail = scanErr.Error()
		opLogger.Warn("scan failed", zap.String("kind", log.FailureKind), zap.Error(scanErr))
	} else {
		log.ApplyResult(result)
	}

	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", scanID, err)
		opLogger.Error("failed to persist scan log", zap.Error(wrapped))
		return "", nil, wrapped
	}

	serialized, err := json.Marshal(toCached(log))
	if err != nil {
		opLogger.Error("failed to serialize scan result", zap.Error(err))
		return "", nil, err
	}
	if err := retry.Do(ctx, uc.retry, uc.logger, "cache.set.result", scanID, func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), 5*time.Minute)
	}); err != nil {
		opLogger.Error("failed to cache scan result", zap.Error(err))
		return "", nil, err
	}

	event := events.ScanCompleted{
		ScanID:      scanID,
		UserID:      userID,
		Success:     scanErr == nil,
		FailureKind: log.FailureKind,
		Result:      result,
		CompletedAt: log.CreatedAt,
	}
	if err := uc.publisher.PublishScanCompleted(ctx, event); err != nil {
		opLogger.Warn("failed to publish scan event", zap.Error(err))
	}

	if scanErr != nil {
		return scanID, nil, logging.NewOperationError("usecase.scan", scanID, scanErr)
	}
	return scanID, result, nil
}

func (uc *ScanUseCase) runScan(ctx context.Context, imageBytes []byte) (*domain.ScanResult, error) {
	img, _, err := imageprocessor.Decode(imageBytes, uc.maxPixels)
	if err != nil {
		return nil, err
	}
	if err := uc.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer uc.slots.Release(1)
	return uc.scanner.Scan(ctx, img)
}

// ClassifyImage runs only the shell-condition classifier.
func (uc *ScanUseCase) ClassifyImage(ctx context.Context, imageBytes []byte) (domain.RankedResult, error) {
	img, _, err := imageprocessor.Decode(imageBytes, uc.maxPixels)
	if err != nil {
		return nil, logging.NewOperationError("usecase.classify", "", err)
	}
	if err := uc.slots.Acquire(ctx, 1); err != nil {
		return nil, logging.NewOperationError("usecase.classify", "", err)
	}
	defer uc.slots.Release(1)

	ranked, err := uc.scanner.Classify(ctx, img)
	if err != nil {
		return nil, logging.NewOperationError("usecase.classify", "", err)
	}
	return ranked, nil
}

// Availability reports which cascade slots are loaded, keyed by slot name.
func (uc *ScanUseCase) Availability() map[string]bool {
	out := make(map[string]bool, domain.SlotCount)
	for slot, ok := range uc.scanner.Availability() {
		out[slot.String()] = ok
	}
	return out
}

// GetResult returns a scan owned by userID, from cache when possible.
func (uc *ScanUseCase) GetResult(ctx context.Context, userID, scanID string) (*repository.ScanLog, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", scanID)
	cached, err := uc.withCacheGet(ctx, scanID, "cache.get.result", scanCacheKey(scanID))
	switch {
	case err == nil && strings.HasPrefix(cached, processingPrefix):
		if strings.TrimPrefix(cached, processingPrefix) == userID {
			return nil, ErrScanInProgress
		}
	case err == nil:
		var payload cachedScan
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			opLogger.Warn("failed to decode cached result", zap.Error(err))
		} else if payload.UserID == userID {
			return fromCached(payload), nil
		}
	case !errors.Is(err, redis.Nil):
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByScanIDAndUser(ctx, scanID, userID)
}

// GetDuplicateReport finds the user's other scans of the same image bytes.
func (uc *ScanUseCase) GetDuplicateReport(ctx context.Context, userID, scanID string) (*DuplicateReport, error) {
	log, err := uc.repo.FindByScanIDAndUser(ctx, scanID, userID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, userID, log.SHA1Hash, log.ScanID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{
		Request:    log,
		Duplicates: duplicates,
	}, nil
}

func (uc *ScanUseCase) withCacheGet(ctx context.Context, scanID, operation, cacheKey string) (string, error) {
	var result string
	err := retry.Do(ctx, uc.retry.Expecting(redis.Nil), uc.logger, operation, scanID, func() error {
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

func toCached(log *repository.ScanLog) cachedScan {
	return cachedScan{
		ScanID:      log.ScanID,
		UserID:      log.UserID,
		Success:     log.Success,
		FailureKind: log.FailureKind,
		Result:      log.Result(),
		Hash:        log.SHA1Hash,
		LatencyMs:   log.ProcessingLatencyMs,
		CreatedAt:   log.CreatedAt,
	}
}

func fromCached(c cachedScan) *repository.ScanLog {
	log := &repository.ScanLog{
		ScanID:              c.ScanID,
		UserID:              c.UserID,
		FailureKind:         c.FailureKind,
		SHA1Hash:            c.Hash,
		ProcessingLatencyMs: c.LatencyMs,
		CreatedAt:           c.CreatedAt,
	}
	if c.Success && c.Result != nil {
		log.ApplyResult(c.Result)
	}
	return log
}

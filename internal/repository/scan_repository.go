package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/cocoa-roast-scan/internal/domain"
	"github.com/example/cocoa-roast-scan/internal/retry"
)

// ScanLog is one persisted scan, successful or not.
type ScanLog struct {
	ID                  uint      `gorm:"primaryKey"`
	ScanID              string    `gorm:"column:scan_id;uniqueIndex;size:64"`
	UserID              string    `gorm:"column:user_id;size:64;index"`
	Success             bool      `gorm:"column:success"`
	FailureKind         string    `gorm:"column:failure_kind;size:32"`
	FailureDetail       string    `gorm:"column:failure_detail;type:text"`
	ShellLabel          string    `gorm:"column:shell_label;size:64"`
	ShellConfidence     float32   `gorm:"column:shell_confidence"`
	DurationLabel       string    `gorm:"column:duration_label;size:64"`
	DurationConfidence  float32   `gorm:"column:duration_confidence"`
	ColorLabel          string    `gorm:"column:color_label;size:64"`
	ColorConfidence     float32   `gorm:"column:color_confidence"`
	FormattedColor      string    `gorm:"column:formatted_color;size:64"`
	RoastingStatus      string    `gorm:"column:roasting_status;size:32;index"`
	AverageConfidence   float32   `gorm:"column:average_confidence"`
	SHA1Hash            string    `gorm:"column:sha1_hash;size:40;index"`
	ProcessingLatencyMs int64     `gorm:"column:processing_latency_ms"`
	CreatedAt           time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (ScanLog) TableName() string {
	return "scan_logs"
}

// Result rebuilds the scan verdict. It is nil for failed scans.
func (l *ScanLog) Result() *domain.ScanResult {
	if l == nil || !l.Success {
		return nil
	}
	return &domain.ScanResult{
		ShellResult:       domain.Recognition{Label: l.ShellLabel, Confidence: l.ShellConfidence},
		DurationResult:    domain.Recognition{Label: l.DurationLabel, Confidence: l.DurationConfidence},
		ColorResult:       domain.Recognition{Label: l.ColorLabel, Confidence: l.ColorConfidence},
		FormattedColor:    l.FormattedColor,
		RoastingStatus:    domain.RoastingStatus(l.RoastingStatus),
		AverageConfidence: l.AverageConfidence,
	}
}

// ApplyResult copies a successful verdict into the log.
func (l *ScanLog) ApplyResult(r *domain.ScanResult) {
	l.Success = true
	l.ShellLabel, l.ShellConfidence = r.ShellResult.Label, r.ShellResult.Confidence
	l.DurationLabel, l.DurationConfidence = r.DurationResult.Label, r.DurationResult.Confidence
	l.ColorLabel, l.ColorConfidence = r.ColorResult.Label, r.ColorResult.Confidence
	l.FormattedColor = r.FormattedColor
	l.RoastingStatus = string(r.RoastingStatus)
	l.AverageConfidence = r.AverageConfidence
}

// MetricsAggregation is the raw aggregate over scan_logs.
type MetricsAggregation struct {
	TotalCount                 int64
	SuccessCount               int64
	AverageConfidence          float64
	AverageProcessingLatencyMs float64
	StatusCounts               map[string]int64
}

// ErrNotFound is returned when no scan matches the id and owner.
var ErrNotFound = errors.New("scan not found")

// ScanRepository provides persistence APIs for scan logs.
type ScanRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewScanRepository creates a new repository instance.
func NewScanRepository(db *gorm.DB, logger *zap.Logger) *ScanRepository {
	p := retry.DefaultPolicy()
	return &ScanRepository{
		db:             db,
		logger:         logger.Named("scan_repository"),
		retryAttempts:  p.Attempts,
		initialBackoff: p.InitialBackoff,
		maxBackoff:     p.MaxBackoff,
	}
}

// AutoMigrate ensures the schema is available.
func (r *ScanRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&ScanLog{})
	})
}

// SaveLog persists a scan log entry.
func (r *ScanRepository) SaveLog(ctx context.Context, log *ScanLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.ScanID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByScanIDAndUser retrieves the scan log owned by userID.
func (r *ScanRepository) FindByScanIDAndUser(ctx context.Context, scanID, userID string) (*ScanLog, error) {
	var log ScanLog
	err := r.executeWithRetry(ctx, "repository.find_scan", scanID, func() error {
		return r.db.WithContext(ctx).First(&log, "scan_id = ? AND user_id = ?", scanID, userID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, scanID)
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// FindDuplicatesByHash lists the user's other scans of the same image bytes.
func (r *ScanRepository) FindDuplicatesByHash(ctx context.Context, userID, hash, excludeScanID string) ([]*ScanLog, error) {
	var logs []*ScanLog
	err := r.executeWithRetry(ctx, "repository.find_duplicates", excludeScanID, func() error {
		return r.db.WithContext(ctx).
			Where("user_id = ? AND sha1_hash = ? AND scan_id <> ?", userID, hash, excludeScanID).
			Order("created_at DESC").
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics summarizes every persisted scan.
func (r *ScanRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var totals struct {
		TotalCount                 int64
		SuccessCount               int64
		AverageConfidence          float64
		AverageProcessingLatencyMs float64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&ScanLog{}).
			Select("COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS success_count, " +
				"COALESCE(AVG(CASE WHEN success THEN average_confidence END), 0) AS average_confidence, " +
				"COALESCE(AVG(processing_latency_ms), 0) AS average_processing_latency_ms").
			Scan(&totals).Error
	})
	if err != nil {
		return nil, err
	}

	var rows []struct {
		RoastingStatus string
		Count          int64
	}
	err = r.executeWithRetry(ctx, "repository.aggregate_status", "", func() error {
		return r.db.WithContext(ctx).Model(&ScanLog{}).
			Select("roasting_status, COUNT(*) AS count").
			Where("success = ?", true).
			Group("roasting_status").
			Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	agg := &MetricsAggregation{
		TotalCount:                 totals.TotalCount,
		SuccessCount:               totals.SuccessCount,
		AverageConfidence:          totals.AverageConfidence,
		AverageProcessingLatencyMs: totals.AverageProcessingLatencyMs,
		StatusCounts:               make(map[string]int64, len(rows)),
	}
	for _, row := range rows {
		agg.StatusCounts[row.RoastingStatus] = row.Count
	}
	return agg, nil
}

func (r *ScanRepository) executeWithRetry(ctx context.Context, operation, scanID string, fn func() error) error {
	policy := retry.Policy{Attempts: r.retryAttempts, InitialBackoff: r.initialBackoff, MaxBackoff: r.maxBackoff}
	return retry.Do(ctx, policy, r.logger, operation, scanID, fn)
}

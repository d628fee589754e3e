package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/cocoa-roast-scan/internal/domain"
	"github.com/example/cocoa-roast-scan/internal/logging"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func TestExecuteWithRetryRetriesTransientErrors(t *testing.T) {
	repo := &ScanRepository{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "scan-1", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryReturnsOperationError(t *testing.T) {
	repo := &ScanRepository{
		logger:         zap.NewNop(),
		retryAttempts:  2,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "scan-2", func() error {
		attempts++
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}

	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "test.operation" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if opErr.RequestID != "scan-2" {
		t.Fatalf("unexpected request id: %s", opErr.RequestID)
	}
}

func TestScanLogResultRoundTrip(t *testing.T) {
	result := &domain.ScanResult{
		ShellResult:       domain.Recognition{Label: "dikupas", Confidence: 0.91},
		DurationResult:    domain.Recognition{Label: "5", Confidence: 0.77},
		ColorResult:       domain.Recognition{Label: "cokelat", Confidence: 0.85},
		FormattedColor:    domain.ColorBrown,
		RoastingStatus:    domain.StatusProperlyRoasted,
		AverageConfidence: 0.8433,
	}
	log := &ScanLog{ScanID: "scan-3"}
	log.ApplyResult(result)

	if !log.Success || log.RoastingStatus != "properly roasted" {
		t.Fatalf("unexpected log %+v", log)
	}
	if got := log.Result(); *got != *result {
		t.Fatalf("expected %+v, got %+v", result, got)
	}

	failed := &ScanLog{ScanID: "scan-4", FailureKind: "model_unavailable"}
	if failed.Result() != nil {
		t.Fatal("failed scans have no result")
	}
}

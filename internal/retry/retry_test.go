package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/cocoa-roast-scan/internal/logging"
)

type transientError struct{}

func (transientError) Error() string   { return "transient" }
func (transientError) Timeout() bool   { return true }
func (transientError) Temporary() bool { return true }

var fast = Policy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func TestDoRetriesTransientErrors(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fast, zap.NewNop(), "cache.set", "scan-1", func() error {
		attempts++
		if attempts < 3 {
			return transientError{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fast, zap.NewNop(), "cache.set", "scan-2", func() error {
		attempts++
		return errors.New("wrongtype")
	})
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "cache.set" || opErr.RequestID != "scan-2" {
		t.Fatalf("expected OperationError, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestDoGivesUpAfterAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fast, zap.NewNop(), "db.create", "", func() error {
		attempts++
		return fmt.Errorf("wrapped: %w", transientError{})
	})
	if err == nil || attempts != 3 {
		t.Fatalf("expected failure after 3 attempts, got %v after %d", err, attempts)
	}
}

func TestDoSingleAttempt(t *testing.T) {
	if err := Do(context.Background(), Policy{Attempts: 1}, zap.NewNop(), "op", "", func() error { return nil }); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := Do(ctx, Policy{Attempts: 3, InitialBackoff: time.Hour, MaxBackoff: time.Hour}, zap.NewNop(), "op", "", func() error {
		cancel()
		return transientError{}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) || IsTransient(errors.New("x")) {
		t.Fatal("plain errors are not transient")
	}
	if !IsTransient(context.DeadlineExceeded) || !IsTransient(transientError{}) {
		t.Fatal("expected transient")
	}
}

func TestDoDoesNotLogExpectedOutcomes(t *testing.T) {
	errMiss := errors.New("cache miss")
	core, logs := observer.New(zap.DebugLevel)

	attempts := 0
	err := Do(context.Background(), fast.Expecting(errMiss), zap.New(core), "cache.get", "scan-3", func() error {
		attempts++
		return fmt.Errorf("get: %w", errMiss)
	})
	if !errors.Is(err, errMiss) {
		t.Fatalf("expected the miss to be returned, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected outcomes must not be retried, got %d attempts", attempts)
	}
	if logs.Len() != 0 {
		t.Fatalf("expected no log entries, got %v", logs.All())
	}
}

func TestExpectingDoesNotAliasPolicy(t *testing.T) {
	base := fast.Expecting(errors.New("a"))
	_ = base.Expecting(errors.New("b"))
	if len(base.Expected) != 1 {
		t.Fatalf("base policy was modified: %v", base.Expected)
	}
}

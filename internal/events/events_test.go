package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/cocoa-roast-scan/internal/domain"
)

func TestNewMsgCarriesEventAndTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator()) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	event := ScanCompleted{
		ScanID:  "scan-1",
		UserID:  "user-1",
		Success: true,
		Result: &domain.ScanResult{
			ColorResult:    domain.Recognition{Label: "cokelat", Confidence: 0.85},
			FormattedColor: domain.ColorBrown,
			RoastingStatus: domain.StatusProperlyRoasted,
		},
		CompletedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	msg, err := newMsg(ctx, "cocoa.scan.completed", event)
	require.NoError(t, err)
	assert.Equal(t, "cocoa.scan.completed", msg.Subject)
	assert.Contains(t, (*headerCarrier)(msg).Get("traceparent"), "4bf92f3577b34da6a3ce929d0e0e4736")
	assert.Contains(t, (*headerCarrier)(msg).Keys(), "traceparent")

	var decoded ScanCompleted
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, event.ScanID, decoded.ScanID)
	assert.Equal(t, domain.StatusProperlyRoasted, decoded.Result.RoastingStatus)
}

func TestEmptyCarrier(t *testing.T) {
	var c headerCarrier
	assert.Equal(t, "", c.Get("traceparent"))
	assert.Empty(t, c.Keys())
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.PublishScanCompleted(context.Background(), ScanCompleted{}))
	assert.NoError(t, p.Close())
}

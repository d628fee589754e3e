package usecase

import "context"

// MetricsSummary reports how scans have gone so far.
type MetricsSummary struct {
	TotalScans                 int64            `json:"total_scans"`
	SuccessfulScans            int64            `json:"successful_scans"`
	SuccessRate                float64          `json:"success_rate"`
	AverageConfidence          float64          `json:"average_confidence"`
	AverageProcessingLatencyMs float64          `json:"average_processing_latency_ms"`
	RoastingStatusCounts       map[string]int64 `json:"roasting_status_counts"`
}

// GetMetricsSummary aggregates scan metrics from persisted logs.
func (uc *ScanUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalScans:                 aggregation.TotalCount,
		SuccessfulScans:            aggregation.SuccessCount,
		AverageConfidence:          aggregation.AverageConfidence,
		AverageProcessingLatencyMs: aggregation.AverageProcessingLatencyMs,
		RoastingStatusCounts:       aggregation.StatusCounts,
	}
	if summary.RoastingStatusCounts == nil {
		summary.RoastingStatusCounts = map[string]int64{}
	}

	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}

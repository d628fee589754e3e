// Package ranker turns raw classifier scores into ranked recognitions.
package ranker

import (
	"sort"

	"github.com/example/cocoa-roast-scan/internal/domain"
)

// Rank pairs each score with the label at the same index and orders the pairs
// by descending score. Scores beyond the label set are dropped. Equal scores
// keep their input order.
func Rank(scores domain.ScoreVector, labels []string) (domain.RankedResult, error) {
	n := len(scores)
	if len(labels) < n {
		n = len(labels)
	}
	if n == 0 {
		return nil, domain.ErrEmptyInput
	}

	ranked := make(domain.RankedResult, n)
	for i := 0; i < n; i++ {
		ranked[i] = domain.Recognition{Label: labels[i], Confidence: scores[i]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})
	return ranked, nil
}

// Top ranks and returns the best recognition.
func Top(scores domain.ScoreVector, labels []string) (domain.Recognition, error) {
	ranked, err := Rank(scores, labels)
	if err != nil {
		return domain.Recognition{}, err
	}
	return ranked[0], nil
}

// Skew returns len(scores) - len(labels). A non-zero value means the model and
// its label file disagree on the number of classes.
func Skew(scores domain.ScoreVector, labels []string) int {
	return len(scores) - len(labels)
}

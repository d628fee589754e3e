// Package classifier defines the port every cascade model is reached through
// and the set of four slot instances a pipeline owns.
package classifier

import (
	"context"

	"github.com/example/cocoa-roast-scan/internal/domain"
)

// Classifier wraps one pre-trained image classifier.
type Classifier interface {
	// Infer returns one score per label index for a preprocessed tensor.
	// The tensor may be shared between slots and must not be modified.
	Infer(ctx context.Context, tensor domain.Tensor) (domain.ScoreVector, error)
	// Close releases the underlying resources. It must be safe to call repeatedly.
	Close() error
}

// Func adapts a plain function to the Classifier interface.
type Func func(ctx context.Context, tensor domain.Tensor) (domain.ScoreVector, error)

// Infer calls f.
func (f Func) Infer(ctx context.Context, tensor domain.Tensor) (domain.ScoreVector, error) {
	return f(ctx, tensor)
}

// Close is a no-op.
func (f Func) Close() error { return nil }

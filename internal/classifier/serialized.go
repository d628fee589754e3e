package classifier

import (
	"context"
	"sync"

	"github.com/example/cocoa-roast-scan/internal/domain"
)

// Serialized guards a backend whose inference call is not reentrant.
type Serialized struct {
	mu    sync.Mutex
	inner Classifier
	once  sync.Once
	err   error
}

// Serialize wraps c so that at most one Infer runs at a time.
func Serialize(c Classifier) *Serialized {
	return &Serialized{inner: c}
}

// Infer runs the wrapped classifier under the instance lock.
func (s *Serialized) Infer(ctx context.Context, tensor domain.Tensor) (domain.ScoreVector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Infer(ctx, tensor)
}

// Close closes the wrapped classifier once.
func (s *Serialized) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.err = s.inner.Close()
	})
	return s.err
}

package classifier

import (
	"errors"
	"fmt"
	"sync"

	"github.com/example/cocoa-roast-scan/internal/domain"
)

// Set holds the classifier of every slot. A nil entry marks a slot that failed
// to load.
type Set struct {
	mu     sync.RWMutex
	slots  [domain.SlotCount]Classifier
	closed bool
}

// NewSet builds a set from the loaded slots. Missing keys are unavailable.
func NewSet(slots map[domain.Slot]Classifier) *Set {
	s := &Set{}
	for slot, c := range slots {
		if slot.Valid() {
			s.slots[slot] = c
		}
	}
	return s
}

// Get returns the classifier of slot or an error wrapping
// domain.ErrModelUnavailable when it never loaded or the set was closed.
func (s *Set) Get(slot domain.Slot) (Classifier, error) {
	if !slot.Valid() {
		return nil, fmt.Errorf("%w: unknown slot %s", domain.ErrModelUnavailable, slot)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("%w: slot %s released", domain.ErrModelUnavailable, slot)
	}
	c := s.slots[slot]
	if c == nil {
		return nil, fmt.Errorf("%w: slot %s not loaded", domain.ErrModelUnavailable, slot)
	}
	return c, nil
}

// Available reports whether slot can serve inference.
func (s *Set) Available(slot domain.Slot) bool {
	_, err := s.Get(slot)
	return err == nil
}

// Close releases every loaded slot. Later calls return nil.
func (s *Set) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	slots := s.slots
	s.slots = [domain.SlotCount]Classifier{}
	s.mu.Unlock()

	var errs []error
	for i, c := range slots {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", domain.Slot(i), err))
		}
	}
	return errors.Join(errs...)
}

// Package cascade runs the shell → duration → colour classifier cascade.
package cascade

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/cocoa-roast-scan/internal/classifier"
	"github.com/example/cocoa-roast-scan/internal/domain"
	"github.com/example/cocoa-roast-scan/internal/imageprocessor"
	"github.com/example/cocoa-roast-scan/internal/labels"
	"github.com/example/cocoa-roast-scan/internal/ranker"
)

// Pipeline owns the four slot classifiers for its whole lifetime. Scans may run
// concurrently as long as the slot backends are safe for concurrent Infer calls
// (see classifier.Serialize otherwise).
type Pipeline struct {
	classifiers   *classifier.Set
	catalog       *labels.Catalog
	preprocessors [domain.SlotCount]*imageprocessor.Preprocessor
	peeledLabel   string
	logger        *zap.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option customizes a Pipeline.
type Option func(*Pipeline) error

// WithPeeledLabel sets the shell label that selects the peeled-duration slot.
func WithPeeledLabel(label string) Option {
	return func(p *Pipeline) error {
		if label == "" {
			return fmt.Errorf("peeled label must not be empty")
		}
		p.peeledLabel = label
		return nil
	}
}

// WithPreprocess fixes the tensor layout fed to slot.
func WithPreprocess(slot domain.Slot, cfg imageprocessor.Config) Option {
	return func(p *Pipeline) error {
		if !slot.Valid() {
			return fmt.Errorf("unknown slot %s", slot)
		}
		pre, err := imageprocessor.New(cfg)
		if err != nil {
			return fmt.Errorf("slot %s: %w", slot, err)
		}
		p.preprocessors[slot] = pre
		return nil
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) error {
		p.logger = logger.Named("cascade")
		return nil
	}
}

// New assembles a pipeline. Unless overridden, every slot uses the default
// 256x256 raw layout and the peeled sentinel is the first shell label.
func New(classifiers *classifier.Set, catalog *labels.Catalog, opts ...Option) (*Pipeline, error) {
	if classifiers == nil {
		classifiers = classifier.NewSet(nil)
	}
	if catalog == nil {
		catalog = labels.NewCatalog(nil)
	}
	p := &Pipeline{
		classifiers: classifiers,
		catalog:     catalog,
		logger:      zap.NewNop(),
	}
	if shell := catalog.Labels(domain.SlotShell); len(shell) > 0 {
		p.peeledLabel = shell[0]
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	for _, slot := range domain.Slots() {
		if p.preprocessors[slot] == nil {
			pre, err := imageprocessor.New(imageprocessor.DefaultConfig())
			if err != nil {
				return nil, err
			}
			p.preprocessors[slot] = pre
		}
	}
	return p, nil
}

// Scan runs the full cascade on img. It returns either a complete result or an
// error wrapping *StageError; partial results are never returned.
func (p *Pipeline) Scan(ctx context.Context, img image.Image) (*domain.ScanResult, error) {
	start := time.Now()
	tensors := make(tensorCache, 1)

	shell, err := p.top(ctx, domain.SlotShell, StageShellClassified, img, tensors)
	if err != nil {
		return nil, err
	}
	condition := domain.ShellConditionOf(shell.Label, p.peeledLabel)
	p.logger.Debug("shell classified",
		zap.String("label", shell.Label),
		zap.Float32("confidence", shell.Confidence),
		zap.Stringer("condition", condition))

	durationSlot := condition.DurationSlot()
	duration, err := p.top(ctx, durationSlot, StageDurationClassified, img, tensors)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("duration classified",
		zap.Stringer("slot", durationSlot),
		zap.String("label", duration.Label),
		zap.Float32("confidence", duration.Confidence))

	color, err := p.top(ctx, domain.SlotColor, StageColorClassified, img, tensors)
	if err != nil {
		return nil, err
	}

	formatted, status := domain.MapColor(color.Label)
	if status == domain.StatusUnknown {
		p.logger.Warn("colour label has no roasting status", zap.String("label", color.Label))
	}

	result := &domain.ScanResult{
		ShellResult:       shell,
		DurationResult:    duration,
		ColorResult:       color,
		FormattedColor:    formatted,
		RoastingStatus:    status,
		AverageConfidence: (shell.Confidence + duration.Confidence + color.Confidence) / 3,
	}
	p.logger.Info("scan complete",
		zap.String("color", formatted),
		zap.String("status", string(status)),
		zap.Float32("average_confidence", result.AverageConfidence),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// Classify runs only the shell-condition slot and returns its full ranking.
func (p *Pipeline) Classify(ctx context.Context, img image.Image) (domain.RankedResult, error) {
	scores, set, err := p.infer(ctx, domain.SlotShell, img, make(tensorCache, 1))
	var ranked domain.RankedResult
	if err == nil {
		ranked, err = ranker.Rank(scores, set)
	}
	if err != nil {
		return nil, &StageError{Stage: StageShellClassified, Slot: domain.SlotShell, Err: err}
	}
	return ranked, nil
}

// Availability reports which slots can currently serve inference.
func (p *Pipeline) Availability() map[domain.Slot]bool {
	out := make(map[domain.Slot]bool, domain.SlotCount)
	for _, slot := range domain.Slots() {
		out[slot] = p.classifiers.Available(slot)
	}
	return out
}

// Catalog returns the label catalog the pipeline ranks against.
func (p *Pipeline) Catalog() *labels.Catalog {
	return p.catalog
}

// PeeledLabel returns the shell label that routes to the peeled-duration slot.
func (p *Pipeline) PeeledLabel() string {
	return p.peeledLabel
}

// Shutdown releases every classifier. Only the first call does any work.
func (p *Pipeline) Shutdown() error {
	p.shutdownOnce.Do(func() {
		p.shutdownErr = p.classifiers.Close()
		p.logger.Info("pipeline shut down")
	})
	return p.shutdownErr
}

func (p *Pipeline) top(ctx context.Context, slot domain.Slot, stage Stage, img image.Image, tensors tensorCache) (domain.Recognition, error) {
	scores, set, err := p.infer(ctx, slot, img, tensors)
	var best domain.Recognition
	if err == nil {
		best, err = ranker.Top(scores, set)
	}
	if err != nil {
		p.logger.Error("cascade step failed",
			zap.Stringer("stage", stage),
			zap.Stringer("slot", slot),
			zap.String("kind", domain.FailureKind(err)),
			zap.Error(err))
		return domain.Recognition{}, &StageError{Stage: stage, Slot: slot, Err: err}
	}
	return best, nil
}

// infer runs slot on img and returns its raw scores with the slot's labels.
func (p *Pipeline) infer(ctx context.Context, slot domain.Slot, img image.Image, tensors tensorCache) (domain.ScoreVector, labels.LabelSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	c, err := p.classifiers.Get(slot)
	if err != nil {
		return nil, nil, err
	}
	tensor, err := tensors.get(p.preprocessors[slot], img)
	if err != nil {
		return nil, nil, err
	}
	scores, err := c.Infer(ctx, tensor)
	if err != nil {
		return nil, nil, err
	}

	set := p.catalog.Labels(slot)
	if skew := ranker.Skew(scores, set); skew != 0 {
		p.logger.Warn("score/label length mismatch, truncating",
			zap.Stringer("slot", slot),
			zap.Int("scores", len(scores)),
			zap.Int("labels", len(set)))
	}
	return scores, set, nil
}

// tensorCache memoizes tensors per layout within one scan.
type tensorCache map[imageprocessor.Config]domain.Tensor

func (c tensorCache) get(pre *imageprocessor.Preprocessor, img image.Image) (domain.Tensor, error) {
	key := pre.Config()
	if t, ok := c[key]; ok {
		return t, nil
	}
	t, err := pre.ToTensor(img)
	if err != nil {
		return domain.Tensor{}, err
	}
	c[key] = t
	return t, nil
}

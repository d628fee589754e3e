package cascade

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/cocoa-roast-scan/assets"
	"github.com/example/cocoa-roast-scan/internal/classifier"
	"github.com/example/cocoa-roast-scan/internal/config"
	"github.com/example/cocoa-roast-scan/internal/domain"
	"github.com/example/cocoa-roast-scan/internal/grpcclient"
	"github.com/example/cocoa-roast-scan/internal/labels"
)

// Build loads the label catalog and connects every slot backend. A backend
// that cannot be reached leaves its slot unavailable instead of failing Build;
// only invalid configuration is an error.
func Build(ctx context.Context, cfg config.PipelineConfig, logger *zap.Logger) (*Pipeline, error) {
	opts := []Option{WithLogger(logger)}
	if cfg.PeeledLabel != "" {
		opts = append(opts, WithPeeledLabel(cfg.PeeledLabel))
	}
	logger = logger.Named("cascade_build")
	for _, slot := range domain.Slots() {
		pc, err := cfg.Models.For(slot).Preprocess(cfg.InputSize)
		if err != nil {
			return nil, fmt.Errorf("slot %s: %w", slot, err)
		}
		opts = append(opts, WithPreprocess(slot, pc))
	}

	catalog := LoadCatalog(cfg, logger)

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 2 * domain.SlotCount

	var (
		loaded [domain.SlotCount]classifier.Classifier
		g      errgroup.Group
	)
	for _, slot := range domain.Slots() {
		slot := slot
		m := *cfg.Models.For(slot)
		g.Go(func() error {
			c, err := openBackend(ctx, m, cfg.ProbeTimeout, transport, logger)
			if err != nil {
				logger.Error("slot unavailable",
					zap.Stringer("slot", slot),
					zap.String("backend", m.Backend),
					zap.String("endpoint", m.Endpoint),
					zap.String("model", m.Model),
					zap.Error(err))
				return nil
			}
			loaded[slot] = c
			logger.Info("slot loaded", zap.Stringer("slot", slot), zap.String("model", m.Model))
			return nil
		})
	}
	_ = g.Wait()

	slots := make(map[domain.Slot]classifier.Classifier, domain.SlotCount)
	for i, c := range loaded {
		if c != nil {
			slots[domain.Slot(i)] = c
		}
	}
	set := classifier.NewSet(slots)

	p, err := New(set, catalog, opts...)
	if err != nil {
		_ = set.Close()
		return nil, err
	}
	return p, nil
}

// LoadCatalog reads the label files cfg names, from disk or from the bundled
// assets when cfg.EmbeddedLabels is set.
func LoadCatalog(cfg config.PipelineConfig, logger *zap.Logger) *labels.Catalog {
	var catalog *labels.Catalog
	if cfg.EmbeddedLabels {
		catalog = labels.LoadFS(assets.Labels, cfg.EmbeddedLabelFiles(), logger)
	} else {
		catalog = labels.Load(cfg.LabelFiles(), logger)
	}
	for _, label := range catalog.Labels(domain.SlotColor) {
		if !slices.Contains(domain.KnownColorLabels(), label) {
			logger.Warn("colour label has no roasting status", zap.String("label", label))
		}
	}
	return catalog
}

type prober interface {
	classifier.Classifier
	Probe(ctx context.Context) error
}

func openBackend(ctx context.Context, m config.ModelConfig, probeTimeout time.Duration, transport http.RoundTripper, logger *zap.Logger) (classifier.Classifier, error) {
	var c prober
	switch m.Backend {
	case config.BackendTFServing:
		opts := []classifier.TFServingOption{
			classifier.WithHTTPClient(&http.Client{Transport: transport}),
			classifier.WithModelVersion(m.Version),
			classifier.WithTimeout(m.Timeout),
			classifier.WithLogger(logger),
		}
		if m.Signature != "" {
			opts = append(opts, classifier.WithSignature(m.Signature))
		}
		c = classifier.NewTFServing(m.Endpoint, m.Model, opts...)
	case config.BackendGRPC:
		conn, err := grpcclient.DialClassifier(ctx, m.Endpoint, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
		}
		c = grpcclient.NewClassifier(conn, m.Model, true, logger)
	default:
		return nil, fmt.Errorf("unknown backend %q", m.Backend)
	}

	probeCtx := ctx
	if probeTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, probeTimeout)
		defer cancel()
	}
	if err := c.Probe(probeCtx); err != nil {
		_ = c.Close()
		return nil, err
	}

	if m.Serialize {
		return classifier.Serialize(c), nil
	}
	return c, nil
}

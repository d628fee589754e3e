// Package labels loads the ordered label list for every cascade slot.
package labels

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/example/cocoa-roast-scan/internal/domain"
)

// ErrEmptyLabelFile is returned when a label source holds no labels.
var ErrEmptyLabelFile = errors.New("label file is empty")

// LabelSet maps a classifier output index to its label.
type LabelSet []string

var defaults = map[domain.Slot]LabelSet{
	domain.SlotShell:            {"dikupas", "tidak_dikupas"},
	domain.SlotPeeledDuration:   {"4", "5", "6", "7"},
	domain.SlotUnpeeledDuration: {"4", "5", "6", "7"},
	domain.SlotColor:            {"cokelat", "cokelat_muda", "hitam"},
}

// Default returns the built-in label set of a slot.
func Default(slot domain.Slot) LabelSet {
	return append(LabelSet(nil), defaults[slot]...)
}

// Catalog holds one immutable label set per slot.
type Catalog struct {
	sets     [domain.SlotCount]LabelSet
	fallback [domain.SlotCount]bool
}

// NewCatalog builds a catalog from explicit sets. Slots left out use their defaults.
func NewCatalog(sets map[domain.Slot]LabelSet) *Catalog {
	c := &Catalog{}
	for _, slot := range domain.Slots() {
		if set, ok := sets[slot]; ok && len(set) > 0 {
			c.sets[slot] = append(LabelSet(nil), set...)
			continue
		}
		c.sets[slot] = Default(slot)
		c.fallback[slot] = true
	}
	return c
}

// Load reads the label file of every slot from disk. A slot whose file cannot
// be read falls back to its built-in labels; Load itself never fails.
func Load(files map[domain.Slot]string, logger *zap.Logger) *Catalog {
	return load(func(name string) (io.ReadCloser, error) { return os.Open(name) }, files, logger)
}

// LoadFS is Load over an fs.FS such as the bundled assets.Labels.
func LoadFS(fsys fs.FS, files map[domain.Slot]string, logger *zap.Logger) *Catalog {
	return load(func(name string) (io.ReadCloser, error) { return fsys.Open(name) }, files, logger)
}

func load(open func(string) (io.ReadCloser, error), files map[domain.Slot]string, logger *zap.Logger) *Catalog {
	logger = logger.Named("labels")
	c := &Catalog{}
	for _, slot := range domain.Slots() {
		name, ok := files[slot]
		if !ok || name == "" {
			logger.Warn("no label file configured, using defaults", zap.Stringer("slot", slot))
			c.sets[slot] = Default(slot)
			c.fallback[slot] = true
			continue
		}

		set, err := readSet(open, name)
		if err != nil {
			logger.Error("failed to load labels, using defaults",
				zap.Stringer("slot", slot), zap.String("file", name), zap.Error(err))
			c.sets[slot] = Default(slot)
			c.fallback[slot] = true
			continue
		}
		c.sets[slot] = set
		logger.Debug("labels loaded", zap.Stringer("slot", slot), zap.Int("count", len(set)))
	}
	return c
}

func readSet(open func(string) (io.ReadCloser, error), name string) (LabelSet, error) {
	f, err := open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads one label per line. Surrounding whitespace and blank lines are ignored.
func Parse(r io.Reader) (LabelSet, error) {
	var set LabelSet
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		set = append(set, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	if len(set) == 0 {
		return nil, ErrEmptyLabelFile
	}
	return set, nil
}

// Labels returns the label set of a slot. Callers must not modify it.
func (c *Catalog) Labels(slot domain.Slot) LabelSet {
	if !slot.Valid() {
		return nil
	}
	return c.sets[slot]
}

// UsesDefaults reports whether slot fell back to its built-in labels.
func (c *Catalog) UsesDefaults(slot domain.Slot) bool {
	if !slot.Valid() {
		return false
	}
	return c.fallback[slot]
}

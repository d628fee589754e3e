// Package imageprocessor converts decoded images into classifier input tensors.
package imageprocessor

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/example/cocoa-roast-scan/internal/domain"
)

// Normalization selects how channel values are written into the tensor.
type Normalization int

const (
	// NormalizeRaw keeps channel values in 0..255.
	NormalizeRaw Normalization = iota
	// NormalizeScaled writes (value - mean) / std.
	NormalizeScaled
)

// ParseNormalization accepts "raw" or "scaled".
func ParseNormalization(s string) (Normalization, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "raw":
		return NormalizeRaw, nil
	case "scaled":
		return NormalizeScaled, nil
	default:
		return 0, fmt.Errorf("unknown normalization %q", s)
	}
}

func (n Normalization) String() string {
	if n == NormalizeScaled {
		return "scaled"
	}
	return "raw"
}

// Config fixes the tensor layout one model artifact expects.
type Config struct {
	Size          int
	Normalization Normalization
	Mean          float32
	Std           float32
}

// DefaultConfig matches the 256x256 raw-RGB models the cascade ships with.
func DefaultConfig() Config {
	return Config{Size: 256, Normalization: NormalizeRaw, Mean: 0, Std: 255}
}

// Validate checks the config can produce a tensor.
func (c Config) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("input size must be positive, got %d", c.Size)
	}
	if c.Normalization == NormalizeScaled && c.Std == 0 {
		return fmt.Errorf("scaled normalization requires a non-zero std")
	}
	return nil
}

// Preprocessor resizes images to a square and flattens them row-major in RGB order.
type Preprocessor struct {
	cfg Config
}

// New returns a preprocessor for cfg.
func New(cfg Config) (*Preprocessor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Preprocessor{cfg: cfg}, nil
}

// Config returns the layout the preprocessor produces.
func (p *Preprocessor) Config() Config {
	return p.cfg
}

// ToTensor scales img with a Catmull-Rom filter and emits Size*Size*3 floats.
func (p *Preprocessor) ToTensor(img image.Image) (domain.Tensor, error) {
	if img == nil {
		return domain.Tensor{}, fmt.Errorf("%w: nil image", domain.ErrPreprocessFailure)
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return domain.Tensor{}, fmt.Errorf("%w: empty image bounds %v", domain.ErrPreprocessFailure, bounds)
	}

	size := p.cfg.Size
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)

	data := make([]float32, 0, size*size*3)
	for y := 0; y < size; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+size*4]
		for x := 0; x < size; x++ {
			px := row[x*4 : x*4+3]
			data = append(data, p.channel(px[0]), p.channel(px[1]), p.channel(px[2]))
		}
	}

	return domain.Tensor{Height: size, Width: size, Channels: 3, Data: data}, nil
}

func (p *Preprocessor) channel(v uint8) float32 {
	if p.cfg.Normalization == NormalizeScaled {
		return (float32(v) - p.cfg.Mean) / p.cfg.Std
	}
	return float32(v)
}

// DefaultMaxPixels bounds width*height of an image accepted by Decode.
const DefaultMaxPixels = 25_000_000

// Decode parses JPEG, PNG, GIF or WebP bytes. The header is checked first and
// images declaring more than maxPixels pixels are rejected without decoding
// the pixel data. A non-positive maxPixels means DefaultMaxPixels.
func Decode(data []byte, maxPixels int) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty image payload", domain.ErrPreprocessFailure)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	header, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode header: %v", domain.ErrPreprocessFailure, err)
	}
	if header.Width <= 0 || header.Height <= 0 {
		return nil, "", fmt.Errorf("%w: invalid dimensions %dx%d", domain.ErrPreprocessFailure, header.Width, header.Height)
	}
	if int64(header.Width)*int64(header.Height) > int64(maxPixels) {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds %d pixels", domain.ErrPreprocessFailure, header.Width, header.Height, maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode: %v", domain.ErrPreprocessFailure, err)
	}
	return img, format, nil
}

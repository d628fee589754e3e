// Package config loads service and pipeline settings from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/cocoa-roast-scan/internal/domain"
	"github.com/example/cocoa-roast-scan/internal/imageprocessor"
)

// Backends a slot can be served from.
const (
	BackendTFServing = "tfserving"
	BackendGRPC      = "grpc"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RateLimit is the sustained scans per second allowed per user; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
}

type NATSConfig struct {
	// URL is optional; without it scan events are not published.
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	JWTAudience string `yaml:"jwt_audience"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// PipelineConfig configures the classifier cascade.
type PipelineConfig struct {
	InputSize int `yaml:"input_size"`
	// PeeledLabel routes to the peeled-duration slot. Blank means the first
	// shell label of the catalog.
	PeeledLabel string `yaml:"peeled_label"`
	// ProbeTimeout bounds the availability check of each backend at startup.
	ProbeTimeout       time.Duration `yaml:"probe_timeout"`
	MaxConcurrentScans int64         `yaml:"max_concurrent_scans"`
	// MaxPixels bounds the declared width*height of an uploaded image.
	MaxPixels int `yaml:"max_pixels"`
	// EmbeddedLabels reads label files from the assets bundled into the
	// binary, matched by base name, instead of from disk.
	EmbeddedLabels bool         `yaml:"embedded_labels"`
	Models         ModelsConfig `yaml:"models"`
}

type ModelsConfig struct {
	Shell            ModelConfig `yaml:"shell"`
	PeeledDuration   ModelConfig `yaml:"peeled_duration"`
	UnpeeledDuration ModelConfig `yaml:"unpeeled_duration"`
	Color            ModelConfig `yaml:"color"`
}

// ModelConfig describes how one slot's model artifact is reached and fed.
type ModelConfig struct {
	Backend       string        `yaml:"backend"`
	Endpoint      string        `yaml:"endpoint"`
	Model         string        `yaml:"model"`
	Version       string        `yaml:"version"`
	Signature     string        `yaml:"signature"`
	Labels        string        `yaml:"labels"`
	Normalization string        `yaml:"normalization"`
	Mean          float32       `yaml:"mean"`
	Std           float32       `yaml:"std"`
	Serialize     bool          `yaml:"serialize"`
	Timeout       time.Duration `yaml:"timeout"`
}

// For returns the model config of slot.
func (m *ModelsConfig) For(slot domain.Slot) *ModelConfig {
	switch slot {
	case domain.SlotShell:
		return &m.Shell
	case domain.SlotPeeledDuration:
		return &m.PeeledDuration
	case domain.SlotUnpeeledDuration:
		return &m.UnpeeledDuration
	case domain.SlotColor:
		return &m.Color
	default:
		return nil
	}
}

// Preprocess converts the slot settings into a preprocessor config.
func (m ModelConfig) Preprocess(size int) (imageprocessor.Config, error) {
	norm, err := imageprocessor.ParseNormalization(m.Normalization)
	if err != nil {
		return imageprocessor.Config{}, err
	}
	return imageprocessor.Config{Size: size, Normalization: norm, Mean: m.Mean, Std: m.Std}, nil
}

func defaultModel(model, labels string) ModelConfig {
	return ModelConfig{
		Backend:       BackendTFServing,
		Endpoint:      "http://tf-serving:8501",
		Model:         model,
		Labels:        labels,
		Normalization: "raw",
		Mean:          0,
		Std:           255,
		Timeout:       10 * time.Second,
	}
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       2,
			RateBurst:       5,
		},
		Database: DatabaseConfig{DSN: "host=postgres user=postgres password=postgres dbname=cocoascan port=5432 sslmode=disable"},
		Redis:    RedisConfig{Addr: "redis:6379"},
		NATS:     NATSConfig{Subject: "cocoa.scan.completed"},
		Auth:     AuthConfig{JWTSecret: "dev-secret"},
		Log:      LogConfig{Level: "info"},
		Pipeline: PipelineConfig{
			InputSize:          256,
			PeeledLabel:        "dikupas",
			ProbeTimeout:       5 * time.Second,
			MaxConcurrentScans: 4,
			MaxPixels:          imageprocessor.DefaultMaxPixels,
			Models: ModelsConfig{
				Shell:            defaultModel("model_a", "assets/labels_a.txt"),
				PeeledDuration:   defaultModel("model_b", "assets/labels_b.txt"),
				UnpeeledDuration: defaultModel("model_c", "assets/labels_c.txt"),
				Color:            defaultModel("model_d", "assets/labels_d.txt"),
			},
		},
	}
}

// Load reads path over the defaults, applies environment overrides and validates.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("HTTP_ADDR", &c.Server.Addr)
	set("DATABASE_DSN", &c.Database.DSN)
	set("REDIS_ADDR", &c.Redis.Addr)
	set("NATS_URL", &c.NATS.URL)
	set("JWT_SECRET", &c.Auth.JWTSecret)
	set("JWT_AUDIENCE", &c.Auth.JWTAudience)
	set("LOG_LEVEL", &c.Log.Level)
	set("PEELED_LABEL", &c.Pipeline.PeeledLabel)

	if v, ok := lookup("MODEL_ENDPOINT"); ok && v != "" {
		for _, slot := range domain.Slots() {
			c.Pipeline.Models.For(slot).Endpoint = v
		}
	}
	if v, ok := lookup("MAX_PIXELS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_PIXELS: %w", err)
		}
		c.Pipeline.MaxPixels = n
	}
	if v, ok := lookup("MAX_CONCURRENT_SCANS"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_CONCURRENT_SCANS: %w", err)
		}
		c.Pipeline.MaxConcurrentScans = n
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Pipeline.InputSize <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.input_size must be positive"))
	}
	if c.Pipeline.MaxPixels <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_pixels must be positive"))
	}
	if c.Pipeline.MaxConcurrentScans <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_concurrent_scans must be positive"))
	}
	for _, slot := range domain.Slots() {
		m := c.Pipeline.Models.For(slot)
		switch m.Backend {
		case BackendTFServing, BackendGRPC:
		default:
			errs = append(errs, fmt.Errorf("pipeline.models.%s.backend: unknown backend %q", slot, m.Backend))
		}
		if m.Model == "" {
			errs = append(errs, fmt.Errorf("pipeline.models.%s.model is required", slot))
		}
		pc, err := m.Preprocess(max(c.Pipeline.InputSize, 1))
		if err != nil {
			errs = append(errs, fmt.Errorf("pipeline.models.%s: %w", slot, err))
			continue
		}
		if err := pc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("pipeline.models.%s: %w", slot, err))
		}
	}
	return errors.Join(errs...)
}

// LabelFiles maps every slot to its configured label file.
func (p PipelineConfig) LabelFiles() map[domain.Slot]string {
	files := make(map[domain.Slot]string, domain.SlotCount)
	for _, slot := range domain.Slots() {
		files[slot] = p.Models.For(slot).Labels
	}
	return files
}

// EmbeddedLabelFiles maps every slot to the base name of its label file, the
// key used inside the bundled assets.
func (p PipelineConfig) EmbeddedLabelFiles() map[domain.Slot]string {
	files := p.LabelFiles()
	for slot, name := range files {
		files[slot] = path.Base(name)
	}
	return files
}

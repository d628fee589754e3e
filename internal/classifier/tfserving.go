package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/example/cocoa-roast-scan/internal/domain"
)

// TFServing calls a model hosted by TensorFlow Serving over its REST API.
//
// The request carries one instance shaped [H][W][C]; the first prediction row
// is returned as the score vector.
type TFServing struct {
	endpoint   string
	model      string
	version    string
	signature  string
	httpClient *http.Client
	logger     *zap.Logger
	closed     atomic.Bool
}

// TFServingOption configures a TFServing client.
type TFServingOption func(*TFServing)

// WithModelVersion pins a model version instead of the latest one.
func WithModelVersion(version string) TFServingOption {
	return func(c *TFServing) { c.version = version }
}

// WithSignature overrides the serving signature.
func WithSignature(name string) TFServingOption {
	return func(c *TFServing) { c.signature = name }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) TFServingOption {
	return func(c *TFServing) { c.httpClient = client }
}

// WithTimeout sets the per-request timeout on a copy of the current client.
func WithTimeout(timeout time.Duration) TFServingOption {
	return func(c *TFServing) {
		if timeout > 0 {
			client := *c.httpClient
			client.Timeout = timeout
			c.httpClient = &client
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) TFServingOption {
	return func(c *TFServing) { c.logger = logger }
}

// NewTFServing creates a client for model at endpoint (e.g. http://tf-serving:8501).
func NewTFServing(endpoint, model string, opts ...TFServingOption) *TFServing {
	c := &TFServing{
		endpoint:   strings.TrimRight(endpoint, "/"),
		model:      model,
		signature:  "serving_default",
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("model", model))
	return c
}

func (c *TFServing) modelURL() string {
	url := fmt.Sprintf("%s/v1/models/%s", c.endpoint, c.model)
	if c.version != "" {
		url = fmt.Sprintf("%s/versions/%s", url, c.version)
	}
	return url
}

type modelStatusResponse struct {
	ModelVersionStatus []struct {
		Version string `json:"version"`
		State   string `json:"state"`
	} `json:"model_version_status"`
}

// Probe checks that the model has a version in state AVAILABLE.
func (c *TFServing) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.modelURL(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: model status %d: %s", domain.ErrModelUnavailable, resp.StatusCode, string(body))
	}

	var status modelStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decode model status: %w", err)
	}
	for _, v := range status.ModelVersionStatus {
		if v.State == "AVAILABLE" {
			return nil
		}
	}
	return fmt.Errorf("%w: no available version of %s", domain.ErrModelUnavailable, c.model)
}

type predictResponse struct {
	Predictions [][]float32 `json:"predictions"`
	Error       string      `json:"error"`
}

// Infer implements Classifier.
func (c *TFServing) Infer(ctx context.Context, tensor domain.Tensor) (domain.ScoreVector, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("%w: %s closed", domain.ErrModelUnavailable, c.model)
	}
	body, err := encodePredictRequest(c.signature, tensor)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.modelURL()+":predict", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("predict %s: %w", c.model, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s not served", domain.ErrModelUnavailable, c.model)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("predict %s: status=%d body=%s", c.model, resp.StatusCode, string(msg))
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode prediction: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("predict %s: %s", c.model, out.Error)
	}
	if len(out.Predictions) == 0 {
		return nil, fmt.Errorf("%w: %s returned no predictions", domain.ErrEmptyInput, c.model)
	}

	c.logger.Debug("prediction received",
		zap.Int("scores", len(out.Predictions[0])),
		zap.Duration("latency", time.Since(start)))
	return domain.ScoreVector(out.Predictions[0]), nil
}

// Close marks the client released and drops idle connections.
func (c *TFServing) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.httpClient.CloseIdleConnections()
	}
	return nil
}

// encodePredictRequest writes {"signature_name":..,"instances":[[[[r,g,b],...]]]}
// without materializing the nested slices.
func encodePredictRequest(signature string, t domain.Tensor) (io.Reader, error) {
	if t.Height <= 0 || t.Width <= 0 || t.Channels <= 0 || len(t.Data) != t.Height*t.Width*t.Channels {
		return nil, fmt.Errorf("%w: tensor shape %v does not match %d values",
			domain.ErrPreprocessFailure, t.Shape(), len(t.Data))
	}

	buf := bytes.NewBuffer(make([]byte, 0, len(t.Data)*6+64))
	buf.WriteString(`{"signature_name":`)
	sig, _ := json.Marshal(signature)
	buf.Write(sig)
	buf.WriteString(`,"instances":[[`)

	scratch := make([]byte, 0, 24)
	i := 0
	for y := 0; y < t.Height; y++ {
		if y > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('[')
		for x := 0; x < t.Width; x++ {
			if x > 0 {
				buf.WriteByte(',')
			}
			buf.WriteByte('[')
			for ch := 0; ch < t.Channels; ch++ {
				if ch > 0 {
					buf.WriteByte(',')
				}
				scratch = strconv.AppendFloat(scratch[:0], float64(t.Data[i]), 'g', -1, 32)
				buf.Write(scratch)
				i++
			}
			buf.WriteByte(']')
		}
		buf.WriteByte(']')
	}
	buf.WriteString("]]}")
	return buf, nil
}

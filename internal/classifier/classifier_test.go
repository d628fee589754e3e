package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/cocoa-roast-scan/internal/domain"
)

type countingClassifier struct {
	closes atomic.Int32
	err    error
}

func (c *countingClassifier) Infer(ctx context.Context, _ domain.Tensor) (domain.ScoreVector, error) {
	return domain.ScoreVector{1}, nil
}

func (c *countingClassifier) Close() error {
	c.closes.Add(1)
	return c.err
}

func tinyTensor() domain.Tensor {
	return domain.Tensor{Height: 1, Width: 2, Channels: 3, Data: []float32{1, 2, 3, 4.5, 5, 255}}
}

func TestSetReportsUnavailableSlots(t *testing.T) {
	set := NewSet(map[domain.Slot]Classifier{domain.SlotShell: static(0.1, 0.9)})

	_, err := set.Get(domain.SlotShell)
	require.NoError(t, err)
	_, err = set.Get(domain.SlotColor)
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
	_, err = set.Get(domain.Slot(42))
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
	assert.False(t, set.Available(domain.SlotPeeledDuration))
}

func TestSetCloseIsIdempotent(t *testing.T) {
	shell := &countingClassifier{}
	color := &countingClassifier{err: errors.New("boom")}
	set := NewSet(map[domain.Slot]Classifier{domain.SlotShell: shell, domain.SlotColor: color})

	err := set.Close()
	assert.ErrorContains(t, err, "boom")
	assert.NoError(t, set.Close())
	assert.EqualValues(t, 1, shell.closes.Load())
	assert.EqualValues(t, 1, color.closes.Load())

	_, err = set.Get(domain.SlotShell)
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
}

func TestEmptySetCloses(t *testing.T) {
	var set Set
	assert.NoError(t, set.Close())
	assert.NoError(t, NewSet(nil).Close())
}

func TestSerializedRunsOneAtATime(t *testing.T) {
	var active, peak atomic.Int32
	inner := Func(func(ctx context.Context, _ domain.Tensor) (domain.ScoreVector, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return domain.ScoreVector{1}, nil
	})
	s := Serialize(inner)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Infer(context.Background(), tinyTensor())
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, peak.Load())

	inner2 := &countingClassifier{}
	s2 := Serialize(inner2)
	assert.NoError(t, s2.Close())
	assert.NoError(t, s2.Close())
	assert.EqualValues(t, 1, inner2.closes.Load())
}

func TestStaticScoresHonourContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := static(1).Infer(ctx, tinyTensor())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTFServingPredict(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/models/model_a/versions/3:predict":
			raw, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(raw, &gotBody))
			_, _ = w.Write([]byte(`{"predictions":[[0.25,0.75]]}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/models/model_a/versions/3":
			_, _ = w.Write([]byte(`{"model_version_status":[{"version":"3","state":"AVAILABLE"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewTFServing(srv.URL+"/", "model_a", WithModelVersion("3"), WithTimeout(time.Second))
	require.NoError(t, c.Probe(context.Background()))

	scores, err := c.Infer(context.Background(), tinyTensor())
	require.NoError(t, err)
	assert.Equal(t, domain.ScoreVector{0.25, 0.75}, scores)

	assert.Equal(t, "serving_default", gotBody["signature_name"])
	instances := gotBody["instances"].([]any)
	require.Len(t, instances, 1)
	rows := instances[0].([]any)
	require.Len(t, rows, 1)
	cols := rows[0].([]any)
	require.Len(t, cols, 2)
	assert.Equal(t, []any{4.5, 5.0, 255.0}, cols[1])

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	_, err = c.Infer(context.Background(), tinyTensor())
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
}

func TestTFServingProbeFailsWhenNotAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models/loading" {
			_, _ = w.Write([]byte(`{"model_version_status":[{"version":"1","state":"LOADING"}]}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	err := NewTFServing(srv.URL, "loading").Probe(context.Background())
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
	err = NewTFServing(srv.URL, "missing").Probe(context.Background())
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)

	_, err = NewTFServing(srv.URL, "missing").Infer(context.Background(), tinyTensor())
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
}

func TestTFServingRejectsMalformedTensor(t *testing.T) {
	c := NewTFServing("http://unused", "m")
	_, err := c.Infer(context.Background(), domain.Tensor{Height: 2, Width: 2, Channels: 3, Data: []float32{1}})
	assert.ErrorIs(t, err, domain.ErrPreprocessFailure)
}

func static(scores ...float32) Classifier {
	out := append(domain.ScoreVector(nil), scores...)
	return Func(func(ctx context.Context, _ domain.Tensor) (domain.ScoreVector, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return append(domain.ScoreVector(nil), out...), nil
	})
}

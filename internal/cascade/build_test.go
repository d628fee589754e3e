package cascade

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/cocoa-roast-scan/internal/config"
	"github.com/example/cocoa-roast-scan/internal/domain"
)

func fakeTFServing(t *testing.T, predictions map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/v1/models/")
		predict := strings.HasSuffix(name, ":predict")
		name = strings.TrimSuffix(name, ":predict")
		body, ok := predictions[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if predict {
			_, _ = w.Write([]byte(`{"predictions":[` + body + `]}`))
			return
		}
		_, _ = w.Write([]byte(`{"model_version_status":[{"version":"1","state":"AVAILABLE"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeLabels(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write labels: %v", err)
	}
	return path
}

func testPipelineConfig(t *testing.T, endpoint string) config.PipelineConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default().Pipeline
	cfg.InputSize = 3
	cfg.ProbeTimeout = time.Second
	files := map[domain.Slot]string{
		domain.SlotShell:            writeLabels(t, dir, "a.txt", "dikupas\ntidak_dikupas\n"),
		domain.SlotPeeledDuration:   "",
		domain.SlotUnpeeledDuration: filepath.Join(dir, "missing.txt"),
		domain.SlotColor:            writeLabels(t, dir, "d.txt", "cokelat\ncokelat_muda\nhitam\n"),
	}
	for _, slot := range domain.Slots() {
		m := cfg.Models.For(slot)
		m.Endpoint = endpoint
		m.Labels = files[slot]
	}
	cfg.Models.Color.Serialize = true
	return cfg
}

func TestBuildOverTFServing(t *testing.T) {
	srv := fakeTFServing(t, map[string]string{
		"model_a": "[0.2,0.8]",
		"model_b": "[0.1,0.1,0.7,0.1]",
		"model_c": "[0.6,0.2,0.1,0.1]",
		"model_d": "[0.1,0.3,0.6]",
	})
	p, err := Build(context.Background(), testPipelineConfig(t, srv.URL), zap.NewNop())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer p.Shutdown()

	for slot, ok := range p.Availability() {
		if !ok {
			t.Fatalf("slot %s should be available", slot)
		}
	}
	if !p.Catalog().UsesDefaults(domain.SlotUnpeeledDuration) || p.Catalog().UsesDefaults(domain.SlotShell) {
		t.Fatal("unexpected label fallback state")
	}

	result, err := p.Scan(context.Background(), testImage())
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if result.ShellResult.Label != "tidak_dikupas" || result.DurationResult.Label != "4" {
		t.Fatalf("unexpected routing %+v", result)
	}
	if result.FormattedColor != domain.ColorDarkBrown || result.RoastingStatus != domain.StatusOverRoasted {
		t.Fatalf("unexpected colour mapping %+v", result)
	}
}

func TestBuildDegradesUnreachableSlots(t *testing.T) {
	srv := fakeTFServing(t, map[string]string{
		"model_a": "[0.9,0.1]",
		"model_b": "[0.1,0.1,0.7,0.1]",
	})
	p, err := Build(context.Background(), testPipelineConfig(t, srv.URL), zap.NewNop())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer p.Shutdown()

	avail := p.Availability()
	if !avail[domain.SlotShell] || !avail[domain.SlotPeeledDuration] || avail[domain.SlotUnpeeledDuration] || avail[domain.SlotColor] {
		t.Fatalf("unexpected availability %v", avail)
	}

	if _, err := p.Classify(context.Background(), testImage()); err != nil {
		t.Fatalf("classify should work with shell slot only: %v", err)
	}
	if _, err := p.Scan(context.Background(), testImage()); !errors.Is(err, domain.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestBuildRejectsInvalidPreprocessConfig(t *testing.T) {
	cfg := config.Default().Pipeline
	cfg.Models.Shell.Normalization = "zscore"
	if _, err := Build(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatal("expected error for unknown normalization")
	}
}

func TestBuildBlankPeeledLabelUsesFirstShellLabel(t *testing.T) {
	srv := fakeTFServing(t, map[string]string{"model_a": "[0.9,0.1]"})
	cfg := testPipelineConfig(t, srv.URL)
	cfg.PeeledLabel = ""
	cfg.Models.Shell.Labels = writeLabels(t, t.TempDir(), "shell.txt", "utuh\nkupas\n")

	p, err := Build(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer p.Shutdown()

	if p.PeeledLabel() != "utuh" {
		t.Fatalf("expected first shell label as peeled sentinel, got %q", p.PeeledLabel())
	}
}

func TestBuildReadsEmbeddedLabels(t *testing.T) {
	srv := fakeTFServing(t, map[string]string{})
	cfg := testPipelineConfig(t, srv.URL)
	cfg.EmbeddedLabels = true
	for _, slot := range domain.Slots() {
		m := cfg.Models.For(slot)
		m.Labels = "/does/not/exist/labels_" + string(rune('a'+int(slot))) + ".txt"
	}

	p, err := Build(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer p.Shutdown()

	for _, slot := range domain.Slots() {
		if p.Catalog().UsesDefaults(slot) {
			t.Fatalf("slot %s should use the bundled label file", slot)
		}
	}
	if got := p.Catalog().Labels(domain.SlotColor); len(got) != 3 || got[2] != "hitam" {
		t.Fatalf("unexpected colour labels %v", got)
	}
}

func TestBuildSendsConfiguredSignature(t *testing.T) {
	var (
		mu         sync.Mutex
		signatures []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":predict") {
			_, _ = w.Write([]byte(`{"model_version_status":[{"version":"1","state":"AVAILABLE"}]}`))
			return
		}
		var req struct {
			SignatureName string `json:"signature_name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		signatures = append(signatures, req.SignatureName)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"predictions":[[0.3,0.7]]}`))
	}))
	t.Cleanup(srv.Close)

	cfg := testPipelineConfig(t, srv.URL)
	cfg.Models.Shell.Signature = "classify_shell"

	p, err := Build(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer p.Shutdown()

	if _, err := p.Classify(context.Background(), testImage()); err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(signatures) != 1 || signatures[0] != "classify_shell" {
		t.Fatalf("unexpected signatures %v", signatures)
	}
}

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"xrayd/internal/cache"
	"xrayd/internal/httpapi"
	"xrayd/internal/nn"
	"xrayd/internal/pipeline"
	"xrayd/internal/registry"
	"xrayd/internal/store"
)

// createModelDir writes a synthesized artifact bundle into a temp directory:
// a 1x1 conv producing one channel-sum map and one negated map, ReLU target
// layer, global pool and an identity head over 3x4x4 inputs. Bright uploads
// score class 0 positive.
func createModelDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cp := nn.Checkpoint{
		Arch: nn.Architecture{
			Layers: []nn.LayerSpec{
				{Kind: nn.KindConv2D, Name: "conv1"},
				{Kind: nn.KindReLU, Name: "feat"},
				{Kind: nn.KindGlobalAvgPool, Name: "gap"},
				{Kind: nn.KindDense, Name: "head"},
			},
			InputShape:  []int{3, 4, 4},
			NumClasses:  2,
			TargetLayer: "feat",
		},
		Weights: []nn.WeightTensor{
			{Name: "conv1.weight", Shape: []int{2, 3, 1, 1}, Data: []float32{1, 1, 1, -1, -1, -1}, Layer: "conv1", Type: "weight"},
			{Name: "head.weight", Shape: []int{2, 2}, Data: []float32{1, 0, 0, 1}, Layer: "head", Type: "weight"},
		},
		Metadata: nn.Metadata{Version: "1.0", Framework: "test", CreatedAt: time.Now()},
	}
	raw, err := json.Marshal(cp)
	if err != nil {
		t.Fatalf("marshal checkpoint: %v", err)
	}
	files := map[string][]byte{
		registry.CheckpointFile: raw,
		registry.LabelsFile:     []byte(`["Effusion","Mass"]`),
		registry.ThresholdsFile: []byte(`[0.5,0.5]`),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

// createNIHModelDir writes a 14-class bundle with no label or threshold
// artifacts, so the registry falls back to the NIH label set and the default
// threshold. Channel 0 sums the input channels; the rest negate them.
func createNIHModelDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	const classes = 14
	convData := make([]float32, classes*3)
	for c := 0; c < classes; c++ {
		v := float32(-1)
		if c == 0 {
			v = 1
		}
		for ch := 0; ch < 3; ch++ {
			convData[c*3+ch] = v
		}
	}
	headData := make([]float32, classes*classes)
	for i := 0; i < classes; i++ {
		headData[i*classes+i] = 1
	}
	cp := nn.Checkpoint{
		Arch: nn.Architecture{
			Layers: []nn.LayerSpec{
				{Kind: nn.KindConv2D, Name: "conv1"},
				{Kind: nn.KindReLU, Name: "feat"},
				{Kind: nn.KindGlobalAvgPool, Name: "gap"},
				{Kind: nn.KindDense, Name: "head"},
			},
			InputShape:  []int{3, 4, 4},
			NumClasses:  classes,
			TargetLayer: "feat",
		},
		Weights: []nn.WeightTensor{
			{Name: "conv1.weight", Shape: []int{classes, 3, 1, 1}, Data: convData, Layer: "conv1", Type: "weight"},
			{Name: "head.weight", Shape: []int{classes, classes}, Data: headData, Layer: "head", Type: "weight"},
		},
		Metadata: nn.Metadata{Version: "1.0", Framework: "test", CreatedAt: time.Now()},
	}
	raw, err := json.Marshal(cp)
	if err != nil {
		t.Fatalf("marshal checkpoint: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, registry.CheckpointFile), raw, 0o644); err != nil {
		t.Fatalf("write checkpoint: %v", err)
	}
	return dir
}

// newServer stands up the full in-process stack behind an httptest server.
// Unset Config fields get a synthesized bundle, a temp store and a memory
// cache.
func newServer(t *testing.T, cfg pipeline.Config) (*httptest.Server, *pipeline.Pipeline) {
	t.Helper()
	if cfg.Bundle == nil {
		bundle, err := registry.Load(createModelDir(t), zerolog.Nop())
		if err != nil {
			t.Fatalf("load bundle: %v", err)
		}
		cfg.Bundle = bundle
	}
	if cfg.Store == nil {
		st, err := store.New(t.TempDir())
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
		cfg.Store = st
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemory()
	}
	p, err := pipeline.New(cfg)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(p))
	t.Cleanup(srv.Close)
	return srv, p
}

// makeScanPNG renders a bright grayscale gradient the fixture model flags as
// class 0.
func makeScanPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(200 + (x+y)%56)
			img.Set(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

// httpPostScan uploads content as multipart field "file" with an optional
// cam_method field.
func httpPostScan(t *testing.T, url string, content []byte, method string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "scan.png")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if method != "" {
		if err := mw.WriteField("cam_method", method); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, &buf)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

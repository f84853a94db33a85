package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"xrayd/internal/cache"
	"xrayd/internal/cam"
	"xrayd/internal/nn"
	"xrayd/internal/registry"
	"xrayd/internal/store"
	"xrayd/internal/tensor"
)

// testBundle wires a 2-class network over 3-channel 4x4 inputs: channel-sum
// conv into two opposed feature maps, ReLU target layer, global pool,
// identity dense head. Bright images score class 0, dark images class 1.
func testBundle(t *testing.T) *registry.Bundle {
	t.Helper()
	convW, _ := tensor.New([]int{2, 3, 1, 1}, []float32{1, 1, 1, -1, -1, -1})
	conv, err := nn.NewConv2D("conv1", convW, nil, 1, 0)
	if err != nil {
		t.Fatalf("NewConv2D failed: %v", err)
	}
	headW, _ := tensor.New([]int{2, 2}, []float32{1, 0, 0, 1})
	head, err := nn.NewDense("head", headW, nil)
	if err != nil {
		t.Fatalf("NewDense failed: %v", err)
	}
	m, err := nn.New([]nn.Layer{conv, nn.NewReLU("feat"), nn.NewGlobalAvgPool("gap"), head}, []int{3, 4, 4}, 2, "feat")
	if err != nil {
		t.Fatalf("nn.New failed: %v", err)
	}
	return &registry.Bundle{
		Model:      m,
		Labels:     []string{"Effusion", "Mass"},
		Thresholds: []float64{0.5, 0.5},
		Dir:        "testdata",
	}
}

func testPNG(t *testing.T, w, h int) []byte {
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

// newTestPipeline builds a pipeline over a temp store with sequential image
// ids so repeated runs produce predictable names.
func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(dir)
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	cfg.Store = st
	if cfg.Bundle == nil {
		cfg.Bundle = testBundle(t)
	}
	cfg.Logger = zerolog.Nop()
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	n := 0
	p.newID = func() string {
		n++
		return fmt.Sprintf("img%03d", n)
	}
	return p, dir
}

func storedFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read store dir: %v", err)
	}
	return len(entries)
}

func TestPredictFullFlow(t *testing.T) {
	p, dir := newTestPipeline(t, Config{})

	resp, err := p.Predict(context.Background(), Request{
		Filename: "scan.png",
		Content:  testPNG(t, 8, 6),
		Method:   "gradcam",
	})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	if resp.CAMMethod != "gradcam" {
		t.Errorf("cam_method = %q", resp.CAMMethod)
	}
	if resp.OriginalSize != [2]int{8, 6} {
		t.Errorf("original_size = %v, want [8 6]", resp.OriginalSize)
	}
	if resp.ModelInputSize != [2]int{4, 4} {
		t.Errorf("model_input_size = %v, want [4 4]", resp.ModelInputSize)
	}
	if len(resp.Predictions) != 2 {
		t.Fatalf("predictions = %v", resp.Predictions)
	}
	// bright upload: channel-sum logit far above 0, opposed channel clamped
	eff := resp.Predictions["Effusion"]
	if !eff.Positive || eff.Probability < 0.99 {
		t.Errorf("Effusion = %+v, want positive with probability near 1", eff)
	}
	mass := resp.Predictions["Mass"]
	if mass.Positive || mass.Probability != 0.5 {
		t.Errorf("Mass = %+v, want negative at exactly 0.5", mass)
	}

	if resp.HeatmapPath != "heatmap_gradcam_img001.png" {
		t.Errorf("heatmap_path = %q", resp.HeatmapPath)
	}
	if resp.SuperimposedPath != "superimposed_gradcam_img001.png" {
		t.Errorf("superimposed_path = %q", resp.SuperimposedPath)
	}
	for _, name := range []string{resp.HeatmapPath, resp.SuperimposedPath} {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("stored image %s: %v", name, err)
		}
		img, err := png.Decode(bytes.NewReader(raw))
		if err != nil {
			t.Fatalf("stored image %s not a png: %v", name, err)
		}
		if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 6 {
			t.Errorf("stored image %s is %dx%d, want 8x6", name, b.Dx(), b.Dy())
		}
	}
}

func TestPredictCacheShortCircuit(t *testing.T) {
	p, dir := newTestPipeline(t, Config{Cache: cache.NewMemory()})
	content := testPNG(t, 8, 6)
	ctx := context.Background()

	first, err := p.Predict(ctx, Request{Filename: "a.png", Content: content, Method: "gradcam"})
	if err != nil {
		t.Fatalf("first predict: %v", err)
	}
	if got := storedFiles(t, dir); got != 2 {
		t.Fatalf("stored files after first predict = %d, want 2", got)
	}

	// same bytes, different filename: must hit and must not recompute
	second, err := p.Predict(ctx, Request{Filename: "b.png", Content: content, Method: "gradcam"})
	if err != nil {
		t.Fatalf("second predict: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("cached response differs:\nfirst:  %+v\nsecond: %+v", first, second)
	}
	if got := storedFiles(t, dir); got != 2 {
		t.Errorf("stored files after cache hit = %d, want 2", got)
	}

	// same bytes, different method: separate key, fresh computation
	third, err := p.Predict(ctx, Request{Filename: "a.png", Content: content, Method: "gradcam++"})
	if err != nil {
		t.Fatalf("third predict: %v", err)
	}
	if third.HeatmapPath != "heatmap_gradcam++_img002.png" {
		t.Errorf("heatmap_path = %q", third.HeatmapPath)
	}
	if got := storedFiles(t, dir); got != 4 {
		t.Errorf("stored files after method change = %d, want 4", got)
	}

	st := p.Status()
	if st.PredictionsTotal != 3 {
		t.Errorf("predictions_total = %d, want 3", st.PredictionsTotal)
	}
	if st.CacheHits != 1 {
		t.Errorf("cache_hits = %d, want 1", st.CacheHits)
	}
}

func TestPredictUnsupportedMethod(t *testing.T) {
	p, dir := newTestPipeline(t, Config{})
	for _, method := range []string{"foo", "", "GradCAM"} {
		_, err := p.Predict(context.Background(), Request{
			Filename: "scan.png",
			Content:  testPNG(t, 4, 4),
			Method:   method,
		})
		if !cam.IsUnsupportedMethod(err) {
			t.Errorf("method %q: got %v, want unsupported-method", method, err)
		}
	}
	if got := storedFiles(t, dir); got != 0 {
		t.Errorf("stored files = %d, want 0", got)
	}
}

func TestPredictInvalidUploads(t *testing.T) {
	p, dir := newTestPipeline(t, Config{})
	cases := []struct {
		name string
		req  Request
	}{
		{"bad extension", Request{Filename: "scan.gif", Content: testPNG(t, 4, 4), Method: "gradcam"}},
		{"no filename", Request{Filename: "", Content: testPNG(t, 4, 4), Method: "gradcam"}},
		{"empty body", Request{Filename: "scan.png", Content: nil, Method: "gradcam"}},
		{"junk bytes", Request{Filename: "scan.png", Content: []byte("not an image"), Method: "gradcam"}},
	}
	for _, tc := range cases {
		_, err := p.Predict(context.Background(), tc.req)
		if !IsInvalidInput(err) {
			t.Errorf("%s: got %v, want invalid-input", tc.name, err)
		}
	}
	if got := storedFiles(t, dir); got != 0 {
		t.Errorf("stored files = %d, want 0", got)
	}
}

func TestPredictTooBusy(t *testing.T) {
	p, _ := newTestPipeline(t, Config{Workers: 1, MaxQueueDepth: 1, MaxWait: 30 * time.Millisecond})

	// occupy the only slot so the request can neither queue nor run
	release, err := p.adm.begin(context.Background())
	if err != nil {
		t.Fatalf("occupy slot: %v", err)
	}
	defer release()

	_, err = p.Predict(context.Background(), Request{
		Filename: "scan.png",
		Content:  testPNG(t, 4, 4),
		Method:   "gradcam",
	})
	if !IsTooBusy(err) {
		t.Fatalf("got %v, want too-busy", err)
	}
}

func TestPredictCanceledContext(t *testing.T) {
	p, _ := newTestPipeline(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Predict(ctx, Request{
		Filename: "scan.png",
		Content:  testPNG(t, 4, 4),
		Method:   "gradcam",
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestOpenImage(t *testing.T) {
	p, _ := newTestPipeline(t, Config{})
	resp, err := p.Predict(context.Background(), Request{
		Filename: "scan.png",
		Content:  testPNG(t, 4, 4),
		Method:   "scorecam",
	})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	f, err := p.OpenImage(resp.HeatmapPath)
	if err != nil {
		t.Fatalf("OpenImage failed: %v", err)
	}
	defer f.Close()
	if _, err := png.Decode(f); err != nil {
		t.Errorf("stored heatmap not a png: %v", err)
	}

	if _, err := p.OpenImage("heatmap_gradcam_missing.png"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing image: got %v, want fs.ErrNotExist", err)
	}
}

func TestStatusReporting(t *testing.T) {
	p, _ := newTestPipeline(t, Config{Cache: cache.NewMemory()})

	st := p.Status()
	if st.State != "ready" || !p.Ready() {
		t.Errorf("state = %q ready = %v", st.State, p.Ready())
	}
	if st.Model.Classes != 2 || st.Model.TargetLayer != "feat" {
		t.Errorf("model status = %+v", st.Model)
	}
	if st.Model.InputSize != [2]int{4, 4} {
		t.Errorf("input size = %v", st.Model.InputSize)
	}
	if st.MaxQueueDepth != defaultMaxQueueDepth {
		t.Errorf("max queue depth = %d", st.MaxQueueDepth)
	}
	if st.Workers != defaultWorkers() {
		t.Errorf("workers = %d", st.Workers)
	}
	if !st.CacheEnabled {
		t.Error("cache should report enabled")
	}
	if st.QueueLen != 0 || st.Inflight != 0 {
		t.Errorf("queue = %d inflight = %d, want idle", st.QueueLen, st.Inflight)
	}

	if _, err := p.Predict(context.Background(), Request{Filename: "s.png", Content: testPNG(t, 4, 4), Method: "gradcam"}); err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if got := p.Status().PredictionsTotal; got != 1 {
		t.Errorf("predictions_total = %d, want 1", got)
	}

	nop, _ := newTestPipeline(t, Config{})
	if nop.Status().CacheEnabled {
		t.Error("nil cache should report disabled")
	}
}

func TestNewValidation(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}

	if _, err := New(Config{Store: st}); err == nil {
		t.Error("expected error for missing bundle")
	}
	if _, err := New(Config{Bundle: testBundle(t)}); err == nil {
		t.Error("expected error for missing store")
	}

	// single-channel model cannot take decoded RGB input
	convW, _ := tensor.New([]int{1, 1, 1, 1}, []float32{1})
	conv, _ := nn.NewConv2D("conv1", convW, nil, 1, 0)
	headW, _ := tensor.New([]int{1, 1}, []float32{1})
	head, _ := nn.NewDense("head", headW, nil)
	gray, err := nn.New([]nn.Layer{conv, nn.NewReLU("feat"), nn.NewGlobalAvgPool("gap"), head}, []int{1, 4, 4}, 1, "feat")
	if err != nil {
		t.Fatalf("nn.New failed: %v", err)
	}
	bad := &registry.Bundle{Model: gray, Labels: []string{"a"}, Thresholds: []float64{0.5}}
	if _, err := New(Config{Bundle: bad, Store: st}); err == nil {
		t.Error("expected error for single-channel model")
	}
}

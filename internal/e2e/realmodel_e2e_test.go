package e2e

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"xrayd/internal/pipeline"
	"xrayd/internal/registry"
	"xrayd/pkg/types"
)

// TestRealModel_Predict runs a prediction against an exported production
// checkpoint. Skips unless XRAYD_MODEL_DIR (or ~/models/chest_xray) holds a
// checkpoint.json, so CI without artifacts stays green.
func TestRealModel_Predict(t *testing.T) {
	dir := os.Getenv("XRAYD_MODEL_DIR")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, "models", "chest_xray")
	}
	if _, err := os.Stat(filepath.Join(dir, registry.CheckpointFile)); err != nil {
		t.Skipf("no %s under %s; skipping real-model test", registry.CheckpointFile, dir)
	}

	bundle, err := registry.Load(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("load real bundle: %v", err)
	}
	srv, _ := newServer(t, pipeline.Config{Bundle: bundle})

	scan := makeScanPNG(t, 128, 128)
	resp, body := httpPostScan(t, srv.URL+"/api/v1/predict", scan, "gradcam")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("predict status=%d body=%s", resp.StatusCode, string(body))
	}
	var pr types.PredictResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		t.Fatalf("predict json: %v", err)
	}
	if len(pr.Predictions) != bundle.Model.NumClasses() {
		t.Fatalf("predictions for %d findings, model has %d classes",
			len(pr.Predictions), bundle.Model.NumClasses())
	}
	for _, label := range bundle.Labels {
		if _, ok := pr.Predictions[label]; !ok {
			t.Fatalf("missing finding %q in response", label)
		}
	}
}

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"xrayd/internal/nn"
	"xrayd/internal/registry"
)

func writeModelFixture(t *testing.T) string {
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

func TestDoctorHealthy(t *testing.T) {
	clearServeEnv(t)
	modelDir := writeModelFixture(t)

	cmd := doctorCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--model-dir", modelDir, "--results-dir", t.TempDir()})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("doctor: %v\n%s", err, buf.String())
	}
	out := buf.String()
	if !strings.Contains(out, "model:  ok") || !strings.Contains(out, "2 findings") {
		t.Fatalf("unexpected model line: %s", out)
	}
	if !strings.Contains(out, "store:  ok") || !strings.Contains(out, "cache:  ok (in-memory)") {
		t.Fatalf("unexpected store/cache lines: %s", out)
	}
	if !strings.Contains(out, "all checks passed") {
		t.Fatalf("missing summary: %s", out)
	}
}

func TestDoctorMissingModel(t *testing.T) {
	clearServeEnv(t)
	cmd := doctorCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--model-dir", filepath.Join(t.TempDir(), "missing"), "--results-dir", t.TempDir()})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected failure, output: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "model:  FAIL") {
		t.Fatalf("missing FAIL line: %s", buf.String())
	}
}

func TestDoctorUnreachableRedisIsWarning(t *testing.T) {
	clearServeEnv(t)
	modelDir := writeModelFixture(t)

	cmd := doctorCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{
		"--model-dir", modelDir,
		"--results-dir", t.TempDir(),
		"--redis-url", "redis://127.0.0.1:1/0",
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("redis warning must not fail doctor: %v\n%s", err, buf.String())
	}
	if !strings.Contains(buf.String(), "cache:  WARN") {
		t.Fatalf("missing cache warning: %s", buf.String())
	}
}

// Package registry locates and validates the artifact bundle the daemon
// serves: the network checkpoint, the per-class decision thresholds, and the
// class label set. Threshold and label artifacts are optional with documented
// fallbacks; a missing or unreadable checkpoint is fatal.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"xrayd/internal/classify"
	"xrayd/internal/common/fsutil"
	"xrayd/internal/nn"
)

// Artifact filenames expected inside the model directory.
const (
	CheckpointFile = "checkpoint.json"
	ThresholdsFile = "optimal_thresholds.json"
	LabelsFile     = "labels.json"
)

// Bundle is a validated set of model artifacts ready to serve. Labels and
// Thresholds always have exactly Model.NumClasses() entries.
type Bundle struct {
	Model      *nn.Model
	Labels     []string
	Thresholds []float64
	Dir        string
}

// Load reads the artifact bundle under dir. The checkpoint is required.
// Thresholds fall back to the default decision threshold for every class when
// the artifact is absent or unrecognized (with a warning); a present artifact
// whose length disagrees with the checkpoint's class count is an error.
// Labels fall back to the NIH chest finding set when the class counts line up.
func Load(dir string, log zerolog.Logger) (*Bundle, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, ErrModelUnavailable(dir, err)
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, ErrModelUnavailable(dir, fmt.Errorf("abs path: %w", err))
	}

	model, err := nn.Load(filepath.Join(abs, CheckpointFile))
	if err != nil {
		return nil, ErrModelUnavailable(abs, err)
	}

	thresholds, err := loadThresholds(abs, model.NumClasses(), log)
	if err != nil {
		return nil, ErrModelUnavailable(abs, err)
	}
	labels, err := loadLabels(abs, model.NumClasses(), log)
	if err != nil {
		return nil, ErrModelUnavailable(abs, err)
	}

	return &Bundle{Model: model, Labels: labels, Thresholds: thresholds, Dir: abs}, nil
}

// loadThresholds reads the per-class decision thresholds. The artifact may be
// a bare JSON array or an object keyed "Optimal_Threshold" (the form the
// training pipeline exports) or "optimal_thresholds".
func loadThresholds(dir string, classes int, log zerolog.Logger) ([]float64, error) {
	path := filepath.Join(dir, ThresholdsFile)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().
			Str("path", path).
			Float64("threshold", classify.DefaultThreshold).
			Msg("threshold artifact not found, using the default for every class")
		return defaultThresholds(classes), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read thresholds: %w", err)
	}

	vals, ok := parseThresholds(raw)
	if !ok {
		log.Warn().
			Str("path", path).
			Float64("threshold", classify.DefaultThreshold).
			Msg("threshold artifact has an unrecognized format, using the default for every class")
		return defaultThresholds(classes), nil
	}
	if len(vals) != classes {
		return nil, fmt.Errorf("thresholds: artifact carries %d values for %d classes", len(vals), classes)
	}
	return vals, nil
}

func parseThresholds(raw []byte) ([]float64, bool) {
	var vals []float64
	if err := json.Unmarshal(raw, &vals); err == nil {
		return vals, true
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	for _, key := range []string{"Optimal_Threshold", "optimal_thresholds"} {
		inner, present := obj[key]
		if !present {
			continue
		}
		if err := json.Unmarshal(inner, &vals); err == nil {
			return vals, true
		}
	}
	return nil, false
}

func defaultThresholds(classes int) []float64 {
	vals := make([]float64, classes)
	for i := range vals {
		vals[i] = classify.DefaultThreshold
	}
	return vals
}

// loadLabels reads the class label artifact, a bare JSON array of strings.
// When absent, the NIH default set is used if the checkpoint's class count
// matches it; any other count has no sensible names and is an error.
func loadLabels(dir string, classes int, log zerolog.Logger) ([]string, error) {
	path := filepath.Join(dir, LabelsFile)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if classes == len(classify.DefaultLabels) {
			log.Debug().Str("path", path).Msg("no label artifact, using the NIH default set")
			return append([]string(nil), classify.DefaultLabels...), nil
		}
		return nil, fmt.Errorf("labels: no %s and the checkpoint has %d classes (default set names %d)",
			LabelsFile, classes, len(classify.DefaultLabels))
	}
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}

	var labels []string
	if err := json.Unmarshal(raw, &labels); err != nil {
		return nil, fmt.Errorf("parse labels: %w", err)
	}
	if len(labels) != classes {
		return nil, fmt.Errorf("labels: artifact names %d classes, checkpoint has %d", len(labels), classes)
	}
	return labels, nil
}

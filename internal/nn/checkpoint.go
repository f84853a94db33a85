package nn

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"xrayd/internal/tensor"
)

// Checkpoint is the on-disk JSON snapshot of a trained model: the layer
// graph, every parameter tensor and provenance metadata. Snapshots are
// produced by the training side's export tooling and consumed read-only here.
type Checkpoint struct {
	Arch     Architecture   `json:"architecture"`
	Weights  []WeightTensor `json:"weights"`
	Metadata Metadata       `json:"metadata"`
}

// Architecture declares the ordered layer graph and the model-wide shapes.
type Architecture struct {
	Layers      []LayerSpec `json:"layers"`
	InputShape  []int       `json:"input_shape"`
	NumClasses  int         `json:"num_classes"`
	TargetLayer string      `json:"target_layer"`
}

// LayerSpec is the configuration of one layer. Parameters are numeric only;
// anything structural lives in the weights.
type LayerSpec struct {
	Kind       Kind               `json:"kind"`
	Name       string             `json:"name"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
}

// WeightTensor is one named parameter tensor, tagged with its owning layer
// and role ("weight", "bias", "gamma", "beta", "running_mean", "running_var").
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"`
}

// Metadata records where a snapshot came from.
type Metadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// Load reads a checkpoint file and builds the model it describes.
func Load(path string) (*Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	m, err := Build(&cp)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	return m, nil
}

// Build assembles a Model from an in-memory checkpoint.
func Build(cp *Checkpoint) (*Model, error) {
	byLayer := make(map[string]map[string]*WeightTensor)
	for i := range cp.Weights {
		w := &cp.Weights[i]
		roles := byLayer[w.Layer]
		if roles == nil {
			roles = make(map[string]*WeightTensor)
			byLayer[w.Layer] = roles
		}
		if _, dup := roles[w.Type]; dup {
			return nil, fmt.Errorf("layer %q has duplicate %q tensors", w.Layer, w.Type)
		}
		roles[w.Type] = w
	}
	layers := make([]Layer, 0, len(cp.Arch.Layers))
	for _, spec := range cp.Arch.Layers {
		l, err := buildLayer(spec, byLayer[spec.Name])
		if err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}
	return New(layers, cp.Arch.InputShape, cp.Arch.NumClasses, cp.Arch.TargetLayer)
}

func buildLayer(spec LayerSpec, weights map[string]*WeightTensor) (Layer, error) {
	switch spec.Kind {
	case KindConv2D:
		w, err := requireTensor(spec.Name, weights, "weight")
		if err != nil {
			return nil, err
		}
		b, err := optionalTensor(spec.Name, weights, "bias")
		if err != nil {
			return nil, err
		}
		return NewConv2D(spec.Name, w, b,
			intParam(spec.Parameters, "stride", 1),
			intParam(spec.Parameters, "padding", 0))
	case KindBatchNorm2D:
		gamma, err := requireVector(spec.Name, weights, "gamma")
		if err != nil {
			return nil, err
		}
		beta, err := requireVector(spec.Name, weights, "beta")
		if err != nil {
			return nil, err
		}
		mean, err := requireVector(spec.Name, weights, "running_mean")
		if err != nil {
			return nil, err
		}
		variance, err := requireVector(spec.Name, weights, "running_var")
		if err != nil {
			return nil, err
		}
		return NewBatchNorm2D(spec.Name, gamma, beta, mean, variance, spec.Parameters["epsilon"])
	case KindReLU:
		return NewReLU(spec.Name), nil
	case KindMaxPool2D:
		kernel := intParam(spec.Parameters, "kernel_size", 0)
		if kernel <= 0 {
			return nil, fmt.Errorf("maxpool2d %q: missing kernel_size", spec.Name)
		}
		return NewMaxPool2D(spec.Name, kernel, intParam(spec.Parameters, "stride", kernel))
	case KindGlobalAvgPool:
		return NewGlobalAvgPool(spec.Name), nil
	case KindFlatten:
		return NewFlatten(spec.Name), nil
	case KindDense:
		w, err := requireTensor(spec.Name, weights, "weight")
		if err != nil {
			return nil, err
		}
		b, err := optionalTensor(spec.Name, weights, "bias")
		if err != nil {
			return nil, err
		}
		return NewDense(spec.Name, w, b)
	default:
		return nil, fmt.Errorf("layer %q has unknown kind %q", spec.Name, spec.Kind)
	}
}

func requireTensor(layer string, weights map[string]*WeightTensor, role string) (*tensor.Tensor, error) {
	w, ok := weights[role]
	if !ok {
		return nil, fmt.Errorf("layer %q is missing its %q tensor", layer, role)
	}
	t, err := tensor.New(w.Shape, w.Data)
	if err != nil {
		return nil, fmt.Errorf("layer %q %q tensor: %w", layer, role, err)
	}
	return t, nil
}

func optionalTensor(layer string, weights map[string]*WeightTensor, role string) (*tensor.Tensor, error) {
	if _, ok := weights[role]; !ok {
		return nil, nil
	}
	return requireTensor(layer, weights, role)
}

func requireVector(layer string, weights map[string]*WeightTensor, role string) ([]float32, error) {
	t, err := requireTensor(layer, weights, role)
	if err != nil {
		return nil, err
	}
	if t.Rank() != 1 {
		return nil, fmt.Errorf("layer %q %q tensor must be rank-1, got shape %v", layer, role, t.Shape)
	}
	return t.Data, nil
}

func intParam(params map[string]float64, key string, def int) int {
	if v, ok := params[key]; ok {
		return int(v)
	}
	return def
}

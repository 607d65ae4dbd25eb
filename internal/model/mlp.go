package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

// Layer is a dense layer: out = act(W x + b), W is [out][in].
type Layer struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"` // relu, tanh, sigmoid or linear
}

// Neural is a small feed-forward network whose last layer has one unit
// producing a log-odds score.
type Neural struct {
	InputMean  []float64 `json:"input_mean,omitempty"`
	InputScale []float64 `json:"input_scale,omitempty"`
	Layers     []Layer   `json:"layers"`
}

var _ Model = (*Neural)(nil)

// LoadNeural reads network weights from a JSON file.
func LoadNeural(path string) (*Neural, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("model: read mlp %s: %w", path, err)
	}
	var m Neural
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("model: decode mlp %s: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("model: mlp %s: %w", path, err)
	}
	return &m, nil
}

func (m *Neural) validate() error {
	if len(m.Layers) == 0 {
		return fmt.Errorf("no layers")
	}
	if n := len(m.InputMean); n != 0 && n != NumFeatures {
		return fmt.Errorf("input_mean has %d entries, want %d", n, NumFeatures)
	}
	if n := len(m.InputScale); n != 0 && n != NumFeatures {
		return fmt.Errorf("input_scale has %d entries, want %d", n, NumFeatures)
	}
	in := NumFeatures
	for li, l := range m.Layers {
		if len(l.Weights) == 0 || len(l.Weights) != len(l.Bias) {
			return fmt.Errorf("layer %d: %d rows, %d biases", li, len(l.Weights), len(l.Bias))
		}
		for _, row := range l.Weights {
			if len(row) != in {
				return fmt.Errorf("layer %d: row width %d, want %d", li, len(row), in)
			}
		}
		switch l.Activation {
		case "", "linear", "relu", "tanh", "sigmoid":
		default:
			return fmt.Errorf("layer %d: unknown activation %q", li, l.Activation)
		}
		in = len(l.Weights)
	}
	if in != 1 {
		return fmt.Errorf("output layer has %d units, want 1", in)
	}
	return nil
}

func (m *Neural) sealed() {}

// Kind implements Model.
func (m *Neural) Kind() Kind { return KindNeural }

// Predict runs the forward pass. Confidence grows with distance from 0.5,
// from 0.5 at an undecided output to 1 at a certain one.
func (m *Neural) Predict(_ context.Context, _ domain.Market, x FeatureVector) (Output, error) {
	act := make([]float64, NumFeatures)
	for i := range act {
		v := x[i]
		if len(m.InputMean) > 0 {
			v -= m.InputMean[i]
		}
		if len(m.InputScale) > 0 && m.InputScale[i] != 0 {
			v /= m.InputScale[i]
		}
		act[i] = v
	}

	for _, l := range m.Layers {
		next := make([]float64, len(l.Weights))
		for j, row := range l.Weights {
			sum := l.Bias[j]
			for k, w := range row {
				sum += w * act[k]
			}
			next[j] = activate(l.Activation, sum)
		}
		act = next
	}

	p := sigmoid(act[0])
	if math.IsNaN(p) {
		return Output{}, fmt.Errorf("model: mlp produced NaN")
	}
	return Output{
		Kind:        KindNeural,
		Probability: p,
		Confidence:  0.5 + math.Abs(p-0.5),
	}, nil
}

func activate(name string, v float64) float64 {
	switch name {
	case "relu":
		return math.Max(0, v)
	case "tanh":
		return math.Tanh(v)
	case "sigmoid":
		return sigmoid(v)
	default:
		return v
	}
}

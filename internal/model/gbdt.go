package model

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

// TreeNode is one node of a regression tree. Leaves carry Value; split
// nodes send x[Feature] < Threshold to Left and everything else to Right.
type TreeNode struct {
	Leaf      bool    `json:"leaf,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
}

// Tree is a flat regression tree rooted at node 0.
type Tree struct {
	Nodes []TreeNode `json:"nodes"`
}

// GradientBoosted is a boosted tree ensemble producing a log-odds score.
type GradientBoosted struct {
	BaseScore    float64 `json:"base_score"`
	LearningRate float64 `json:"learning_rate"`
	Trees        []Tree  `json:"trees"`
}

var _ Model = (*GradientBoosted)(nil)

// LoadGradientBoosted reads a tree ensemble from a JSON file.
func LoadGradientBoosted(path string) (*GradientBoosted, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("model: read gbdt %s: %w", path, err)
	}
	var m GradientBoosted
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("model: decode gbdt %s: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("model: gbdt %s: %w", path, err)
	}
	return &m, nil
}

func (m *GradientBoosted) validate() error {
	if len(m.Trees) == 0 {
		return fmt.Errorf("no trees")
	}
	if m.LearningRate == 0 {
		m.LearningRate = 1
	}
	for ti, t := range m.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.Leaf {
				continue
			}
			if n.Feature < 0 || n.Feature >= NumFeatures {
				return fmt.Errorf("tree %d node %d: feature %d out of range", ti, ni, n.Feature)
			}
			if n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return fmt.Errorf("tree %d node %d: bad children %d/%d", ti, ni, n.Left, n.Right)
			}
		}
	}
	return nil
}

func (m *GradientBoosted) sealed() {}

// Kind implements Model.
func (m *GradientBoosted) Kind() Kind { return KindGradientBoosted }

// Predict sums the tree outputs into a log-odds score. Confidence is the
// share of trees that push the score in the same direction as the total.
func (m *GradientBoosted) Predict(_ context.Context, _ domain.Market, x FeatureVector) (Output, error) {
	score := m.BaseScore
	leaves := make([]float64, len(m.Trees))
	for i, t := range m.Trees {
		leaves[i] = t.eval(x)
		score += m.LearningRate * leaves[i]
	}

	dir := score - m.BaseScore
	agree := 0
	for _, v := range leaves {
		if (v > 0 && dir > 0) || (v < 0 && dir < 0) {
			agree++
		}
	}

	return Output{
		Kind:        KindGradientBoosted,
		Probability: sigmoid(score),
		Confidence:  float64(agree) / float64(len(leaves)),
	}, nil
}

func (t Tree) eval(x FeatureVector) float64 {
	i := 0
	// Children always have larger indexes, so this terminates.
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

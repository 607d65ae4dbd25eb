package model

import (
	"context"
	"strings"
	"unicode"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

// NLPConfig tunes the lexicon model.
type NLPConfig struct {
	MaxShift      float64 // largest move away from the market price
	MaxConfidence float64
	Positive      []string
	Negative      []string
}

// DefaultNLPConfig returns a small built-in lexicon.
func DefaultNLPConfig() NLPConfig {
	return NLPConfig{
		MaxShift:      0.08,
		MaxConfidence: 0.6,
		Positive: []string{
			"win", "wins", "pass", "passes", "approve", "approved", "above", "exceed",
			"exceeds", "rise", "rises", "increase", "beat", "beats", "reach", "reaches",
			"succeed", "launch", "launches", "record", "gain", "gains",
		},
		Negative: []string{
			"lose", "loses", "fail", "fails", "reject", "rejected", "below", "fall",
			"falls", "decline", "declines", "ban", "banned", "default", "resign",
			"crash", "cut", "cuts", "drop", "drops", "recession",
		},
	}
}

// NLP scores the market question against a sentiment lexicon and nudges the
// market price in the direction of the sentiment.
type NLP struct {
	cfg      NLPConfig
	positive map[string]struct{}
	negative map[string]struct{}
}

var _ Model = (*NLP)(nil)

// NewNLP builds the lexicon model.
func NewNLP(cfg NLPConfig) *NLP {
	m := &NLP{
		cfg:      cfg,
		positive: make(map[string]struct{}, len(cfg.Positive)),
		negative: make(map[string]struct{}, len(cfg.Negative)),
	}
	for _, w := range cfg.Positive {
		m.positive[strings.ToLower(w)] = struct{}{}
	}
	for _, w := range cfg.Negative {
		m.negative[strings.ToLower(w)] = struct{}{}
	}
	return m
}

func (m *NLP) sealed() {}

// Kind implements Model.
func (m *NLP) Kind() Kind { return KindNLP }

// Predict returns the market price shifted by sentiment. With no lexicon
// hits the model has zero confidence.
func (m *NLP) Predict(_ context.Context, market domain.Market, x FeatureVector) (Output, error) {
	score, hits := m.Sentiment(market.Question)
	prob := clamp01(x[FeatYesPrice] + m.cfg.MaxShift*score)
	conf := m.cfg.MaxConfidence * float64(hits) / float64(hits+2)
	return Output{Kind: KindNLP, Probability: prob, Confidence: conf}, nil
}

// Sentiment returns (pos-neg)/(pos+neg) in [-1, 1] and the number of
// lexicon hits in text.
func (m *NLP) Sentiment(text string) (float64, int) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var pos, neg int
	for _, w := range words {
		if _, ok := m.positive[w]; ok {
			pos++
		}
		if _, ok := m.negative[w]; ok {
			neg++
		}
	}
	hits := pos + neg
	if hits == 0 {
		return 0, 0
	}
	return float64(pos-neg) / float64(hits), hits
}

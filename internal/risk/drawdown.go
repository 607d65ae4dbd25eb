package risk

import (
	"sync"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
	"github.com/iambrands/ai-ml-trading-bot/internal/portfolio"
)

// DrawdownMonitor tracks the running peak of portfolio value. The peak only
// ever increases.
type DrawdownMonitor struct {
	mu      sync.Mutex
	peak    float64
	started bool
	history []domain.DrawdownSnapshot
}

// NewDrawdownMonitor creates an empty monitor.
func NewDrawdownMonitor() *DrawdownMonitor {
	return &DrawdownMonitor{}
}

// Update records the snapshot's total value and returns the resulting
// drawdown observation.
func (m *DrawdownMonitor) Update(s portfolio.Snapshot) domain.DrawdownSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := s.TotalValue
	if !m.started || current > m.peak {
		m.peak = current
		m.started = true
	}

	var dd float64
	if m.peak > 0 {
		dd = (m.peak - current) / m.peak
	}

	snap := domain.DrawdownSnapshot{
		Timestamp:    s.Timestamp,
		PeakValue:    m.peak,
		CurrentValue: current,
		Drawdown:     dd,
	}
	m.history = append(m.history, snap)
	return snap
}

// CurrentDrawdown returns the latest drawdown, or 0 before any update.
func (m *DrawdownMonitor) CurrentDrawdown() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return 0
	}
	return m.history[len(m.history)-1].Drawdown
}

// MaxDrawdown returns the largest drawdown observed, or 0.
func (m *DrawdownMonitor) MaxDrawdown() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var maxDD float64
	for _, h := range m.history {
		if h.Drawdown > maxDD {
			maxDD = h.Drawdown
		}
	}
	return maxDD
}

// Peak returns the running peak value.
func (m *DrawdownMonitor) Peak() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// History returns a copy of all observations.
func (m *DrawdownMonitor) History() []domain.DrawdownSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.DrawdownSnapshot, len(m.history))
	copy(out, m.history)
	return out
}

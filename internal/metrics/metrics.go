// Package metrics computes performance statistics for a finished portfolio.
// Nothing here panics or divides by zero: degenerate inputs produce zeros,
// and a profit factor with no losing trades is +Inf.
package metrics

import (
	"encoding/json"
	"math"
	"time"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
	"github.com/iambrands/ai-ml-trading-bot/internal/portfolio"
)

// TradingDaysPerYear annualises the per-trade Sharpe ratio.
const TradingDaysPerYear = 252

const daysPerYear = 365.25

// Metrics is the performance summary of a run.
type Metrics struct {
	InitialCapital   float64 `json:"initial_capital"`
	FinalValue       float64 `json:"final_value"`
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	WinRate          float64 `json:"win_rate"`
	ProfitFactor     float64 `json:"profit_factor"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	TotalTrades      int     `json:"total_trades"`
	WinningTrades    int     `json:"winning_trades"`
	LosingTrades     int     `json:"losing_trades"`
	GrossProfit      float64 `json:"gross_profit"`
	GrossLoss        float64 `json:"gross_loss"`
	TotalFees        float64 `json:"total_fees"`
}

// MarshalJSON encodes an infinite profit factor as "inf".
func (m Metrics) MarshalJSON() ([]byte, error) {
	type plain Metrics
	var pf any = m.ProfitFactor
	if math.IsInf(m.ProfitFactor, 1) {
		pf = "inf"
	}
	return json.Marshal(struct {
		plain
		ProfitFactor any `json:"profit_factor"`
	}{plain: plain(m), ProfitFactor: pf})
}

// UnmarshalJSON accepts the "inf" profit factor written by MarshalJSON.
func (m *Metrics) UnmarshalJSON(data []byte) error {
	type plain Metrics
	aux := struct {
		*plain
		ProfitFactor json.RawMessage `json:"profit_factor"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	switch string(aux.ProfitFactor) {
	case "", "null":
		m.ProfitFactor = 0
	case `"inf"`:
		m.ProfitFactor = math.Inf(1)
	default:
		return json.Unmarshal(aux.ProfitFactor, &m.ProfitFactor)
	}
	return nil
}

// FromSnapshot computes metrics for a portfolio snapshot over [start, end].
func FromSnapshot(s portfolio.Snapshot, start, end time.Time) Metrics {
	return Compute(s.InitialCapital, s.TotalValue, s.Trades, start, end)
}

// Compute derives the metrics from the trade history. trades must be in
// chronological close order.
func Compute(initialCapital, finalValue float64, trades []domain.Trade, start, end time.Time) Metrics {
	m := Metrics{
		InitialCapital: initialCapital,
		FinalValue:     finalValue,
		TotalTrades:    len(trades),
	}

	if initialCapital > 0 {
		m.TotalReturn = (finalValue - initialCapital) / initialCapital
	}
	m.AnnualizedReturn = annualize(m.TotalReturn, end.Sub(start))

	for _, t := range trades {
		m.TotalFees += t.Fees
		switch {
		case t.PnL > 0:
			m.WinningTrades++
			m.GrossProfit += t.PnL
		case t.PnL < 0:
			m.LosingTrades++
			m.GrossLoss += t.PnL
		}
	}

	if len(trades) == 0 {
		return m
	}

	m.WinRate = float64(m.WinningTrades) / float64(len(trades))
	m.ProfitFactor = profitFactor(m.GrossProfit, m.GrossLoss)
	m.SharpeRatio = sharpe(trades, initialCapital)
	m.MaxDrawdown = maxDrawdown(initialCapital, trades)
	return m
}

func annualize(total float64, period time.Duration) float64 {
	days := period.Hours() / 24
	if days <= 0 {
		return total
	}
	if 1+total <= 0 {
		return -1
	}
	return math.Pow(1+total, daysPerYear/days) - 1
}

func profitFactor(grossProfit, grossLoss float64) float64 {
	if grossLoss == 0 {
		if grossProfit > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return grossProfit / math.Abs(grossLoss)
}

// sharpe uses per-trade returns relative to the initial capital and the
// population standard deviation.
func sharpe(trades []domain.Trade, initialCapital float64) float64 {
	if len(trades) < 2 || initialCapital <= 0 {
		return 0
	}
	returns := make([]float64, len(trades))
	for i, t := range trades {
		returns[i] = t.PnL / initialCapital
	}
	mean := computeMean(returns)
	std := computeStddev(returns, mean)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(TradingDaysPerYear)
}

// maxDrawdown replays capital through the trades in order and returns the
// largest peak-to-trough decline as a fraction of the peak.
func maxDrawdown(initialCapital float64, trades []domain.Trade) float64 {
	capital := initialCapital
	peak := initialCapital
	var maxDD float64
	for _, t := range trades {
		capital += t.PnL
		if capital > peak {
			peak = capital
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - capital) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

func computeMean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func computeStddev(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
	"github.com/iambrands/ai-ml-trading-bot/internal/metrics"
	"github.com/iambrands/ai-ml-trading-bot/internal/portfolio"
)

// PortfolioSource yields a consistent view of the paper portfolio.
type PortfolioSource interface {
	Snapshot() portfolio.Snapshot
}

// PortfolioHandler serves the portfolio, its open positions and the
// performance metrics of the session.
type PortfolioHandler struct {
	source    PortfolioSource
	startedAt time.Time
	now       func() time.Time
	logger    *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler. startedAt opens the metrics
// window.
func NewPortfolioHandler(source PortfolioSource, startedAt time.Time, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{
		source:    source,
		startedAt: startedAt,
		now:       time.Now,
		logger:    logHandler(logger, "portfolio"),
	}
}

type portfolioResponse struct {
	Timestamp      time.Time `json:"timestamp"`
	InitialCapital float64   `json:"initial_capital"`
	Cash           float64   `json:"cash"`
	TotalExposure  float64   `json:"total_exposure"`
	UnrealizedPnL  float64   `json:"unrealized_pnl"`
	RealizedPnL    float64   `json:"realized_pnl"`
	TotalValue     float64   `json:"total_value"`
	TotalPnL       float64   `json:"total_pnl"`
	OpenPositions  int       `json:"open_positions"`
	TradeCount     int       `json:"trade_count"`
}

// GetPortfolio returns the portfolio totals.
// GET /api/portfolio
func (h *PortfolioHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	s := h.source.Snapshot()
	writeJSON(w, http.StatusOK, portfolioResponse{
		Timestamp:      s.Timestamp,
		InitialCapital: s.InitialCapital,
		Cash:           s.Cash,
		TotalExposure:  s.TotalExposure,
		UnrealizedPnL:  s.UnrealizedPnL,
		RealizedPnL:    s.RealizedPnL,
		TotalValue:     s.TotalValue,
		TotalPnL:       s.TotalPnL(),
		OpenPositions:  len(s.Positions),
		TradeCount:     len(s.Trades),
	})
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns the open positions.
// GET /api/positions
func (h *PortfolioHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.source.Snapshot().Positions
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetMetrics computes the performance metrics from the session start to now.
// GET /api/metrics
func (h *PortfolioHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	s := h.source.Snapshot()
	writeJSON(w, http.StatusOK, metrics.FromSnapshot(s, h.startedAt, h.now()))
}

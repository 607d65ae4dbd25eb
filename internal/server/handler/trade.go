package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

// TradeLister reads persisted trades of a session.
type TradeLister interface {
	ListTrades(ctx context.Context, sessionID string, opts domain.ListOpts) ([]domain.Trade, error)
}

// TradeHandler serves closed trades. It reads from the trade store when one
// is configured and from the in-memory portfolio otherwise.
type TradeHandler struct {
	store    TradeLister
	session  string
	fallback PortfolioSource
	logger   *slog.Logger
}

// NewTradeHandler creates a TradeHandler. store may be nil.
func NewTradeHandler(store TradeLister, session string, fallback PortfolioSource, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		store:    store,
		session:  session,
		fallback: fallback,
		logger:   logHandler(logger, "trades"),
	}
}

type listTradesResponse struct {
	Session string         `json:"session"`
	Trades  []domain.Trade `json:"trades"`
}

// ListTrades returns closed trades in exit order.
// GET /api/trades?limit=&offset=&since=&until=
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "since and until must be RFC3339 timestamps")
		return
	}

	var trades []domain.Trade
	if h.store != nil {
		trades, err = h.store.ListTrades(r.Context(), h.session, opts)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: list trades failed",
				slog.String("session", h.session),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to list trades")
			return
		}
	} else {
		trades = filterTrades(h.fallback.Snapshot().Trades, opts)
	}

	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Session: h.session, Trades: trades})
}

// filterTrades applies opts to an in-memory trade list the way the stores do:
// window on exit time, then offset and limit.
func filterTrades(all []domain.Trade, opts domain.ListOpts) []domain.Trade {
	var out []domain.Trade
	for _, t := range all {
		if opts.Since != nil && t.ExitTime.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && t.ExitTime.After(*opts.Until) {
			continue
		}
		out = append(out, t)
	}
	if opts.Offset >= len(out) {
		return nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/iambrands/ai-ml-trading-bot/internal/trading"
)

// StatusSource reports the state of the trading loop.
type StatusSource interface {
	Status() trading.EngineStatus
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	mode   string
	engine StatusSource
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. engine may be nil when no trading
// loop runs in this process.
func NewHealthHandler(mode string, engine StatusSource, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{mode: mode, engine: engine, logger: logger}
}

// HealthCheck responds with the process mode and, when available, the engine
// status. A halted engine is still healthy: the API keeps serving.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"mode":      h.mode,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.engine != nil {
		body["engine"] = h.engine.Status()
	}
	writeJSON(w, http.StatusOK, body)
}

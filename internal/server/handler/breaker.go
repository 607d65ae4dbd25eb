package handler

import (
	"net/http"

	"github.com/iambrands/ai-ml-trading-bot/internal/risk"
)

// BreakerSource reports the circuit breaker state.
type BreakerSource interface {
	Status() risk.BreakerStatus
}

// BreakerHandler serves the circuit breaker state and transition history.
type BreakerHandler struct {
	source BreakerSource
}

// NewBreakerHandler creates a BreakerHandler.
func NewBreakerHandler(source BreakerSource) *BreakerHandler {
	return &BreakerHandler{source: source}
}

// GetBreaker returns the breaker status.
// GET /api/breaker
func (h *BreakerHandler) GetBreaker(w http.ResponseWriter, r *http.Request) {
	st := h.source.Status()
	if st.Transitions == nil {
		st.Transitions = []risk.Transition{}
	}
	writeJSON(w, http.StatusOK, st)
}

package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
	"github.com/iambrands/ai-ml-trading-bot/internal/portfolio"
)

// State is a circuit breaker state.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Trip reasons.
const (
	ReasonMaxDrawdown       = "max drawdown exceeded"
	ReasonDailyLoss         = "daily loss limit exceeded"
	ReasonConsecutiveLosses = "consecutive losses"
	ReasonCooldownElapsed   = "cooldown elapsed"
	ReasonRecovered         = "drawdown recovered"
	ReasonDailyReset        = "daily reset"
)

// allowed is the breaker's transition table. Any transition not listed here
// is a programming error.
var allowed = map[State][]State{
	StateClosed:   {StateOpen},
	StateOpen:     {StateHalfOpen},
	StateHalfOpen: {StateClosed, StateOpen},
}

func canTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// BreakerConfig holds the trip thresholds.
type BreakerConfig struct {
	MaxDrawdown       float64 // fraction of peak value
	MaxDailyLoss      float64 // fraction of the day's initial value
	ConsecutiveLosses int
	Cooldown          time.Duration
}

// Transition is one recorded state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// BreakerStatus is a read-only view of the breaker for reporting.
type BreakerStatus struct {
	State             State        `json:"state"`
	Reason            string       `json:"reason,omitempty"`
	OpenedAt          *time.Time   `json:"opened_at,omitempty"`
	InitialValue      float64      `json:"initial_value"`
	ConsecutiveLosses int          `json:"consecutive_losses"`
	CurrentDrawdown   float64      `json:"current_drawdown"`
	MaxDrawdown       float64      `json:"max_drawdown"`
	Transitions       []Transition `json:"transitions"`
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerClock overrides the breaker's time source.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// OnTransition registers fn to be called after every state change. Hooks run
// outside the breaker lock.
func OnTransition(fn func(Transition)) BreakerOption {
	return func(b *Breaker) { b.hooks = append(b.hooks, fn) }
}

// Breaker is the trading circuit breaker. It starts CLOSED.
type Breaker struct {
	mu  sync.Mutex
	cfg BreakerConfig

	monitor *DrawdownMonitor
	now     func() time.Time
	hooks   []func(Transition)

	state        State
	reason       string
	openedAt     time.Time
	initialValue float64
	hasInitial   bool
	losses       int
	transitions  []Transition
}

// NewBreaker creates a Breaker. A nil monitor gets a fresh DrawdownMonitor.
func NewBreaker(cfg BreakerConfig, monitor *DrawdownMonitor, opts ...BreakerOption) *Breaker {
	if monitor == nil {
		monitor = NewDrawdownMonitor()
	}
	b := &Breaker{
		cfg:     cfg,
		monitor: monitor,
		now:     func() time.Time { return time.Now().UTC() },
		state:   StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Monitor returns the drawdown monitor the breaker updates.
func (b *Breaker) Monitor() *DrawdownMonitor { return b.monitor }

// Check evaluates the breaker against s and reports whether trading is
// allowed (state CLOSED or HALF_OPEN afterwards).
func (b *Breaker) Check(s portfolio.Snapshot) bool {
	b.mu.Lock()
	mark := len(b.transitions)
	ok := b.checkLocked(s)
	pending := append([]Transition(nil), b.transitions[mark:]...)
	b.mu.Unlock()

	b.fire(pending)
	return ok
}

func (b *Breaker) checkLocked(s portfolio.Snapshot) bool {
	now := b.now()

	if !b.hasInitial {
		b.initialValue = s.TotalValue
		b.hasInitial = true
	}
	dd := b.monitor.Update(s).Drawdown
	b.absorbTrades(s.Trades)

	switch b.state {
	case StateOpen:
		if now.Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.transition(StateHalfOpen, ReasonCooldownElapsed, now)
		if !b.probeLocked(s, dd, now) {
			return false
		}
	case StateHalfOpen:
		if !b.probeLocked(s, dd, now) {
			return false
		}
	}

	if reason := b.tripReason(s, dd); reason != "" {
		b.transition(StateOpen, reason, now)
		return false
	}
	return b.state == StateClosed || b.state == StateHalfOpen
}

// probeLocked applies the HALF_OPEN recovery rules and reports whether the
// breaker is still allowing trades.
func (b *Breaker) probeLocked(s portfolio.Snapshot, dd float64, now time.Time) bool {
	switch {
	case dd > b.cfg.MaxDrawdown:
		b.transition(StateOpen, ReasonMaxDrawdown, now)
		return false
	case dd < b.cfg.MaxDrawdown/2:
		b.transition(StateClosed, ReasonRecovered, now)
		b.initialValue = s.TotalValue
	}
	return true
}

func (b *Breaker) tripReason(s portfolio.Snapshot, dd float64) string {
	if dd > b.cfg.MaxDrawdown {
		return ReasonMaxDrawdown
	}
	if b.initialValue > 0 {
		if loss := (b.initialValue - s.TotalValue) / b.initialValue; loss > b.cfg.MaxDailyLoss {
			return ReasonDailyLoss
		}
	}
	if n := b.cfg.ConsecutiveLosses; n > 0 && trailingLosses(s.Trades, n) {
		return ReasonConsecutiveLosses
	}
	return ""
}

// trailingLosses reports whether the last n trades all lost money. It is
// false while fewer than n trades exist.
func trailingLosses(trades []domain.Trade, n int) bool {
	if len(trades) < n {
		return false
	}
	for _, t := range trades[len(trades)-n:] {
		if t.PnL >= 0 {
			return false
		}
	}
	return true
}

// absorbTrades sets the consecutive-loss counter to the losing streak at the
// end of the trade history, so the counter and the history always agree.
func (b *Breaker) absorbTrades(trades []domain.Trade) {
	b.losses = 0
	for i := len(trades) - 1; i >= 0 && trades[i].PnL < 0; i-- {
		b.losses++
	}
}

func (b *Breaker) transition(to State, reason string, at time.Time) {
	if !canTransition(b.state, to) {
		panic(fmt.Sprintf("risk: illegal breaker transition %s -> %s", b.state, to))
	}
	b.transitions = append(b.transitions, Transition{From: b.state, To: to, Reason: reason, At: at})
	b.state = to
	b.reason = reason
	if to == StateOpen {
		b.openedAt = at
	}
}

func (b *Breaker) fire(ts []Transition) {
	for _, t := range ts {
		for _, h := range b.hooks {
			h(t)
		}
	}
}

// ResetDaily starts a new trading day: the initial value is recaptured on the
// next Check, the loss counter is cleared until the next Check recounts it,
// and an OPEN breaker is moved to HALF_OPEN without waiting for the cooldown.
func (b *Breaker) ResetDaily() {
	b.mu.Lock()
	b.hasInitial = false
	b.initialValue = 0
	b.losses = 0
	mark := len(b.transitions)
	if b.state == StateOpen {
		b.transition(StateHalfOpen, ReasonDailyReset, b.now())
	}
	pending := append([]Transition(nil), b.transitions[mark:]...)
	b.mu.Unlock()

	b.fire(pending)
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Transitions returns a copy of the transition log.
func (b *Breaker) Transitions() []Transition {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Transition, len(b.transitions))
	copy(out, b.transitions)
	return out
}

// Status returns a reporting view of the breaker.
func (b *Breaker) Status() BreakerStatus {
	b.mu.Lock()
	st := BreakerStatus{
		State:             b.state,
		Reason:            b.reason,
		InitialValue:      b.initialValue,
		ConsecutiveLosses: b.losses,
		Transitions:       make([]Transition, len(b.transitions)),
	}
	copy(st.Transitions, b.transitions)
	if !b.openedAt.IsZero() {
		at := b.openedAt
		st.OpenedAt = &at
	}
	b.mu.Unlock()

	st.CurrentDrawdown = b.monitor.CurrentDrawdown()
	st.MaxDrawdown = b.monitor.MaxDrawdown()
	return st
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iambrands/ai-ml-trading-bot/internal/backtest"
	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
	"github.com/iambrands/ai-ml-trading-bot/internal/executor"
	"github.com/iambrands/ai-ml-trading-bot/internal/notify"
	"github.com/iambrands/ai-ml-trading-bot/internal/portfolio"
	"github.com/iambrands/ai-ml-trading-bot/internal/risk"
	"github.com/iambrands/ai-ml-trading-bot/internal/trading"
)

// Bus names for journal events.
const (
	EventsChannel = "trading.events"
	EventsStream  = "trading:events"
)

// ErrNoEventStream is returned by Events when no signal bus is configured.
var ErrNoEventStream = errors.New("journal: no event stream configured")

// Event is the envelope published for every journal event.
type Event struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Session string          `json:"session"`
	At      time.Time       `json:"at"`
	Data    json.RawMessage `json:"data"`
}

// Notifier is the subset of notify.Notifier the journal uses.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// JournalSinks are the optional destinations of journal events. Nil sinks
// are skipped.
type JournalSinks struct {
	Trades    domain.TradeStore
	Snapshots domain.SnapshotStore
	Audit     domain.AuditStore
	Bus       domain.SignalBus
	Notifier  Notifier
}

// JournalService records what the trading loop does. A sink failure is
// logged and never reaches the caller, so persistence problems cannot stop
// trading.
type JournalService struct {
	session string
	sinks   JournalSinks
	timeout time.Duration
	logger  *slog.Logger
}

var (
	_ executor.TradeRecorder   = (*JournalService)(nil)
	_ trading.SnapshotRecorder = (*JournalService)(nil)
)

// NewJournalService creates a journal for one trading session (the live
// session name or a backtest run ID).
func NewJournalService(session string, sinks JournalSinks, logger *slog.Logger) *JournalService {
	return &JournalService{
		session: session,
		sinks:   sinks,
		timeout: 5 * time.Second,
		logger:  logger.With(slog.String("component", "journal"), slog.String("session", session)),
	}
}

// Session returns the session the journal writes under.
func (j *JournalService) Session() string { return j.session }

// PositionOpened journals a new position.
func (j *JournalService) PositionOpened(ctx context.Context, pos domain.Position) {
	j.audit(ctx, notify.EventPositionOpened, map[string]any{
		"market_id":   pos.MarketID,
		"signal_id":   pos.SignalID,
		"side":        string(pos.Side),
		"entry_price": pos.EntryPrice,
		"size":        pos.Size,
	})
	j.publish(ctx, notify.EventPositionOpened, pos.EntryTime, pos)
	j.notify(ctx, notify.EventPositionOpened,
		fmt.Sprintf("Opened %s %s", pos.Side, pos.MarketID),
		fmt.Sprintf("size $%.2f at %.3f", pos.Size, pos.EntryPrice))
}

// PositionClosed persists the trade and journals the close.
func (j *JournalService) PositionClosed(ctx context.Context, trade domain.Trade) {
	if j.sinks.Trades != nil {
		if err := j.sinks.Trades.InsertTrade(ctx, j.session, trade); err != nil {
			j.logger.WarnContext(ctx, "journal: insert trade failed",
				slog.String("trade_id", trade.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	j.audit(ctx, notify.EventPositionClosed, map[string]any{
		"trade_id":  trade.ID,
		"market_id": trade.MarketID,
		"side":      string(trade.Side),
		"pnl":       trade.PnL,
		"fees":      trade.Fees,
	})
	j.publish(ctx, notify.EventPositionClosed, trade.ExitTime, trade)
	j.notify(ctx, notify.EventPositionClosed,
		fmt.Sprintf("Closed %s %s", trade.Side, trade.MarketID),
		fmt.Sprintf("P&L $%.2f (fees $%.2f), exit %.3f", trade.PnL, trade.Fees, trade.ExitPrice))
}

// RecordSnapshot persists a portfolio snapshot.
func (j *JournalService) RecordSnapshot(ctx context.Context, snap portfolio.Snapshot) {
	if j.sinks.Snapshots == nil {
		return
	}
	if err := j.sinks.Snapshots.InsertSnapshot(ctx, snap.Domain(j.session)); err != nil {
		j.logger.WarnContext(ctx, "journal: insert snapshot failed", slog.String("error", err.Error()))
	}
}

// BreakerTransition journals a circuit breaker state change. It is
// registered as a breaker hook, so it runs with its own timeout.
func (j *JournalService) BreakerTransition(t risk.Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	j.audit(ctx, notify.EventCircuitTransition, map[string]any{
		"from":   string(t.From),
		"to":     string(t.To),
		"reason": t.Reason,
	})
	j.publish(ctx, notify.EventCircuitTransition, t.At, t)
	j.notify(ctx, notify.EventCircuitTransition,
		fmt.Sprintf("Circuit breaker %s", t.To),
		fmt.Sprintf("%s -> %s: %s", t.From, t.To, t.Reason))
}

// BacktestFinished announces a completed backtest.
func (j *JournalService) BacktestFinished(ctx context.Context, res *backtest.Result, reportPath string) {
	j.audit(ctx, notify.EventBacktestFinished, map[string]any{
		"run_id":       res.RunID,
		"trades":       res.Metrics.TotalTrades,
		"total_return": res.Metrics.TotalReturn,
		"report_path":  reportPath,
	})
	j.publish(ctx, notify.EventBacktestFinished, res.EndDate, map[string]any{
		"run_id":      res.RunID,
		"report_path": reportPath,
		"metrics":     res.Metrics,
	})
	j.notify(ctx, notify.EventBacktestFinished,
		fmt.Sprintf("Backtest %s finished", res.RunID),
		fmt.Sprintf("%d trades, return %.2f%%, max drawdown %.2f%%",
			res.Metrics.TotalTrades, res.Metrics.TotalReturn*100, res.Metrics.MaxDrawdown*100))
}

// ReportError forwards an operational error to the notifier.
func (j *JournalService) ReportError(ctx context.Context, what string, err error) {
	j.notify(ctx, notify.EventError, what, err.Error())
}

// Events reads journal events from the durable stream after lastID ("0"
// for the beginning).
func (j *JournalService) Events(ctx context.Context, lastID string, count int) ([]Event, error) {
	if j.sinks.Bus == nil {
		return nil, ErrNoEventStream
	}
	msgs, err := j.sinks.Bus.StreamRead(ctx, EventsStream, lastID, count)
	if err != nil {
		return nil, fmt.Errorf("journal: read events: %w", err)
	}
	events := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		var ev Event
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			j.logger.DebugContext(ctx, "journal: skipping malformed event", slog.String("id", m.ID))
			continue
		}
		ev.ID = m.ID
		events = append(events, ev)
	}
	return events, nil
}

func (j *JournalService) audit(ctx context.Context, event string, detail map[string]any) {
	if j.sinks.Audit == nil {
		return
	}
	detail["session"] = j.session
	if err := j.sinks.Audit.Log(ctx, event, detail); err != nil {
		j.logger.WarnContext(ctx, "journal: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (j *JournalService) publish(ctx context.Context, eventType string, at time.Time, data any) {
	if j.sinks.Bus == nil {
		return
	}
	rawData, err := json.Marshal(data)
	if err != nil {
		j.logger.WarnContext(ctx, "journal: encode event failed", slog.String("error", err.Error()))
		return
	}
	payload, err := json.Marshal(Event{Type: eventType, Session: j.session, At: at.UTC(), Data: rawData})
	if err != nil {
		j.logger.WarnContext(ctx, "journal: encode event failed", slog.String("error", err.Error()))
		return
	}
	if err := j.sinks.Bus.Publish(ctx, EventsChannel, payload); err != nil {
		j.logger.WarnContext(ctx, "journal: publish failed", slog.String("error", err.Error()))
	}
	if err := j.sinks.Bus.StreamAppend(ctx, EventsStream, payload); err != nil {
		j.logger.WarnContext(ctx, "journal: stream append failed", slog.String("error", err.Error()))
	}
}

func (j *JournalService) notify(ctx context.Context, event, title, message string) {
	if j.sinks.Notifier == nil {
		return
	}
	if err := j.sinks.Notifier.Notify(ctx, event, title, message); err != nil {
		j.logger.WarnContext(ctx, "journal: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
	"github.com/iambrands/ai-ml-trading-bot/internal/platform/polymarket"
)

const (
	writeWait         = 10 * time.Second
	pingPeriod        = 10 * time.Second
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// PriceFeed keeps a websocket subscription to the market channel for every
// token tracked in its PriceBook, reconnecting with capped exponential
// back-off.
type PriceFeed struct {
	url      string
	book     *PriceBook
	dialer   *websocket.Dialer
	minDelay time.Duration
	maxDelay time.Duration
	ping     time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a PriceFeed.
type Option func(*PriceFeed)

// WithBackoff overrides the reconnect delays.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(f *PriceFeed) {
		f.minDelay = initial
		f.maxDelay = maxDelay
	}
}

// WithPingPeriod overrides the keep-alive ping interval.
func WithPingPeriod(d time.Duration) Option {
	return func(f *PriceFeed) { f.ping = d }
}

// NewPriceFeed creates a feed for the market channel at url.
func NewPriceFeed(url string, book *PriceBook, logger *slog.Logger, opts ...Option) *PriceFeed {
	f := &PriceFeed{
		url:      url,
		book:     book,
		dialer:   &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		minDelay: reconnectDelay,
		maxDelay: maxReconnectDelay,
		ping:     pingPeriod,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "price_feed")),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run streams prices until ctx is cancelled. It idles while nothing is
// tracked.
func (f *PriceFeed) Run(ctx context.Context) error {
	delay := f.minDelay
	for {
		if err := f.waitForAssets(ctx); err != nil {
			return err
		}

		connected, err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = f.minDelay
		}
		f.logger.WarnContext(ctx, "price feed disconnected",
			slog.String("error", errString(err)),
			slog.Duration("retry_in", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, f.maxDelay)
	}
}

func (f *PriceFeed) waitForAssets(ctx context.Context) error {
	for len(f.book.Assets()) == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.book.Changed():
		}
	}
	return nil
}

// session runs one connection. connected reports whether the handshake and
// subscription succeeded.
func (f *PriceFeed) session(ctx context.Context) (connected bool, err error) {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()

	assets := f.book.Assets()
	if err := f.write(conn, polymarket.NewMarketSubscription(assets)); err != nil {
		return false, fmt.Errorf("feed: subscribe: %w", err)
	}
	sent := toSet(assets)
	f.logger.InfoContext(ctx, "price feed subscribed", slog.Int("assets", len(assets)))

	readErr := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			updates, err := polymarket.ParseMarketMessage(msg)
			if err != nil {
				f.logger.Debug("dropping frame", slog.String("error", err.Error()))
				continue
			}
			f.book.Apply(f.now(), updates...)
		}
	}()

	ticker := time.NewTicker(f.ping)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return true, ctx.Err()

		case err := <-readErr:
			return true, fmt.Errorf("feed: %w: %w", domain.ErrWSDisconnect, err)

		case <-f.book.Changed():
			current := toSet(f.book.Assets())
			added, removed := diff(sent, current), diff(current, sent)
			if len(added) > 0 {
				if err := f.write(conn, polymarket.WSUpdate{Assets: added, Operation: "subscribe"}); err != nil {
					return true, fmt.Errorf("feed: subscribe: %w", err)
				}
			}
			if len(removed) > 0 {
				if err := f.write(conn, polymarket.WSUpdate{Assets: removed, Operation: "unsubscribe"}); err != nil {
					return true, fmt.Errorf("feed: unsubscribe: %w", err)
				}
			}
			sent = current

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return true, fmt.Errorf("feed: ping: %w", err)
			}
		}
	}
}

func (f *PriceFeed) write(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

// diff returns the sorted members of b missing from a.
func diff(a, b map[string]struct{}) []string {
	var out []string
	for id := range b {
		if _, ok := a[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Package polymarket is the market data provider backed by the Polymarket
// Gamma REST API, plus the wire format of the CLOB market websocket.
package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

const (
	defaultGammaHost = "https://gamma-api.polymarket.com"
	resolvedPageSize = 500
	baseRetryWait    = 500 * time.Millisecond
)

// GammaConfig configures a GammaClient.
type GammaConfig struct {
	BaseURL           string
	RequestsPerSecond float64
	MaxRetries        int
}

// GammaClient reads markets from the Gamma API. Requests are rate limited
// and retried with exponential back-off on 429 and 5xx responses.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryWait  time.Duration
	logger     *slog.Logger
}

var (
	_ domain.MarketProvider       = (*GammaClient)(nil)
	_ domain.ResolvedMarketSource = (*GammaClient)(nil)
)

// NewGammaClient creates a Gamma API client.
func NewGammaClient(cfg GammaConfig, logger *slog.Logger) *GammaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGammaHost
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	return &GammaClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
		maxRetries: max(0, cfg.MaxRetries),
		retryWait:  baseRetryWait,
		logger:     logger.With(slog.String("component", "gamma")),
	}
}

// ActiveMarkets returns up to limit open binary markets, most traded first.
func (g *GammaClient) ActiveMarkets(ctx context.Context, limit int) ([]domain.Market, error) {
	params := url.Values{}
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("order", "volume24hr")
	params.Set("ascending", "false")
	params.Set("limit", strconv.Itoa(limit))

	var page []APIMarket
	if err := g.getJSON(ctx, "/markets?"+params.Encode(), &page); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: active markets: %w", err)
	}
	return g.convert(ctx, page), nil
}

// Market returns a single market by ID.
func (g *GammaClient) Market(ctx context.Context, id string) (domain.Market, error) {
	var m APIMarket
	if err := g.getJSON(ctx, "/markets/"+url.PathEscape(id), &m); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: market %s: %w", id, err)
	}
	dm, err := m.ToDomainMarket()
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: %w", err)
	}
	return dm, nil
}

// ResolvedMarkets pages through closed markets whose end date falls in
// [start, end] and returns those with a settled outcome.
func (g *GammaClient) ResolvedMarkets(ctx context.Context, start, end time.Time) ([]domain.Market, error) {
	var out []domain.Market
	for offset := 0; ; offset += resolvedPageSize {
		params := url.Values{}
		params.Set("closed", "true")
		params.Set("end_date_min", start.UTC().Format(time.RFC3339))
		params.Set("end_date_max", end.UTC().Format(time.RFC3339))
		params.Set("limit", strconv.Itoa(resolvedPageSize))
		params.Set("offset", strconv.Itoa(offset))

		var page []APIMarket
		if err := g.getJSON(ctx, "/markets?"+params.Encode(), &page); err != nil {
			return nil, fmt.Errorf("polymarket/gamma: resolved markets offset %d: %w", offset, err)
		}
		for _, m := range g.convert(ctx, page) {
			if !m.Resolved() {
				continue
			}
			if m.ResolutionDate.Before(start) || m.ResolutionDate.After(end) {
				continue
			}
			out = append(out, m)
		}
		if len(page) < resolvedPageSize {
			return out, nil
		}
	}
}

// convert maps a page to domain markets, dropping non-binary ones.
func (g *GammaClient) convert(ctx context.Context, page []APIMarket) []domain.Market {
	out := make([]domain.Market, 0, len(page))
	for i := range page {
		m, err := page[i].ToDomainMarket()
		if err != nil {
			g.logger.DebugContext(ctx, "skipping market", slog.String("error", err.Error()))
			continue
		}
		out = append(out, m)
	}
	return out
}

// retryableError marks responses worth another attempt.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func (g *GammaClient) getJSON(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			wait := g.retryWait << (attempt - 1)
			g.logger.WarnContext(ctx, "retrying gamma request",
				slog.String("path", path),
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		body, err := g.doGet(ctx, path)
		if err == nil {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}
		var re *retryableError
		if !errors.As(err, &re) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("after %d retries: %w", g.maxRetries, lastErr)
}

// doGet sends one rate-limited GET.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &retryableError{fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, &retryableError{fmt.Errorf("read response: %w", err)}
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, &retryableError{err}
		}
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := string(body)
	if len(bodyStr) > 256 {
		bodyStr = bodyStr[:256]
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
